package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/replyflow/pkg/eventbus"
	"github.com/dukex/replyflow/pkg/events"
	"github.com/dukex/replyflow/pkg/normalizer"
	"github.com/robfig/cron/v3"
)

// Ticker publishes a schedule tick at the start of every minute. Ticks of the
// same minute share an event id, so several tickers may run side by side.
type Ticker struct {
	publisher eventbus.EventPublisher
	cron      *cron.Cron
	logger    *slog.Logger
}

func NewTicker(publisher eventbus.EventPublisher, logger *slog.Logger) *Ticker {
	return &Ticker{
		publisher: publisher,
		logger:    logger.With("module", "schedule_ticker"),
	}
}

// Start runs the ticker until ctx is cancelled.
func (t *Ticker) Start(ctx context.Context) error {
	t.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger), cron.Recover(cron.DefaultLogger)))

	_, err := t.cron.AddFunc("* * * * *", func() {
		err := t.Tick(ctx, time.Now())
		if err != nil {
			t.logger.ErrorContext(ctx, "Failed to publish schedule tick", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to add tick job: %w", err)
	}

	t.logger.InfoContext(ctx, "Starting schedule ticker")
	t.cron.Start()

	<-ctx.Done()

	<-t.cron.Stop().Done()
	t.logger.InfoContext(ctx, "Schedule ticker stopped")

	return nil
}

// Tick publishes the tick of the minute containing at.
func (t *Ticker) Tick(ctx context.Context, at time.Time) error {
	event := normalizer.ScheduleTick(at)

	err := t.publisher.Publish(ctx, event.ID, events.ScheduleTick{
		BaseEvent: events.NewBaseEvent(events.ScheduleTickEvent, ""),
		At:        event.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("failed to publish tick: %w", err)
	}

	t.logger.DebugContext(ctx, "Schedule tick published", "minute", event.Timestamp)

	return nil
}
