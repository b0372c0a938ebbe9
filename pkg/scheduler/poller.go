package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/replyflow/pkg/eventbus"
	"github.com/dukex/replyflow/pkg/events"
	"github.com/dukex/replyflow/pkg/models"
	"github.com/dukex/replyflow/pkg/persistence"
)

const (
	DefaultPollInterval = time.Second
	DefaultBatchSize    = 100
)

var ErrUnknownTaskType = errors.New("unknown task type")

// Poller hands due tasks to the workers. A task is marked dispatched only
// after its event was published, so a crash in between republishes it and
// the engine drops the duplicate.
type Poller struct {
	tasks     persistence.TaskRepository
	publisher eventbus.EventPublisher
	interval  time.Duration
	batch     int
	now       func() time.Time
	logger    *slog.Logger
}

func NewPoller(tasks persistence.TaskRepository, publisher eventbus.EventPublisher, logger *slog.Logger) *Poller {
	return &Poller{
		tasks:     tasks,
		publisher: publisher,
		interval:  DefaultPollInterval,
		batch:     DefaultBatchSize,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger.With("module", "task_poller"),
	}
}

func (p *Poller) WithInterval(interval time.Duration) *Poller {
	if interval > 0 {
		p.interval = interval
	}

	return p
}

func (p *Poller) WithClock(now func() time.Time) *Poller {
	p.now = now

	return p
}

// Run polls until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.InfoContext(ctx, "Starting task poller", "interval", p.interval)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		_, err := p.Poll(ctx)
		if err != nil {
			p.logger.ErrorContext(ctx, "Task poll failed", "error", err)
		}

		select {
		case <-ctx.Done():
			p.logger.InfoContext(ctx, "Task poller stopped")

			return nil
		case <-ticker.C:
		}
	}
}

// Poll publishes every due task once and returns how many were dispatched.
func (p *Poller) Poll(ctx context.Context) (int, error) {
	now := p.now()

	due, err := p.tasks.Due(ctx, now, p.batch)
	if err != nil {
		return 0, fmt.Errorf("failed to load due tasks: %w", err)
	}

	dispatched := 0

	var errs []error

	for _, task := range due {
		err := p.dispatch(ctx, task, now)
		if err != nil {
			errs = append(errs, fmt.Errorf("task %s: %w", task.ID, err))

			continue
		}

		dispatched++
	}

	return dispatched, errors.Join(errs...)
}

func (p *Poller) dispatch(ctx context.Context, task *models.Task, now time.Time) error {
	event, err := taskEvent(task)
	if err != nil {
		return err
	}

	err = p.publisher.Publish(ctx, task.ExecutionID, event)
	if err != nil {
		return fmt.Errorf("failed to publish task: %w", err)
	}

	err = p.tasks.MarkDispatched(ctx, task.ID, now)
	if err != nil {
		return fmt.Errorf("failed to mark task dispatched: %w", err)
	}

	p.logger.DebugContext(ctx, "Task dispatched",
		"task_id", task.ID,
		"task_type", task.Type,
		"execution_id", task.ExecutionID,
		"node_id", task.NodeID,
	)

	return nil
}

func taskEvent(task *models.Task) (eventbus.Event, error) {
	switch task.Type {
	case models.TaskResumeExecution:
		return events.ExecutionResume{
			BaseEvent:   events.NewBaseEvent(events.ExecutionResumeEvent, ""),
			TaskID:      task.ID,
			ExecutionID: task.ExecutionID,
			NodeID:      task.NodeID,
		}, nil
	case models.TaskWaitingTimeout:
		raw, _ := task.Payload["entered_at"].(string)

		enteredAt, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("waiting timeout without entered_at: %w", err)
		}

		return events.WaitingTimeout{
			BaseEvent:   events.NewBaseEvent(events.WaitingTimeoutEvent, ""),
			TaskID:      task.ID,
			ExecutionID: task.ExecutionID,
			NodeID:      task.NodeID,
			EnteredAt:   enteredAt,
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTaskType, task.Type)
	}
}
