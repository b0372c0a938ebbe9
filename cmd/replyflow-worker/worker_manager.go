package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukex/replyflow/pkg/eventbus"
	"github.com/dukex/replyflow/pkg/events"
	"github.com/dukex/replyflow/pkg/models"
	"github.com/dukex/replyflow/pkg/normalizer"
	"github.com/dukex/replyflow/pkg/workflow"
)

// Engine is the part of the workflow engine driven by bus tasks.
type Engine interface {
	HandleEvent(ctx context.Context, event *models.Event) (workflow.Activation, error)
	Resume(ctx context.Context, executionID, nodeID string) error
	HandleTimeout(ctx context.Context, executionID, nodeID string, enteredAt time.Time) error
}

// Refresher keeps the trigger registry in sync with stored workflows.
type Refresher interface {
	Run(ctx context.Context, interval time.Duration)
}

type WorkerManager struct {
	id              string
	logger          *slog.Logger
	engine          Engine
	registry        Refresher
	refreshInterval time.Duration
	subscriber      eventbus.EventSubscriber
	background      []func(ctx context.Context) error
}

func NewWorkerManager(
	id string,
	engine Engine,
	registry Refresher,
	refreshInterval time.Duration,
	subscriber eventbus.EventSubscriber,
	logger *slog.Logger,
) *WorkerManager {
	return &WorkerManager{
		id:              id,
		logger:          logger.With("module", "replyflow-worker", "worker_id", id),
		engine:          engine,
		registry:        registry,
		refreshInterval: refreshInterval,
		subscriber:      subscriber,
	}
}

// WithBackground runs fn alongside the worker until shutdown, e.g. an
// in-process scheduler.
func (w *WorkerManager) WithBackground(fn func(ctx context.Context) error) *WorkerManager {
	w.background = append(w.background, fn)

	return w
}

func (w *WorkerManager) Start(ctx context.Context) error {
	w.logger.InfoContext(ctx, "Starting worker manager")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	err := w.register()
	if err != nil {
		return err
	}

	err = w.subscriber.Subscribe(ctx)
	if err != nil {
		w.logger.ErrorContext(ctx, "Failed to subscribe to event bus", "error", err)

		return err
	}

	go w.registry.Run(ctx, w.refreshInterval)

	for _, fn := range w.background {
		go func() {
			err := fn(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				w.logger.ErrorContext(ctx, "Background task stopped", "error", err)
			}
		}()
	}

	w.logger.InfoContext(ctx, "Worker started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-sigChan:
	case <-ctx.Done():
	}

	w.logger.InfoContext(ctx, "Shutting down worker...")

	return nil
}

func (w *WorkerManager) register() error {
	handlers := map[events.EventType]eventbus.EventHandler{
		events.EventReceivedEvent:   w.handleEventReceived,
		events.ExecutionResumeEvent: w.handleExecutionResume,
		events.WaitingTimeoutEvent:  w.handleWaitingTimeout,
		events.ScheduleTickEvent:    w.handleScheduleTick,
	}

	for eventType, handler := range handlers {
		err := w.subscriber.Handle(eventType, handler)
		if err != nil {
			return err
		}
	}

	return nil
}

func (w *WorkerManager) handleEventReceived(ctx context.Context, event any) error {
	received, ok := event.(*events.EventReceived)
	if !ok || received.Event == nil {
		w.logger.ErrorContext(ctx, "Invalid event type for EventReceived")

		return nil
	}

	return w.activate(ctx, received.Event)
}

func (w *WorkerManager) handleScheduleTick(ctx context.Context, event any) error {
	tick, ok := event.(*events.ScheduleTick)
	if !ok {
		w.logger.ErrorContext(ctx, "Invalid event type for ScheduleTick")

		return nil
	}

	return w.activate(ctx, normalizer.ScheduleTick(tick.At))
}

func (w *WorkerManager) activate(ctx context.Context, event *models.Event) error {
	logger := w.logger.With("event_id", event.ID, "event_type", event.Type)

	activation, err := w.engine.HandleEvent(ctx, event)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to handle event", "error", err)

		return err
	}

	switch {
	case activation.ReplyTo != "":
		logger.InfoContext(ctx, "Event answered a waiting execution", "execution_id", activation.ReplyTo)
	case len(activation.Started) > 0:
		logger.InfoContext(ctx, "Event started executions", "executions", activation.Started, "duplicates", activation.Duplicates)
	default:
		logger.DebugContext(ctx, "Event matched no workflow", "duplicates", activation.Duplicates)
	}

	return nil
}

func (w *WorkerManager) handleExecutionResume(ctx context.Context, event any) error {
	resume, ok := event.(*events.ExecutionResume)
	if !ok {
		w.logger.ErrorContext(ctx, "Invalid event type for ExecutionResume")

		return nil
	}

	err := w.engine.Resume(ctx, resume.ExecutionID, resume.NodeID)
	if err != nil {
		w.logger.ErrorContext(ctx, "Failed to resume execution",
			"execution_id", resume.ExecutionID,
			"node_id", resume.NodeID,
			"task_id", resume.TaskID,
			"error", err,
		)

		return err
	}

	return nil
}

func (w *WorkerManager) handleWaitingTimeout(ctx context.Context, event any) error {
	timeout, ok := event.(*events.WaitingTimeout)
	if !ok {
		w.logger.ErrorContext(ctx, "Invalid event type for WaitingTimeout")

		return nil
	}

	err := w.engine.HandleTimeout(ctx, timeout.ExecutionID, timeout.NodeID, timeout.EnteredAt)
	if err != nil {
		w.logger.ErrorContext(ctx, "Failed to expire waiting node",
			"execution_id", timeout.ExecutionID,
			"node_id", timeout.NodeID,
			"task_id", timeout.TaskID,
			"error", err,
		)

		return err
	}

	return nil
}
