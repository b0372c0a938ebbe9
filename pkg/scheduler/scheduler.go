// Package scheduler is the durable delayed-task queue of the engine. Delays and
// waiting timeouts are stored as tasks; a poller publishes due tasks onto the
// event bus and a ticker publishes one schedule tick per minute.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/replyflow/pkg/models"
	"github.com/dukex/replyflow/pkg/persistence"
	"github.com/go-playground/validator/v10"
)

// Scheduler stores tasks in a TaskRepository.
type Scheduler struct {
	tasks    persistence.TaskRepository
	validate *validator.Validate
	logger   *slog.Logger
}

func New(tasks persistence.TaskRepository, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		tasks:    tasks,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger.With("module", "scheduler"),
	}
}

// Enqueue stores task to run at runAt. It reports false when a pending task
// already holds the same dedupe key.
func (s *Scheduler) Enqueue(ctx context.Context, task *models.Task, runAt time.Time) (bool, error) {
	task.RunAt = runAt.UTC()

	err := s.validate.Struct(task)
	if err != nil {
		return false, fmt.Errorf("invalid task: %w", err)
	}

	created, err := s.tasks.Enqueue(ctx, task)
	if err != nil {
		return false, fmt.Errorf("failed to enqueue task: %w", err)
	}

	if !created {
		s.logger.DebugContext(ctx, "Task already pending", "dedupe_key", task.DedupeKey, "task_type", task.Type)

		return false, nil
	}

	s.logger.DebugContext(ctx, "Task scheduled",
		"task_id", task.ID,
		"task_type", task.Type,
		"execution_id", task.ExecutionID,
		"run_at", task.RunAt,
	)

	return true, nil
}
