package services

import (
	"context"
	"fmt"

	"github.com/dukex/replyflow/pkg/models"
)

// Activate makes a draft or paused workflow eligible for trigger matching.
// The whole graph is validated first.
func (w *Workflow) Activate(ctx context.Context, workflowID string) (*models.Workflow, error) {
	return w.transition(ctx, "Activate", workflowID, models.WorkflowStatusActive,
		models.WorkflowStatusDraft, models.WorkflowStatusPaused)
}

// Pause stops matching new events. Running executions fail at their next step
// and parked ones fail when resumed.
func (w *Workflow) Pause(ctx context.Context, workflowID string) (*models.Workflow, error) {
	return w.transition(ctx, "Pause", workflowID, models.WorkflowStatusPaused, models.WorkflowStatusActive)
}

func (w *Workflow) transition(ctx context.Context, op, workflowID string, to models.WorkflowStatus, from ...models.WorkflowStatus) (*models.Workflow, error) {
	workflow, err := w.FetchByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if workflow.Status == to {
		return workflow, nil
	}

	allowed := false

	for _, status := range from {
		if workflow.Status == status {
			allowed = true

			break
		}
	}

	if !allowed {
		return nil, &ServiceError{
			Op:      op,
			Code:    "INVALID_TRANSITION",
			Message: fmt.Sprintf("cannot move workflow from %s to %s", workflow.Status, to),
			Err:     ErrInvalidTransition,
		}
	}

	workflow.Status = to
	workflow.UpdatedAt = w.now()

	err = w.save(ctx, op, workflow)
	if err != nil {
		return nil, err
	}

	return workflow, nil
}
