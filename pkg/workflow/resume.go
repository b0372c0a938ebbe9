package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dukex/replyflow/pkg/models"
	"github.com/dukex/replyflow/pkg/otelhelper"
	"github.com/dukex/replyflow/pkg/persistence"
	"github.com/dukex/replyflow/pkg/waiting"
	"go.opentelemetry.io/otel/attribute"
)

// Resume continues an execution parked by a delay on nodeID. Stale or
// repeated resume tasks are no-ops.
func (e *Engine) Resume(ctx context.Context, executionID, nodeID string) error {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "workflow.resume",
		attribute.String(otelhelper.ExecutionIDKey, executionID),
		attribute.String(otelhelper.NodeIDKey, nodeID),
	)
	defer span.End()

	err := e.withExecution(ctx, executionID, func(ctx context.Context, s *session, execution *models.WorkflowExecution) error {
		switch {
		case execution.Status == models.ExecutionRunning:
			// Interrupted after a previous resume; continue from the checkpoint.
			return e.run(ctx, s, execution)
		case execution.Status != models.ExecutionScheduled || execution.CurrentNodeID != nodeID:
			e.logger.DebugContext(ctx, "Stale resume task",
				"execution_id", executionID,
				"node_id", nodeID,
				"status", execution.Status,
			)

			return nil
		}

		workflow, err := e.loadWorkflow(ctx, execution)
		if err != nil || workflow == nil {
			return err
		}

		err = execution.Transition(models.ExecutionRunning, e.now())
		if err != nil {
			return err
		}

		execution.ResumeAt = nil

		e.logger.InfoContext(ctx, "Execution resumed", "execution_id", executionID, "node_id", nodeID)

		err = e.follow(ctx, workflow, execution, nodeID, outcome{label: models.ConnectionSuccess})
		if err != nil {
			return err
		}

		return e.run(ctx, s, execution)
	})
	if err != nil {
		otelhelper.SetError(span, err)
	}

	return err
}

// HandleTimeout expires the wait on nodeID entered at enteredAt.
func (e *Engine) HandleTimeout(ctx context.Context, executionID, nodeID string, enteredAt time.Time) error {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "workflow.waiting_timeout",
		attribute.String(otelhelper.ExecutionIDKey, executionID),
		attribute.String(otelhelper.NodeIDKey, nodeID),
	)
	defer span.End()

	err := e.withExecution(ctx, executionID, func(ctx context.Context, s *session, execution *models.WorkflowExecution) error {
		resolution, err := e.deps.Waiting.HandleTimeout(ctx, execution, nodeID, enteredAt)
		if errors.Is(err, waiting.ErrStaleTimeout) {
			e.logger.DebugContext(ctx, "Stale waiting timeout", "execution_id", executionID, "node_id", nodeID)

			return nil
		}

		if err != nil {
			return err
		}

		return e.leaveWait(ctx, s, execution, nodeID, resolution)
	})
	if err != nil {
		otelhelper.SetError(span, err)
	}

	return err
}

// deliverReply feeds a message to the waiting node of an execution.
func (e *Engine) deliverReply(ctx context.Context, executionID string, event *models.Event) error {
	return e.withExecution(ctx, executionID, func(ctx context.Context, s *session, execution *models.WorkflowExecution) error {
		if execution.Status != models.ExecutionWaiting || execution.Waiting == nil {
			e.logger.DebugContext(ctx, "Execution no longer waiting, reply ignored",
				"execution_id", executionID,
				"event_id", event.ID,
			)

			return nil
		}

		nodeID := execution.Waiting.NodeID

		workflow, err := e.loadWorkflow(ctx, execution)
		if err != nil || workflow == nil {
			return err
		}

		node, ok := workflow.NodeByID(nodeID)
		if !ok || node.Waiting == nil {
			return e.fail(ctx, execution, nodeID, ErrNodeNotFound)
		}

		if !node.IsActive {
			return e.fail(ctx, execution, nodeID, ErrNodeInactive)
		}

		resolution, err := e.deps.Waiting.HandleReply(ctx, execution, node.Waiting, event, e.now())
		if errors.Is(err, waiting.ErrNotWaiting) {
			return nil
		}

		if models.IsConfigurationError(err) {
			return e.fail(ctx, execution, nodeID, err)
		}

		if err != nil {
			return fmt.Errorf("failed to handle reply: %w", err)
		}

		if !resolution.Done() {
			execution.UpdatedAt = e.now()

			return e.checkpoint(ctx, execution)
		}

		return e.leaveWait(ctx, s, execution, nodeID, resolution)
	})
}

// leaveWait moves a resolved wait down the connection named by its outcome
// and keeps traversing.
func (e *Engine) leaveWait(ctx context.Context, s *session, execution *models.WorkflowExecution, nodeID string, resolution waiting.Resolution) error {
	workflow, err := e.loadWorkflow(ctx, execution)
	if err != nil || workflow == nil {
		return err
	}

	err = execution.Transition(models.ExecutionRunning, e.now())
	if err != nil {
		return err
	}

	execution.Waiting = nil

	e.logger.InfoContext(ctx, "Wait resolved",
		"execution_id", execution.ID,
		"node_id", nodeID,
		"state", resolution.State,
		"outcome", resolution.Outcome,
	)

	err = e.follow(ctx, workflow, execution, nodeID, outcome{label: resolution.Outcome, fallback: resolution.Fallback})
	if err != nil {
		return err
	}

	return e.run(ctx, s, execution)
}

// loadWorkflow returns the execution's workflow, or nil after failing the
// execution when the workflow is gone or no longer active.
func (e *Engine) loadWorkflow(ctx context.Context, execution *models.WorkflowExecution) (*models.Workflow, error) {
	workflow, err := e.deps.Workflows.GetByID(ctx, execution.WorkflowID)
	if errors.Is(err, persistence.ErrWorkflowNotFound) {
		return nil, e.fail(ctx, execution, execution.CurrentNodeID, err)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to load workflow %s: %w", execution.WorkflowID, err)
	}

	if !workflow.IsActive() {
		return nil, e.fail(ctx, execution, execution.CurrentNodeID, ErrWorkflowInactive)
	}

	return workflow, nil
}
