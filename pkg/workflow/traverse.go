package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/dukex/replyflow/pkg/actions"
	"github.com/dukex/replyflow/pkg/eventbus"
	"github.com/dukex/replyflow/pkg/events"
	"github.com/dukex/replyflow/pkg/execctx"
	"github.com/dukex/replyflow/pkg/models"
	"github.com/dukex/replyflow/pkg/otelhelper"
	"github.com/dukex/replyflow/pkg/persistence"
	"go.opentelemetry.io/otel/attribute"
)

const restoreAutoReplyPath = execctx.KeyExecution + ".restore_auto_reply"

// outcome is how a node visit ended.
type outcome struct {
	label models.ConnectionType
	// value is the boolean of a condition node.
	value *bool
	// fallback is tried when no connection carries label.
	fallback models.ConnectionType
	// park means the execution is now WAITING or SCHEDULED.
	park bool
	// err fails the whole execution.
	err error
}

// withExecution loads the execution under its lock and hands it to fn.
// Terminal executions are left alone.
func (e *Engine) withExecution(ctx context.Context, executionID string, fn func(context.Context, *session, *models.WorkflowExecution) error) error {
	s, err := e.acquire(ctx, executionID)
	if err != nil {
		return err
	}
	defer e.release(ctx, s)

	execution, err := e.deps.Executions.GetByID(ctx, executionID)
	if err != nil {
		return fmt.Errorf("failed to load execution %s: %w", executionID, err)
	}

	if execution.IsTerminal() {
		e.logger.DebugContext(ctx, "Execution already finished", "execution_id", executionID, "status", execution.Status)

		return nil
	}

	return fn(ctx, s, execution)
}

// run steps through the graph from CurrentNodeID until the execution parks
// or ends. Returned errors are infrastructure failures; the task should be
// redelivered and will pick up from the last checkpoint.
func (e *Engine) run(ctx context.Context, s *session, execution *models.WorkflowExecution) error {
	for execution.Status == models.ExecutionRunning {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := e.refresh(ctx, s); err != nil {
			return err
		}

		if err := e.step(ctx, execution); err != nil {
			return err
		}
	}

	return nil
}

func (e *Engine) step(ctx context.Context, execution *models.WorkflowExecution) error {
	logger := e.logger.With(
		"execution_id", execution.ID,
		"workflow_id", execution.WorkflowID,
		"node_id", execution.CurrentNodeID,
	)

	workflow, err := e.deps.Workflows.GetByID(ctx, execution.WorkflowID)
	if errors.Is(err, persistence.ErrWorkflowNotFound) {
		return e.fail(ctx, execution, execution.CurrentNodeID, err)
	}

	if err != nil {
		return fmt.Errorf("failed to load workflow %s: %w", execution.WorkflowID, err)
	}

	if !workflow.IsActive() {
		logger.InfoContext(ctx, "Workflow deactivated, halting execution", "status", workflow.Status)

		return e.fail(ctx, execution, execution.CurrentNodeID, ErrWorkflowInactive)
	}

	node, ok := workflow.NodeByID(execution.CurrentNodeID)
	if !ok {
		return e.fail(ctx, execution, execution.CurrentNodeID, ErrNodeNotFound)
	}

	if !node.IsActive {
		logger.InfoContext(ctx, "Node deactivated, halting execution")

		return e.fail(ctx, execution, node.ID, ErrNodeInactive)
	}

	if execution.Steps >= e.config.MaxSteps {
		logger.WarnContext(ctx, "Step budget exceeded", "steps", execution.Steps, "max_steps", e.config.MaxSteps)

		return e.fail(ctx, execution, node.ID, fmt.Errorf("%w: %d steps", ErrStepBudgetExceeded, execution.Steps))
	}

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "workflow.step",
		attribute.String(otelhelper.WorkflowIDKey, workflow.ID),
		attribute.String(otelhelper.ExecutionIDKey, execution.ID),
		attribute.String(otelhelper.NodeIDKey, node.ID),
		attribute.String(otelhelper.NodeTypeKey, string(node.Type)),
	)
	defer span.End()

	out := e.visit(ctx, execution, node, logger)
	if out.err != nil {
		otelhelper.SetError(span, out.err)

		return e.fail(ctx, execution, node.ID, out.err)
	}

	execution.Steps++

	if out.park {
		return e.park(ctx, execution)
	}

	return e.follow(ctx, workflow, execution, node.ID, out)
}

// visit runs one node through the component that owns its type.
func (e *Engine) visit(ctx context.Context, execution *models.WorkflowExecution, node *models.WorkflowNode, logger *slog.Logger) outcome {
	config, err := node.Config()
	if err != nil {
		problem := &models.ConfigurationError{WorkflowID: execution.WorkflowID}
		problem.Add(node.ID, "config", "%v", err)

		return outcome{err: problem}
	}

	switch cfg := config.(type) {
	case *models.WhenConfig:
		execctx.SetNodeResult(execution.Context, node.ID, map[string]any{"trigger_event_id": execution.TriggerEventID})

		return outcome{label: models.ConnectionSuccess}
	case *models.ConditionConfig:
		return e.evaluate(ctx, execution, node.ID, cfg)
	case *models.ActionConfig:
		return e.act(ctx, execution, node.ID, cfg, logger)
	case *models.WaitingConfig:
		return e.enterWait(ctx, execution, node.ID, cfg, logger)
	default:
		return outcome{err: fmt.Errorf("node %s: unsupported configuration %T", node.ID, config)}
	}
}

func (e *Engine) evaluate(ctx context.Context, execution *models.WorkflowExecution, nodeID string, config *models.ConditionConfig) outcome {
	result, err := e.deps.Conditions.Evaluate(ctx, nodeID, config, execution.Context)
	if err != nil {
		return outcome{err: err}
	}

	outcomes := make([]any, 0, len(result.Outcomes))
	for _, value := range result.Outcomes {
		outcomes = append(outcomes, value)
	}

	execctx.SetNodeResult(execution.Context, nodeID, map[string]any{
		"value":    result.Value,
		"outcomes": outcomes,
		"errors":   len(result.Errors),
	})

	label := models.ConnectionFailure
	if result.Value {
		label = models.ConnectionSuccess
	}

	return outcome{label: label, value: &result.Value}
}

func (e *Engine) act(ctx context.Context, execution *models.WorkflowExecution, nodeID string, config *models.ActionConfig, logger *slog.Logger) outcome {
	result := e.deps.Actions.Dispatch(ctx, actions.Request{
		Execution: execution,
		NodeID:    nodeID,
		Action:    config,
		Context:   execution.Context,
		Now:       e.now(),
	})

	execctx.Merge(execution.Context, result.Updates)

	output := maps.Clone(result.Output)
	if output == nil {
		output = map[string]any{}
	}

	output["outcome"] = string(result.Outcome)
	output["at"] = e.now().Format(time.RFC3339Nano)
	execctx.SetNodeResult(execution.Context, nodeID, output)

	if result.RestoreAutoReply {
		execctx.Set(execution.Context, restoreAutoReplyPath, true)
	}

	switch result.Outcome {
	case actions.OutcomeSuspend:
		if result.ResumeAt == nil {
			return outcome{err: fmt.Errorf("node %s: action suspended without a resume time", nodeID)}
		}

		err := execution.Transition(models.ExecutionScheduled, e.now())
		if err != nil {
			return outcome{err: err}
		}

		execution.CurrentNodeID = nodeID
		execution.ResumeAt = result.ResumeAt

		return outcome{park: true}
	case actions.OutcomeFailure:
		if models.IsConfigurationError(result.Err) {
			return outcome{err: result.Err}
		}

		if config.Required {
			return outcome{err: fmt.Errorf("required action %s failed: %w", config.ActionType, result.Err)}
		}

		logger.InfoContext(ctx, "Optional action failed, following failure connection", "error", result.Err)

		return outcome{label: models.ConnectionFailure}
	default:
		return outcome{label: models.ConnectionSuccess}
	}
}

func (e *Engine) enterWait(ctx context.Context, execution *models.WorkflowExecution, nodeID string, config *models.WaitingConfig, logger *slog.Logger) outcome {
	err := e.deps.Waiting.Enter(ctx, execution, nodeID, config, e.now())
	if err == nil {
		return outcome{park: true}
	}

	if models.IsConfigurationError(err) {
		return outcome{err: err}
	}

	logger.WarnContext(ctx, "Failed to enter waiting node, following failure connection", "error", err)
	execctx.SetNodeResult(execution.Context, nodeID, map[string]any{"error": err.Error()})

	return outcome{label: models.ConnectionFailure}
}

// next picks the connection to follow. Condition-valued edges win for
// condition nodes; the fallback label is tried after the outcome label.
func next(workflow *models.Workflow, nodeID string, out outcome) (string, bool) {
	connections := workflow.OutgoingConnections(nodeID)

	if out.value != nil {
		for _, conn := range connections {
			if conn.Condition != nil && *conn.Condition == *out.value {
				return conn.TargetNodeID, true
			}
		}
	}

	labels := []models.ConnectionType{out.label}
	if out.fallback != "" {
		labels = append(labels, out.fallback)
	}

	for _, label := range labels {
		for _, conn := range connections {
			if conn.Condition == nil && conn.ConnectionType == label {
				return conn.TargetNodeID, true
			}
		}
	}

	return "", false
}

// follow moves to the next node and checkpoints, or ends the execution when
// no connection matches.
func (e *Engine) follow(ctx context.Context, workflow *models.Workflow, execution *models.WorkflowExecution, nodeID string, out outcome) error {
	target, ok := next(workflow, nodeID, out)
	if !ok {
		if out.label == models.ConnectionTimeout && e.config.ExpiredPolicy == ExpiredFail {
			return e.fail(ctx, execution, nodeID, ErrWaitExpired)
		}

		return e.complete(ctx, execution)
	}

	execution.CurrentNodeID = target
	execution.UpdatedAt = e.now()

	return e.checkpoint(ctx, execution)
}

func (e *Engine) checkpoint(ctx context.Context, execution *models.WorkflowExecution) error {
	err := e.deps.Executions.Save(ctx, execution)
	if err != nil {
		return fmt.Errorf("failed to checkpoint execution %s: %w", execution.ID, err)
	}

	return nil
}

// park checkpoints an execution that stopped at a delay or a waiting node.
func (e *Engine) park(ctx context.Context, execution *models.WorkflowExecution) error {
	err := e.checkpoint(ctx, execution)
	if err != nil {
		return err
	}

	logger := e.logger.With("execution_id", execution.ID, "node_id", execution.CurrentNodeID)

	switch execution.Status {
	case models.ExecutionWaiting:
		logger.InfoContext(ctx, "Execution waiting for reply")

		e.publish(ctx, execution, events.ExecutionWaiting{
			BaseEvent:   events.NewBaseEvent(events.ExecutionWaitingEvent, execution.WorkflowID),
			ExecutionID: execution.ID,
			NodeID:      execution.CurrentNodeID,
			Deadline:    execution.Waiting.Deadline,
		})
	case models.ExecutionScheduled:
		logger.InfoContext(ctx, "Execution scheduled", "resume_at", execution.ResumeAt)

		e.publish(ctx, execution, events.ExecutionScheduled{
			BaseEvent:   events.NewBaseEvent(events.ExecutionScheduledEvent, execution.WorkflowID),
			ExecutionID: execution.ID,
			NodeID:      execution.CurrentNodeID,
			ResumeAt:    *execution.ResumeAt,
		})
	}

	return nil
}

func (e *Engine) complete(ctx context.Context, execution *models.WorkflowExecution) error {
	now := e.now()

	execctx.ClearTemp(execution.Context)

	err := execution.Transition(models.ExecutionCompleted, now)
	if err != nil {
		return err
	}

	err = e.checkpoint(ctx, execution)
	if err != nil {
		return err
	}

	e.restoreAutoReply(ctx, execution)

	e.logger.InfoContext(ctx, "Execution completed",
		"execution_id", execution.ID,
		"workflow_id", execution.WorkflowID,
		"steps", execution.Steps,
	)

	e.publish(ctx, execution, events.ExecutionCompleted{
		BaseEvent:   events.NewBaseEvent(events.ExecutionCompletedEvent, execution.WorkflowID),
		ExecutionID: execution.ID,
		Steps:       execution.Steps,
		DurationMs:  now.Sub(execution.CreatedAt).Milliseconds(),
	})

	return nil
}

// fail marks the execution FAILED. Side effects already applied stay applied.
func (e *Engine) fail(ctx context.Context, execution *models.WorkflowExecution, nodeID string, cause error) error {
	now := e.now()

	execctx.ClearTemp(execution.Context)

	err := execution.Fail(cause.Error(), now)
	if err != nil {
		return err
	}

	err = e.checkpoint(ctx, execution)
	if err != nil {
		return err
	}

	e.restoreAutoReply(ctx, execution)

	e.logger.WarnContext(ctx, "Execution failed",
		"execution_id", execution.ID,
		"workflow_id", execution.WorkflowID,
		"node_id", nodeID,
		"error", cause,
	)

	e.publish(ctx, execution, events.ExecutionFailed{
		BaseEvent:   events.NewBaseEvent(events.ExecutionFailedEvent, execution.WorkflowID),
		ExecutionID: execution.ID,
		NodeID:      nodeID,
		Error:       cause.Error(),
		Steps:       execution.Steps,
		DurationMs:  now.Sub(execution.CreatedAt).Milliseconds(),
	})

	return nil
}

func (e *Engine) restoreAutoReply(ctx context.Context, execution *models.WorkflowExecution) {
	if e.deps.Coordinator == nil {
		return
	}

	value, _ := execctx.Lookup(execution.Context, restoreAutoReplyPath)
	if restore, _ := value.(bool); !restore {
		return
	}

	err := e.deps.Coordinator.Restore(ctx, execution.ConversationID)
	if err != nil {
		e.logger.WarnContext(ctx, "Failed to restore auto reply", "execution_id", execution.ID, "error", err)
	}
}

func (e *Engine) publish(ctx context.Context, execution *models.WorkflowExecution, event eventbus.Event) {
	if e.deps.Publisher == nil {
		return
	}

	err := e.deps.Publisher.Publish(ctx, execution.ID, event)
	if err != nil {
		e.logger.WarnContext(ctx, "Failed to publish lifecycle event",
			"execution_id", execution.ID,
			"event_type", event.GetType(),
			"error", err,
		)
	}
}
