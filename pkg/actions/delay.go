package actions

import (
	"context"
	"fmt"
	"time"

	"github.com/dukex/replyflow/pkg/models"
	"github.com/google/uuid"
)

type delayConfig struct {
	Amount int             `json:"amount"`
	Unit   models.TimeUnit `json:"unit"`
}

// ResumeDedupeKey identifies the resumption task of a delay node.
func ResumeDedupeKey(executionID, nodeID string) string {
	return "resume:" + executionID + ":" + nodeID
}

type delay struct {
	deps Dependencies
}

func (a *delay) Type() models.ActionType { return models.ActionDelay }
func (a *delay) Name() string            { return "Delay" }

func (a *delay) Description() string {
	return "Pauses the execution and resumes it after the interval."
}

func (a *delay) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"amount": map[string]any{
				"type":    "integer",
				"minimum": 0,
			},
			"unit": map[string]any{
				"type": "string",
				"enum": []string{
					string(models.TimeUnitSeconds),
					string(models.TimeUnitMinutes),
					string(models.TimeUnitHours),
					string(models.TimeUnitDays),
				},
			},
		},
		"required":             []string{"amount", "unit"},
		"additionalProperties": false,
	}
}

func (a *delay) Execute(ctx context.Context, req Request) (Result, error) {
	if a.deps.Scheduler == nil {
		return Result{}, ErrNoScheduler
	}

	var config delayConfig

	err := decode(req.NodeID, req.Action.Config, &config)
	if err != nil {
		return Result{}, err
	}

	interval, err := config.Unit.Duration(config.Amount)
	if err != nil {
		problem := &models.ConfigurationError{WorkflowID: req.Execution.WorkflowID}
		problem.Add(req.NodeID, "config", "%v", err)

		return Result{}, problem
	}

	resumeAt := req.Now.Add(interval)

	task := &models.Task{
		ID:          uuid.NewString(),
		Type:        models.TaskResumeExecution,
		ExecutionID: req.Execution.ID,
		NodeID:      req.NodeID,
		DedupeKey:   ResumeDedupeKey(req.Execution.ID, req.NodeID),
		CreatedAt:   req.Now,
	}

	created, err := a.deps.Scheduler.Enqueue(ctx, task, resumeAt)
	if err != nil {
		return Result{}, fmt.Errorf("failed to schedule resumption: %w", err)
	}

	if !created {
		a.deps.Logger.DebugContext(ctx, "Resumption already scheduled", "execution_id", req.Execution.ID, "node_id", req.NodeID)
	}

	return Result{
		Outcome:  OutcomeSuspend,
		ResumeAt: &resumeAt,
		Output: map[string]any{
			"resume_at": resumeAt.Format(time.RFC3339),
		},
	}, nil
}
