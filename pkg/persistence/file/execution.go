package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"

	"github.com/dukex/replyflow/pkg/models"
	"github.com/dukex/replyflow/pkg/persistence"
)

// ExecutionRepository handles execution-related file operations.
type ExecutionRepository struct {
	dir string
}

// NewExecutionRepository creates a new execution repository.
func NewExecutionRepository(root string) *ExecutionRepository {
	return &ExecutionRepository{dir: filepath.Join(root, "executions")}
}

// Create stores a new execution. Creation is exclusive on the execution ID.
func (er *ExecutionRepository) Create(_ context.Context, execution *models.WorkflowExecution) error {
	err := validateID(execution.ID)
	if err != nil {
		return persistence.NewExecutionError("Create", execution.ID, err)
	}

	created, err := createJSON(er.dir, execution.ID, execution)
	if err != nil {
		return persistence.NewExecutionError("Create", execution.ID, err)
	}

	if !created {
		return persistence.NewExecutionError("Create", execution.ID, persistence.ErrExecutionAlreadyExists)
	}

	return nil
}

// Save overwrites the execution checkpoint.
func (er *ExecutionRepository) Save(_ context.Context, execution *models.WorkflowExecution) error {
	err := validateID(execution.ID)
	if err != nil {
		return persistence.NewExecutionError("Save", execution.ID, err)
	}

	return writeJSON(er.dir, execution.ID, execution)
}

// GetByID retrieves an execution by its ID.
func (er *ExecutionRepository) GetByID(_ context.Context, id string) (*models.WorkflowExecution, error) {
	err := validateID(id)
	if err != nil {
		return nil, persistence.NewExecutionError("GetByID", id, err)
	}

	var execution models.WorkflowExecution

	err = readJSON(er.dir, id, &execution)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, persistence.NewExecutionError("GetByID", id, persistence.ErrExecutionNotFound)
		}

		return nil, fmt.Errorf("failed to read execution %s: %w", id, err)
	}

	return &execution, nil
}

// WaitingByConversation returns the conversation's WAITING executions, oldest first.
func (er *ExecutionRepository) WaitingByConversation(ctx context.Context, conversationID string) ([]*models.WorkflowExecution, error) {
	return er.filter(ctx, func(e *models.WorkflowExecution) bool {
		return e.ConversationID == conversationID && e.Status == models.ExecutionWaiting
	})
}

// ListByWorkflow returns the executions of a workflow, oldest first.
func (er *ExecutionRepository) ListByWorkflow(ctx context.Context, workflowID string) ([]*models.WorkflowExecution, error) {
	return er.filter(ctx, func(e *models.WorkflowExecution) bool {
		return e.WorkflowID == workflowID
	})
}

func (er *ExecutionRepository) filter(ctx context.Context, keep func(*models.WorkflowExecution) bool) ([]*models.WorkflowExecution, error) {
	names, err := listJSON(er.dir)
	if err != nil {
		return nil, err
	}

	executions := make([]*models.WorkflowExecution, 0)

	for _, name := range names {
		execution, err := er.GetByID(ctx, name)
		if err != nil {
			if persistence.IsExecutionNotFound(err) {
				continue
			}

			return nil, err
		}

		if keep(execution) {
			executions = append(executions, execution)
		}
	}

	sort.SliceStable(executions, func(i, j int) bool {
		return executions[i].CreatedAt.Before(executions[j].CreatedAt)
	})

	return executions, nil
}
