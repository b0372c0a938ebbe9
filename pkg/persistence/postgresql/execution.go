package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/replyflow/pkg/models"
	"github.com/dukex/replyflow/pkg/persistence"
)

// ExecutionRepository handles execution-related database operations.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewExecutionRepository creates a new execution repository.
func NewExecutionRepository(db *sql.DB, logger *slog.Logger) *ExecutionRepository {
	return &ExecutionRepository{db: db, logger: logger}
}

const selectExecution = `
	SELECT
		id
	  , workflow_id
	  , entry_node_id
	  , current_node_id
	  , status
	  , context
	  , trigger_event_id
	  , customer_id
	  , conversation_id
	  , channel
	  , waiting
	  , resume_at
	  , steps
	  , error
	  , created_at
	  , updated_at
	  , completed_at
	FROM workflow_executions
`

// Create inserts a new execution; a duplicate ID yields ErrExecutionAlreadyExists.
func (r *ExecutionRepository) Create(ctx context.Context, execution *models.WorkflowExecution) error {
	args, err := executionArgs(execution)
	if err != nil {
		return persistence.NewExecutionError("Create", execution.ID, err)
	}

	result, err := r.db.ExecContext(ctx, `
		INSERT INTO workflow_executions (
			id, workflow_id, entry_node_id, current_node_id, status, context, trigger_event_id,
			customer_id, conversation_id, channel, waiting, resume_at, steps, error,
			created_at, updated_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (id) DO NOTHING
	`, args...)
	if err != nil {
		return persistence.NewExecutionError("Create", execution.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewExecutionError("Create", execution.ID, err)
	}

	if affected == 0 {
		return persistence.NewExecutionError("Create", execution.ID, persistence.ErrExecutionAlreadyExists)
	}

	return nil
}

// Save overwrites an existing execution checkpoint.
func (r *ExecutionRepository) Save(ctx context.Context, execution *models.WorkflowExecution) error {
	args, err := executionArgs(execution)
	if err != nil {
		return persistence.NewExecutionError("Save", execution.ID, err)
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE workflow_executions SET
			workflow_id = $2,
			entry_node_id = $3,
			current_node_id = $4,
			status = $5,
			context = $6,
			trigger_event_id = $7,
			customer_id = $8,
			conversation_id = $9,
			channel = $10,
			waiting = $11,
			resume_at = $12,
			steps = $13,
			error = $14,
			created_at = $15,
			updated_at = $16,
			completed_at = $17
		WHERE id = $1
	`, args...)
	if err != nil {
		return persistence.NewExecutionError("Save", execution.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewExecutionError("Save", execution.ID, err)
	}

	if affected == 0 {
		return persistence.NewExecutionError("Save", execution.ID, persistence.ErrExecutionNotFound)
	}

	return nil
}

func executionArgs(execution *models.WorkflowExecution) ([]any, error) {
	contextJSON, err := json.Marshal(execution.Context)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal context: %w", err)
	}

	var waiting any

	if execution.Waiting != nil {
		waitingJSON, err := json.Marshal(execution.Waiting)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal waiting state: %w", err)
		}

		waiting = string(waitingJSON)
	}

	return []any{
		execution.ID,
		execution.WorkflowID,
		execution.EntryNodeID,
		execution.CurrentNodeID,
		execution.Status,
		contextJSON,
		execution.TriggerEventID,
		execution.CustomerID,
		execution.ConversationID,
		execution.Channel,
		waiting,
		execution.ResumeAt,
		execution.Steps,
		execution.Error,
		execution.CreatedAt,
		execution.UpdatedAt,
		execution.CompletedAt,
	}, nil
}

// GetByID returns an execution by ID.
func (r *ExecutionRepository) GetByID(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	row := r.db.QueryRowContext(ctx, selectExecution+" WHERE id = $1", id)

	execution, err := scanExecution(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewExecutionError("GetByID", id, persistence.ErrExecutionNotFound)
		}

		return nil, persistence.NewExecutionError("GetByID", id, err)
	}

	return execution, nil
}

// WaitingByConversation returns WAITING executions of a conversation, oldest first.
func (r *ExecutionRepository) WaitingByConversation(ctx context.Context, conversationID string) ([]*models.WorkflowExecution, error) {
	return r.query(ctx, selectExecution+" WHERE conversation_id = $1 AND status = 'waiting' ORDER BY created_at", conversationID)
}

// ListByWorkflow returns the executions of a workflow, oldest first.
func (r *ExecutionRepository) ListByWorkflow(ctx context.Context, workflowID string) ([]*models.WorkflowExecution, error) {
	return r.query(ctx, selectExecution+" WHERE workflow_id = $1 ORDER BY created_at", workflowID)
}

func (r *ExecutionRepository) query(ctx context.Context, query string, args ...any) ([]*models.WorkflowExecution, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	executions := make([]*models.WorkflowExecution, 0)

	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}

		executions = append(executions, execution)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}

	return executions, nil
}

func scanExecution(row scanner) (*models.WorkflowExecution, error) {
	var (
		execution   models.WorkflowExecution
		contextJSON []byte
		waitingJSON []byte
		resumeAt    sql.NullTime
		completedAt sql.NullTime
	)

	err := row.Scan(
		&execution.ID,
		&execution.WorkflowID,
		&execution.EntryNodeID,
		&execution.CurrentNodeID,
		&execution.Status,
		&contextJSON,
		&execution.TriggerEventID,
		&execution.CustomerID,
		&execution.ConversationID,
		&execution.Channel,
		&waitingJSON,
		&resumeAt,
		&execution.Steps,
		&execution.Error,
		&execution.CreatedAt,
		&execution.UpdatedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	err = json.Unmarshal(contextJSON, &execution.Context)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal context: %w", err)
	}

	if len(waitingJSON) > 0 {
		execution.Waiting = &models.WaitingState{}

		err = json.Unmarshal(waitingJSON, execution.Waiting)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal waiting state: %w", err)
		}
	}

	if resumeAt.Valid {
		execution.ResumeAt = &resumeAt.Time
	}

	if completedAt.Valid {
		execution.CompletedAt = &completedAt.Time
	}

	return &execution, nil
}
