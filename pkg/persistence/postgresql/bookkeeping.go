package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/replyflow/pkg/models"
	"github.com/google/uuid"
)

// UserResponseRepository handles waiting-node replies.
type UserResponseRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewUserResponseRepository(db *sql.DB, logger *slog.Logger) *UserResponseRepository {
	return &UserResponseRepository{db: db, logger: logger}
}

func (r *UserResponseRepository) Save(ctx context.Context, response *models.UserResponse) error {
	if response.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate user response ID: %w", err)
		}

		response.ID = id.String()
	}

	if response.CreatedAt.IsZero() {
		response.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO user_responses (id, execution_id, waiting_node_id, raw_value, is_valid, error_count, storage_field, stored, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			is_valid = EXCLUDED.is_valid,
			error_count = EXCLUDED.error_count,
			stored = EXCLUDED.stored
	`,
		response.ID,
		response.ExecutionID,
		response.WaitingNodeID,
		response.RawValue,
		response.IsValid,
		response.ErrorCount,
		response.StorageField,
		response.Stored,
		response.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save user response: %w", err)
	}

	return nil
}

func (r *UserResponseRepository) ListByExecution(ctx context.Context, executionID string) ([]*models.UserResponse, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, execution_id, waiting_node_id, raw_value, is_valid, error_count, storage_field, stored, created_at
		FROM user_responses
		WHERE execution_id = $1
		ORDER BY created_at
	`, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query user responses: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	responses := make([]*models.UserResponse, 0)

	for rows.Next() {
		var response models.UserResponse

		err := rows.Scan(
			&response.ID,
			&response.ExecutionID,
			&response.WaitingNodeID,
			&response.RawValue,
			&response.IsValid,
			&response.ErrorCount,
			&response.StorageField,
			&response.Stored,
			&response.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user response: %w", err)
		}

		responses = append(responses, &response)
	}

	return responses, rows.Err()
}

// IdempotencyRepository reserves keys with a primary-key insert.
type IdempotencyRepository struct {
	db *sql.DB
}

func NewIdempotencyRepository(db *sql.DB) *IdempotencyRepository {
	return &IdempotencyRepository{db: db}
}

func (r *IdempotencyRepository) Reserve(ctx context.Context, key string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `INSERT INTO idempotency_keys (key) VALUES ($1) ON CONFLICT (key) DO NOTHING`, key)
	if err != nil {
		return false, fmt.Errorf("failed to reserve key %s: %w", key, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to reserve key %s: %w", key, err)
	}

	return affected == 1, nil
}

func (r *IdempotencyRepository) Release(ctx context.Context, key string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM idempotency_keys WHERE key = $1`, key)
	if err != nil {
		return fmt.Errorf("failed to release key %s: %w", key, err)
	}

	return nil
}

// TaskRepository is the durable scheduler queue.
type TaskRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewTaskRepository(db *sql.DB, logger *slog.Logger) *TaskRepository {
	return &TaskRepository{db: db, logger: logger}
}

// Enqueue relies on the partial unique index over pending dedupe keys.
func (r *TaskRepository) Enqueue(ctx context.Context, task *models.Task) (bool, error) {
	if task.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return false, fmt.Errorf("failed to generate task ID: %w", err)
		}

		task.ID = id.String()
	}

	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC()
	}

	task.Status = models.TaskPending

	payloadJSON, err := json.Marshal(task.Payload)
	if err != nil {
		return false, fmt.Errorf("failed to marshal task payload: %w", err)
	}

	result, err := r.db.ExecContext(ctx, `
		INSERT INTO tasks (id, type, execution_id, node_id, dedupe_key, run_at, status, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (dedupe_key) WHERE status = 'pending' DO NOTHING
	`, task.ID, task.Type, task.ExecutionID, task.NodeID, task.DedupeKey, task.RunAt, task.Status, payloadJSON, task.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("failed to enqueue task: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to enqueue task: %w", err)
	}

	return affected == 1, nil
}

func (r *TaskRepository) Due(ctx context.Context, now time.Time, limit int) ([]*models.Task, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, type, execution_id, node_id, dedupe_key, run_at, status, payload, created_at
		FROM tasks
		WHERE status = 'pending' AND run_at <= $1
		ORDER BY run_at
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query due tasks: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	tasks := make([]*models.Task, 0)

	for rows.Next() {
		var (
			task        models.Task
			payloadJSON []byte
		)

		err := rows.Scan(&task.ID, &task.Type, &task.ExecutionID, &task.NodeID, &task.DedupeKey, &task.RunAt, &task.Status, &payloadJSON, &task.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}

		if len(payloadJSON) > 0 {
			err = json.Unmarshal(payloadJSON, &task.Payload)
			if err != nil {
				return nil, fmt.Errorf("failed to unmarshal task payload: %w", err)
			}
		}

		tasks = append(tasks, &task)
	}

	return tasks, rows.Err()
}

func (r *TaskRepository) MarkDispatched(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE tasks SET status = 'dispatched', dispatched_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("failed to mark task %s dispatched: %w", id, err)
	}

	return nil
}
