// Package persistence provides the durable storage abstraction for workflows, executions and engine bookkeeping.
package persistence

import (
	"context"
	"time"

	"github.com/dukex/replyflow/pkg/models"
)

type Persistence interface {
	WorkflowRepository() WorkflowRepository
	ExecutionRepository() ExecutionRepository
	UserResponseRepository() UserResponseRepository
	IdempotencyRepository() IdempotencyRepository
	TaskRepository() TaskRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// WorkflowRepository stores workflow graphs.
type WorkflowRepository interface {
	GetAll(ctx context.Context) ([]*models.Workflow, error)
	// GetByID returns ErrWorkflowNotFound when the workflow does not exist.
	GetByID(ctx context.Context, id string) (*models.Workflow, error)
	Save(ctx context.Context, workflow *models.Workflow) error
	Delete(ctx context.Context, id string) error
	ListWorkflows(ctx context.Context, opts ListWorkflowsOptions) (*WorkflowListResult, error)
}

// ExecutionRepository stores resumable execution state.
type ExecutionRepository interface {
	// Create inserts a new execution, returning ErrExecutionAlreadyExists when the ID is taken.
	Create(ctx context.Context, execution *models.WorkflowExecution) error
	// Save overwrites an existing execution checkpoint.
	Save(ctx context.Context, execution *models.WorkflowExecution) error
	// GetByID returns ErrExecutionNotFound when the execution does not exist.
	GetByID(ctx context.Context, id string) (*models.WorkflowExecution, error)
	// WaitingByConversation returns WAITING executions of a conversation, oldest first.
	WaitingByConversation(ctx context.Context, conversationID string) ([]*models.WorkflowExecution, error)
	ListByWorkflow(ctx context.Context, workflowID string) ([]*models.WorkflowExecution, error)
}

// UserResponseRepository stores candidate replies to waiting nodes.
type UserResponseRepository interface {
	Save(ctx context.Context, response *models.UserResponse) error
	ListByExecution(ctx context.Context, executionID string) ([]*models.UserResponse, error)
}

// IdempotencyRepository records keys of side effects that must happen at most once.
type IdempotencyRepository interface {
	// Reserve records key and reports whether this call took it.
	Reserve(ctx context.Context, key string) (bool, error)
	// Release drops a reservation after a side effect definitely did not happen.
	Release(ctx context.Context, key string) error
}

// TaskRepository is the durable queue behind the scheduler.
type TaskRepository interface {
	// Enqueue stores task and reports false when a pending task has the same dedupe key.
	Enqueue(ctx context.Context, task *models.Task) (bool, error)
	Due(ctx context.Context, now time.Time, limit int) ([]*models.Task, error)
	MarkDispatched(ctx context.Context, id string, at time.Time) error
}

// ListWorkflowsOptions filters and sorts a workflow listing.
type ListWorkflowsOptions struct {
	Limit     int
	Offset    int
	OwnerID   string
	Status    *models.WorkflowStatus
	SortBy    string
	SortOrder string
}

// WorkflowListResult is a page of workflows.
type WorkflowListResult struct {
	Workflows   []*models.Workflow
	TotalCount  int64
	HasNextPage bool
}

// AllowedSortFields lists the columns workflows may be sorted by.
var AllowedSortFields = []string{"created_at", "updated_at", "name"}
