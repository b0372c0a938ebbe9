// Package file provides file-based persistence for workflows, executions and engine bookkeeping.
package file

import (
	"context"
	"os"
	"strings"

	"github.com/dukex/replyflow/pkg/persistence"
)

// Persistence implements the persistence.Persistence interface using the file system.
type Persistence struct {
	root             string
	workflowRepo     *WorkflowRepository
	executionRepo    *ExecutionRepository
	userResponseRepo *UserResponseRepository
	idempotencyRepo  *IdempotencyRepository
	taskRepo         *TaskRepository
}

// NewPersistence creates a new instance of Persistence with the specified root directory.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	return &Persistence{
		root:             cleanRoot,
		workflowRepo:     NewWorkflowRepository(cleanRoot),
		executionRepo:    NewExecutionRepository(cleanRoot),
		userResponseRepo: NewUserResponseRepository(cleanRoot),
		idempotencyRepo:  NewIdempotencyRepository(cleanRoot),
		taskRepo:         NewTaskRepository(cleanRoot),
	}
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck checks if the file persistence layer is healthy by verifying the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

func (fp *Persistence) WorkflowRepository() persistence.WorkflowRepository {
	return fp.workflowRepo
}

func (fp *Persistence) ExecutionRepository() persistence.ExecutionRepository {
	return fp.executionRepo
}

func (fp *Persistence) UserResponseRepository() persistence.UserResponseRepository {
	return fp.userResponseRepo
}

func (fp *Persistence) IdempotencyRepository() persistence.IdempotencyRepository {
	return fp.idempotencyRepo
}

func (fp *Persistence) TaskRepository() persistence.TaskRepository {
	return fp.taskRepo
}
