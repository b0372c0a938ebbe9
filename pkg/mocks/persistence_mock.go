package mocks

import (
	"context"
	"time"

	"github.com/dukex/replyflow/pkg/models"
	"github.com/stretchr/testify/mock"
)

// MockTaskRepository is a mock implementation of persistence.TaskRepository.
type MockTaskRepository struct {
	mock.Mock
}

func (m *MockTaskRepository) Enqueue(ctx context.Context, task *models.Task) (bool, error) {
	args := m.Called(ctx, task)

	return args.Bool(0), args.Error(1)
}

func (m *MockTaskRepository) Due(ctx context.Context, now time.Time, limit int) ([]*models.Task, error) {
	args := m.Called(ctx, now, limit)

	tasks, _ := args.Get(0).([]*models.Task)

	return tasks, args.Error(1)
}

func (m *MockTaskRepository) MarkDispatched(ctx context.Context, id string, at time.Time) error {
	args := m.Called(ctx, id, at)

	return args.Error(0)
}

// MockWorkflowSource is a mock of the workflow listing the trigger registry loads.
type MockWorkflowSource struct {
	mock.Mock
}

func (m *MockWorkflowSource) GetAll(ctx context.Context) ([]*models.Workflow, error) {
	args := m.Called(ctx)

	workflows, _ := args.Get(0).([]*models.Workflow)

	return workflows, args.Error(1)
}
