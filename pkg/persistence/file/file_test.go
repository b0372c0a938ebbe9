package file

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dukex/replyflow/pkg/models"
	"github.com/dukex/replyflow/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPersistence_HealthCheck(t *testing.T) {
	p := NewPersistence("file://" + t.TempDir())
	assert.NoError(t, p.HealthCheck(context.Background()))
	assert.NoError(t, p.Close(context.Background()))

	missing := NewPersistence(t.TempDir() + "/missing")
	assert.Error(t, missing.HealthCheck(context.Background()))
}

func TestExecutionRepository_CreateIsExclusive(t *testing.T) {
	ctx := context.Background()
	repo := NewPersistence(t.TempDir()).ExecutionRepository()

	var created atomic.Int32

	var wg sync.WaitGroup

	for range 8 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			err := repo.Create(ctx, &models.WorkflowExecution{ID: "exec-1", Status: models.ExecutionRunning})
			if err == nil {
				created.Add(1)

				return
			}

			assert.ErrorIs(t, err, persistence.ErrExecutionAlreadyExists)
		}()
	}

	wg.Wait()
	assert.Equal(t, int32(1), created.Load())
}

func TestExecutionRepository_WaitingByConversation(t *testing.T) {
	ctx := context.Background()
	repo := NewPersistence(t.TempDir()).ExecutionRepository()
	base := time.Now().UTC()

	executions := []*models.WorkflowExecution{
		{ID: "newer", ConversationID: "conv-1", Status: models.ExecutionWaiting, CreatedAt: base.Add(time.Minute)},
		{ID: "older", ConversationID: "conv-1", Status: models.ExecutionWaiting, CreatedAt: base},
		{ID: "done", ConversationID: "conv-1", Status: models.ExecutionCompleted, CreatedAt: base},
		{ID: "other", ConversationID: "conv-2", Status: models.ExecutionWaiting, CreatedAt: base},
	}

	for _, e := range executions {
		require.NoError(t, repo.Create(ctx, e))
	}

	waiting, err := repo.WaitingByConversation(ctx, "conv-1")
	require.NoError(t, err)
	require.Len(t, waiting, 2)
	assert.Equal(t, "older", waiting[0].ID)
	assert.Equal(t, "newer", waiting[1].ID)

	executions[1].Status = models.ExecutionCompleted
	require.NoError(t, repo.Save(ctx, executions[1]))

	waiting, err = repo.WaitingByConversation(ctx, "conv-1")
	require.NoError(t, err)
	require.Len(t, waiting, 1)
	assert.Equal(t, "newer", waiting[0].ID)

	_, err = repo.GetByID(ctx, "missing")
	assert.True(t, persistence.IsExecutionNotFound(err))
}

func TestIdempotencyRepository_ReserveOnce(t *testing.T) {
	ctx := context.Background()
	repo := NewPersistence(t.TempDir()).IdempotencyRepository()

	ok, err := repo.Reserve(ctx, "action:exec-1:send")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Reserve(ctx, "action:exec-1:send")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, repo.Release(ctx, "action:exec-1:send"))
	require.NoError(t, repo.Release(ctx, "action:exec-1:send"))

	ok, err = repo.Reserve(ctx, "action:exec-1:send")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestTaskRepository_DedupeAndDue(t *testing.T) {
	ctx := context.Background()
	repo := NewPersistence(t.TempDir()).TaskRepository()
	now := time.Now().UTC()

	first := &models.Task{Type: models.TaskResumeExecution, ExecutionID: "exec-1", NodeID: "delay", DedupeKey: "resume:exec-1:delay", RunAt: now.Add(-time.Second)}
	ok, err := repo.Enqueue(ctx, first)
	require.NoError(t, err)
	assert.True(t, ok)

	duplicate := &models.Task{Type: models.TaskResumeExecution, ExecutionID: "exec-1", NodeID: "delay", DedupeKey: "resume:exec-1:delay", RunAt: now}
	ok, err = repo.Enqueue(ctx, duplicate)
	require.NoError(t, err)
	assert.False(t, ok)

	later := &models.Task{Type: models.TaskWaitingTimeout, ExecutionID: "exec-2", NodeID: "wait", DedupeKey: "timeout:exec-2:wait:1", RunAt: now.Add(time.Hour)}
	ok, err = repo.Enqueue(ctx, later)
	require.NoError(t, err)
	assert.True(t, ok)

	due, err := repo.Due(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, first.ID, due[0].ID)

	require.NoError(t, repo.MarkDispatched(ctx, first.ID, now))

	due, err = repo.Due(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	ok, err = repo.Enqueue(ctx, duplicate)
	require.NoError(t, err)
	assert.True(t, ok, "dedupe key is free again once the pending task was dispatched")
}

func TestUserResponseRepository_ListByExecution(t *testing.T) {
	ctx := context.Background()
	repo := NewPersistence(t.TempDir()).UserResponseRepository()
	base := time.Now().UTC()

	require.NoError(t, repo.Save(ctx, &models.UserResponse{ExecutionID: "exec-1", WaitingNodeID: "wait", RawValue: "bad", ErrorCount: 1, CreatedAt: base}))
	require.NoError(t, repo.Save(ctx, &models.UserResponse{ExecutionID: "exec-1", WaitingNodeID: "wait", RawValue: "a@b.co", IsValid: true, CreatedAt: base.Add(time.Second)}))

	responses, err := repo.ListByExecution(ctx, "exec-1")
	require.NoError(t, err)
	require.Len(t, responses, 2)
	assert.Equal(t, "bad", responses[0].RawValue)
	assert.True(t, responses[1].IsValid)

	responses, err = repo.ListByExecution(ctx, "exec-404")
	require.NoError(t, err)
	assert.Empty(t, responses)
}
