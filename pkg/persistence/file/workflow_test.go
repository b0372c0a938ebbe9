package file

import (
	"context"
	"testing"
	"time"

	"github.com/dukex/replyflow/pkg/models"
	"github.com/dukex/replyflow/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestWorkflowRepository_ListWorkflows_InvalidSortField tests that invalid sort field returns typed error.
func TestWorkflowRepository_ListWorkflows_InvalidSortField(t *testing.T) {
	repo := NewWorkflowRepository(t.TempDir())

	tests := []struct {
		name    string
		sortBy  string
		wantErr error
	}{
		{
			name:    "invalid sort field should return ErrInvalidSortField",
			sortBy:  "invalid_field",
			wantErr: persistence.ErrInvalidSortField,
		},
		{
			name:    "sql injection attempt should return ErrInvalidSortField",
			sortBy:  "name; DROP TABLE workflows; --",
			wantErr: persistence.ErrInvalidSortField,
		},
		{
			name:    "valid sort field name should not return error",
			sortBy:  "name",
			wantErr: nil,
		},
		{
			name:    "valid sort field updated_at should not return error",
			sortBy:  "updated_at",
			wantErr: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := persistence.ListWorkflowsOptions{
				SortBy:    tt.sortBy,
				SortOrder: "asc",
				Limit:     10,
			}

			_, err := repo.ListWorkflows(context.Background(), opts)

			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
				assert.True(t, persistence.IsInvalidSortField(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestWorkflowRepository_CRUD(t *testing.T) {
	ctx := context.Background()
	repo := NewWorkflowRepository(t.TempDir())

	workflow := &models.Workflow{
		Name:   "Welcome",
		Status: models.WorkflowStatusDraft,
		Nodes: []*models.WorkflowNode{
			{ID: "when", Type: models.NodeTypeWhen, IsActive: true, When: &models.WhenConfig{WhenType: models.WhenTypeNewCustomer}},
		},
	}

	require.NoError(t, repo.Save(ctx, workflow))
	require.NotEmpty(t, workflow.ID)
	assert.False(t, workflow.CreatedAt.IsZero())
	assert.Equal(t, workflow.ID, workflow.Nodes[0].WorkflowID)

	loaded, err := repo.GetByID(ctx, workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, "Welcome", loaded.Name)
	require.Len(t, loaded.Nodes, 1)
	assert.Equal(t, models.WhenTypeNewCustomer, loaded.Nodes[0].When.WhenType)

	all, err := repo.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, repo.Delete(ctx, workflow.ID))

	_, err = repo.GetByID(ctx, workflow.ID)
	assert.True(t, persistence.IsWorkflowNotFound(err))

	err = repo.Delete(ctx, workflow.ID)
	assert.True(t, persistence.IsWorkflowNotFound(err))

	_, err = repo.GetByID(ctx, "../etc/passwd")
	assert.ErrorIs(t, err, persistence.ErrInvalidID)
}

func TestWorkflowRepository_ListWorkflows_FilterAndPaginate(t *testing.T) {
	ctx := context.Background()
	repo := NewWorkflowRepository(t.TempDir())

	for _, name := range []string{"charlie", "alpha", "bravo"} {
		require.NoError(t, repo.Save(ctx, &models.Workflow{Name: name, Status: models.WorkflowStatusActive, Owner: "owner-1"}))
		time.Sleep(time.Millisecond)
	}

	require.NoError(t, repo.Save(ctx, &models.Workflow{Name: "paused", Status: models.WorkflowStatusPaused, Owner: "owner-2"}))

	active := models.WorkflowStatusActive

	result, err := repo.ListWorkflows(ctx, persistence.ListWorkflowsOptions{
		Status:    &active,
		SortBy:    "name",
		SortOrder: "asc",
		Limit:     2,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), result.TotalCount)
	assert.True(t, result.HasNextPage)
	require.Len(t, result.Workflows, 2)
	assert.Equal(t, "alpha", result.Workflows[0].Name)
	assert.Equal(t, "bravo", result.Workflows[1].Name)

	result, err = repo.ListWorkflows(ctx, persistence.ListWorkflowsOptions{OwnerID: "owner-2"})
	require.NoError(t, err)
	require.Len(t, result.Workflows, 1)
	assert.Equal(t, "paused", result.Workflows[0].Name)

	result, err = repo.ListWorkflows(ctx, persistence.ListWorkflowsOptions{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, result.Workflows)
	assert.False(t, result.HasNextPage)
}
