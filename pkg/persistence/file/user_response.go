package file

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/dukex/replyflow/pkg/models"
	"github.com/google/uuid"
)

// UserResponseRepository stores waiting-node replies, one directory per execution.
type UserResponseRepository struct {
	dir string
}

// NewUserResponseRepository creates a new user response repository.
func NewUserResponseRepository(root string) *UserResponseRepository {
	return &UserResponseRepository{dir: filepath.Join(root, "user_responses")}
}

func (ur *UserResponseRepository) Save(_ context.Context, response *models.UserResponse) error {
	err := validateID(response.ExecutionID)
	if err != nil {
		return fmt.Errorf("invalid execution ID: %w", err)
	}

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

	return writeJSON(filepath.Join(ur.dir, response.ExecutionID), response.ID, response)
}

// ListByExecution returns the responses of an execution in arrival order.
func (ur *UserResponseRepository) ListByExecution(_ context.Context, executionID string) ([]*models.UserResponse, error) {
	err := validateID(executionID)
	if err != nil {
		return nil, fmt.Errorf("invalid execution ID: %w", err)
	}

	dir := filepath.Join(ur.dir, executionID)

	names, err := listJSON(dir)
	if err != nil {
		return nil, err
	}

	responses := make([]*models.UserResponse, 0, len(names))

	for _, name := range names {
		var response models.UserResponse

		err := readJSON(dir, name, &response)
		if err != nil {
			return nil, fmt.Errorf("failed to read user response %s: %w", name, err)
		}

		responses = append(responses, &response)
	}

	sort.SliceStable(responses, func(i, j int) bool {
		return responses[i].CreatedAt.Before(responses[j].CreatedAt)
	})

	return responses, nil
}
