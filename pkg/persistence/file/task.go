package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/dukex/replyflow/pkg/models"
	"github.com/google/uuid"
)

// TaskRepository stores scheduler tasks. Pending dedupe keys are held as
// exclusive-create marker files that are removed on dispatch.
type TaskRepository struct {
	dir     string
	pending string
}

// NewTaskRepository creates a new task repository.
func NewTaskRepository(root string) *TaskRepository {
	return &TaskRepository{
		dir:     filepath.Join(root, "tasks"),
		pending: filepath.Join(root, "tasks", "pending"),
	}
}

func (tr *TaskRepository) Enqueue(_ context.Context, task *models.Task) (bool, error) {
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

	reserved, err := createJSON(tr.pending, keyFileName(task.DedupeKey), map[string]string{"task_id": task.ID})
	if err != nil {
		return false, err
	}

	if !reserved {
		return false, nil
	}

	err = writeJSON(tr.dir, task.ID, task)
	if err != nil {
		_ = os.Remove(filepath.Join(tr.pending, keyFileName(task.DedupeKey)+".json"))

		return false, err
	}

	return true, nil
}

// Due returns pending tasks whose run time has come, earliest first.
func (tr *TaskRepository) Due(_ context.Context, now time.Time, limit int) ([]*models.Task, error) {
	names, err := listJSON(tr.dir)
	if err != nil {
		return nil, err
	}

	due := make([]*models.Task, 0)

	for _, name := range names {
		var task models.Task

		err := readJSON(tr.dir, name, &task)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}

			return nil, err
		}

		if task.IsDue(now) {
			due = append(due, &task)
		}
	}

	sort.SliceStable(due, func(i, j int) bool {
		return due[i].RunAt.Before(due[j].RunAt)
	})

	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	return due, nil
}

func (tr *TaskRepository) MarkDispatched(_ context.Context, id string, at time.Time) error {
	err := validateID(id)
	if err != nil {
		return err
	}

	var task models.Task

	err = readJSON(tr.dir, id, &task)
	if err != nil {
		return fmt.Errorf("failed to read task %s: %w", id, err)
	}

	task.Status = models.TaskDispatched
	task.DispatchedAt = &at

	err = writeJSON(tr.dir, id, &task)
	if err != nil {
		return err
	}

	err = os.Remove(filepath.Join(tr.pending, keyFileName(task.DedupeKey)+".json"))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to release dedupe key of task %s: %w", id, err)
	}

	return nil
}
