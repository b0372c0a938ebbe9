// Package trigger matches normalized events and schedule ticks against the
// entry nodes of active workflows.
package trigger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/replyflow/pkg/models"
)

// WorkflowSource loads every stored workflow.
type WorkflowSource interface {
	GetAll(ctx context.Context) ([]*models.Workflow, error)
}

// Registry holds the snapshot of ACTIVE workflows a worker matches against. It is
// owned by the worker process and refreshed explicitly.
type Registry struct {
	source WorkflowSource
	logger *slog.Logger

	mu        sync.RWMutex
	workflows map[string]*models.Workflow
	byType    map[models.WhenType][]models.WhenNodeMatch
	loadedAt  time.Time
}

func NewRegistry(source WorkflowSource, logger *slog.Logger) *Registry {
	return &Registry{
		source:    source,
		logger:    logger.With("module", "trigger_registry"),
		workflows: make(map[string]*models.Workflow),
		byType:    make(map[models.WhenType][]models.WhenNodeMatch),
	}
}

// Refresh reloads the snapshot. On error the previous snapshot is kept.
func (r *Registry) Refresh(ctx context.Context) error {
	all, err := r.source.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to load workflows: %w", err)
	}

	r.Load(all)

	r.logger.DebugContext(ctx, "Workflow registry refreshed", "active_workflows", r.Len())

	return nil
}

// Load replaces the snapshot with the active subset of workflows.
func (r *Registry) Load(all []*models.Workflow) {
	workflows := make(map[string]*models.Workflow)
	byType := make(map[models.WhenType][]models.WhenNodeMatch)

	for _, workflow := range all {
		if !workflow.IsActive() {
			continue
		}

		workflows[workflow.ID] = workflow

		for _, node := range workflow.WhenNodes() {
			if !node.IsActive || node.When == nil {
				continue
			}

			byType[node.When.WhenType] = append(byType[node.When.WhenType], models.WhenNodeMatch{
				Workflow: workflow,
				Node:     node,
			})
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.workflows = workflows
	r.byType = byType
	r.loadedAt = time.Now()
}

// Run refreshes the snapshot every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Refresh(ctx); err != nil {
				r.logger.ErrorContext(ctx, "Failed to refresh workflow registry", "error", err)
			}
		}
	}
}

func (r *Registry) WhenNodes(whenType models.WhenType) []models.WhenNodeMatch {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]models.WhenNodeMatch(nil), r.byType[whenType]...)
}

func (r *Registry) Workflow(id string) (*models.Workflow, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	workflow, ok := r.workflows[id]

	return workflow, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.workflows)
}

func (r *Registry) LoadedAt() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.loadedAt
}
