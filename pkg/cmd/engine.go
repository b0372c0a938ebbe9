package cmd

import (
	"context"
	"log/slog"

	"github.com/dukex/replyflow/pkg/actions"
	"github.com/dukex/replyflow/pkg/autoreply"
	"github.com/dukex/replyflow/pkg/condition"
	"github.com/dukex/replyflow/pkg/eventbus"
	"github.com/dukex/replyflow/pkg/persistence"
	"github.com/dukex/replyflow/pkg/scheduler"
	"github.com/dukex/replyflow/pkg/trigger"
	"github.com/dukex/replyflow/pkg/waiting"
	"github.com/dukex/replyflow/pkg/workflow"
)

// EngineConfig carries the tunables exposed as flags by the binaries.
type EngineConfig struct {
	WorkerID        string
	MaxSteps        int
	AutoReplyPolicy string
	ExpiredPolicy   string
	HumanDepartment string
}

// Engine is a fully wired workflow engine plus the trigger registry it
// matches against. The caller owns refreshing the registry.
type Engine struct {
	*workflow.Engine

	Registry    *trigger.Registry
	Coordinator *autoreply.Coordinator
}

// NewEngine assembles the engine components over the given storage, bus and
// collaborators, and loads the active workflows once.
func NewEngine(
	ctx context.Context,
	config EngineConfig,
	store persistence.Persistence,
	publisher eventbus.EventPublisher,
	state *SharedState,
	providers Providers,
	logger *slog.Logger,
) (*Engine, error) {
	policy, err := autoreply.ParsePolicy(config.AutoReplyPolicy)
	if err != nil {
		return nil, err
	}

	expiredPolicy, err := workflow.ParseExpiredPolicy(config.ExpiredPolicy)
	if err != nil {
		return nil, err
	}

	coordinator := autoreply.NewCoordinator(state.Locker, state.Customers, policy, logger)
	tasks := scheduler.New(store.TaskRepository(), logger)

	registry := trigger.NewRegistry(store.WorkflowRepository(), logger)

	err = registry.Refresh(ctx)
	if err != nil {
		return nil, err
	}

	dispatcher := actions.NewDispatcher(actions.Dependencies{
		Messenger:       providers.Messenger,
		Customers:       state.Customers,
		Coordinator:     coordinator,
		Email:           providers.Email,
		Scheduler:       tasks,
		HumanDepartment: config.HumanDepartment,
		Logger:          logger,
	}, store.IdempotencyRepository(), logger)

	waitingManager := waiting.NewManager(waiting.Dependencies{
		Messenger:   providers.Messenger,
		Customers:   state.Customers,
		Responses:   store.UserResponseRepository(),
		Idempotency: store.IdempotencyRepository(),
		Scheduler:   tasks,
		Coordinator: coordinator,
	}, logger)

	engine := workflow.NewEngine(workflow.Dependencies{
		Workflows:   store.WorkflowRepository(),
		Executions:  store.ExecutionRepository(),
		Idempotency: store.IdempotencyRepository(),
		Matcher:     trigger.NewMatcher(registry, logger),
		Conditions:  condition.NewEvaluator(providers.LanguageModel, logger),
		Actions:     dispatcher,
		Waiting:     waitingManager,
		Locker:      state.Locker,
		Coordinator: coordinator,
		Profiles:    state.Customers,
		Publisher:   publisher,
	}, workflow.Config{
		MaxSteps:      config.MaxSteps,
		ExpiredPolicy: expiredPolicy,
		WorkerID:      config.WorkerID,
	}, logger)

	return &Engine{
		Engine:      engine,
		Registry:    registry,
		Coordinator: coordinator,
	}, nil
}
