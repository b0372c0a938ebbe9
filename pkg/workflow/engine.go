// Package workflow is the graph traversal engine. It starts executions for
// matched entry nodes, walks the node graph one checkpointed step at a time and
// resumes executions parked by delays and waiting nodes.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/replyflow/pkg/actions"
	"github.com/dukex/replyflow/pkg/autoreply"
	"github.com/dukex/replyflow/pkg/condition"
	"github.com/dukex/replyflow/pkg/eventbus"
	"github.com/dukex/replyflow/pkg/lock"
	"github.com/dukex/replyflow/pkg/otelhelper"
	"github.com/dukex/replyflow/pkg/persistence"
	"github.com/dukex/replyflow/pkg/protocol"
	"github.com/dukex/replyflow/pkg/trigger"
	"github.com/dukex/replyflow/pkg/waiting"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

// ExpiredPolicy decides how an expired wait ends when its node has neither a
// timeout nor a failure connection.
type ExpiredPolicy string

const (
	ExpiredComplete ExpiredPolicy = "complete"
	ExpiredFail     ExpiredPolicy = "fail"
)

var ErrUnknownExpiredPolicy = errors.New("unknown expired policy")

func ParseExpiredPolicy(value string) (ExpiredPolicy, error) {
	switch ExpiredPolicy(value) {
	case "":
		return ExpiredComplete, nil
	case ExpiredComplete, ExpiredFail:
		return ExpiredPolicy(value), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownExpiredPolicy, value)
	}
}

var (
	// ErrExecutionBusy means another worker holds the execution. The task
	// must be redelivered later.
	ErrExecutionBusy = errors.New("execution is being processed by another worker")

	ErrStepBudgetExceeded = errors.New("step budget exceeded")
	ErrWorkflowInactive   = errors.New("workflow is not active")
	ErrNodeInactive       = errors.New("node is not active")
	ErrNodeNotFound       = errors.New("node not found in workflow")
	ErrWaitExpired        = errors.New("waiting node expired")
)

const (
	DefaultMaxSteps = 1000
	DefaultLockTTL  = 30 * time.Second
)

type Config struct {
	MaxSteps      int
	LockTTL       time.Duration
	ExpiredPolicy ExpiredPolicy
	WorkerID      string
}

func (c Config) withDefaults() Config {
	if c.MaxSteps <= 0 {
		c.MaxSteps = DefaultMaxSteps
	}

	if c.LockTTL <= 0 {
		c.LockTTL = DefaultLockTTL
	}

	if c.ExpiredPolicy == "" {
		c.ExpiredPolicy = ExpiredComplete
	}

	if c.WorkerID == "" {
		c.WorkerID = "engine-" + uuid.NewString()[:8]
	}

	return c
}

// Dependencies wires the engine to its components and storage. Profiles,
// Coordinator and Publisher are optional.
type Dependencies struct {
	Workflows   persistence.WorkflowRepository
	Executions  persistence.ExecutionRepository
	Idempotency persistence.IdempotencyRepository
	Matcher     *trigger.Matcher
	Conditions  *condition.Evaluator
	Actions     *actions.Dispatcher
	Waiting     *waiting.Manager
	Locker      lock.Locker
	Coordinator *autoreply.Coordinator
	Profiles    protocol.CustomerProfiles
	Publisher   eventbus.EventPublisher
	Clock       func() time.Time
}

type Engine struct {
	deps   Dependencies
	config Config
	tracer trace.Tracer
	logger *slog.Logger
}

func NewEngine(deps Dependencies, config Config, logger *slog.Logger) *Engine {
	if deps.Clock == nil {
		deps.Clock = func() time.Time { return time.Now().UTC() }
	}

	config = config.withDefaults()

	return &Engine{
		deps:   deps,
		config: config,
		tracer: otelhelper.Tracer("replyflow.workflow"),
		logger: logger.With("module", "workflow_engine", "worker_id", config.WorkerID),
	}
}

func (e *Engine) now() time.Time {
	return e.deps.Clock()
}

func executionLockKey(executionID string) string {
	return "execution:" + executionID
}

// session is an execution held under its single-writer lock.
type session struct {
	key   string
	owner string
}

// acquire takes the execution lock or reports ErrExecutionBusy.
func (e *Engine) acquire(ctx context.Context, executionID string) (*session, error) {
	s := &session{
		key:   executionLockKey(executionID),
		owner: e.config.WorkerID + ":" + uuid.NewString(),
	}

	acquired, err := e.deps.Locker.Acquire(ctx, s.key, s.owner, e.config.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to lock execution %s: %w", executionID, err)
	}

	if !acquired {
		return nil, fmt.Errorf("execution %s: %w", executionID, ErrExecutionBusy)
	}

	return s, nil
}

// refresh extends the lock before a step. Losing it means another worker took
// over after the TTL elapsed.
func (e *Engine) refresh(ctx context.Context, s *session) error {
	acquired, err := e.deps.Locker.Acquire(ctx, s.key, s.owner, e.config.LockTTL)
	if err != nil {
		return fmt.Errorf("failed to refresh execution lock: %w", err)
	}

	if !acquired {
		return ErrExecutionBusy
	}

	return nil
}

func (e *Engine) release(ctx context.Context, s *session) {
	err := e.deps.Locker.Release(context.WithoutCancel(ctx), s.key, s.owner)
	if err != nil {
		e.logger.WarnContext(ctx, "Failed to release execution lock", "key", s.key, "error", err)
	}
}
