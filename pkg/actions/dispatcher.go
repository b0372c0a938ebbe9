package actions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/replyflow/pkg/models"
	"github.com/dukex/replyflow/pkg/otelhelper"
	"github.com/dukex/replyflow/pkg/persistence"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// atMostOnce lists the actions whose side effect must not repeat when a task
// is redelivered.
var atMostOnce = map[models.ActionType]bool{
	models.ActionSendMessage: true,
	models.ActionSendEmail:   true,
	models.ActionWebhook:     true,
}

type Dispatcher struct {
	handlers    map[models.ActionType]Handler
	idempotency persistence.IdempotencyRepository
	tracer      trace.Tracer
	logger      *slog.Logger
}

// NewDispatcher creates a dispatcher with the built-in handlers.
func NewDispatcher(deps Dependencies, idempotency persistence.IdempotencyRepository, logger *slog.Logger) *Dispatcher {
	deps.Logger = logger

	d := &Dispatcher{
		handlers:    map[models.ActionType]Handler{},
		idempotency: idempotency,
		tracer:      otelhelper.Tracer("replyflow.actions"),
		logger:      logger.With("module", "action_dispatcher"),
	}

	for _, handler := range Builtin(deps) {
		d.Register(handler)
	}

	return d
}

// Register adds or replaces the handler of an action type.
func (d *Dispatcher) Register(handler Handler) {
	d.handlers[handler.Type()] = handler
}

func (d *Dispatcher) Handler(actionType models.ActionType) (Handler, bool) {
	handler, ok := d.handlers[actionType]

	return handler, ok
}

// Dispatch runs the node's action. Failures are reported in the result, never
// as a panic; a configuration error in Result.Err means the node is broken.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) Result {
	actionType := req.Action.ActionType

	ctx, span := otelhelper.StartSpan(ctx, d.tracer, "action.dispatch",
		attribute.String(otelhelper.ExecutionIDKey, req.Execution.ID),
		attribute.String(otelhelper.NodeIDKey, req.NodeID),
		attribute.String(otelhelper.ActionTypeKey, string(actionType)),
	)
	defer span.End()

	logger := d.logger.With(
		"execution_id", req.Execution.ID,
		"node_id", req.NodeID,
		"action_type", actionType,
	)

	handler, ok := d.handlers[actionType]
	if !ok {
		problem := &models.ConfigurationError{WorkflowID: req.Execution.WorkflowID}
		problem.Add(req.NodeID, "action_type", "%v: %q", ErrUnknownAction, actionType)

		otelhelper.SetError(span, problem)

		return d.failure(req, problem)
	}

	key := req.IdempotencyKey()

	if atMostOnce[actionType] && d.idempotency != nil {
		reserved, err := d.idempotency.Reserve(ctx, key)
		if err != nil {
			otelhelper.SetError(span, err)

			return d.failure(req, fmt.Errorf("failed to reserve idempotency key: %w", err))
		}

		if !reserved {
			logger.InfoContext(ctx, "Action already performed, skipping", "idempotency_key", key)

			return Result{Outcome: OutcomeSuccess, Output: map[string]any{"deduplicated": true}}
		}
	}

	result, err := d.execute(ctx, handler, req)
	if err != nil {
		otelhelper.SetError(span, err)

		if atMostOnce[actionType] && d.idempotency != nil {
			if releaseErr := d.idempotency.Release(ctx, key); releaseErr != nil {
				logger.WarnContext(ctx, "Failed to release idempotency key", "idempotency_key", key, "error", releaseErr)
			}
		}

		logger.WarnContext(ctx, "Action failed", "required", req.Action.Required, "error", err)

		return d.failure(req, err)
	}

	if result.Outcome == "" {
		result.Outcome = OutcomeSuccess
	}

	logger.DebugContext(ctx, "Action executed", "outcome", result.Outcome)

	return result
}

func (d *Dispatcher) execute(ctx context.Context, handler Handler, req Request) (result Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("action panicked: %v", r)
		}
	}()

	return handler.Execute(ctx, req)
}

func (d *Dispatcher) failure(req Request, err error) Result {
	if models.IsConfigurationError(err) {
		return Result{Outcome: OutcomeFailure, Err: err}
	}

	var actionErr *models.ActionExecutionError
	if !errors.As(err, &actionErr) {
		actionErr = &models.ActionExecutionError{
			NodeID:     req.NodeID,
			ActionType: req.Action.ActionType,
			Retryable:  isRetryable(err),
			Err:        err,
		}
	}

	return Result{
		Outcome: OutcomeFailure,
		Output:  map[string]any{"error": err.Error()},
		Err:     actionErr,
	}
}
