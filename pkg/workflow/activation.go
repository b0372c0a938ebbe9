package workflow

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/dukex/replyflow/pkg/events"
	"github.com/dukex/replyflow/pkg/execctx"
	"github.com/dukex/replyflow/pkg/models"
	"github.com/dukex/replyflow/pkg/otelhelper"
	"github.com/dukex/replyflow/pkg/persistence"
	"github.com/dukex/replyflow/pkg/trigger"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

var executionNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://replyflow.dev/executions"))

// ExecutionID derives the execution started for a trigger dedupe key, so a
// redelivered event maps onto the execution it already created.
func ExecutionID(dedupeKey string) string {
	return uuid.NewSHA1(executionNamespace, []byte(dedupeKey)).String()
}

func replyKey(eventID string) string {
	return "reply:" + eventID
}

func triggerKey(eventID string) string {
	return "trigger:" + eventID
}

// Activation reports what an inbound event did.
type Activation struct {
	// ReplyTo is the waiting execution that consumed a message event.
	ReplyTo string
	// Started lists executions created by this delivery.
	Started []string
	// Duplicates counts matches whose execution already existed.
	Duplicates int
}

// HandleEvent routes a message to the oldest execution waiting on its
// conversation, or else starts an execution per matched entry node.
func (e *Engine) HandleEvent(ctx context.Context, event *models.Event) (Activation, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "workflow.handle_event",
		attribute.String(otelhelper.EventIDKey, event.ID),
		attribute.String(otelhelper.EventTypeKey, string(event.Type)),
	)
	defer span.End()

	if event.Type == models.EventMessageReceived && event.ConversationID != "" {
		executionID, consumed, err := e.routeReply(ctx, event)
		if err != nil {
			otelhelper.SetError(span, err)

			return Activation{}, err
		}

		if consumed {
			return Activation{ReplyTo: executionID}, nil
		}
	}

	var matches []trigger.Match
	if event.Type == models.EventScheduleTick {
		matches = e.deps.Matcher.MatchScheduled(ctx, event.Timestamp)
	} else {
		matches = e.deps.Matcher.Match(ctx, event)
	}

	if len(matches) == 0 {
		e.logger.DebugContext(ctx, models.ErrTriggerMismatch.Error(), "event_id", event.ID, "event_type", event.Type)

		return Activation{}, nil
	}

	activation := Activation{Started: make([]string, 0, len(matches))}

	var errs []error

	for _, match := range matches {
		executionID, created, err := e.start(ctx, match, event)
		if err != nil {
			errs = append(errs, err)

			continue
		}

		if created {
			activation.Started = append(activation.Started, executionID)
		} else {
			activation.Duplicates++
		}
	}

	err := errors.Join(errs...)
	if err != nil {
		otelhelper.SetError(span, err)
	}

	return activation, err
}

// routeReply hands a message to a waiting execution of its conversation. The
// reply key marks the event as consumed so a redelivery neither counts the
// reply twice nor falls through to trigger matching once the wait is over.
// The trigger key marks an event that already went to trigger matching, so a
// redelivery never becomes the answer to a prompt the event itself caused.
func (e *Engine) routeReply(ctx context.Context, event *models.Event) (string, bool, error) {
	key := replyKey(event.ID)

	reserved, err := e.deps.Idempotency.Reserve(ctx, key)
	if err != nil {
		return "", false, fmt.Errorf("failed to reserve reply key: %w", err)
	}

	if !reserved {
		e.logger.DebugContext(ctx, "Reply already consumed", "event_id", event.ID)

		return "", true, nil
	}

	fresh, err := e.deps.Idempotency.Reserve(ctx, triggerKey(event.ID))
	if err != nil {
		e.releaseKey(ctx, key)

		return "", false, fmt.Errorf("failed to reserve trigger key: %w", err)
	}

	if !fresh {
		e.releaseKey(ctx, key)

		return "", false, nil
	}

	waiting, err := e.deps.Executions.WaitingByConversation(ctx, event.ConversationID)
	if err != nil {
		e.releaseKey(ctx, triggerKey(event.ID))
		e.releaseKey(ctx, key)

		return "", false, fmt.Errorf("failed to look up waiting executions: %w", err)
	}

	waiting = slices.DeleteFunc(waiting, func(execution *models.WorkflowExecution) bool {
		return execution.TriggerEventID == event.ID
	})

	if len(waiting) == 0 {
		// Not a reply: the trigger key stays, the reply key is freed.
		e.releaseKey(ctx, key)

		return "", false, nil
	}

	e.releaseKey(ctx, triggerKey(event.ID))

	executionID := waiting[0].ID

	err = e.deliverReply(ctx, executionID, event)
	if err != nil {
		e.releaseKey(ctx, key)

		return "", false, err
	}

	return executionID, true, nil
}

func (e *Engine) releaseKey(ctx context.Context, key string) {
	if err := e.deps.Idempotency.Release(ctx, key); err != nil {
		e.logger.WarnContext(ctx, "Failed to release idempotency key", "key", key, "error", err)
	}
}

// start creates the execution of one match and runs it. An existing execution
// that is still RUNNING was interrupted mid-traversal and is resumed.
func (e *Engine) start(ctx context.Context, match trigger.Match, event *models.Event) (string, bool, error) {
	now := e.now()
	executionID := ExecutionID(match.DedupeKey)

	execution := &models.WorkflowExecution{
		ID:             executionID,
		WorkflowID:     match.Workflow.ID,
		EntryNodeID:    match.Node.ID,
		CurrentNodeID:  match.Node.ID,
		Status:         models.ExecutionRunning,
		TriggerEventID: event.ID,
		CustomerID:     event.CustomerID,
		ConversationID: event.ConversationID,
		Channel:        event.Channel,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	execution.Context = execctx.New(execution, event, e.profile(ctx, event.CustomerID))

	created := true

	err := e.deps.Executions.Create(ctx, execution)
	if errors.Is(err, persistence.ErrExecutionAlreadyExists) {
		created = false

		e.logger.DebugContext(ctx, models.ErrDuplicateExecution.Error(),
			"execution_id", executionID,
			"dedupe_key", match.DedupeKey,
		)
	} else if err != nil {
		return "", false, fmt.Errorf("failed to create execution for workflow %s: %w", match.Workflow.ID, err)
	}

	if created {
		e.logger.InfoContext(ctx, "Execution started",
			"execution_id", executionID,
			"workflow_id", match.Workflow.ID,
			"entry_node_id", match.Node.ID,
			"event_id", event.ID,
		)

		e.publish(ctx, execution, events.ExecutionStarted{
			BaseEvent:      events.NewBaseEvent(events.ExecutionStartedEvent, match.Workflow.ID),
			ExecutionID:    executionID,
			EntryNodeID:    match.Node.ID,
			TriggerEventID: event.ID,
			CustomerID:     event.CustomerID,
			ConversationID: event.ConversationID,
		})
	}

	err = e.withExecution(ctx, executionID, func(ctx context.Context, s *session, execution *models.WorkflowExecution) error {
		if execution.Status != models.ExecutionRunning {
			return nil
		}

		return e.run(ctx, s, execution)
	})
	if err != nil {
		return executionID, created, err
	}

	return executionID, created, nil
}

func (e *Engine) profile(ctx context.Context, customerID string) map[string]any {
	if e.deps.Profiles == nil || customerID == "" {
		return nil
	}

	profile, err := e.deps.Profiles.Profile(ctx, customerID)
	if err != nil {
		e.logger.WarnContext(ctx, "Failed to load customer profile", "customer_id", customerID, "error", err)

		return nil
	}

	return profile
}
