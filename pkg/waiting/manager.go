// Package waiting runs the "wait for a reply" interaction of waiting nodes.
//
// A waiting node sends its prompt and parks the execution. Each inbound reply
// is recorded as a UserResponse and resolves the wait to one of:
//
//	stored   valid reply, persisted to the configured storage
//	retry    invalid reply, prompt sent again with a hint
//	expired  too many invalid replies or the deadline passed
//	skipped  the reply matched a skip or exit keyword
package waiting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/replyflow/pkg/autoreply"
	"github.com/dukex/replyflow/pkg/execctx"
	"github.com/dukex/replyflow/pkg/models"
	"github.com/dukex/replyflow/pkg/persistence"
	"github.com/dukex/replyflow/pkg/protocol"
	"github.com/dukex/replyflow/pkg/template"
	"github.com/dukex/replyflow/pkg/textnorm"
	"github.com/google/uuid"
)

type State string

const (
	StatePending State = "pending"
	StateStored  State = "stored"
	StateRetry   State = "retry"
	StateExpired State = "expired"
	StateSkipped State = "skipped"
)

var (
	ErrNotWaiting   = errors.New("execution is not waiting on this node")
	ErrStaleTimeout = errors.New("timeout does not match the pending wait")
)

// Resolution is the outcome of a reply or a timeout.
type Resolution struct {
	State State
	Value any
	// Outcome is the connection to follow. Empty while the wait goes on.
	Outcome models.ConnectionType
	// Fallback is followed when the node has no Outcome connection.
	Fallback   models.ConnectionType
	ErrorCount int
}

// Done reports whether the execution leaves the waiting node.
func (r Resolution) Done() bool {
	return r.Outcome != ""
}

type Dependencies struct {
	Messenger   protocol.Messenger
	Customers   protocol.CustomerStore
	Responses   persistence.UserResponseRepository
	Idempotency persistence.IdempotencyRepository
	Scheduler   protocol.TaskScheduler
	Coordinator *autoreply.Coordinator
}

type Manager struct {
	deps   Dependencies
	logger *slog.Logger
}

func NewManager(deps Dependencies, logger *slog.Logger) *Manager {
	return &Manager{
		deps:   deps,
		logger: logger.With("module", "waiting_manager"),
	}
}

// TimeoutDedupeKey identifies the timeout task of one wait. Re-entering the
// node later produces a different key.
func TimeoutDedupeKey(executionID, nodeID string, enteredAt time.Time) string {
	return fmt.Sprintf("timeout:%s:%s:%s", executionID, nodeID, enteredAt.UTC().Format(time.RFC3339Nano))
}

// Enter sends the prompt and parks execution on the node.
func (m *Manager) Enter(ctx context.Context, execution *models.WorkflowExecution, nodeID string, config *models.WaitingConfig, now time.Time) error {
	timeout, err := config.Timeout()
	if err != nil {
		problem := &models.ConfigurationError{WorkflowID: execution.WorkflowID}
		problem.Add(nodeID, "response_timeout_unit", "%v", err)

		return problem
	}

	err = m.prompt(ctx, execution, nodeID, config, "", 0)
	if err != nil {
		return err
	}

	err = execution.Transition(models.ExecutionWaiting, now)
	if err != nil {
		return err
	}

	execution.CurrentNodeID = nodeID
	execution.Waiting = &models.WaitingState{NodeID: nodeID, EnteredAt: now}

	execctx.SetNodeResult(execution.Context, nodeID, map[string]any{"state": string(StatePending)})

	if timeout > 0 {
		deadline := now.Add(timeout)
		execution.Waiting.Deadline = &deadline

		err = m.scheduleTimeout(ctx, execution, nodeID, now, deadline)
		if err != nil {
			return err
		}
	}

	m.logger.InfoContext(ctx, "Waiting for reply",
		"execution_id", execution.ID,
		"node_id", nodeID,
		"answer_type", config.AnswerType,
	)

	return nil
}

func (m *Manager) scheduleTimeout(ctx context.Context, execution *models.WorkflowExecution, nodeID string, enteredAt, deadline time.Time) error {
	if m.deps.Scheduler == nil {
		return errors.New("waiting timeout requires a task scheduler")
	}

	task := &models.Task{
		ID:          uuid.NewString(),
		Type:        models.TaskWaitingTimeout,
		ExecutionID: execution.ID,
		NodeID:      nodeID,
		DedupeKey:   TimeoutDedupeKey(execution.ID, nodeID, enteredAt),
		Payload:     map[string]any{"entered_at": enteredAt.UTC().Format(time.RFC3339Nano)},
		CreatedAt:   enteredAt,
	}

	_, err := m.deps.Scheduler.Enqueue(ctx, task, deadline)
	if err != nil {
		return fmt.Errorf("failed to schedule waiting timeout: %w", err)
	}

	return nil
}

// HandleReply resolves the wait with an inbound message.
func (m *Manager) HandleReply(ctx context.Context, execution *models.WorkflowExecution, config *models.WaitingConfig, event *models.Event, now time.Time) (Resolution, error) {
	if execution.Status != models.ExecutionWaiting || execution.Waiting == nil {
		return Resolution{}, ErrNotWaiting
	}

	nodeID := execution.Waiting.NodeID
	text := event.Text()

	execctx.SetMessage(execution.Context, event)

	response := &models.UserResponse{
		ID:            uuid.NewString(),
		WaitingNodeID: nodeID,
		ExecutionID:   execution.ID,
		RawValue:      text,
		ErrorCount:    execution.Waiting.ErrorCount,
		CreatedAt:     now,
	}

	logger := m.logger.With("execution_id", execution.ID, "node_id", nodeID)

	if textnorm.EqualsAny(text, config.SkipKeywords) || textnorm.EqualsAny(text, config.ExitKeywords) {
		err := m.saveResponse(ctx, response)
		if err != nil {
			return Resolution{}, err
		}

		execctx.SetNodeResult(execution.Context, nodeID, map[string]any{"state": string(StateSkipped)})
		logger.InfoContext(ctx, "Wait skipped by keyword")

		return Resolution{State: StateSkipped, Outcome: models.ConnectionSkip, ErrorCount: response.ErrorCount}, nil
	}

	value, err := Validate(config, text)
	if err != nil && !errors.Is(err, ErrInvalidAnswer) {
		return Resolution{}, err
	}

	if err != nil {
		return m.reject(ctx, execution, config, response, logger)
	}

	response.IsValid = true
	response.StorageField = config.StorageField
	response.Stored = config.StorageType == models.StorageDatabase

	err = m.store(ctx, execution, nodeID, config, value)
	if err != nil {
		return Resolution{}, err
	}

	err = m.saveResponse(ctx, response)
	if err != nil {
		return Resolution{}, err
	}

	execctx.SetNodeResult(execution.Context, nodeID, map[string]any{
		"state": string(StateStored),
		"value": value,
	})

	logger.InfoContext(ctx, "Reply stored", "storage_type", config.StorageType, "storage_field", config.StorageField)

	return Resolution{State: StateStored, Value: value, Outcome: models.ConnectionSuccess, ErrorCount: response.ErrorCount}, nil
}

func (m *Manager) reject(ctx context.Context, execution *models.WorkflowExecution, config *models.WaitingConfig, response *models.UserResponse, logger *slog.Logger) (Resolution, error) {
	nodeID := execution.Waiting.NodeID

	execution.Waiting.ErrorCount++
	response.ErrorCount = execution.Waiting.ErrorCount

	err := m.saveResponse(ctx, response)
	if err != nil {
		return Resolution{}, err
	}

	if execution.Waiting.ErrorCount >= config.MaxErrors() {
		execctx.SetNodeResult(execution.Context, nodeID, map[string]any{
			"state":       string(StateExpired),
			"error_count": execution.Waiting.ErrorCount,
		})
		logger.InfoContext(ctx, "Wait expired after invalid replies", "error_count", execution.Waiting.ErrorCount)

		return Resolution{
			State:      StateExpired,
			Outcome:    models.ConnectionTimeout,
			Fallback:   models.ConnectionFailure,
			ErrorCount: execution.Waiting.ErrorCount,
		}, nil
	}

	err = m.prompt(ctx, execution, nodeID, config, Hint(config), execution.Waiting.ErrorCount)
	if err != nil {
		return Resolution{}, err
	}

	execctx.SetNodeResult(execution.Context, nodeID, map[string]any{
		"state":       string(StateRetry),
		"error_count": execution.Waiting.ErrorCount,
	})
	logger.InfoContext(ctx, "Invalid reply, prompting again", "error_count", execution.Waiting.ErrorCount)

	return Resolution{State: StateRetry, ErrorCount: execution.Waiting.ErrorCount}, nil
}

// HandleTimeout expires the wait entered at enteredAt. Timeouts of an older
// wait on the same node are stale.
func (m *Manager) HandleTimeout(ctx context.Context, execution *models.WorkflowExecution, nodeID string, enteredAt time.Time) (Resolution, error) {
	waiting := execution.Waiting

	if execution.Status != models.ExecutionWaiting || waiting == nil || waiting.NodeID != nodeID || !waiting.EnteredAt.Equal(enteredAt) {
		return Resolution{}, ErrStaleTimeout
	}

	execctx.SetNodeResult(execution.Context, nodeID, map[string]any{
		"state":       string(StateExpired),
		"timed_out":   true,
		"error_count": waiting.ErrorCount,
	})

	m.logger.InfoContext(ctx, "Wait timed out", "execution_id", execution.ID, "node_id", nodeID)

	return Resolution{State: StateExpired, Outcome: models.ConnectionTimeout, ErrorCount: waiting.ErrorCount}, nil
}

func (m *Manager) saveResponse(ctx context.Context, response *models.UserResponse) error {
	if m.deps.Responses == nil {
		return nil
	}

	err := m.deps.Responses.Save(ctx, response)
	if err != nil {
		return fmt.Errorf("failed to save user response: %w", err)
	}

	return nil
}

// prompt sends the node's message, prefixed with hint on retries. The send is
// keyed by the visit and the retry number so a redelivered task does not
// prompt twice.
func (m *Manager) prompt(ctx context.Context, execution *models.WorkflowExecution, nodeID string, config *models.WaitingConfig, hint string, attempt int) error {
	if m.deps.Messenger == nil {
		return errors.New("waiting node requires a messenger")
	}

	if execution.ConversationID == "" {
		return errors.New("waiting node requires a conversation")
	}

	text, err := template.RenderString(config.CustomerMessage, execution.Context)
	if err != nil {
		return fmt.Errorf("failed to render prompt: %w", err)
	}

	if hint != "" {
		text = hint + "\n" + text
	}

	key := fmt.Sprintf("prompt:%s:%s:%d:%d", execution.ID, nodeID, execution.Steps, attempt)

	if m.deps.Idempotency != nil {
		reserved, err := m.deps.Idempotency.Reserve(ctx, key)
		if err != nil {
			return fmt.Errorf("failed to reserve idempotency key: %w", err)
		}

		if !reserved {
			return nil
		}
	}

	if m.deps.Coordinator != nil {
		eventID := execctx.LastMessageID(execution.Context)
		if eventID == "" {
			eventID = execution.TriggerEventID
		}

		claimed, err := m.deps.Coordinator.Claim(ctx, execution.ConversationID, eventID, autoreply.OwnerEngine)
		if err != nil {
			return err
		}

		if !claimed {
			m.logger.InfoContext(ctx, "Auto-responder already replied, prompt suppressed",
				"execution_id", execution.ID,
				"node_id", nodeID,
			)

			return nil
		}
	}

	_, err = m.deps.Messenger.Send(ctx, execution.ConversationID, text)
	if err != nil {
		if m.deps.Idempotency != nil {
			if releaseErr := m.deps.Idempotency.Release(ctx, key); releaseErr != nil {
				m.logger.WarnContext(ctx, "Failed to release idempotency key", "key", key, "error", releaseErr)
			}
		}

		return fmt.Errorf("failed to send prompt: %w", err)
	}

	return nil
}
