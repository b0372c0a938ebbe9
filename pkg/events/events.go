// Package events defines the messages exchanged over the bus: engine tasks
// consumed by workers and execution lifecycle notifications.
package events

import (
	"time"

	"github.com/dukex/replyflow/pkg/models"
	"github.com/google/uuid"
)

type EventType string

// Kafka topics.
const Topic = "replyflow.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Engine tasks.
	EventReceivedEvent   EventType = "event.received"
	ExecutionResumeEvent EventType = "execution.resume"
	WaitingTimeoutEvent  EventType = "waiting.timeout"
	ScheduleTickEvent    EventType = "schedule.tick"

	// Execution lifecycle.
	ExecutionStartedEvent   EventType = "execution.started"
	ExecutionWaitingEvent   EventType = "execution.waiting"
	ExecutionScheduledEvent EventType = "execution.scheduled"
	ExecutionCompletedEvent EventType = "execution.completed"
	ExecutionFailedEvent    EventType = "execution.failed"
)

type BaseEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	WorkflowID string         `json:"workflow_id,omitempty"`
	WorkerID   string         `json:"worker_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// EventReceived carries a normalized inbound event to the workers.
type EventReceived struct {
	BaseEvent

	Event *models.Event `json:"event"`
}

func (e EventReceived) GetType() EventType {
	return EventReceivedEvent
}

// ExecutionResume continues an execution suspended by a delay.
type ExecutionResume struct {
	BaseEvent

	TaskID      string `json:"task_id"`
	ExecutionID string `json:"execution_id"`
	NodeID      string `json:"node_id"`
}

func (e ExecutionResume) GetType() EventType {
	return ExecutionResumeEvent
}

// WaitingTimeout fires the deadline of the wait entered at EnteredAt.
type WaitingTimeout struct {
	BaseEvent

	TaskID      string    `json:"task_id"`
	ExecutionID string    `json:"execution_id"`
	NodeID      string    `json:"node_id"`
	EnteredAt   time.Time `json:"entered_at"`
}

func (e WaitingTimeout) GetType() EventType {
	return WaitingTimeoutEvent
}

// ScheduleTick asks workers to start the scheduled entry nodes due in the minute of At.
type ScheduleTick struct {
	BaseEvent

	At time.Time `json:"at"`
}

func (e ScheduleTick) GetType() EventType {
	return ScheduleTickEvent
}

type ExecutionStarted struct {
	BaseEvent

	ExecutionID    string `json:"execution_id"`
	EntryNodeID    string `json:"entry_node_id"`
	TriggerEventID string `json:"trigger_event_id"`
	CustomerID     string `json:"customer_id,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
}

func (e ExecutionStarted) GetType() EventType {
	return ExecutionStartedEvent
}

type ExecutionWaiting struct {
	BaseEvent

	ExecutionID string     `json:"execution_id"`
	NodeID      string     `json:"node_id"`
	Deadline    *time.Time `json:"deadline,omitempty"`
}

func (e ExecutionWaiting) GetType() EventType {
	return ExecutionWaitingEvent
}

type ExecutionScheduled struct {
	BaseEvent

	ExecutionID string    `json:"execution_id"`
	NodeID      string    `json:"node_id"`
	ResumeAt    time.Time `json:"resume_at"`
}

func (e ExecutionScheduled) GetType() EventType {
	return ExecutionScheduledEvent
}

type ExecutionCompleted struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	Steps       int    `json:"steps"`
	DurationMs  int64  `json:"duration_ms"`
}

func (e ExecutionCompleted) GetType() EventType {
	return ExecutionCompletedEvent
}

type ExecutionFailed struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	NodeID      string `json:"node_id,omitempty"`
	Error       string `json:"error"`
	Steps       int    `json:"steps"`
	DurationMs  int64  `json:"duration_ms"`
}

func (e ExecutionFailed) GetType() EventType {
	return ExecutionFailedEvent
}

// New returns an empty event of eventType to decode a payload into.
func New(eventType EventType) (any, bool) {
	switch eventType {
	case EventReceivedEvent:
		return &EventReceived{}, true
	case ExecutionResumeEvent:
		return &ExecutionResume{}, true
	case WaitingTimeoutEvent:
		return &WaitingTimeout{}, true
	case ScheduleTickEvent:
		return &ScheduleTick{}, true
	case ExecutionStartedEvent:
		return &ExecutionStarted{}, true
	case ExecutionWaitingEvent:
		return &ExecutionWaiting{}, true
	case ExecutionScheduledEvent:
		return &ExecutionScheduled{}, true
	case ExecutionCompletedEvent:
		return &ExecutionCompleted{}, true
	case ExecutionFailedEvent:
		return &ExecutionFailed{}, true
	default:
		return nil, false
	}
}

func NewBaseEvent(eventType EventType, workflowID string) BaseEvent {
	return BaseEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		WorkflowID: workflowID,
		Metadata:   make(map[string]any),
	}
}
