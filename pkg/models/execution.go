package models

import (
	"errors"
	"fmt"
	"time"
)

// ExecutionStatus is the lifecycle state of a workflow execution.
type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionWaiting   ExecutionStatus = "waiting"
	ExecutionScheduled ExecutionStatus = "scheduled"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
)

var ErrExecutionTerminal = errors.New("execution already reached a terminal state")

// WaitingState is the resumable state of a pending waiting node.
type WaitingState struct {
	NodeID     string     `json:"node_id"`
	EnteredAt  time.Time  `json:"entered_at"`
	Deadline   *time.Time `json:"deadline,omitempty"`
	ErrorCount int        `json:"error_count"`
}

// WorkflowExecution is one run of a workflow from a matched entry node to a terminal state.
type WorkflowExecution struct {
	ID             string          `json:"id"`
	WorkflowID     string          `json:"workflow_id"`
	EntryNodeID    string          `json:"entry_node_id"`
	CurrentNodeID  string          `json:"current_node_id"`
	Status         ExecutionStatus `json:"status"`
	Context        map[string]any  `json:"context"`
	TriggerEventID string          `json:"trigger_event_id"`
	CustomerID     string          `json:"customer_id,omitempty"`
	ConversationID string          `json:"conversation_id,omitempty"`
	Channel        string          `json:"channel,omitempty"`

	Waiting  *WaitingState `json:"waiting,omitempty"`
	ResumeAt *time.Time    `json:"resume_at,omitempty"`

	Steps       int        `json:"steps"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// IsTerminal reports whether the execution can no longer change.
func (e *WorkflowExecution) IsTerminal() bool {
	return e.Status == ExecutionCompleted || e.Status == ExecutionFailed
}

// Transition moves the execution to status, refusing to leave a terminal state.
func (e *WorkflowExecution) Transition(status ExecutionStatus, now time.Time) error {
	if e.IsTerminal() {
		return fmt.Errorf("execution %s: %w: %s -> %s", e.ID, ErrExecutionTerminal, e.Status, status)
	}

	e.Status = status
	e.UpdatedAt = now

	if e.IsTerminal() {
		e.CompletedAt = &now
		e.Waiting = nil
		e.ResumeAt = nil
	}

	return nil
}

// Fail marks the execution failed with reason.
func (e *WorkflowExecution) Fail(reason string, now time.Time) error {
	err := e.Transition(ExecutionFailed, now)
	if err != nil {
		return err
	}

	e.Error = reason

	return nil
}

// UserResponse is a candidate reply received while an execution waits on a node.
type UserResponse struct {
	ID            string    `json:"id"`
	WaitingNodeID string    `json:"waiting_node_id"`
	ExecutionID   string    `json:"execution_id"`
	RawValue      string    `json:"raw_value"`
	IsValid       bool      `json:"is_valid"`
	ErrorCount    int       `json:"error_count"`
	StorageField  string    `json:"storage_field,omitempty"`
	Stored        bool      `json:"stored"`
	CreatedAt     time.Time `json:"created_at"`
}
