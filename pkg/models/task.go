package models

import "time"

// TaskType is the kind of deferred engine work.
type TaskType string

const (
	TaskResumeExecution TaskType = "resume_execution"
	TaskWaitingTimeout  TaskType = "waiting_timeout"
)

// TaskStatus tracks a task through the durable scheduler.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskDispatched TaskStatus = "dispatched"
)

// Task is a unit of deferred work registered with the durable scheduler.
type Task struct {
	ID          string    `json:"id"`
	Type        TaskType  `json:"type"         validate:"required,oneof=resume_execution waiting_timeout"`
	ExecutionID string    `json:"execution_id" validate:"required"`
	NodeID      string    `json:"node_id"      validate:"required"`
	// DedupeKey is unique among pending tasks.
	DedupeKey    string         `json:"dedupe_key" validate:"required"`
	RunAt        time.Time      `json:"run_at"`
	Status       TaskStatus     `json:"status"`
	Payload      map[string]any `json:"payload,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	DispatchedAt *time.Time     `json:"dispatched_at,omitempty"`
}

// IsDue reports whether a pending task should run at now.
func (t *Task) IsDue(now time.Time) bool {
	return t.Status == TaskPending && !t.RunAt.After(now)
}
