package models

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTriggerMismatch means an event matched no entry node. It is a normal no-op.
	ErrTriggerMismatch = errors.New("event matched no trigger")

	// ErrTimeoutExpired means a waiting node deadline passed without a valid reply.
	ErrTimeoutExpired = errors.New("waiting timeout expired")

	// ErrDuplicateExecution means an idempotency key was already taken. Callers skip silently.
	ErrDuplicateExecution = errors.New("duplicate execution guarded")

	ErrConfiguration = errors.New("invalid workflow configuration")
)

// ConfigurationProblem is a single authoring mistake.
type ConfigurationProblem struct {
	NodeID  string `json:"node_id,omitempty"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

func (p ConfigurationProblem) String() string {
	var b strings.Builder

	if p.NodeID != "" {
		b.WriteString("node " + p.NodeID + ": ")
	}

	if p.Field != "" {
		b.WriteString(p.Field + ": ")
	}

	b.WriteString(p.Message)

	return b.String()
}

// ConfigurationError lists every problem found in a workflow graph.
type ConfigurationError struct {
	WorkflowID string
	Problems   []ConfigurationProblem
}

func (e *ConfigurationError) Error() string {
	parts := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		parts = append(parts, p.String())
	}

	return fmt.Sprintf("workflow %s: %s: %s", e.WorkflowID, ErrConfiguration, strings.Join(parts, "; "))
}

func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

// Add appends a problem.
func (e *ConfigurationError) Add(nodeID, field, format string, args ...any) {
	e.Problems = append(e.Problems, ConfigurationProblem{
		NodeID:  nodeID,
		Field:   field,
		Message: fmt.Sprintf(format, args...),
	})
}

// OrNil returns e when it holds problems.
func (e *ConfigurationError) OrNil() error {
	if len(e.Problems) == 0 {
		return nil
	}

	return e
}

// ConditionEvaluationError wraps a collaborator failure while evaluating a condition.
// The condition resolves to false.
type ConditionEvaluationError struct {
	NodeID string
	Index  int
	Err    error
}

func (e *ConditionEvaluationError) Error() string {
	return fmt.Sprintf("condition %d of node %s failed: %v", e.Index, e.NodeID, e.Err)
}

func (e *ConditionEvaluationError) Unwrap() error {
	return e.Err
}

// ActionExecutionError wraps an action failure.
type ActionExecutionError struct {
	NodeID     string
	ActionType ActionType
	Retryable  bool
	Err        error
}

func (e *ActionExecutionError) Error() string {
	return fmt.Sprintf("action %s on node %s failed: %v", e.ActionType, e.NodeID, e.Err)
}

func (e *ActionExecutionError) Unwrap() error {
	return e.Err
}

// IsConfigurationError reports whether err is a configuration error.
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrConfiguration)
}
