// Package services implements authoring-time operations on workflows:
// validation, CRUD and the draft/active/paused lifecycle.
package services

import (
	"errors"
	"fmt"

	"github.com/dukex/replyflow/pkg/models"
)

var (
	ErrInvalidRequest   = errors.New("invalid request")
	ErrInvalidSortField = errors.New("invalid sort field")
	ErrInvalidSortOrder = errors.New("invalid sort order")
	ErrInvalidStatus    = errors.New("invalid workflow status")
	ErrEmptyOwnerID     = errors.New("owner ID cannot be empty")
	ErrWorkflowNil      = errors.New("workflow cannot be nil")
	ErrNodeNotFound     = errors.New("node not found")

	ErrInvalidTransition  = errors.New("invalid workflow status transition")
	ErrCannotDeleteActive = errors.New("cannot delete an active workflow")
	ErrCannotModifyActive = errors.New("cannot modify the graph of an active workflow")
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string // Operation name
	Code    string // Error code for API responses
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsValidationError reports whether err is caused by the caller's input.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrInvalidSortField) ||
		errors.Is(err, ErrInvalidSortOrder) ||
		errors.Is(err, ErrInvalidStatus) ||
		errors.Is(err, ErrEmptyOwnerID) ||
		errors.Is(err, ErrWorkflowNil) ||
		errors.Is(err, models.ErrConfiguration)
}

// IsConflictError reports whether err conflicts with the workflow's current state.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrCannotDeleteActive) ||
		errors.Is(err, ErrCannotModifyActive)
}

func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}
