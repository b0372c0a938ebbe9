package models

import "time"

// AnswerType is the kind of reply a waiting node accepts.
type AnswerType string

const (
	AnswerText   AnswerType = "text"
	AnswerNumber AnswerType = "number"
	AnswerEmail  AnswerType = "email"
	AnswerPhone  AnswerType = "phone"
	AnswerDate   AnswerType = "date"
	AnswerChoice AnswerType = "choice"
)

// StorageType is where a waiting node stores a valid reply.
type StorageType string

const (
	StorageUserProfile StorageType = "user_profile"
	StorageCustomField StorageType = "custom_field"
	StorageDatabase    StorageType = "database"
	StorageSession     StorageType = "session"
	StorageTemporary   StorageType = "temporary"
)

const DefaultAllowedErrors = 3

// WaitingConfig is the configuration of a node that waits for a user reply.
type WaitingConfig struct {
	AnswerType      AnswerType  `json:"answer_type"     validate:"required,oneof=text number email phone date choice"`
	StorageType     StorageType `json:"storage_type"    validate:"required,oneof=user_profile custom_field database session temporary"`
	StorageField    string      `json:"storage_field"   validate:"required"`
	CustomerMessage string      `json:"customer_message" validate:"required"`
	ChoiceOptions   []string    `json:"choice_options,omitempty" validate:"required_if=AnswerType choice"`
	// DateFormat overrides the default 2006-01-02 layout for date answers.
	DateFormat string `json:"date_format,omitempty"`

	ResponseTimeoutEnabled bool     `json:"response_timeout_enabled"`
	ResponseTimeoutAmount  int      `json:"response_timeout_amount,omitempty" validate:"required_if=ResponseTimeoutEnabled true,omitempty,min=1"`
	ResponseTimeoutUnit    TimeUnit `json:"response_timeout_unit,omitempty"   validate:"required_if=ResponseTimeoutEnabled true,omitempty,oneof=seconds minutes hours days"`

	AllowedErrors int      `json:"allowed_errors,omitempty" validate:"omitempty,min=1"`
	SkipKeywords  []string `json:"skip_keywords,omitempty"`
	ExitKeywords  []string `json:"exit_keywords,omitempty"`
}

// MaxErrors returns AllowedErrors or the default when unset.
func (w *WaitingConfig) MaxErrors() int {
	if w.AllowedErrors <= 0 {
		return DefaultAllowedErrors
	}

	return w.AllowedErrors
}

// Timeout returns the response timeout, zero when disabled.
func (w *WaitingConfig) Timeout() (time.Duration, error) {
	if !w.ResponseTimeoutEnabled {
		return 0, nil
	}

	return w.ResponseTimeoutUnit.Duration(w.ResponseTimeoutAmount)
}
