package models

import (
	"fmt"
	"time"
)

// ActionType selects the side effect an action node performs.
type ActionType string

const (
	ActionSendMessage          ActionType = "send_message"
	ActionDelay                ActionType = "delay"
	ActionRedirectConversation ActionType = "redirect_conversation"
	ActionAddTag               ActionType = "add_tag"
	ActionRemoveTag            ActionType = "remove_tag"
	ActionTransferToHuman      ActionType = "transfer_to_human"
	ActionSendEmail            ActionType = "send_email"
	ActionWebhook              ActionType = "webhook"
	ActionCustomCode           ActionType = "custom_code"
)

// ActionTypes lists every supported action type.
var ActionTypes = []ActionType{
	ActionSendMessage,
	ActionDelay,
	ActionRedirectConversation,
	ActionAddTag,
	ActionRemoveTag,
	ActionTransferToHuman,
	ActionSendEmail,
	ActionWebhook,
	ActionCustomCode,
}

// ActionConfig is the configuration of an action node. Config holds the
// type-specific parameters and is checked against the action's JSON schema.
type ActionConfig struct {
	ActionType ActionType     `json:"action_type" validate:"required,oneof=send_message delay redirect_conversation add_tag remove_tag transfer_to_human send_email webhook custom_code"`
	Required   bool           `json:"required"`
	Config     map[string]any `json:"config"`
}

// TimeUnit is the unit of delay and timeout amounts.
type TimeUnit string

const (
	TimeUnitSeconds TimeUnit = "seconds"
	TimeUnitMinutes TimeUnit = "minutes"
	TimeUnitHours   TimeUnit = "hours"
	TimeUnitDays    TimeUnit = "days"
)

// Duration converts an amount of this unit into a time.Duration.
func (u TimeUnit) Duration(amount int) (time.Duration, error) {
	if amount < 0 {
		return 0, fmt.Errorf("negative amount %d", amount)
	}

	var unit time.Duration

	switch u {
	case TimeUnitSeconds:
		unit = time.Second
	case TimeUnitMinutes:
		unit = time.Minute
	case TimeUnitHours:
		unit = time.Hour
	case TimeUnitDays:
		unit = 24 * time.Hour
	default:
		return 0, fmt.Errorf("unknown time unit %q", u)
	}

	return time.Duration(amount) * unit, nil
}
