package models

// CombinationOperator joins the conditions of a condition node.
type CombinationOperator string

const (
	CombinationAnd CombinationOperator = "AND"
	CombinationOr  CombinationOperator = "OR"
)

// ConditionType selects how a single condition is evaluated.
type ConditionType string

const (
	ConditionTypeAI      ConditionType = "ai"
	ConditionTypeMessage ConditionType = "message"
)

// ConditionOperator compares a resolved field against a value.
type ConditionOperator string

const (
	OperatorEquals      ConditionOperator = "equals"
	OperatorNotEqual    ConditionOperator = "not_equal"
	OperatorContains    ConditionOperator = "contains"
	OperatorNotContains ConditionOperator = "not_contains"
	OperatorStartsWith  ConditionOperator = "starts_with"
	OperatorEndsWith    ConditionOperator = "ends_with"
	OperatorIsEmpty     ConditionOperator = "is_empty"
	OperatorIsNotEmpty  ConditionOperator = "is_not_empty"
)

// Condition is one predicate of a condition node.
type Condition struct {
	Type ConditionType `json:"type" validate:"required,oneof=ai message"`

	// Prompt is used by ai conditions.
	Prompt string `json:"prompt,omitempty" validate:"required_if=Type ai"`

	// Field, Operator and Value are used by message conditions.
	Field    string            `json:"field,omitempty"    validate:"required_if=Type message"`
	Operator ConditionOperator `json:"operator,omitempty" validate:"required_if=Type message,omitempty,oneof=equals not_equal contains not_contains starts_with ends_with is_empty is_not_empty"`
	Value    string            `json:"value,omitempty"`
}

// ConditionConfig is the configuration of a branching node.
type ConditionConfig struct {
	CombinationOperator CombinationOperator `json:"combination_operator" validate:"required,oneof=AND OR"`
	Conditions          []Condition         `json:"conditions"           validate:"required,min=1,dive"`
}
