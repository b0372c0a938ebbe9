package models

import (
	"errors"
	"fmt"
)

// NodeType discriminates the WorkflowNode tagged union.
type NodeType string

const (
	NodeTypeWhen      NodeType = "when"
	NodeTypeCondition NodeType = "condition"
	NodeTypeAction    NodeType = "action"
	NodeTypeWaiting   NodeType = "waiting"
)

// WorkflowNode is a node instance in a workflow. Exactly one of the typed
// configurations is set and it must match Type.
type WorkflowNode struct {
	ID         string   `json:"id"          validate:"required"`
	WorkflowID string   `json:"workflow_id"`
	Type       NodeType `json:"node_type"   validate:"required,oneof=when condition action waiting"`
	Title      string   `json:"title"`
	IsActive   bool     `json:"is_active"`

	When      *WhenConfig      `json:"when,omitempty"`
	Condition *ConditionConfig `json:"condition,omitempty"`
	Action    *ActionConfig    `json:"action,omitempty"`
	Waiting   *WaitingConfig   `json:"waiting,omitempty"`
}

// NodeConfig is the closed set of node configurations.
type NodeConfig interface {
	nodeType() NodeType
}

func (*WhenConfig) nodeType() NodeType      { return NodeTypeWhen }
func (*ConditionConfig) nodeType() NodeType { return NodeTypeCondition }
func (*ActionConfig) nodeType() NodeType    { return NodeTypeAction }
func (*WaitingConfig) nodeType() NodeType   { return NodeTypeWaiting }

var (
	ErrNodeConfigMissing  = errors.New("node configuration missing")
	ErrNodeConfigMismatch = errors.New("node configuration does not match node type")
)

// Config returns the typed configuration for the node type.
// Callers switch exhaustively over the concrete type.
func (n *WorkflowNode) Config() (NodeConfig, error) {
	var configs []NodeConfig

	if n.When != nil {
		configs = append(configs, n.When)
	}

	if n.Condition != nil {
		configs = append(configs, n.Condition)
	}

	if n.Action != nil {
		configs = append(configs, n.Action)
	}

	if n.Waiting != nil {
		configs = append(configs, n.Waiting)
	}

	switch len(configs) {
	case 0:
		return nil, fmt.Errorf("node %s: %w", n.ID, ErrNodeConfigMissing)
	case 1:
	default:
		return nil, fmt.Errorf("node %s: %w: %d configurations set", n.ID, ErrNodeConfigMismatch, len(configs))
	}

	if configs[0].nodeType() != n.Type {
		return nil, fmt.Errorf("node %s: %w: %s vs %s", n.ID, ErrNodeConfigMismatch, n.Type, configs[0].nodeType())
	}

	return configs[0], nil
}

// NodeStatus records how a single node visit ended.
type NodeStatus string

const (
	NodeStatusSuccess   NodeStatus = "success"
	NodeStatusFailed    NodeStatus = "failed"
	NodeStatusSuspended NodeStatus = "suspended"
	NodeStatusSkipped   NodeStatus = "skipped"
)
