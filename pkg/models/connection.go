package models

// ConnectionType is the outcome label carried by an edge.
type ConnectionType string

const (
	ConnectionSuccess ConnectionType = "success"
	ConnectionFailure ConnectionType = "failure"
	ConnectionTimeout ConnectionType = "timeout"
	ConnectionSkip    ConnectionType = "skip"
)

// NodeConnection is a directed, outcome-labeled edge between two nodes of the same workflow.
type NodeConnection struct {
	ID             string         `json:"id"`
	WorkflowID     string         `json:"workflow_id"`
	SourceNodeID   string         `json:"source_node_id"  validate:"required"`
	TargetNodeID   string         `json:"target_node_id"  validate:"required"`
	ConnectionType ConnectionType `json:"connection_type" validate:"required,oneof=success failure timeout skip"`
	// Condition, when set on an edge leaving a condition node, selects the edge
	// by the node's boolean result instead of ConnectionType.
	Condition *bool `json:"condition,omitempty"`
}
