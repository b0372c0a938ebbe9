// Package models defines the core domain models for conversation workflow automation
package models

import "time"

// WorkflowStatus represents the lifecycle state of a workflow.
type WorkflowStatus string

const (
	WorkflowStatusDraft  WorkflowStatus = "draft"  // Editable, not executable
	WorkflowStatusActive WorkflowStatus = "active" // Matched against events, executable
	WorkflowStatusPaused WorkflowStatus = "paused" // Not matched, in-flight executions halt at next step
)

// Workflow represents an automation graph of nodes connected by outcome-labeled edges.
type Workflow struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"                  validate:"required,min=3"`
	Description string            `json:"description,omitempty"`
	Status      WorkflowStatus    `json:"status"                validate:"required,oneof=draft active paused"`
	Nodes       []*WorkflowNode   `json:"nodes"                 validate:"dive"`
	Connections []*NodeConnection `json:"connections"           validate:"dive"`
	Owner       string            `json:"owner,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// IsActive reports whether the workflow accepts new executions and may advance existing ones.
func (w *Workflow) IsActive() bool {
	return w != nil && w.Status == WorkflowStatusActive
}

// NodeByID returns the node with the given ID, if it belongs to this workflow.
func (w *Workflow) NodeByID(id string) (*WorkflowNode, bool) {
	for _, node := range w.Nodes {
		if node.ID == id {
			return node, true
		}
	}

	return nil, false
}

// WhenNodes returns all entry nodes of the workflow.
func (w *Workflow) WhenNodes() []*WorkflowNode {
	nodes := make([]*WorkflowNode, 0)

	for _, node := range w.Nodes {
		if node.Type == NodeTypeWhen {
			nodes = append(nodes, node)
		}
	}

	return nodes
}

// OutgoingConnections returns the connections leaving the given node, in declaration order.
func (w *Workflow) OutgoingConnections(nodeID string) []*NodeConnection {
	connections := make([]*NodeConnection, 0)

	for _, conn := range w.Connections {
		if conn.SourceNodeID == nodeID {
			connections = append(connections, conn)
		}
	}

	return connections
}

// WhenNodeMatch pairs an active entry node with the workflow that owns it.
type WhenNodeMatch struct {
	Workflow *Workflow     `json:"workflow"`
	Node     *WorkflowNode `json:"node"`
}
