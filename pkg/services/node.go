package services

import (
	"context"
	"slices"

	"github.com/dukex/replyflow/pkg/models"
	"github.com/google/uuid"
)

// Node edits single nodes and connections of a workflow. Graph edits are
// refused while the workflow is active; toggling a node is always allowed.
type Node struct {
	workflows *Workflow
}

func NewNode(workflows *Workflow) *Node {
	return &Node{workflows: workflows}
}

// AddNode appends node to the workflow, generating its id when empty.
func (n *Node) AddNode(ctx context.Context, workflowID string, node *models.WorkflowNode) (*models.WorkflowNode, error) {
	workflow, err := n.editable(ctx, "AddNode", workflowID)
	if err != nil {
		return nil, err
	}

	if node.ID == "" {
		node.ID = uuid.New().String()
	}

	workflow.Nodes = append(workflow.Nodes, node)

	err = n.workflows.save(ctx, "AddNode", workflow)
	if err != nil {
		return nil, err
	}

	return node, nil
}

// GetNode retrieves a node of the workflow.
func (n *Node) GetNode(ctx context.Context, workflowID, nodeID string) (*models.WorkflowNode, error) {
	workflow, err := n.workflows.FetchByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	node, ok := workflow.NodeByID(nodeID)
	if !ok {
		return nil, ErrNodeNotFound
	}

	return node, nil
}

// UpdateNode replaces the node's title and configuration. The active flag is
// kept; use SetNodeActive to change it.
func (n *Node) UpdateNode(ctx context.Context, workflowID string, node *models.WorkflowNode) (*models.WorkflowNode, error) {
	workflow, err := n.editable(ctx, "UpdateNode", workflowID)
	if err != nil {
		return nil, err
	}

	index := slices.IndexFunc(workflow.Nodes, func(candidate *models.WorkflowNode) bool {
		return candidate.ID == node.ID
	})
	if index < 0 {
		return nil, ErrNodeNotFound
	}

	node.IsActive = workflow.Nodes[index].IsActive
	workflow.Nodes[index] = node

	err = n.workflows.save(ctx, "UpdateNode", workflow)
	if err != nil {
		return nil, err
	}

	return node, nil
}

// SetNodeActive enables or disables a node. Executions reaching a disabled
// node fail.
func (n *Node) SetNodeActive(ctx context.Context, workflowID, nodeID string, active bool) (*models.WorkflowNode, error) {
	workflow, err := n.workflows.FetchByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	node, ok := workflow.NodeByID(nodeID)
	if !ok {
		return nil, ErrNodeNotFound
	}

	node.IsActive = active
	workflow.UpdatedAt = n.workflows.now()

	err = n.workflows.save(ctx, "SetNodeActive", workflow)
	if err != nil {
		return nil, err
	}

	return node, nil
}

// DeleteNode removes a node and every connection touching it.
func (n *Node) DeleteNode(ctx context.Context, workflowID, nodeID string) error {
	workflow, err := n.editable(ctx, "DeleteNode", workflowID)
	if err != nil {
		return err
	}

	if _, ok := workflow.NodeByID(nodeID); !ok {
		return ErrNodeNotFound
	}

	workflow.Nodes = slices.DeleteFunc(workflow.Nodes, func(node *models.WorkflowNode) bool {
		return node.ID == nodeID
	})
	workflow.Connections = slices.DeleteFunc(workflow.Connections, func(conn *models.NodeConnection) bool {
		return conn.SourceNodeID == nodeID || conn.TargetNodeID == nodeID
	})

	return n.workflows.save(ctx, "DeleteNode", workflow)
}

// Connect adds an edge between two nodes of the workflow.
func (n *Node) Connect(ctx context.Context, workflowID string, conn *models.NodeConnection) (*models.NodeConnection, error) {
	workflow, err := n.editable(ctx, "Connect", workflowID)
	if err != nil {
		return nil, err
	}

	workflow.Connections = append(workflow.Connections, conn)

	err = n.workflows.save(ctx, "Connect", workflow)
	if err != nil {
		return nil, err
	}

	return conn, nil
}

// Disconnect removes an edge by id.
func (n *Node) Disconnect(ctx context.Context, workflowID, connectionID string) error {
	workflow, err := n.editable(ctx, "Disconnect", workflowID)
	if err != nil {
		return err
	}

	workflow.Connections = slices.DeleteFunc(workflow.Connections, func(conn *models.NodeConnection) bool {
		return conn.ID == connectionID
	})

	return n.workflows.save(ctx, "Disconnect", workflow)
}

func (n *Node) editable(ctx context.Context, op, workflowID string) (*models.Workflow, error) {
	workflow, err := n.workflows.FetchByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if workflow.IsActive() {
		return nil, &ServiceError{Op: op, Code: "WORKFLOW_ACTIVE", Err: ErrCannotModifyActive}
	}

	workflow.UpdatedAt = n.workflows.now()

	return workflow, nil
}
