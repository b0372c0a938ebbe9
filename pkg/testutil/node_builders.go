// Package testutil provides test data builders and recording collaborators.
package testutil

import (
	"time"

	"github.com/dukex/replyflow/pkg/models"
	"github.com/google/uuid"
)

// CreateTestNode creates an active action node that can be overridden.
func CreateTestNode(overrides ...func(*models.WorkflowNode)) *models.WorkflowNode {
	node := &models.WorkflowNode{
		ID:       uuid.New().String(),
		Type:     models.NodeTypeAction,
		Title:    "Test Node",
		IsActive: true,
		Action: &models.ActionConfig{
			ActionType: models.ActionSendMessage,
			Config:     map[string]any{"message": "test"},
		},
	}

	for _, override := range overrides {
		override(node)
	}

	return node
}

// WithID sets the node id.
func WithID(id string) func(*models.WorkflowNode) {
	return func(n *models.WorkflowNode) {
		n.ID = id
	}
}

// WithTitle sets the node title.
func WithTitle(title string) func(*models.WorkflowNode) {
	return func(n *models.WorkflowNode) {
		n.Title = title
	}
}

// WithActive sets the node active flag.
func WithActive(active bool) func(*models.WorkflowNode) {
	return func(n *models.WorkflowNode) {
		n.IsActive = active
	}
}

func setConfig(n *models.WorkflowNode, nodeType models.NodeType) {
	n.Type = nodeType
	n.When = nil
	n.Condition = nil
	n.Action = nil
	n.Waiting = nil
}

// WithWhen turns the node into an entry node.
func WithWhen(when models.WhenConfig) func(*models.WorkflowNode) {
	return func(n *models.WorkflowNode) {
		setConfig(n, models.NodeTypeWhen)
		n.When = &when
	}
}

// WithCondition turns the node into a condition node.
func WithCondition(operator models.CombinationOperator, conditions ...models.Condition) func(*models.WorkflowNode) {
	return func(n *models.WorkflowNode) {
		setConfig(n, models.NodeTypeCondition)
		n.Condition = &models.ConditionConfig{CombinationOperator: operator, Conditions: conditions}
	}
}

// WithAction turns the node into an action node.
func WithAction(actionType models.ActionType, config map[string]any) func(*models.WorkflowNode) {
	return func(n *models.WorkflowNode) {
		setConfig(n, models.NodeTypeAction)
		n.Action = &models.ActionConfig{ActionType: actionType, Config: config}
	}
}

// WithRequired marks an action node as required.
func WithRequired() func(*models.WorkflowNode) {
	return func(n *models.WorkflowNode) {
		if n.Action != nil {
			n.Action.Required = true
		}
	}
}

// WithWaiting turns the node into a waiting node.
func WithWaiting(waiting models.WaitingConfig) func(*models.WorkflowNode) {
	return func(n *models.WorkflowNode) {
		setConfig(n, models.NodeTypeWaiting)
		n.Waiting = &waiting
	}
}

// MessageCondition builds a message-type condition.
func MessageCondition(field string, operator models.ConditionOperator, value string) models.Condition {
	return models.Condition{Type: models.ConditionTypeMessage, Field: field, Operator: operator, Value: value}
}

// AICondition builds an ai-type condition.
func AICondition(prompt string) models.Condition {
	return models.Condition{Type: models.ConditionTypeAI, Prompt: prompt}
}

// Connect builds a connection between two nodes.
func Connect(source, target string, connectionType models.ConnectionType) *models.NodeConnection {
	return &models.NodeConnection{
		ID:             source + "->" + target + ":" + string(connectionType),
		SourceNodeID:   source,
		TargetNodeID:   target,
		ConnectionType: connectionType,
	}
}

// ConnectIf builds a condition branch edge selected by the boolean result.
func ConnectIf(source, target string, result bool) *models.NodeConnection {
	connectionType := models.ConnectionFailure
	if result {
		connectionType = models.ConnectionSuccess
	}

	conn := Connect(source, target, connectionType)
	conn.Condition = &result

	return conn
}

// CreateTestWorkflow creates an active workflow that can be overridden.
func CreateTestWorkflow(overrides ...func(*models.Workflow)) *models.Workflow {
	now := time.Now().UTC()

	workflow := &models.Workflow{
		ID:          uuid.New().String(),
		Name:        "Test Workflow",
		Status:      models.WorkflowStatusActive,
		Nodes:       []*models.WorkflowNode{},
		Connections: []*models.NodeConnection{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	for _, override := range overrides {
		override(workflow)
	}

	for _, node := range workflow.Nodes {
		node.WorkflowID = workflow.ID
	}

	for _, conn := range workflow.Connections {
		conn.WorkflowID = workflow.ID
	}

	return workflow
}

// WithNodes appends nodes to the workflow.
func WithNodes(nodes ...*models.WorkflowNode) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.Nodes = append(w.Nodes, nodes...)
	}
}

// WithConnections appends connections to the workflow.
func WithConnections(connections ...*models.NodeConnection) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.Connections = append(w.Connections, connections...)
	}
}

// WithStatus sets the workflow status.
func WithStatus(status models.WorkflowStatus) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.Status = status
	}
}

// WithWorkflowID sets the workflow id.
func WithWorkflowID(id string) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.ID = id
	}
}

// MessageEvent builds a message_received event.
func MessageEvent(id, conversationID, text string) *models.Event {
	return &models.Event{
		ID:             id,
		Type:           models.EventMessageReceived,
		Timestamp:      time.Now().UTC(),
		CustomerID:     "customer-" + conversationID,
		ConversationID: conversationID,
		Channel:        "whatsapp",
		Payload:        map[string]any{models.PayloadContent: text},
	}
}

// TagEvent builds a tag_added event.
func TagEvent(id, customerID, tag string) *models.Event {
	return &models.Event{
		ID:         id,
		Type:       models.EventTagAdded,
		Timestamp:  time.Now().UTC(),
		CustomerID: customerID,
		Payload:    map[string]any{models.PayloadTag: tag},
	}
}
