package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dukex/replyflow/pkg/actions"
	"github.com/dukex/replyflow/pkg/models"
	"github.com/go-playground/validator/v10"
)

var structs = validator.New(validator.WithRequiredStructEnabled())

// Validate checks a workflow graph and returns a *models.ConfigurationError
// listing every problem, or nil. Active workflows also need an active entry node.
func Validate(workflow *models.Workflow) error {
	if workflow == nil {
		return ErrWorkflowNil
	}

	problems := &models.ConfigurationError{WorkflowID: workflow.ID}

	addStructProblems(problems, "", structs.StructExcept(workflow, "Nodes", "Connections"))

	nodes := make(map[string]*models.WorkflowNode, len(workflow.Nodes))

	for index, node := range workflow.Nodes {
		if node == nil {
			problems.Add("", fmt.Sprintf("nodes[%d]", index), "node is empty")

			continue
		}

		if _, seen := nodes[node.ID]; seen && node.ID != "" {
			problems.Add(node.ID, "id", "duplicate node id")
		}

		nodes[node.ID] = node

		validateNode(problems, node)
	}

	for index, conn := range workflow.Connections {
		validateConnection(problems, index, conn, nodes)
	}

	if workflow.Status == models.WorkflowStatusActive && !hasActiveEntry(workflow) {
		problems.Add("", "nodes", "active workflow needs at least one active when node")
	}

	return problems.OrNil()
}

func validateNode(problems *models.ConfigurationError, node *models.WorkflowNode) {
	addStructProblems(problems, node.ID, structs.Struct(node))

	config, err := node.Config()
	if err != nil {
		problems.Add(node.ID, "node_type", "%v", errors.Unwrap(err))

		return
	}

	switch c := config.(type) {
	case *models.WhenConfig:
		if c.WhenType == models.WhenTypeScheduled && c.Schedule != nil {
			err := c.Schedule.Validate()
			if err != nil {
				problems.Add(node.ID, "when.schedule", "%v", err)
			}
		}
	case *models.ConditionConfig:
		if len(c.Conditions) == 0 {
			problems.Add(node.ID, "condition.conditions", "condition node has no conditions")
		}
	case *models.ActionConfig:
		actions.ValidateConfig(problems, node.ID, c)
	case *models.WaitingConfig:
		if c.AnswerType == models.AnswerChoice && len(c.ChoiceOptions) == 0 {
			problems.Add(node.ID, "waiting.choice_options", "choice answers need options")
		}

		if c.ResponseTimeoutEnabled {
			_, err := c.Timeout()
			if err != nil {
				problems.Add(node.ID, "waiting.response_timeout", "%v", err)
			}
		}
	}
}

func validateConnection(problems *models.ConfigurationError, index int, conn *models.NodeConnection, nodes map[string]*models.WorkflowNode) {
	field := fmt.Sprintf("connections[%d]", index)

	if conn == nil {
		problems.Add("", field, "connection is empty")

		return
	}

	addStructProblems(problems, conn.SourceNodeID, structs.Struct(conn))

	source, ok := nodes[conn.SourceNodeID]
	if !ok && conn.SourceNodeID != "" {
		problems.Add("", field, "unknown source node %q", conn.SourceNodeID)
	}

	if _, ok := nodes[conn.TargetNodeID]; !ok && conn.TargetNodeID != "" {
		problems.Add("", field, "unknown target node %q", conn.TargetNodeID)
	}

	if source == nil {
		return
	}

	if conn.Condition != nil && source.Type != models.NodeTypeCondition {
		problems.Add(source.ID, field, "only condition nodes may branch on a boolean")
	}

	if (conn.ConnectionType == models.ConnectionTimeout || conn.ConnectionType == models.ConnectionSkip) &&
		source.Type != models.NodeTypeWaiting {
		problems.Add(source.ID, field, "%s connections only leave waiting nodes", conn.ConnectionType)
	}
}

func hasActiveEntry(workflow *models.Workflow) bool {
	for _, node := range workflow.WhenNodes() {
		if node.IsActive {
			return true
		}
	}

	return false
}

// addStructProblems turns validator tag failures into problems.
func addStructProblems(problems *models.ConfigurationError, nodeID string, err error) {
	if err == nil {
		return
	}

	var invalid validator.ValidationErrors
	if !errors.As(err, &invalid) {
		problems.Add(nodeID, "", "%v", err)

		return
	}

	for _, fieldErr := range invalid {
		problems.Add(nodeID, fieldPath(fieldErr.Namespace()), "failed %q validation", describeTag(fieldErr))
	}
}

// fieldPath drops the struct name that prefixes a validator namespace.
func fieldPath(namespace string) string {
	_, path, found := strings.Cut(namespace, ".")
	if !found {
		return namespace
	}

	return strings.ToLower(path)
}

func describeTag(fieldErr validator.FieldError) string {
	if fieldErr.Param() == "" {
		return fieldErr.Tag()
	}

	return fieldErr.Tag() + "=" + fieldErr.Param()
}
