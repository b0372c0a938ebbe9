package actions

import (
	"context"
	"fmt"

	"github.com/dukex/replyflow/pkg/models"
	"github.com/dukex/replyflow/pkg/template"
)

type routingConfig struct {
	Department string `json:"department"`
}

func handover(ctx context.Context, deps Dependencies, req Request, department string) (Result, error) {
	if deps.Coordinator == nil {
		return Result{}, ErrNoRouter
	}

	conversationID := conversationOf(req)
	if conversationID == "" {
		return Result{}, ErrNoConversation
	}

	department, err := template.RenderString(department, req.Context)
	if err != nil {
		return Result{}, fmt.Errorf("failed to render department: %w", err)
	}

	restore, err := deps.Coordinator.Handover(ctx, conversationID, req.ReplyEventID(), department)
	if err != nil {
		return Result{}, err
	}

	return Result{
		Output: map[string]any{
			"conversation_id":     conversationID,
			"department":          department,
			"auto_reply_disabled": true,
		},
		RestoreAutoReply: restore,
	}, nil
}

func routingSchema(required bool) map[string]any {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"department": map[string]any{
				"type":        "string",
				"minLength":   1,
				"description": "Department that takes over the conversation.",
			},
		},
		"additionalProperties": false,
	}

	if required {
		schema["required"] = []string{"department"}
	}

	return schema
}

type redirect struct {
	deps Dependencies
}

func (a *redirect) Type() models.ActionType { return models.ActionRedirectConversation }
func (a *redirect) Name() string            { return "Redirect Conversation" }

func (a *redirect) Description() string {
	return "Routes the conversation to a department and turns off automatic replies."
}

func (a *redirect) Schema() map[string]any { return routingSchema(true) }

func (a *redirect) Execute(ctx context.Context, req Request) (Result, error) {
	var config routingConfig

	err := decode(req.NodeID, req.Action.Config, &config)
	if err != nil {
		return Result{}, err
	}

	return handover(ctx, a.deps, req, config.Department)
}

type transfer struct {
	deps Dependencies
}

func (a *transfer) Type() models.ActionType { return models.ActionTransferToHuman }
func (a *transfer) Name() string            { return "Transfer to Human" }

func (a *transfer) Description() string {
	return "Hands the conversation to a human agent and turns off automatic replies."
}

func (a *transfer) Schema() map[string]any { return routingSchema(false) }

func (a *transfer) Execute(ctx context.Context, req Request) (Result, error) {
	var config routingConfig

	err := decode(req.NodeID, req.Action.Config, &config)
	if err != nil {
		return Result{}, err
	}

	if config.Department == "" {
		config.Department = a.deps.HumanDepartment
	}

	return handover(ctx, a.deps, req, config.Department)
}
