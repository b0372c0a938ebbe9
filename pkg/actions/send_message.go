package actions

import (
	"context"
	"fmt"

	"github.com/dukex/replyflow/pkg/autoreply"
	"github.com/dukex/replyflow/pkg/models"
	"github.com/dukex/replyflow/pkg/template"
)

type sendMessageConfig struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id"`
}

// sendMessage replies in the conversation. The engine claims the inbound event
// first; when the auto-responder already answered it the send is suppressed.
type sendMessage struct {
	deps Dependencies
}

func (a *sendMessage) Type() models.ActionType { return models.ActionSendMessage }
func (a *sendMessage) Name() string            { return "Send Message" }

func (a *sendMessage) Description() string {
	return "Sends a templated message to the customer's conversation."
}

func (a *sendMessage) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"message": map[string]any{
				"type":        "string",
				"minLength":   1,
				"description": "Message text. Supports templating against the execution context.",
				"examples": []string{
					"Our price is $10",
					"Hi {{ .customer.name }}, thanks for reaching out!",
				},
			},
			"conversation_id": map[string]any{
				"type":        "string",
				"description": "Target conversation. Defaults to the conversation that started the execution.",
			},
		},
		"required":             []string{"message"},
		"additionalProperties": false,
	}
}

func (a *sendMessage) Execute(ctx context.Context, req Request) (Result, error) {
	if a.deps.Messenger == nil {
		return Result{}, ErrNoMessenger
	}

	var config sendMessageConfig

	err := decode(req.NodeID, req.Action.Config, &config)
	if err != nil {
		return Result{}, err
	}

	conversationID := conversationOf(req)

	if config.ConversationID != "" {
		conversationID, err = template.RenderString(config.ConversationID, req.Context)
		if err != nil {
			return Result{}, fmt.Errorf("failed to render conversation: %w", err)
		}
	}

	if conversationID == "" {
		return Result{}, ErrNoConversation
	}

	text, err := template.RenderString(config.Message, req.Context)
	if err != nil {
		return Result{}, fmt.Errorf("failed to render message: %w", err)
	}

	if a.deps.Coordinator != nil {
		claimed, err := a.deps.Coordinator.Claim(ctx, conversationID, req.ReplyEventID(), autoreply.OwnerEngine)
		if err != nil {
			return Result{}, err
		}

		if !claimed {
			a.deps.Logger.InfoContext(ctx, "Auto-responder already replied, message suppressed",
				"conversation_id", conversationID,
				"node_id", req.NodeID,
			)

			return Result{Output: map[string]any{
				"suppressed":      true,
				"conversation_id": conversationID,
			}}, nil
		}
	}

	messageID, err := a.deps.Messenger.Send(ctx, conversationID, text)
	if err != nil {
		return Result{}, fmt.Errorf("failed to send message: %w", err)
	}

	return Result{Output: map[string]any{
		"message_id":      messageID,
		"conversation_id": conversationID,
		"text":            text,
	}}, nil
}
