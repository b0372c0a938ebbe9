package actions

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dukex/replyflow/pkg/models"
	"github.com/dukex/replyflow/pkg/protocol"
	"github.com/dukex/replyflow/pkg/template"
)

// recipients accepts a single address or a list.
type recipients []string

func (r *recipients) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*r = recipients{single}

		return nil
	}

	var list []string

	err := json.Unmarshal(data, &list)
	if err != nil {
		return fmt.Errorf("recipients must be a string or a list of strings: %w", err)
	}

	*r = list

	return nil
}

type emailConfig struct {
	From    string     `json:"from"`
	To      recipients `json:"to"`
	Cc      recipients `json:"cc"`
	Subject string     `json:"subject"`
	Body    string     `json:"body"`
	HTML    bool       `json:"html"`
}

type sendEmail struct {
	deps Dependencies
}

func (a *sendEmail) Type() models.ActionType { return models.ActionSendEmail }
func (a *sendEmail) Name() string            { return "Send Email" }

func (a *sendEmail) Description() string {
	return "Sends an email, retrying transient failures with exponential backoff."
}

func (a *sendEmail) Schema() map[string]any {
	addresses := map[string]any{
		"type":  []string{"string", "array"},
		"items": map[string]any{"type": "string"},
	}

	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"from":    map[string]any{"type": "string"},
			"to":      addresses,
			"cc":      addresses,
			"subject": map[string]any{"type": "string", "minLength": 1},
			"body":    map[string]any{"type": "string", "minLength": 1, "format": "code"},
			"html":    map[string]any{"type": "boolean", "default": false},
		},
		"required":             []string{"to", "subject", "body"},
		"additionalProperties": false,
	}
}

func (a *sendEmail) Execute(ctx context.Context, req Request) (Result, error) {
	if a.deps.Email == nil {
		return Result{}, ErrNoEmailSender
	}

	var config emailConfig

	err := decode(req.NodeID, req.Action.Config, &config)
	if err != nil {
		return Result{}, err
	}

	email, err := renderEmail(config, req.Context)
	if err != nil {
		return Result{}, err
	}

	if len(email.To) == 0 {
		return Result{}, fmt.Errorf("email has no recipients after rendering")
	}

	_, attempts, err := withRetry(ctx, a.deps.Retry, a.deps.Logger, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, a.deps.Email.Send(ctx, email)
	})
	if err != nil {
		return Result{}, fmt.Errorf("failed to send email after %d attempts: %w", attempts, err)
	}

	return Result{Output: map[string]any{
		"to":       email.To,
		"subject":  email.Subject,
		"attempts": attempts,
	}}, nil
}

func renderEmail(config emailConfig, data map[string]any) (protocol.Email, error) {
	render := func(field, value string) (string, error) {
		out, err := template.RenderString(value, data)
		if err != nil {
			return "", fmt.Errorf("failed to render %s: %w", field, err)
		}

		return out, nil
	}

	renderAll := func(field string, values []string) ([]string, error) {
		out := make([]string, 0, len(values))

		for _, value := range values {
			rendered, err := render(field, value)
			if err != nil {
				return nil, err
			}

			if rendered = strings.TrimSpace(rendered); rendered != "" {
				out = append(out, rendered)
			}
		}

		return out, nil
	}

	var (
		email protocol.Email
		err   error
	)

	email.HTML = config.HTML

	if email.From, err = render("from", config.From); err != nil {
		return email, err
	}

	if email.To, err = renderAll("to", config.To); err != nil {
		return email, err
	}

	if email.Cc, err = renderAll("cc", config.Cc); err != nil {
		return email, err
	}

	if email.Subject, err = render("subject", config.Subject); err != nil {
		return email, err
	}

	if email.Body, err = render("body", config.Body); err != nil {
		return email, err
	}

	return email, nil
}
