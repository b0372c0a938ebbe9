package actions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/cenkalti/backoff/v5"
	"github.com/dukex/replyflow/pkg/execctx"
	"github.com/dukex/replyflow/pkg/models"
	"github.com/dukex/replyflow/pkg/template"
)

const maxWebhookResponse = 1 << 20

type webhookConfig struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers"`
	Payload any               `json:"payload"`
	// ResponseField stores the response under variables.<field>.
	ResponseField string `json:"response_field"`
}

type webhookResponse struct {
	StatusCode int
	Body       any
}

type webhook struct {
	deps Dependencies
}

func (a *webhook) Type() models.ActionType { return models.ActionWebhook }
func (a *webhook) Name() string            { return "Webhook" }

func (a *webhook) Description() string {
	return "Calls an HTTP endpoint with a templated payload. Server errors are retried, client errors are not."
}

func (a *webhook) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":      "string",
				"minLength": 1,
				"examples": []string{
					"https://crm.example.com/hooks/lead",
					"https://api.example.com/customers/{{ .customer.id }}",
				},
			},
			"method": map[string]any{
				"type":    "string",
				"default": http.MethodPost,
				"enum":    []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
			},
			"headers": map[string]any{
				"type":                 "object",
				"additionalProperties": map[string]any{"type": "string"},
			},
			"payload": map[string]any{
				"description": "JSON body. Strings inside are rendered against the execution context.",
			},
			"response_field": map[string]any{
				"type":        "string",
				"description": "Session variable that receives the response.",
			},
		},
		"required":             []string{"url"},
		"additionalProperties": false,
	}
}

func (a *webhook) Execute(ctx context.Context, req Request) (Result, error) {
	var config webhookConfig

	err := decode(req.NodeID, req.Action.Config, &config)
	if err != nil {
		return Result{}, err
	}

	if config.Method == "" {
		config.Method = http.MethodPost
	}

	url, err := template.RenderString(config.URL, req.Context)
	if err != nil {
		return Result{}, fmt.Errorf("failed to render url: %w", err)
	}

	headers := make(map[string]string, len(config.Headers))

	for key, value := range config.Headers {
		headers[key], err = template.RenderString(value, req.Context)
		if err != nil {
			return Result{}, fmt.Errorf("failed to render header '%s': %w", key, err)
		}
	}

	var body []byte

	if config.Payload != nil {
		payload, err := template.RenderTree(config.Payload, req.Context)
		if err != nil {
			return Result{}, fmt.Errorf("failed to render payload: %w", err)
		}

		body, err = json.Marshal(payload)
		if err != nil {
			return Result{}, fmt.Errorf("failed to marshal payload: %w", err)
		}
	}

	method := strings.ToUpper(config.Method)

	response, attempts, err := withRetry(ctx, a.deps.Retry, a.deps.Logger, func(ctx context.Context) (webhookResponse, error) {
		return a.call(ctx, method, url, headers, body)
	})
	if err != nil {
		return Result{}, fmt.Errorf("webhook %s %s failed after %d attempts: %w", method, url, attempts, err)
	}

	output := map[string]any{
		"status_code": response.StatusCode,
		"body":        response.Body,
		"attempts":    attempts,
	}

	result := Result{Output: output}

	if config.ResponseField != "" {
		result.Updates = map[string]any{
			execctx.KeyVariables: map[string]any{config.ResponseField: map[string]any{
				"status_code": response.StatusCode,
				"body":        response.Body,
			}},
		}
	}

	return result, nil
}

func (a *webhook) call(ctx context.Context, method, url string, headers map[string]string, body []byte) (webhookResponse, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return webhookResponse{}, backoff.Permanent(fmt.Errorf("failed to create http request: %w", err))
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := a.deps.HTTPClient.Do(req)
	if err != nil {
		return webhookResponse{}, fmt.Errorf("http request failed: %w", err)
	}

	defer func() {
		if err := resp.Body.Close(); err != nil {
			a.deps.Logger.ErrorContext(ctx, "failed to close response body", "error", err)
		}
	}()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxWebhookResponse))
	if err != nil {
		return webhookResponse{}, fmt.Errorf("failed to read response body: %w", err)
	}

	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		return webhookResponse{}, fmt.Errorf("%w: status %d", ErrWebhookServer, resp.StatusCode)
	case resp.StatusCode >= http.StatusBadRequest:
		return webhookResponse{}, backoff.Permanent(fmt.Errorf("%w: status %d", ErrWebhookClient, resp.StatusCode))
	}

	return webhookResponse{StatusCode: resp.StatusCode, Body: decodeBody(raw)}, nil
}

func decodeBody(raw []byte) any {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}

	var decoded any
	if err := json.Unmarshal(raw, &decoded); err == nil {
		return decoded
	}

	return string(raw)
}
