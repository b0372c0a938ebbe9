package openai_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/dukex/replyflow/pkg/llm/openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func completionServer(t *testing.T, answer string, seen *map[string]any) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)

		if seen != nil {
			assert.NoError(t, json.Unmarshal(body, seen))
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 0,
			"model":   "gpt-4o-mini",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": answer},
			}},
		})
	}))
	t.Cleanup(server.Close)

	return server
}

func newClient(t *testing.T, baseURL string) *openai.Client {
	t.Helper()

	client, err := openai.NewClient(openai.Config{APIKey: "test", BaseURL: baseURL},
		slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError})))
	require.NoError(t, err)

	return client
}

func TestEvaluate(t *testing.T) {
	var request map[string]any

	server := completionServer(t, "Yes.", &request)
	client := newClient(t, server.URL)

	answer, err := client.Evaluate(context.Background(), "Is the customer angry?", `{"message_content":"this is awful"}`)
	require.NoError(t, err)
	assert.True(t, answer)

	assert.Equal(t, "gpt-4o-mini", request["model"])
	messages, ok := request["messages"].([]any)
	require.True(t, ok)
	assert.Len(t, messages, 2)
}

func TestEvaluate_AmbiguousAnswer(t *testing.T) {
	server := completionServer(t, "It depends", nil)
	client := newClient(t, server.URL)

	_, err := client.Evaluate(context.Background(), "Is the customer angry?", "{}")
	assert.ErrorIs(t, err, openai.ErrAmbiguousAnswer)
}

func TestNewClient_RequiresAPIKey(t *testing.T) {
	_, err := openai.NewClient(openai.Config{}, slog.Default())
	assert.ErrorIs(t, err, openai.ErrMissingAPIKey)
}

func TestParseAnswer(t *testing.T) {
	tests := []struct {
		answer string
		want   bool
	}{
		{"yes", true},
		{"YES!", true},
		{"Yes, clearly", true},
		{"no", false},
		{" No. ", false},
		{"false", false},
	}

	for _, tt := range tests {
		t.Run(tt.answer, func(t *testing.T) {
			got, err := openai.ParseAnswer(tt.answer)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
