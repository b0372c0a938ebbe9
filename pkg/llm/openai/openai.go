// Package openai answers AI conditions with an OpenAI chat model.
package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const DefaultModel = openaisdk.ChatModelGPT4oMini

var (
	ErrMissingAPIKey   = errors.New("openai API key not set")
	ErrNoChoices       = errors.New("no choices returned")
	ErrAmbiguousAnswer = errors.New("model did not answer yes or no")
)

const systemPrompt = `You decide whether a statement holds for a customer conversation.
You receive a question and a JSON excerpt of the conversation context.
Answer with a single word: "yes" or "no".`

type Config struct {
	APIKey string
	Model  string
	// BaseURL overrides the API endpoint, for proxies and tests.
	BaseURL string
}

// Client implements protocol.LanguageModel.
type Client struct {
	client openaisdk.Client
	model  string
	logger *slog.Logger
}

func NewClient(config Config, logger *slog.Logger) (*Client, error) {
	if config.APIKey == "" {
		return nil, ErrMissingAPIKey
	}

	opts := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}

	model := config.Model
	if model == "" {
		model = DefaultModel
	}

	return &Client{
		client: openaisdk.NewClient(opts...),
		model:  model,
		logger: logger.With("module", "openai"),
	}, nil
}

// Evaluate asks the model a yes/no question about snippet.
func (c *Client) Evaluate(ctx context.Context, prompt, snippet string) (bool, error) {
	resp, err := c.client.Chat.Completions.New(ctx, openaisdk.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openaisdk.ChatCompletionMessageParamUnion{
			openaisdk.SystemMessage(systemPrompt),
			openaisdk.UserMessage(fmt.Sprintf("Question: %s\n\nContext: %s", prompt, snippet)),
		},
		Temperature: openaisdk.Float(0),
	})
	if err != nil {
		return false, fmt.Errorf("chat completion failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return false, ErrNoChoices
	}

	answer := resp.Choices[0].Message.Content

	c.logger.DebugContext(ctx, "AI condition answered", "prompt", prompt, "answer", answer)

	return ParseAnswer(answer)
}

// ParseAnswer reads a yes/no reply, ignoring case and trailing punctuation.
func ParseAnswer(answer string) (bool, error) {
	word := strings.ToLower(strings.TrimSpace(answer))
	word = strings.TrimRight(word, ".!")

	switch {
	case word == "yes" || word == "true" || strings.HasPrefix(word, "yes,") || strings.HasPrefix(word, "yes "):
		return true, nil
	case word == "no" || word == "false" || strings.HasPrefix(word, "no,") || strings.HasPrefix(word, "no "):
		return false, nil
	default:
		return false, fmt.Errorf("%w: %q", ErrAmbiguousAnswer, answer)
	}
}
