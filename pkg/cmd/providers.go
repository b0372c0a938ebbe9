package cmd

import (
	"context"
	"log/slog"

	"github.com/dukex/replyflow/pkg/email/smtp"
	"github.com/dukex/replyflow/pkg/llm/openai"
	"github.com/dukex/replyflow/pkg/messaging/twilio"
	"github.com/dukex/replyflow/pkg/protocol"
)

// ProviderConfig selects the external collaborators. Empty credentials leave
// the matching collaborator unset.
type ProviderConfig struct {
	OpenAI openai.Config
	Twilio twilio.Config
	SMTP   smtp.Config
}

type Providers struct {
	LanguageModel protocol.LanguageModel
	Messenger     protocol.Messenger
	Email         protocol.EmailSender
}

func NewProviders(config ProviderConfig, addresses twilio.AddressBook, logger *slog.Logger) (Providers, error) {
	var providers Providers

	if config.OpenAI.APIKey != "" {
		client, err := openai.NewClient(config.OpenAI, logger)
		if err != nil {
			return providers, err
		}

		providers.LanguageModel = client
	} else {
		logger.Warn("OpenAI is not configured, ai_prompt conditions evaluate to false")
	}

	if config.Twilio.AccountSID != "" {
		messenger, err := twilio.NewMessenger(config.Twilio, addresses, logger)
		if err != nil {
			return providers, err
		}

		providers.Messenger = messenger
	} else {
		logger.Warn("Twilio is not configured, outbound messages are only logged")
		providers.Messenger = &logMessenger{logger: logger.With("module", "log_messenger")}
	}

	if config.SMTP.Host != "" {
		sender, err := smtp.NewSender(config.SMTP, logger)
		if err != nil {
			return providers, err
		}

		providers.Email = sender
	} else {
		logger.Warn("SMTP is not configured, send_email actions fail")
	}

	return providers, nil
}

// logMessenger stands in for a real channel in local runs.
type logMessenger struct {
	logger *slog.Logger
}

func (m *logMessenger) Send(ctx context.Context, conversationID, text string) (string, error) {
	m.logger.InfoContext(ctx, "Outbound message", "conversation_id", conversationID, "text", text)

	return "", nil
}
