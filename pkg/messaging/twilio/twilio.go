// Package twilio delivers outbound messages through the Twilio REST API.
package twilio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

var (
	ErrMissingCredentials = errors.New("twilio account SID and auth token must be provided")
	ErrMissingFrom        = errors.New("twilio sender number must be provided")
	ErrNoAddress          = errors.New("conversation has no address")
)

// MessageAPI is the part of the Twilio REST client used to send messages.
type MessageAPI interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// AddressBook resolves a conversation to the recipient address, such as
// "whatsapp:+15550100".
type AddressBook interface {
	Address(ctx context.Context, conversationID string) (string, error)
}

type Config struct {
	AccountSID string
	AuthToken  string
	// From is the sender, "whatsapp:+1..." for WhatsApp or a plain number for SMS.
	From string
}

// Messenger implements protocol.Messenger.
type Messenger struct {
	api       MessageAPI
	from      string
	addresses AddressBook
	logger    *slog.Logger
}

func NewMessenger(config Config, addresses AddressBook, logger *slog.Logger) (*Messenger, error) {
	if config.AccountSID == "" || config.AuthToken == "" {
		return nil, ErrMissingCredentials
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: config.AccountSID,
		Password: config.AuthToken,
	})

	return NewMessengerWithAPI(client.Api, config.From, addresses, logger)
}

func NewMessengerWithAPI(api MessageAPI, from string, addresses AddressBook, logger *slog.Logger) (*Messenger, error) {
	if from == "" {
		return nil, ErrMissingFrom
	}

	return &Messenger{
		api:       api,
		from:      from,
		addresses: addresses,
		logger:    logger.With("module", "twilio_messenger"),
	}, nil
}

// Send delivers text to the conversation's address and returns the message SID.
func (m *Messenger) Send(ctx context.Context, conversationID, text string) (string, error) {
	to, err := m.address(ctx, conversationID)
	if err != nil {
		return "", err
	}

	params := &twilioApi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(m.from)
	params.SetBody(text)

	resp, err := m.api.CreateMessage(params)
	if err != nil {
		return "", fmt.Errorf("failed to send message to conversation %s: %w", conversationID, err)
	}

	sid := ""
	if resp != nil && resp.Sid != nil {
		sid = *resp.Sid
	}

	m.logger.DebugContext(ctx, "Message sent", "conversation_id", conversationID, "sid", sid)

	return sid, nil
}

// address uses the address book entry, or the conversation id itself when it
// already is an address. WhatsApp senders get the "whatsapp:" prefix added.
func (m *Messenger) address(ctx context.Context, conversationID string) (string, error) {
	to := ""

	if m.addresses != nil {
		found, err := m.addresses.Address(ctx, conversationID)
		if err != nil {
			return "", fmt.Errorf("failed to resolve address of conversation %s: %w", conversationID, err)
		}

		to = found
	}

	if to == "" && (strings.HasPrefix(conversationID, "+") || strings.HasPrefix(conversationID, "whatsapp:")) {
		to = conversationID
	}

	if to == "" {
		return "", fmt.Errorf("%w: %s", ErrNoAddress, conversationID)
	}

	if strings.HasPrefix(m.from, "whatsapp:") && !strings.HasPrefix(to, "whatsapp:") {
		to = "whatsapp:" + to
	}

	return to, nil
}
