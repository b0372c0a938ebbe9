package normalizer_test

import (
	"testing"
	"time"

	"github.com/dukex/replyflow/pkg/models"
	"github.com/dukex/replyflow/pkg/normalizer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessage(t *testing.T) {
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	msg := normalizer.IncomingMessage{CustomerID: "c1", ConversationID: "conv-1", Channel: " WhatsApp ", Text: "what's the price?", ReceivedAt: at}

	event, err := normalizer.Message(msg)
	require.NoError(t, err)
	assert.Equal(t, models.EventMessageReceived, event.Type)
	assert.Equal(t, "whatsapp", event.Channel)
	assert.Equal(t, "what's the price?", event.Text())
	assert.Equal(t, at, event.Timestamp)
	assert.NotEmpty(t, event.ID)

	again, err := normalizer.Message(msg)
	require.NoError(t, err)
	assert.Equal(t, event.ID, again.ID, "redelivery keeps the event id")

	msg.Text = "hello"
	other, err := normalizer.Message(msg)
	require.NoError(t, err)
	assert.NotEqual(t, event.ID, other.ID)

	msg.ID = "wamid.123"
	sourced, err := normalizer.Message(msg)
	require.NoError(t, err)
	assert.Equal(t, "wamid.123", sourced.ID)

	_, err = normalizer.Message(normalizer.IncomingMessage{Text: "hi"})
	assert.ErrorIs(t, err, normalizer.ErrMissingConversation)
}

func TestCustomer(t *testing.T) {
	event, err := normalizer.Customer(normalizer.NewCustomer{CustomerID: "c1", Channel: "instagram", Profile: map[string]any{"name": "Ana"}})
	require.NoError(t, err)
	assert.Equal(t, models.EventUserCreated, event.Type)
	assert.Equal(t, map[string]any{"name": "Ana"}, event.Payload[models.PayloadProfile])

	again, err := normalizer.Customer(normalizer.NewCustomer{CustomerID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, event.ID, again.ID)

	_, err = normalizer.Customer(normalizer.NewCustomer{})
	assert.ErrorIs(t, err, normalizer.ErrMissingCustomer)
}

func TestTag(t *testing.T) {
	added, err := normalizer.Tag(normalizer.TagChange{CustomerID: "c1", Tag: " vip ", Added: true})
	require.NoError(t, err)
	assert.Equal(t, models.EventTagAdded, added.Type)
	assert.Equal(t, "vip", added.Tag())

	removed, err := normalizer.Tag(normalizer.TagChange{CustomerID: "c1", Tag: "vip"})
	require.NoError(t, err)
	assert.Equal(t, models.EventTagRemoved, removed.Type)

	_, err = normalizer.Tag(normalizer.TagChange{CustomerID: "c1"})
	assert.ErrorIs(t, err, normalizer.ErrMissingTag)
}

func TestScheduleTick(t *testing.T) {
	first := normalizer.ScheduleTick(time.Date(2025, 3, 1, 9, 30, 5, 0, time.UTC))
	second := normalizer.ScheduleTick(time.Date(2025, 3, 1, 9, 30, 55, 0, time.UTC))

	assert.Equal(t, models.EventScheduleTick, first.Type)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC), first.Timestamp)
}
