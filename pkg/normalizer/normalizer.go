// Package normalizer turns inbound business signals into models.Event values.
//
// Event ids are stable: a source id is kept verbatim, otherwise the id is a
// UUIDv5 of the signal's natural key so a redelivered signal maps to the same
// event and therefore to the same trigger dedupe keys.
package normalizer

import (
	"errors"
	"maps"
	"strings"
	"time"

	"github.com/dukex/replyflow/pkg/models"
	"github.com/google/uuid"
)

var namespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://replyflow.dev/events"))

var (
	ErrMissingCustomer     = errors.New("customer id is required")
	ErrMissingConversation = errors.New("conversation id is required")
	ErrMissingTag          = errors.New("tag is required")
)

type IncomingMessage struct {
	ID             string
	CustomerID     string
	ConversationID string
	Channel        string
	Text           string
	ReceivedAt     time.Time
}

type NewCustomer struct {
	CustomerID string
	Channel    string
	Profile    map[string]any
	CreatedAt  time.Time
}

type TagChange struct {
	ID         string
	CustomerID string
	Tag        string
	Added      bool
	ChangedAt  time.Time
}

func stableID(sourceID string, parts ...string) string {
	if sourceID != "" {
		return sourceID
	}

	return uuid.NewSHA1(namespace, []byte(strings.Join(parts, "\x1f"))).String()
}

func orNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}

	return t.UTC()
}

func Message(msg IncomingMessage) (*models.Event, error) {
	if msg.ConversationID == "" {
		return nil, ErrMissingConversation
	}

	at := orNow(msg.ReceivedAt)

	return &models.Event{
		ID:             stableID(msg.ID, "message", msg.ConversationID, at.Format(time.RFC3339Nano), msg.Text),
		Type:           models.EventMessageReceived,
		Timestamp:      at,
		CustomerID:     msg.CustomerID,
		ConversationID: msg.ConversationID,
		Channel:        strings.ToLower(strings.TrimSpace(msg.Channel)),
		Payload: map[string]any{
			models.PayloadContent: msg.Text,
		},
	}, nil
}

// Customer ids are unique, so a customer creation has a single natural event.
func Customer(c NewCustomer) (*models.Event, error) {
	if c.CustomerID == "" {
		return nil, ErrMissingCustomer
	}

	payload := map[string]any{}
	if c.Profile != nil {
		payload[models.PayloadProfile] = maps.Clone(c.Profile)
	}

	return &models.Event{
		ID:         stableID("", "customer", c.CustomerID),
		Type:       models.EventUserCreated,
		Timestamp:  orNow(c.CreatedAt),
		CustomerID: c.CustomerID,
		Channel:    strings.ToLower(strings.TrimSpace(c.Channel)),
		Payload:    payload,
	}, nil
}

func Tag(change TagChange) (*models.Event, error) {
	if change.CustomerID == "" {
		return nil, ErrMissingCustomer
	}

	tag := strings.TrimSpace(change.Tag)
	if tag == "" {
		return nil, ErrMissingTag
	}

	eventType := models.EventTagRemoved
	if change.Added {
		eventType = models.EventTagAdded
	}

	at := orNow(change.ChangedAt)

	return &models.Event{
		ID:         stableID(change.ID, string(eventType), change.CustomerID, tag, at.Format(time.RFC3339Nano)),
		Type:       eventType,
		Timestamp:  at,
		CustomerID: change.CustomerID,
		Payload: map[string]any{
			models.PayloadTag: tag,
		},
	}, nil
}

// ScheduleTick is keyed by its minute, so every ticker replica produces the same event.
func ScheduleTick(at time.Time) *models.Event {
	minute := at.UTC().Truncate(time.Minute)

	return &models.Event{
		ID:        stableID("", "schedule", minute.Format(time.RFC3339)),
		Type:      models.EventScheduleTick,
		Timestamp: minute,
		Payload:   map[string]any{},
	}
}
