package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/dukex/replyflow/pkg/eventbus"
	"github.com/dukex/replyflow/pkg/events"
	"github.com/dukex/replyflow/pkg/models"
	"github.com/dukex/replyflow/pkg/normalizer"
)

var ErrUnknownEventType = errors.New("unknown event type")

type ingestInput struct {
	Type           string
	ID             string
	CustomerID     string
	ConversationID string
	Channel        string
	Text           string
	Tag            string
}

func buildEvent(in ingestInput) (*models.Event, error) {
	switch models.EventType(in.Type) {
	case models.EventMessageReceived, "message":
		return normalizer.Message(normalizer.IncomingMessage{
			ID:             in.ID,
			CustomerID:     in.CustomerID,
			ConversationID: in.ConversationID,
			Channel:        in.Channel,
			Text:           in.Text,
		})
	case models.EventUserCreated, "customer":
		return normalizer.Customer(normalizer.NewCustomer{
			CustomerID: in.CustomerID,
			Channel:    in.Channel,
		})
	case models.EventTagAdded, models.EventTagRemoved:
		return normalizer.Tag(normalizer.TagChange{
			ID:         in.ID,
			CustomerID: in.CustomerID,
			Tag:        in.Tag,
			Added:      models.EventType(in.Type) == models.EventTagAdded,
		})
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, in.Type)
	}
}

// partitionKey keeps the events of one conversation, or else one customer, in order.
func partitionKey(event *models.Event) string {
	switch {
	case event.ConversationID != "":
		return event.ConversationID
	case event.CustomerID != "":
		return event.CustomerID
	default:
		return event.ID
	}
}

func publishEvent(ctx context.Context, publisher eventbus.EventPublisher, event *models.Event) error {
	return publisher.Publish(ctx, partitionKey(event), events.EventReceived{
		BaseEvent: events.NewBaseEvent(events.EventReceivedEvent, ""),
		Event:     event,
	})
}
