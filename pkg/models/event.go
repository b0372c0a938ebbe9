package models

import (
	"fmt"
	"time"
)

// EventType identifies a normalized inbound business event.
type EventType string

const (
	EventMessageReceived EventType = "message_received"
	EventUserCreated     EventType = "user_created"
	EventTagAdded        EventType = "tag_added"
	EventTagRemoved      EventType = "tag_removed"
	EventScheduleTick    EventType = "schedule_tick"
)

const (
	PayloadContent = "content"
	PayloadTag     = "tag"
	PayloadTags    = "tags"
	PayloadProfile = "profile"
)

// Event is the uniform record every inbound input is converted into.
type Event struct {
	ID             string         `json:"id"`
	Type           EventType      `json:"type"`
	Timestamp      time.Time      `json:"timestamp"`
	CustomerID     string         `json:"customer_id,omitempty"`
	ConversationID string         `json:"conversation_id,omitempty"`
	Channel        string         `json:"channel,omitempty"`
	Payload        map[string]any `json:"payload,omitempty"`
}

// Text returns the message text carried by a message event.
func (e *Event) Text() string {
	return e.payloadString(PayloadContent)
}

// Tag returns the tag carried by a tag event.
func (e *Event) Tag() string {
	return e.payloadString(PayloadTag)
}

func (e *Event) payloadString(key string) string {
	if e.Payload == nil {
		return ""
	}

	switch v := e.Payload[key].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// AsMap renders the event into the shape stored under the "event" context key.
func (e *Event) AsMap() map[string]any {
	data := make(map[string]any, len(e.Payload))
	for k, v := range e.Payload {
		data[k] = v
	}

	return map[string]any{
		"id":              e.ID,
		"type":            string(e.Type),
		"timestamp":       e.Timestamp.Format(time.RFC3339),
		"customer_id":     e.CustomerID,
		"conversation_id": e.ConversationID,
		"channel":         e.Channel,
		"data":            data,
	}
}
