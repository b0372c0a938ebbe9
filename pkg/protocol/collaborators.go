// Package protocol defines the contracts between the workflow engine and the
// systems it drives: messaging, customer data, conversation routing, email,
// the language model and the durable task scheduler.
package protocol

import (
	"context"
	"time"

	"github.com/dukex/replyflow/pkg/models"
)

// Messenger delivers outbound text into a conversation.
type Messenger interface {
	// Send returns the provider message id.
	Send(ctx context.Context, conversationID, text string) (string, error)
}

// CustomerStore mutates customer records. AddTag and RemoveTag are set operations
// and must be idempotent.
type CustomerStore interface {
	AddTag(ctx context.Context, customerID, tag string) error
	RemoveTag(ctx context.Context, customerID, tag string) error
	SetField(ctx context.Context, customerID, field string, value any) error
}

// CustomerProfiles reads the customer snapshot placed in an execution context.
// The snapshot carries at least "id" and "tags".
type CustomerProfiles interface {
	Profile(ctx context.Context, customerID string) (map[string]any, error)
}

// ConversationRouter owns the routing state of a conversation.
type ConversationRouter interface {
	SetDepartment(ctx context.Context, conversationID, department string) error
	DisableAutoReply(ctx context.Context, conversationID string) error
	EnableAutoReply(ctx context.Context, conversationID string) error
}

// Email is a single outbound message.
type Email struct {
	From    string
	To      []string
	Cc      []string
	Subject string
	Body    string
	HTML    bool
}

type EmailSender interface {
	Send(ctx context.Context, email Email) error
}

// LanguageModel answers yes/no questions about a piece of context. Callers must
// treat it as slow and fallible.
type LanguageModel interface {
	Evaluate(ctx context.Context, prompt, snippet string) (bool, error)
}

// TaskScheduler durably enqueues work to run at or after runAt. It reports false
// when a pending task with the same dedupe key already exists.
type TaskScheduler interface {
	Enqueue(ctx context.Context, task *models.Task, runAt time.Time) (bool, error)
}
