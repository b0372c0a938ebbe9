package cmd

import (
	"context"
	"log/slog"

	"github.com/dukex/replyflow/pkg/autoreply"
	"github.com/dukex/replyflow/pkg/customers"
	"github.com/dukex/replyflow/pkg/lock"
	"github.com/dukex/replyflow/pkg/messaging/twilio"
	"github.com/dukex/replyflow/pkg/protocol"
)

// CustomerBackend is everything the engine and the auto-responder gate read and
// write about customers and conversations.
type CustomerBackend interface {
	protocol.CustomerStore
	protocol.CustomerProfiles
	protocol.ConversationRouter
	autoreply.StateReader
	twilio.AddressBook
	SetAddress(ctx context.Context, conversationID, address string) error
}

// SharedState holds the locker and the customer backend. With a Redis URL both
// live in Redis and are shared across processes; without one they are in-memory.
type SharedState struct {
	Locker    lock.Locker
	Customers CustomerBackend

	close func() error
}

func NewSharedState(ctx context.Context, logger *slog.Logger, redisURL string) (*SharedState, error) {
	if redisURL == "" {
		logger.WarnContext(ctx, "No Redis URL configured, locks and customer state are local to this process")

		return &SharedState{
			Locker:    lock.NewMemory(),
			Customers: customers.NewMemoryStore(),
			close:     func() error { return nil },
		}, nil
	}

	locker, err := lock.NewRedis(ctx, logger, redisURL)
	if err != nil {
		return nil, err
	}

	return &SharedState{
		Locker:    locker,
		Customers: customers.NewRedisStore(locker.Client()),
		close:     locker.Close,
	}, nil
}

func (s *SharedState) Close() error {
	return s.close()
}
