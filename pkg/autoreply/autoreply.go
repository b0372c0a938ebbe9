// Package autoreply coordinates the workflow engine and the external
// auto-responder so that at most one of them answers a given inbound event.
//
// Both sides claim the event before replying. The claim is a compare-and-set on
// a short-lived key per (conversation, event); the loser stays silent.
package autoreply

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/replyflow/pkg/lock"
	"github.com/dukex/replyflow/pkg/protocol"
)

type Owner string

const (
	OwnerEngine        Owner = "workflow_engine"
	OwnerAutoResponder Owner = "auto_responder"
)

// Policy controls how long a redirect keeps the auto-responder disabled.
type Policy string

const (
	// PolicyPermanent leaves auto-reply disabled after the redirect.
	PolicyPermanent Policy = "permanent"
	// PolicyExecution re-enables auto-reply when the redirecting execution ends.
	PolicyExecution Policy = "execution"
)

var ErrUnknownPolicy = errors.New("unknown auto reply policy")

func ParsePolicy(value string) (Policy, error) {
	switch Policy(value) {
	case "":
		return PolicyPermanent, nil
	case PolicyPermanent, PolicyExecution:
		return Policy(value), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownPolicy, value)
	}
}

const (
	DefaultClaimTTL   = 15 * time.Minute
	routingLockTTL    = 10 * time.Second
	routingLockPrefix = "routing:"
)

// StateReader exposes the auto-reply switch of a conversation.
type StateReader interface {
	AutoReplyEnabled(ctx context.Context, conversationID string) (bool, error)
}

type Coordinator struct {
	locker   lock.Locker
	router   protocol.ConversationRouter
	policy   Policy
	claimTTL time.Duration
	logger   *slog.Logger
}

func NewCoordinator(locker lock.Locker, router protocol.ConversationRouter, policy Policy, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		locker:   locker,
		router:   router,
		policy:   policy,
		claimTTL: DefaultClaimTTL,
		logger:   logger.With("module", "autoreply"),
	}
}

func (c *Coordinator) Policy() Policy {
	return c.policy
}

func claimKey(conversationID, eventID string) string {
	return "reply:" + conversationID + ":" + eventID
}

// Claim makes owner the only responder for the event. Claiming again as the same
// owner succeeds.
func (c *Coordinator) Claim(ctx context.Context, conversationID, eventID string, owner Owner) (bool, error) {
	if conversationID == "" || eventID == "" {
		return true, nil
	}

	claimed, err := c.locker.Acquire(ctx, claimKey(conversationID, eventID), string(owner), c.claimTTL)
	if err != nil {
		return false, fmt.Errorf("failed to claim conversation %s: %w", conversationID, err)
	}

	if !claimed {
		c.logger.DebugContext(ctx, "reply already claimed",
			"conversation_id", conversationID,
			"event_id", eventID,
			"owner", owner,
		)
	}

	return claimed, nil
}

// Responder returns who claimed the event, or "" when nobody did.
func (c *Coordinator) Responder(ctx context.Context, conversationID, eventID string) (Owner, error) {
	holder, err := c.locker.Holder(ctx, claimKey(conversationID, eventID))
	if err != nil {
		return "", fmt.Errorf("failed to read responder of conversation %s: %w", conversationID, err)
	}

	return Owner(holder), nil
}

// Handover routes the conversation to department and disables auto-reply. The
// event is claimed for the engine so the auto-responder does not answer it, and
// the routing change itself is serialized per conversation. The returned flag
// reports whether auto-reply must be restored when the execution ends.
func (c *Coordinator) Handover(ctx context.Context, conversationID, eventID, department string) (bool, error) {
	if conversationID == "" {
		return false, errors.New("handover requires a conversation")
	}

	_, err := c.Claim(ctx, conversationID, eventID, OwnerEngine)
	if err != nil {
		return false, err
	}

	token := "handover:" + eventID
	key := routingLockPrefix + conversationID

	acquired, err := c.locker.Acquire(ctx, key, token, routingLockTTL)
	if err != nil {
		return false, fmt.Errorf("failed to lock conversation %s routing: %w", conversationID, err)
	}

	if !acquired {
		return false, fmt.Errorf("conversation %s routing is being changed by another worker", conversationID)
	}

	defer func() {
		if err := c.locker.Release(ctx, key, token); err != nil {
			c.logger.WarnContext(ctx, "failed to release routing lock", "conversation_id", conversationID, "error", err)
		}
	}()

	if department != "" {
		err = c.router.SetDepartment(ctx, conversationID, department)
		if err != nil {
			return false, err
		}
	}

	err = c.router.DisableAutoReply(ctx, conversationID)
	if err != nil {
		return false, err
	}

	c.logger.InfoContext(ctx, "conversation handed over",
		"conversation_id", conversationID,
		"department", department,
		"policy", c.policy,
	)

	return c.policy == PolicyExecution, nil
}

// Restore re-enables auto-reply for a conversation handed over under PolicyExecution.
func (c *Coordinator) Restore(ctx context.Context, conversationID string) error {
	if c.policy != PolicyExecution || conversationID == "" {
		return nil
	}

	err := c.router.EnableAutoReply(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("failed to restore auto reply of conversation %s: %w", conversationID, err)
	}

	return nil
}

// Gate is the auto-responder side of the protocol.
type Gate struct {
	coordinator *Coordinator
	state       StateReader
}

func NewGate(coordinator *Coordinator, state StateReader) *Gate {
	return &Gate{coordinator: coordinator, state: state}
}

// ShouldReply reports whether the auto-responder may answer the event. A true
// result is a claim: the engine will stay silent for that event.
func (g *Gate) ShouldReply(ctx context.Context, conversationID, eventID string) (bool, error) {
	enabled, err := g.state.AutoReplyEnabled(ctx, conversationID)
	if err != nil {
		return false, err
	}

	if !enabled {
		return false, nil
	}

	return g.coordinator.Claim(ctx, conversationID, eventID, OwnerAutoResponder)
}
