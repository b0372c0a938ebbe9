package trigger

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/dukex/replyflow/pkg/models"
	"github.com/dukex/replyflow/pkg/textnorm"
)

// Match is one (workflow, entry node) pair that must start an execution.
type Match struct {
	Workflow  *models.Workflow
	Node      *models.WorkflowNode
	DedupeKey string
}

var whenTypes = map[models.EventType]models.WhenType{
	models.EventMessageReceived: models.WhenTypeReceiveMessage,
	models.EventUserCreated:     models.WhenTypeNewCustomer,
	models.EventTagAdded:        models.WhenTypeAddTag,
	models.EventScheduleTick:    models.WhenTypeScheduled,
}

// WhenTypeFor maps an event type to the entry node type it can start.
func WhenTypeFor(eventType models.EventType) (models.WhenType, bool) {
	whenType, ok := whenTypes[eventType]

	return whenType, ok
}

// DedupeKey identifies the execution started by an event on one entry node.
func DedupeKey(eventID, workflowID, whenNodeID string) string {
	return "trigger:" + eventID + ":" + workflowID + ":" + whenNodeID
}

// ScheduleDedupeKey identifies the execution started by a schedule in one minute.
func ScheduleDedupeKey(workflowID, whenNodeID string, minute time.Time) string {
	return "schedule:" + workflowID + ":" + whenNodeID + ":" + minute.UTC().Truncate(time.Minute).Format(time.RFC3339)
}

type Matcher struct {
	registry *Registry
	logger   *slog.Logger
}

func NewMatcher(registry *Registry, logger *slog.Logger) *Matcher {
	return &Matcher{
		registry: registry,
		logger:   logger.With("module", "trigger_matcher"),
	}
}

// Match returns the entry nodes started by event. Schedule ticks are delegated
// to MatchScheduled; event types without an entry node type match nothing.
func (m *Matcher) Match(ctx context.Context, event *models.Event) []Match {
	whenType, ok := WhenTypeFor(event.Type)
	if !ok {
		m.logger.DebugContext(ctx, "No entry node type for event", "event_id", event.ID, "event_type", event.Type)

		return nil
	}

	if whenType == models.WhenTypeScheduled {
		return m.MatchScheduled(ctx, event.Timestamp)
	}

	matches := make([]Match, 0)

	for _, candidate := range m.registry.WhenNodes(whenType) {
		if !matchesEvent(candidate.Node.When, event) {
			continue
		}

		matches = append(matches, Match{
			Workflow:  candidate.Workflow,
			Node:      candidate.Node,
			DedupeKey: DedupeKey(event.ID, candidate.Workflow.ID, candidate.Node.ID),
		})
	}

	if len(matches) == 0 {
		m.logger.DebugContext(ctx, "Event matched no trigger", "event_id", event.ID, "event_type", event.Type)
	}

	return matches
}

func matchesEvent(when *models.WhenConfig, event *models.Event) bool {
	switch when.WhenType {
	case models.WhenTypeReceiveMessage:
		if len(when.Keywords) > 0 && !textnorm.ContainsAny(event.Text(), when.Keywords) {
			return false
		}

		return matchesChannel(when.Channels, event.Channel)
	case models.WhenTypeNewCustomer:
		return matchesChannel(when.Channels, event.Channel)
	case models.WhenTypeAddTag:
		if len(when.CustomerTags) == 0 {
			return true
		}

		tag := textnorm.Fold(event.Tag())

		return slices.ContainsFunc(when.CustomerTags, func(candidate string) bool {
			return textnorm.Fold(candidate) == tag
		})
	default:
		return false
	}
}

func matchesChannel(channels []string, channel string) bool {
	if len(channels) == 0 {
		return true
	}

	return slices.ContainsFunc(channels, func(candidate string) bool {
		return strings.EqualFold(strings.TrimSpace(candidate), channel)
	})
}

// MatchScheduled returns the scheduled entry nodes due in the minute containing now.
func (m *Matcher) MatchScheduled(ctx context.Context, now time.Time) []Match {
	minute := now.UTC().Truncate(time.Minute)
	matches := make([]Match, 0)

	for _, candidate := range m.registry.WhenNodes(models.WhenTypeScheduled) {
		spec := candidate.Node.When.Schedule
		if spec == nil {
			continue
		}

		due, err := spec.IsDue(minute)
		if err != nil {
			m.logger.WarnContext(ctx, "Invalid schedule on active workflow",
				"workflow_id", candidate.Workflow.ID,
				"node_id", candidate.Node.ID,
				"error", err,
			)

			continue
		}

		if !due {
			continue
		}

		matches = append(matches, Match{
			Workflow:  candidate.Workflow,
			Node:      candidate.Node,
			DedupeKey: ScheduleDedupeKey(candidate.Workflow.ID, candidate.Node.ID, minute),
		})
	}

	return matches
}
