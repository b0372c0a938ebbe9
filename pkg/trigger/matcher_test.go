package trigger_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/dukex/replyflow/pkg/models"
	"github.com/dukex/replyflow/pkg/testutil"
	"github.com/dukex/replyflow/pkg/trigger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticSource struct {
	workflows []*models.Workflow
	err       error
}

func (s *staticSource) GetAll(context.Context) ([]*models.Workflow, error) {
	return s.workflows, s.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func whenWorkflow(id string, status models.WorkflowStatus, when models.WhenConfig, active bool) *models.Workflow {
	return testutil.CreateTestWorkflow(
		testutil.WithWorkflowID(id),
		testutil.WithStatus(status),
		testutil.WithNodes(testutil.CreateTestNode(
			testutil.WithID("when-"+id),
			testutil.WithWhen(when),
			testutil.WithActive(active),
		)),
	)
}

func newMatcher(t *testing.T, workflows ...*models.Workflow) *trigger.Matcher {
	t.Helper()

	registry := trigger.NewRegistry(&staticSource{workflows: workflows}, testLogger())
	require.NoError(t, registry.Refresh(context.Background()))

	return trigger.NewMatcher(registry, testLogger())
}

func TestMatch_ReceiveMessage(t *testing.T) {
	matcher := newMatcher(t,
		whenWorkflow("price", models.WorkflowStatusActive, models.WhenConfig{WhenType: models.WhenTypeReceiveMessage, Keywords: []string{"price"}}, true),
		whenWorkflow("any", models.WorkflowStatusActive, models.WhenConfig{WhenType: models.WhenTypeReceiveMessage}, true),
		whenWorkflow("telegram", models.WorkflowStatusActive, models.WhenConfig{WhenType: models.WhenTypeReceiveMessage, Channels: []string{"Telegram"}}, true),
		whenWorkflow("paused", models.WorkflowStatusPaused, models.WhenConfig{WhenType: models.WhenTypeReceiveMessage}, true),
		whenWorkflow("inactive-node", models.WorkflowStatusActive, models.WhenConfig{WhenType: models.WhenTypeReceiveMessage}, false),
		whenWorkflow("tags", models.WorkflowStatusActive, models.WhenConfig{WhenType: models.WhenTypeAddTag}, true),
	)

	ids := func(matches []trigger.Match) []string {
		out := make([]string, 0, len(matches))
		for _, m := range matches {
			out = append(out, m.Workflow.ID)
		}

		return out
	}

	matches := matcher.Match(context.Background(), testutil.MessageEvent("e1", "conv-1", "What's the PRICE?"))
	assert.ElementsMatch(t, []string{"price", "any"}, ids(matches))

	matches = matcher.Match(context.Background(), testutil.MessageEvent("e2", "conv-1", "hello"))
	assert.ElementsMatch(t, []string{"any"}, ids(matches))

	telegram := testutil.MessageEvent("e3", "conv-1", "hello")
	telegram.Channel = "telegram"
	matches = matcher.Match(context.Background(), telegram)
	assert.ElementsMatch(t, []string{"any", "telegram"}, ids(matches))

	for _, m := range matches {
		assert.Equal(t, trigger.DedupeKey("e3", m.Workflow.ID, m.Node.ID), m.DedupeKey)
	}
}

func TestMatch_KeywordOnlyWorkflow(t *testing.T) {
	matcher := newMatcher(t,
		whenWorkflow("price", models.WorkflowStatusActive, models.WhenConfig{WhenType: models.WhenTypeReceiveMessage, Keywords: []string{"price"}}, true),
	)

	assert.Len(t, matcher.Match(context.Background(), testutil.MessageEvent("e1", "c", "what's the price?")), 1)
	assert.Empty(t, matcher.Match(context.Background(), testutil.MessageEvent("e2", "c", "hello")))
}

func TestMatch_Tags(t *testing.T) {
	matcher := newMatcher(t,
		whenWorkflow("vip", models.WorkflowStatusActive, models.WhenConfig{WhenType: models.WhenTypeAddTag, CustomerTags: []string{"VIP"}}, true),
		whenWorkflow("any-tag", models.WorkflowStatusActive, models.WhenConfig{WhenType: models.WhenTypeAddTag}, true),
	)

	assert.Len(t, matcher.Match(context.Background(), testutil.TagEvent("e1", "c1", "vip")), 2)
	assert.Len(t, matcher.Match(context.Background(), testutil.TagEvent("e2", "c1", "lead")), 1)

	removed := testutil.TagEvent("e3", "c1", "vip")
	removed.Type = models.EventTagRemoved
	assert.Empty(t, matcher.Match(context.Background(), removed))
}

func TestMatch_NewCustomer(t *testing.T) {
	matcher := newMatcher(t,
		whenWorkflow("welcome", models.WorkflowStatusActive, models.WhenConfig{WhenType: models.WhenTypeNewCustomer, Channels: []string{"instagram"}}, true),
	)

	event := &models.Event{ID: "e1", Type: models.EventUserCreated, CustomerID: "c1", Channel: "instagram"}
	assert.Len(t, matcher.Match(context.Background(), event), 1)

	event.Channel = "whatsapp"
	assert.Empty(t, matcher.Match(context.Background(), event))
}

func TestMatchScheduled(t *testing.T) {
	daily := whenWorkflow("daily", models.WorkflowStatusActive, models.WhenConfig{
		WhenType: models.WhenTypeScheduled,
		Schedule: &models.ScheduleSpec{Frequency: models.FrequencyDaily, Time: "09:30", StartDate: "2025-01-01"},
	}, true)
	broken := whenWorkflow("broken", models.WorkflowStatusActive, models.WhenConfig{
		WhenType: models.WhenTypeScheduled,
		Schedule: &models.ScheduleSpec{Frequency: models.FrequencyCron},
	}, true)

	matcher := newMatcher(t, daily, broken)

	at := time.Date(2025, 3, 1, 9, 30, 42, 0, time.UTC)

	matches := matcher.MatchScheduled(context.Background(), at)
	require.Len(t, matches, 1)
	assert.Equal(t, "daily", matches[0].Workflow.ID)
	assert.Equal(t, trigger.ScheduleDedupeKey("daily", "when-daily", at), matches[0].DedupeKey)

	assert.Empty(t, matcher.MatchScheduled(context.Background(), at.Add(time.Minute)))
	assert.Empty(t, matcher.MatchScheduled(context.Background(), time.Date(2024, 12, 31, 9, 30, 0, 0, time.UTC)))

	tick := &models.Event{ID: "tick", Type: models.EventScheduleTick, Timestamp: at}
	assert.Len(t, matcher.Match(context.Background(), tick), 1)
}

func TestRegistry_RefreshKeepsSnapshotOnError(t *testing.T) {
	source := &staticSource{workflows: []*models.Workflow{
		whenWorkflow("a", models.WorkflowStatusActive, models.WhenConfig{WhenType: models.WhenTypeReceiveMessage}, true),
		whenWorkflow("b", models.WorkflowStatusDraft, models.WhenConfig{WhenType: models.WhenTypeReceiveMessage}, true),
	}}
	registry := trigger.NewRegistry(source, testLogger())

	require.NoError(t, registry.Refresh(context.Background()))
	assert.Equal(t, 1, registry.Len())

	_, ok := registry.Workflow("b")
	assert.False(t, ok)

	source.err = errors.New("db down")
	require.Error(t, registry.Refresh(context.Background()))
	assert.Equal(t, 1, registry.Len())
}

func TestWhenTypeFor(t *testing.T) {
	whenType, ok := trigger.WhenTypeFor(models.EventMessageReceived)
	assert.True(t, ok)
	assert.Equal(t, models.WhenTypeReceiveMessage, whenType)

	_, ok = trigger.WhenTypeFor(models.EventTagRemoved)
	assert.False(t, ok)
}
