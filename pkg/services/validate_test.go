package services

import (
	"errors"
	"testing"

	"github.com/dukex/replyflow/pkg/models"
	"github.com/dukex/replyflow/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func problemsOf(t *testing.T, err error) []models.ConfigurationProblem {
	t.Helper()

	var problems *models.ConfigurationError
	require.True(t, errors.As(err, &problems), "expected a configuration error, got %v", err)

	return problems.Problems
}

func TestValidate_AcceptsValidWorkflow(t *testing.T) {
	workflow := draftWorkflow()
	workflow.Status = models.WorkflowStatusActive

	assert.NoError(t, Validate(workflow))
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	workflow := testutil.CreateTestWorkflow(
		testutil.WithNodes(
			testutil.CreateTestNode(testutil.WithID("check"), testutil.WithCondition(models.CombinationAnd)),
			testutil.CreateTestNode(testutil.WithID("send"), testutil.WithAction(models.ActionSendMessage, map[string]any{})),
			testutil.CreateTestNode(testutil.WithID("ask"), testutil.WithWaiting(models.WaitingConfig{
				AnswerType:      models.AnswerChoice,
				StorageType:     models.StorageSession,
				StorageField:    "plan",
				CustomerMessage: "Which plan?",
			})),
		),
		testutil.WithConnections(
			testutil.Connect("send", "ask", models.ConnectionTimeout),
			testutil.ConnectIf("send", "check", true),
		),
	)

	problems := problemsOf(t, Validate(workflow))

	byNode := map[string][]string{}
	for _, p := range problems {
		byNode[p.NodeID] = append(byNode[p.NodeID], p.String())
	}

	assert.NotEmpty(t, byNode["check"], "condition node without conditions")
	assert.NotEmpty(t, byNode["send"], "missing message and misplaced edges")
	assert.NotEmpty(t, byNode["ask"], "choice without options")
	assert.Contains(t, byNode[""], "nodes: active workflow needs at least one active when node")
}

func TestValidate_NodeConfigMismatch(t *testing.T) {
	node := testutil.CreateTestNode(testutil.WithID("broken"))
	node.Type = models.NodeTypeWaiting

	workflow := testutil.CreateTestWorkflow(
		testutil.WithStatus(models.WorkflowStatusDraft),
		testutil.WithNodes(node),
	)

	problems := problemsOf(t, Validate(workflow))
	require.NotEmpty(t, problems)
	assert.Equal(t, "broken", problems[len(problems)-1].NodeID)
}

func TestValidate_InvalidSchedule(t *testing.T) {
	workflow := testutil.CreateTestWorkflow(
		testutil.WithStatus(models.WorkflowStatusDraft),
		testutil.WithNodes(testutil.CreateTestNode(testutil.WithID("daily"), testutil.WithWhen(models.WhenConfig{
			WhenType: models.WhenTypeScheduled,
			Schedule: &models.ScheduleSpec{Frequency: models.FrequencyDaily, Time: "25:99", StartDate: "2025-01-01"},
		}))),
	)

	problems := problemsOf(t, Validate(workflow))
	assert.Equal(t, "when.schedule", problems[0].Field)
}

func TestValidate_Nil(t *testing.T) {
	assert.ErrorIs(t, Validate(nil), ErrWorkflowNil)
}
