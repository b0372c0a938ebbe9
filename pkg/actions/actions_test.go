package actions_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dukex/replyflow/pkg/actions"
	"github.com/dukex/replyflow/pkg/autoreply"
	"github.com/dukex/replyflow/pkg/customers"
	"github.com/dukex/replyflow/pkg/lock"
	"github.com/dukex/replyflow/pkg/models"
	"github.com/dukex/replyflow/pkg/persistence/file"
	"github.com/dukex/replyflow/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, 3, 10, 9, 30, 0, 0, time.UTC)

type fixture struct {
	messenger   *testutil.RecordingMessenger
	customers   *customers.MemoryStore
	email       *testutil.RecordingEmailSender
	scheduler   *testutil.RecordingScheduler
	coordinator *autoreply.Coordinator
	dispatcher  *actions.Dispatcher
}

func newFixture(t *testing.T, policy autoreply.Policy) *fixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	f := &fixture{
		messenger: &testutil.RecordingMessenger{},
		customers: customers.NewMemoryStore(),
		email:     &testutil.RecordingEmailSender{},
		scheduler: &testutil.RecordingScheduler{},
	}

	f.coordinator = autoreply.NewCoordinator(lock.NewMemory(), f.customers, policy, logger)

	f.dispatcher = actions.NewDispatcher(actions.Dependencies{
		Messenger:   f.messenger,
		Customers:   f.customers,
		Coordinator: f.coordinator,
		Email:       f.email,
		Scheduler:   f.scheduler,
		Retry: actions.RetryPolicy{
			Attempts:        3,
			InitialInterval: time.Millisecond,
			AttemptTimeout:  time.Second,
		},
	}, file.NewIdempotencyRepository(t.TempDir()), logger)

	return f
}

func request(actionType models.ActionType, config map[string]any) actions.Request {
	return actions.Request{
		Execution: &models.WorkflowExecution{
			ID:             "exec-1",
			WorkflowID:     "wf-1",
			ConversationID: "conv-1",
			CustomerID:     "cust-1",
			TriggerEventID: "evt-1",
			Steps:          1,
		},
		NodeID: "node-1",
		Action: &models.ActionConfig{ActionType: actionType, Config: config},
		Context: map[string]any{
			"customer":  map[string]any{"id": "cust-1", "name": "ana", "tags": []any{"lead"}},
			"variables": map[string]any{"plan": "pro"},
		},
		Now: now,
	}
}

func TestSendMessage_RendersAndSendsOnce(t *testing.T) {
	f := newFixture(t, autoreply.PolicyPermanent)
	req := request(models.ActionSendMessage, map[string]any{
		"message": "Hi {{ title .customer.name }}, your plan is {{ .variables.plan }}",
	})

	result := f.dispatcher.Dispatch(context.Background(), req)
	require.NoError(t, result.Err)
	assert.Equal(t, actions.OutcomeSuccess, result.Outcome)
	assert.Equal(t, "msg-1", result.Output["message_id"])

	// A redelivered task replays the same visit.
	result = f.dispatcher.Dispatch(context.Background(), req)
	require.NoError(t, result.Err)
	assert.Equal(t, true, result.Output["deduplicated"])

	assert.Equal(t, []string{"Hi Ana, your plan is pro"}, f.messenger.Texts())
	assert.Equal(t, "conv-1", f.messenger.Messages()[0].ConversationID)

	// A later visit of the same node in a loop is a new send.
	req.Execution.Steps = 5
	result = f.dispatcher.Dispatch(context.Background(), req)
	require.NoError(t, result.Err)
	assert.Len(t, f.messenger.Texts(), 2)
}

func TestSendMessage_FailureReleasesKey(t *testing.T) {
	f := newFixture(t, autoreply.PolicyPermanent)
	req := request(models.ActionSendMessage, map[string]any{"message": "hello"})

	f.messenger.FailNext(1)

	result := f.dispatcher.Dispatch(context.Background(), req)
	assert.Equal(t, actions.OutcomeFailure, result.Outcome)

	var actionErr *models.ActionExecutionError
	require.ErrorAs(t, result.Err, &actionErr)
	assert.Equal(t, models.ActionSendMessage, actionErr.ActionType)
	assert.ErrorIs(t, result.Err, testutil.ErrInjected)

	result = f.dispatcher.Dispatch(context.Background(), req)
	require.NoError(t, result.Err)
	assert.Equal(t, []string{"hello"}, f.messenger.Texts())
}

func TestSendMessage_SuppressedWhenAutoResponderAnswered(t *testing.T) {
	f := newFixture(t, autoreply.PolicyPermanent)
	gate := autoreply.NewGate(f.coordinator, f.customers)

	reply, err := gate.ShouldReply(context.Background(), "conv-1", "evt-1")
	require.NoError(t, err)
	require.True(t, reply)

	result := f.dispatcher.Dispatch(context.Background(), request(models.ActionSendMessage, map[string]any{"message": "hello"}))
	require.NoError(t, result.Err)
	assert.Equal(t, actions.OutcomeSuccess, result.Outcome)
	assert.Equal(t, true, result.Output["suppressed"])
	assert.Empty(t, f.messenger.Texts())
}

func TestSendMessage_ClaimsLatestMessage(t *testing.T) {
	f := newFixture(t, autoreply.PolicyPermanent)
	req := request(models.ActionSendMessage, map[string]any{"message": "hello"})
	req.Context["message"] = map[string]any{"id": "evt-2", "content": "again"}

	result := f.dispatcher.Dispatch(context.Background(), req)
	require.NoError(t, result.Err)

	owner, err := f.coordinator.Responder(context.Background(), "conv-1", "evt-2")
	require.NoError(t, err)
	assert.Equal(t, autoreply.OwnerEngine, owner)

	gate := autoreply.NewGate(f.coordinator, f.customers)
	reply, err := gate.ShouldReply(context.Background(), "conv-1", "evt-2")
	require.NoError(t, err)
	assert.False(t, reply)
}

func TestDelay_SchedulesResumption(t *testing.T) {
	f := newFixture(t, autoreply.PolicyPermanent)
	req := request(models.ActionDelay, map[string]any{"amount": 5, "unit": "minutes"})

	result := f.dispatcher.Dispatch(context.Background(), req)
	require.NoError(t, result.Err)
	assert.Equal(t, actions.OutcomeSuspend, result.Outcome)
	require.NotNil(t, result.ResumeAt)
	assert.Equal(t, now.Add(5*time.Minute), *result.ResumeAt)

	result = f.dispatcher.Dispatch(context.Background(), req)
	require.NoError(t, result.Err)

	pending := f.scheduler.Pending(models.TaskResumeExecution)
	require.Len(t, pending, 1)
	assert.Equal(t, "resume:exec-1:node-1", pending[0].DedupeKey)
	assert.Equal(t, "exec-1", pending[0].ExecutionID)
	assert.Equal(t, now.Add(5*time.Minute), pending[0].RunAt)
}

func TestDelay_UnknownUnitIsConfigurationError(t *testing.T) {
	f := newFixture(t, autoreply.PolicyPermanent)

	result := f.dispatcher.Dispatch(context.Background(), request(models.ActionDelay, map[string]any{"amount": 1, "unit": "weeks"}))
	assert.Equal(t, actions.OutcomeFailure, result.Outcome)
	assert.True(t, models.IsConfigurationError(result.Err))
}

func TestRedirect_HandsOverConversation(t *testing.T) {
	f := newFixture(t, autoreply.PolicyPermanent)

	result := f.dispatcher.Dispatch(context.Background(), request(models.ActionRedirectConversation, map[string]any{"department": "sales"}))
	require.NoError(t, result.Err)
	assert.False(t, result.RestoreAutoReply)

	department, err := f.customers.Department(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.Equal(t, "sales", department)

	enabled, err := f.customers.AutoReplyEnabled(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.False(t, enabled)

	owner, err := f.coordinator.Responder(context.Background(), "conv-1", "evt-1")
	require.NoError(t, err)
	assert.Equal(t, autoreply.OwnerEngine, owner)
}

func TestTransfer_DefaultsToHumanDepartment(t *testing.T) {
	f := newFixture(t, autoreply.PolicyExecution)

	result := f.dispatcher.Dispatch(context.Background(), request(models.ActionTransferToHuman, nil))
	require.NoError(t, result.Err)
	assert.True(t, result.RestoreAutoReply)
	assert.Equal(t, "human", result.Output["department"])

	department, err := f.customers.Department(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.Equal(t, "human", department)
}

func TestTags(t *testing.T) {
	f := newFixture(t, autoreply.PolicyPermanent)

	result := f.dispatcher.Dispatch(context.Background(), request(models.ActionAddTag, map[string]any{"tag": "vip"}))
	require.NoError(t, result.Err)
	assert.Equal(t, []any{"lead", "vip"}, result.Updates["customer"].(map[string]any)["tags"])

	result = f.dispatcher.Dispatch(context.Background(), request(models.ActionAddTag, map[string]any{"tag": "vip"}))
	require.NoError(t, result.Err)
	assert.Equal(t, []string{"vip"}, f.customers.Tags("cust-1"))

	result = f.dispatcher.Dispatch(context.Background(), request(models.ActionRemoveTag, map[string]any{"tag": "lead"}))
	require.NoError(t, result.Err)
	assert.Equal(t, []any{}, result.Updates["customer"].(map[string]any)["tags"])

	result = f.dispatcher.Dispatch(context.Background(), request(models.ActionRemoveTag, map[string]any{"tag": "vip"}))
	require.NoError(t, result.Err)
	assert.Empty(t, f.customers.Tags("cust-1"))
}

func TestSendEmail_RetriesTransientFailures(t *testing.T) {
	f := newFixture(t, autoreply.PolicyPermanent)
	config := map[string]any{
		"to":      "{{ .customer.name }}@example.com",
		"subject": "Welcome",
		"body":    "Plan {{ .variables.plan }}",
	}

	f.email.FailNext(2)

	result := f.dispatcher.Dispatch(context.Background(), request(models.ActionSendEmail, config))
	require.NoError(t, result.Err)
	assert.Equal(t, 3, result.Output["attempts"])
	require.Len(t, f.email.Sent, 1)
	assert.Equal(t, []string{"ana@example.com"}, f.email.Sent[0].To)
	assert.Equal(t, "Plan pro", f.email.Sent[0].Body)
}

func TestSendEmail_ExhaustedRetriesFail(t *testing.T) {
	f := newFixture(t, autoreply.PolicyPermanent)
	f.email.FailNext(3)

	result := f.dispatcher.Dispatch(context.Background(), request(models.ActionSendEmail, map[string]any{
		"to":      []any{"a@example.com", "b@example.com"},
		"subject": "Hi",
		"body":    "Body",
	}))
	assert.Equal(t, actions.OutcomeFailure, result.Outcome)
	assert.Equal(t, 3, f.email.Attempts)

	var actionErr *models.ActionExecutionError
	require.ErrorAs(t, result.Err, &actionErr)
	assert.True(t, actionErr.Retryable)
}

func TestWebhook(t *testing.T) {
	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		call := calls.Add(1)

		switch r.URL.Path {
		case "/flaky":
			if call < 3 {
				w.WriteHeader(http.StatusBadGateway)

				return
			}
		case "/reject":
			w.WriteHeader(http.StatusUnprocessableEntity)

			return
		}

		body, _ := io.ReadAll(r.Body)

		var payload map[string]any
		_ = json.Unmarshal(body, &payload)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"received": payload["customer"],
			"token":    r.Header.Get("X-Token"),
		})
	}))
	defer server.Close()

	t.Run("retries server errors and stores the response", func(t *testing.T) {
		calls.Store(0)
		f := newFixture(t, autoreply.PolicyPermanent)

		result := f.dispatcher.Dispatch(context.Background(), request(models.ActionWebhook, map[string]any{
			"url":            server.URL + "/flaky",
			"headers":        map[string]any{"X-Token": "t-{{ .variables.plan }}"},
			"payload":        map[string]any{"customer": "{{ .customer.id }}"},
			"response_field": "crm",
		}))
		require.NoError(t, result.Err)
		assert.Equal(t, int32(3), calls.Load())
		assert.Equal(t, 200, result.Output["status_code"])

		crm := result.Updates["variables"].(map[string]any)["crm"].(map[string]any)
		assert.Equal(t, map[string]any{"received": "cust-1", "token": "t-pro"}, crm["body"])
	})

	t.Run("client errors are not retried", func(t *testing.T) {
		calls.Store(0)
		f := newFixture(t, autoreply.PolicyPermanent)

		result := f.dispatcher.Dispatch(context.Background(), request(models.ActionWebhook, map[string]any{
			"url": server.URL + "/reject",
		}))
		assert.Equal(t, actions.OutcomeFailure, result.Outcome)
		assert.ErrorIs(t, result.Err, actions.ErrWebhookClient)
		assert.Equal(t, int32(1), calls.Load())

		var actionErr *models.ActionExecutionError
		require.ErrorAs(t, result.Err, &actionErr)
		assert.False(t, actionErr.Retryable)
	})
}

func TestCustomCode(t *testing.T) {
	f := newFixture(t, autoreply.PolicyPermanent)

	t.Run("returned map is merged into variables", func(t *testing.T) {
		result := f.dispatcher.Dispatch(context.Background(), request(models.ActionCustomCode, map[string]any{
			"code": `{"is_vip": "vip" in customer.tags, "upgraded": variables.plan + "+"}`,
		}))
		require.NoError(t, result.Err)
		assert.Equal(t, map[string]any{
			"variables": map[string]any{"is_vip": false, "upgraded": "pro+"},
		}, result.Updates)
	})

	t.Run("scalar results are recorded only", func(t *testing.T) {
		result := f.dispatcher.Dispatch(context.Background(), request(models.ActionCustomCode, map[string]any{
			"code": `len(customer.tags)`,
		}))
		require.NoError(t, result.Err)
		assert.Nil(t, result.Updates)
		assert.Equal(t, 1, result.Output["result"])
	})

	t.Run("context is not mutated", func(t *testing.T) {
		req := request(models.ActionCustomCode, map[string]any{"code": `{"x": 1}`})

		result := f.dispatcher.Dispatch(context.Background(), req)
		require.NoError(t, result.Err)
		assert.Equal(t, map[string]any{"plan": "pro"}, req.Context["variables"])
	})

	t.Run("errors route to failure", func(t *testing.T) {
		for _, code := range []string{`customer.name +`, `int("abc")`} {
			result := f.dispatcher.Dispatch(context.Background(), request(models.ActionCustomCode, map[string]any{"code": code}))
			assert.Equal(t, actions.OutcomeFailure, result.Outcome, code)
			assert.Error(t, result.Err, code)
		}
	})

	t.Run("time limit", func(t *testing.T) {
		req := request(models.ActionCustomCode, map[string]any{"code": `slow()`, "timeout_ms": 1})
		req.Context["slow"] = func() int {
			time.Sleep(200 * time.Millisecond)

			return 1
		}

		started := time.Now()
		result := f.dispatcher.Dispatch(context.Background(), req)

		assert.Equal(t, actions.OutcomeFailure, result.Outcome)
		assert.ErrorIs(t, result.Err, actions.ErrCodeTimeout)
		assert.Less(t, time.Since(started), 150*time.Millisecond)
	})

	t.Run("runaway loops exhaust the budget", func(t *testing.T) {
		result := f.dispatcher.Dispatch(context.Background(), request(models.ActionCustomCode, map[string]any{
			"code": `len(map(1..1000, map(1..1000, # * 2)))`,
		}))
		assert.Equal(t, actions.OutcomeFailure, result.Outcome)
		assert.ErrorContains(t, result.Err, "memory budget exceeded")
	})

	t.Run("panics are contained", func(t *testing.T) {
		req := request(models.ActionCustomCode, map[string]any{"code": `explode()`})
		req.Context["explode"] = func() int { panic("boom") }

		result := f.dispatcher.Dispatch(context.Background(), req)

		assert.Equal(t, actions.OutcomeFailure, result.Outcome)
		assert.ErrorContains(t, result.Err, "boom")
	})
}

func TestDispatch_UnknownAction(t *testing.T) {
	f := newFixture(t, autoreply.PolicyPermanent)

	result := f.dispatcher.Dispatch(context.Background(), request("launch_rocket", nil))
	assert.Equal(t, actions.OutcomeFailure, result.Outcome)
	assert.True(t, models.IsConfigurationError(result.Err))
}

func TestDispatch_MissingCollaborator(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dispatcher := actions.NewDispatcher(actions.Dependencies{}, nil, logger)

	result := dispatcher.Dispatch(context.Background(), request(models.ActionSendMessage, map[string]any{"message": "hi"}))
	assert.Equal(t, actions.OutcomeFailure, result.Outcome)
	assert.ErrorIs(t, result.Err, actions.ErrNoMessenger)
}
