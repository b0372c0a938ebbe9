package workflow_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/dukex/replyflow/pkg/actions"
	"github.com/dukex/replyflow/pkg/autoreply"
	"github.com/dukex/replyflow/pkg/condition"
	"github.com/dukex/replyflow/pkg/customers"
	"github.com/dukex/replyflow/pkg/eventbus"
	"github.com/dukex/replyflow/pkg/events"
	"github.com/dukex/replyflow/pkg/lock"
	"github.com/dukex/replyflow/pkg/models"
	"github.com/dukex/replyflow/pkg/persistence/file"
	"github.com/dukex/replyflow/pkg/testutil"
	"github.com/dukex/replyflow/pkg/trigger"
	"github.com/dukex/replyflow/pkg/waiting"
	"github.com/dukex/replyflow/pkg/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.EventType
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, event eventbus.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.events = append(p.events, event.GetType())

	return nil
}

func (p *recordingPublisher) Types() []events.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]events.EventType(nil), p.events...)
}

type fixture struct {
	store     *file.Persistence
	locker    *lock.Memory
	messenger *testutil.RecordingMessenger
	customers *customers.MemoryStore
	scheduler *testutil.RecordingScheduler
	llm       *testutil.StubLanguageModel
	publisher *recordingPublisher
	registry  *trigger.Registry
	engine    *workflow.Engine
}

type option func(*workflow.Config, *autoreply.Policy)

func withMaxSteps(n int) option {
	return func(c *workflow.Config, _ *autoreply.Policy) { c.MaxSteps = n }
}

func withExpiredPolicy(policy workflow.ExpiredPolicy) option {
	return func(c *workflow.Config, _ *autoreply.Policy) { c.ExpiredPolicy = policy }
}

func withAutoReplyPolicy(policy autoreply.Policy) option {
	return func(_ *workflow.Config, p *autoreply.Policy) { *p = policy }
}

func newFixture(t *testing.T, workflows []*models.Workflow, opts ...option) *fixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	ctx := context.Background()

	f := &fixture{
		store:     file.NewPersistence(t.TempDir()),
		locker:    lock.NewMemory(),
		messenger: &testutil.RecordingMessenger{},
		customers: customers.NewMemoryStore(),
		scheduler: &testutil.RecordingScheduler{},
		llm:       &testutil.StubLanguageModel{},
		publisher: &recordingPublisher{},
	}

	for _, wf := range workflows {
		require.NoError(t, f.store.WorkflowRepository().Save(ctx, wf))
	}

	config := workflow.Config{WorkerID: "test"}
	policy := autoreply.PolicyPermanent

	for _, opt := range opts {
		opt(&config, &policy)
	}

	coordinator := autoreply.NewCoordinator(f.locker, f.customers, policy, logger)

	f.registry = trigger.NewRegistry(f.store.WorkflowRepository(), logger)
	require.NoError(t, f.registry.Refresh(ctx))

	dispatcher := actions.NewDispatcher(actions.Dependencies{
		Messenger:   f.messenger,
		Customers:   f.customers,
		Coordinator: coordinator,
		Scheduler:   f.scheduler,
		Retry: actions.RetryPolicy{
			Attempts:        2,
			InitialInterval: time.Millisecond,
			AttemptTimeout:  time.Second,
		},
		Logger: logger,
	}, f.store.IdempotencyRepository(), logger)

	manager := waiting.NewManager(waiting.Dependencies{
		Messenger:   f.messenger,
		Customers:   f.customers,
		Responses:   f.store.UserResponseRepository(),
		Idempotency: f.store.IdempotencyRepository(),
		Scheduler:   f.scheduler,
		Coordinator: coordinator,
	}, logger)

	f.engine = workflow.NewEngine(workflow.Dependencies{
		Workflows:   f.store.WorkflowRepository(),
		Executions:  f.store.ExecutionRepository(),
		Idempotency: f.store.IdempotencyRepository(),
		Matcher:     trigger.NewMatcher(f.registry, logger),
		Conditions:  condition.NewEvaluator(f.llm, logger),
		Actions:     dispatcher,
		Waiting:     manager,
		Locker:      f.locker,
		Coordinator: coordinator,
		Profiles:    f.customers,
		Publisher:   f.publisher,
	}, config, logger)

	return f
}

func (f *fixture) handle(t *testing.T, event *models.Event) workflow.Activation {
	t.Helper()

	activation, err := f.engine.HandleEvent(context.Background(), event)
	require.NoError(t, err)

	return activation
}

func (f *fixture) execution(t *testing.T, id string) *models.WorkflowExecution {
	t.Helper()

	execution, err := f.store.ExecutionRepository().GetByID(context.Background(), id)
	require.NoError(t, err)

	return execution
}

func (f *fixture) executions(t *testing.T, workflowID string) []*models.WorkflowExecution {
	t.Helper()

	all, err := f.store.ExecutionRepository().ListByWorkflow(context.Background(), workflowID)
	require.NoError(t, err)

	return all
}

func when(id string, keywords ...string) *models.WorkflowNode {
	return testutil.CreateTestNode(testutil.WithID(id), testutil.WithWhen(models.WhenConfig{
		WhenType: models.WhenTypeReceiveMessage,
		Keywords: keywords,
	}))
}

func send(id, text string) *models.WorkflowNode {
	return testutil.CreateTestNode(testutil.WithID(id), testutil.WithAction(models.ActionSendMessage, map[string]any{"message": text}))
}

func priceWorkflow() *models.Workflow {
	return testutil.CreateTestWorkflow(
		testutil.WithWorkflowID("wf-price"),
		testutil.WithNodes(
			when("start", "price"),
			testutil.CreateTestNode(testutil.WithID("check"), testutil.WithCondition(models.CombinationAnd,
				testutil.MessageCondition("message", models.OperatorContains, "price"),
			)),
			send("reply", "Our price is $10"),
		),
		testutil.WithConnections(
			testutil.Connect("start", "check", models.ConnectionSuccess),
			testutil.Connect("check", "reply", models.ConnectionSuccess),
		),
	)
}

func TestHandleEvent_PriceScenario(t *testing.T) {
	f := newFixture(t, []*models.Workflow{priceWorkflow()})

	activation := f.handle(t, testutil.MessageEvent("evt-1", "conv-1", "what's the price?"))
	require.Len(t, activation.Started, 1)

	assert.Equal(t, []string{"Our price is $10"}, f.messenger.Texts())

	execution := f.execution(t, activation.Started[0])
	assert.Equal(t, models.ExecutionCompleted, execution.Status)
	assert.Equal(t, 3, execution.Steps)
	assert.Equal(t, []events.EventType{events.ExecutionStartedEvent, events.ExecutionCompletedEvent}, f.publisher.Types())
}

func TestHandleEvent_TriggerMismatchCreatesNothing(t *testing.T) {
	f := newFixture(t, []*models.Workflow{priceWorkflow()})

	activation := f.handle(t, testutil.MessageEvent("evt-1", "conv-1", "hello"))

	assert.Empty(t, activation.Started)
	assert.Empty(t, f.executions(t, "wf-price"))
	assert.Empty(t, f.messenger.Texts())
}

func TestHandleEvent_DuplicateDeliveryCreatesOneExecution(t *testing.T) {
	f := newFixture(t, []*models.Workflow{priceWorkflow()})
	event := testutil.MessageEvent("evt-1", "conv-1", "price please")

	first := f.handle(t, event)
	second := f.handle(t, event)

	assert.Len(t, first.Started, 1)
	assert.Empty(t, second.Started)
	assert.Equal(t, 1, second.Duplicates)
	assert.Len(t, f.executions(t, "wf-price"), 1)
	assert.Len(t, f.messenger.Texts(), 1)
}

func TestHandleEvent_ConcurrentDuplicateDelivery(t *testing.T) {
	f := newFixture(t, []*models.Workflow{priceWorkflow()})
	event := testutil.MessageEvent("evt-1", "conv-1", "price please")

	var wg sync.WaitGroup

	for range 5 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			// Redeliver until the engine accepts the task, as the bus would.
			for {
				_, err := f.engine.HandleEvent(context.Background(), event)
				if !errors.Is(err, workflow.ErrExecutionBusy) {
					assert.NoError(t, err)

					return
				}

				time.Sleep(time.Millisecond)
			}
		}()
	}

	wg.Wait()

	assert.Len(t, f.executions(t, "wf-price"), 1)
	assert.Equal(t, []string{"Our price is $10"}, f.messenger.Texts())
}

func TestHandleEvent_OrderedActions(t *testing.T) {
	wf := testutil.CreateTestWorkflow(
		testutil.WithWorkflowID("wf-ordered"),
		testutil.WithNodes(when("start"), send("a", "A"), send("b", "B"), send("c", "C")),
		testutil.WithConnections(
			testutil.Connect("start", "a", models.ConnectionSuccess),
			testutil.Connect("a", "b", models.ConnectionSuccess),
			testutil.Connect("b", "c", models.ConnectionSuccess),
		),
	)
	f := newFixture(t, []*models.Workflow{wf})

	f.handle(t, testutil.MessageEvent("evt-1", "conv-1", "hi"))

	sent := f.messenger.Messages()
	require.Len(t, sent, 3)
	assert.Equal(t, []string{"A", "B", "C"}, f.messenger.Texts())

	for i := 1; i < len(sent); i++ {
		assert.True(t, sent[i].At.After(sent[i-1].At), "side effects must be strictly ordered")
	}
}

func TestHandleEvent_ConditionBranches(t *testing.T) {
	wf := testutil.CreateTestWorkflow(
		testutil.WithWorkflowID("wf-branch"),
		testutil.WithNodes(
			when("start"),
			testutil.CreateTestNode(testutil.WithID("vip"), testutil.WithCondition(models.CombinationOr,
				testutil.AICondition("Is the customer angry?"),
				testutil.MessageCondition("message", models.OperatorStartsWith, "vip"),
			)),
			send("yes", "right away"),
			send("no", "we will get back to you"),
		),
		testutil.WithConnections(
			testutil.Connect("start", "vip", models.ConnectionSuccess),
			testutil.ConnectIf("vip", "yes", true),
			testutil.ConnectIf("vip", "no", false),
		),
	)
	f := newFixture(t, []*models.Workflow{wf})
	f.llm.Err = errors.New("model unavailable")

	f.handle(t, testutil.MessageEvent("evt-1", "conv-1", "VIP order"))
	f.handle(t, testutil.MessageEvent("evt-2", "conv-2", "regular order"))

	assert.Equal(t, []string{"right away", "we will get back to you"}, f.messenger.Texts())
}

func TestHandleEvent_OptionalActionFailureFollowsFailureEdge(t *testing.T) {
	wf := testutil.CreateTestWorkflow(
		testutil.WithWorkflowID("wf-optional"),
		testutil.WithNodes(when("start"), send("greet", "hello"), send("sorry", "sorry, try again")),
		testutil.WithConnections(
			testutil.Connect("start", "greet", models.ConnectionSuccess),
			testutil.Connect("greet", "sorry", models.ConnectionFailure),
		),
	)
	f := newFixture(t, []*models.Workflow{wf})
	f.messenger.FailNext(1)

	activation := f.handle(t, testutil.MessageEvent("evt-1", "conv-1", "hi"))

	assert.Equal(t, []string{"sorry, try again"}, f.messenger.Texts())
	assert.Equal(t, models.ExecutionCompleted, f.execution(t, activation.Started[0]).Status)
}

func TestHandleEvent_RequiredActionFailureFailsExecution(t *testing.T) {
	greet := send("greet", "hello")
	greet.Action.Required = true

	wf := testutil.CreateTestWorkflow(
		testutil.WithWorkflowID("wf-required"),
		testutil.WithNodes(when("start"), greet, send("sorry", "sorry")),
		testutil.WithConnections(
			testutil.Connect("start", "greet", models.ConnectionSuccess),
			testutil.Connect("greet", "sorry", models.ConnectionFailure),
		),
	)
	f := newFixture(t, []*models.Workflow{wf})
	f.messenger.FailNext(1)

	activation := f.handle(t, testutil.MessageEvent("evt-1", "conv-1", "hi"))

	execution := f.execution(t, activation.Started[0])
	assert.Equal(t, models.ExecutionFailed, execution.Status)
	assert.Contains(t, execution.Error, "required action send_message failed")
	assert.Empty(t, f.messenger.Texts())
	assert.Contains(t, f.publisher.Types(), events.ExecutionFailedEvent)
}

func TestHandleEvent_StepBudgetStopsCycles(t *testing.T) {
	loop := testutil.CreateTestNode(testutil.WithID("loop"), testutil.WithAction(models.ActionCustomCode, map[string]any{
		"code": `{"visits": (variables.visits ?? 0) + 1}`,
	}))

	wf := testutil.CreateTestWorkflow(
		testutil.WithWorkflowID("wf-cycle"),
		testutil.WithNodes(when("start"), loop),
		testutil.WithConnections(
			testutil.Connect("start", "loop", models.ConnectionSuccess),
			testutil.Connect("loop", "loop", models.ConnectionSuccess),
		),
	)
	f := newFixture(t, []*models.Workflow{wf}, withMaxSteps(10))

	activation := f.handle(t, testutil.MessageEvent("evt-1", "conv-1", "hi"))

	execution := f.execution(t, activation.Started[0])
	assert.Equal(t, models.ExecutionFailed, execution.Status)
	assert.Equal(t, 10, execution.Steps)
	assert.Contains(t, execution.Error, workflow.ErrStepBudgetExceeded.Error())
	assert.EqualValues(t, 9, execution.Context["variables"].(map[string]any)["visits"])
}

func delayWorkflow() *models.Workflow {
	return testutil.CreateTestWorkflow(
		testutil.WithWorkflowID("wf-delay"),
		testutil.WithNodes(
			when("start"),
			send("first", "first"),
			testutil.CreateTestNode(testutil.WithID("pause"), testutil.WithAction(models.ActionDelay, map[string]any{
				"amount": 5,
				"unit":   "minutes",
			})),
			send("second", "second"),
		),
		testutil.WithConnections(
			testutil.Connect("start", "first", models.ConnectionSuccess),
			testutil.Connect("first", "pause", models.ConnectionSuccess),
			testutil.Connect("pause", "second", models.ConnectionSuccess),
		),
	)
}

func TestResume_ContinuesAfterDelay(t *testing.T) {
	f := newFixture(t, []*models.Workflow{delayWorkflow()})
	ctx := context.Background()

	activation := f.handle(t, testutil.MessageEvent("evt-1", "conv-1", "hi"))
	executionID := activation.Started[0]

	execution := f.execution(t, executionID)
	assert.Equal(t, models.ExecutionScheduled, execution.Status)
	assert.Equal(t, "pause", execution.CurrentNodeID)
	require.NotNil(t, execution.ResumeAt)
	require.Len(t, f.scheduler.Pending(models.TaskResumeExecution), 1)
	assert.Equal(t, []string{"first"}, f.messenger.Texts())

	require.NoError(t, f.engine.Resume(ctx, executionID, "pause"))
	require.NoError(t, f.engine.Resume(ctx, executionID, "pause"))

	assert.Equal(t, []string{"first", "second"}, f.messenger.Texts())
	assert.Equal(t, models.ExecutionCompleted, f.execution(t, executionID).Status)
	assert.Contains(t, f.publisher.Types(), events.ExecutionScheduledEvent)
}

func TestResume_WorkflowDeactivatedMidExecution(t *testing.T) {
	wf := delayWorkflow()
	f := newFixture(t, []*models.Workflow{wf})
	ctx := context.Background()

	activation := f.handle(t, testutil.MessageEvent("evt-1", "conv-1", "hi"))
	executionID := activation.Started[0]

	wf.Status = models.WorkflowStatusPaused
	require.NoError(t, f.store.WorkflowRepository().Save(ctx, wf))

	require.NoError(t, f.engine.Resume(ctx, executionID, "pause"))

	execution := f.execution(t, executionID)
	assert.Equal(t, models.ExecutionFailed, execution.Status)
	assert.Equal(t, workflow.ErrWorkflowInactive.Error(), execution.Error)
	assert.Equal(t, []string{"first"}, f.messenger.Texts())
}

func TestResume_NodeDeactivatedMidExecution(t *testing.T) {
	wf := delayWorkflow()
	f := newFixture(t, []*models.Workflow{wf})
	ctx := context.Background()

	activation := f.handle(t, testutil.MessageEvent("evt-1", "conv-1", "hi"))

	second, _ := wf.NodeByID("second")
	second.IsActive = false
	require.NoError(t, f.store.WorkflowRepository().Save(ctx, wf))

	require.NoError(t, f.engine.Resume(ctx, activation.Started[0], "pause"))

	execution := f.execution(t, activation.Started[0])
	assert.Equal(t, models.ExecutionFailed, execution.Status)
	assert.Equal(t, "second", execution.CurrentNodeID)
	assert.Equal(t, []string{"first"}, f.messenger.Texts())
}

func TestResume_BusyExecution(t *testing.T) {
	f := newFixture(t, []*models.Workflow{delayWorkflow()})
	ctx := context.Background()

	activation := f.handle(t, testutil.MessageEvent("evt-1", "conv-1", "hi"))
	executionID := activation.Started[0]

	acquired, err := f.locker.Acquire(ctx, "execution:"+executionID, "other-worker", time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)

	err = f.engine.Resume(ctx, executionID, "pause")
	assert.ErrorIs(t, err, workflow.ErrExecutionBusy)
	assert.Equal(t, models.ExecutionScheduled, f.execution(t, executionID).Status)
}

func emailWorkflow(withTimeoutEdge bool) *models.Workflow {
	connections := []*models.NodeConnection{
		testutil.Connect("start", "ask", models.ConnectionSuccess),
		testutil.Connect("ask", "thanks", models.ConnectionSuccess),
		testutil.Connect("ask", "bye", models.ConnectionSkip),
	}

	if withTimeoutEdge {
		connections = append(connections, testutil.Connect("ask", "expired", models.ConnectionTimeout))
	}

	return testutil.CreateTestWorkflow(
		testutil.WithWorkflowID("wf-email"),
		testutil.WithNodes(
			when("start", "newsletter"),
			testutil.CreateTestNode(testutil.WithID("ask"), testutil.WithWaiting(models.WaitingConfig{
				AnswerType:             models.AnswerEmail,
				StorageType:            models.StorageSession,
				StorageField:           "email",
				CustomerMessage:        "What's your email?",
				AllowedErrors:          2,
				SkipKeywords:           []string{"skip"},
				ResponseTimeoutEnabled: true,
				ResponseTimeoutAmount:  1,
				ResponseTimeoutUnit:    models.TimeUnitHours,
			})),
			send("thanks", "Thanks, {{ .variables.email }}"),
			send("bye", "No problem"),
			send("expired", "Let's try again later"),
		),
		testutil.WithConnections(connections...),
	)
}

func TestWaiting_StoresReplyAndContinues(t *testing.T) {
	f := newFixture(t, []*models.Workflow{emailWorkflow(true)})

	activation := f.handle(t, testutil.MessageEvent("evt-1", "conv-1", "newsletter"))
	executionID := activation.Started[0]

	execution := f.execution(t, executionID)
	assert.Equal(t, models.ExecutionWaiting, execution.Status)
	assert.Equal(t, "ask", execution.CurrentNodeID)

	reply := f.handle(t, testutil.MessageEvent("evt-2", "conv-1", "ana@example.com newsletter"))
	assert.Equal(t, models.ExecutionWaiting, f.execution(t, executionID).Status, "invalid reply keeps waiting")
	assert.Equal(t, executionID, reply.ReplyTo)
	assert.Empty(t, reply.Started, "a consumed reply never starts executions")

	f.handle(t, testutil.MessageEvent("evt-3", "conv-1", "ana@example.com"))

	execution = f.execution(t, executionID)
	assert.Equal(t, models.ExecutionCompleted, execution.Status)
	assert.Equal(t, "Thanks, ana@example.com", f.messenger.Texts()[len(f.messenger.Texts())-1])
	assert.Len(t, f.executions(t, "wf-email"), 1)
}

func TestWaiting_TwoInvalidRepliesExpire(t *testing.T) {
	f := newFixture(t, []*models.Workflow{emailWorkflow(true)})

	activation := f.handle(t, testutil.MessageEvent("evt-1", "conv-1", "newsletter"))

	f.handle(t, testutil.MessageEvent("evt-2", "conv-1", "not-an-email"))
	f.handle(t, testutil.MessageEvent("evt-3", "conv-1", "also-bad"))

	execution := f.execution(t, activation.Started[0])
	assert.Equal(t, models.ExecutionCompleted, execution.Status)
	assert.NotContains(t, execution.Context["variables"], "email")

	texts := f.messenger.Texts()
	require.Len(t, texts, 3)
	assert.Equal(t, "What's your email?", texts[0])
	assert.Contains(t, texts[1], waiting.Hint(&models.WaitingConfig{AnswerType: models.AnswerEmail}))
	assert.Equal(t, "Let's try again later", texts[2])
}

func TestWaiting_RedeliveredReplyCountsOnce(t *testing.T) {
	f := newFixture(t, []*models.Workflow{emailWorkflow(true)})

	activation := f.handle(t, testutil.MessageEvent("evt-1", "conv-1", "newsletter"))

	invalid := testutil.MessageEvent("evt-2", "conv-1", "not-an-email")
	f.handle(t, invalid)
	f.handle(t, invalid)

	execution := f.execution(t, activation.Started[0])
	assert.Equal(t, models.ExecutionWaiting, execution.Status)
	assert.Equal(t, 1, execution.Waiting.ErrorCount)
}

func TestWaiting_RedeliveredTriggerIsNotAReply(t *testing.T) {
	f := newFixture(t, []*models.Workflow{emailWorkflow(true)})

	trigger := testutil.MessageEvent("evt-1", "conv-1", "newsletter")

	first := f.handle(t, trigger)
	require.Len(t, first.Started, 1)

	again := f.handle(t, trigger)
	assert.Empty(t, again.ReplyTo)
	assert.Empty(t, again.Started)
	assert.Equal(t, 1, again.Duplicates)

	execution := f.execution(t, first.Started[0])
	assert.Equal(t, models.ExecutionWaiting, execution.Status)
	assert.Equal(t, 0, execution.Waiting.ErrorCount)
	assert.Equal(t, []string{"What's your email?"}, f.messenger.Texts())

	reply := f.handle(t, testutil.MessageEvent("evt-2", "conv-1", "ana@example.com"))
	assert.Equal(t, first.Started[0], reply.ReplyTo, "later messages still reach the waiting execution")
}

func TestWaiting_SkipKeyword(t *testing.T) {
	f := newFixture(t, []*models.Workflow{emailWorkflow(true)})

	activation := f.handle(t, testutil.MessageEvent("evt-1", "conv-1", "newsletter"))
	f.handle(t, testutil.MessageEvent("evt-2", "conv-1", "Skip"))

	assert.Equal(t, models.ExecutionCompleted, f.execution(t, activation.Started[0]).Status)
	assert.Equal(t, "No problem", f.messenger.Texts()[1])
}

func TestHandleTimeout(t *testing.T) {
	tests := []struct {
		name     string
		edge     bool
		policy   workflow.ExpiredPolicy
		status   models.ExecutionStatus
		lastText string
	}{
		{"timeout connection", true, workflow.ExpiredComplete, models.ExecutionCompleted, "Let's try again later"},
		{"no connection completes", false, workflow.ExpiredComplete, models.ExecutionCompleted, "What's your email?"},
		{"no connection fails", false, workflow.ExpiredFail, models.ExecutionFailed, "What's your email?"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, []*models.Workflow{emailWorkflow(tt.edge)}, withExpiredPolicy(tt.policy))
			ctx := context.Background()

			activation := f.handle(t, testutil.MessageEvent("evt-1", "conv-1", "newsletter"))
			executionID := activation.Started[0]

			tasks := f.scheduler.Pending(models.TaskWaitingTimeout)
			require.Len(t, tasks, 1)

			enteredAt := f.execution(t, executionID).Waiting.EnteredAt

			require.NoError(t, f.engine.HandleTimeout(ctx, executionID, "ask", enteredAt.Add(-time.Second)))
			assert.Equal(t, models.ExecutionWaiting, f.execution(t, executionID).Status, "stale timeout is ignored")

			require.NoError(t, f.engine.HandleTimeout(ctx, executionID, "ask", enteredAt))

			assert.Equal(t, tt.status, f.execution(t, executionID).Status)

			texts := f.messenger.Texts()
			assert.Equal(t, tt.lastText, texts[len(texts)-1])
		})
	}
}

// failureOnlyWorkflow is emailWorkflow with a failure connection in place of
// the timeout one.
func failureOnlyWorkflow() *models.Workflow {
	wf := emailWorkflow(false)
	wf.Connections = append(wf.Connections, testutil.Connect("ask", "expired", models.ConnectionFailure))

	return wf
}

func TestWaiting_ExpiryEdges(t *testing.T) {
	t.Run("invalid replies fall back to the failure connection", func(t *testing.T) {
		f := newFixture(t, []*models.Workflow{failureOnlyWorkflow()})

		activation := f.handle(t, testutil.MessageEvent("evt-1", "conv-1", "newsletter"))
		f.handle(t, testutil.MessageEvent("evt-2", "conv-1", "not-an-email"))
		f.handle(t, testutil.MessageEvent("evt-3", "conv-1", "also-bad"))

		assert.Equal(t, models.ExecutionCompleted, f.execution(t, activation.Started[0]).Status)

		texts := f.messenger.Texts()
		assert.Equal(t, "Let's try again later", texts[len(texts)-1])
	})

	t.Run("timer expiry ignores the failure connection", func(t *testing.T) {
		f := newFixture(t, []*models.Workflow{failureOnlyWorkflow()}, withExpiredPolicy(workflow.ExpiredFail))

		activation := f.handle(t, testutil.MessageEvent("evt-1", "conv-1", "newsletter"))
		executionID := activation.Started[0]

		enteredAt := f.execution(t, executionID).Waiting.EnteredAt
		require.NoError(t, f.engine.HandleTimeout(context.Background(), executionID, "ask", enteredAt))

		assert.Equal(t, models.ExecutionFailed, f.execution(t, executionID).Status)
		assert.Equal(t, []string{"What's your email?"}, f.messenger.Texts())
	})
}

func TestTransferToHuman_RestoresAutoReplyPerPolicy(t *testing.T) {
	build := func() *models.Workflow {
		return testutil.CreateTestWorkflow(
			testutil.WithWorkflowID("wf-transfer"),
			testutil.WithNodes(
				when("start", "agent"),
				testutil.CreateTestNode(testutil.WithID("handover"), testutil.WithAction(models.ActionTransferToHuman, map[string]any{})),
			),
			testutil.WithConnections(testutil.Connect("start", "handover", models.ConnectionSuccess)),
		)
	}

	tests := []struct {
		policy  autoreply.Policy
		enabled bool
	}{
		{autoreply.PolicyPermanent, false},
		{autoreply.PolicyExecution, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.policy), func(t *testing.T) {
			f := newFixture(t, []*models.Workflow{build()}, withAutoReplyPolicy(tt.policy))
			ctx := context.Background()

			f.handle(t, testutil.MessageEvent("evt-1", "conv-1", "talk to an agent"))

			department, err := f.customers.Department(ctx, "conv-1")
			require.NoError(t, err)
			assert.Equal(t, actions.DefaultHumanDepartment, department)

			enabled, err := f.customers.AutoReplyEnabled(ctx, "conv-1")
			require.NoError(t, err)
			assert.Equal(t, tt.enabled, enabled)
		})
	}
}

func TestHandleEvent_AutoResponderClaimedFirst(t *testing.T) {
	f := newFixture(t, []*models.Workflow{priceWorkflow()})
	ctx := context.Background()

	gate := autoreply.NewGate(autoreply.NewCoordinator(f.locker, f.customers, autoreply.PolicyPermanent,
		slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))), f.customers)

	reply, err := gate.ShouldReply(ctx, "conv-1", "evt-1")
	require.NoError(t, err)
	require.True(t, reply)

	activation := f.handle(t, testutil.MessageEvent("evt-1", "conv-1", "price?"))

	assert.Empty(t, f.messenger.Texts(), "the auto-responder already answered this event")
	assert.Equal(t, models.ExecutionCompleted, f.execution(t, activation.Started[0]).Status)
}

func TestHandleEvent_ScheduleTick(t *testing.T) {
	wf := testutil.CreateTestWorkflow(
		testutil.WithWorkflowID("wf-daily"),
		testutil.WithNodes(
			testutil.CreateTestNode(testutil.WithID("daily"), testutil.WithWhen(models.WhenConfig{
				WhenType: models.WhenTypeScheduled,
				Schedule: &models.ScheduleSpec{
					Frequency: models.FrequencyDaily,
					Time:      "09:00",
					StartDate: "2025-01-01",
				},
			})),
			testutil.CreateTestNode(testutil.WithID("note"), testutil.WithAction(models.ActionCustomCode, map[string]any{
				"code": `{"ran": true}`,
			})),
		),
		testutil.WithConnections(testutil.Connect("daily", "note", models.ConnectionSuccess)),
	)
	f := newFixture(t, []*models.Workflow{wf})

	tick := &models.Event{ID: "tick-1", Type: models.EventScheduleTick, Timestamp: time.Date(2025, 6, 1, 9, 0, 30, 0, time.UTC)}

	first := f.handle(t, tick)
	second := f.handle(t, tick)

	require.Len(t, first.Started, 1)
	assert.Equal(t, 1, second.Duplicates)

	execution := f.execution(t, first.Started[0])
	assert.Equal(t, models.ExecutionCompleted, execution.Status)
	assert.Equal(t, true, execution.Context["variables"].(map[string]any)["ran"])

	offSchedule := &models.Event{ID: "tick-2", Type: models.EventScheduleTick, Timestamp: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)}
	assert.Empty(t, f.handle(t, offSchedule).Started)
}

func TestParseExpiredPolicy(t *testing.T) {
	policy, err := workflow.ParseExpiredPolicy("")
	require.NoError(t, err)
	assert.Equal(t, workflow.ExpiredComplete, policy)

	_, err = workflow.ParseExpiredPolicy("retry")
	assert.ErrorIs(t, err, workflow.ErrUnknownExpiredPolicy)
}
