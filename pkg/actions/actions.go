// Package actions executes action nodes: outbound messages, delays, routing
// changes, tags, emails, webhooks and sandboxed custom code.
package actions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukex/replyflow/pkg/autoreply"
	"github.com/dukex/replyflow/pkg/execctx"
	"github.com/dukex/replyflow/pkg/models"
	"github.com/dukex/replyflow/pkg/protocol"
)

// Outcome tells the traversal engine how to continue after an action.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	// OutcomeSuspend parks the execution until ResumeAt.
	OutcomeSuspend Outcome = "suspend"
)

var (
	ErrNoMessenger      = errors.New("no messenger configured")
	ErrNoCustomerStore  = errors.New("no customer store configured")
	ErrNoRouter         = errors.New("no conversation router configured")
	ErrNoEmailSender    = errors.New("no email sender configured")
	ErrNoScheduler      = errors.New("no task scheduler configured")
	ErrNoConversation   = errors.New("execution has no conversation")
	ErrNoCustomer       = errors.New("execution has no customer")
	ErrUnknownAction    = errors.New("unknown action type")
	ErrCodeTimeout      = errors.New("custom code exceeded its time limit")
	ErrCodePanicked     = errors.New("custom code panicked")
	ErrWebhookClient    = errors.New("webhook rejected by receiver")
	ErrWebhookServer    = errors.New("webhook receiver failed")
	ErrEmptyRenderedTag = errors.New("tag rendered empty")
)

// Request is one action node visit.
type Request struct {
	Execution *models.WorkflowExecution
	NodeID    string
	Action    *models.ActionConfig
	// Context is the live execution context. Handlers read it and report
	// changes through Result.Updates.
	Context map[string]any
	Now     time.Time
}

// IdempotencyKey identifies the visit. The step counter keeps legitimate
// revisits of the node inside a loop distinct while a redelivered task, which
// resumes from the same checkpoint, maps to the same key.
func (r Request) IdempotencyKey() string {
	return fmt.Sprintf("action:%s:%s:%d", r.Execution.ID, r.NodeID, r.Execution.Steps)
}

// ReplyEventID is the inbound event an outbound reply answers.
func (r Request) ReplyEventID() string {
	if id := execctx.LastMessageID(r.Context); id != "" {
		return id
	}

	return r.Execution.TriggerEventID
}

// Result is what an action produced.
type Result struct {
	Outcome Outcome
	// Output is recorded under nodes.<node_id>.
	Output map[string]any
	// Updates are merged into the execution context.
	Updates  map[string]any
	ResumeAt *time.Time
	// RestoreAutoReply asks the engine to re-enable auto-reply once the
	// execution is terminal.
	RestoreAutoReply bool
	Err              error
}

// Handler executes one action type.
type Handler interface {
	Type() models.ActionType
	Name() string
	Description() string
	Schema() map[string]any
	Execute(ctx context.Context, req Request) (Result, error)
}

// Dependencies are the collaborators shared by the built-in handlers. Missing
// collaborators make the matching actions fail at runtime.
type Dependencies struct {
	Messenger   protocol.Messenger
	Customers   protocol.CustomerStore
	Coordinator *autoreply.Coordinator
	Email       protocol.EmailSender
	Scheduler   protocol.TaskScheduler
	HTTPClient  *http.Client
	Retry       RetryPolicy
	CodeTimeout time.Duration
	// HumanDepartment is where transfer_to_human routes by default.
	HumanDepartment string
	Logger          *slog.Logger
}

const (
	DefaultCodeTimeout     = 2 * time.Second
	DefaultHumanDepartment = "human"
)

func (d Dependencies) withDefaults() Dependencies {
	if d.HTTPClient == nil {
		d.HTTPClient = &http.Client{}
	}

	if d.Retry.Attempts == 0 {
		d.Retry = DefaultRetry
	}

	if d.CodeTimeout <= 0 {
		d.CodeTimeout = DefaultCodeTimeout
	}

	if d.HumanDepartment == "" {
		d.HumanDepartment = DefaultHumanDepartment
	}

	if d.Logger == nil {
		d.Logger = slog.Default()
	}

	return d
}

// Builtin returns the handlers of every supported action type.
func Builtin(deps Dependencies) []Handler {
	deps = deps.withDefaults()

	return []Handler{
		&sendMessage{deps: deps},
		&delay{deps: deps},
		&redirect{deps: deps},
		&transfer{deps: deps},
		&tagChange{deps: deps, add: true},
		&tagChange{deps: deps, add: false},
		&sendEmail{deps: deps},
		&webhook{deps: deps},
		&customCode{deps: deps},
	}
}

// decode maps a node's parameters onto a typed config.
func decode(nodeID string, config map[string]any, target any) error {
	if config == nil {
		config = map[string]any{}
	}

	raw, err := json.Marshal(config)
	if err == nil {
		err = json.Unmarshal(raw, target)
	}

	if err != nil {
		problem := &models.ConfigurationError{}
		problem.Add(nodeID, "config", "invalid action parameters: %v", err)

		return problem
	}

	return nil
}

func conversationOf(req Request) string {
	if req.Execution.ConversationID != "" {
		return req.Execution.ConversationID
	}

	id, _ := execctx.Lookup(req.Context, execctx.KeyEvent+".conversation_id")
	s, _ := id.(string)

	return s
}

func customerOf(req Request) string {
	if req.Execution.CustomerID != "" {
		return req.Execution.CustomerID
	}

	id, _ := execctx.Lookup(req.Context, execctx.KeyCustomer+".id")
	s, _ := id.(string)

	return s
}
