// Package condition evaluates condition nodes against an execution context.
package condition

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dukex/replyflow/pkg/execctx"
	"github.com/dukex/replyflow/pkg/models"
	"github.com/dukex/replyflow/pkg/protocol"
	"github.com/dukex/replyflow/pkg/textnorm"
)

const DefaultAITimeout = 10 * time.Second

var ErrNoLanguageModel = errors.New("no language model configured")

// fieldAliases lists, in priority order, where a logical field may live.
var fieldAliases = map[string][]string{
	"message":  {"event.data.content", "message.content", "message_content"},
	"content":  {"event.data.content", "message.content", "message_content"},
	"tags":     {"customer.tags", "event.data.tags"},
	"tag":      {"event.data.tag"},
	"channel":  {"event.channel", "message.channel"},
	"customer": {"customer.id", "event.customer_id"},
}

// Paths returns the lookup paths of a field: its aliases, or the field itself
// as a dotted path.
func Paths(field string) []string {
	if aliases, ok := fieldAliases[field]; ok {
		return aliases
	}

	return []string{field}
}

// Result is the outcome of a condition node.
type Result struct {
	Value bool
	// Outcomes holds one entry per evaluated condition, in order. Evaluation
	// stops early once the combination is decided.
	Outcomes []bool
	Errors   []*models.ConditionEvaluationError
}

type Evaluator struct {
	llm       protocol.LanguageModel
	aiTimeout time.Duration
	logger    *slog.Logger
}

func NewEvaluator(llm protocol.LanguageModel, logger *slog.Logger) *Evaluator {
	return &Evaluator{
		llm:       llm,
		aiTimeout: DefaultAITimeout,
		logger:    logger.With("module", "condition_evaluator"),
	}
}

func (e *Evaluator) WithAITimeout(timeout time.Duration) *Evaluator {
	e.aiTimeout = timeout

	return e
}

// Evaluate combines the node's conditions. It only fails for configuration
// errors; collaborator failures resolve the affected condition to false.
func (e *Evaluator) Evaluate(ctx context.Context, nodeID string, config *models.ConditionConfig, execCtx map[string]any) (Result, error) {
	if config == nil || len(config.Conditions) == 0 {
		problem := &models.ConfigurationError{}
		problem.Add(nodeID, "conditions", "condition node has no conditions")

		return Result{}, problem
	}

	all := config.CombinationOperator != models.CombinationOr
	result := Result{Value: all}

	for index, cond := range config.Conditions {
		value, err := e.evaluateOne(ctx, cond, execCtx)
		if err != nil {
			evalErr := &models.ConditionEvaluationError{NodeID: nodeID, Index: index, Err: err}
			result.Errors = append(result.Errors, evalErr)

			if models.IsConfigurationError(err) {
				return result, err
			}

			e.logger.WarnContext(ctx, "Condition evaluation failed, resolving to false",
				"node_id", nodeID,
				"condition_index", index,
				"error", err,
			)

			value = false
		}

		result.Outcomes = append(result.Outcomes, value)

		if all && !value {
			result.Value = false

			return result, nil
		}

		if !all && value {
			result.Value = true

			return result, nil
		}
	}

	return result, nil
}

func (e *Evaluator) evaluateOne(ctx context.Context, cond models.Condition, execCtx map[string]any) (bool, error) {
	switch cond.Type {
	case models.ConditionTypeMessage:
		return EvaluateMessage(cond, execCtx)
	case models.ConditionTypeAI:
		return e.evaluateAI(ctx, cond, execCtx)
	default:
		problem := &models.ConfigurationError{}
		problem.Add("", "type", "unknown condition type %q", cond.Type)

		return false, problem
	}
}

func (e *Evaluator) evaluateAI(ctx context.Context, cond models.Condition, execCtx map[string]any) (bool, error) {
	if e.llm == nil {
		return false, ErrNoLanguageModel
	}

	ctx, cancel := context.WithTimeout(ctx, e.aiTimeout)
	defer cancel()

	answer, err := e.llm.Evaluate(ctx, cond.Prompt, Snippet(execCtx))
	if err != nil {
		return false, fmt.Errorf("language model: %w", err)
	}

	return answer, nil
}

// Snippet is the context excerpt shared with the language model: the latest
// message, the customer snapshot and session variables.
func Snippet(execCtx map[string]any) string {
	excerpt := map[string]any{}

	for _, key := range []string{execctx.KeyMessageContent, execctx.KeyCustomer, execctx.KeyVariables} {
		if value, ok := execCtx[key]; ok {
			excerpt[key] = value
		}
	}

	if event, ok := execCtx[execctx.KeyEvent].(map[string]any); ok {
		excerpt["event_type"] = event["type"]
		excerpt["channel"] = event["channel"]
	}

	encoded, err := json.Marshal(excerpt)
	if err != nil {
		return ""
	}

	return string(encoded)
}

// EvaluateMessage applies a message-type operator to the field's value.
func EvaluateMessage(cond models.Condition, execCtx map[string]any) (bool, error) {
	raw, _, found := execctx.LookupFirst(execCtx, Paths(cond.Field))

	expected := textnorm.Fold(cond.Value)

	if list, ok := asList(raw); ok {
		return evaluateList(cond.Operator, list, expected)
	}

	actual := ""
	if found {
		actual = textnorm.Fold(stringify(raw))
	}

	switch cond.Operator {
	case models.OperatorEquals:
		return actual == expected, nil
	case models.OperatorNotEqual:
		return actual != expected, nil
	case models.OperatorContains:
		return strings.Contains(actual, expected), nil
	case models.OperatorNotContains:
		return !strings.Contains(actual, expected), nil
	case models.OperatorStartsWith:
		return strings.HasPrefix(actual, expected), nil
	case models.OperatorEndsWith:
		return strings.HasSuffix(actual, expected), nil
	case models.OperatorIsEmpty:
		return actual == "", nil
	case models.OperatorIsNotEmpty:
		return actual != "", nil
	default:
		problem := &models.ConfigurationError{}
		problem.Add("", "operator", "unknown operator %q", cond.Operator)

		return false, problem
	}
}

func evaluateList(operator models.ConditionOperator, list []string, expected string) (bool, error) {
	member := false

	for _, item := range list {
		if textnorm.Fold(item) == expected {
			member = true

			break
		}
	}

	switch operator {
	case models.OperatorContains, models.OperatorEquals:
		return member, nil
	case models.OperatorNotContains, models.OperatorNotEqual:
		return !member, nil
	case models.OperatorIsEmpty:
		return len(list) == 0, nil
	case models.OperatorIsNotEmpty:
		return len(list) > 0, nil
	case models.OperatorStartsWith, models.OperatorEndsWith:
		problem := &models.ConfigurationError{}
		problem.Add("", "operator", "operator %q does not apply to lists", operator)

		return false, problem
	default:
		problem := &models.ConfigurationError{}
		problem.Add("", "operator", "unknown operator %q", operator)

		return false, problem
	}
}

func asList(value any) ([]string, bool) {
	switch v := value.(type) {
	case []string:
		return v, true
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, stringify(item))
		}

		return out, true
	default:
		return nil, false
	}
}

func stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}
