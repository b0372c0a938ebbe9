package actions

import (
	"context"
	"fmt"
	"time"

	"github.com/dukex/replyflow/pkg/execctx"
	"github.com/dukex/replyflow/pkg/models"
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

const (
	// maxCodeNodes bounds the size of a compiled snippet.
	maxCodeNodes = 2000
	// codeMemoryBudget bounds the work of one run: every loop iteration and
	// allocated element draws from it.
	codeMemoryBudget = 100_000
)

type customCodeConfig struct {
	Code      string `json:"code"`
	TimeoutMs int    `json:"timeout_ms"`
}

// customCode evaluates an expr snippet against a copy of the execution
// context. Expr programs cannot touch the filesystem or the network; the only
// write path is a returned map, merged into the session variables.
//
// The expr VM cannot be interrupted. On timeout the action fails at once and
// the abandoned run is left to stop on its own, which it does when the memory
// budget runs out.
type customCode struct {
	deps Dependencies
}

func (a *customCode) Type() models.ActionType { return models.ActionCustomCode }
func (a *customCode) Name() string            { return "Custom Code" }

func (a *customCode) Description() string {
	return "Evaluates an expression against the execution context. A returned map is stored in the session variables."
}

func (a *customCode) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"code": map[string]any{
				"type":      "string",
				"minLength": 1,
				"format":    "code",
				"examples": []string{
					`{"is_vip": "vip" in customer.tags}`,
					`{"greeting": upper(customer.name ?? "friend")}`,
				},
			},
			"timeout_ms": map[string]any{
				"type":    "integer",
				"minimum": 1,
				"maximum": 10000,
			},
		},
		"required":             []string{"code"},
		"additionalProperties": false,
	}
}

type codeOutcome struct {
	value any
	err   error
}

func (a *customCode) Execute(ctx context.Context, req Request) (Result, error) {
	var config customCodeConfig

	err := decode(req.NodeID, req.Action.Config, &config)
	if err != nil {
		return Result{}, err
	}

	timeout := a.deps.CodeTimeout
	if config.TimeoutMs > 0 {
		timeout = time.Duration(config.TimeoutMs) * time.Millisecond
	}

	env := execctx.Clone(req.Context)
	if env == nil {
		env = map[string]any{}
	}

	program, err := expr.Compile(config.Code,
		expr.Env(env),
		expr.AllowUndefinedVariables(),
		expr.MaxNodes(maxCodeNodes),
	)
	if err != nil {
		return Result{}, fmt.Errorf("failed to compile custom code: %w", err)
	}

	done := make(chan codeOutcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- codeOutcome{err: fmt.Errorf("%w: %v", ErrCodePanicked, r)}
			}
		}()

		machine := vm.VM{MemoryBudget: codeMemoryBudget}

		value, err := machine.Run(program, env)
		done <- codeOutcome{value: value, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var outcome codeOutcome

	select {
	case outcome = <-done:
	case <-timer.C:
		return Result{}, fmt.Errorf("%w (%s)", ErrCodeTimeout, timeout)
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}

	if outcome.err != nil {
		return Result{}, fmt.Errorf("custom code failed: %w", outcome.err)
	}

	result := Result{Output: map[string]any{"result": outcome.value}}

	if values, ok := outcome.value.(map[string]any); ok {
		result.Updates = map[string]any{execctx.KeyVariables: values}
	}

	return result, nil
}
