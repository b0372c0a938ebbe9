package actions

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/dukex/replyflow/pkg/execctx"
	"github.com/dukex/replyflow/pkg/models"
	"github.com/dukex/replyflow/pkg/template"
)

type tagConfig struct {
	Tag string `json:"tag"`
}

// tagChange adds or removes a customer tag. Both directions are set
// operations, so repeating them is harmless.
type tagChange struct {
	deps Dependencies
	add  bool
}

func (a *tagChange) Type() models.ActionType {
	if a.add {
		return models.ActionAddTag
	}

	return models.ActionRemoveTag
}

func (a *tagChange) Name() string {
	if a.add {
		return "Add Tag"
	}

	return "Remove Tag"
}

func (a *tagChange) Description() string {
	if a.add {
		return "Adds a tag to the customer."
	}

	return "Removes a tag from the customer."
}

func (a *tagChange) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"tag": map[string]any{
				"type":      "string",
				"minLength": 1,
				"examples":  []string{"vip", "lead-{{ .event.channel }}"},
			},
		},
		"required":             []string{"tag"},
		"additionalProperties": false,
	}
}

func (a *tagChange) Execute(ctx context.Context, req Request) (Result, error) {
	if a.deps.Customers == nil {
		return Result{}, ErrNoCustomerStore
	}

	var config tagConfig

	err := decode(req.NodeID, req.Action.Config, &config)
	if err != nil {
		return Result{}, err
	}

	customerID := customerOf(req)
	if customerID == "" {
		return Result{}, ErrNoCustomer
	}

	tag, err := template.RenderString(config.Tag, req.Context)
	if err != nil {
		return Result{}, fmt.Errorf("failed to render tag: %w", err)
	}

	tag = strings.TrimSpace(tag)
	if tag == "" {
		return Result{}, ErrEmptyRenderedTag
	}

	if a.add {
		err = a.deps.Customers.AddTag(ctx, customerID, tag)
	} else {
		err = a.deps.Customers.RemoveTag(ctx, customerID, tag)
	}

	if err != nil {
		return Result{}, fmt.Errorf("failed to update tags of customer %s: %w", customerID, err)
	}

	return Result{
		Output:  map[string]any{"customer_id": customerID, "tag": tag},
		Updates: map[string]any{execctx.KeyCustomer: map[string]any{"tags": a.apply(req.Context, tag)}},
	}, nil
}

// apply mirrors the change on the context's customer snapshot.
func (a *tagChange) apply(ctx map[string]any, tag string) []any {
	current, _ := execctx.Lookup(ctx, execctx.KeyCustomer+".tags")

	tags := make([]any, 0)

	switch list := current.(type) {
	case []any:
		tags = append(tags, list...)
	case []string:
		for _, item := range list {
			tags = append(tags, item)
		}
	}

	index := slices.IndexFunc(tags, func(item any) bool { return item == tag })

	switch {
	case a.add && index < 0:
		tags = append(tags, tag)
	case !a.add && index >= 0:
		tags = slices.Delete(tags, index, index+1)
	}

	return tags
}
