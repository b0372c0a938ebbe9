package actions

import (
	"sort"

	"github.com/dukex/replyflow/pkg/models"
	"github.com/xeipuuv/gojsonschema"
)

var schemas = func() map[models.ActionType]*gojsonschema.Schema {
	out := map[models.ActionType]*gojsonschema.Schema{}

	for _, handler := range Builtin(Dependencies{}) {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(handler.Schema()))
		if err != nil {
			panic("invalid schema for action " + string(handler.Type()) + ": " + err.Error())
		}

		out[handler.Type()] = schema
	}

	return out
}()

// Describe lists the name, description and parameter schema of every action type.
func Describe() []map[string]any {
	handlers := Builtin(Dependencies{})

	sort.Slice(handlers, func(i, j int) bool { return handlers[i].Type() < handlers[j].Type() })

	out := make([]map[string]any, 0, len(handlers))
	for _, handler := range handlers {
		out = append(out, map[string]any{
			"id":          string(handler.Type()),
			"name":        handler.Name(),
			"description": handler.Description(),
			"schema":      handler.Schema(),
		})
	}

	return out
}

// ValidateConfig checks an action node's parameters against its schema and
// records every violation in problems.
func ValidateConfig(problems *models.ConfigurationError, nodeID string, config *models.ActionConfig) {
	schema, ok := schemas[config.ActionType]
	if !ok {
		problems.Add(nodeID, "action_type", "%v: %q", ErrUnknownAction, config.ActionType)

		return
	}

	params := config.Config
	if params == nil {
		params = map[string]any{}
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(params))
	if err != nil {
		problems.Add(nodeID, "config", "cannot validate parameters: %v", err)

		return
	}

	for _, violation := range result.Errors() {
		field := "config"
		if violation.Field() != "(root)" {
			field += "." + violation.Field()
		}

		problems.Add(nodeID, field, "%s", violation.Description())
	}
}
