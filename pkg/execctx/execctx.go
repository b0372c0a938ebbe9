// Package execctx reads and writes the execution context of a workflow run.
//
// Layout:
//
//	event            normalized trigger event (id, type, channel, data...)
//	customer         customer snapshot (id, tags, fields)
//	message          last inbound message {content, channel, at}
//	message_content  flattened last inbound text
//	variables        session storage of waiting nodes and custom code
//	temp             temporary storage cleared on completion
//	nodes            per node results keyed by node id
//	execution        {id, workflow_id}
package execctx

import (
	"maps"
	"strings"
	"time"

	"github.com/dukex/replyflow/pkg/models"
)

const (
	KeyEvent          = "event"
	KeyCustomer       = "customer"
	KeyMessage        = "message"
	KeyMessageContent = "message_content"
	KeyVariables      = "variables"
	KeyTemp           = "temp"
	KeyNodes          = "nodes"
	KeyExecution      = "execution"
)

// New builds the initial context of an execution started by event.
func New(execution *models.WorkflowExecution, event *models.Event, customer map[string]any) map[string]any {
	ctx := map[string]any{
		KeyVariables: map[string]any{},
		KeyTemp:      map[string]any{},
		KeyNodes:     map[string]any{},
		KeyExecution: map[string]any{
			"id":          execution.ID,
			"workflow_id": execution.WorkflowID,
		},
	}

	if customer != nil {
		ctx[KeyCustomer] = maps.Clone(customer)
	} else if event != nil && event.CustomerID != "" {
		ctx[KeyCustomer] = map[string]any{"id": event.CustomerID}
	}

	if event != nil {
		ctx[KeyEvent] = event.AsMap()

		if event.Type == models.EventMessageReceived {
			SetMessage(ctx, event)
		}
	}

	return ctx
}

// SetMessage records event as the latest inbound message.
func SetMessage(ctx map[string]any, event *models.Event) {
	ctx[KeyMessage] = map[string]any{
		"id":        event.ID,
		"content":   event.Text(),
		"channel":   event.Channel,
		"timestamp": event.Timestamp.Format(time.RFC3339),
	}
	ctx[KeyMessageContent] = event.Text()
}

// Lookup resolves a dotted path. Map keys and integer list indexes are supported.
func Lookup(ctx map[string]any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}

	var current any = ctx

	for _, part := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]any:
			value, ok := node[part]
			if !ok {
				return nil, false
			}

			current = value
		case []any:
			index, ok := parseIndex(part, len(node))
			if !ok {
				return nil, false
			}

			current = node[index]
		default:
			return nil, false
		}
	}

	return current, true
}

func parseIndex(part string, length int) (int, bool) {
	if part == "" {
		return 0, false
	}

	index := 0

	for _, r := range part {
		if r < '0' || r > '9' {
			return 0, false
		}

		index = index*10 + int(r-'0')
	}

	return index, index < length
}

// LookupFirst returns the first path that resolves to a non-nil value.
func LookupFirst(ctx map[string]any, paths []string) (any, string, bool) {
	for _, path := range paths {
		if value, ok := Lookup(ctx, path); ok && value != nil {
			return value, path, true
		}
	}

	return nil, "", false
}

// Set writes value at a dotted path, creating intermediate maps.
func Set(ctx map[string]any, path string, value any) {
	parts := strings.Split(path, ".")
	current := ctx

	for _, part := range parts[:len(parts)-1] {
		next, ok := current[part].(map[string]any)
		if !ok {
			next = map[string]any{}
			current[part] = next
		}

		current = next
	}

	current[parts[len(parts)-1]] = value
}

// Section returns the map stored at key, creating it when absent.
func Section(ctx map[string]any, key string) map[string]any {
	section, ok := ctx[key].(map[string]any)
	if !ok {
		section = map[string]any{}
		ctx[key] = section
	}

	return section
}

// SetNodeResult stores the result of a node under nodes.<nodeID>.
func SetNodeResult(ctx map[string]any, nodeID string, result map[string]any) {
	Section(ctx, KeyNodes)[nodeID] = result
}

// NodeResult returns the result stored for nodeID.
func NodeResult(ctx map[string]any, nodeID string) map[string]any {
	result, _ := Section(ctx, KeyNodes)[nodeID].(map[string]any)

	return result
}

// Merge writes updates into ctx. Top-level section maps are merged one level
// deep; other keys are replaced.
func Merge(ctx map[string]any, updates map[string]any) {
	for key, value := range updates {
		incoming, isMap := value.(map[string]any)
		existing, hasMap := ctx[key].(map[string]any)

		if isMap && hasMap {
			maps.Copy(existing, incoming)

			continue
		}

		ctx[key] = value
	}
}

// Clone deep-copies maps and slices; other values are shared.
func Clone(ctx map[string]any) map[string]any {
	if ctx == nil {
		return nil
	}

	out := make(map[string]any, len(ctx))
	for k, v := range ctx {
		out[k] = cloneValue(v)
	}

	return out
}

func cloneValue(v any) any {
	switch value := v.(type) {
	case map[string]any:
		return Clone(value)
	case []any:
		out := make([]any, len(value))
		for i, item := range value {
			out[i] = cloneValue(item)
		}

		return out
	case []string:
		return append([]string(nil), value...)
	default:
		return value
	}
}

// ClearTemp empties the temporary storage.
func ClearTemp(ctx map[string]any) {
	ctx[KeyTemp] = map[string]any{}
}

// LastMessageID returns the id of the latest inbound message, or "" when the
// execution has not seen one.
func LastMessageID(ctx map[string]any) string {
	id, _ := Lookup(ctx, KeyMessage+".id")
	if s, ok := id.(string); ok {
		return s
	}

	return ""
}
