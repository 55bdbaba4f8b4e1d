package tools

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"atelier/pkg/api"
	"atelier/pkg/monitor"
)

// DispatchError is the transport-facing failure form. Code is one of
// invalid_params, invalid_request, not_found or internal_error; Message is
// already sanitized.
type DispatchError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Dispatcher routes invocations to registered tools. It validates the raw
// argument map against the tool's declared schema before execution and maps
// internal failures onto the transport error vocabulary, so every channel
// sees identical behavior for identical calls.
type Dispatcher struct {
	registry api.ToolRegistry
	monitors []monitor.Monitor
}

// NewDispatcher builds a Dispatcher over the given registry.
func NewDispatcher(registry api.ToolRegistry) *Dispatcher {
	return &Dispatcher{registry: registry}
}

// AddMonitor attaches a monitor that receives a message per invocation,
// result and error.
func (d *Dispatcher) AddMonitor(m monitor.Monitor) {
	d.monitors = append(d.monitors, m)
}

func (d *Dispatcher) broadcast(msgType string, session api.SessionContext, tool, content string) {
	msg := monitor.MonitorMessage{
		Timestamp:   time.Now(),
		MessageType: msgType,
		ChannelID:   session.ChannelID,
		Username:    session.Username,
		Tool:        tool,
		Content:     content,
	}
	for _, m := range d.monitors {
		m.OnMessage(msg)
	}
}

// Dispatch validates and executes one invocation. A nil DispatchError means
// the result is valid; otherwise the result is nil.
func (d *Dispatcher) Dispatch(ctx context.Context, inv *api.Invocation) (*api.ToolResult, *DispatchError) {
	tool, ok := d.registry.Get(inv.Tool)
	if !ok {
		return nil, &DispatchError{Code: "invalid_request", Message: fmt.Sprintf("unknown tool %q", inv.Tool)}
	}

	args := inv.Args
	if args == nil {
		args = make(map[string]any)
	}

	schema := tool.InputSchema()
	injectAttachment(schema, args, inv.Files)
	if derr := validateArgs(schema, args); derr != nil {
		return nil, derr
	}

	d.broadcast("INVOKE", inv.Session, inv.Tool, summarizeArgs(args))
	slog.Info("🛠️ Dispatching tool call", "tool", inv.Tool, "channel", inv.Session.ChannelID, "user", inv.Session.Username)

	res, err := tool.Execute(api.WithSession(ctx, inv.Session), args)
	if err != nil {
		sanitized := api.Sanitize(err)
		derr := &DispatchError{Code: api.KindOf(err).String(), Message: sanitized.Error()}
		d.broadcast("ERROR", inv.Session, inv.Tool, derr.Message)
		slog.Warn("❌ Tool call failed", "tool", inv.Tool, "code", derr.Code, "error", derr.Message)
		return nil, derr
	}

	d.broadcast("RESULT", inv.Session, inv.Tool, summarizeResult(res))
	return res, nil
}

// injectAttachment maps the first uploaded file onto a declared source_path
// argument when the caller did not pass one. Channels that save uploads to
// disk (telegram photo edits) rely on this.
func injectAttachment(schema map[string]any, args map[string]any, files []api.FileAttachment) {
	props, _ := schema["properties"].(map[string]any)
	if _, declared := props["source_path"]; !declared {
		return
	}
	if _, present := args["source_path"]; present {
		return
	}
	for _, f := range files {
		if f.Path != "" {
			args["source_path"] = f.Path
			return
		}
	}
}

// validateArgs checks args against a JSON-Schema-shaped map: all required
// names present, no undeclared names, values matching declared types.
func validateArgs(schema map[string]any, args map[string]any) *DispatchError {
	props, _ := schema["properties"].(map[string]any)

	for _, name := range requiredNames(schema) {
		v, ok := args[name]
		if !ok || v == nil {
			return &DispatchError{Code: "invalid_params", Message: fmt.Sprintf("missing required argument %q", name)}
		}
		if s, isStr := v.(string); isStr && s == "" {
			return &DispatchError{Code: "invalid_params", Message: fmt.Sprintf("missing required argument %q", name)}
		}
	}

	for name, v := range args {
		spec, declared := props[name].(map[string]any)
		if !declared {
			return &DispatchError{Code: "invalid_params", Message: fmt.Sprintf("unexpected argument %q", name)}
		}
		declaredType, _ := spec["type"].(string)
		if v != nil && !matchesType(declaredType, v) {
			return &DispatchError{Code: "invalid_params", Message: fmt.Sprintf("argument %q must be of type %s", name, declaredType)}
		}
	}
	return nil
}

// requiredNames tolerates both []string (in-process schemas) and []any
// (schemas round-tripped through JSON).
func requiredNames(schema map[string]any) []string {
	switch req := schema["required"].(type) {
	case []string:
		return req
	case []any:
		out := make([]string, 0, len(req))
		for _, r := range req {
			if s, ok := r.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func matchesType(declared string, v any) bool {
	switch declared {
	case "string":
		_, ok := v.(string)
		return ok
	case "integer", "number":
		switch v.(type) {
		case float64, int, int64:
			return true
		}
		return false
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "array":
		switch v.(type) {
		case []any, []string:
			return true
		}
		return false
	case "object":
		_, ok := v.(map[string]any)
		return ok
	}
	return true
}

// summarizeArgs renders the argument map for the monitor stream, truncated
// so long prompts do not flood the console.
func summarizeArgs(args map[string]any) string {
	return truncate(fmt.Sprintf("%v", args), 200)
}

func summarizeResult(res *api.ToolResult) string {
	if res == nil || len(res.Content) == 0 {
		return "(empty result)"
	}
	images := 0
	text := ""
	for _, block := range res.Content {
		switch block.Type {
		case "image":
			images++
		case "text":
			if text == "" {
				text = block.Text
			}
		}
	}
	if images > 0 {
		return truncate(fmt.Sprintf("%d image(s) %s", images, text), 200)
	}
	return truncate(text, 200)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
