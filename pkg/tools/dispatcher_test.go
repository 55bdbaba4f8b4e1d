package tools

import (
	"context"
	"strings"
	"testing"

	"atelier/pkg/api"
)

// stubTool records its invocation and returns a scripted outcome.
type stubTool struct {
	name     string
	schema   map[string]any
	gotArgs  map[string]any
	gotCtx   context.Context
	result   *api.ToolResult
	err      error
	executed bool
}

func (t *stubTool) Name() string                { return t.name }
func (t *stubTool) Description() string         { return "stub" }
func (t *stubTool) InputSchema() map[string]any { return t.schema }

func (t *stubTool) Execute(ctx context.Context, args map[string]any) (*api.ToolResult, error) {
	t.executed = true
	t.gotArgs = args
	t.gotCtx = ctx
	if t.err != nil {
		return nil, t.err
	}
	return t.result, nil
}

func promptSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"prompt": map[string]any{"type": "string"},
			"count":  map[string]any{"type": "integer"},
		},
		"required": []string{"prompt"},
	}
}

func newStubDispatcher(t *stubTool) *Dispatcher {
	tr := NewToolRegistry()
	tr.Register(t)
	return NewDispatcher(tr)
}

func TestDispatchUnknownTool(t *testing.T) {
	d := NewDispatcher(NewToolRegistry())

	_, derr := d.Dispatch(context.Background(), &api.Invocation{Tool: "nope"})
	if derr == nil || derr.Code != "invalid_request" {
		t.Fatalf("derr = %+v, want invalid_request", derr)
	}
}

func TestDispatchValidatesArgs(t *testing.T) {
	cases := []struct {
		name string
		args map[string]any
		code string // "" means the call must succeed
	}{
		{"valid", map[string]any{"prompt": "hi"}, ""},
		{"valid with number", map[string]any{"prompt": "hi", "count": float64(2)}, ""},
		{"missing required", map[string]any{}, "invalid_params"},
		{"nil args", nil, "invalid_params"},
		{"empty required string", map[string]any{"prompt": ""}, "invalid_params"},
		{"wrong type", map[string]any{"prompt": 42}, "invalid_params"},
		{"wrong number type", map[string]any{"prompt": "hi", "count": "three"}, "invalid_params"},
		{"undeclared argument", map[string]any{"prompt": "hi", "bogus": true}, "invalid_params"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			stub := &stubTool{name: "stub", schema: promptSchema(), result: api.NewTextResult("ok")}
			d := newStubDispatcher(stub)

			res, derr := d.Dispatch(context.Background(), &api.Invocation{Tool: "stub", Args: tc.args})
			if tc.code == "" {
				if derr != nil {
					t.Fatalf("unexpected error: %+v", derr)
				}
				if res == nil || !stub.executed {
					t.Fatal("tool did not run")
				}
				return
			}
			if derr == nil || derr.Code != tc.code {
				t.Fatalf("derr = %+v, want code %s", derr, tc.code)
			}
			if stub.executed {
				t.Fatal("tool ran despite validation failure")
			}
		})
	}
}

func TestDispatchMapsErrorKinds(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code string
	}{
		{"invalid input", api.NewError(api.KindInvalidInput, "stub", "bad prompt"), "invalid_params"},
		{"path denied", api.NewError(api.KindPathDenied, "stub", "path not allowed"), "invalid_params"},
		{"not found", api.NewError(api.KindNotFound, "stub", "no such record"), "not_found"},
		{"no prior image", api.NewError(api.KindNoPriorImage, "stub", "nothing yet"), "invalid_request"},
		{"upstream", api.NewError(api.KindUpstream, "stub", "provider exploded"), "internal_error"},
		{"persistence", api.NewError(api.KindPersistence, "stub", "disk full"), "internal_error"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			stub := &stubTool{name: "stub", schema: promptSchema(), err: tc.err}
			d := newStubDispatcher(stub)

			_, derr := d.Dispatch(context.Background(), &api.Invocation{
				Tool: "stub",
				Args: map[string]any{"prompt": "x"},
			})
			if derr == nil || derr.Code != tc.code {
				t.Fatalf("derr = %+v, want code %s", derr, tc.code)
			}
		})
	}
}

func TestDispatchRedactsErrorMessages(t *testing.T) {
	secret := "AIzaSyFAKEFAKEFAKEFAKEFAKEFAKE98765"
	stub := &stubTool{
		name:   "stub",
		schema: promptSchema(),
		err:    api.NewError(api.KindUpstream, "stub", "auth failed for key "+secret),
	}
	d := newStubDispatcher(stub)

	_, derr := d.Dispatch(context.Background(), &api.Invocation{
		Tool: "stub",
		Args: map[string]any{"prompt": "x"},
	})
	if derr == nil {
		t.Fatal("expected error")
	}
	if strings.Contains(derr.Message, secret) {
		t.Fatalf("dispatch error leaks credential: %s", derr.Message)
	}
}

func TestDispatchInjectsSession(t *testing.T) {
	stub := &stubTool{name: "stub", schema: promptSchema(), result: api.NewTextResult("ok")}
	d := newStubDispatcher(stub)

	session := api.SessionContext{ChannelID: "web", ChatID: "42", Username: "ada"}
	_, derr := d.Dispatch(context.Background(), &api.Invocation{
		Tool:    "stub",
		Session: session,
		Args:    map[string]any{"prompt": "x"},
	})
	if derr != nil {
		t.Fatal(derr)
	}

	got, ok := api.SessionFrom(stub.gotCtx)
	if !ok || got.Key() != "web_42" {
		t.Fatalf("session in context = %+v (%v)", got, ok)
	}
}

func TestDispatchInjectsAttachmentAsSource(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"source_path": map[string]any{"type": "string"},
			"prompt":      map[string]any{"type": "string"},
		},
		"required": []string{"source_path", "prompt"},
	}
	stub := &stubTool{name: "edit_stub", schema: schema, result: api.NewTextResult("ok")}
	d := newStubDispatcher(stub)

	_, derr := d.Dispatch(context.Background(), &api.Invocation{
		Tool:  "edit_stub",
		Args:  map[string]any{"prompt": "x"},
		Files: []api.FileAttachment{{Filename: "photo.png", Path: "/tmp/photo.png"}},
	})
	if derr != nil {
		t.Fatal(derr)
	}
	if stub.gotArgs["source_path"] != "/tmp/photo.png" {
		t.Fatalf("source_path = %v", stub.gotArgs["source_path"])
	}
}
