package tools

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"atelier/pkg/api"
	"atelier/pkg/imagen"
	"atelier/pkg/retry"
	"atelier/pkg/sandbox"
	"atelier/pkg/service"
	"atelier/pkg/store"
)

type scriptedClient struct {
	model  string
	result *imagen.Result
}

func (c *scriptedClient) Provider() string { return "scripted" }
func (c *scriptedClient) Model() string    { return c.model }

func (c *scriptedClient) Generate(ctx context.Context, req *imagen.GenerateRequest) (*imagen.Result, error) {
	return c.result, nil
}

func (c *scriptedClient) Edit(ctx context.Context, req *imagen.EditRequest) (*imagen.Result, error) {
	return c.result, nil
}

func (c *scriptedClient) IsTransientError(err error) bool { return false }

func newToolsFixture(t *testing.T) (*Dispatcher, *store.Store) {
	t.Helper()
	dir := t.TempDir()

	router := imagen.NewRouter()
	router.Add(&scriptedClient{
		model:  "scripted-1",
		result: &imagen.Result{Images: []imagen.Payload{{MimeType: "image/png", Data: []byte("fake-png")}}},
	})

	st := store.New(filepath.Join(dir, "metadata.json"), 20)
	svc := service.New(router, st, sandbox.NewWithRoots(dir), retry.New(1, time.Millisecond), service.Options{
		OutputDir:    dir,
		DefaultModel: "scripted-1",
	})

	tr := NewToolRegistry()
	RegisterImageTools(tr, Deps{Service: svc, Store: st, Sessions: service.NewSessionManager()})
	return NewDispatcher(tr), st
}

func dispatch(t *testing.T, d *Dispatcher, tool string, args map[string]any) *api.ToolResult {
	t.Helper()
	res, derr := d.Dispatch(context.Background(), &api.Invocation{
		Session: api.SessionContext{ChannelID: "test", ChatID: "1", Username: "tester"},
		Tool:    tool,
		Args:    args,
	})
	if derr != nil {
		t.Fatalf("%s failed: %+v", tool, derr)
	}
	return res
}

func firstImageBlock(t *testing.T, res *api.ToolResult) api.ContentBlock {
	t.Helper()
	for _, block := range res.Content {
		if block.Type == "image" {
			return block
		}
	}
	t.Fatalf("no image block in %+v", res.Content)
	return api.ContentBlock{}
}

func TestToolsRegistered(t *testing.T) {
	d, _ := newToolsFixture(t)

	for _, name := range []string{
		"generate_image", "edit_image", "continue_edit",
		"list_images", "get_image", "delete_image", "search_images",
	} {
		if _, ok := d.registry.Get(name); !ok {
			t.Errorf("tool %s not registered", name)
		}
	}
}

func TestGenerateToolEndToEnd(t *testing.T) {
	d, st := newToolsFixture(t)

	res := dispatch(t, d, "generate_image", map[string]any{"prompt": "red circle"})

	block := firstImageBlock(t, res)
	if block.MimeType != "image/png" || block.Data == "" || block.Path == "" {
		t.Fatalf("image block = %+v", block)
	}
	if res.Details["image_produced"] != true {
		t.Fatalf("details = %+v", res.Details)
	}
	id, _ := res.Details["id"].(string)
	if id == "" {
		t.Fatal("no record id in details")
	}
	if st.Len() != 1 {
		t.Fatalf("store has %d records", st.Len())
	}
}

func TestContinueEditToolUsesSession(t *testing.T) {
	d, _ := newToolsFixture(t)

	dispatch(t, d, "generate_image", map[string]any{"prompt": "base image"})
	res := dispatch(t, d, "continue_edit", map[string]any{"prompt": "make it blue"})

	if res.Details["image_produced"] != true {
		t.Fatalf("details = %+v", res.Details)
	}

	// A different chat has no prior image.
	_, derr := d.Dispatch(context.Background(), &api.Invocation{
		Session: api.SessionContext{ChannelID: "test", ChatID: "other"},
		Tool:    "continue_edit",
		Args:    map[string]any{"prompt": "me too"},
	})
	if derr == nil || derr.Code != "invalid_request" {
		t.Fatalf("derr = %+v, want invalid_request", derr)
	}
}

func TestListAndGetTools(t *testing.T) {
	d, _ := newToolsFixture(t)

	gen := dispatch(t, d, "generate_image", map[string]any{"prompt": "findable sunset"})
	id := gen.Details["id"].(string)

	list := dispatch(t, d, "list_images", map[string]any{})
	if !strings.Contains(list.Content[0].Text, id) {
		t.Fatalf("list output missing record: %s", list.Content[0].Text)
	}
	if list.Details["count"] != 1 {
		t.Fatalf("count = %v", list.Details["count"])
	}

	got := dispatch(t, d, "get_image", map[string]any{"id": id})
	if got.Details["id"] != id || got.Details["kind"] != "generated" {
		t.Fatalf("get details = %+v", got.Details)
	}
	for _, block := range got.Content {
		if block.Type == "image" {
			t.Fatal("image bytes returned without include_data")
		}
	}

	withData := dispatch(t, d, "get_image", map[string]any{"id": id, "include_data": true})
	if firstImageBlock(t, withData).Data == "" {
		t.Fatal("include_data did not return image bytes")
	}
}

func TestListRejectsBadKind(t *testing.T) {
	d, _ := newToolsFixture(t)

	_, derr := d.Dispatch(context.Background(), &api.Invocation{
		Tool: "list_images",
		Args: map[string]any{"kind": "imagined"},
	})
	if derr == nil || derr.Code != "invalid_params" {
		t.Fatalf("derr = %+v", derr)
	}
}

func TestDeleteTool(t *testing.T) {
	d, st := newToolsFixture(t)

	gen := dispatch(t, d, "generate_image", map[string]any{"prompt": "short-lived"})
	id := gen.Details["id"].(string)

	dispatch(t, d, "delete_image", map[string]any{"id": id})
	if st.Len() != 0 {
		t.Fatal("record survived deletion")
	}

	_, derr := d.Dispatch(context.Background(), &api.Invocation{
		Tool: "delete_image",
		Args: map[string]any{"id": id},
	})
	if derr == nil || derr.Code != "not_found" {
		t.Fatalf("derr = %+v, want not_found", derr)
	}
}

func TestSearchTool(t *testing.T) {
	d, _ := newToolsFixture(t)

	gen := dispatch(t, d, "generate_image", map[string]any{"prompt": "a dramatic sunset over hills"})
	id := gen.Details["id"].(string)

	res := dispatch(t, d, "search_images", map[string]any{"query": "SUNSET"})
	if !strings.Contains(res.Content[0].Text, id) {
		t.Fatalf("search missed the record: %s", res.Content[0].Text)
	}

	none := dispatch(t, d, "search_images", map[string]any{"query": "nonexistent"})
	if none.Content[0].Text != "No matching images." {
		t.Fatalf("text = %q", none.Content[0].Text)
	}

	today := time.Now().Format("2006-01-02")
	byDate := dispatch(t, d, "search_images", map[string]any{"after": today, "until": today})
	if !strings.Contains(byDate.Content[0].Text, id) {
		t.Fatalf("date-bounded search missed the record: %s", byDate.Content[0].Text)
	}

	_, derr := d.Dispatch(context.Background(), &api.Invocation{
		Tool: "search_images",
		Args: map[string]any{"after": "not a date"},
	})
	if derr == nil || derr.Code != "invalid_params" {
		t.Fatalf("derr = %+v", derr)
	}
}
