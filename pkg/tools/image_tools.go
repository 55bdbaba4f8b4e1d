package tools

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"strings"
	"time"

	"atelier/pkg/api"
	"atelier/pkg/service"
	"atelier/pkg/store"
	"atelier/pkg/utils"
)

// Deps bundles the shared collaborators of the image toolset.
type Deps struct {
	Service  *service.Service
	Store    *store.Store
	Sessions *service.SessionManager
}

// RegisterImageTools registers the full image toolset on the registry.
func RegisterImageTools(tr api.ToolRegistry, deps Deps) {
	tr.Register(&GenerateImageTool{deps: deps})
	tr.Register(&EditImageTool{deps: deps})
	tr.Register(&ContinueEditTool{deps: deps})
	tr.Register(&ListImagesTool{deps: deps})
	tr.Register(&GetImageTool{deps: deps})
	tr.Register(&DeleteImageTool{deps: deps})
	tr.Register(&SearchImagesTool{deps: deps})
}

// sessionFor resolves the per-caller session from the request context. Calls
// arriving without session info (tests, local invocations) share one default.
func (d Deps) sessionFor(ctx context.Context) *service.Session {
	if sc, ok := api.SessionFrom(ctx); ok {
		return d.Sessions.Get(sc.Key())
	}
	return d.Sessions.Get("local_default")
}

// stringArg reads an optional string argument.
func stringArg(args map[string]any, name string) string {
	s, _ := args[name].(string)
	return s
}

// intArg reads an optional integer argument. JSON decoding delivers numbers
// as float64, so both forms are accepted.
func intArg(args map[string]any, name string) int {
	switch v := args[name].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}

func boolArg(args map[string]any, name string) bool {
	b, _ := args[name].(bool)
	return b
}

// stringSliceArg reads an optional string array argument.
func stringSliceArg(args map[string]any, name string) []string {
	switch v := args[name].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// recordBlock renders one record as an image content block. The base64 copy
// is best-effort: a vanished file still yields the path and mime type.
func recordBlock(rec *store.ImageRecord) api.ContentBlock {
	block := api.ContentBlock{
		Type:     "image",
		Path:     rec.StoragePath,
		MimeType: utils.MimeForFormat(rec.Format),
	}
	if data, err := os.ReadFile(rec.StoragePath); err == nil {
		block.Data = base64.StdEncoding.EncodeToString(data)
	}
	return block
}

// renderResult converts a service result into the transport form shared by
// generate, edit and continue.
func renderResult(res *service.Result) *api.ToolResult {
	if res.Record == nil {
		text := res.Text
		if text == "" {
			text = "The model returned no image for this request."
		}
		return &api.ToolResult{
			Content: []api.ContentBlock{{Type: "text", Text: text}},
			Details: map[string]any{"image_produced": false},
		}
	}

	out := &api.ToolResult{
		Content: []api.ContentBlock{recordBlock(res.Record)},
		Details: map[string]any{
			"image_produced": true,
			"id":             res.Record.ID,
			"uri":            res.Record.LogicalURI,
			"model":          res.Record.Model,
			"format":         res.Record.Format,
		},
	}
	for i := range res.Extras {
		out.Content = append(out.Content, recordBlock(&res.Extras[i]))
	}
	if res.Text != "" {
		out.Content = append(out.Content, api.ContentBlock{Type: "text", Text: res.Text})
	}
	for _, w := range res.Warnings {
		out.Content = append(out.Content, api.ContentBlock{Type: "text", Text: "⚠️ " + w})
	}
	if len(res.Warnings) > 0 {
		out.Details["warnings"] = res.Warnings
	}
	return out
}

// describeRecord renders one record as a caller-facing text line.
func describeRecord(rec store.ImageRecord) string {
	return fmt.Sprintf("%s  [%s]  %s  %s  %q",
		rec.ID, rec.Kind, rec.CreatedAt.Format("2006-01-02 15:04:05"), rec.Model, rec.SourcePrompt)
}

// GenerateImageTool produces a new image from a text prompt.
type GenerateImageTool struct {
	deps Deps
}

func (t *GenerateImageTool) Name() string {
	return "generate_image"
}

func (t *GenerateImageTool) Description() string {
	return "Generate a new image from a text prompt. Returns the image and its record id."
}

func (t *GenerateImageTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"prompt": map[string]any{
				"type":        "string",
				"description": "Text description of the image to generate.",
			},
			"model": map[string]any{
				"type":        "string",
				"description": "Model to use. Omit for the configured default.",
			},
			"format": map[string]any{
				"type":        "string",
				"description": "Output format: png, jpeg or webp. Omit for the configured default.",
			},
			"aspect_ratio": map[string]any{
				"type":        "string",
				"description": "Aspect ratio hint, e.g. '1:1' or '16:9'. Not every model honours it.",
			},
			"count": map[string]any{
				"type":        "integer",
				"description": "Number of images to request (model permitting).",
			},
		},
		"required": []string{"prompt"},
	}
}

func (t *GenerateImageTool) Execute(ctx context.Context, args map[string]any) (*api.ToolResult, error) {
	res, err := t.deps.Service.Generate(ctx, t.deps.sessionFor(ctx), service.GenerateParams{
		Prompt:      stringArg(args, "prompt"),
		Model:       stringArg(args, "model"),
		Format:      stringArg(args, "format"),
		AspectRatio: stringArg(args, "aspect_ratio"),
		Count:       intArg(args, "count"),
	})
	if err != nil {
		return nil, err
	}
	return renderResult(res), nil
}

// EditImageTool modifies an existing image according to a prompt.
type EditImageTool struct {
	deps Deps
}

func (t *EditImageTool) Name() string {
	return "edit_image"
}

func (t *EditImageTool) Description() string {
	return "Edit an existing image with a text instruction. The source stays untouched; the edit is saved as a new image."
}

func (t *EditImageTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"source_path": map[string]any{
				"type":        "string",
				"description": "Path of the image to edit. Must lie inside an allowed directory.",
			},
			"prompt": map[string]any{
				"type":        "string",
				"description": "Instruction describing the desired change.",
			},
			"model": map[string]any{
				"type":        "string",
				"description": "Model to use. Omit for the configured default.",
			},
			"format": map[string]any{
				"type":        "string",
				"description": "Output format: png, jpeg or webp.",
			},
			"reference_paths": map[string]any{
				"type":        "array",
				"description": "Paths of additional images to guide the edit (style or content references).",
			},
		},
		"required": []string{"source_path", "prompt"},
	}
}

func (t *EditImageTool) Execute(ctx context.Context, args map[string]any) (*api.ToolResult, error) {
	res, err := t.deps.Service.Edit(ctx, t.deps.sessionFor(ctx), service.EditParams{
		SourcePath:     stringArg(args, "source_path"),
		Prompt:         stringArg(args, "prompt"),
		Model:          stringArg(args, "model"),
		Format:         stringArg(args, "format"),
		ReferencePaths: stringSliceArg(args, "reference_paths"),
	})
	if err != nil {
		return nil, err
	}
	return renderResult(res), nil
}

// ContinueEditTool edits the most recent image of the calling session.
type ContinueEditTool struct {
	deps Deps
}

func (t *ContinueEditTool) Name() string {
	return "continue_edit"
}

func (t *ContinueEditTool) Description() string {
	return "Apply a further edit to the last image produced in this conversation."
}

func (t *ContinueEditTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"prompt": map[string]any{
				"type":        "string",
				"description": "Instruction describing the desired change.",
			},
			"reference_paths": map[string]any{
				"type":        "array",
				"description": "Paths of additional images to guide the edit.",
			},
		},
		"required": []string{"prompt"},
	}
}

func (t *ContinueEditTool) Execute(ctx context.Context, args map[string]any) (*api.ToolResult, error) {
	res, err := t.deps.Service.ContinueFromLast(ctx, t.deps.sessionFor(ctx),
		stringArg(args, "prompt"), stringSliceArg(args, "reference_paths"))
	if err != nil {
		return nil, err
	}
	return renderResult(res), nil
}

// ListImagesTool lists recorded images newest-first.
type ListImagesTool struct {
	deps Deps
}

func (t *ListImagesTool) Name() string {
	return "list_images"
}

func (t *ListImagesTool) Description() string {
	return "List recorded images, newest first."
}

func (t *ListImagesTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"kind": map[string]any{
				"type":        "string",
				"description": "Filter by origin: 'generated' or 'edited'. Omit for all.",
			},
			"limit": map[string]any{
				"type":        "integer",
				"description": "Maximum number of entries to return.",
			},
		},
	}
}

func (t *ListImagesTool) Execute(ctx context.Context, args map[string]any) (*api.ToolResult, error) {
	kind := store.RecordKind(stringArg(args, "kind"))
	if kind != "" && kind != store.KindGenerated && kind != store.KindEdited {
		return nil, api.NewError(api.KindInvalidInput, t.Name(), "kind must be 'generated' or 'edited'")
	}

	records := t.deps.Store.List(store.ListFilter{Kind: kind, Limit: intArg(args, "limit")})
	if len(records) == 0 {
		return api.NewTextResult("No images recorded yet."), nil
	}

	lines := make([]string, 0, len(records))
	for _, rec := range records {
		lines = append(lines, describeRecord(rec))
	}
	return &api.ToolResult{
		Content: []api.ContentBlock{{Type: "text", Text: strings.Join(lines, "\n")}},
		Details: map[string]any{"count": len(records)},
	}, nil
}

// GetImageTool returns one record with optional image bytes.
type GetImageTool struct {
	deps Deps
}

func (t *GetImageTool) Name() string {
	return "get_image"
}

func (t *GetImageTool) Description() string {
	return "Fetch one image record by id, optionally including the image itself."
}

func (t *GetImageTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"id": map[string]any{
				"type":        "string",
				"description": "Record id as returned by generate_image or list_images.",
			},
			"include_data": map[string]any{
				"type":        "boolean",
				"description": "When true the image bytes are returned alongside the metadata.",
			},
		},
		"required": []string{"id"},
	}
}

func (t *GetImageTool) Execute(ctx context.Context, args map[string]any) (*api.ToolResult, error) {
	rec, err := t.deps.Store.Get(stringArg(args, "id"))
	if err != nil {
		return nil, err
	}

	out := &api.ToolResult{
		Content: []api.ContentBlock{{Type: "text", Text: describeRecord(rec)}},
		Details: map[string]any{
			"id":         rec.ID,
			"uri":        rec.LogicalURI,
			"path":       rec.StoragePath,
			"kind":       string(rec.Kind),
			"model":      rec.Model,
			"format":     rec.Format,
			"size_bytes": rec.SizeBytes,
			"created_at": rec.CreatedAt.Format(time.RFC3339),
		},
	}
	if rec.ParentID != "" {
		out.Details["parent_id"] = rec.ParentID
	}
	if len(rec.ReferenceImageIDs) > 0 {
		out.Details["reference_image_ids"] = rec.ReferenceImageIDs
	}
	if boolArg(args, "include_data") {
		out.Content = append(out.Content, recordBlock(&rec))
	}
	return out, nil
}

// DeleteImageTool removes a record and its backing file.
type DeleteImageTool struct {
	deps Deps
}

func (t *DeleteImageTool) Name() string {
	return "delete_image"
}

func (t *DeleteImageTool) Description() string {
	return "Delete an image record and its file."
}

func (t *DeleteImageTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"id": map[string]any{
				"type":        "string",
				"description": "Record id to delete.",
			},
		},
		"required": []string{"id"},
	}
}

func (t *DeleteImageTool) Execute(ctx context.Context, args map[string]any) (*api.ToolResult, error) {
	id := stringArg(args, "id")
	if err := t.deps.Store.Delete(id); err != nil {
		return nil, err
	}
	return api.NewTextResult(fmt.Sprintf("Deleted image %s.", id)), nil
}

// SearchImagesTool finds records by prompt text and creation date.
type SearchImagesTool struct {
	deps Deps
}

func (t *SearchImagesTool) Name() string {
	return "search_images"
}

func (t *SearchImagesTool) Description() string {
	return "Search image records by prompt substring, kind and creation date range."
}

func (t *SearchImagesTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "Case-insensitive substring matched against prompt and id.",
			},
			"kind": map[string]any{
				"type":        "string",
				"description": "Filter by origin: 'generated' or 'edited'.",
			},
			"after": map[string]any{
				"type":        "string",
				"description": "Earliest creation date, inclusive. RFC 3339 or YYYY-MM-DD.",
			},
			"until": map[string]any{
				"type":        "string",
				"description": "Latest creation date, inclusive. RFC 3339 or YYYY-MM-DD.",
			},
		},
	}
}

// parseSearchTime accepts full RFC 3339 timestamps and bare dates. endOfDay
// widens a bare date to its last instant so 'until' stays inclusive.
func parseSearchTime(op, name, raw string, endOfDay bool) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, api.NewError(api.KindInvalidInput, op,
			fmt.Sprintf("%s must be an RFC 3339 timestamp or a YYYY-MM-DD date", name))
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}

func (t *SearchImagesTool) Execute(ctx context.Context, args map[string]any) (*api.ToolResult, error) {
	kind := store.RecordKind(stringArg(args, "kind"))
	if kind != "" && kind != store.KindGenerated && kind != store.KindEdited {
		return nil, api.NewError(api.KindInvalidInput, t.Name(), "kind must be 'generated' or 'edited'")
	}

	after, err := parseSearchTime(t.Name(), "after", stringArg(args, "after"), false)
	if err != nil {
		return nil, err
	}
	until, err := parseSearchTime(t.Name(), "until", stringArg(args, "until"), true)
	if err != nil {
		return nil, err
	}

	records := t.deps.Store.Search(store.SearchQuery{
		Text:  stringArg(args, "query"),
		Kind:  kind,
		After: after,
		Until: until,
	})
	if len(records) == 0 {
		return api.NewTextResult("No matching images."), nil
	}

	lines := make([]string, 0, len(records))
	for _, rec := range records {
		lines = append(lines, describeRecord(rec))
	}
	return &api.ToolResult{
		Content: []api.ContentBlock{{Type: "text", Text: strings.Join(lines, "\n")}},
		Details: map[string]any{"count": len(records)},
	}, nil
}
