package api

import (
	"context"
)

// Tool defines the structural interface for any operation callers can
// invoke. It includes metadata for schema publication (JSON Schema)
// and the execution logic itself.
type Tool interface {
	// Name returns the unique operation identifier, e.g. "generate_image".
	Name() string
	// Description returns a human-readable summary of what the tool does.
	Description() string
	// InputSchema returns a JSON-Schema-shaped map describing the accepted
	// arguments. The dispatcher validates args against it before Execute.
	InputSchema() map[string]any
	// Execute performs the actual tool logic using the provided argument map.
	Execute(ctx context.Context, args map[string]any) (*ToolResult, error)
}

// ToolResult encapsulates the outcome of a tool execution.
// It can contain multiple content blocks (text logs, images) and
// arbitrary metadata for the channel to render.
type ToolResult struct {
	Content []ContentBlock `json:"content"`           // Ordered blocks of result data
	Details map[string]any `json:"details,omitempty"` // Arbitrary technical metadata
}

// ContentBlock is an atomic data unit within a ToolResult.
type ContentBlock struct {
	Type     string `json:"type"`                // Data format: "text" or "image"
	Text     string `json:"text,omitempty"`      // String content (for text type)
	Data     string `json:"data,omitempty"`      // Base64 encoded image data (for image type)
	Path     string `json:"path,omitempty"`      // Local file path backing the image (optional)
	MimeType string `json:"mime_type,omitempty"` // MIME type for image data (e.g., "image/png")
}

// NewTextResult builds a ToolResult holding a single text block.
func NewTextResult(text string) *ToolResult {
	return &ToolResult{Content: []ContentBlock{{Type: "text", Text: text}}}
}

// ToolRegistry defines the interface for managing and accessing tools.
type ToolRegistry interface {
	Register(tool Tool)
	Unregister(name string)
	Get(name string) (Tool, bool)
	GetAll() []Tool
}
