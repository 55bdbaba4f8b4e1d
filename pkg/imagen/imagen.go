package imagen

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// GenerateRequest describes one text-to-image call.
type GenerateRequest struct {
	Prompt      string // already validated by the service layer
	Format      string // png | jpeg | webp
	AspectRatio string // e.g. "1:1", "16:9"; provider default when empty
	Count       int    // number of images requested; providers may cap it
}

// ImageInput is one image handed to an edit call (source or reference).
type ImageInput struct {
	MimeType string
	Data     []byte
}

// EditRequest describes one image-editing call: a source image, optional
// reference images and the instruction prompt.
type EditRequest struct {
	Prompt     string
	Format     string
	Source     ImageInput
	References []ImageInput
}

// Payload is one raw image returned by a provider.
type Payload struct {
	MimeType string
	Data     []byte
}

// Result carries zero-or-more image payloads plus any accompanying text.
// An empty Images slice with non-empty Text is a valid outcome (the model
// answered in words only); callers must distinguish it from failure.
type Result struct {
	Images []Payload
	Text   string
}

// ImageClient is the common interface every provider implements.
type ImageClient interface {
	// Provider returns the provider type, e.g. "gemini".
	Provider() string
	// Model returns the upstream model identifier this client drives.
	Model() string
	// Generate performs a text-to-image call.
	Generate(ctx context.Context, req *GenerateRequest) (*Result, error)
	// Edit performs an image-editing call. Providers whose model cannot
	// edit return an InvalidInput error without any network traffic.
	Edit(ctx context.Context, req *EditRequest) (*Result, error)
	// IsTransientError 判斷是否為暫時性錯誤 (如 503, Rate Limit)
	IsTransientError(err error) bool
}

// Router owns one client per configured model and selects by model id.
type Router struct {
	mu      sync.RWMutex
	clients map[string]ImageClient
}

// NewRouter creates an empty Router.
func NewRouter() *Router {
	return &Router{clients: make(map[string]ImageClient)}
}

// Add registers a client under its model id. Later registrations of the
// same model win, matching config file ordering.
func (r *Router) Add(c ImageClient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[c.Model()] = c
}

// ClientFor returns the client driving the given model id.
func (r *Router) ClientFor(model string) (ImageClient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[model]
	if !ok {
		return nil, fmt.Errorf("no provider configured for model %q", model)
	}
	return c, nil
}

// Models lists the configured model ids.
func (r *Router) Models() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.clients))
	for m := range r.clients {
		out = append(out, m)
	}
	return out
}

// Len returns the number of configured clients.
func (r *Router) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// IsTransientMessage is the shared substring classification used by
// providers: Google and OpenAI both signal recoverable overload through
// these status markers.
func IsTransientMessage(errMsg string) bool {
	msg := strings.ToLower(errMsg)

	// Server-side temporary failures
	if strings.Contains(msg, "503") || strings.Contains(msg, "overloaded") ||
		strings.Contains(msg, "502 bad gateway") || strings.Contains(msg, "500") ||
		strings.Contains(msg, "internal error") {
		return true
	}

	// Rate limiting
	if strings.Contains(msg, "429") || strings.Contains(msg, "resource exhausted") ||
		strings.Contains(msg, "rate limit") {
		return true
	}

	// Network-level issues
	if strings.Contains(msg, "connection refused") || strings.Contains(msg, "timeout") {
		return true
	}

	return false
}
