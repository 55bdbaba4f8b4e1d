package prompt

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
)

// enhancerInstruction steers the local model toward image-prompt rewriting
// only. The reply is used verbatim as the upstream prompt.
const enhancerInstruction = `You rewrite short image descriptions into detailed image generation prompts.
Reply with the rewritten prompt only, no commentary, at most 120 words.

Description: %s`

// Enhancer expands terse user prompts into richer image prompts through a
// local Ollama model. It is strictly best-effort: every failure falls back
// to the original prompt so generation never depends on the local model.
type Enhancer struct {
	client *api.Client
	model  string
}

// NewEnhancer connects to a local Ollama instance. An empty baseURL falls
// back to the environment-configured endpoint.
func NewEnhancer(model string, baseURL string) (*Enhancer, error) {
	var client *api.Client
	var err error

	if baseURL != "" {
		u, perr := url.Parse(baseURL)
		if perr != nil {
			return nil, fmt.Errorf("invalid ollama base URL: %w", perr)
		}
		client = api.NewClient(u, &http.Client{Timeout: 60 * time.Second})
	} else {
		client, err = api.ClientFromEnvironment()
		if err != nil {
			return nil, err
		}
	}

	slog.Info("Prompt enhancer initialized", "model", model, "base_url", baseURL)

	return &Enhancer{client: client, model: model}, nil
}

// Enhance returns the rewritten prompt, or the original on any failure.
func (e *Enhancer) Enhance(ctx context.Context, prompt string) string {
	stream := false
	req := &api.GenerateRequest{
		Model:  e.model,
		Prompt: fmt.Sprintf(enhancerInstruction, prompt),
		Stream: &stream,
	}

	var sb strings.Builder
	err := e.client.Generate(ctx, req, func(resp api.GenerateResponse) error {
		sb.WriteString(resp.Response)
		return nil
	})
	if err != nil {
		slog.Warn("⚠️ Prompt enhancer unavailable, using original prompt", "error", err)
		return prompt
	}

	enhanced := strings.TrimSpace(sb.String())
	if enhanced == "" {
		return prompt
	}

	slog.Debug("Prompt enhanced", "original_len", len(prompt), "enhanced_len", len(enhanced))
	return enhanced
}
