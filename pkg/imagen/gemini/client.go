package gemini

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"strings"

	"google.golang.org/genai"

	"atelier/pkg/api"
	"atelier/pkg/imagen"
	"atelier/pkg/utils"
)

// GeminiClient drives one Google model through the GenAI API. The API
// exposes two distinct call shapes: Imagen models (imagen-*) use the batch
// image generation endpoint, while Gemini image models (gemini-*-image and
// friends) generate images through the regular content endpoint with image
// response modality. Which shape applies is fixed per model id.
type GeminiClient struct {
	client *genai.Client
	model  string
	count  int // default image count for Imagen-family calls
}

// NewGeminiClient creates a Gemini client for a single model and API key.
func NewGeminiClient(apiKey string, model string, options map[string]any) *GeminiClient {
	ctx := context.Background()
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		log.Fatalf("❌ Fatal: Failed to create Gemini client: %v", err)
	}

	count := 1
	if n, ok := options["image_count"].(float64); ok && n >= 1 {
		count = int(n)
	}

	return &GeminiClient{
		client: client,
		model:  model,
		count:  count,
	}
}

func (g *GeminiClient) Provider() string {
	return "gemini"
}

func (g *GeminiClient) Model() string {
	return g.model
}

// isImagenFamily reports whether the model uses the batch image generation
// call shape instead of the content call shape.
func isImagenFamily(model string) bool {
	return strings.HasPrefix(model, "imagen-")
}

// Generate implements imagen.ImageClient.Generate.
func (g *GeminiClient) Generate(ctx context.Context, req *imagen.GenerateRequest) (*imagen.Result, error) {
	if isImagenFamily(g.model) {
		return g.generateImagen(ctx, req)
	}
	return g.generateContent(ctx, req)
}

// generateImagen issues a batch image generation call (Imagen family).
func (g *GeminiClient) generateImagen(ctx context.Context, req *imagen.GenerateRequest) (*imagen.Result, error) {
	cfg := &genai.GenerateImagesConfig{
		NumberOfImages: int32(g.count),
		OutputMIMEType: utils.MimeForFormat(req.Format),
	}
	if req.Count > 0 {
		cfg.NumberOfImages = int32(req.Count)
	}
	if req.AspectRatio != "" {
		cfg.AspectRatio = req.AspectRatio
	}

	slog.Info("[Gemini] 🎨 Generating images", "model", g.model, "count", cfg.NumberOfImages)

	resp, err := g.client.Models.GenerateImages(ctx, g.model, req.Prompt, cfg)
	if err != nil {
		return nil, api.WrapError(api.KindUpstream, "generate_image", "image generation request failed", err)
	}

	result := &imagen.Result{}
	for _, gi := range resp.GeneratedImages {
		if gi.Image == nil || len(gi.Image.ImageBytes) == 0 {
			continue
		}
		mime := gi.Image.MIMEType
		if mime == "" {
			mime = utils.MimeForFormat(req.Format)
		}
		result.Images = append(result.Images, imagen.Payload{
			MimeType: mime,
			Data:     gi.Image.ImageBytes,
		})
	}
	return result, nil
}

// generateContent issues a content generation call with image response
// modality (Gemini image family).
func (g *GeminiClient) generateContent(ctx context.Context, req *imagen.GenerateRequest) (*imagen.Result, error) {
	contents := []*genai.Content{{
		Role:  "user",
		Parts: []*genai.Part{{Text: req.Prompt}},
	}}

	slog.Info("[Gemini] 🎨 Generating via content call", "model", g.model)

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, &genai.GenerateContentConfig{
		ResponseModalities: []string{"IMAGE", "TEXT"},
	})
	if err != nil {
		return nil, api.WrapError(api.KindUpstream, "generate_image", "content generation request failed", err)
	}

	return collectParts(resp), nil
}

// Edit implements imagen.ImageClient.Edit. Only the content call shape
// accepts input images; Imagen-family models reject editing outright.
func (g *GeminiClient) Edit(ctx context.Context, req *imagen.EditRequest) (*imagen.Result, error) {
	if isImagenFamily(g.model) {
		return nil, api.NewError(api.KindInvalidInput, "edit_image",
			fmt.Sprintf("model %s does not support image editing", g.model))
	}

	parts := []*genai.Part{{
		InlineData: &genai.Blob{
			MIMEType: req.Source.MimeType,
			Data:     req.Source.Data,
		},
	}}
	for _, ref := range req.References {
		parts = append(parts, &genai.Part{
			InlineData: &genai.Blob{
				MIMEType: ref.MimeType,
				Data:     ref.Data,
			},
		})
	}
	parts = append(parts, &genai.Part{Text: req.Prompt})

	contents := []*genai.Content{{Role: "user", Parts: parts}}

	slog.Info("[Gemini] ✏️ Editing image", "model", g.model, "references", len(req.References))

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, &genai.GenerateContentConfig{
		ResponseModalities: []string{"IMAGE", "TEXT"},
	})
	if err != nil {
		return nil, api.WrapError(api.KindUpstream, "edit_image", "image edit request failed", err)
	}

	return collectParts(resp), nil
}

// collectParts extracts inline image payloads and any text from a content
// response. A text-only response yields an empty Images slice, which the
// service reports as a distinct "nothing to give" outcome, not an error.
func collectParts(resp *genai.GenerateContentResponse) *imagen.Result {
	result := &imagen.Result{}
	var text strings.Builder

	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part.Text != "" {
				text.WriteString(part.Text)
			}
			if part.InlineData != nil && len(part.InlineData.Data) > 0 {
				mime := part.InlineData.MIMEType
				if mime == "" {
					mime = utils.DetectMime(part.InlineData.Data)
				}
				result.Images = append(result.Images, imagen.Payload{
					MimeType: mime,
					Data:     part.InlineData.Data,
				})
			}
		}
	}

	result.Text = text.String()
	return result
}

// IsTransientError implements the imagen.ImageClient interface
func (g *GeminiClient) IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	return imagen.IsTransientMessage(err.Error())
}
