package openaiimg

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"strings"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"atelier/pkg/api"
	"atelier/pkg/imagen"
	"atelier/pkg/utils"
)

// Client is a wrapper around the official OpenAI Go SDK driving the Images
// API. Two model families exist here as well: gpt-image-* models accept
// multi-image edits and an output_format knob, the dall-e-* models only
// generate and need an explicit b64 response format.
type Client struct {
	client *openai.Client
	model  string
}

// NewClient creates a new OpenAI image client
func NewClient(apiKey string, model string, baseURL string) (*Client, error) {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}

	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	client := openai.NewClient(opts...)

	return &Client{
		client: &client,
		model:  model,
	}, nil
}

func (c *Client) Provider() string {
	return "openai"
}

func (c *Client) Model() string {
	return c.model
}

func isGPTImageFamily(model string) bool {
	return strings.HasPrefix(model, "gpt-image")
}

// Generate implements imagen.ImageClient.Generate.
func (c *Client) Generate(ctx context.Context, req *imagen.GenerateRequest) (*imagen.Result, error) {
	params := openai.ImageGenerateParams{
		Prompt: req.Prompt,
		Model:  openai.ImageModel(c.model),
	}
	if req.Count > 1 {
		params.N = openai.Int(int64(req.Count))
	}

	var opts []option.RequestOption
	if isGPTImageFamily(c.model) {
		// gpt-image models always answer base64 and take the output format
		// directly; dall-e models must be asked for b64_json explicitly.
		opts = append(opts, option.WithJSONSet("output_format", utils.NormalizeFormat(req.Format)))
	} else {
		opts = append(opts, option.WithJSONSet("response_format", "b64_json"))
	}

	slog.Info("[OpenAI] 🎨 Generating images", "model", c.model)

	resp, err := c.client.Images.Generate(ctx, params, opts...)
	if err != nil {
		return nil, api.WrapError(api.KindUpstream, "generate_image", "image generation request failed", err)
	}

	return c.collectImages(resp, req.Format)
}

// Edit implements imagen.ImageClient.Edit. Only the gpt-image family
// supports instruction-based edits with reference images.
func (c *Client) Edit(ctx context.Context, req *imagen.EditRequest) (*imagen.Result, error) {
	if !isGPTImageFamily(c.model) {
		return nil, api.NewError(api.KindInvalidInput, "edit_image",
			fmt.Sprintf("model %s does not support image editing", c.model))
	}

	files := []io.Reader{
		openai.File(bytes.NewReader(req.Source.Data), "source"+extFor(req.Source.MimeType), req.Source.MimeType),
	}
	for i, ref := range req.References {
		name := fmt.Sprintf("reference_%d%s", i, extFor(ref.MimeType))
		files = append(files, openai.File(bytes.NewReader(ref.Data), name, ref.MimeType))
	}

	params := openai.ImageEditParams{
		Image:  openai.ImageEditParamsImageUnion{OfFileArray: files},
		Prompt: req.Prompt,
		Model:  openai.ImageModel(c.model),
	}

	slog.Info("[OpenAI] ✏️ Editing image", "model", c.model, "references", len(req.References))

	resp, err := c.client.Images.Edit(ctx, params,
		option.WithJSONSet("output_format", utils.NormalizeFormat(req.Format)))
	if err != nil {
		return nil, api.WrapError(api.KindUpstream, "edit_image", "image edit request failed", err)
	}

	return c.collectImages(resp, req.Format)
}

func extFor(mimeType string) string {
	return utils.ExtForFormat(utils.FormatForMime(mimeType))
}

// collectImages decodes the base64 payloads of a response. The API returning
// no data entries is surfaced as an empty Result, not an error.
func (c *Client) collectImages(resp *openai.ImagesResponse, format string) (*imagen.Result, error) {
	result := &imagen.Result{}
	for _, item := range resp.Data {
		if item.B64JSON == "" {
			continue
		}
		data, err := base64.StdEncoding.DecodeString(item.B64JSON)
		if err != nil {
			return nil, api.WrapError(api.KindUpstream, "generate_image", "failed to decode image payload", err)
		}
		result.Images = append(result.Images, imagen.Payload{
			MimeType: utils.MimeForFormat(format),
			Data:     data,
		})
		if item.RevisedPrompt != "" {
			result.Text = item.RevisedPrompt
		}
	}
	return result, nil
}

// IsTransientError implements the imagen.ImageClient interface
func (c *Client) IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	return imagen.IsTransientMessage(err.Error())
}
