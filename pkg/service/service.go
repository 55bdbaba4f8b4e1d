package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"atelier/pkg/api"
	"atelier/pkg/imagen"
	"atelier/pkg/retry"
	"atelier/pkg/sandbox"
	"atelier/pkg/store"
	"atelier/pkg/utils"
)

// PromptEnhancer is the optional pre-generation prompt rewriter. It must be
// best-effort: implementations return the original prompt on any failure.
type PromptEnhancer interface {
	Enhance(ctx context.Context, prompt string) string
}

// Options carries the tunables the service needs from configuration.
type Options struct {
	OutputDir          string
	DefaultModel       string
	DefaultFormat      string
	MaxPromptChars     int
	MaxReferenceImages int
}

// Service orchestrates generation and edit requests end to end: validation,
// provider call with retry, byte write through the sandbox, and metadata
// recording. It is the only component that creates ImageRecords.
type Service struct {
	router   *imagen.Router
	store    *store.Store
	sandbox  *sandbox.Validator
	policy   *retry.Policy
	enhancer PromptEnhancer // nil disables enhancement
	opts     Options
}

// New wires a Service. router may be nil when no provider credential was
// configured; every operation then fails with KindNotConfigured.
func New(router *imagen.Router, st *store.Store, sb *sandbox.Validator, policy *retry.Policy, opts Options) *Service {
	if opts.MaxPromptChars <= 0 {
		opts.MaxPromptChars = 4000
	}
	if opts.MaxReferenceImages <= 0 {
		opts.MaxReferenceImages = 3
	}
	if opts.DefaultFormat == "" {
		opts.DefaultFormat = "png"
	}
	return &Service{
		router:  router,
		store:   st,
		sandbox: sb,
		policy:  policy,
		opts:    opts,
	}
}

// SetEnhancer installs the optional prompt enhancer.
func (s *Service) SetEnhancer(e PromptEnhancer) {
	s.enhancer = e
}

// GenerateParams are the arguments of one text-to-image request.
type GenerateParams struct {
	Prompt      string
	Model       string // empty uses the configured default
	Format      string // empty uses the configured default
	AspectRatio string
	Count       int
}

// EditParams are the arguments of one image-editing request.
type EditParams struct {
	SourcePath     string
	Prompt         string
	Model          string
	Format         string
	ReferencePaths []string
}

// Result is the outcome of a generate or edit call. Record is nil when the
// upstream answered without an image payload; Text then carries whatever
// the model said instead. Warnings collect non-fatal problems such as
// skipped reference images.
type Result struct {
	Record   *store.ImageRecord
	Extras   []store.ImageRecord // additional records when count > 1
	Text     string
	Warnings []string
}

// checkPrompt enforces the fail-fast prompt bounds before any network call.
func (s *Service) checkPrompt(op, prompt string) error {
	trimmed := strings.TrimSpace(prompt)
	if trimmed == "" {
		return api.NewError(api.KindInvalidInput, op, "prompt must not be empty")
	}
	if len(prompt) > s.opts.MaxPromptChars {
		return api.NewError(api.KindInvalidInput, op,
			fmt.Sprintf("prompt exceeds the maximum length of %d characters", s.opts.MaxPromptChars))
	}
	return nil
}

// resolveModel applies the default and looks up the provider client.
func (s *Service) resolveModel(op, model string) (imagen.ImageClient, error) {
	if s.router == nil {
		return nil, api.NewError(api.KindNotConfigured, op, "no image provider credential is configured")
	}
	if model == "" {
		model = s.opts.DefaultModel
	}
	client, err := s.router.ClientFor(model)
	if err != nil {
		return nil, api.NewError(api.KindInvalidInput, op, fmt.Sprintf("unknown model %q", model))
	}
	return client, nil
}

// resolveFormat applies the default and rejects unsupported formats.
func (s *Service) resolveFormat(op, format string) (string, error) {
	if format == "" {
		format = s.opts.DefaultFormat
	}
	if !utils.IsSupportedFormat(format) {
		return "", api.NewError(api.KindInvalidInput, op,
			fmt.Sprintf("unsupported output format %q (expected png, jpeg or webp)", format))
	}
	return utils.NormalizeFormat(format), nil
}

// callPolicy builds a per-call retry policy that defers transient
// classification to the provider client.
func (s *Service) callPolicy(client imagen.ImageClient) *retry.Policy {
	p := *s.policy
	p.Retryable = func(err error) bool {
		switch api.KindOf(err) {
		case api.KindInvalidInput, api.KindPathDenied, api.KindNotFound, api.KindNoPriorImage, api.KindNotConfigured:
			return false
		}
		return client.IsTransientError(err)
	}
	return &p
}

// Generate runs one text-to-image request end to end.
func (s *Service) Generate(ctx context.Context, session *Session, params GenerateParams) (*Result, error) {
	const op = "generate_image"

	if err := s.checkPrompt(op, params.Prompt); err != nil {
		return nil, err
	}
	client, err := s.resolveModel(op, params.Model)
	if err != nil {
		return nil, err
	}
	format, err := s.resolveFormat(op, params.Format)
	if err != nil {
		return nil, err
	}

	prompt := params.Prompt
	if s.enhancer != nil {
		prompt = s.enhancer.Enhance(ctx, prompt)
	}

	req := &imagen.GenerateRequest{
		Prompt:      prompt,
		Format:      format,
		AspectRatio: params.AspectRatio,
		Count:       params.Count,
	}

	upstream, err := retry.Do(ctx, s.callPolicy(client), func(ctx context.Context) (*imagen.Result, error) {
		return client.Generate(ctx, req)
	})
	if err != nil {
		return nil, api.Sanitize(err)
	}

	return s.recordPayloads(session, upstream, recordSpec{
		op:     op,
		prompt: params.Prompt,
		kind:   store.KindGenerated,
		model:  client.Model(),
		format: format,
	})
}

// Edit runs one image-editing request. Invalid or missing reference images
// are skipped with a warning instead of failing the whole edit.
func (s *Service) Edit(ctx context.Context, session *Session, params EditParams) (*Result, error) {
	const op = "edit_image"

	if err := s.checkPrompt(op, params.Prompt); err != nil {
		return nil, err
	}
	client, err := s.resolveModel(op, params.Model)
	if err != nil {
		return nil, err
	}
	format, err := s.resolveFormat(op, params.Format)
	if err != nil {
		return nil, err
	}

	if len(params.ReferencePaths) > s.opts.MaxReferenceImages {
		return nil, api.NewError(api.KindInvalidInput, op,
			fmt.Sprintf("at most %d reference images are accepted", s.opts.MaxReferenceImages))
	}

	srcPath, err := s.sandbox.Resolve(params.SourcePath)
	if err != nil {
		return nil, err
	}
	if !s.sandbox.IsSupportedImageFile(srcPath) {
		return nil, api.NewError(api.KindInvalidInput, op, "source file is not a supported image type")
	}
	srcData, err := os.ReadFile(srcPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, api.NewError(api.KindNotFound, op, "source image does not exist")
		}
		return nil, api.WrapError(api.KindPathDenied, op, "source image could not be read", err)
	}

	var warnings []string
	var refInputs []imagen.ImageInput
	var refPaths []string
	for _, raw := range params.ReferencePaths {
		refPath, rerr := s.sandbox.Resolve(raw)
		if rerr != nil {
			warnings = append(warnings, "skipped reference image: path not allowed")
			slog.Warn("⚠️ Skipping reference image", "reason", "path denied")
			continue
		}
		if !s.sandbox.IsSupportedImageFile(refPath) {
			warnings = append(warnings, "skipped reference image: unsupported file type")
			slog.Warn("⚠️ Skipping reference image", "reason", "unsupported type")
			continue
		}
		data, rerr := os.ReadFile(refPath)
		if rerr != nil {
			warnings = append(warnings, "skipped reference image: file not readable")
			slog.Warn("⚠️ Skipping reference image", "reason", "unreadable", "error", rerr)
			continue
		}
		refInputs = append(refInputs, imagen.ImageInput{
			MimeType: utils.DetectMime(data),
			Data:     data,
		})
		refPaths = append(refPaths, refPath)
	}

	req := &imagen.EditRequest{
		Prompt: params.Prompt,
		Format: format,
		Source: imagen.ImageInput{
			MimeType: utils.DetectMime(srcData),
			Data:     srcData,
		},
		References: refInputs,
	}

	upstream, err := retry.Do(ctx, s.callPolicy(client), func(ctx context.Context) (*imagen.Result, error) {
		return client.Edit(ctx, req)
	})
	if err != nil {
		return nil, api.Sanitize(err)
	}

	spec := recordSpec{
		op:     op,
		prompt: params.Prompt,
		kind:   store.KindEdited,
		model:  client.Model(),
		format: format,
	}
	// Best-effort lineage: link back to the source record when the source
	// path belongs to a known record. No match is not an error.
	if parent, ok := s.store.FindByPath(srcPath); ok {
		spec.parentID = parent.ID
	}
	for _, rp := range refPaths {
		if ref, ok := s.store.FindByPath(rp); ok {
			spec.referenceIDs = append(spec.referenceIDs, ref.ID)
		}
	}

	res, err := s.recordPayloads(session, upstream, spec)
	if res != nil {
		res.Warnings = warnings
	}
	return res, err
}

// ContinueFromLast edits the most recently produced image of the session.
func (s *Service) ContinueFromLast(ctx context.Context, session *Session, prompt string, referencePaths []string) (*Result, error) {
	const op = "continue_edit"

	last := session.LastImagePath()
	if last == "" {
		return nil, api.NewError(api.KindNoPriorImage, op, "no image was produced in this session yet")
	}
	if _, err := os.Stat(last); err != nil {
		return nil, api.NewError(api.KindNoPriorImage, op, "the last produced image no longer exists")
	}

	return s.Edit(ctx, session, EditParams{
		SourcePath:     last,
		Prompt:         prompt,
		ReferencePaths: referencePaths,
	})
}

// recordSpec carries the metadata shared by every record of one call.
type recordSpec struct {
	op           string
	prompt       string
	kind         store.RecordKind
	model        string
	format       string
	parentID     string
	referenceIDs []string
}

// recordPayloads writes every returned payload to disk and registers it.
// Ordering per call: bytes are fully written and confirmed before the record
// is created, and the record is persisted before success is returned.
func (s *Service) recordPayloads(session *Session, upstream *imagen.Result, spec recordSpec) (*Result, error) {
	if len(upstream.Images) == 0 {
		// Distinct success: upstream had nothing to give. Callers must be
		// able to tell this apart from a failed call.
		slog.Info("Upstream returned no image payload", "op", spec.op)
		return &Result{Text: upstream.Text}, nil
	}

	if err := os.MkdirAll(s.opts.OutputDir, 0o755); err != nil {
		return nil, api.WrapError(api.KindPersistence, spec.op, "failed to create output directory", err)
	}

	res := &Result{Text: upstream.Text}
	for i, payload := range upstream.Images {
		format := spec.format
		if payload.MimeType != "" {
			format = utils.FormatForMime(payload.MimeType)
		}

		id := utils.GenerateID()
		path, err := s.sandbox.Resolve(filepath.Join(s.opts.OutputDir, id+utils.ExtForFormat(format)))
		if err != nil {
			return nil, err
		}
		if err := os.WriteFile(path, payload.Data, 0o644); err != nil {
			return nil, api.WrapError(api.KindPersistence, spec.op, "failed to write image file", err)
		}

		rec := store.ImageRecord{
			ID:                id,
			StoragePath:       path,
			LogicalURI:        store.LogicalURI(id),
			SourcePrompt:      spec.prompt,
			Kind:              spec.kind,
			CreatedAt:         time.Now(),
			Model:             spec.model,
			Format:            format,
			SizeBytes:         int64(len(payload.Data)),
			ReferenceImageIDs: spec.referenceIDs,
			ParentID:          spec.parentID,
		}
		if err := s.store.Put(rec); err != nil {
			// The in-memory index keeps the record (availability over
			// strict consistency); the caller still learns persistence
			// failed.
			return nil, api.Sanitize(err)
		}

		slog.Info("💾 Image recorded", "id", id, "kind", rec.Kind, "bytes", rec.SizeBytes, "model", rec.Model)

		if i == 0 {
			res.Record = &rec
			session.setLastImagePath(path)
		} else {
			res.Extras = append(res.Extras, rec)
		}
	}

	return res, nil
}
