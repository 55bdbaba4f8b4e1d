package api

import (
	"errors"
	"fmt"
	"regexp"
)

// ErrorKind classifies every failure the core can surface. Each kind maps
// onto exactly one transport error code, so callers can always tell which
// validation rule or stage failed.
type ErrorKind int

const (
	// KindInvalidInput marks caller mistakes: empty/over-length prompts,
	// unsupported formats, too many reference images. Never retried.
	KindInvalidInput ErrorKind = iota
	// KindPathDenied marks paths outside the sandbox or containing traversal.
	KindPathDenied
	// KindNotFound marks missing records or files.
	KindNotFound
	// KindUpstream marks failures returned by the image provider.
	KindUpstream
	// KindPersistence marks metadata file write failures.
	KindPersistence
	// KindNoPriorImage marks continue_edit without a previous result in session.
	KindNoPriorImage
	// KindNotConfigured marks calls made before an API credential was
	// configured for any provider.
	KindNotConfigured
)

// String returns the transport-facing code for the kind.
func (k ErrorKind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid_params"
	case KindPathDenied:
		return "invalid_params"
	case KindNotFound:
		return "not_found"
	case KindNoPriorImage, KindNotConfigured:
		return "invalid_request"
	default:
		return "internal_error"
	}
}

// Error is the unified error value used across sandbox, store, service and
// dispatcher. Message is safe to show to callers; Err keeps the full cause
// for internal logs only.
type Error struct {
	Kind    ErrorKind
	Op      string // operation that failed, e.g. "generate_image"
	Message string // caller-facing description, already sanitized
	Err     error  // wrapped cause, may contain sensitive detail
}

func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds an Error with an already-safe message.
func NewError(kind ErrorKind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// WrapError attaches a cause. The message is still sanitized before it ever
// leaves the component (see Sanitize).
func WrapError(kind ErrorKind, op, message string, err error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Err: err}
}

// KindOf extracts the ErrorKind from any error chain. Unknown errors are
// treated as upstream/internal failures.
func KindOf(err error) ErrorKind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindUpstream
}

// secretPatterns matches substrings that look like credentials: Google API
// keys, OpenAI-style keys, bot tokens, bearer headers. Applied uniformly at
// the boundary where errors leave the core, not ad hoc at call sites.
var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`AIza[0-9A-Za-z_\-]{20,}`),
	regexp.MustCompile(`sk-[0-9A-Za-z_\-]{16,}`),
	regexp.MustCompile(`\b\d{8,10}:[0-9A-Za-z_\-]{30,}\b`),
	regexp.MustCompile(`(?i)bearer\s+[0-9A-Za-z_\-\.]+`),
}

// Redact replaces credential-shaped substrings with a placeholder.
func Redact(s string) string {
	for _, p := range secretPatterns {
		s = p.ReplaceAllString(s, "***")
	}
	return s
}

// Sanitize prepares an error for the caller: the structured kind survives,
// the message is scrubbed of anything resembling a secret. The wrapped cause
// is dropped so no internal detail can leak through fmt verbs downstream.
func Sanitize(err error) error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return &Error{Kind: ae.Kind, Op: ae.Op, Message: Redact(ae.Message)}
	}
	return &Error{Kind: KindUpstream, Message: Redact(err.Error())}
}
