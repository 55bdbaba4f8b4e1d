package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"atelier/pkg/api"
)

// Policy wraps fallible operations with bounded exponential-backoff retry.
// Retry state is per call: there is no shared circuit breaker, which is fine
// for the low, operator-driven call volume this service handles.
type Policy struct {
	MaxAttempts  int           // total attempts including the first
	InitialDelay time.Duration // wait before attempt 2; doubles afterwards
	// Retryable classifies an error as transient. When nil, only caller
	// mistakes (InvalidInput/PathDenied/NotFound kinds) are non-retryable.
	Retryable func(error) bool
}

// New builds a Policy from the configured attempt count and initial delay.
func New(maxAttempts int, initialDelay time.Duration) *Policy {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return &Policy{MaxAttempts: maxAttempts, InitialDelay: initialDelay}
}

func (p *Policy) retryable(err error) bool {
	if p.Retryable != nil {
		return p.Retryable(err)
	}
	switch api.KindOf(err) {
	case api.KindInvalidInput, api.KindPathDenied, api.KindNotFound, api.KindNoPriorImage, api.KindNotConfigured:
		return false
	}
	return true
}

// Do runs op, retrying transient failures with doubling backoff: attempt k
// waits InitialDelay * 2^(k-1) before running. Non-retryable failures
// propagate immediately; after exhausting attempts the last failure is
// returned. Context cancellation aborts waiting.
func Do[T any](ctx context.Context, p *Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	delay := p.InitialDelay
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if attempt > 1 {
			slog.Info("🔄 Retrying upstream call", "attempt", attempt, "max", p.MaxAttempts, "wait", delay)
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}

		res, err := op(ctx)
		if err == nil {
			return res, nil
		}
		lastErr = err

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return zero, err
		}
		if !p.retryable(err) {
			return zero, err
		}
		slog.Warn("❌ Upstream call failed with transient error", "attempt", attempt, "error", api.Redact(err.Error()))
	}

	return zero, lastErr
}
