// Package embedding wraps the remote embedding model behind a small
// client interface: text in, fixed-dimension float vector out. The
// adapter carries no retry logic; bounded retry is the backfill
// runner's concern.
package embedding

import (
	"context"
	"errors"
	"fmt"
)

// ErrDisabled is returned when no provider credential is configured.
// Callers treat this as a configuration state, not a fault.
var ErrDisabled = errors.New("embedding provider is not configured")

// Client generates embeddings for arbitrary text.
type Client interface {
	// Enabled reports whether a credential was configured at
	// construction time. When false, Embed always fails with
	// ErrDisabled.
	Enabled() bool

	// Dimensions returns the fixed vector dimension produced by the
	// configured model.
	Dimensions() int

	// Embed generates an embedding for the given text. One outbound
	// network call per invocation; identical inputs are recomputed
	// unless the caller deduplicates.
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ProviderError is a transport or provider-side failure from the
// embedding API. Retryable errors may be retried by the caller.
type ProviderError struct {
	Provider   string
	Code       string
	Message    string
	StatusCode int
	Retryable  bool
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s provider error [%s]: %s", e.Provider, e.Code, e.Message)
}

// IsRetryable reports whether an embedding failure is worth retrying.
// Unknown errors default to retryable; ErrDisabled never is.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, ErrDisabled) {
		return false
	}
	var provErr *ProviderError
	if errors.As(err, &provErr) {
		return provErr.Retryable
	}
	return true
}
