// Package capability wraps the completion and retrieval backends with the
// retry, pacing and accounting policy used by workflow nodes.
package capability

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/dshills/research-assistant/graph/model"
	"github.com/dshills/research-assistant/graph/tool"
)

// ErrRetryExhausted matches every *ExhaustedError.
var ErrRetryExhausted = errors.New("retry attempts exhausted")

// ExhaustedError is returned when every attempt of a call failed with a
// retryable error. Err is the last failure.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("giving up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrRetryExhausted) hold.
func (e *ExhaustedError) Is(target error) bool {
	return target == ErrRetryExhausted
}

// errAttemptTimeout marks an attempt that hit its own deadline while the
// caller's context was still live.
var errAttemptTimeout = errors.New("attempt deadline exceeded")

// IsRetryable classifies capability errors. Rate limiting, server failures,
// per-attempt timeouts and network timeouts are retryable. Cancellation by
// the caller, malformed output and client errors are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, model.ErrMalformedOutput) {
		return false
	}
	if errors.Is(err, errAttemptTimeout) {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var pe *model.ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable
	}

	var se *tool.StatusError
	if errors.As(err, &se) {
		return se.Transient()
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	return false
}
