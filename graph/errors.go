package graph

import "errors"

// ErrMaxStepsExceeded is returned when a single Start, Resume, or Invoke call
// executes more supersteps than Options.MaxSteps allows.
var ErrMaxStepsExceeded = errors.New("execution exceeded maximum steps limit")

// ErrThreadNotFound is returned by Resume when the store holds no checkpoint
// for the requested thread.
var ErrThreadNotFound = errors.New("thread not found")

// ErrThreadExists is returned by Start when the thread already has a
// checkpoint. Callers start a fresh thread for new input.
var ErrThreadExists = errors.New("thread already exists")

// ErrNotInterrupted is returned by Resume when the latest checkpoint of the
// thread is not suspended at an interrupt.
var ErrNotInterrupted = errors.New("thread is not waiting at an interrupt")

// ErrUnexpectedInterrupt is returned by Invoke when execution reaches an
// interrupt. Invoke has no thread to persist into, so it cannot suspend.
var ErrUnexpectedInterrupt = errors.New("interrupt reached during non-persistent invocation")

// ErrInvalidRetryPolicy is returned when a RetryPolicy fails validation.
var ErrInvalidRetryPolicy = errors.New("invalid retry policy")

// EngineError reports a structural or configuration failure of the engine
// itself, as opposed to a failure inside node logic.
//
// Code is a stable machine-readable identifier such as "NO_ROUTE",
// "NODE_NOT_FOUND", or "NODE_TIMEOUT".
type EngineError struct {
	Message string
	Code    string
}

func (e *EngineError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}
