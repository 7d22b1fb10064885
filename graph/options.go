package graph

import (
	"time"
)

// Options configures Engine execution behavior.
//
// Zero values are valid; the engine applies defaults for anything unset.
type Options struct {
	// GraphID names the graph in checkpoints and events. Two engines sharing
	// a store must use distinct IDs. Default: "graph".
	GraphID string

	// MaxSteps limits the number of supersteps executed by one Start, Resume,
	// or Invoke call. If 0, no limit is enforced.
	MaxSteps int

	// MaxConcurrentNodes caps how many tasks of one superstep run at once.
	// If 0, every task of the superstep runs concurrently.
	MaxConcurrentNodes int

	// DefaultNodeTimeout applies to nodes without a NodePolicy timeout.
	// If 0, nodes run without a deadline.
	DefaultNodeTimeout time.Duration

	// Metrics receives execution metrics. Optional.
	Metrics *PrometheusMetrics

	// Now returns the timestamp recorded in checkpoints. Default: time.Now.
	Now func() time.Time
}

// Option is a functional option for configuring an Engine.
//
// Options are applied in New; the first error is reported by the first call to
// Start, Resume, or Invoke.
//
// Example:
//
//	engine := graph.New(reducer, st, emitter,
//	    graph.WithGraphID("research"),
//	    graph.WithMaxSteps(100),
//	    graph.WithMaxConcurrent(4),
//	)
type Option func(*engineConfig) error

// engineConfig accumulates options during construction.
type engineConfig struct {
	opts Options
}

// WithGraphID sets Options.GraphID.
func WithGraphID(id string) Option {
	return func(cfg *engineConfig) error {
		if id == "" {
			return &EngineError{Message: "graph ID cannot be empty", Code: "INVALID_OPTION"}
		}
		cfg.opts.GraphID = id
		return nil
	}
}

// WithMaxSteps sets Options.MaxSteps.
func WithMaxSteps(n int) Option {
	return func(cfg *engineConfig) error {
		if n < 0 {
			return &EngineError{Message: "max steps cannot be negative", Code: "INVALID_OPTION"}
		}
		cfg.opts.MaxSteps = n
		return nil
	}
}

// WithMaxConcurrent sets Options.MaxConcurrentNodes.
func WithMaxConcurrent(n int) Option {
	return func(cfg *engineConfig) error {
		if n < 0 {
			return &EngineError{Message: "max concurrent nodes cannot be negative", Code: "INVALID_OPTION"}
		}
		cfg.opts.MaxConcurrentNodes = n
		return nil
	}
}

// WithDefaultNodeTimeout sets Options.DefaultNodeTimeout.
func WithDefaultNodeTimeout(d time.Duration) Option {
	return func(cfg *engineConfig) error {
		cfg.opts.DefaultNodeTimeout = d
		return nil
	}
}

// WithMetrics attaches Prometheus metrics to the engine.
func WithMetrics(metrics *PrometheusMetrics) Option {
	return func(cfg *engineConfig) error {
		cfg.opts.Metrics = metrics
		return nil
	}
}

// WithClock overrides the checkpoint timestamp source.
func WithClock(now func() time.Time) Option {
	return func(cfg *engineConfig) error {
		cfg.opts.Now = now
		return nil
	}
}
