package capability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/dshills/research-assistant/graph"
)

// Default retry policy of the retrying variants.
const (
	DefaultMaxAttempts = 8
	DefaultBaseDelay   = time.Second
	DefaultMaxDelay    = 10 * time.Second
)

// RetryingPolicy returns the policy used by NewRetryingClient and
// NewRetryingRetriever.
func RetryingPolicy() graph.RetryPolicy {
	return graph.RetryPolicy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		MaxDelay:    DefaultMaxDelay,
		Retryable:   IsRetryable,
	}
}

// SingleAttempt returns the policy of the thin variants.
func SingleAttempt() graph.RetryPolicy {
	return graph.RetryPolicy{MaxAttempts: 1, Retryable: IsRetryable}
}

// Option configures a Client or Retriever.
type Option func(*settings)

type settings struct {
	policy         graph.RetryPolicy
	limiter        *rate.Limiter
	attemptTimeout time.Duration
	metrics        *graph.PrometheusMetrics
	logger         *slog.Logger
	usage          *UsageTracker
	modelName      string
	sleep          func(ctx context.Context, d time.Duration) error
}

func newSettings(policy graph.RetryPolicy, opts []Option) settings {
	s := settings{
		policy: policy,
		logger: slog.Default(),
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// WithPolicy replaces the retry policy.
func WithPolicy(p graph.RetryPolicy) Option {
	return func(s *settings) { s.policy = p }
}

// WithLimiter paces attempts through a token bucket shared by every caller
// holding the same limiter.
func WithLimiter(l *rate.Limiter) Option {
	return func(s *settings) { s.limiter = l }
}

// WithAttemptTimeout bounds each attempt. An attempt that hits this deadline
// is retried.
func WithAttemptTimeout(d time.Duration) Option {
	return func(s *settings) { s.attemptTimeout = d }
}

// WithMetrics counts retries and tokens.
func WithMetrics(m *graph.PrometheusMetrics) Option {
	return func(s *settings) { s.metrics = m }
}

// WithLogger sets the logger used for retry warnings.
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithUsage records token usage and cost of every completion.
func WithUsage(u *UsageTracker, modelName string) Option {
	return func(s *settings) {
		s.usage = u
		s.modelName = modelName
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// retry runs fn under the policy. component labels logs and metrics.
func retry[T any](ctx context.Context, s *settings, component string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	maxAttempts := s.policy.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	for attempt := 1; ; attempt++ {
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return zero, fmt.Errorf("%s: rate limiter: %w", component, err)
			}
		}

		result, err := runAttempt(ctx, s.attemptTimeout, fn)
		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}

		if !s.policy.ShouldRetry(attempt, err) {
			if attempt >= maxAttempts && s.policy.Retryable != nil && s.policy.Retryable(err) {
				return zero, &ExhaustedError{Attempts: attempt, Err: err}
			}
			return zero, err
		}

		delay := s.policy.Backoff(attempt, nil)
		s.metrics.IncrementRetries(component, reason(err))
		s.logger.LogAttrs(ctx, slog.LevelWarn, "capability call failed, retrying",
			slog.String("component", component),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", maxAttempts),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)

		if err := s.sleep(ctx, delay); err != nil {
			return zero, err
		}
	}
}

func runAttempt[T any](ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := fn(attemptCtx)
	if err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return result, fmt.Errorf("%w: %v", errAttemptTimeout, err)
	}
	return result, err
}

func reason(err error) string {
	switch {
	case errors.Is(err, errAttemptTimeout):
		return "timeout"
	default:
		return "transient"
	}
}
