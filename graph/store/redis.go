package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"
)

// RedisStore is a Redis implementation of Store[S].
//
// Each thread owns two keys:
//   - <prefix>:<graph>:<thread>:latest  the encoded newest checkpoint
//   - <prefix>:<graph>:<thread>:history a list of every encoded version
//
// Put watches the latest key and writes both keys in one MULTI/EXEC, so a
// reader never observes a history entry without the matching latest value and
// a concurrent writer loses with ErrVersionConflict.
//
// The caller owns the Redis client lifecycle; Close is a no-op.
type RedisStore[S any] struct {
	client goredis.UniversalClient
	prefix string
	logger *slog.Logger
}

// RedisOption configures a RedisStore.
type RedisOption func(*redisConfig)

type redisConfig struct {
	prefix string
	logger *slog.Logger
}

// WithKeyPrefix sets the key namespace. Default: "research".
func WithKeyPrefix(prefix string) RedisOption {
	return func(c *redisConfig) { c.prefix = prefix }
}

// WithRedisLogger sets the logger used for conflict diagnostics.
func WithRedisLogger(l *slog.Logger) RedisOption {
	return func(c *redisConfig) { c.logger = l }
}

// NewRedisStore wraps an existing client.
//
// Example:
//
//	client := goredis.NewClient(&goredis.Options{Addr: "localhost:6379"})
//	st := store.NewRedisStore[research.ResearchState](client)
func NewRedisStore[S any](client goredis.UniversalClient, opts ...RedisOption) *RedisStore[S] {
	cfg := redisConfig{prefix: "research", logger: slog.Default()}
	for _, o := range opts {
		o(&cfg)
	}
	return &RedisStore[S]{client: client, prefix: cfg.prefix, logger: cfg.logger}
}

func (r *RedisStore[S]) latestKey(graphID, threadID string) string {
	return r.prefix + ":" + graphID + ":" + threadID + ":latest"
}

func (r *RedisStore[S]) historyKey(graphID, threadID string) string {
	return r.prefix + ":" + graphID + ":" + threadID + ":history"
}

// Ping verifies the Redis connection is alive.
func (r *RedisStore[S]) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Put implements Store.
func (r *RedisStore[S]) Put(ctx context.Context, cp Checkpoint[S]) error {
	if err := validate(cp); err != nil {
		return err
	}

	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	latestKey := r.latestKey(cp.GraphID, cp.ThreadID)
	historyKey := r.historyKey(cp.GraphID, cp.ThreadID)

	txf := func(tx *goredis.Tx) error {
		current, err := r.versionOf(ctx, tx, latestKey)
		if err != nil {
			return err
		}
		if cp.Version != current+1 {
			return fmt.Errorf("%w: have %d, got %d", ErrVersionConflict, current, cp.Version)
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, latestKey, data, 0)
			pipe.RPush(ctx, historyKey, data)
			return nil
		})
		return err
	}

	err = r.client.Watch(ctx, txf, latestKey)
	if errors.Is(err, goredis.TxFailedErr) {
		r.logger.Warn("checkpoint write lost a race",
			slog.String("graph_id", cp.GraphID),
			slog.String("thread_id", cp.ThreadID),
			slog.Int("version", cp.Version))
		return fmt.Errorf("%w: concurrent write", ErrVersionConflict)
	}
	if err != nil {
		if errors.Is(err, ErrVersionConflict) {
			return err
		}
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	return nil
}

func (r *RedisStore[S]) versionOf(ctx context.Context, tx *goredis.Tx, latestKey string) (int, error) {
	data, err := tx.Get(ctx, latestKey).Bytes()
	if errors.Is(err, goredis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read latest checkpoint: %w", err)
	}
	var head struct {
		Version int `json:"version"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return 0, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	return head.Version, nil
}

// Latest implements Store.
func (r *RedisStore[S]) Latest(ctx context.Context, graphID, threadID string) (Checkpoint[S], error) {
	var cp Checkpoint[S]
	data, err := r.client.Get(ctx, r.latestKey(graphID, threadID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return cp, ErrNotFound
	}
	if err != nil {
		return cp, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	if err := json.Unmarshal(data, &cp); err != nil {
		return cp, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	return cp, nil
}

// History implements Store.
func (r *RedisStore[S]) History(ctx context.Context, graphID, threadID string) ([]Checkpoint[S], error) {
	entries, err := r.client.LRange(ctx, r.historyKey(graphID, threadID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	if len(entries) == 0 {
		return nil, ErrNotFound
	}
	out := make([]Checkpoint[S], len(entries))
	for i, entry := range entries {
		if err := json.Unmarshal([]byte(entry), &out[i]); err != nil {
			return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
		}
	}
	return out, nil
}

// Close is a no-op; the caller owns the Redis client lifecycle.
func (r *RedisStore[S]) Close() error {
	return nil
}
