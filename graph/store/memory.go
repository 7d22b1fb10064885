package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// MemStore is an in-memory implementation of Store[S].
//
// Checkpoints are kept JSON-encoded, so a stored snapshot never aliases the
// caller's state and a Latest/Put round-trip behaves like a real process
// boundary. Data is lost when the process exits.
//
// Safe for concurrent use.
type MemStore[S any] struct {
	mu      sync.RWMutex
	threads map[string][][]byte // "graphID\x00threadID" -> encoded versions
	closed  bool
}

// NewMemStore creates an empty in-memory store.
func NewMemStore[S any]() *MemStore[S] {
	return &MemStore[S]{
		threads: make(map[string][][]byte),
	}
}

func memKey(graphID, threadID string) string {
	return graphID + "\x00" + threadID
}

// Put implements Store.
func (m *MemStore[S]) Put(_ context.Context, cp Checkpoint[S]) error {
	if err := validate(cp); err != nil {
		return err
	}

	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	key := memKey(cp.GraphID, cp.ThreadID)
	versions := m.threads[key]
	if cp.Version != len(versions)+1 {
		return fmt.Errorf("%w: have %d, got %d", ErrVersionConflict, len(versions), cp.Version)
	}

	m.threads[key] = append(versions, data)
	return nil
}

// Latest implements Store.
func (m *MemStore[S]) Latest(_ context.Context, graphID, threadID string) (Checkpoint[S], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var cp Checkpoint[S]
	if m.closed {
		return cp, ErrClosed
	}

	versions := m.threads[memKey(graphID, threadID)]
	if len(versions) == 0 {
		return cp, ErrNotFound
	}

	if err := json.Unmarshal(versions[len(versions)-1], &cp); err != nil {
		return cp, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	return cp, nil
}

// History implements Store.
func (m *MemStore[S]) History(_ context.Context, graphID, threadID string) ([]Checkpoint[S], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}

	versions := m.threads[memKey(graphID, threadID)]
	if len(versions) == 0 {
		return nil, ErrNotFound
	}

	out := make([]Checkpoint[S], len(versions))
	for i, data := range versions {
		if err := json.Unmarshal(data, &out[i]); err != nil {
			return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
		}
	}
	return out, nil
}

// Close implements Store. Stored checkpoints are dropped.
func (m *MemStore[S]) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.threads = nil
	return nil
}
