// Package store persists workflow checkpoints keyed by graph and thread.
package store

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a thread has no checkpoint.
var ErrNotFound = errors.New("not found")

// ErrVersionConflict is returned by Put when the checkpoint version is not
// exactly one past the latest stored version for the thread. It signals a
// concurrent writer or a stale resume.
var ErrVersionConflict = errors.New("checkpoint version conflict")

// ErrCorruptCheckpoint is returned when a loaded checkpoint does not match its
// content key.
var ErrCorruptCheckpoint = errors.New("checkpoint content does not match its key")

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store is closed")

// Status records why a checkpoint was written.
type Status string

const (
	// StatusInterrupted marks a run suspended before the nodes in Next.
	StatusInterrupted Status = "interrupted"

	// StatusDone marks a run that reached the end of the graph.
	StatusDone Status = "done"
)

// Checkpoint is a snapshot of one thread of a graph: the full state plus the
// cursor of nodes that run next.
//
// Checkpoints for a thread form a version sequence starting at 1. A new
// version supersedes the previous one; older versions remain readable through
// History.
//
// Type parameter S is the workflow state type and must be JSON-serializable.
type Checkpoint[S any] struct {
	GraphID   string    `json:"graph_id"`
	ThreadID  string    `json:"thread_id"`
	Version   int       `json:"version"`
	Step      int       `json:"step"`
	Next      []string  `json:"next"`
	Status    Status    `json:"status"`
	State     S         `json:"state"`
	Key       string    `json:"key"`
	CreatedAt time.Time `json:"created_at"`
}

// Store provides durable checkpoint persistence.
//
// Implementations must make Put atomic: after Put returns nil, Latest returns
// the new checkpoint in full; after Put returns an error, Latest returns the
// previous checkpoint unchanged.
//
// Available implementations:
//   - MemStore: in-process, for tests and single-run tools
//   - SQLiteStore: single-file database
//   - MySQLStore: shared relational database
//   - RedisStore: shared key-value store
type Store[S any] interface {
	// Put commits cp as the newest checkpoint of its thread.
	// cp.Version must equal the latest stored version plus one (1 for a new
	// thread), otherwise ErrVersionConflict is returned.
	Put(ctx context.Context, cp Checkpoint[S]) error

	// Latest returns the newest checkpoint of a thread, or ErrNotFound.
	Latest(ctx context.Context, graphID, threadID string) (Checkpoint[S], error)

	// History returns every checkpoint of a thread ordered by version.
	// It returns ErrNotFound if the thread has none.
	History(ctx context.Context, graphID, threadID string) ([]Checkpoint[S], error)

	// Close releases resources held by the store.
	Close() error
}

// ComputeKey derives the content key of a checkpoint: a sha256 over graph,
// thread, version, step, cursor, status, and the JSON encoding of the state.
func ComputeKey[S any](cp Checkpoint[S]) (string, error) {
	h := sha256.New()

	h.Write([]byte(cp.GraphID))
	h.Write([]byte{0})
	h.Write([]byte(cp.ThreadID))
	h.Write([]byte{0})

	num := make([]byte, 8)
	binary.BigEndian.PutUint64(num, uint64(cp.Version))
	h.Write(num)
	binary.BigEndian.PutUint64(num, uint64(cp.Step))
	h.Write(num)

	for _, id := range cp.Next {
		h.Write([]byte(id))
		h.Write([]byte{0})
	}
	h.Write([]byte(cp.Status))

	stateJSON, err := json.Marshal(cp.State)
	if err != nil {
		return "", fmt.Errorf("failed to marshal state: %w", err)
	}
	h.Write(stateJSON)

	return "sha256:" + hex.EncodeToString(h.Sum(nil)), nil
}

// Seal fills in cp.Key.
func Seal[S any](cp Checkpoint[S]) (Checkpoint[S], error) {
	key, err := ComputeKey(cp)
	if err != nil {
		return cp, err
	}
	cp.Key = key
	return cp, nil
}

// Verify checks that cp matches its content key.
func Verify[S any](cp Checkpoint[S]) error {
	key, err := ComputeKey(cp)
	if err != nil {
		return err
	}
	if key != cp.Key {
		return fmt.Errorf("%w: thread %s version %d", ErrCorruptCheckpoint, cp.ThreadID, cp.Version)
	}
	return nil
}

// record is the serialized form shared by the database-backed stores.
type record struct {
	next  []byte
	state []byte
}

func encode[S any](cp Checkpoint[S]) (record, error) {
	next := cp.Next
	if next == nil {
		next = []string{}
	}
	nextJSON, err := json.Marshal(next)
	if err != nil {
		return record{}, fmt.Errorf("failed to marshal cursor: %w", err)
	}
	stateJSON, err := json.Marshal(cp.State)
	if err != nil {
		return record{}, fmt.Errorf("failed to marshal state: %w", err)
	}
	return record{next: nextJSON, state: stateJSON}, nil
}

func decode[S any](cp *Checkpoint[S], nextJSON, stateJSON []byte) error {
	if err := json.Unmarshal(nextJSON, &cp.Next); err != nil {
		return fmt.Errorf("failed to unmarshal cursor: %w", err)
	}
	if err := json.Unmarshal(stateJSON, &cp.State); err != nil {
		return fmt.Errorf("failed to unmarshal state: %w", err)
	}
	return nil
}

func validate[S any](cp Checkpoint[S]) error {
	if cp.GraphID == "" || cp.ThreadID == "" {
		return errors.New("checkpoint requires graph ID and thread ID")
	}
	if cp.Version < 1 {
		return fmt.Errorf("%w: version must be >= 1, got %d", ErrVersionConflict, cp.Version)
	}
	return nil
}
