package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a SQLite implementation of Store[S].
//
// It keeps every checkpoint version of every thread in a single-file database,
// which makes it the default for a single-process deployment that must survive
// restarts between an interrupt and its resume.
//
// Features:
//   - Single file database (e.g., "./research.db")
//   - Auto-migration on first use
//   - WAL mode for concurrent reads
//   - One transaction per Put, so a failed write never replaces the latest
//     checkpoint
//
// Type parameter S is the state type to persist (must be JSON-serializable).
type SQLiteStore[S any] struct {
	sqlCheckpoints

	mu     sync.RWMutex
	closed bool
	path   string
}

// NewSQLiteStore opens (or creates) the database at path.
//
// The path parameter specifies the database file location:
//   - "./research.db" - file in current directory
//   - ":memory:" - in-memory database (data lost on close)
//
// Example:
//
//	st, err := store.NewSQLiteStore[research.ResearchState]("./research.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer st.Close()
func NewSQLiteStore[S any](path string) (*SQLiteStore[S], error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}

	db.SetMaxOpenConns(1)    // SQLite supports one writer at a time
	db.SetMaxIdleConns(1)    // Keep connection open; ":memory:" lives as long as it does
	db.SetConnMaxLifetime(0) // No max lifetime for SQLite

	ctx := context.Background()
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close() // Ignore close error when returning pragma error
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	s := &SQLiteStore[S]{
		sqlCheckpoints: sqlCheckpoints{db: db},
		path:           path,
	}

	if err := s.createTables(ctx); err != nil {
		_ = db.Close() // Ignore close error when returning table creation error
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore[S]) createTables(ctx context.Context) error {
	table := `
		CREATE TABLE IF NOT EXISTS checkpoints (
			graph_id TEXT NOT NULL,
			thread_id TEXT NOT NULL,
			version INTEGER NOT NULL,
			step INTEGER NOT NULL,
			next_nodes TEXT NOT NULL,
			status TEXT NOT NULL,
			state TEXT NOT NULL,
			checkpoint_key TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			PRIMARY KEY (graph_id, thread_id, version)
		)
	`
	if _, err := s.db.ExecContext(ctx, table); err != nil {
		return fmt.Errorf("failed to create checkpoints table: %w", err)
	}
	return nil
}

func (s *SQLiteStore[S]) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// Put implements Store.
func (s *SQLiteStore[S]) Put(ctx context.Context, cp Checkpoint[S]) error {
	if s.isClosed() {
		return ErrClosed
	}
	if err := validate(cp); err != nil {
		return err
	}
	rec, err := encode(cp)
	if err != nil {
		return err
	}
	return s.put(ctx, untyped(cp), rec)
}

// Latest implements Store.
func (s *SQLiteStore[S]) Latest(ctx context.Context, graphID, threadID string) (Checkpoint[S], error) {
	if s.isClosed() {
		return Checkpoint[S]{}, ErrClosed
	}
	r, err := s.latest(ctx, graphID, threadID)
	if err != nil {
		return Checkpoint[S]{}, err
	}
	return toCheckpoint[S](graphID, threadID, r)
}

// History implements Store.
func (s *SQLiteStore[S]) History(ctx context.Context, graphID, threadID string) ([]Checkpoint[S], error) {
	if s.isClosed() {
		return nil, ErrClosed
	}
	rows, err := s.history(ctx, graphID, threadID)
	if err != nil {
		return nil, err
	}
	out := make([]Checkpoint[S], 0, len(rows))
	for _, r := range rows {
		cp, err := toCheckpoint[S](graphID, threadID, r)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}

// Ping verifies the database connection is alive.
func (s *SQLiteStore[S]) Ping(ctx context.Context) error {
	if s.isClosed() {
		return ErrClosed
	}
	return s.db.PingContext(ctx)
}

// Path returns the database location the store was opened with.
func (s *SQLiteStore[S]) Path() string {
	return s.path
}

// Close implements Store. Calling Close more than once is safe.
func (s *SQLiteStore[S]) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
