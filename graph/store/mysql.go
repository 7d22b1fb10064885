package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"
)

// MySQL error numbers raised when two transactions race on one thread.
const (
	errDuplicateEntry = 1062
	errLockDeadlock   = 1213
)

func isMySQLConflict(err error) bool {
	var me *mysql.MySQLError
	if !errors.As(err, &me) {
		return false
	}
	return me.Number == errDuplicateEntry || me.Number == errLockDeadlock
}

// MySQLStore is a MySQL/Aurora implementation of Store[S].
//
// Use it when several processes serve the same sessions, so a resume may land
// on a different process than the one that suspended the thread. Put probes
// the latest version with SELECT ... FOR UPDATE inside the insert transaction;
// two concurrent resumes of one thread therefore cannot both commit.
//
// DSN format follows github.com/go-sql-driver/mysql:
//
//	user:password@tcp(localhost:3306)/research
//
// Type parameter S is the state type to persist (must be JSON-serializable).
type MySQLStore[S any] struct {
	sqlCheckpoints

	mu     sync.RWMutex
	closed bool
}

// NewMySQLStore connects, pings, and migrates the checkpoint table.
func NewMySQLStore[S any](dsn string) (*MySQLStore[S], error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	db.SetMaxOpenConns(25)                  // Maximum open connections
	db.SetMaxIdleConns(5)                   // Keep idle connections for reuse
	db.SetConnMaxLifetime(5 * time.Minute)  // Prevent stale connections
	db.SetConnMaxIdleTime(10 * time.Minute) // Max idle time before closing

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	s := &MySQLStore[S]{
		sqlCheckpoints: sqlCheckpoints{db: db, lockClause: "FOR UPDATE", conflict: isMySQLConflict},
	}

	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return s, nil
}

func (s *MySQLStore[S]) createTables(ctx context.Context) error {
	table := `
		CREATE TABLE IF NOT EXISTS checkpoints (
			graph_id VARCHAR(191) NOT NULL,
			thread_id VARCHAR(191) NOT NULL,
			version INT NOT NULL,
			step INT NOT NULL,
			next_nodes TEXT NOT NULL,
			status VARCHAR(32) NOT NULL,
			state LONGTEXT NOT NULL,
			checkpoint_key VARCHAR(128) NOT NULL,
			created_at BIGINT NOT NULL,
			PRIMARY KEY (graph_id, thread_id, version)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
	`
	if _, err := s.db.ExecContext(ctx, table); err != nil {
		return fmt.Errorf("failed to create checkpoints table: %w", err)
	}
	return nil
}

func (s *MySQLStore[S]) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// Put implements Store.
func (s *MySQLStore[S]) Put(ctx context.Context, cp Checkpoint[S]) error {
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
func (s *MySQLStore[S]) Latest(ctx context.Context, graphID, threadID string) (Checkpoint[S], error) {
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
func (s *MySQLStore[S]) History(ctx context.Context, graphID, threadID string) ([]Checkpoint[S], error) {
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
func (s *MySQLStore[S]) Ping(ctx context.Context) error {
	if s.isClosed() {
		return ErrClosed
	}
	return s.db.PingContext(ctx)
}

// Close implements Store. Calling Close more than once is safe.
func (s *MySQLStore[S]) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
