package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// sqlCheckpoints implements the checkpoint table operations shared by the
// SQLite and MySQL stores. Both drivers accept "?" placeholders; the dialects
// differ only in DDL and in how the latest version row is locked.
type sqlCheckpoints struct {
	db *sql.DB

	// lockClause is appended to the version probe inside Put
	// ("FOR UPDATE" on MySQL, empty on SQLite where the writer is serialized).
	lockClause string

	// conflict reports driver errors that mean another writer committed the
	// same version first. Nil on SQLite.
	conflict func(error) bool
}

func (s *sqlCheckpoints) lostRace(err error) bool {
	return s.conflict != nil && s.conflict(err)
}

func (s *sqlCheckpoints) put(ctx context.Context, cp Checkpoint[any], rec record) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback() // Ignore rollback error; the original error is more useful
		}
	}()

	var latest int
	probe := `SELECT COALESCE(MAX(version), 0) FROM checkpoints WHERE graph_id = ? AND thread_id = ? ` + s.lockClause
	if err = tx.QueryRowContext(ctx, probe, cp.GraphID, cp.ThreadID).Scan(&latest); err != nil {
		if s.lostRace(err) {
			return fmt.Errorf("%w: concurrent write", ErrVersionConflict)
		}
		return fmt.Errorf("failed to read latest version: %w", err)
	}
	if cp.Version != latest+1 {
		err = fmt.Errorf("%w: have %d, got %d", ErrVersionConflict, latest, cp.Version)
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO checkpoints
			(graph_id, thread_id, version, step, next_nodes, status, state, checkpoint_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cp.GraphID, cp.ThreadID, cp.Version, cp.Step, string(rec.next), string(cp.Status),
		string(rec.state), cp.Key, cp.CreatedAt.UnixNano(),
	)
	if err != nil {
		if s.lostRace(err) {
			return fmt.Errorf("%w: concurrent write", ErrVersionConflict)
		}
		return fmt.Errorf("failed to insert checkpoint: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit checkpoint: %w", err)
	}
	return nil
}

// row is one scanned checkpoint row before the state is decoded.
type row struct {
	version   int
	step      int
	next      string
	status    string
	state     string
	key       string
	createdAt int64
}

const selectColumns = `version, step, next_nodes, status, state, checkpoint_key, created_at`

func (s *sqlCheckpoints) latest(ctx context.Context, graphID, threadID string) (row, error) {
	var r row
	err := s.db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM checkpoints
		 WHERE graph_id = ? AND thread_id = ?
		 ORDER BY version DESC LIMIT 1`,
		graphID, threadID,
	).Scan(&r.version, &r.step, &r.next, &r.status, &r.state, &r.key, &r.createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return r, ErrNotFound
	}
	if err != nil {
		return r, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	return r, nil
}

func (s *sqlCheckpoints) history(ctx context.Context, graphID, threadID string) ([]row, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM checkpoints
		 WHERE graph_id = ? AND thread_id = ?
		 ORDER BY version ASC`,
		graphID, threadID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query checkpoints: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.version, &r.step, &r.next, &r.status, &r.state, &r.key, &r.createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate checkpoints: %w", err)
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return out, nil
}

// toCheckpoint decodes a scanned row into a typed checkpoint.
func toCheckpoint[S any](graphID, threadID string, r row) (Checkpoint[S], error) {
	cp := Checkpoint[S]{
		GraphID:   graphID,
		ThreadID:  threadID,
		Version:   r.version,
		Step:      r.step,
		Status:    Status(r.status),
		Key:       r.key,
		CreatedAt: time.Unix(0, r.createdAt).UTC(),
	}
	if err := decode(&cp, []byte(r.next), []byte(r.state)); err != nil {
		return cp, err
	}
	return cp, nil
}

// untyped strips the state type so the shared SQL code stays non-generic.
// The state itself travels pre-encoded in the record.
func untyped[S any](cp Checkpoint[S]) Checkpoint[any] {
	return Checkpoint[any]{
		GraphID:   cp.GraphID,
		ThreadID:  cp.ThreadID,
		Version:   cp.Version,
		Step:      cp.Step,
		Next:      cp.Next,
		Status:    cp.Status,
		Key:       cp.Key,
		CreatedAt: cp.CreatedAt,
	}
}
