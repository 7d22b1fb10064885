package store_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	goredis "github.com/redis/go-redis/v9"

	"github.com/dshills/research-assistant/graph/store"
)

type suiteState struct {
	Topic    string   `json:"topic"`
	Sections []string `json:"sections"`
	Feedback *string  `json:"feedback,omitempty"`
}

type storeFactory func(t *testing.T) store.Store[suiteState]

func checkpoint(t *testing.T, thread string, version int, status store.Status, sections ...string) store.Checkpoint[suiteState] {
	t.Helper()

	var next []string
	if status == store.StatusInterrupted {
		next = []string{"human_feedback"}
	}
	cp, err := store.Seal(store.Checkpoint[suiteState]{
		GraphID:   "research",
		ThreadID:  thread,
		Version:   version,
		Step:      version,
		Next:      next,
		Status:    status,
		State:     suiteState{Topic: "agents", Sections: sections},
		CreatedAt: time.Date(2026, 3, 1, 12, 0, version, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	return cp
}

// runStoreSuite exercises the Store contract shared by every backend.
func runStoreSuite(t *testing.T, newStore storeFactory) {
	ctx := context.Background()

	t.Run("latest on empty thread", func(t *testing.T) {
		st := newStore(t)
		if _, err := st.Latest(ctx, "research", "missing"); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
		if _, err := st.History(ctx, "research", "missing"); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("expected ErrNotFound from History, got %v", err)
		}
	})

	t.Run("put and latest round trip", func(t *testing.T) {
		st := newStore(t)
		want := checkpoint(t, "t1", 1, store.StatusInterrupted, "intro")

		if err := st.Put(ctx, want); err != nil {
			t.Fatalf("Put failed: %v", err)
		}

		got, err := st.Latest(ctx, "research", "t1")
		if err != nil {
			t.Fatalf("Latest failed: %v", err)
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("checkpoint mismatch (-want +got):\n%s", diff)
		}
		if err := store.Verify(got); err != nil {
			t.Errorf("loaded checkpoint fails verification: %v", err)
		}
	})

	t.Run("versions advance and history is ordered", func(t *testing.T) {
		st := newStore(t)
		for v := 1; v <= 3; v++ {
			status := store.StatusInterrupted
			if v == 3 {
				status = store.StatusDone
			}
			if err := st.Put(ctx, checkpoint(t, "t1", v, status, fmt.Sprintf("s%d", v))); err != nil {
				t.Fatalf("Put v%d failed: %v", v, err)
			}
		}

		latest, err := st.Latest(ctx, "research", "t1")
		if err != nil {
			t.Fatalf("Latest failed: %v", err)
		}
		if latest.Version != 3 || latest.Status != store.StatusDone {
			t.Errorf("expected done v3, got %s v%d", latest.Status, latest.Version)
		}

		history, err := st.History(ctx, "research", "t1")
		if err != nil {
			t.Fatalf("History failed: %v", err)
		}
		var versions []int
		for _, cp := range history {
			versions = append(versions, cp.Version)
		}
		if diff := cmp.Diff([]int{1, 2, 3}, versions); diff != "" {
			t.Errorf("history mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("version conflict leaves latest untouched", func(t *testing.T) {
		st := newStore(t)
		first := checkpoint(t, "t1", 1, store.StatusInterrupted, "keep")
		if err := st.Put(ctx, first); err != nil {
			t.Fatalf("Put failed: %v", err)
		}

		for _, v := range []int{1, 3} {
			err := st.Put(ctx, checkpoint(t, "t1", v, store.StatusDone, "lost"))
			if !errors.Is(err, store.ErrVersionConflict) {
				t.Errorf("version %d: expected ErrVersionConflict, got %v", v, err)
			}
		}

		got, err := st.Latest(ctx, "research", "t1")
		if err != nil {
			t.Fatalf("Latest failed: %v", err)
		}
		if diff := cmp.Diff(first, got); diff != "" {
			t.Errorf("latest changed after conflict (-want +got):\n%s", diff)
		}
	})

	t.Run("new thread must start at version 1", func(t *testing.T) {
		st := newStore(t)
		err := st.Put(ctx, checkpoint(t, "t1", 2, store.StatusDone))
		if !errors.Is(err, store.ErrVersionConflict) {
			t.Errorf("expected ErrVersionConflict, got %v", err)
		}
	})

	t.Run("threads and graphs are isolated", func(t *testing.T) {
		st := newStore(t)
		a := checkpoint(t, "a", 1, store.StatusInterrupted, "from-a")
		b := checkpoint(t, "b", 1, store.StatusDone, "from-b")
		other := checkpoint(t, "a", 1, store.StatusDone, "other-graph")
		other.GraphID = "interview"
		other, _ = store.Seal(other)

		for _, cp := range []store.Checkpoint[suiteState]{a, b, other} {
			if err := st.Put(ctx, cp); err != nil {
				t.Fatalf("Put %s/%s failed: %v", cp.GraphID, cp.ThreadID, err)
			}
		}

		got, err := st.Latest(ctx, "research", "a")
		if err != nil {
			t.Fatalf("Latest failed: %v", err)
		}
		if diff := cmp.Diff([]string{"from-a"}, got.State.Sections); diff != "" {
			t.Errorf("thread a mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("concurrent writers of one version", func(t *testing.T) {
		st := newStore(t)
		if err := st.Put(ctx, checkpoint(t, "t1", 1, store.StatusInterrupted)); err != nil {
			t.Fatalf("Put failed: %v", err)
		}

		const writers = 8
		var wg sync.WaitGroup
		var mu sync.Mutex
		succeeded := 0
		candidates := make([]store.Checkpoint[suiteState], writers)
		for i := range candidates {
			candidates[i] = checkpoint(t, "t1", 2, store.StatusDone, fmt.Sprintf("w%d", i))
		}
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				err := st.Put(ctx, candidates[i])
				if err == nil {
					mu.Lock()
					succeeded++
					mu.Unlock()
					return
				}
				if !errors.Is(err, store.ErrVersionConflict) {
					t.Errorf("writer %d: unexpected error %v", i, err)
				}
			}(i)
		}
		wg.Wait()

		if succeeded != 1 {
			t.Errorf("expected exactly one writer to win, got %d", succeeded)
		}
	})
}

func TestMemStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) store.Store[suiteState] {
		return store.NewMemStore[suiteState]()
	})

	t.Run("closed store rejects operations", func(t *testing.T) {
		st := store.NewMemStore[suiteState]()
		if err := st.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
		if err := st.Put(context.Background(), checkpoint(t, "t1", 1, store.StatusDone)); !errors.Is(err, store.ErrClosed) {
			t.Errorf("expected ErrClosed, got %v", err)
		}
		if _, err := st.Latest(context.Background(), "research", "t1"); !errors.Is(err, store.ErrClosed) {
			t.Errorf("expected ErrClosed, got %v", err)
		}
	})

	t.Run("stored state does not alias the caller", func(t *testing.T) {
		st := store.NewMemStore[suiteState]()
		cp := checkpoint(t, "t1", 1, store.StatusDone, "original")
		if err := st.Put(context.Background(), cp); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		cp.State.Sections[0] = "mutated"

		got, err := st.Latest(context.Background(), "research", "t1")
		if err != nil {
			t.Fatalf("Latest failed: %v", err)
		}
		if got.State.Sections[0] != "original" {
			t.Errorf("store aliased caller state: %v", got.State.Sections)
		}
	})
}

func TestSQLiteStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) store.Store[suiteState] {
		st, err := store.NewSQLiteStore[suiteState](":memory:")
		if err != nil {
			t.Fatalf("NewSQLiteStore failed: %v", err)
		}
		t.Cleanup(func() { _ = st.Close() })
		return st
	})

	t.Run("survives reopen", func(t *testing.T) {
		ctx := context.Background()
		path := filepath.Join(t.TempDir(), "research.db")

		st, err := store.NewSQLiteStore[suiteState](path)
		if err != nil {
			t.Fatalf("NewSQLiteStore failed: %v", err)
		}
		want := checkpoint(t, "t1", 1, store.StatusInterrupted, "persisted")
		if err := st.Put(ctx, want); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		if err := st.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
		if err := st.Close(); err != nil {
			t.Errorf("second Close should be a no-op, got %v", err)
		}
		if _, err := st.Latest(ctx, "research", "t1"); !errors.Is(err, store.ErrClosed) {
			t.Errorf("expected ErrClosed, got %v", err)
		}

		reopened, err := store.NewSQLiteStore[suiteState](path)
		if err != nil {
			t.Fatalf("reopen failed: %v", err)
		}
		defer func() { _ = reopened.Close() }()

		if reopened.Path() != path {
			t.Errorf("expected path %s, got %s", path, reopened.Path())
		}
		if err := reopened.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
		got, err := reopened.Latest(ctx, "research", "t1")
		if err != nil {
			t.Fatalf("Latest failed: %v", err)
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("checkpoint mismatch (-want +got):\n%s", diff)
		}
	})
}

// TestMySQLStore runs against a live server when RESEARCH_TEST_MYSQL_DSN is
// set, e.g. "root:secret@tcp(localhost:3306)/research_test".
func TestMySQLStore(t *testing.T) {
	dsn := os.Getenv("RESEARCH_TEST_MYSQL_DSN")
	if dsn == "" {
		t.Skip("RESEARCH_TEST_MYSQL_DSN not set")
	}

	run := 0
	runStoreSuite(t, func(t *testing.T) store.Store[suiteState] {
		st, err := store.NewMySQLStore[suiteState](dsn)
		if err != nil {
			t.Fatalf("NewMySQLStore failed: %v", err)
		}
		t.Cleanup(func() { _ = st.Close() })
		run++
		return &scopedStore{Store: st, scope: fmt.Sprintf("%d-%d-", time.Now().UnixNano(), run)}
	})
}

// TestRedisStore runs against a live server when RESEARCH_TEST_REDIS_ADDR is
// set, e.g. "localhost:6379".
func TestRedisStore(t *testing.T) {
	addr := os.Getenv("RESEARCH_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("RESEARCH_TEST_REDIS_ADDR not set")
	}

	client := goredis.NewClient(&goredis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	run := 0
	runStoreSuite(t, func(t *testing.T) store.Store[suiteState] {
		run++
		prefix := fmt.Sprintf("research-test-%d-%d", time.Now().UnixNano(), run)
		st := store.NewRedisStore[suiteState](client, store.WithKeyPrefix(prefix))
		if err := st.Ping(context.Background()); err != nil {
			t.Fatalf("Ping failed: %v", err)
		}
		return st
	})
}

// scopedStore prefixes thread IDs so repeated runs against a shared database
// do not collide.
type scopedStore struct {
	store.Store[suiteState]
	scope string
}

func (s *scopedStore) Put(ctx context.Context, cp store.Checkpoint[suiteState]) error {
	cp.ThreadID = s.scope + cp.ThreadID
	cp, err := store.Seal(cp)
	if err != nil {
		return err
	}
	return s.Store.Put(ctx, cp)
}

func (s *scopedStore) Latest(ctx context.Context, graphID, threadID string) (store.Checkpoint[suiteState], error) {
	cp, err := s.Store.Latest(ctx, graphID, s.scope+threadID)
	return s.unscope(cp), err
}

func (s *scopedStore) History(ctx context.Context, graphID, threadID string) ([]store.Checkpoint[suiteState], error) {
	history, err := s.Store.History(ctx, graphID, s.scope+threadID)
	for i := range history {
		history[i] = s.unscope(history[i])
	}
	return history, err
}

func (s *scopedStore) unscope(cp store.Checkpoint[suiteState]) store.Checkpoint[suiteState] {
	if cp.ThreadID == "" {
		return cp
	}
	cp.ThreadID = cp.ThreadID[len(s.scope):]
	resealed, err := store.Seal(cp)
	if err != nil {
		return cp
	}
	return resealed
}
