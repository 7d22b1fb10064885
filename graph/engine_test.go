package graph

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dshills/research-assistant/graph/emit"
	"github.com/dshills/research-assistant/graph/store"
)

type testState struct {
	Value   string   `json:"value"`
	Counter int      `json:"counter"`
	Trail   []string `json:"trail"`
	Note    *string  `json:"note,omitempty"`
}

func reduceTest(prev, delta testState) testState {
	prev.Value = Replace(prev.Value, delta.Value)
	prev.Counter += delta.Counter
	prev.Trail = AppendOrdered(prev.Trail, delta.Trail)
	prev.Note = ReplacePtr(prev.Note, delta.Note)
	return prev
}

// visit returns a node that appends its own ID to the trail.
func visit(id string) Node[testState] {
	return NodeFunc[testState](func(ctx context.Context, s testState) NodeResult[testState] {
		return NodeResult[testState]{Delta: testState{Trail: []string{id}, Counter: 1}}
	})
}

func mustSetup(t *testing.T, errs ...error) {
	t.Helper()
	for _, err := range errs {
		if err != nil {
			t.Fatalf("setup failed: %v", err)
		}
	}
}

func engineCode(err error) string {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return ""
}

func strPtr(s string) *string { return &s }

var (
	errBoom      = errors.New("boom")
	errTransient = errors.New("transient")
)

func TestEngine_LinearFlow(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore[testState]()
	engine := New(reduceTest, st, nil)

	mustSetup(t,
		engine.Add("a", visit("a")),
		engine.Add("b", visit("b")),
		engine.StartAt("a"),
		engine.Connect("a", "b", nil),
		engine.Connect("b", End, nil),
	)

	out, err := engine.Start(ctx, "t1", testState{Value: "seed"})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if out.Interrupted() {
		t.Fatal("expected a completed run")
	}
	if diff := cmp.Diff([]string{"a", "b"}, out.State.Trail); diff != "" {
		t.Errorf("trail mismatch (-want +got):\n%s", diff)
	}
	if out.State.Value != "seed" {
		t.Errorf("expected initial value to survive, got %q", out.State.Value)
	}
	if out.Step != 2 || out.Version != 1 {
		t.Errorf("expected step 2 version 1, got step %d version %d", out.Step, out.Version)
	}

	cp, err := engine.State(ctx, "t1")
	if err != nil {
		t.Fatalf("State failed: %v", err)
	}
	if cp.Status != store.StatusDone || len(cp.Next) != 0 {
		t.Errorf("expected done checkpoint with empty cursor, got %s %v", cp.Status, cp.Next)
	}
}

func TestEngine_PredicateEdges(t *testing.T) {
	engine := New(reduceTest, nil, nil)

	mustSetup(t,
		engine.Add("check", NodeFunc[testState](func(ctx context.Context, s testState) NodeResult[testState] {
			return NodeResult[testState]{Delta: testState{Counter: 1}}
		})),
		engine.Add("small", visit("small")),
		engine.Add("large", visit("large")),
		engine.StartAt("check"),
		engine.Connect("check", "small", func(s testState) bool { return s.Counter < 5 }),
		engine.Connect("check", "large", func(s testState) bool { return s.Counter >= 5 }),
		engine.Connect("small", End, nil),
		engine.Connect("large", End, nil),
	)

	tests := []struct {
		name    string
		counter int
		want    string
	}{
		{"below threshold", 0, "small"},
		{"at threshold", 4, "large"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			final, err := engine.Invoke(context.Background(), testState{Counter: tt.counter})
			if err != nil {
				t.Fatalf("Invoke failed: %v", err)
			}
			if diff := cmp.Diff([]string{tt.want}, final.Trail); diff != "" {
				t.Errorf("trail mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEngine_JoinRunsOnce(t *testing.T) {
	engine := New(reduceTest, nil, nil)

	slow := NodeFunc[testState](func(ctx context.Context, s testState) NodeResult[testState] {
		time.Sleep(20 * time.Millisecond)
		return NodeResult[testState]{Delta: testState{Trail: []string{"slow"}}}
	})

	mustSetup(t,
		engine.Add("root", visit("root")),
		engine.Add("slow", slow),
		engine.Add("fast", visit("fast")),
		engine.Add("join", visit("join")),
		engine.StartAt("root"),
		engine.Connect("root", "slow", nil),
		engine.Connect("root", "fast", nil),
		engine.Connect("slow", "join", nil),
		engine.Connect("fast", "join", nil),
		engine.Connect("join", End, nil),
	)

	final, err := engine.Invoke(context.Background(), testState{})
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}

	// slow was scheduled first, so it merges first regardless of timing.
	want := []string{"root", "slow", "fast", "join"}
	if diff := cmp.Diff(want, final.Trail); diff != "" {
		t.Errorf("trail mismatch (-want +got):\n%s", diff)
	}
}

func TestEngine_SendFanOut(t *testing.T) {
	delays := map[string]time.Duration{"one": 30 * time.Millisecond, "two": 10 * time.Millisecond}

	var workerRuns atomic.Int32
	worker := NodeFunc[testState](func(ctx context.Context, s testState) NodeResult[testState] {
		workerRuns.Add(1)
		if len(s.Trail) != 0 {
			return NodeResult[testState]{Err: errors.New("branch saw shared state")}
		}
		time.Sleep(delays[s.Value])
		return NodeResult[testState]{Delta: testState{Trail: []string{s.Value}}}
	})

	engine := New(reduceTest, nil, nil)
	mustSetup(t,
		engine.Add("plan", visit("plan")),
		engine.Add("worker", worker),
		engine.Add("collect", visit("collect")),
		engine.StartAt("plan"),
		engine.Branch("plan", func(s testState) Route[testState] {
			return Fan(
				Send[testState]{Node: "worker", State: testState{Value: "one"}},
				Send[testState]{Node: "worker", State: testState{Value: "two"}},
				Send[testState]{Node: "worker", State: testState{Value: "three"}},
			)
		}, "worker"),
		engine.Connect("worker", "collect", nil),
		engine.Connect("collect", End, nil),
	)

	final, err := engine.Invoke(context.Background(), testState{})
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}

	if got := workerRuns.Load(); got != 3 {
		t.Errorf("expected 3 worker runs, got %d", got)
	}
	want := []string{"plan", "one", "two", "three", "collect"}
	if diff := cmp.Diff(want, final.Trail); diff != "" {
		t.Errorf("trail mismatch (-want +got):\n%s", diff)
	}
}

func TestEngine_TasksReceiveIsolatedCopies(t *testing.T) {
	engine := New(reduceTest, nil, nil)

	mutator := NodeFunc[testState](func(ctx context.Context, s testState) NodeResult[testState] {
		s.Trail[0] = "mutated"
		return NodeResult[testState]{Delta: testState{Trail: []string{"mutator"}}}
	})
	reader := NodeFunc[testState](func(ctx context.Context, s testState) NodeResult[testState] {
		time.Sleep(10 * time.Millisecond)
		if s.Trail[0] != "root" {
			return NodeResult[testState]{Err: errors.New("sibling mutation leaked: " + s.Trail[0])}
		}
		return NodeResult[testState]{Delta: testState{Trail: []string{"reader"}}}
	})

	mustSetup(t,
		engine.Add("root", visit("root")),
		engine.Add("mutator", mutator),
		engine.Add("reader", reader),
		engine.StartAt("root"),
		engine.Connect("root", "mutator", nil),
		engine.Connect("root", "reader", nil),
		engine.Connect("mutator", End, nil),
		engine.Connect("reader", End, nil),
	)

	final, err := engine.Invoke(context.Background(), testState{})
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if diff := cmp.Diff([]string{"root", "mutator", "reader"}, final.Trail); diff != "" {
		t.Errorf("trail mismatch (-want +got):\n%s", diff)
	}
}

func TestEngine_ExplicitRoutes(t *testing.T) {
	route := func(id string, next Next) Node[testState] {
		return NodeFunc[testState](func(ctx context.Context, s testState) NodeResult[testState] {
			return NodeResult[testState]{Delta: testState{Trail: []string{id}}, Route: next}
		})
	}

	t.Run("goto many and stop", func(t *testing.T) {
		engine := New(reduceTest, nil, nil)
		mustSetup(t,
			engine.Add("a", route("a", Many("b", "c"))),
			engine.Add("b", route("b", Goto("d"))),
			engine.Add("c", route("c", Stop())),
			engine.Add("d", route("d", Stop())),
			engine.StartAt("a"),
		)

		final, err := engine.Invoke(context.Background(), testState{})
		if err != nil {
			t.Fatalf("Invoke failed: %v", err)
		}
		if diff := cmp.Diff([]string{"a", "b", "c", "d"}, final.Trail); diff != "" {
			t.Errorf("trail mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("goto unknown node", func(t *testing.T) {
		engine := New(reduceTest, nil, nil)
		mustSetup(t,
			engine.Add("a", route("a", Goto("ghost"))),
			engine.StartAt("a"),
		)

		_, err := engine.Invoke(context.Background(), testState{})
		if code := engineCode(err); code != "NODE_NOT_FOUND" {
			t.Errorf("expected NODE_NOT_FOUND, got %v", err)
		}
	})
}

func TestEngine_InterruptAndResume(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore[testState]()

	var reviewRuns atomic.Int32
	build := func() *Engine[testState] {
		engine := New(reduceTest, st, nil, WithGraphID("review"))
		mustSetup(t,
			engine.Add("draft", visit("draft")),
			engine.Add("review", NodeFunc[testState](func(ctx context.Context, s testState) NodeResult[testState] {
				reviewRuns.Add(1)
				if s.Note == nil || *s.Note != "approved" {
					return NodeResult[testState]{Err: errors.New("review ran without approval")}
				}
				return NodeResult[testState]{Delta: testState{Trail: []string{"review"}}}
			})),
			engine.Add("publish", visit("publish")),
			engine.StartAt("draft"),
			engine.Connect("draft", "review", nil),
			engine.Connect("review", "publish", nil),
			engine.Connect("publish", End, nil),
			engine.InterruptBefore("review"),
		)
		return engine
	}

	engine := build()
	out, err := engine.Start(ctx, "t1", testState{})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !out.Interrupted() {
		t.Fatalf("expected interrupt, got status %s", out.Status)
	}
	if diff := cmp.Diff([]string{"review"}, out.Next); diff != "" {
		t.Errorf("cursor mismatch (-want +got):\n%s", diff)
	}
	if out.Version != 1 || reviewRuns.Load() != 0 {
		t.Errorf("expected version 1 and no review run, got version %d runs %d", out.Version, reviewRuns.Load())
	}

	t.Run("start on existing thread", func(t *testing.T) {
		_, err := engine.Start(ctx, "t1", testState{})
		if !errors.Is(err, ErrThreadExists) {
			t.Errorf("expected ErrThreadExists, got %v", err)
		}
	})

	t.Run("resume unknown thread", func(t *testing.T) {
		_, err := engine.Resume(ctx, "missing", nil)
		if !errors.Is(err, ErrThreadNotFound) {
			t.Errorf("expected ErrThreadNotFound, got %v", err)
		}
	})

	// A fresh engine over the same store stands in for another process.
	resumed, err := build().Resume(ctx, "t1", &testState{Note: strPtr("approved")})
	if err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if resumed.Status != store.StatusDone || resumed.Version != 2 {
		t.Errorf("expected done at version 2, got %s at %d", resumed.Status, resumed.Version)
	}
	if diff := cmp.Diff([]string{"draft", "review", "publish"}, resumed.State.Trail); diff != "" {
		t.Errorf("trail mismatch (-want +got):\n%s", diff)
	}
	if resumed.Step != 3 {
		t.Errorf("expected step numbering to continue to 3, got %d", resumed.Step)
	}

	t.Run("resume completed thread", func(t *testing.T) {
		_, err := engine.Resume(ctx, "t1", nil)
		if !errors.Is(err, ErrNotInterrupted) {
			t.Errorf("expected ErrNotInterrupted, got %v", err)
		}
	})

	t.Run("history", func(t *testing.T) {
		history, err := engine.History(ctx, "t1")
		if err != nil {
			t.Fatalf("History failed: %v", err)
		}
		var got []store.Status
		for _, cp := range history {
			got = append(got, cp.Status)
		}
		want := []store.Status{store.StatusInterrupted, store.StatusDone}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("history mismatch (-want +got):\n%s", diff)
		}

		if _, err := engine.History(ctx, "missing"); !errors.Is(err, ErrThreadNotFound) {
			t.Errorf("expected ErrThreadNotFound, got %v", err)
		}
	})
}

func TestEngine_ResumeRejectsCorruptCheckpoint(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore[testState]()

	engine := New(reduceTest, st, nil)
	mustSetup(t,
		engine.Add("a", visit("a")),
		engine.StartAt("a"),
		engine.Connect("a", End, nil),
	)

	err := st.Put(ctx, store.Checkpoint[testState]{
		GraphID:  engine.GraphID(),
		ThreadID: "t1",
		Version:  1,
		Next:     []string{"a"},
		Status:   store.StatusInterrupted,
		Key:      "sha256:bogus",
	})
	mustSetup(t, err)

	if _, err := engine.Resume(ctx, "t1", nil); !errors.Is(err, store.ErrCorruptCheckpoint) {
		t.Errorf("expected ErrCorruptCheckpoint, got %v", err)
	}
}

func TestEngine_FailureCancelsSiblings(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore[testState]()

	var cancelled atomic.Bool
	engine := New(reduceTest, st, nil)
	mustSetup(t,
		engine.Add("root", visit("root")),
		engine.Add("fail", NodeFunc[testState](func(ctx context.Context, s testState) NodeResult[testState] {
			time.Sleep(5 * time.Millisecond)
			return NodeResult[testState]{Err: errBoom}
		})),
		engine.Add("slow", NodeFunc[testState](func(ctx context.Context, s testState) NodeResult[testState] {
			select {
			case <-ctx.Done():
				cancelled.Store(true)
				return NodeResult[testState]{Err: ctx.Err()}
			case <-time.After(2 * time.Second):
				return NodeResult[testState]{}
			}
		})),
		engine.StartAt("root"),
		engine.Connect("root", "fail", nil),
		engine.Connect("root", "slow", nil),
		engine.Connect("fail", End, nil),
		engine.Connect("slow", End, nil),
	)

	_, err := engine.Start(ctx, "t1", testState{})
	if !errors.Is(err, errBoom) {
		t.Fatalf("expected errBoom, got %v", err)
	}

	var ne *NodeError
	if !errors.As(err, &ne) || ne.NodeID != "fail" {
		t.Errorf("expected NodeError from fail, got %v", err)
	}
	if !cancelled.Load() {
		t.Error("expected sibling to observe cancellation")
	}
	if _, err := engine.State(ctx, "t1"); !errors.Is(err, ErrThreadNotFound) {
		t.Errorf("expected no checkpoint after a failed run, got %v", err)
	}
}

func TestEngine_FailureKeepsInterruptCheckpoint(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore[testState]()

	engine := New(reduceTest, st, nil)
	mustSetup(t,
		engine.Add("a", visit("a")),
		engine.Add("gate", NodeFunc[testState](func(ctx context.Context, s testState) NodeResult[testState] {
			return NodeResult[testState]{Err: errBoom}
		})),
		engine.StartAt("a"),
		engine.Connect("a", "gate", nil),
		engine.Connect("gate", End, nil),
		engine.InterruptBefore("gate"),
	)

	if _, err := engine.Start(ctx, "t1", testState{}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if _, err := engine.Resume(ctx, "t1", nil); !errors.Is(err, errBoom) {
		t.Fatalf("expected errBoom, got %v", err)
	}

	cp, err := engine.State(ctx, "t1")
	if err != nil {
		t.Fatalf("State failed: %v", err)
	}
	if cp.Status != store.StatusInterrupted || cp.Version != 1 {
		t.Errorf("expected untouched interrupt checkpoint, got %s version %d", cp.Status, cp.Version)
	}
}

func TestEngine_MaxSteps(t *testing.T) {
	engine := New(reduceTest, nil, nil, WithMaxSteps(5))
	mustSetup(t,
		engine.Add("loop", visit("loop")),
		engine.StartAt("loop"),
		engine.Connect("loop", "loop", nil),
	)

	_, err := engine.Invoke(context.Background(), testState{})
	if !errors.Is(err, ErrMaxStepsExceeded) {
		t.Errorf("expected ErrMaxStepsExceeded, got %v", err)
	}
}

func TestEngine_Retry(t *testing.T) {
	flaky := func(failures int32, attempts *atomic.Int32) Node[testState] {
		return NodeFunc[testState](func(ctx context.Context, s testState) NodeResult[testState] {
			if attempts.Add(1) <= failures {
				return NodeResult[testState]{Err: errTransient}
			}
			return NodeResult[testState]{Delta: testState{Trail: []string{"flaky"}}}
		})
	}
	policy := &RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		Retryable:   func(err error) bool { return errors.Is(err, errTransient) },
	}

	t.Run("recovers within budget", func(t *testing.T) {
		var attempts atomic.Int32
		emitter := emit.NewBufferedEmitter()
		engine := New(reduceTest, store.NewMemStore[testState](), emitter)
		mustSetup(t,
			engine.Add("flaky", flaky(2, &attempts)),
			engine.SetPolicy("flaky", NodePolicy{RetryPolicy: policy}),
			engine.StartAt("flaky"),
			engine.Connect("flaky", End, nil),
		)

		out, err := engine.Start(context.Background(), "t1", testState{})
		if err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		if attempts.Load() != 3 {
			t.Errorf("expected 3 attempts, got %d", attempts.Load())
		}
		if diff := cmp.Diff([]string{"flaky"}, out.State.Trail); diff != "" {
			t.Errorf("trail mismatch (-want +got):\n%s", diff)
		}
		retries := emitter.History("t1", emit.HistoryFilter{Msg: emit.MsgNodeRetry})
		if len(retries) != 2 {
			t.Errorf("expected 2 retry events, got %d", len(retries))
		}
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		var attempts atomic.Int32
		engine := New(reduceTest, nil, nil)
		mustSetup(t,
			engine.Add("flaky", flaky(5, &attempts)),
			engine.SetPolicy("flaky", NodePolicy{RetryPolicy: policy}),
			engine.StartAt("flaky"),
			engine.Connect("flaky", End, nil),
		)

		_, err := engine.Invoke(context.Background(), testState{})
		if !errors.Is(err, errTransient) {
			t.Errorf("expected errTransient, got %v", err)
		}
		if attempts.Load() != 3 {
			t.Errorf("expected 3 attempts, got %d", attempts.Load())
		}
	})

	t.Run("non-retryable error runs once", func(t *testing.T) {
		var attempts atomic.Int32
		engine := New(reduceTest, nil, nil)
		mustSetup(t,
			engine.Add("fail", NodeFunc[testState](func(ctx context.Context, s testState) NodeResult[testState] {
				attempts.Add(1)
				return NodeResult[testState]{Err: errBoom}
			})),
			engine.SetPolicy("fail", NodePolicy{RetryPolicy: policy}),
			engine.StartAt("fail"),
			engine.Connect("fail", End, nil),
		)

		if _, err := engine.Invoke(context.Background(), testState{}); !errors.Is(err, errBoom) {
			t.Errorf("expected errBoom, got %v", err)
		}
		if attempts.Load() != 1 {
			t.Errorf("expected 1 attempt, got %d", attempts.Load())
		}
	})

	t.Run("invalid policy rejected", func(t *testing.T) {
		engine := New(reduceTest, nil, nil)
		mustSetup(t, engine.Add("a", visit("a")))

		err := engine.SetPolicy("a", NodePolicy{RetryPolicy: &RetryPolicy{MaxAttempts: 0}})
		if !errors.Is(err, ErrInvalidRetryPolicy) {
			t.Errorf("expected ErrInvalidRetryPolicy, got %v", err)
		}
	})
}

func TestEngine_NodeTimeout(t *testing.T) {
	blocking := NodeFunc[testState](func(ctx context.Context, s testState) NodeResult[testState] {
		select {
		case <-ctx.Done():
			return NodeResult[testState]{Err: ctx.Err()}
		case <-time.After(2 * time.Second):
			return NodeResult[testState]{}
		}
	})

	tests := []struct {
		name   string
		opts   []Option
		policy *NodePolicy
	}{
		{"node policy", nil, &NodePolicy{Timeout: 20 * time.Millisecond}},
		{"engine default", []Option{WithDefaultNodeTimeout(20 * time.Millisecond)}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := New(reduceTest, nil, nil, tt.opts...)
			mustSetup(t,
				engine.Add("block", blocking),
				engine.StartAt("block"),
				engine.Connect("block", End, nil),
			)
			if tt.policy != nil {
				mustSetup(t, engine.SetPolicy("block", *tt.policy))
			}

			start := time.Now()
			_, err := engine.Invoke(context.Background(), testState{})
			if code := engineCode(err); code != "NODE_TIMEOUT" {
				t.Fatalf("expected NODE_TIMEOUT, got %v", err)
			}
			if elapsed := time.Since(start); elapsed > time.Second {
				t.Errorf("timeout did not fire promptly: %v", elapsed)
			}
		})
	}
}

func TestEngine_MaxConcurrent(t *testing.T) {
	var inflight, peak atomic.Int32
	worker := NodeFunc[testState](func(ctx context.Context, s testState) NodeResult[testState] {
		n := inflight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inflight.Add(-1)
		return NodeResult[testState]{Delta: testState{Counter: 1}}
	})

	engine := New(reduceTest, nil, nil, WithMaxConcurrent(1))
	mustSetup(t,
		engine.Add("plan", visit("plan")),
		engine.Add("worker", worker),
		engine.StartAt("plan"),
		engine.Branch("plan", func(s testState) Route[testState] {
			sends := make([]Send[testState], 4)
			for i := range sends {
				sends[i] = Send[testState]{Node: "worker"}
			}
			return Fan(sends...)
		}, "worker"),
		engine.Connect("worker", End, nil),
	)

	final, err := engine.Invoke(context.Background(), testState{})
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if final.Counter != 5 {
		t.Errorf("expected counter 5, got %d", final.Counter)
	}
	if peak.Load() != 1 {
		t.Errorf("expected at most 1 concurrent task, got %d", peak.Load())
	}
}

func TestEngine_RoutingErrors(t *testing.T) {
	tests := []struct {
		name  string
		build func(e *Engine[testState]) error
		want  string
	}{
		{
			name: "node without route",
			build: func(e *Engine[testState]) error {
				if err := e.Add("a", visit("a")); err != nil {
					return err
				}
				return e.StartAt("a")
			},
			want: "NO_ROUTE",
		},
		{
			name: "router picks undeclared target",
			build: func(e *Engine[testState]) error {
				_ = e.Add("a", visit("a"))
				_ = e.Add("b", visit("b"))
				_ = e.Add("c", visit("c"))
				_ = e.StartAt("a")
				return e.Branch("a", func(s testState) Route[testState] { return To[testState]("c") }, "b")
			},
			want: "INVALID_ROUTE",
		},
		{
			name: "router sends to undeclared target",
			build: func(e *Engine[testState]) error {
				_ = e.Add("a", visit("a"))
				_ = e.Add("b", visit("b"))
				_ = e.Add("c", visit("c"))
				_ = e.StartAt("a")
				return e.Branch("a", func(s testState) Route[testState] {
					return Fan(Send[testState]{Node: "c"})
				}, "b")
			},
			want: "INVALID_ROUTE",
		},
		{
			name: "edge to unknown node",
			build: func(e *Engine[testState]) error {
				_ = e.Add("a", visit("a"))
				_ = e.StartAt("a")
				return e.Connect("a", "ghost", nil)
			},
			want: "NODE_NOT_FOUND",
		},
		{
			name:  "missing start node",
			build: func(e *Engine[testState]) error { return e.Add("a", visit("a")) },
			want:  "NO_START_NODE",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := New(reduceTest, nil, nil)
			mustSetup(t, tt.build(engine))

			_, err := engine.Invoke(context.Background(), testState{})
			if code := engineCode(err); code != tt.want {
				t.Errorf("expected %s, got %v", tt.want, err)
			}
		})
	}
}

func TestEngine_Construction(t *testing.T) {
	engine := New(reduceTest, nil, nil)

	tests := []struct {
		name string
		err  error
		want string
	}{
		{"empty node ID", engine.Add("", visit("x")), ""},
		{"reserved node ID", engine.Add(End, visit("x")), "RESERVED_NODE"},
		{"nil node", engine.Add("nil", nil), ""},
		{"unknown start", engine.StartAt("ghost"), "NODE_NOT_FOUND"},
		{"unknown interrupt", engine.InterruptBefore("ghost"), "NODE_NOT_FOUND"},
		{"router without targets", engine.Branch("a", func(s testState) Route[testState] { return Route[testState]{} }), "NO_TARGETS"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err == nil {
				t.Fatal("expected an error")
			}
			if code := engineCode(tt.err); code != tt.want {
				t.Errorf("expected code %q, got %v", tt.want, tt.err)
			}
		})
	}

	t.Run("duplicate node", func(t *testing.T) {
		e := New(reduceTest, nil, nil)
		mustSetup(t, e.Add("a", visit("a")))
		if code := engineCode(e.Add("a", visit("a"))); code != "DUPLICATE_NODE" {
			t.Errorf("expected DUPLICATE_NODE, got %q", code)
		}
	})

	t.Run("duplicate router", func(t *testing.T) {
		e := New(reduceTest, nil, nil)
		r := func(s testState) Route[testState] { return To[testState](End) }
		mustSetup(t, e.Branch("a", r, End))
		if code := engineCode(e.Branch("a", r, End)); code != "DUPLICATE_ROUTER" {
			t.Errorf("expected DUPLICATE_ROUTER, got %q", code)
		}
	})

	t.Run("option error surfaces on run", func(t *testing.T) {
		e := New(reduceTest, nil, nil, WithGraphID(""), WithMaxSteps(-1))
		mustSetup(t, e.Add("a", visit("a")), e.StartAt("a"))
		_, err := e.Invoke(context.Background(), testState{})
		if code := engineCode(err); code != "INVALID_OPTION" || !strings.Contains(err.Error(), "graph ID") {
			t.Errorf("expected first option error, got %v", err)
		}
	})

	t.Run("persistent run without store", func(t *testing.T) {
		e := New(reduceTest, nil, nil)
		mustSetup(t, e.Add("a", visit("a")), e.StartAt("a"))
		if _, err := e.Start(context.Background(), "t1", testState{}); engineCode(err) != "MISSING_STORE" {
			t.Errorf("expected MISSING_STORE, got %v", err)
		}
		if _, err := e.History(context.Background(), "t1"); engineCode(err) != "MISSING_STORE" {
			t.Errorf("expected MISSING_STORE, got %v", err)
		}
	})

	t.Run("empty thread ID", func(t *testing.T) {
		e := New(reduceTest, store.NewMemStore[testState](), nil)
		mustSetup(t, e.Add("a", visit("a")), e.StartAt("a"))
		if _, err := e.Start(context.Background(), "", testState{}); engineCode(err) != "INVALID_THREAD" {
			t.Errorf("expected INVALID_THREAD, got %v", err)
		}
	})
}

func TestEngine_InterruptRestrictions(t *testing.T) {
	t.Run("invoke cannot suspend", func(t *testing.T) {
		engine := New(reduceTest, nil, nil)
		mustSetup(t,
			engine.Add("a", visit("a")),
			engine.Add("b", visit("b")),
			engine.StartAt("a"),
			engine.Connect("a", "b", nil),
			engine.Connect("b", End, nil),
			engine.InterruptBefore("b"),
		)

		if _, err := engine.Invoke(context.Background(), testState{}); !errors.Is(err, ErrUnexpectedInterrupt) {
			t.Errorf("expected ErrUnexpectedInterrupt, got %v", err)
		}
	})

	t.Run("interrupt alongside sends", func(t *testing.T) {
		engine := New(reduceTest, store.NewMemStore[testState](), nil)
		mustSetup(t,
			engine.Add("a", visit("a")),
			engine.Add("gate", visit("gate")),
			engine.Add("worker", visit("worker")),
			engine.StartAt("a"),
			engine.Branch("a", func(s testState) Route[testState] {
				return Route[testState]{
					To:    []string{"gate"},
					Sends: []Send[testState]{{Node: "worker"}},
				}
			}, "gate", "worker"),
			engine.Connect("gate", End, nil),
			engine.Connect("worker", End, nil),
			engine.InterruptBefore("gate"),
		)

		_, err := engine.Start(context.Background(), "t1", testState{})
		if code := engineCode(err); code != "INTERRUPT_WITH_SENDS" {
			t.Errorf("expected INTERRUPT_WITH_SENDS, got %v", err)
		}
	})
}

func TestEngine_Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	engine := New(reduceTest, nil, nil)
	mustSetup(t,
		engine.Add("a", NodeFunc[testState](func(ctx context.Context, s testState) NodeResult[testState] {
			cancel()
			return NodeResult[testState]{Delta: testState{Trail: []string{"a"}}}
		})),
		engine.Add("b", visit("b")),
		engine.StartAt("a"),
		engine.Connect("a", "b", nil),
		engine.Connect("b", End, nil),
	)

	if _, err := engine.Invoke(ctx, testState{}); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestEngine_Events(t *testing.T) {
	emitter := emit.NewBufferedEmitter()
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	engine := New(reduceTest, store.NewMemStore[testState](), emitter,
		WithGraphID("events"), WithClock(func() time.Time { return fixed }))
	mustSetup(t,
		engine.Add("a", visit("a")),
		engine.Add("b", visit("b")),
		engine.StartAt("a"),
		engine.Connect("a", "b", nil),
		engine.Connect("b", End, nil),
	)

	if _, err := engine.Start(context.Background(), "t1", testState{}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	var started []string
	for _, e := range emitter.History("t1", emit.HistoryFilter{Msg: emit.MsgNodeStart}) {
		started = append(started, e.NodeID)
		if e.GraphID != "events" {
			t.Errorf("expected graph ID events, got %q", e.GraphID)
		}
	}
	if diff := cmp.Diff([]string{"a", "b"}, started); diff != "" {
		t.Errorf("node_start mismatch (-want +got):\n%s", diff)
	}

	complete := emitter.History("t1", emit.HistoryFilter{Msg: emit.MsgRunComplete})
	if len(complete) != 1 || complete[0].Meta["steps"] != 2 {
		t.Errorf("expected one run_complete with 2 steps, got %+v", complete)
	}

	cp, err := engine.State(context.Background(), "t1")
	if err != nil {
		t.Fatalf("State failed: %v", err)
	}
	if !cp.CreatedAt.Equal(fixed) {
		t.Errorf("expected checkpoint time %v, got %v", fixed, cp.CreatedAt)
	}
}

func TestEngine_Metrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewPrometheusMetrics(registry)

	engine := New(reduceTest, store.NewMemStore[testState](), nil, WithMetrics(metrics))
	mustSetup(t,
		engine.Add("a", visit("a")),
		engine.Add("b", visit("b")),
		engine.Add("c", visit("c")),
		engine.StartAt("a"),
		engine.Connect("a", "b", nil),
		engine.Connect("a", "c", nil),
		engine.Connect("b", End, nil),
		engine.Connect("c", End, nil),
		engine.InterruptBefore("c"),
	)

	if _, err := engine.Start(context.Background(), "t1", testState{}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if _, err := engine.Resume(context.Background(), "t1", nil); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}

	counters := make(map[string]float64)
	seen := make(map[string]bool)
	for _, mf := range families {
		seen[mf.GetName()] = true
		for _, m := range mf.GetMetric() {
			counters[mf.GetName()] += m.GetCounter().GetValue()
		}
	}

	if counters["research_interrupts_total"] != 1 {
		t.Errorf("expected 1 interrupt, got %v", counters["research_interrupts_total"])
	}
	if counters["research_checkpoints_total"] != 2 {
		t.Errorf("expected 2 checkpoints, got %v", counters["research_checkpoints_total"])
	}
	for _, name := range []string{"research_step_latency_ms", "research_fanout_width", "research_inflight_nodes"} {
		if !seen[name] {
			t.Errorf("expected metric %s to be exported", name)
		}
	}
}

func TestEngine_ConcurrentThreads(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore[testState]()

	engine := New(reduceTest, st, nil)
	mustSetup(t,
		engine.Add("a", visit("a")),
		engine.Add("b", visit("b")),
		engine.StartAt("a"),
		engine.Connect("a", "b", nil),
		engine.Connect("b", End, nil),
		engine.InterruptBefore("b"),
	)

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if _, err := engine.Start(ctx, id, testState{}); err != nil {
				errs <- err
				return
			}
			if _, err := engine.Resume(ctx, id, nil); err != nil {
				errs <- err
			}
		}("thread-" + string(rune('a'+i)))
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("unexpected error: %v", err)
	}
}
