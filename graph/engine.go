// Package graph provides a checkpointing graph execution engine.
//
// A graph is a set of nodes sharing one state value. Execution proceeds in
// supersteps: every task scheduled for a step runs concurrently on its own
// copy of the state, their partial updates are merged through the graph's
// reducer in task order, and the merged state decides which nodes run next.
// A run can suspend before designated interrupt nodes; the engine persists a
// checkpoint and resumes later, possibly in another process.
package graph

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/research-assistant/graph/emit"
	"github.com/dshills/research-assistant/graph/store"
)

// Engine orchestrates stateful workflow execution with checkpointing.
//
// The Engine:
//   - Manages graph topology (nodes, edges, routers, interrupts)
//   - Executes the tasks of each superstep concurrently
//   - Merges state updates through the reducer in deterministic order
//   - Suspends before interrupt nodes and persists a checkpoint
//   - Resumes a suspended thread, optionally applying a patch
//   - Emits observability events and metrics
//
// Type parameter S is the state type shared across the workflow. It must be
// JSON-serializable.
//
// Example:
//
//	engine := graph.New(reducer, store.NewMemStore[State](), emitter,
//	    graph.WithGraphID("review"))
//	_ = engine.Add("draft", draftNode)
//	_ = engine.Add("approve", approveNode)
//	_ = engine.StartAt("draft")
//	_ = engine.Connect("draft", "approve", nil)
//	_ = engine.Connect("approve", graph.End, nil)
//	_ = engine.InterruptBefore("approve")
//
//	out, err := engine.Start(ctx, "thread-1", State{Topic: "x"})
//	// out.Interrupted() == true; later:
//	out, err = engine.Resume(ctx, "thread-1", nil)
type Engine[S any] struct {
	mu sync.RWMutex

	reducer    Reducer[S]
	nodes      map[string]Node[S]
	policies   map[string]*NodePolicy
	edges      []Edge[S]
	routers    map[string]routerEdge[S]
	interrupts map[string]bool
	startNode  string

	store   store.Store[S]
	emitter emit.Emitter
	opts    Options

	// optErr holds the first error returned by an Option.
	optErr error
}

// Outcome is the result of Start or Resume: either the terminal state of the
// thread or an interrupt marker with the nodes that wait for resumption.
type Outcome[S any] struct {
	State  S
	Status store.Status

	// Next lists the interrupt nodes the thread is suspended before.
	// Empty when Status is StatusDone.
	Next []string

	// Step is the last executed superstep of the thread.
	Step int

	// Version is the checkpoint version written for this outcome.
	Version int
}

// Interrupted reports whether the thread is suspended at an interrupt.
func (o Outcome[S]) Interrupted() bool {
	return o.Status == store.StatusInterrupted
}

// New creates an Engine.
//
// Parameters:
//   - reducer: merges partial state updates (required)
//   - st: checkpoint store (required for Start/Resume; may be nil for an
//     engine only used through Invoke)
//   - emitter: observability events (optional, nil discards events)
//   - options: functional options; errors surface on the first run
func New[S any](reducer Reducer[S], st store.Store[S], emitter emit.Emitter, options ...Option) *Engine[S] {
	cfg := engineConfig{opts: Options{GraphID: "graph"}}
	var optErr error
	for _, opt := range options {
		if err := opt(&cfg); err != nil && optErr == nil {
			optErr = err
		}
	}
	if cfg.opts.Now == nil {
		cfg.opts.Now = time.Now
	}
	if emitter == nil {
		emitter = emit.NewNullEmitter()
	}

	return &Engine[S]{
		reducer:    reducer,
		nodes:      make(map[string]Node[S]),
		policies:   make(map[string]*NodePolicy),
		routers:    make(map[string]routerEdge[S]),
		interrupts: make(map[string]bool),
		store:      st,
		emitter:    emitter,
		opts:       cfg.opts,
		optErr:     optErr,
	}
}

// GraphID returns the graph identifier used in checkpoints and events.
func (e *Engine[S]) GraphID() string {
	return e.opts.GraphID
}

// Add registers a node. Node IDs must be unique and must not be End.
func (e *Engine[S]) Add(nodeID string, node Node[S]) error {
	if nodeID == "" {
		return &EngineError{Message: "node ID cannot be empty"}
	}
	if nodeID == End {
		return &EngineError{Message: "node ID is reserved: " + End, Code: "RESERVED_NODE"}
	}
	if node == nil {
		return &EngineError{Message: "node cannot be nil"}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.nodes[nodeID]; exists {
		return &EngineError{
			Message: "duplicate node ID: " + nodeID,
			Code:    "DUPLICATE_NODE",
		}
	}

	e.nodes[nodeID] = node
	return nil
}

// SetPolicy attaches a timeout and retry policy to a registered node.
func (e *Engine[S]) SetPolicy(nodeID string, policy NodePolicy) error {
	if policy.RetryPolicy != nil {
		if err := policy.RetryPolicy.Validate(); err != nil {
			return err
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.nodes[nodeID]; !exists {
		return &EngineError{Message: "node does not exist: " + nodeID, Code: "NODE_NOT_FOUND"}
	}
	p := policy
	e.policies[nodeID] = &p
	return nil
}

// StartAt sets the entry node of the graph.
func (e *Engine[S]) StartAt(nodeID string) error {
	if nodeID == "" {
		return &EngineError{Message: "start node ID cannot be empty"}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.nodes[nodeID]; !exists {
		return &EngineError{
			Message: "start node does not exist: " + nodeID,
			Code:    "NODE_NOT_FOUND",
		}
	}

	e.startNode = nodeID
	return nil
}

// Connect adds a static edge. A nil predicate always fires. Every matching
// edge leaving a node fires, so several edges from one node form a static
// fan-out. Endpoints are checked when a run starts.
func (e *Engine[S]) Connect(from, to string, predicate Predicate[S]) error {
	if from == "" {
		return &EngineError{Message: "from node ID cannot be empty"}
	}
	if to == "" {
		return &EngineError{Message: "to node ID cannot be empty"}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.edges = append(e.edges, Edge[S]{From: from, To: to, When: predicate})
	return nil
}

// Branch adds a conditional edge: after from completes, router selects its
// successors from targets, either statically or by returning Sends for a
// dynamic fan-out. A node has at most one router; it fires in addition to
// any static edges of the node.
func (e *Engine[S]) Branch(from string, router Router[S], targets ...string) error {
	if from == "" {
		return &EngineError{Message: "from node ID cannot be empty"}
	}
	if router == nil {
		return &EngineError{Message: "router cannot be nil"}
	}
	if len(targets) == 0 {
		return &EngineError{Message: "router needs at least one target", Code: "NO_TARGETS"}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.routers[from]; exists {
		return &EngineError{Message: "duplicate router for node: " + from, Code: "DUPLICATE_ROUTER"}
	}

	allowed := make(map[string]bool, len(targets))
	for _, t := range targets {
		allowed[t] = true
	}
	e.routers[from] = routerEdge[S]{from: from, route: router, targets: allowed}
	return nil
}

// InterruptBefore marks nodes the engine suspends before. When a superstep
// would run one of them, the engine persists a checkpoint with the pending
// nodes as cursor and returns an interrupted Outcome instead.
func (e *Engine[S]) InterruptBefore(nodeIDs ...string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, id := range nodeIDs {
		if _, exists := e.nodes[id]; !exists {
			return &EngineError{Message: "interrupt node does not exist: " + id, Code: "NODE_NOT_FOUND"}
		}
		e.interrupts[id] = true
	}
	return nil
}

// validate checks the graph definition before a run.
func (e *Engine[S]) validate(persistent bool) error {
	if e.optErr != nil {
		return e.optErr
	}
	if e.reducer == nil {
		return &EngineError{Message: "reducer is required", Code: "MISSING_REDUCER"}
	}
	if persistent && e.store == nil {
		return &EngineError{Message: "store is required", Code: "MISSING_STORE"}
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.startNode == "" {
		return &EngineError{Message: "start node not set (call StartAt before running)", Code: "NO_START_NODE"}
	}
	exists := func(id string) bool {
		if id == End {
			return true
		}
		_, ok := e.nodes[id]
		return ok
	}
	for _, edge := range e.edges {
		if !exists(edge.From) || !exists(edge.To) {
			return &EngineError{
				Message: fmt.Sprintf("edge %s -> %s references an unknown node", edge.From, edge.To),
				Code:    "NODE_NOT_FOUND",
			}
		}
	}
	for from, r := range e.routers {
		if !exists(from) {
			return &EngineError{Message: "router source does not exist: " + from, Code: "NODE_NOT_FOUND"}
		}
		for target := range r.targets {
			if !exists(target) {
				return &EngineError{Message: "router target does not exist: " + target, Code: "NODE_NOT_FOUND"}
			}
		}
	}
	return nil
}

// runScope carries per-call bookkeeping through a run.
type runScope struct {
	threadID string
	persist  bool
	version  int
	step     int
}

// Start begins a new thread from initial, running until the graph ends or an
// interrupt suspends it. It fails with ErrThreadExists if the thread already
// has a checkpoint.
func (e *Engine[S]) Start(ctx context.Context, threadID string, initial S) (Outcome[S], error) {
	if err := e.validate(true); err != nil {
		return Outcome[S]{}, err
	}
	if threadID == "" {
		return Outcome[S]{}, &EngineError{Message: "thread ID cannot be empty", Code: "INVALID_THREAD"}
	}

	_, err := e.store.Latest(ctx, e.opts.GraphID, threadID)
	switch {
	case err == nil:
		return Outcome[S]{}, fmt.Errorf("%w: %s", ErrThreadExists, threadID)
	case !errors.Is(err, store.ErrNotFound):
		return Outcome[S]{}, fmt.Errorf("failed to probe thread %s: %w", threadID, err)
	}

	rs := &runScope{threadID: threadID, persist: true}
	return e.run(ctx, rs, initial, newFrontier[S](e.startNode), false)
}

// Resume continues a thread suspended at an interrupt.
//
// If patch is non-nil it is merged into the checkpointed state through the
// reducer before the pending nodes run. The interrupt that suspended the
// thread is not re-triggered.
//
// Errors:
//   - ErrThreadNotFound: the thread has no checkpoint
//   - ErrNotInterrupted: the thread's latest checkpoint is not an interrupt
//   - store.ErrCorruptCheckpoint: the checkpoint fails its content check
func (e *Engine[S]) Resume(ctx context.Context, threadID string, patch *S) (Outcome[S], error) {
	if err := e.validate(true); err != nil {
		return Outcome[S]{}, err
	}

	cp, err := e.State(ctx, threadID)
	if err != nil {
		return Outcome[S]{}, err
	}
	if cp.Status != store.StatusInterrupted {
		return Outcome[S]{}, fmt.Errorf("%w: %s is %s", ErrNotInterrupted, threadID, cp.Status)
	}

	state := cp.State
	if patch != nil {
		state = e.reducer(state, *patch)
	}

	rs := &runScope{threadID: threadID, persist: true, version: cp.Version, step: cp.Step}
	return e.run(ctx, rs, state, newFrontier[S](cp.Next...), true)
}

// State returns the verified latest checkpoint of a thread.
func (e *Engine[S]) State(ctx context.Context, threadID string) (store.Checkpoint[S], error) {
	if e.store == nil {
		return store.Checkpoint[S]{}, &EngineError{Message: "store is required", Code: "MISSING_STORE"}
	}

	cp, err := e.store.Latest(ctx, e.opts.GraphID, threadID)
	if errors.Is(err, store.ErrNotFound) {
		return cp, fmt.Errorf("%w: %s", ErrThreadNotFound, threadID)
	}
	if err != nil {
		return cp, fmt.Errorf("failed to load thread %s: %w", threadID, err)
	}
	if err := store.Verify(cp); err != nil {
		return cp, err
	}
	return cp, nil
}

// History returns every checkpoint of a thread, oldest first.
func (e *Engine[S]) History(ctx context.Context, threadID string) ([]store.Checkpoint[S], error) {
	if e.store == nil {
		return nil, &EngineError{Message: "store is required", Code: "MISSING_STORE"}
	}

	history, err := e.store.History(ctx, e.opts.GraphID, threadID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrThreadNotFound, threadID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load history of %s: %w", threadID, err)
	}
	return history, nil
}

// Invoke runs the graph from its start node to completion without
// persistence and returns the terminal state. Reaching an interrupt is an
// error. Invoke makes an Engine usable as a Runner for Subgraph.
func (e *Engine[S]) Invoke(ctx context.Context, initial S) (S, error) {
	var zero S
	if err := e.validate(false); err != nil {
		return zero, err
	}

	out, err := e.run(ctx, &runScope{}, initial, newFrontier[S](e.startNode), false)
	if err != nil {
		return zero, err
	}
	return out.State, nil
}

// run executes supersteps until the frontier is empty or an interrupt fires.
func (e *Engine[S]) run(ctx context.Context, rs *runScope, state S, fr *frontier[S], resuming bool) (Outcome[S], error) {
	executed := 0

	for !fr.empty() {
		if err := ctx.Err(); err != nil {
			return Outcome[S]{}, err
		}

		if !resuming {
			if nodeID, hit := e.interruptHit(fr); hit {
				return e.suspend(ctx, rs, state, fr, nodeID)
			}
		}
		resuming = false

		if e.opts.MaxSteps > 0 && executed >= e.opts.MaxSteps {
			return Outcome[S]{}, fmt.Errorf("%w: %d", ErrMaxStepsExceeded, e.opts.MaxSteps)
		}
		executed++
		rs.step++

		results, err := e.executeStep(ctx, rs, state, fr.tasks)
		if err != nil {
			return Outcome[S]{}, err
		}

		for _, result := range results {
			state = e.reducer(state, result.Delta)
		}

		fr, err = e.successors(fr.tasks, results, state)
		if err != nil {
			return Outcome[S]{}, err
		}
	}

	return e.complete(ctx, rs, state)
}

func (e *Engine[S]) interruptHit(fr *frontier[S]) (string, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, t := range fr.tasks {
		if t.input == nil && e.interrupts[t.nodeID] {
			return t.nodeID, true
		}
	}
	return "", false
}

func (e *Engine[S]) suspend(ctx context.Context, rs *runScope, state S, fr *frontier[S], nodeID string) (Outcome[S], error) {
	if !rs.persist {
		return Outcome[S]{}, fmt.Errorf("%w: before %s", ErrUnexpectedInterrupt, nodeID)
	}
	if fr.hasSends() {
		return Outcome[S]{}, &EngineError{
			Message: "cannot suspend a superstep that contains dynamic branches",
			Code:    "INTERRUPT_WITH_SENDS",
		}
	}

	next := fr.cursor()
	if err := e.commit(ctx, rs, state, next, store.StatusInterrupted); err != nil {
		return Outcome[S]{}, err
	}

	e.opts.Metrics.IncrementInterrupts(e.opts.GraphID, nodeID)
	e.emit(rs, nodeID, emit.MsgInterrupt, map[string]interface{}{"next": next})

	return Outcome[S]{
		State:   state,
		Status:  store.StatusInterrupted,
		Next:    next,
		Step:    rs.step,
		Version: rs.version,
	}, nil
}

func (e *Engine[S]) complete(ctx context.Context, rs *runScope, state S) (Outcome[S], error) {
	if rs.persist {
		if err := e.commit(ctx, rs, state, nil, store.StatusDone); err != nil {
			return Outcome[S]{}, err
		}
	}

	e.emit(rs, "", emit.MsgRunComplete, map[string]interface{}{"steps": rs.step})

	return Outcome[S]{
		State:   state,
		Status:  store.StatusDone,
		Step:    rs.step,
		Version: rs.version,
	}, nil
}

// commit writes the next checkpoint version of the thread.
func (e *Engine[S]) commit(ctx context.Context, rs *runScope, state S, next []string, status store.Status) error {
	cp, err := store.Seal(store.Checkpoint[S]{
		GraphID:   e.opts.GraphID,
		ThreadID:  rs.threadID,
		Version:   rs.version + 1,
		Step:      rs.step,
		Next:      next,
		Status:    status,
		State:     state,
		CreatedAt: e.opts.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to seal checkpoint: %w", err)
	}

	if err := e.store.Put(ctx, cp); err != nil {
		return fmt.Errorf("failed to save checkpoint for thread %s: %w", rs.threadID, err)
	}
	rs.version = cp.Version

	e.opts.Metrics.IncrementCheckpoints(e.opts.GraphID, string(status))
	e.emit(rs, "", emit.MsgCheckpoint, map[string]interface{}{
		"version": cp.Version,
		"status":  string(status),
	})
	return nil
}

// executeStep runs the tasks of one superstep and returns their results in
// task order. The first failure cancels the context shared by the other
// tasks and is returned once all of them have stopped.
func (e *Engine[S]) executeStep(ctx context.Context, rs *runScope, state S, tasks []task[S]) ([]NodeResult[S], error) {
	results := make([]NodeResult[S], len(tasks))

	if len(tasks) > 1 {
		e.opts.Metrics.ObserveFanout(e.opts.GraphID, len(tasks))
		e.emit(rs, "", emit.MsgFanout, map[string]interface{}{"width": len(tasks)})
	}

	g, gctx := errgroup.WithContext(ctx)
	if e.opts.MaxConcurrentNodes > 0 {
		g.SetLimit(e.opts.MaxConcurrentNodes)
	}

	for i, t := range tasks {
		source := state
		if t.input != nil {
			source = *t.input
		}
		input, err := deepCopy(source)
		if err != nil {
			_ = g.Wait()
			return nil, &EngineError{Message: "failed to copy state for " + t.nodeID + ": " + err.Error(), Code: "STATE_COPY"}
		}

		g.Go(func() error {
			result, err := e.runTask(gctx, rs, t, input)
			if err != nil {
				return err
			}
			results[i] = result
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// runTask executes one task, applying the node's timeout and retry policy.
func (e *Engine[S]) runTask(ctx context.Context, rs *runScope, t task[S], input S) (NodeResult[S], error) {
	e.mu.RLock()
	node, exists := e.nodes[t.nodeID]
	policy := e.policies[t.nodeID]
	e.mu.RUnlock()

	if !exists {
		return NodeResult[S]{}, &EngineError{
			Message: "node not found during execution: " + t.nodeID,
			Code:    "NODE_NOT_FOUND",
		}
	}

	var retry *RetryPolicy
	if policy != nil {
		retry = policy.RetryPolicy
	}

	for attempt := 1; ; attempt++ {
		e.emit(rs, t.nodeID, emit.MsgNodeStart, map[string]interface{}{"attempt": attempt, "index": t.index})

		e.opts.Metrics.AddInflight(1)
		start := time.Now()
		result, timeoutErr := executeNodeWithTimeout(ctx, node, t.nodeID, input, policy, e.opts.DefaultNodeTimeout)
		elapsed := time.Since(start)
		e.opts.Metrics.AddInflight(-1)

		err := timeoutErr
		if err == nil {
			err = result.Err
		}

		if err == nil {
			e.opts.Metrics.RecordStepLatency(e.opts.GraphID, t.nodeID, elapsed, "success")
			e.emit(rs, t.nodeID, emit.MsgNodeEnd, map[string]interface{}{"duration_ms": elapsed.Milliseconds()})
			return result, nil
		}

		status := "error"
		if timeoutErr != nil {
			status = "timeout"
		}
		e.opts.Metrics.RecordStepLatency(e.opts.GraphID, t.nodeID, elapsed, status)

		if ctx.Err() == nil && retry.ShouldRetry(attempt, err) {
			delay := retry.Backoff(attempt, nil)
			e.opts.Metrics.IncrementRetries(t.nodeID, status)
			e.emit(rs, t.nodeID, emit.MsgNodeRetry, map[string]interface{}{
				"attempt":  attempt,
				"error":    err.Error(),
				"delay_ms": delay.Milliseconds(),
			})

			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
				continue
			case <-ctx.Done():
				timer.Stop()
				return NodeResult[S]{}, nodeError(t.nodeID, ctx.Err())
			}
		}

		e.emit(rs, t.nodeID, emit.MsgNodeError, map[string]interface{}{"error": err.Error(), "attempt": attempt})
		return NodeResult[S]{}, nodeError(t.nodeID, err)
	}
}

func nodeError(nodeID string, err error) error {
	var ne *NodeError
	if errors.As(err, &ne) && ne.NodeID == nodeID {
		return err
	}

	code := "NODE_FAILED"
	var ee *EngineError
	if errors.As(err, &ee) && ee.Code != "" {
		code = ee.Code
	}
	return &NodeError{Message: err.Error(), Code: code, NodeID: nodeID, Cause: err}
}

// successors builds the next frontier from the routes of a completed
// superstep. Routing is evaluated against the merged state.
func (e *Engine[S]) successors(tasks []task[S], results []NodeResult[S], state S) (*frontier[S], error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	next := newFrontier[S]()

	addStatic := func(from, to string) error {
		if to != End {
			if _, ok := e.nodes[to]; !ok {
				return &EngineError{
					Message: fmt.Sprintf("node %s routed to unknown node %s", from, to),
					Code:    "NODE_NOT_FOUND",
				}
			}
		}
		next.addStatic(to)
		return nil
	}

	for i, t := range tasks {
		route := results[i].Route

		if route.Terminal {
			continue
		}
		if !route.IsZero() {
			if route.To != "" {
				if err := addStatic(t.nodeID, route.To); err != nil {
					return nil, err
				}
			}
			for _, to := range route.Many {
				if err := addStatic(t.nodeID, to); err != nil {
					return nil, err
				}
			}
			continue
		}

		fired := false
		for _, edge := range e.edges {
			if edge.From != t.nodeID {
				continue
			}
			if edge.When != nil && !edge.When(state) {
				continue
			}
			fired = true
			if err := addStatic(t.nodeID, edge.To); err != nil {
				return nil, err
			}
		}

		if r, ok := e.routers[t.nodeID]; ok {
			fired = true
			decision := r.route(state)
			for _, to := range decision.To {
				if !r.targets[to] {
					return nil, &EngineError{
						Message: fmt.Sprintf("router of %s chose undeclared target %s", t.nodeID, to),
						Code:    "INVALID_ROUTE",
					}
				}
				if err := addStatic(t.nodeID, to); err != nil {
					return nil, err
				}
			}
			for _, s := range decision.Sends {
				if !r.targets[s.Node] || s.Node == End {
					return nil, &EngineError{
						Message: fmt.Sprintf("router of %s sent to undeclared target %s", t.nodeID, s.Node),
						Code:    "INVALID_ROUTE",
					}
				}
				next.addSend(s)
			}
		}

		if !fired {
			return nil, &EngineError{
				Message: "no valid route from node: " + t.nodeID,
				Code:    "NO_ROUTE",
			}
		}
	}

	return next, nil
}

func (e *Engine[S]) emit(rs *runScope, nodeID, msg string, meta map[string]interface{}) {
	e.emitter.Emit(emit.Event{
		GraphID:  e.opts.GraphID,
		ThreadID: rs.threadID,
		Step:     rs.step,
		NodeID:   nodeID,
		Msg:      msg,
		Meta:     meta,
	})
}
