package graph

import (
	"context"
	"fmt"
)

// Runner executes a complete graph over state B and returns its terminal
// state. *Engine[B] implements Runner through Invoke.
type Runner[B any] interface {
	Invoke(ctx context.Context, initial B) (B, error)
}

// Subgraph embeds a graph over state B as a single node of a graph over
// state S.
//
// In builds the child's initial state from the node's input; Out turns the
// child's terminal state into the parent's delta. The child runs to
// completion inside the node, so a failure of the child fails the node.
type Subgraph[S, B any] struct {
	runner Runner[B]
	in     func(S) B
	out    func(B) S
}

// NewSubgraph creates a Subgraph node.
func NewSubgraph[S, B any](runner Runner[B], in func(S) B, out func(B) S) *Subgraph[S, B] {
	return &Subgraph[S, B]{runner: runner, in: in, out: out}
}

// Run implements Node.
func (sg *Subgraph[S, B]) Run(ctx context.Context, state S) NodeResult[S] {
	final, err := sg.runner.Invoke(ctx, sg.in(state))
	if err != nil {
		return NodeResult[S]{Err: fmt.Errorf("subgraph: %w", err)}
	}
	return NodeResult[S]{Delta: sg.out(final)}
}
