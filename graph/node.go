package graph

import "context"

// Node is one unit of work in a workflow graph.
//
// A node reads the current state and returns a partial update (Delta) that the
// engine merges through the graph's reducer. Nodes must not mutate the state
// they receive; when several nodes run in the same superstep each receives its
// own deep copy.
//
// Type parameter S is the state type shared across the workflow.
type Node[S any] interface {
	// Run executes the node logic.
	//
	// ctx is cancelled when the run is aborted, when a sibling task in the same
	// superstep fails, or when the node's timeout expires. Long-running nodes
	// should pass it to every blocking call.
	Run(ctx context.Context, state S) NodeResult[S]
}

// NodeResult is the output of a node execution.
type NodeResult[S any] struct {
	// Delta is the partial state update merged through the reducer.
	Delta S

	// Route optionally overrides edge evaluation for this node.
	// The zero value means "follow the registered edges".
	Route Next

	// Err aborts the run when non-nil. The error is wrapped in a NodeError
	// carrying the node ID.
	Err error
}

// Next is an explicit routing decision returned by a node.
type Next struct {
	// To routes to a single node.
	To string

	// Many routes to several nodes that run together in the next superstep.
	Many []string

	// Terminal ends this path of execution.
	Terminal bool
}

// IsZero reports whether the node left routing to the registered edges.
func (n Next) IsZero() bool {
	return n.To == "" && len(n.Many) == 0 && !n.Terminal
}

// Stop returns a Next that ends this execution path.
func Stop() Next {
	return Next{Terminal: true}
}

// Goto returns a Next that routes to nodeID.
func Goto(nodeID string) Next {
	return Next{To: nodeID}
}

// Many returns a Next that routes to every listed node in the next superstep.
func Many(nodeIDs ...string) Next {
	return Next{Many: nodeIDs}
}

// NodeFunc adapts a plain function to the Node interface.
//
// Example:
//
//	greet := graph.NodeFunc[State](func(ctx context.Context, s State) graph.NodeResult[State] {
//	    return graph.NodeResult[State]{Delta: State{Greeting: "hello " + s.Name}}
//	})
type NodeFunc[S any] func(ctx context.Context, state S) NodeResult[S]

// Run calls f(ctx, state).
func (f NodeFunc[S]) Run(ctx context.Context, state S) NodeResult[S] {
	return f(ctx, state)
}

// NodeError wraps a failure returned by node logic with the ID of the node
// that produced it.
type NodeError struct {
	Message string
	Code    string
	NodeID  string
	Cause   error
}

func (e *NodeError) Error() string {
	if e.NodeID != "" {
		return "node " + e.NodeID + ": " + e.Message
	}
	return e.Message
}

func (e *NodeError) Unwrap() error {
	return e.Cause
}
