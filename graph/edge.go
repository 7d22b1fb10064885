package graph

// End is the pseudo-node that terminates a path. Connect a node to End to
// finish the run once that node completes.
const End = "__end__"

// Edge is a static transition between two nodes.
//
// When When is nil the edge always fires. Every matching edge leaving a node
// fires, so connecting one node to several targets runs those targets
// concurrently in the next superstep.
type Edge[S any] struct {
	From string
	To   string
	When Predicate[S]
}

// Predicate decides whether an edge fires, given the state merged at the end
// of the superstep.
type Predicate[S any] func(state S) bool

// Send schedules one branch of a dynamic fan-out.
//
// The target node runs with State as its own input instead of the shared
// state, so each branch owns an isolated copy. Sends to the same node are
// never deduplicated: N sends produce N tasks.
type Send[S any] struct {
	Node  string
	State S
}

// Route is the decision returned by a Router.
type Route[S any] struct {
	// To lists static successors. Duplicates across the superstep collapse
	// into one task, which makes them join points.
	To []string

	// Sends lists dynamic branches, merged back in slice order.
	Sends []Send[S]
}

// To returns a Route to static successors.
func To[S any](nodeIDs ...string) Route[S] {
	return Route[S]{To: nodeIDs}
}

// Fan returns a Route that launches one branch per Send.
func Fan[S any](sends ...Send[S]) Route[S] {
	return Route[S]{Sends: sends}
}

// Router is a conditional edge: it inspects the merged state after a node
// completes and selects its successors.
type Router[S any] func(state S) Route[S]

// routerEdge binds a Router to its source node and the set of nodes it is
// allowed to route to.
type routerEdge[S any] struct {
	from    string
	route   Router[S]
	targets map[string]bool
}
