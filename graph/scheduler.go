package graph

// task is one unit of work in a superstep.
//
// index is the task's position in its superstep and fixes the order in which
// its delta is merged, independent of when the task finishes.
type task[S any] struct {
	index  int
	nodeID string

	// input is the branch-owned state of a Send task. Nil means the task
	// reads the shared state.
	input *S
}

// frontier is the ordered set of tasks scheduled for the next superstep.
//
// Static successors are deduplicated by node ID, which makes a node reached
// from several tasks a join point: it runs once, after all of them merged.
// Send tasks are never deduplicated.
type frontier[S any] struct {
	tasks  []task[S]
	static map[string]bool
}

func newFrontier[S any](nodeIDs ...string) *frontier[S] {
	f := &frontier[S]{static: make(map[string]bool)}
	for _, id := range nodeIDs {
		f.addStatic(id)
	}
	return f
}

func (f *frontier[S]) addStatic(nodeID string) {
	if nodeID == End || f.static[nodeID] {
		return
	}
	f.static[nodeID] = true
	f.tasks = append(f.tasks, task[S]{index: len(f.tasks), nodeID: nodeID})
}

func (f *frontier[S]) addSend(s Send[S]) {
	input := s.State
	f.tasks = append(f.tasks, task[S]{index: len(f.tasks), nodeID: s.Node, input: &input})
}

func (f *frontier[S]) empty() bool {
	return len(f.tasks) == 0
}

func (f *frontier[S]) hasSends() bool {
	for _, t := range f.tasks {
		if t.input != nil {
			return true
		}
	}
	return false
}

// cursor returns the node IDs of the static tasks, in order. It is what a
// checkpoint records as the next nodes to run.
func (f *frontier[S]) cursor() []string {
	ids := make([]string, 0, len(f.tasks))
	for _, t := range f.tasks {
		if t.input == nil {
			ids = append(ids, t.nodeID)
		}
	}
	return ids
}
