package graph

// Reducer merges a node's partial update into the accumulated state.
//
// The engine calls the reducer once per completed task. Within a superstep the
// calls are made in scheduling order (the order in which the previous step's
// routes produced the tasks, with Sends in slice order), never in completion
// order, so a reducer that appends produces the same sequence on every run.
//
// A reducer typically applies a policy per field:
//
//	func reduce(prev, delta State) State {
//	    prev.Topic = graph.Replace(prev.Topic, delta.Topic)
//	    prev.Sections = graph.AppendOrdered(prev.Sections, delta.Sections)
//	    return prev
//	}
type Reducer[S any] func(prev, delta S) S

// Replace is the replace-with-latest policy for scalar fields: a non-zero
// delta overwrites prev, a zero delta leaves prev unchanged.
func Replace[T comparable](prev, delta T) T {
	var zero T
	if delta == zero {
		return prev
	}
	return delta
}

// ReplacePtr is the replace policy for fields that must be resettable to their
// zero value. A nil delta leaves prev unchanged; a non-nil delta replaces prev,
// even when it points at the zero value.
func ReplacePtr[T any](prev, delta *T) *T {
	if delta == nil {
		return prev
	}
	v := *delta
	return &v
}

// ReplaceSlice replaces prev wholesale when delta is non-empty.
func ReplaceSlice[T any](prev, delta []T) []T {
	if len(delta) == 0 {
		return prev
	}
	out := make([]T, len(delta))
	copy(out, delta)
	return out
}

// AppendOrdered is the append-in-index-order policy. It always allocates, so
// the merged slice never shares a backing array with either input.
func AppendOrdered[T any](prev, delta []T) []T {
	if len(delta) == 0 {
		return prev
	}
	out := make([]T, 0, len(prev)+len(delta))
	out = append(out, prev...)
	return append(out, delta...)
}
