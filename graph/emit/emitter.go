// Package emit delivers workflow execution events to observability backends.
package emit

// Emitter receives observability events from workflow execution.
//
// Implementations must be safe for concurrent use: tasks of one superstep emit
// from their own goroutines. Emit must not block execution for long and must
// not panic; delivery failures are handled internally.
type Emitter interface {
	Emit(event Event)
}

// MultiEmitter forwards every event to each of its emitters in order.
type MultiEmitter []Emitter

// Emit implements Emitter.
func (m MultiEmitter) Emit(event Event) {
	for _, e := range m {
		if e != nil {
			e.Emit(event)
		}
	}
}
