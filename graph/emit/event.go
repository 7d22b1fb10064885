package emit

// Event messages emitted by the engine.
const (
	MsgNodeStart   = "node_start"
	MsgNodeEnd     = "node_end"
	MsgNodeError   = "node_error"
	MsgNodeRetry   = "node_retry"
	MsgFanout      = "fanout"
	MsgInterrupt   = "interrupt"
	MsgCheckpoint  = "checkpoint"
	MsgRunComplete = "run_complete"
)

// Event is an observability event emitted during workflow execution.
//
// Events are emitted to an Emitter which can log them, turn them into
// OpenTelemetry spans, or buffer them for inspection in tests.
type Event struct {
	// GraphID names the graph that emitted the event.
	GraphID string

	// ThreadID identifies the session lineage the run belongs to.
	// Empty for non-persistent invocations such as subgraph runs.
	ThreadID string

	// Step is the superstep number within the thread (1-indexed).
	// Zero for thread-level events.
	Step int

	// NodeID identifies the node the event concerns, if any.
	NodeID string

	// Msg is one of the Msg* constants.
	Msg string

	// Meta carries event-specific data. Common keys:
	//   - "duration_ms": execution duration in milliseconds
	//   - "error": error text
	//   - "attempt": node attempt number
	//   - "width": number of tasks in a fan-out
	//   - "next": cursor of an interrupt or checkpoint
	//   - "version": checkpoint version
	Meta map[string]interface{}
}
