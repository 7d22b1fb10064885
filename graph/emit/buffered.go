package emit

import "sync"

// BufferedEmitter keeps every event in memory, grouped by thread, for later
// inspection. Events from non-persistent runs are grouped under the empty
// thread ID.
//
// Useful in tests and in debugging tools that print a run's event history.
type BufferedEmitter struct {
	mu     sync.RWMutex
	events map[string][]Event // threadID -> events
}

// HistoryFilter narrows a history query. Zero fields match everything.
type HistoryFilter struct {
	NodeID string
	Msg    string
}

// NewBufferedEmitter creates an empty BufferedEmitter.
func NewBufferedEmitter() *BufferedEmitter {
	return &BufferedEmitter{
		events: make(map[string][]Event),
	}
}

// Emit implements Emitter.
func (b *BufferedEmitter) Emit(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.events[event.ThreadID] = append(b.events[event.ThreadID], event)
}

// History returns a copy of the events recorded for threadID that match filter.
func (b *BufferedEmitter) History(threadID string, filter HistoryFilter) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := make([]Event, 0, len(b.events[threadID]))
	for _, event := range b.events[threadID] {
		if filter.NodeID != "" && event.NodeID != filter.NodeID {
			continue
		}
		if filter.Msg != "" && event.Msg != filter.Msg {
			continue
		}
		result = append(result, event)
	}
	return result
}

// Clear drops the events of threadID, or of every thread when threadID is "*".
func (b *BufferedEmitter) Clear(threadID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if threadID == "*" {
		b.events = make(map[string][]Event)
		return
	}
	delete(b.events, threadID)
}
