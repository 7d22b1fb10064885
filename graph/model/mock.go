package model

import (
	"context"
	"sync"
)

// MockChatModel is a test implementation of ChatModel.
//
// It replays configured responses in order, records every call, and can
// inject errors. Respond, when set, takes precedence and computes the reply
// from the messages, which lets one mock serve a whole workflow whose calls
// arrive concurrently.
//
// Example:
//
//	mock := &MockChatModel{
//	    Responses: []ChatOut{{Text: "First"}, {Text: "Second"}},
//	}
//	out, _ := mock.Chat(ctx, messages) // "First", then "Second", then "Second"...
type MockChatModel struct {
	// Responses contains the sequence of responses to return.
	// If all responses are consumed, the last response repeats.
	Responses []ChatOut

	// Respond computes a reply from the messages. Overrides Responses.
	Respond func(messages []Message) (ChatOut, error)

	// Errs is consumed before any response: the n-th call returns Errs[n]
	// while n < len(Errs). Useful for exercising retries.
	Errs []error

	// Err, if set, is returned by every call.
	Err error

	// Calls tracks the history of all Chat invocations.
	Calls []MockChatCall

	mu        sync.Mutex
	callIndex int
	errIndex  int
}

// MockChatCall records a single invocation of Chat.
type MockChatCall struct {
	Messages []Message
}

// Chat implements the ChatModel interface.
func (m *MockChatModel) Chat(ctx context.Context, messages []Message) (ChatOut, error) {
	if ctx.Err() != nil {
		return ChatOut{}, ctx.Err()
	}

	m.mu.Lock()
	m.Calls = append(m.Calls, MockChatCall{Messages: append([]Message(nil), messages...)})

	if m.errIndex < len(m.Errs) {
		err := m.Errs[m.errIndex]
		m.errIndex++
		m.mu.Unlock()
		return ChatOut{}, err
	}
	if m.Err != nil {
		m.mu.Unlock()
		return ChatOut{}, m.Err
	}

	respond := m.Respond
	if respond != nil {
		m.mu.Unlock()
		return respond(messages)
	}
	defer m.mu.Unlock()

	if len(m.Responses) == 0 {
		return ChatOut{}, nil
	}

	idx := m.callIndex
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	} else {
		m.callIndex++
	}
	return m.Responses[idx], nil
}

// Reset clears the call history and rewinds responses and errors.
func (m *MockChatModel) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = nil
	m.callIndex = 0
	m.errIndex = 0
}

// CallCount returns the number of times Chat has been called.
func (m *MockChatModel) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.Calls)
}
