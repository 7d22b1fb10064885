package tool

import (
	"context"
	"sync"
)

// MockRetriever is a test implementation of Retriever.
//
// Results is keyed by query; queries without an entry return Default. Err,
// when set, fails every call. Calls records the queries in arrival order.
//
// Example:
//
//	mock := &MockRetriever{
//	    Default: []Document{{ReferenceID: "https://example.com", Content: "text"}},
//	}
type MockRetriever struct {
	Results map[string][]Document
	Default []Document
	Err     error

	// Respond, when set, computes the result and overrides the fields above.
	Respond func(query string) ([]Document, error)

	Calls []string

	mu sync.Mutex
}

// Retrieve implements Retriever.
func (m *MockRetriever) Retrieve(ctx context.Context, query string) ([]Document, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	m.mu.Lock()
	m.Calls = append(m.Calls, query)
	respond := m.Respond
	m.mu.Unlock()

	if respond != nil {
		return respond(query)
	}
	if m.Err != nil {
		return nil, m.Err
	}
	if docs, ok := m.Results[query]; ok {
		return docs, nil
	}
	return m.Default, nil
}

// CallCount returns the number of Retrieve calls.
func (m *MockRetriever) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.Calls)
}
