// Package tool provides the document retrieval backends used by research
// interviews.
package tool

import (
	"context"
	"fmt"
)

// Document is one retrieved source.
type Document struct {
	// ReferenceID identifies the source, usually its URL.
	ReferenceID string `json:"reference_id"`

	// Content is the retrieved text.
	Content string `json:"content"`
}

// Retriever searches a document corpus.
//
// Retrieve returns the documents in the backend's relevance order. An empty
// result is not an error.
type Retriever interface {
	Retrieve(ctx context.Context, query string) ([]Document, error)
}

// StatusError reports a non-2xx HTTP response from a backend.
type StatusError struct {
	Backend    string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: unexpected status %d", e.Backend, e.StatusCode)
	}
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Backend, e.StatusCode, e.Body)
}

// Transient reports whether the status denotes rate limiting or a server
// failure.
func (e *StatusError) Transient() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}
