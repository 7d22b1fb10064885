package capability

import (
	"context"
	"fmt"

	"github.com/dshills/research-assistant/graph/tool"
)

// Retriever applies the capability policy to a retrieval backend.
type Retriever struct {
	name    string
	backend tool.Retriever
	s       settings
}

// NewRetriever creates the thin variant: one attempt per query.
func NewRetriever(name string, backend tool.Retriever, opts ...Option) *Retriever {
	return &Retriever{name: name, backend: backend, s: newSettings(SingleAttempt(), opts)}
}

// NewRetryingRetriever creates a retriever with the retrying policy.
func NewRetryingRetriever(name string, backend tool.Retriever, opts ...Option) *Retriever {
	return &Retriever{name: name, backend: backend, s: newSettings(RetryingPolicy(), opts)}
}

// Retrieve implements tool.Retriever.
func (r *Retriever) Retrieve(ctx context.Context, query string) ([]tool.Document, error) {
	docs, err := retry(ctx, &r.s, r.name, func(ctx context.Context) ([]tool.Document, error) {
		return r.backend.Retrieve(ctx, query)
	})
	if err != nil {
		return nil, fmt.Errorf("%s retrieval: %w", r.name, err)
	}
	return docs, nil
}
