package tool

import (
	"context"
	"fmt"
)

// TavilyEndpoint is the Tavily search API.
const TavilyEndpoint = "https://api.tavily.com/search"

// TavilySearch retrieves web documents through the Tavily search API.
type TavilySearch struct {
	http       *HTTPTool
	apiKey     string
	endpoint   string
	maxResults int
}

// NewTavilySearch creates a web search backend returning at most maxResults
// documents per query.
func NewTavilySearch(apiKey string, maxResults int, opts ...TavilyOption) *TavilySearch {
	if maxResults <= 0 {
		maxResults = 3
	}
	t := &TavilySearch{
		http:       NewHTTPTool(nil),
		apiKey:     apiKey,
		endpoint:   TavilyEndpoint,
		maxResults: maxResults,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// TavilyOption configures a TavilySearch.
type TavilyOption func(*TavilySearch)

// WithTavilyEndpoint overrides the API URL.
func WithTavilyEndpoint(url string) TavilyOption {
	return func(t *TavilySearch) { t.endpoint = url }
}

// WithTavilyHTTP replaces the HTTP transport.
func WithTavilyHTTP(h *HTTPTool) TavilyOption {
	return func(t *TavilySearch) { t.http = h }
}

type tavilyRequest struct {
	APIKey     string `json:"api_key"`
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
}

type tavilyResponse struct {
	Results []struct {
		URL     string  `json:"url"`
		Title   string  `json:"title"`
		Content string  `json:"content"`
		Score   float64 `json:"score"`
	} `json:"results"`
}

// Retrieve implements Retriever.
func (t *TavilySearch) Retrieve(ctx context.Context, query string) ([]Document, error) {
	if t.apiKey == "" {
		return nil, fmt.Errorf("tavily: API key is required")
	}

	var resp tavilyResponse
	err := t.http.fetchJSON(ctx, "tavily", "POST", t.endpoint,
		map[string]string{"Authorization": "Bearer " + t.apiKey},
		tavilyRequest{APIKey: t.apiKey, Query: query, MaxResults: t.maxResults},
		&resp)
	if err != nil {
		return nil, err
	}

	docs := make([]Document, 0, len(resp.Results))
	for _, r := range resp.Results {
		if len(docs) == t.maxResults {
			break
		}
		docs = append(docs, Document{ReferenceID: r.URL, Content: r.Content})
	}
	return docs, nil
}
