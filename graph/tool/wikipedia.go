package tool

import (
	"context"
	"net/url"
	"sort"
	"strconv"
)

// WikipediaEndpoint is the English Wikipedia action API.
const WikipediaEndpoint = "https://en.wikipedia.org/w/api.php"

// Wikipedia retrieves article introductions through the MediaWiki search
// generator.
type Wikipedia struct {
	http     *HTTPTool
	endpoint string
	maxDocs  int
}

// WikipediaOption configures a Wikipedia retriever.
type WikipediaOption func(*Wikipedia)

// WithWikipediaEndpoint overrides the API URL, for example to target another
// language edition.
func WithWikipediaEndpoint(url string) WikipediaOption {
	return func(w *Wikipedia) { w.endpoint = url }
}

// WithWikipediaHTTP replaces the HTTP transport.
func WithWikipediaHTTP(h *HTTPTool) WikipediaOption {
	return func(w *Wikipedia) { w.http = h }
}

// NewWikipedia creates an encyclopedic retriever returning at most maxDocs
// articles per query.
func NewWikipedia(maxDocs int, opts ...WikipediaOption) *Wikipedia {
	if maxDocs <= 0 {
		maxDocs = 3
	}
	w := &Wikipedia{http: NewHTTPTool(nil), endpoint: WikipediaEndpoint, maxDocs: maxDocs}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

type wikiResponse struct {
	Query struct {
		Pages map[string]struct {
			Title   string `json:"title"`
			Extract string `json:"extract"`
			FullURL string `json:"fullurl"`
			Index   int    `json:"index"`
		} `json:"pages"`
	} `json:"query"`
}

type rankedDoc struct {
	index int
	doc   Document
}

// Retrieve implements Retriever. Documents follow search rank.
func (w *Wikipedia) Retrieve(ctx context.Context, query string) ([]Document, error) {
	params := url.Values{}
	params.Set("action", "query")
	params.Set("format", "json")
	params.Set("generator", "search")
	params.Set("gsrsearch", query)
	params.Set("gsrlimit", strconv.Itoa(w.maxDocs))
	params.Set("prop", "extracts|info")
	params.Set("exintro", "1")
	params.Set("explaintext", "1")
	params.Set("inprop", "url")

	var resp wikiResponse
	headers := map[string]string{"User-Agent": "research-assistant/1.0"}
	if err := w.http.fetchJSON(ctx, "wikipedia", "GET", w.endpoint+"?"+params.Encode(), headers, nil, &resp); err != nil {
		return nil, err
	}

	pages := make([]rankedDoc, 0, len(resp.Query.Pages))
	for _, p := range resp.Query.Pages {
		if p.Extract == "" {
			continue
		}
		pages = append(pages, rankedDoc{index: p.Index, doc: Document{ReferenceID: p.FullURL, Content: p.Extract}})
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].index < pages[j].index })

	docs := make([]Document, 0, len(pages))
	for _, p := range pages {
		docs = append(docs, p.doc)
	}
	return docs, nil
}
