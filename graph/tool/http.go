package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// maxErrorBody bounds how much of a failed response is kept in StatusError.
const maxErrorBody = 512

// HTTPTool is the JSON-over-HTTP transport shared by the retrieval backends.
type HTTPTool struct {
	client *http.Client
}

// NewHTTPTool creates a transport. A nil client uses a default client;
// request deadlines come from the context.
func NewHTTPTool(client *http.Client) *HTTPTool {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPTool{client: client}
}

// do executes one request and reads the whole response body.
func (h *HTTPTool) do(ctx context.Context, method, url string, headers map[string]string, body []byte) (*http.Response, []byte, error) {
	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create request: %w", err)
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return resp, respBody, nil
}

// fetchJSON performs a request and decodes a 2xx JSON response into out.
// Other statuses are reported as *StatusError.
func (h *HTTPTool) fetchJSON(ctx context.Context, backend, method, url string, headers map[string]string, payload, out interface{}) error {
	var body []byte
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("%s: failed to encode request: %w", backend, err)
		}
		body = encoded
		if headers == nil {
			headers = make(map[string]string)
		}
		headers["Content-Type"] = "application/json"
	}

	resp, respBody, err := h.do(ctx, method, url, headers, body)
	if err != nil {
		return fmt.Errorf("%s: %w", backend, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		text := string(respBody)
		if len(text) > maxErrorBody {
			text = text[:maxErrorBody]
		}
		return &StatusError{Backend: backend, StatusCode: resp.StatusCode, Body: strings.TrimSpace(text)}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("%s: failed to decode response: %w", backend, err)
	}
	return nil
}
