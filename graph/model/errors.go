package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedOutput is returned when a structured completion cannot be
// decoded into the requested shape. It is not retryable.
var ErrMalformedOutput = errors.New("malformed structured output")

// ProviderError is a failure reported by an LLM provider.
//
// Retryable marks transient conditions (rate limiting, overload, server
// errors, network timeouts). Authentication, quota and invalid-request
// failures are not retryable.
type ProviderError struct {
	Provider   string
	StatusCode int
	Code       string
	Message    string
	Retryable  bool
	Err        error
}

func (e *ProviderError) Error() string {
	var b strings.Builder
	b.WriteString(e.Provider)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (%d)", e.StatusCode)
	}
	if e.Code != "" {
		b.WriteString(" ")
		b.WriteString(e.Code)
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	return b.String()
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// RetryableStatus reports whether an HTTP status code denotes a transient
// provider condition.
func RetryableStatus(code int) bool {
	return code == 429 || code == 529 || code >= 500
}

// DecodeJSON decodes a model reply into out.
//
// Models frequently wrap JSON in markdown fences or surround it with prose;
// DecodeJSON strips fences and falls back to the outermost JSON object in
// the text. Every failure wraps ErrMalformedOutput.
func DecodeJSON(text string, out interface{}) error {
	content := strings.TrimSpace(text)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	if content == "" {
		return fmt.Errorf("%w: empty reply", ErrMalformedOutput)
	}

	err := json.Unmarshal([]byte(content), out)
	if err == nil {
		return nil
	}

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start >= 0 && end > start {
		if err2 := json.Unmarshal([]byte(content[start:end+1]), out); err2 == nil {
			return nil
		}
	}

	return fmt.Errorf("%w: %v", ErrMalformedOutput, err)
}
