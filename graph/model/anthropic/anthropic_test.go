package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/dshills/research-assistant/graph/model"
)

type capturedRequest struct {
	Model     string `json:"model"`
	MaxTokens int    `json:"max_tokens"`
	System    []struct {
		Text string `json:"text"`
	} `json:"system"`
	Messages []struct {
		Role    string `json:"role"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"messages"`
}

func TestChatModel_Chat(t *testing.T) {
	var got capturedRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("invalid request body: %v", err)
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "msg_1",
			"type": "message",
			"role": "assistant",
			"model": "test-model",
			"content": [{"type": "text", "text": "Hello"}, {"type": "text", "text": " there"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 20, "output_tokens": 2}
		}`)
	}))
	defer server.Close()

	m := NewChatModel("test-key", "test-model", WithBaseURL(server.URL))
	out, err := m.Chat(context.Background(), []model.Message{
		{Role: model.RoleSystem, Content: "Be nice."},
		{Role: model.RoleAssistant, Content: "So you said you were writing an article?"},
		{Role: model.RoleUser, Content: "Yes."},
		{Role: model.RoleUser, Content: "About networks."},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if out.Text != "Hello there" {
		t.Errorf("expected concatenated text, got %q", out.Text)
	}
	if diff := cmp.Diff(model.Usage{InputTokens: 20, OutputTokens: 2}, out.Usage); diff != "" {
		t.Errorf("usage mismatch (-want +got):\n%s", diff)
	}

	if got.MaxTokens != defaultMaxTokens {
		t.Errorf("expected max_tokens %d, got %d", defaultMaxTokens, got.MaxTokens)
	}
	if len(got.System) != 1 || got.System[0].Text != "Be nice." {
		t.Errorf("expected system prompt to be lifted, got %+v", got.System)
	}

	roles := make([]string, len(got.Messages))
	for i, msg := range got.Messages {
		roles[i] = msg.Role
	}
	if diff := cmp.Diff([]string{"user", "assistant", "user"}, roles); diff != "" {
		t.Errorf("roles mismatch (-want +got):\n%s", diff)
	}
	if last := got.Messages[2].Content[0].Text; last != "Yes.\n\nAbout networks." {
		t.Errorf("expected merged user turn, got %q", last)
	}
}

func TestChatModel_ErrorMapping(t *testing.T) {
	tests := []struct {
		status    int
		retryable bool
	}{
		{status: http.StatusTooManyRequests, retryable: true},
		{status: 529, retryable: true},
		{status: http.StatusInternalServerError, retryable: true},
		{status: http.StatusUnauthorized, retryable: false},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, `{"type": "error", "error": {"type": "some_error", "message": "nope"}}`)
			}))
			defer server.Close()

			m := NewChatModel("test-key", "test-model", WithBaseURL(server.URL))
			_, err := m.Chat(context.Background(), []model.Message{{Role: model.RoleUser, Content: "hi"}})

			var pe *model.ProviderError
			if !errors.As(err, &pe) {
				t.Fatalf("expected ProviderError, got %T: %v", err, err)
			}
			if pe.StatusCode != tt.status || pe.Retryable != tt.retryable {
				t.Errorf("got status=%d retryable=%v, want %d/%v", pe.StatusCode, pe.Retryable, tt.status, tt.retryable)
			}
		})
	}
}

func TestExtractSystemPrompt(t *testing.T) {
	system, turns := extractSystemPrompt([]model.Message{
		{Role: model.RoleSystem, Content: "a"},
		{Role: model.RoleUser, Content: "u"},
		{Role: model.RoleSystem, Content: "b"},
	})
	if system != "a\n\nb" {
		t.Errorf("expected joined system prompt, got %q", system)
	}
	if len(turns) != 1 || turns[0].Content != "u" {
		t.Errorf("unexpected turns %+v", turns)
	}
}
