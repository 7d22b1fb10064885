// Package google provides a ChatModel adapter for the Google Gemini API.
package google

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/dshills/research-assistant/graph/model"
)

// ChatModel implements model.ChatModel for Google's Gemini API.
//
// System messages become the model's system instruction; the remaining turns
// are sent as chat history followed by the final user turn.
//
// Example:
//
//	m := google.NewChatModel(os.Getenv("GOOGLE_API_KEY"), "gemini-1.5-flash")
//	out, err := m.Chat(ctx, messages)
//	var safetyErr *google.SafetyFilterError
//	if errors.As(err, &safetyErr) {
//	    log.Printf("content blocked: %s", safetyErr.Category())
//	}
type ChatModel struct {
	modelName string
	client    googleClient
}

// request is a conversation already split the way Gemini expects it.
type request struct {
	system  string
	history []*genai.Content
	prompt  []genai.Part
}

// googleClient defines the Gemini call so tests can replace it.
type googleClient interface {
	generateContent(ctx context.Context, req request) (*genai.GenerateContentResponse, error)
}

// Option configures a ChatModel.
type Option func(*defaultClient)

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(c *defaultClient) {
		v := float32(t)
		c.temperature = &v
	}
}

// NewChatModel creates a new Google ChatModel. An empty modelName uses
// gemini-2.5-flash.
func NewChatModel(apiKey, modelName string, opts ...Option) *ChatModel {
	if modelName == "" {
		modelName = "gemini-2.5-flash"
	}

	c := &defaultClient{apiKey: apiKey, modelName: modelName}
	for _, opt := range opts {
		opt(c)
	}

	return &ChatModel{modelName: modelName, client: c}
}

// Chat implements the model.ChatModel interface.
func (m *ChatModel) Chat(ctx context.Context, messages []model.Message) (model.ChatOut, error) {
	if ctx.Err() != nil {
		return model.ChatOut{}, ctx.Err()
	}

	req := buildRequest(messages)
	if len(req.prompt) == 0 {
		return model.ChatOut{}, &model.ProviderError{
			Provider: "google",
			Code:     "invalid_request",
			Message:  "conversation has no content",
		}
	}

	resp, err := m.client.generateContent(ctx, req)
	if err != nil {
		return model.ChatOut{}, mapError(err)
	}

	return convertResponse(resp)
}

// buildRequest splits messages into system instruction, history and the
// final prompt. Gemini names the assistant role "model".
func buildRequest(messages []model.Message) request {
	var req request
	var systems []string
	var turns []*genai.Content

	for _, msg := range messages {
		if msg.Content == "" {
			continue
		}
		if msg.Role == model.RoleSystem {
			systems = append(systems, msg.Content)
			continue
		}
		role := "user"
		if msg.Role == model.RoleAssistant {
			role = "model"
		}
		turns = append(turns, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(msg.Content)}})
	}
	req.system = strings.Join(systems, "\n\n")

	if len(turns) == 0 {
		if req.system != "" {
			req.prompt = []genai.Part{genai.Text(req.system)}
			req.system = ""
		}
		return req
	}

	last := turns[len(turns)-1]
	req.history = turns[:len(turns)-1]
	req.prompt = last.Parts
	return req
}

// convertResponse converts Google's response to ChatOut.
func convertResponse(resp *genai.GenerateContentResponse) (model.ChatOut, error) {
	out := model.ChatOut{}
	if resp == nil {
		return out, nil
	}

	if resp.UsageMetadata != nil {
		out.Usage = model.Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}

	if len(resp.Candidates) == 0 {
		if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != genai.BlockReasonUnspecified {
			return out, &SafetyFilterError{reason: "PROMPT", category: resp.PromptFeedback.BlockReason.String()}
		}
		return out, nil
	}

	candidate := resp.Candidates[0]
	if candidate.FinishReason == genai.FinishReasonSafety {
		return out, &SafetyFilterError{reason: "SAFETY", category: blockedCategory(candidate)}
	}
	if candidate.Content == nil {
		return out, nil
	}

	for _, part := range candidate.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			if out.Text != "" {
				out.Text += "\n"
			}
			out.Text += string(text)
		}
	}

	return out, nil
}

func blockedCategory(c *genai.Candidate) string {
	for _, rating := range c.SafetyRatings {
		if rating.Blocked {
			return rating.Category.String()
		}
	}
	return "unknown"
}

// mapError converts client errors to *model.ProviderError, classifying gRPC
// status codes.
func mapError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var safetyErr *SafetyFilterError
	if errors.As(err, &safetyErr) {
		return err
	}

	var blocked *genai.BlockedError
	if errors.As(err, &blocked) {
		category := "unknown"
		if blocked.Candidate != nil {
			category = blockedCategory(blocked.Candidate)
		} else if blocked.PromptFeedback != nil {
			category = blocked.PromptFeedback.BlockReason.String()
		}
		return &SafetyFilterError{reason: "SAFETY", category: category}
	}

	if st, ok := status.FromError(err); ok && st.Code() != codes.Unknown {
		var retryable bool
		switch st.Code() {
		case codes.Unavailable, codes.ResourceExhausted, codes.Internal, codes.DeadlineExceeded, codes.Aborted:
			retryable = true
		}
		return &model.ProviderError{
			Provider:  "google",
			Code:      st.Code().String(),
			Message:   st.Message(),
			Retryable: retryable,
			Err:       err,
		}
	}

	return &model.ProviderError{
		Provider: "google",
		Code:     "api_error",
		Message:  err.Error(),
		Err:      err,
	}
}

// defaultClient wraps the official Google Gemini SDK client.
type defaultClient struct {
	apiKey      string
	modelName   string
	temperature *float32
}

func (c *defaultClient) generateContent(ctx context.Context, req request) (*genai.GenerateContentResponse, error) {
	if c.apiKey == "" {
		return nil, &model.ProviderError{Provider: "google", Code: "invalid_api_key", Message: "google API key is required"}
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(c.apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Google client: %w", err)
	}
	defer func() { _ = client.Close() }()

	genModel := client.GenerativeModel(c.modelName)
	if c.temperature != nil {
		genModel.SetTemperature(*c.temperature)
	}
	if req.system != "" {
		genModel.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.system)}}
	}

	session := genModel.StartChat()
	session.History = req.history
	return session.SendMessage(ctx, req.prompt...)
}

// SafetyFilterError represents a Google safety filter block.
//
// Use errors.As to check for this error type:
//
//	var safetyErr *google.SafetyFilterError
//	if errors.As(err, &safetyErr) {
//	    log.Printf("Content blocked: %s", safetyErr.Category())
//	}
type SafetyFilterError struct {
	reason   string
	category string
}

// Error implements the error interface.
func (e *SafetyFilterError) Error() string {
	return "content blocked by safety filter: " + e.category
}

// Category returns the safety category that triggered the block.
func (e *SafetyFilterError) Category() string {
	return e.category
}

// Reason returns why the content was blocked.
func (e *SafetyFilterError) Reason() string {
	return e.reason
}
