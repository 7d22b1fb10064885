// Package openai provides a ChatModel backed by the OpenAI chat completions
// API. Any OpenAI-compatible endpoint (Groq, local gateways) works through
// WithBaseURL.
package openai

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/dshills/research-assistant/graph/model"
)

// GroqBaseURL is the OpenAI-compatible endpoint of Groq.
const GroqBaseURL = "https://api.groq.com/openai/v1/"

// ChatModel implements model.ChatModel for OpenAI-compatible APIs.
//
// The model does not retry: the SDK's built-in retries are disabled and
// failures are reported as *model.ProviderError for the caller's policy.
//
// Example:
//
//	m := openai.NewChatModel(os.Getenv("GROQ_API_KEY"), "llama-3.3-70b-versatile",
//	    openai.WithBaseURL(openai.GroqBaseURL))
//	out, err := m.Chat(ctx, messages)
type ChatModel struct {
	modelName string
	client    openaiClient
}

// openaiClient is the seam between message conversion and the SDK.
type openaiClient interface {
	createChatCompletion(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error)
}

// Option configures a ChatModel.
type Option func(*settings)

type settings struct {
	baseURL     string
	temperature *float64
}

// WithBaseURL points the client at an OpenAI-compatible endpoint.
func WithBaseURL(url string) Option {
	return func(s *settings) { s.baseURL = url }
}

// WithTemperature sets the sampling temperature sent with every request.
func WithTemperature(t float64) Option {
	return func(s *settings) { s.temperature = &t }
}

// NewChatModel creates a ChatModel. An empty modelName uses gpt-4o-mini.
func NewChatModel(apiKey, modelName string, opts ...Option) *ChatModel {
	if modelName == "" {
		modelName = "gpt-4o-mini"
	}

	var s settings
	for _, opt := range opts {
		opt(&s)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if s.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(s.baseURL))
	}
	client := openai.NewClient(reqOpts...)

	return &ChatModel{
		modelName: modelName,
		client:    &sdkClient{client: &client, temperature: s.temperature},
	}
}

// Chat implements model.ChatModel.
func (m *ChatModel) Chat(ctx context.Context, messages []model.Message) (model.ChatOut, error) {
	if ctx.Err() != nil {
		return model.ChatOut{}, ctx.Err()
	}

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(m.modelName),
		Messages: convertMessages(messages),
	}

	completion, err := m.client.createChatCompletion(ctx, params)
	if err != nil {
		return model.ChatOut{}, mapError(err)
	}
	if len(completion.Choices) == 0 {
		return model.ChatOut{}, &model.ProviderError{
			Provider:  "openai",
			Code:      "empty_response",
			Message:   "no choices in completion",
			Retryable: true,
		}
	}

	return model.ChatOut{
		Text: completion.Choices[0].Message.Content,
		Usage: model.Usage{
			InputTokens:  int(completion.Usage.PromptTokens),
			OutputTokens: int(completion.Usage.CompletionTokens),
		},
	}, nil
}

func convertMessages(messages []model.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case model.RoleSystem:
			out = append(out, openai.SystemMessage(msg.Content))
		case model.RoleAssistant:
			out = append(out, openai.AssistantMessage(msg.Content))
		default:
			out = append(out, openai.UserMessage(msg.Content))
		}
	}
	return out
}

// mapError converts SDK errors to *model.ProviderError, distinguishing
// transient failures from permanent ones.
func mapError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &model.ProviderError{
			Provider:   "openai",
			StatusCode: apiErr.StatusCode,
			Code:       apiErr.Code,
			Message:    apiErr.Message,
			Retryable:  model.RetryableStatus(apiErr.StatusCode),
			Err:        err,
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return &model.ProviderError{
			Provider:  "openai",
			Code:      "network_error",
			Message:   err.Error(),
			Retryable: true,
			Err:       err,
		}
	}

	lower := strings.ToLower(err.Error())
	retryable := strings.Contains(lower, "connection") || strings.Contains(lower, "timeout")
	return &model.ProviderError{
		Provider:  "openai",
		Code:      "api_error",
		Message:   err.Error(),
		Retryable: retryable,
		Err:       err,
	}
}

// sdkClient calls the API through the official SDK.
type sdkClient struct {
	client      *openai.Client
	temperature *float64
}

func (c *sdkClient) createChatCompletion(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
	if c.temperature != nil {
		params.Temperature = openai.Float(*c.temperature)
	}
	return c.client.Chat.Completions.New(ctx, params)
}
