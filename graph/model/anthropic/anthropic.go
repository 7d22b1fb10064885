// Package anthropic provides a ChatModel backed by the Anthropic Messages API.
package anthropic

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/dshills/research-assistant/graph/model"
)

// defaultMaxTokens bounds every reply; the Messages API requires a limit.
const defaultMaxTokens = 4096

// ChatModel implements model.ChatModel for Anthropic's Claude API.
//
// System messages are lifted into the request's system parameter. Consecutive
// messages with the same role are merged, and a conversation that opens with
// an assistant turn is prefixed with a short user turn, since the API
// requires alternating turns starting with the user.
type ChatModel struct {
	modelName string
	client    anthropicClient
}

// anthropicClient is the seam between message conversion and the SDK.
type anthropicClient interface {
	createMessage(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error)
}

// Option configures a ChatModel.
type Option func(*settings)

type settings struct {
	baseURL     string
	temperature *float64
	maxTokens   int64
}

// WithBaseURL overrides the API endpoint.
func WithBaseURL(url string) Option {
	return func(s *settings) { s.baseURL = url }
}

// WithTemperature sets the sampling temperature sent with every request.
func WithTemperature(t float64) Option {
	return func(s *settings) { s.temperature = &t }
}

// WithMaxTokens overrides the reply token limit.
func WithMaxTokens(n int64) Option {
	return func(s *settings) { s.maxTokens = n }
}

// NewChatModel creates a ChatModel. An empty modelName uses
// claude-3-5-haiku-latest.
func NewChatModel(apiKey, modelName string, opts ...Option) *ChatModel {
	if modelName == "" {
		modelName = "claude-3-5-haiku-latest"
	}

	s := settings{maxTokens: defaultMaxTokens}
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
	client := anthropic.NewClient(reqOpts...)

	return &ChatModel{
		modelName: modelName,
		client:    &sdkClient{client: &client, temperature: s.temperature, maxTokens: s.maxTokens},
	}
}

// Chat implements model.ChatModel.
func (m *ChatModel) Chat(ctx context.Context, messages []model.Message) (model.ChatOut, error) {
	if ctx.Err() != nil {
		return model.ChatOut{}, ctx.Err()
	}

	systemPrompt, turns := extractSystemPrompt(messages)

	params := anthropic.MessageNewParams{
		Model:    anthropic.Model(m.modelName),
		Messages: convertTurns(turns),
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: systemPrompt}}
	}

	msg, err := m.client.createMessage(ctx, params)
	if err != nil {
		return model.ChatOut{}, mapError(err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return model.ChatOut{
		Text: text.String(),
		Usage: model.Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}, nil
}

// extractSystemPrompt separates system messages from conversation turns.
func extractSystemPrompt(messages []model.Message) (string, []model.Message) {
	var systemPrompt string
	var turns []model.Message

	for _, msg := range messages {
		if msg.Role == model.RoleSystem {
			if systemPrompt != "" {
				systemPrompt += "\n\n"
			}
			systemPrompt += msg.Content
			continue
		}
		turns = append(turns, msg)
	}

	return systemPrompt, turns
}

// convertTurns produces alternating user/assistant messages.
func convertTurns(turns []model.Message) []anthropic.MessageParam {
	type turn struct {
		assistant bool
		text      string
	}

	var merged []turn
	for _, msg := range turns {
		assistant := msg.Role == model.RoleAssistant
		if n := len(merged); n > 0 && merged[n-1].assistant == assistant {
			merged[n-1].text += "\n\n" + msg.Content
			continue
		}
		merged = append(merged, turn{assistant: assistant, text: msg.Content})
	}
	if len(merged) == 0 || merged[0].assistant {
		merged = append([]turn{{text: "Begin."}}, merged...)
	}

	out := make([]anthropic.MessageParam, 0, len(merged))
	for _, t := range merged {
		if t.assistant {
			out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(t.text)))
		} else {
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(t.text)))
		}
	}
	return out
}

// mapError converts SDK errors to *model.ProviderError.
func mapError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return &model.ProviderError{
			Provider:   "anthropic",
			StatusCode: apiErr.StatusCode,
			Message:    err.Error(),
			Retryable:  model.RetryableStatus(apiErr.StatusCode),
			Err:        err,
		}
	}

	var netErr net.Error
	retryable := errors.As(err, &netErr)
	return &model.ProviderError{
		Provider:  "anthropic",
		Code:      "api_error",
		Message:   err.Error(),
		Retryable: retryable,
		Err:       err,
	}
}

// sdkClient calls the API through the official SDK.
type sdkClient struct {
	client      *anthropic.Client
	temperature *float64
	maxTokens   int64
}

func (c *sdkClient) createMessage(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error) {
	params.MaxTokens = c.maxTokens
	if c.temperature != nil {
		params.Temperature = anthropic.Float(*c.temperature)
	}
	return c.client.Messages.New(ctx, params)
}
