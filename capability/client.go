package capability

import (
	"context"
	"fmt"

	"github.com/dshills/research-assistant/graph/model"
)

// Client issues completions for one model tier.
//
// Every call is preceded by the instructions as a system message. Transient
// provider failures are retried per the client's policy; the final error of
// an exhausted retry matches ErrRetryExhausted.
type Client struct {
	tier  string
	model model.ChatModel
	s     settings
}

// NewClient creates the thin variant: one attempt per call.
func NewClient(tier string, m model.ChatModel, opts ...Option) *Client {
	return &Client{tier: tier, model: m, s: newSettings(SingleAttempt(), opts)}
}

// NewRetryingClient creates the variant for calls that share a rate limit:
// up to 8 attempts with exponential backoff and jitter.
func NewRetryingClient(tier string, m model.ChatModel, opts ...Option) *Client {
	return &Client{tier: tier, model: m, s: newSettings(RetryingPolicy(), opts)}
}

// Tier returns the tier name the client was created for.
func (c *Client) Tier() string {
	return c.tier
}

// Complete returns the model's reply to instructions and conversation.
func (c *Client) Complete(ctx context.Context, instructions string, conversation []model.Message) (string, error) {
	messages := make([]model.Message, 0, len(conversation)+1)
	if instructions != "" {
		messages = append(messages, model.Message{Role: model.RoleSystem, Content: instructions})
	}
	messages = append(messages, conversation...)

	out, err := retry(ctx, &c.s, c.tier, func(ctx context.Context) (model.ChatOut, error) {
		return c.model.Chat(ctx, messages)
	})
	if err != nil {
		return "", fmt.Errorf("%s completion: %w", c.tier, err)
	}

	c.s.metrics.AddTokens(c.tier, out.Usage.InputTokens, out.Usage.OutputTokens)
	c.s.usage.Record(c.tier, c.s.modelName, out.Usage)
	return out.Text, nil
}

// CompleteStructured asks for a JSON reply matching schema and decodes it
// into out. A reply that does not decode fails with model.ErrMalformedOutput
// and is not retried.
func (c *Client) CompleteStructured(ctx context.Context, instructions string, conversation []model.Message, schema string, out interface{}) error {
	prompt := instructions +
		"\n\nRespond ONLY with a JSON object that matches this JSON schema. No markdown, no explanation.\n" +
		schema

	text, err := c.Complete(ctx, prompt, conversation)
	if err != nil {
		return err
	}
	if err := model.DecodeJSON(text, out); err != nil {
		return fmt.Errorf("%s completion: %w", c.tier, err)
	}
	return nil
}
