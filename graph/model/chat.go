// Package model defines the completion capability used by workflow nodes and
// the provider-neutral message types passed to it.
package model

import "context"

// ChatModel defines the interface for LLM chat providers.
//
// This interface abstracts the differences between providers (OpenAI and
// OpenAI-compatible endpoints such as Groq, Anthropic, Google) behind one
// call.
//
// Implementations should:
//   - Convert the standard Message format to the provider's format
//   - Parse provider responses back into ChatOut, including token usage
//   - Report provider failures as *ProviderError so callers can classify them
//   - Respect context cancellation and timeouts
//
// Implementations do not retry; retry policy belongs to the caller.
//
// Example:
//
//	m := openai.NewChatModel(apiKey, "gpt-4o-mini")
//	out, err := m.Chat(ctx, []model.Message{
//	    {Role: model.RoleSystem, Content: "Answer in one word."},
//	    {Role: model.RoleUser, Content: "What is the capital of France?"},
//	})
type ChatModel interface {
	// Chat sends messages to the LLM and returns the response.
	Chat(ctx context.Context, messages []Message) (ChatOut, error)
}

// Message represents a single message in an LLM conversation.
//
// Typical conversation structure:
//   - System message (optional): sets context and behavior
//   - User messages: input or questions
//   - Assistant messages: LLM responses
type Message struct {
	// Role identifies the message sender. Use the Role* constants.
	Role string `json:"role"`

	// Content contains the message text.
	Content string `json:"content"`

	// Name optionally labels the speaker within a role, for example "expert"
	// for answers produced by the interviewed expert.
	Name string `json:"name,omitempty"`
}

// Standard role constants for LLM conversations.
const (
	// RoleSystem indicates a system message that sets context or instructions.
	RoleSystem = "system"

	// RoleUser indicates a message from the human side of the conversation.
	RoleUser = "user"

	// RoleAssistant indicates a response from the LLM.
	RoleAssistant = "assistant"
)

// ChatOut represents the output from an LLM chat completion.
type ChatOut struct {
	// Text contains the LLM's generated response.
	Text string

	// Usage reports token consumption when the provider returns it.
	Usage Usage
}

// Usage is the token accounting of one completion.
type Usage struct {
	InputTokens  int
	OutputTokens int
}
