// Package llm defines the Provider interface for Large Language Model backends.
//
// An LLM provider wraps a remote or local model API (e.g., OpenAI GPT-4o or a
// local Ollama instance) and exposes a uniform completion interface so the
// recognizer layer can use a model without coupling to any specific SDK.
//
// Implementors must be safe for concurrent use.
package llm

import "context"

// Message is a single entry of a conversation sent to the model.
type Message struct {
	// Role is "system", "user", or "assistant".
	Role string

	// Content is the message text.
	Content string
}

// Usage holds token accounting information returned by the LLM backend.
// All counts are in the model's native token unit and may differ between
// providers for the same textual content.
type Usage struct {
	// PromptTokens is the number of tokens consumed by the input messages
	// and system prompt.
	PromptTokens int

	// CompletionTokens is the number of tokens generated in the response.
	CompletionTokens int

	// TotalTokens is PromptTokens + CompletionTokens.
	TotalTokens int
}

// CompletionRequest carries everything the LLM needs to produce a response.
// Callers should treat a zero-value request as invalid; at minimum Messages
// must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation. The last message is typically
	// from the "user" role and drives the response.
	Messages []Message

	// Temperature controls output randomness in [0.0, 2.0]. Lower values
	// produce more deterministic outputs.
	Temperature float64

	// MaxTokens caps the number of completion tokens the model may
	// generate. Zero means use the provider default.
	MaxTokens int

	// SystemPrompt is an optional high-priority instruction injected before
	// the conversation. Providers without a dedicated system field prepend
	// it as a "system"-role message.
	SystemPrompt string
}

// CompletionResponse is the model's reply to a [CompletionRequest].
type CompletionResponse struct {
	// Content is the full response text.
	Content string

	// Usage holds token accounting when the backend reports it.
	Usage Usage
}

// Provider is a synchronous completion backend.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Complete sends req to the model and returns its response.
	// Returns a non-nil *CompletionResponse on success.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
