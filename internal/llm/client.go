// Package llm talks to OpenAI-compatible chat completion services.
package llm

import (
	"context"
	"errors"
)

// Roles used in a conversation.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrEmptyCompletion is returned when the service answers without any choice.
var ErrEmptyCompletion = errors.New("completion has no choices")

// Message is one turn of a conversation.
type Message struct {
	Role    string
	Content string
}

// Response is a completion and its token usage.
type Response struct {
	Content          string
	Model            string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Client generates one completion for a conversation.
type Client interface {
	Generate(ctx context.Context, messages []Message) (Response, error)
}
