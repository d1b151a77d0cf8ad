// Package llmclient defines the LLM abstraction used by compression
// (autonomous summarization), llm_semantic merge, and optional generate
// calls (spec §4.E, §4.G, §4.H). Concrete clients live alongside this
// interface; anthropic.go provides the Anthropic-backed one.
package llmclient

import "context"

// ChatResponse is one LLM completion and its reported token usage.
type ChatResponse struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
}

// Client is the minimal surface engines need from an LLM provider. Every
// implementation is expected to retry transient failures internally so
// callers only see a terminal error.
type Client interface {
	// Complete sends a single-turn prompt under model and returns the
	// response text plus reported usage.
	Complete(ctx context.Context, model string, prompt string, maxTokens int) (*ChatResponse, error)
}
