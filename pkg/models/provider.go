// Package models contains shared data models used across the genqueue codebase.
package models

import "context"

// AIProvider is the core interface that all LLM integrations must implement.
// Callers depend on this interface, never on a concrete provider.
type AIProvider interface {
	// Generate returns the model's completion for a single prompt.
	Generate(ctx context.Context, req GenerationRequest) (GenerationResult, error)
	// Name returns the provider identifier (e.g., "ollama", "openai").
	Name() string
}

// GenerationRequest is the input to a single LLM call.
type GenerationRequest struct {
	System    string
	Prompt    string
	MaxTokens int
}

// GenerationResult is the raw text produced by a provider.
type GenerationResult struct {
	Text  string
	Model string
}
