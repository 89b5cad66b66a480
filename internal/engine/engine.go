package engine

import (
	"context"
	"errors"
)

// ErrPullUnsupported is returned by backends that cannot download models.
var ErrPullUnsupported = errors.New("model pull not supported by this backend")

// Engine abstracts a text-generation backend (a local Ollama server or any
// OpenAI-compatible hosted API). Intent classification, the supervisor, the
// specialists, the synthesizer and report embedding all go through it.
type Engine interface {
	// Chat sends messages to the given model and returns the assistant's response.
	// When jsonSchema is non-nil, structured JSON output is requested.
	Chat(ctx context.Context, model string, messages []Message, jsonSchema *Schema) (string, error)

	// Embed returns the embedding vector for the given text using the specified model.
	Embed(ctx context.Context, model string, text string) ([]float32, error)

	// IsRunning reports whether the backend is reachable.
	IsRunning(ctx context.Context) bool

	// ListModels returns the names of all models the backend serves.
	ListModels(ctx context.Context) ([]string, error)

	// HasModel reports whether the given model name is available.
	HasModel(ctx context.Context, name string) bool

	// PullModel downloads a model. The optional callback receives progress updates.
	PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error
}

// Name returns a short backend label for status output.
func Name(e Engine) string {
	switch e.(type) {
	case *OllamaEngine:
		return "ollama"
	case *OpenAIEngine:
		return "openai"
	default:
		return "custom"
	}
}
