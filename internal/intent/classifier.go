package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kalambet/wellnessd/internal/engine"
)

// Chatter is the subset of engine.Engine the classifier needs.
type Chatter interface {
	Chat(ctx context.Context, model string, messages []engine.Message, jsonSchema *engine.Schema) (string, error)
}

// Result is the coarse intent of one user message.
type Result struct {
	IsWellness bool   `json:"is_wellness"`
	Category   string `json:"category"`
	Reason     string `json:"reason,omitempty"`
}

// String renders the result for inclusion in downstream prompts.
func (r Result) String() string {
	s := fmt.Sprintf("is_wellness=%t category=%s", r.IsWellness, r.Category)
	if r.Reason != "" {
		s += " reason=" + r.Reason
	}
	return s
}

// Classifier decides whether a message belongs to the wellness domain using
// a fast model with structured output.
type Classifier struct {
	client Chatter
	model  string
}

func NewClassifier(client Chatter, model string) *Classifier {
	return &Classifier{client: client, model: model}
}

// Classify returns the intent of message. Errors are returned to the caller,
// which decides the fallback; an empty message is trivially in scope.
func (c *Classifier) Classify(ctx context.Context, message string) (Result, error) {
	if strings.TrimSpace(message) == "" {
		return Result{IsWellness: true, Category: "general"}, nil
	}

	raw, err := c.client.Chat(ctx, c.model, BuildPrompt(message), resultSchema())
	if err != nil {
		return Result{}, fmt.Errorf("classifying intent: %w", err)
	}
	return parseResult(raw)
}

// parseResult decodes the model output, tolerating surrounding prose or
// markdown fences around the JSON object.
func parseResult(raw string) (Result, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end < start {
		return Result{}, fmt.Errorf("intent response has no JSON object: %q", raw)
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw[start:end+1]), &probe); err != nil {
		return Result{}, fmt.Errorf("decoding intent response: %w", err)
	}
	if _, ok := probe["is_wellness"]; !ok {
		return Result{}, fmt.Errorf("intent response missing is_wellness: %q", raw)
	}

	var r Result
	if err := json.Unmarshal([]byte(raw[start:end+1]), &r); err != nil {
		return Result{}, fmt.Errorf("decoding intent response: %w", err)
	}
	if r.Category == "" {
		r.Category = "general"
	}
	return r, nil
}
