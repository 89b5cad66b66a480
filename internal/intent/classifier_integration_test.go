//go:build integration

package intent

import (
	"context"
	"testing"
	"time"

	"github.com/kalambet/wellnessd/internal/engine"
)

func TestClassify_RealOllama(t *testing.T) {
	e := engine.NewOllamaEngine("http://localhost:11434")
	if !e.IsRunning(context.Background()) {
		t.Skip("Ollama is not running, skipping integration test")
	}
	if !e.HasModel(context.Background(), "llama3.2") {
		t.Skip("llama3.2 model not available, skipping integration test")
	}

	c := NewClassifier(e, "llama3.2")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	got, err := c.Classify(ctx, "I have had a headache for 3 days")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if !got.IsWellness {
		t.Errorf("headache classified as off topic: %+v", got)
	}

	got, err = c.Classify(ctx, "What's the weather in Paris tomorrow?")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if got.IsWellness {
		t.Errorf("weather classified as wellness: %+v", got)
	}
}
