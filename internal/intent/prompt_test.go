package intent

import (
	"strings"
	"testing"

	"github.com/kalambet/wellnessd/internal/engine"
)

func TestPromptContainsInstructions(t *testing.T) {
	messages := BuildPrompt("test query")

	if len(messages) != 2 {
		t.Fatalf("got %d messages, want 2", len(messages))
	}
	system := messages[0].Content
	if messages[0].Role != engine.RoleSystem {
		t.Errorf("first role = %q, want system", messages[0].Role)
	}
	if !strings.Contains(system, "intent gate") {
		t.Error("system prompt does not contain role instruction")
	}
	if !strings.Contains(system, "off_topic") {
		t.Error("system prompt does not contain category definitions")
	}
	if !strings.Contains(system, "prefer is_wellness = true") {
		t.Error("system prompt does not bias towards wellness")
	}
	if messages[1].Content != "test query" || messages[1].Role != engine.RoleUser {
		t.Errorf("user message = %+v", messages[1])
	}
}

func TestSchemaRequiresDecision(t *testing.T) {
	s := resultSchema()
	if len(s.Required) == 0 || s.Required[0] != "is_wellness" {
		t.Errorf("Required = %v", s.Required)
	}
	if len(s.Properties["category"].Enum) != 7 {
		t.Errorf("category enum = %v", s.Properties["category"].Enum)
	}
}
