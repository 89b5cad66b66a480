package api

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/wellnessd/internal/orchestrator"
)

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func makeReadResourceRequest(uri string) mcp.ReadResourceRequest {
	return mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{URI: uri},
	}
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("expected content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func newMCPDeps(t *testing.T) (MCPDeps, *testEnv) {
	env := newTestEnv(t)
	return MCPDeps{
		Orchestrator: env.runner,
		Turns:        env.store,
		Profiles:     env.profile,
		Version:      "test",
	}, env
}

func TestNewMCPServer(t *testing.T) {
	deps, _ := newMCPDeps(t)
	if s := NewMCPServer(deps); s == nil {
		t.Fatal("NewMCPServer returned nil")
	}
}

func TestMCPAskWellness(t *testing.T) {
	deps, env := newMCPDeps(t)
	result, err := mcpAskWellness(deps)(context.Background(), makeCallToolRequest("ask_wellness", map[string]interface{}{
		"user_id": "u1",
		"message": "What should I eat before a run?",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %s", toolText(t, result))
	}
	text := toolText(t, result)
	if !strings.Contains(text, "Drink water") || !strings.Contains(text, "SymptomAgent, DietAgent") {
		t.Errorf("text = %q", text)
	}
	if _, msg := env.runner.got(); msg != "What should I eat before a run?" {
		t.Errorf("message = %q", msg)
	}
}

func TestMCPAskWellness_MissingArgs(t *testing.T) {
	deps, _ := newMCPDeps(t)
	for _, args := range []map[string]interface{}{
		{"message": "hi"},
		{"user_id": "u1"},
		{"user_id": "u1", "message": "   "},
	} {
		result, err := mcpAskWellness(deps)(context.Background(), makeCallToolRequest("ask_wellness", args))
		if err != nil {
			t.Fatal(err)
		}
		if !result.IsError {
			t.Errorf("args %v: expected error result", args)
		}
	}
}

func TestMCPAskWellness_TurnError(t *testing.T) {
	deps, env := newMCPDeps(t)
	env.runner.err = errors.Join(orchestrator.ErrSynthesis, errors.New("secret upstream detail"))

	result, _ := mcpAskWellness(deps)(context.Background(), makeCallToolRequest("ask_wellness", map[string]interface{}{
		"user_id": "u1", "message": "hi",
	}))
	if !result.IsError || strings.Contains(toolText(t, result), "secret") {
		t.Errorf("result = %+v", result)
	}
}

func TestMCPGetHistory(t *testing.T) {
	deps, env := newMCPDeps(t)
	saveTurn(t, env.store, "t1", "u1", "first")
	saveTurn(t, env.store, "t2", "u1", "second")
	saveTurn(t, env.store, "t3", "u1", "third")

	result, err := mcpGetHistory(deps)(context.Background(), makeCallToolRequest("get_history", map[string]interface{}{
		"user_id": "u1",
		"limit":   float64(2),
	}))
	if err != nil {
		t.Fatal(err)
	}
	var turns []struct {
		ID      string `json:"id"`
		Message string `json:"user_message"`
	}
	if err := json.Unmarshal([]byte(toolText(t, result)), &turns); err != nil {
		t.Fatalf("decoding history: %v", err)
	}
	if len(turns) != 2 || turns[0].ID != "t2" || turns[1].ID != "t3" {
		t.Errorf("turns = %+v", turns)
	}
}

func TestMCPSetProfileField(t *testing.T) {
	deps, env := newMCPDeps(t)
	result, err := mcpSetProfileField(deps)(context.Background(), makeCallToolRequest("set_profile_field", map[string]interface{}{
		"user_id": "u1",
		"key":     "goal",
		"value":   "run a 10k",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}

	p, err := env.profile.Get("u1")
	if err != nil {
		t.Fatal(err)
	}
	if p.Goal != "run a 10k" {
		t.Errorf("goal = %q", p.Goal)
	}
}

func TestMCPSetProfileField_EmptyKey(t *testing.T) {
	deps, _ := newMCPDeps(t)
	result, err := mcpSetProfileField(deps)(context.Background(), makeCallToolRequest("set_profile_field", map[string]interface{}{
		"user_id": "u1",
		"key":     "",
		"value":   "x",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if !result.IsError {
		t.Errorf("empty key accepted: %s", toolText(t, result))
	}
}

func TestMCPResourceProfile(t *testing.T) {
	deps, env := newMCPDeps(t)
	env.profile.SetField("u1", "diet_type", "vegan")

	contents, err := mcpResourceProfile(deps)(context.Background(), makeReadResourceRequest("user://u1/profile"))
	if err != nil {
		t.Fatal(err)
	}
	if len(contents) != 1 {
		t.Fatalf("got %d contents", len(contents))
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}
	if !strings.Contains(tc.Text, `"diet_type":"vegan"`) {
		t.Errorf("text = %s", tc.Text)
	}

	if _, err := mcpResourceProfile(deps)(context.Background(), makeReadResourceRequest("user://u1/other")); err == nil {
		t.Error("expected error for malformed uri")
	}
}

func TestProfileUserID(t *testing.T) {
	tests := []struct {
		uri  string
		want string
		ok   bool
	}{
		{"user://alice/profile", "alice", true},
		{"user:///profile", "", false},
		{"user://a/b/profile", "", false},
		{"file://alice/profile", "", false},
		{"user://alice", "", false},
	}
	for _, tt := range tests {
		got, ok := profileUserID(tt.uri)
		if got != tt.want || ok != tt.ok {
			t.Errorf("profileUserID(%q) = %q, %v; want %q, %v", tt.uri, got, ok, tt.want, tt.ok)
		}
	}
}
