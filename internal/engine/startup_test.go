package engine

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
)

type mockEngine struct {
	isRunning bool
	models    map[string]bool
	pulled    []string
	pullErr   error
	chats     []string
}

func (m *mockEngine) Chat(_ context.Context, model string, _ []Message, _ *Schema) (string, error) {
	m.chats = append(m.chats, model)
	return "pong", nil
}
func (m *mockEngine) Embed(_ context.Context, _ string, _ string) ([]float32, error) {
	return nil, nil
}
func (m *mockEngine) IsRunning(_ context.Context) bool { return m.isRunning }
func (m *mockEngine) ListModels(_ context.Context) ([]string, error) {
	var names []string
	for n := range m.models {
		names = append(names, n)
	}
	return names, nil
}
func (m *mockEngine) HasModel(_ context.Context, name string) bool { return m.models[name] }
func (m *mockEngine) PullModel(_ context.Context, name string, cb func(PullProgress)) error {
	if m.pullErr != nil {
		return m.pullErr
	}
	m.pulled = append(m.pulled, name)
	if cb != nil {
		cb(PullProgress{Status: "success"})
	}
	return nil
}

func TestEnsureReady_AllModelsPresent(t *testing.T) {
	m := &mockEngine{
		isRunning: true,
		models:    map[string]bool{"llama3.2": true, "nomic-embed-text": true},
	}
	if err := EnsureReady(context.Background(), m, io.Discard, "llama3.2", "nomic-embed-text"); err != nil {
		t.Fatalf("EnsureReady: %v", err)
	}
	if len(m.pulled) != 0 {
		t.Errorf("expected no pulls, got %v", m.pulled)
	}
	if len(m.chats) != 1 || m.chats[0] != "llama3.2" {
		t.Errorf("expected warm-up of first model, got %v", m.chats)
	}
}

func TestEnsureReady_PullsMissingOnce(t *testing.T) {
	m := &mockEngine{
		isRunning: true,
		models:    map[string]bool{"llama3.2": true},
	}
	var buf bytes.Buffer
	if err := EnsureReady(context.Background(), m, &buf, "llama3.2", "nomic-embed-text", "nomic-embed-text", ""); err != nil {
		t.Fatalf("EnsureReady: %v", err)
	}
	if len(m.pulled) != 1 || m.pulled[0] != "nomic-embed-text" {
		t.Errorf("expected one pull of nomic-embed-text, got %v", m.pulled)
	}
	if !strings.Contains(buf.String(), "model nomic-embed-text: pulling...") {
		t.Errorf("output missing pull line:\n%s", buf.String())
	}
}

func TestEnsureReady_PullUnsupported(t *testing.T) {
	m := &mockEngine{isRunning: true, models: map[string]bool{}, pullErr: ErrPullUnsupported}
	err := EnsureReady(context.Background(), m, io.Discard, "gpt-4o")
	if err == nil || !strings.Contains(err.Error(), "not served") {
		t.Fatalf("err = %v, want not served error", err)
	}
}

func TestEnsureReady_EngineDown(t *testing.T) {
	m := &mockEngine{isRunning: false, models: map[string]bool{}}
	if err := EnsureReady(context.Background(), m, io.Discard, "llama3.2"); err == nil {
		t.Fatal("expected error when engine is down")
	}
}
