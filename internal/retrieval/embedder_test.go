package retrieval

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
)

// mockEngine implements EmbedEngine for testing.
type mockEngine struct {
	embedFn func(ctx context.Context, model string, text string) ([]float32, error)
	calls   atomic.Int32
}

func (m *mockEngine) Embed(ctx context.Context, model string, text string) ([]float32, error) {
	m.calls.Add(1)
	return m.embedFn(ctx, model, text)
}

func TestEmbed_PassesModel(t *testing.T) {
	var gotModel string
	mock := &mockEngine{embedFn: func(_ context.Context, model, _ string) ([]float32, error) {
		gotModel = model
		return []float32{1, 2, 3}, nil
	}}
	vec, err := NewEmbedder(mock, "nomic-embed-text").Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 3 || gotModel != "nomic-embed-text" {
		t.Errorf("vec = %v, model = %q", vec, gotModel)
	}
}

func TestEmbedBatch_PreservesOrder(t *testing.T) {
	mock := &mockEngine{embedFn: func(_ context.Context, _ string, text string) ([]float32, error) {
		return []float32{float32(len(text))}, nil
	}}
	texts := []string{"a", "bb", "ccc", "dddd", "eeeee", "ffffff"}
	vecs, err := NewEmbedder(mock, "m").EmbedBatch(context.Background(), texts)
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	for i, v := range vecs {
		if v[0] != float32(i+1) {
			t.Errorf("vecs[%d] = %v, want [%d]", i, v, i+1)
		}
	}
}

func TestEmbedBatch_Empty(t *testing.T) {
	mock := &mockEngine{}
	vecs, err := NewEmbedder(mock, "m").EmbedBatch(context.Background(), nil)
	if err != nil || vecs != nil {
		t.Errorf("EmbedBatch(nil) = %v, %v", vecs, err)
	}
	if mock.calls.Load() != 0 {
		t.Error("engine called for empty batch")
	}
}

func TestEmbedBatch_Error(t *testing.T) {
	mock := &mockEngine{embedFn: func(_ context.Context, _ string, text string) ([]float32, error) {
		if text == "bad" {
			return nil, errors.New("model crashed")
		}
		return []float32{1}, nil
	}}
	_, err := NewEmbedder(mock, "m").EmbedBatch(context.Background(), []string{"ok", "bad", "ok"})
	if err == nil || !strings.Contains(err.Error(), "model crashed") {
		t.Errorf("err = %v", err)
	}
}
