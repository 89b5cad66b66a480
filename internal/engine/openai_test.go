package engine

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newOpenAIServer(t *testing.T, handler http.HandlerFunc) *OpenAIEngine {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewOpenAIEngine(srv.URL+"/v1", "test-key")
}

func TestOpenAIEngine_Chat(t *testing.T) {
	var body map[string]any
	var auth string
	e := newOpenAIServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		auth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"{\"next_agent\":\"DietAgent\"}"},"finish_reason":"stop"}]}`))
	})

	got, err := e.Chat(context.Background(), "llama-3.1-8b-instant", []Message{
		{Role: RoleSystem, Content: "decide"},
		{Role: RoleUser, Content: "I want to eat better"},
	}, &Schema{Type: "object", Properties: map[string]SchemaProperty{"next_agent": {Type: "string"}}, Required: []string{"next_agent"}})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if got != `{"next_agent":"DietAgent"}` {
		t.Errorf("got %q", got)
	}
	if auth != "Bearer test-key" {
		t.Errorf("Authorization = %q", auth)
	}
	rf, ok := body["response_format"].(map[string]any)
	if !ok || rf["type"] != "json_object" {
		t.Errorf("response_format = %v, want json_object", body["response_format"])
	}
	msgs, _ := body["messages"].([]any)
	if len(msgs) != 3 {
		t.Fatalf("expected schema instruction prepended, got %d messages", len(msgs))
	}
	first, _ := msgs[0].(map[string]any)
	if content, _ := first["content"].(string); !strings.Contains(content, "next_agent") {
		t.Errorf("schema instruction = %q", content)
	}
}

func TestOpenAIEngine_ChatNoChoices(t *testing.T) {
	e := newOpenAIServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"1","choices":[]}`))
	})
	if _, err := e.Chat(context.Background(), "m", []Message{{Role: RoleUser, Content: "x"}}, nil); err == nil {
		t.Fatal("expected error for empty choices")
	}
}

func TestOpenAIEngine_ChatHTTPError(t *testing.T) {
	e := newOpenAIServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"rate limited","type":"rate_limit"}}`))
	})
	if _, err := e.Chat(context.Background(), "m", []Message{{Role: RoleUser, Content: "x"}}, nil); err == nil {
		t.Fatal("expected error on 429")
	}
}

func TestOpenAIEngine_Embed(t *testing.T) {
	e := newOpenAIServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/embeddings" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"object":"list","data":[{"object":"embedding","index":0,"embedding":[0.5,0.25]}]}`))
	})
	vec, err := e.Embed(context.Background(), "text-embedding-3-small", "hello")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 2 || vec[0] != 0.5 {
		t.Errorf("vec = %v", vec)
	}
}

func TestOpenAIEngine_Models(t *testing.T) {
	e := newOpenAIServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/models" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"object":"list","data":[{"id":"llama-3.1-8b-instant","object":"model"}]}`))
	})

	ctx := context.Background()
	if !e.IsRunning(ctx) {
		t.Error("IsRunning() = false, want true")
	}
	if !e.HasModel(ctx, "llama-3.1-8b-instant") {
		t.Error("HasModel = false, want true")
	}
	if e.HasModel(ctx, "gpt-4o") {
		t.Error("HasModel(gpt-4o) = true, want false")
	}
	if err := e.PullModel(ctx, "gpt-4o", nil); !errors.Is(err, ErrPullUnsupported) {
		t.Errorf("PullModel err = %v, want ErrPullUnsupported", err)
	}
}
