package retrieval

import (
	"context"
	"errors"
	"testing"
)

type mockVectorStore struct {
	count    int
	countErr error
	results  []ScoredRecord
	gotUser  string
	gotTopK  int
}

func (m *mockVectorStore) ReplaceForUser(string, []Record) error { return nil }
func (m *mockVectorStore) DeleteForUser(string) error            { return nil }
func (m *mockVectorStore) Count(string) (int, error)             { return m.count, m.countErr }
func (m *mockVectorStore) Search(userID string, _ []float32, topK int) ([]ScoredRecord, error) {
	m.gotUser, m.gotTopK = userID, topK
	return m.results, nil
}

func constEngine() *mockEngine {
	return &mockEngine{embedFn: func(context.Context, string, string) ([]float32, error) {
		return []float32{1, 0}, nil
	}}
}

func TestRetrieve(t *testing.T) {
	store := &mockVectorStore{count: 2, results: []ScoredRecord{
		{Record: Record{ID: "c1", UserID: "u1", Source: "labs.pdf", Seq: 3, TextChunk: "LDL 160"}, Score: 0.8},
	}}
	r := NewRetriever(NewEmbedder(constEngine(), "m"), store)

	got, err := r.Retrieve(context.Background(), "u1", "cholesterol?", 3)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if store.gotUser != "u1" || store.gotTopK != 3 {
		t.Errorf("Search called with %q, %d", store.gotUser, store.gotTopK)
	}
	if len(got) != 1 || got[0].Text != "LDL 160" || got[0].Seq != 3 || got[0].Score != 0.8 {
		t.Errorf("Retrieve() = %+v", got)
	}
}

func TestRetrieve_NoChunksSkipsEmbedding(t *testing.T) {
	eng := constEngine()
	r := NewRetriever(NewEmbedder(eng, "m"), &mockVectorStore{})

	got, err := r.Retrieve(context.Background(), "u1", "anything", 3)
	if err != nil || got != nil {
		t.Errorf("Retrieve() = %v, %v", got, err)
	}
	if eng.calls.Load() != 0 {
		t.Error("embedded a query for a user with no report")
	}
}

func TestRetrieve_EmptyQuery(t *testing.T) {
	eng := constEngine()
	r := NewRetriever(NewEmbedder(eng, "m"), &mockVectorStore{count: 1})
	if got, err := r.Retrieve(context.Background(), "u1", "  ", 3); err != nil || got != nil {
		t.Errorf("Retrieve() = %v, %v", got, err)
	}
}

func TestRetrieve_Errors(t *testing.T) {
	r := NewRetriever(NewEmbedder(constEngine(), "m"), &mockVectorStore{countErr: errors.New("db locked")})
	if _, err := r.Retrieve(context.Background(), "u1", "q", 3); err == nil {
		t.Error("expected count error")
	}

	failing := &mockEngine{embedFn: func(context.Context, string, string) ([]float32, error) {
		return nil, errors.New("engine down")
	}}
	r = NewRetriever(NewEmbedder(failing, "m"), &mockVectorStore{count: 1})
	if _, err := r.Retrieve(context.Background(), "u1", "q", 3); err == nil {
		t.Error("expected embed error")
	}
}

func TestRetrieve_EndToEnd(t *testing.T) {
	store := openTestStore(t)
	if err := store.ReplaceForUser("u1", []Record{
		{Source: "labs.pdf", Seq: 0, TextChunk: "glucose", Embedding: []float32{0, 1}},
		{Source: "labs.pdf", Seq: 1, TextChunk: "lipids", Embedding: []float32{1, 0}},
	}); err != nil {
		t.Fatal(err)
	}
	r := NewRetriever(NewEmbedder(constEngine(), "m"), store)

	got, err := r.Retrieve(context.Background(), "u1", "q", 1)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(got) != 1 || got[0].Text != "lipids" {
		t.Errorf("Retrieve() = %+v", got)
	}
}
