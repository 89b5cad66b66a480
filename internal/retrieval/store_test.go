package retrieval

import (
	"testing"

	"github.com/kalambet/wellnessd/internal/storage"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	st, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return NewSQLiteStore(st.DB())
}

func TestReplaceAndSearch(t *testing.T) {
	s := openTestStore(t)

	err := s.ReplaceForUser("u1", []Record{
		{Source: "labs.pdf", Seq: 0, TextChunk: "cholesterol", Embedding: []float32{1, 0, 0}},
		{Source: "labs.pdf", Seq: 1, TextChunk: "vitamin d", Embedding: []float32{0, 1, 0}},
		{Source: "labs.pdf", Seq: 2, TextChunk: "iron", Embedding: []float32{0.7, 0.7, 0}},
	})
	if err != nil {
		t.Fatalf("ReplaceForUser: %v", err)
	}

	got, err := s.Search("u1", []float32{1, 0, 0}, 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d results, want 2", len(got))
	}
	if got[0].TextChunk != "cholesterol" || got[1].TextChunk != "iron" {
		t.Errorf("order = %q, %q", got[0].TextChunk, got[1].TextChunk)
	}
	if got[0].Score < 0.99 {
		t.Errorf("top score = %f", got[0].Score)
	}
	if got[0].ID == "" || got[0].UserID != "u1" || got[0].Source != "labs.pdf" {
		t.Errorf("record fields not populated: %+v", got[0].Record)
	}
}

func TestSearch_ScopedToUser(t *testing.T) {
	s := openTestStore(t)
	if err := s.ReplaceForUser("u1", []Record{{Source: "a.pdf", TextChunk: "mine", Embedding: []float32{1, 0}}}); err != nil {
		t.Fatal(err)
	}
	if err := s.ReplaceForUser("u2", []Record{{Source: "b.pdf", TextChunk: "theirs", Embedding: []float32{1, 0}}}); err != nil {
		t.Fatal(err)
	}

	got, err := s.Search("u1", []float32{1, 0}, 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 1 || got[0].TextChunk != "mine" {
		t.Errorf("Search(u1) = %+v", got)
	}
}

func TestReplaceForUser_DropsOldChunks(t *testing.T) {
	s := openTestStore(t)
	if err := s.ReplaceForUser("u1", []Record{
		{Seq: 0, TextChunk: "old 1", Embedding: []float32{1}},
		{Seq: 1, TextChunk: "old 2", Embedding: []float32{1}},
	}); err != nil {
		t.Fatal(err)
	}
	if err := s.ReplaceForUser("u1", []Record{{Seq: 0, TextChunk: "new", Embedding: []float32{1}}}); err != nil {
		t.Fatal(err)
	}

	n, err := s.Count("u1")
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 1 {
		t.Errorf("Count = %d, want 1", n)
	}
}

func TestDeleteForUser(t *testing.T) {
	s := openTestStore(t)
	if err := s.ReplaceForUser("u1", []Record{{TextChunk: "x", Embedding: []float32{1}}}); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteForUser("u1"); err != nil {
		t.Fatalf("DeleteForUser: %v", err)
	}
	if n, _ := s.Count("u1"); n != 0 {
		t.Errorf("Count after delete = %d", n)
	}
}

func TestReplaceForUser_EmptyUser(t *testing.T) {
	s := openTestStore(t)
	if err := s.ReplaceForUser("", nil); err == nil {
		t.Error("expected error for empty user id")
	}
}

func TestSearch_EdgeCases(t *testing.T) {
	s := openTestStore(t)
	if err := s.ReplaceForUser("u1", []Record{{TextChunk: "x", Embedding: []float32{1, 1}}}); err != nil {
		t.Fatal(err)
	}

	if got, err := s.Search("u1", []float32{0, 0}, 3); err != nil || got != nil {
		t.Errorf("zero query = %v, %v", got, err)
	}
	if got, err := s.Search("u1", []float32{1, 1}, 0); err != nil || got != nil {
		t.Errorf("topK 0 = %v, %v", got, err)
	}
	got, err := s.Search("u1", []float32{1, 1, 1}, 3)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 1 || got[0].Score != 0 {
		t.Errorf("mismatched dimension should score 0: %+v", got)
	}
}

func TestFloat32Encoding(t *testing.T) {
	in := []float32{0, -1.5, 3.25}
	out, err := decodeFloat32sInto(nil, encodeFloat32s(in))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	for i := range in {
		if in[i] != out[i] {
			t.Errorf("out[%d] = %v, want %v", i, out[i], in[i])
		}
	}
	if _, err := decodeFloat32sInto(nil, []byte{1, 2, 3}); err == nil {
		t.Error("expected error for truncated blob")
	}
}
