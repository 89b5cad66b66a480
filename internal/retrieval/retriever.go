package retrieval

import (
	"context"
	"strings"
)

// Chunk is a retrieved report fragment with its similarity score.
type Chunk struct {
	ID     string
	UserID string
	Source string
	Seq    int
	Text   string
	Score  float32
}

// Retriever combines embedding and vector search to find the parts of a
// user's report relevant to a question.
type Retriever struct {
	embedder *Embedder
	store    VectorStore
}

// NewRetriever creates a Retriever backed by the given Embedder and VectorStore.
func NewRetriever(embedder *Embedder, store VectorStore) *Retriever {
	return &Retriever{embedder: embedder, store: store}
}

// Retrieve embeds the query and returns the top-K chunks of userID's report.
// Users without indexed chunks get nil without an embedding call.
func (r *Retriever) Retrieve(ctx context.Context, userID, query string, topK int) ([]Chunk, error) {
	if topK <= 0 || strings.TrimSpace(query) == "" {
		return nil, nil
	}
	n, err := r.store.Count(userID)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}

	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	scored, err := r.store.Search(userID, vec, topK)
	if err != nil {
		return nil, err
	}
	return scoredToChunks(scored), nil
}

func scoredToChunks(scored []ScoredRecord) []Chunk {
	chunks := make([]Chunk, len(scored))
	for i, s := range scored {
		chunks[i] = Chunk{
			ID:     s.ID,
			UserID: s.UserID,
			Source: s.Source,
			Seq:    s.Seq,
			Text:   s.TextChunk,
			Score:  s.Score,
		}
	}
	return chunks
}
