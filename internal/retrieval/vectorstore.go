package retrieval

import "time"

// VectorStore holds the embedded chunks of each user's medical report and
// answers similarity queries scoped to one user.
type VectorStore interface {
	// ReplaceForUser drops every chunk stored for userID and inserts records.
	ReplaceForUser(userID string, records []Record) error

	// DeleteForUser removes every chunk stored for userID.
	DeleteForUser(userID string) error

	// Search returns the top-K chunks of userID most similar to vector.
	Search(userID string, vector []float32, topK int) ([]ScoredRecord, error)

	// Count returns the number of chunks stored for userID.
	Count(userID string) (int, error)
}

// Record represents a row in the vector store.
type Record struct {
	ID        string
	UserID    string
	Source    string // report file name
	Seq       int    // chunk position within the report
	TextChunk string
	Embedding []float32
	CreatedAt time.Time
}

// ScoredRecord is a Record with a similarity score attached.
type ScoredRecord struct {
	Record
	Score float32
}
