package retrieval

import (
	"container/heap"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Compile-time check that SQLiteStore implements VectorStore.
var _ VectorStore = (*SQLiteStore)(nil)

// SQLiteStore provides per-user vector storage and brute-force cosine
// similarity search backed by SQLite. A user's report rarely exceeds a few
// hundred chunks, so a full scan of one user's rows stays fast.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps an existing *sql.DB for vector operations.
// The report_vectors table must already exist (created via migrations).
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// ReplaceForUser swaps the user's chunks for records in one transaction.
// Records without an ID get a fresh UUID.
func (s *SQLiteStore) ReplaceForUser(userID string, records []Record) error {
	if userID == "" {
		return fmt.Errorf("replacing vectors: empty user id")
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning replace transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM report_vectors WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("clearing vectors for %s: %w", userID, err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO report_vectors (id, user_id, source, seq, text_chunk, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, r := range records {
		id := r.ID
		if id == "" {
			id = uuid.New().String()
		}
		createdAt := r.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		if _, err := stmt.Exec(id, userID, r.Source, r.Seq, r.TextChunk, encodeFloat32s(r.Embedding), createdAt.Format(time.RFC3339Nano)); err != nil {
			return fmt.Errorf("inserting chunk %d: %w", r.Seq, err)
		}
	}
	return tx.Commit()
}

// DeleteForUser removes every chunk stored for userID.
func (s *SQLiteStore) DeleteForUser(userID string) error {
	if _, err := s.db.Exec(`DELETE FROM report_vectors WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("deleting vectors for %s: %w", userID, err)
	}
	return nil
}

// Count returns the number of chunks stored for userID.
func (s *SQLiteStore) Count(userID string) (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM report_vectors WHERE user_id = ?`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting vectors for %s: %w", userID, err)
	}
	return count, nil
}

// idScore holds only the ID and score during the scan phase of Search.
type idScore struct {
	ID    string
	Score float32
}

// Search scans the user's embeddings, keeps the top-K by cosine similarity
// and then loads only those rows in full.
func (s *SQLiteStore) Search(userID string, vector []float32, topK int) ([]ScoredRecord, error) {
	if topK <= 0 {
		return nil, nil
	}
	queryNorm := norm(vector)
	if queryNorm == 0 {
		return nil, nil
	}

	rows, err := s.db.Query(`SELECT id, embedding FROM report_vectors WHERE user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying vectors: %w", err)
	}
	defer rows.Close()

	h := &idScoreHeap{}
	heap.Init(h)

	// Reused across rows to avoid per-row allocations.
	var buf []float32

	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		buf, err = decodeFloat32sInto(buf, blob)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding for %s: %w", id, err)
		}

		score := cosine(vector, buf, queryNorm)
		if h.Len() < topK {
			heap.Push(h, idScore{ID: id, Score: score})
		} else if score > (*h)[0].Score {
			(*h)[0] = idScore{ID: id, Score: score}
			heap.Fix(h, 0)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}
	rows.Close()

	if h.Len() == 0 {
		return nil, nil
	}

	scores := make(map[string]float32, h.Len())
	args := make([]any, 0, h.Len())
	for h.Len() > 0 {
		item := heap.Pop(h).(idScore)
		scores[item.ID] = item.Score
		args = append(args, item.ID)
	}

	full, err := s.db.Query(`SELECT id, user_id, source, seq, text_chunk, created_at
		FROM report_vectors WHERE id IN (?`+strings.Repeat(",?", len(args)-1)+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("fetching top-K records: %w", err)
	}
	defer full.Close()

	var results []ScoredRecord
	for full.Next() {
		var r Record
		var createdAt string
		if err := full.Scan(&r.ID, &r.UserID, &r.Source, &r.Seq, &r.TextChunk, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning full record: %w", err)
		}
		t, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at for %s: %w", r.ID, err)
		}
		r.CreatedAt = t
		results = append(results, ScoredRecord{Record: r, Score: scores[r.ID]})
	}
	if err := full.Err(); err != nil {
		return nil, fmt.Errorf("iterating full records: %w", err)
	}

	// IN does not preserve order.
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Seq < results[j].Seq
	})
	return results, nil
}

// encodeFloat32s serializes a float32 slice to little-endian bytes.
func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeFloat32sInto decodes little-endian bytes into buf, growing it if needed.
// A length that is not a multiple of 4 indicates corruption.
func decodeFloat32sInto(buf []float32, b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	if cap(buf) < n {
		buf = make([]float32, n)
	} else {
		buf = buf[:n]
	}
	for i := range buf {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return buf, nil
}

// norm returns the L2 norm of a vector.
func norm(v []float32) float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return float32(math.Sqrt(sum))
}

// cosine computes dot(a,b) / (aNorm * |b|). Mismatched dimensions score 0.
func cosine(a, b []float32, aNorm float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot, bNormSq float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		bNormSq += float64(b[i]) * float64(b[i])
	}
	bNorm := math.Sqrt(bNormSq)
	if bNorm == 0 {
		return 0
	}
	return float32(dot / (float64(aNorm) * bNorm))
}

// idScoreHeap is a min-heap of idScore ordered by Score.
type idScoreHeap []idScore

func (h idScoreHeap) Len() int           { return len(h) }
func (h idScoreHeap) Less(i, j int) bool { return h[i].Score < h[j].Score }
func (h idScoreHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *idScoreHeap) Push(x any)        { *h = append(*h, x.(idScore)) }
func (h *idScoreHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
