package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/tmc/langchaingo/textsplitter"

	"github.com/kalambet/wellnessd/internal/profile"
	"github.com/kalambet/wellnessd/internal/retrieval"
	"github.com/kalambet/wellnessd/internal/storage"
)

const (
	chunkSize    = 800
	chunkOverlap = 100
)

// JobStore abstracts the job queue operations.
type JobStore interface {
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
}

// ProfileReader loads the profile holding the report text.
type ProfileReader interface {
	Get(userID string) (profile.Profile, error)
}

// BatchEmbedder generates embeddings for several texts.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorReplacer swaps a user's stored report chunks.
type VectorReplacer interface {
	ReplaceForUser(userID string, records []retrieval.Record) error
	DeleteForUser(userID string) error
}

// Worker processes report_embed jobs from the SQLite job queue.
type Worker struct {
	store    JobStore
	profiles ProfileReader
	embedder BatchEmbedder
	vectors  VectorReplacer
	splitter textsplitter.TextSplitter
	poll     time.Duration
	logger   *slog.Logger
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store JobStore, profiles ProfileReader, embedder BatchEmbedder, vectors VectorReplacer, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:    store,
		profiles: profiles,
		embedder: embedder,
		vectors:  vectors,
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(chunkSize),
			textsplitter.WithChunkOverlap(chunkOverlap),
		),
		poll:   pollInterval,
		logger: slog.Default(),
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single report_embed job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob([]string{JobReportEmbed})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		w.logger.Warn("job failed", "job_id", job.ID, "error", err)
		if failErr := w.store.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	var payload embedPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}
	if payload.UserID == "" {
		return fmt.Errorf("payload has no user_id")
	}

	p, err := w.profiles.Get(payload.UserID)
	if err != nil {
		return fmt.Errorf("loading profile %s: %w", payload.UserID, err)
	}
	// A newer upload replaced this report and has its own job.
	if p.MedicalReportName != payload.ReportName {
		w.logger.Info("skipping superseded report", "user_id", payload.UserID, "report", payload.ReportName)
		return nil
	}
	if !p.HasReport() {
		// Nothing to index; chunks of an earlier report must not linger.
		if err := w.vectors.DeleteForUser(payload.UserID); err != nil {
			return fmt.Errorf("clearing report vectors: %w", err)
		}
		w.logger.Info("report has no text, vectors cleared", "user_id", payload.UserID, "report", payload.ReportName)
		return nil
	}

	chunks, err := w.splitter.SplitText(p.MedicalReportText)
	if err != nil {
		return fmt.Errorf("splitting report: %w", err)
	}
	vecs, err := w.embedder.EmbedBatch(ctx, chunks)
	if err != nil {
		return fmt.Errorf("embedding report: %w", err)
	}

	now := time.Now().UTC()
	records := make([]retrieval.Record, len(chunks))
	for i, text := range chunks {
		records[i] = retrieval.Record{
			UserID:    payload.UserID,
			Source:    payload.ReportName,
			Seq:       i,
			TextChunk: text,
			Embedding: vecs[i],
			CreatedAt: now,
		}
	}
	if err := w.vectors.ReplaceForUser(payload.UserID, records); err != nil {
		return fmt.Errorf("storing report vectors: %w", err)
	}

	w.logger.Info("report indexed", "user_id", payload.UserID, "report", payload.ReportName, "chunks", len(records))
	return nil
}
