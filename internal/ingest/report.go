// Package ingest turns uploaded medical reports into profile text and
// searchable embeddings.
package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/ledongthuc/pdf"

	"github.com/kalambet/wellnessd/internal/profile"
	"github.com/kalambet/wellnessd/internal/storage"
)

// JobReportEmbed is the job type that chunks and embeds a user's report.
const JobReportEmbed = "report_embed"

var (
	// ErrNotPDF is returned for uploads that are not PDF documents.
	ErrNotPDF = errors.New("only PDF files are supported")
	// ErrEmptyReport is returned when no text could be extracted.
	ErrEmptyReport = errors.New("could not extract any text from the PDF")
)

const maxReportChars = 200_000

// ExtractPDFText returns the plain text of a PDF document.
func ExtractPDFText(data []byte) (text string, err error) {
	if !bytes.HasPrefix(data, []byte("%PDF-")) {
		return "", ErrNotPDF
	}
	// The parser panics on some malformed cross-reference tables.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("reading PDF: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("opening PDF: %w", err)
	}
	plain, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extracting PDF text: %w", err)
	}
	b, err := io.ReadAll(io.LimitReader(plain, maxReportChars))
	if err != nil {
		return "", fmt.Errorf("reading PDF text: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}

// IsPDFName reports whether filename has a .pdf extension.
func IsPDFName(filename string) bool {
	return strings.EqualFold(filepath.Ext(filename), ".pdf")
}

// ProfileWriter stores profile fields.
type ProfileWriter interface {
	Save(userID string, fields map[string]any) error
}

// JobQueue enqueues background jobs.
type JobQueue interface {
	EnqueueJob(job storage.Job) error
}

// Report describes a stored upload.
type Report struct {
	UserID string `json:"user_id"`
	Name   string `json:"filename"`
	Chars  int    `json:"characters"`
	JobID  string `json:"job_id,omitempty"`
}

// Uploader saves report text into the user's profile and schedules indexing.
type Uploader struct {
	profiles ProfileWriter
	jobs     JobQueue
	extract  func([]byte) (string, error)
}

// NewUploader creates an Uploader. jobs may be nil, in which case reports are
// stored but never indexed.
func NewUploader(profiles ProfileWriter, jobs JobQueue) *Uploader {
	return &Uploader{profiles: profiles, jobs: jobs, extract: ExtractPDFText}
}

type embedPayload struct {
	UserID     string `json:"user_id"`
	ReportName string `json:"report_name"`
}

// Upload extracts the text of a PDF report, saves it into the profile and
// enqueues a report_embed job.
func (u *Uploader) Upload(userID, filename string, data []byte) (Report, error) {
	if !IsPDFName(filename) {
		return Report{}, ErrNotPDF
	}
	text, err := u.extract(data)
	if err != nil {
		return Report{}, err
	}
	if text == "" {
		return Report{}, ErrEmptyReport
	}

	name := filepath.Base(filename)
	if err := u.profiles.Save(userID, map[string]any{
		profile.KeyMedicalReportText: text,
		profile.KeyMedicalReportName: name,
	}); err != nil {
		return Report{}, fmt.Errorf("saving report to profile: %w", err)
	}

	rep := Report{UserID: userID, Name: name, Chars: len(text)}
	if u.jobs == nil {
		return rep, nil
	}

	payload, err := json.Marshal(embedPayload{UserID: userID, ReportName: name})
	if err != nil {
		return rep, fmt.Errorf("encoding job payload: %w", err)
	}
	rep.JobID = uuid.New().String()
	if err := u.jobs.EnqueueJob(storage.Job{ID: rep.JobID, Type: JobReportEmbed, PayloadJSON: string(payload)}); err != nil {
		return rep, fmt.Errorf("enqueueing report indexing: %w", err)
	}
	return rep, nil
}
