package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// LogEntry is one progress notification recorded while a turn ran.
type LogEntry struct {
	Source  string `json:"agent"`
	Message string `json:"message"`
}

// Turn is the persisted record of one completed conversation turn.
type Turn struct {
	ID                string     `json:"id"`
	UserID            string     `json:"user_id"`
	CreatedAt         time.Time  `json:"timestamp"`
	UserMessage       string     `json:"user_message"`
	AssistantResponse string     `json:"assistant_response"`
	AgentsUsed        []string   `json:"agents_used"`
	ReasoningLogs     []LogEntry `json:"reasoning_logs,omitempty"`
}

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
