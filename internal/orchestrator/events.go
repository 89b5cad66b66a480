package orchestrator

import (
	"sync"

	"github.com/kalambet/wellnessd/internal/storage"
)

// Event sources that are not specialists.
const (
	SourceSystem      = "System"
	SourceSupervisor  = "Supervisor"
	SourceSynthesizer = "Synthesizer"
)

// Event is one progress notification. Events are observational and never
// change the outcome of a turn.
type Event struct {
	Source  string `json:"agent"`
	Message string `json:"text"`
}

// Sink receives progress events in the order they happen.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

func (f SinkFunc) Emit(e Event) { f(e) }

// NopSink discards events.
var NopSink Sink = SinkFunc(func(Event) {})

// recorder forwards events to a sink and keeps the log stored with the turn.
type recorder struct {
	mu   sync.Mutex
	sink Sink
	log  []storage.LogEntry
}

func newRecorder(sink Sink) *recorder {
	if sink == nil {
		sink = NopSink
	}
	return &recorder{sink: sink}
}

func (r *recorder) emit(source, message string) {
	r.mu.Lock()
	r.log = append(r.log, storage.LogEntry{Source: source, Message: message})
	r.mu.Unlock()
	r.sink.Emit(Event{Source: source, Message: message})
}

func (r *recorder) entries() []storage.LogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]storage.LogEntry(nil), r.log...)
}
