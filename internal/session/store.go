package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/kalambet/wellnessd/internal/storage"
)

// EmptyContext is the conversation text used when a user has no prior turns.
const EmptyContext = "No previous conversation yet."

// TurnLister reads durable turns to rebuild a conversation window.
// Implemented by storage.Store.
type TurnLister interface {
	RecentTurns(userID string, n int) ([]storage.Turn, error)
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Exchange is one user message and the assistant's reply.
type Exchange struct {
	User      string
	Assistant string
}

type conversation struct {
	exchanges []Exchange
	touched   time.Time
}

type userLock struct {
	ch   chan struct{}
	refs int
}

// Store keeps a bounded, per-user conversation window in memory and
// serializes turns of the same user. Windows idle for longer than the TTL are
// evicted and rebuilt from durable turns on the next access.
type Store struct {
	lister   TurnLister
	clock    Clock
	ttl      time.Duration
	maxTurns int

	mu    sync.Mutex
	convs map[string]*conversation

	locksMu sync.Mutex
	locks   map[string]*userLock

	hydrate singleflight.Group
}

// NewStore creates a Store. lister may be nil, in which case evicted windows
// start empty.
func NewStore(lister TurnLister, ttl time.Duration, maxTurns int) *Store {
	return NewStoreWithClock(lister, realClock{}, ttl, maxTurns)
}

// NewStoreWithClock creates a Store with a custom clock (for testing).
func NewStoreWithClock(lister TurnLister, clock Clock, ttl time.Duration, maxTurns int) *Store {
	if maxTurns < 1 {
		maxTurns = 1
	}
	return &Store{
		lister:   lister,
		clock:    clock,
		ttl:      ttl,
		maxTurns: maxTurns,
		convs:    make(map[string]*conversation),
		locks:    make(map[string]*userLock),
	}
}

// Lock blocks until the caller holds the turn lock for userID or ctx is done.
// The returned func releases the lock and must be called exactly once.
func (s *Store) Lock(ctx context.Context, userID string) (func(), error) {
	s.locksMu.Lock()
	l, ok := s.locks[userID]
	if !ok {
		l = &userLock{ch: make(chan struct{}, 1)}
		s.locks[userID] = l
	}
	l.refs++
	s.locksMu.Unlock()

	select {
	case l.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-l.ch
				s.releaseRef(userID, l)
			})
		}, nil
	case <-ctx.Done():
		s.releaseRef(userID, l)
		return nil, ctx.Err()
	}
}

func (s *Store) releaseRef(userID string, l *userLock) {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(s.locks, userID)
	}
}

// Context returns the conversation transcript for userID, one
// "Human: ...\nAI: ..." block per exchange, oldest first.
func (s *Store) Context(userID string) string {
	ex := s.window(userID)
	if len(ex) == 0 {
		return EmptyContext
	}
	var sb strings.Builder
	for i, e := range ex {
		if i > 0 {
			sb.WriteByte('\n')
		}
		fmt.Fprintf(&sb, "Human: %s\nAI: %s", e.User, e.Assistant)
	}
	return sb.String()
}

// Append records a completed exchange. When the user's window has been
// evicted and durable storage is configured, nothing is kept in memory: the
// next Context call rebuilds the window from storage, which already holds
// the turn.
func (s *Store) Append(userID, message, response string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	c, ok := s.convs[userID]
	if ok && s.expired(c, now) {
		delete(s.convs, userID)
		ok = false
	}
	if !ok {
		if s.lister != nil {
			return
		}
		c = &conversation{}
		s.convs[userID] = c
	}

	c.exchanges = append(c.exchanges, Exchange{User: message, Assistant: response})
	if over := len(c.exchanges) - s.maxTurns; over > 0 {
		c.exchanges = append([]Exchange(nil), c.exchanges[over:]...)
	}
	c.touched = now
}

// Forget drops the in-memory window for userID, e.g. after a turn is deleted.
func (s *Store) Forget(userID string) {
	s.mu.Lock()
	delete(s.convs, userID)
	s.mu.Unlock()
}

// Sweep evicts every expired window and returns how many were removed.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	n := 0
	for id, c := range s.convs {
		if s.expired(c, now) {
			delete(s.convs, id)
			n++
		}
	}
	return n
}

// Run sweeps expired windows every interval until ctx is cancelled.
func (s *Store) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				slog.Debug("evicted idle conversations", "count", n)
			}
		}
	}
}

// Len returns the number of live windows.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.convs)
}

func (s *Store) expired(c *conversation, now time.Time) bool {
	return s.ttl > 0 && now.Sub(c.touched) >= s.ttl
}

func (s *Store) window(userID string) []Exchange {
	s.mu.Lock()
	now := s.clock.Now()
	if c, ok := s.convs[userID]; ok {
		if !s.expired(c, now) {
			c.touched = now
			out := append([]Exchange(nil), c.exchanges...)
			s.mu.Unlock()
			return out
		}
		delete(s.convs, userID)
	}
	s.mu.Unlock()

	if s.lister == nil {
		return nil
	}

	v, err, _ := s.hydrate.Do(userID, func() (any, error) {
		turns, err := s.lister.RecentTurns(userID, s.maxTurns)
		if err != nil {
			return nil, err
		}
		ex := make([]Exchange, 0, len(turns))
		for _, t := range turns {
			ex = append(ex, Exchange{User: t.UserMessage, Assistant: t.AssistantResponse})
		}
		return ex, nil
	})
	if err != nil {
		slog.Warn("rebuilding conversation from storage failed", "user_id", userID, "error", err)
		return nil
	}
	ex := v.([]Exchange)

	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.convs[userID]; ok && !s.expired(c, s.clock.Now()) {
		return append([]Exchange(nil), c.exchanges...)
	}
	s.convs[userID] = &conversation{
		exchanges: append([]Exchange(nil), ex...),
		touched:   s.clock.Now(),
	}
	return append([]Exchange(nil), ex...)
}
