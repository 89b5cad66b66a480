package profile

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

// ProfileStore defines the storage operations the Manager needs.
// Implemented by storage.Store.
type ProfileStore interface {
	SetProfileKey(userID, key, value string) error
	GetAllProfileKeys(userID string) (map[string]string, error)
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type cacheEntry struct {
	profile  Profile
	cachedAt time.Time
}

// Manager provides cached, structured access to per-user profiles stored in SQLite.
type Manager struct {
	store ProfileStore
	clock Clock
	ttl   time.Duration

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

// NewManager creates a Manager with a 60-second cache TTL.
func NewManager(store ProfileStore) *Manager {
	return NewManagerWithClock(store, realClock{}, 60*time.Second)
}

// NewManagerWithClock creates a Manager with a custom clock (for testing).
func NewManagerWithClock(store ProfileStore, clock Clock, ttl time.Duration) *Manager {
	return &Manager{
		store: store,
		clock: clock,
		ttl:   ttl,
		cache: make(map[string]cacheEntry),
	}
}

// Get returns the profile of userID from cache or storage. A user with no
// stored keys gets an empty profile, not an error.
func (m *Manager) Get(userID string) (Profile, error) {
	m.mu.RLock()
	if e, ok := m.cache[userID]; ok && m.clock.Now().Before(e.cachedAt.Add(m.ttl)) {
		p := deepCopyProfile(e.profile)
		m.mu.RUnlock()
		return p, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.cache[userID]; ok && m.clock.Now().Before(e.cachedAt.Add(m.ttl)) {
		return deepCopyProfile(e.profile), nil
	}

	keys, err := m.store.GetAllProfileKeys(userID)
	if err != nil {
		return Profile{}, fmt.Errorf("loading profile keys for %s: %w", userID, err)
	}

	p := buildProfile(userID, keys)
	m.cache[userID] = cacheEntry{profile: p, cachedAt: m.clock.Now()}
	return deepCopyProfile(p), nil
}

// SetField persists one profile key and invalidates the user's cache entry.
// Non-string values are stored as JSON.
func (m *Manager) SetField(userID, key string, value any) error {
	return m.Save(userID, map[string]any{key: value})
}

// Save persists several profile keys at once.
func (m *Manager) Save(userID string, fields map[string]any) error {
	if userID == "" {
		return fmt.Errorf("user id is required")
	}

	encoded := make(map[string]string, len(fields))
	for key, value := range fields {
		if key == "" {
			return fmt.Errorf("empty profile key")
		}
		str, err := encodeValue(key, value)
		if err != nil {
			return err
		}
		encoded[key] = str
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cache, userID)

	keys := make([]string, 0, len(encoded))
	for k := range encoded {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := m.store.SetProfileKey(userID, k, encoded[k]); err != nil {
			return fmt.Errorf("setting profile key %q: %w", k, err)
		}
	}
	return nil
}

func encodeValue(key string, value any) (string, error) {
	switch v := value.(type) {
	case string:
		if key == KeyHealthConditions && !strings.HasPrefix(strings.TrimSpace(v), "[") {
			return encodeValue(key, splitList(v))
		}
		return v, nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("marshalling value for key %q: %w", key, err)
		}
		return string(b), nil
	}
}

// splitList turns "asthma, diabetes" into ["asthma", "diabetes"].
func splitList(s string) []string {
	out := []string{}
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// maxSummaryChars caps the summary to stay under ~500 tokens (4 chars/token).
const maxSummaryChars = 2000

// Summarize returns a compact representation of the profile for injection into
// prompts. The report text itself is left out; only its presence is noted.
func Summarize(p Profile) string {
	var parts []string

	if p.Age != "" {
		parts = append(parts, fmt.Sprintf("Age: %s.", p.Age))
	}
	if p.Weight != "" {
		parts = append(parts, fmt.Sprintf("Weight: %s.", p.Weight))
	}
	if p.Height != "" {
		parts = append(parts, fmt.Sprintf("Height: %s.", p.Height))
	}
	if p.DietType != "" {
		parts = append(parts, fmt.Sprintf("Diet: %s.", p.DietType))
	}
	if p.Goal != "" {
		parts = append(parts, fmt.Sprintf("Goal: %s.", p.Goal))
	}
	if len(p.HealthConditions) > 0 {
		parts = append(parts, fmt.Sprintf("Health conditions: %s.", strings.Join(p.HealthConditions, ", ")))
	}
	if p.MedicalReportName != "" {
		parts = append(parts, fmt.Sprintf("Medical report on file: %s.", p.MedicalReportName))
	}

	if len(p.Extra) > 0 {
		keys := make([]string, 0, len(p.Extra))
		for k := range p.Extra {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s: %s.", k, p.Extra[k]))
		}
	}

	if len(parts) == 0 {
		return "User profile: not yet provided."
	}

	summary := strings.Join(parts, " ")
	if len(summary) > maxSummaryChars {
		end := maxSummaryChars
		for end > 0 && !utf8.RuneStart(summary[end]) {
			end--
		}
		if idx := strings.LastIndex(summary[:end], " "); idx > 0 {
			summary = summary[:idx]
		} else {
			summary = summary[:end]
		}
	}
	return summary
}

func deepCopyProfile(p Profile) Profile {
	cp := p
	if p.HealthConditions != nil {
		cp.HealthConditions = make([]string, len(p.HealthConditions))
		copy(cp.HealthConditions, p.HealthConditions)
	}
	if p.Extra != nil {
		cp.Extra = make(map[string]string, len(p.Extra))
		for k, v := range p.Extra {
			cp.Extra[k] = v
		}
	}
	return cp
}

// buildProfile assembles a Profile from flat key-value pairs. Unknown keys
// land in Extra.
func buildProfile(userID string, keys map[string]string) Profile {
	p := Profile{UserID: userID}
	for k, v := range keys {
		switch k {
		case KeyAge:
			p.Age = v
		case KeyWeight:
			p.Weight = v
		case KeyHeight:
			p.Height = v
		case KeyDietType:
			p.DietType = v
		case KeyGoal:
			p.Goal = v
		case KeyHealthConditions:
			if err := json.Unmarshal([]byte(v), &p.HealthConditions); err != nil {
				slog.Warn("malformed profile key, skipping", "user_id", userID, "key", k, "error", err)
			}
		case KeyMedicalReportName:
			p.MedicalReportName = v
		case KeyMedicalReportText:
			p.MedicalReportText = v
		default:
			if p.Extra == nil {
				p.Extra = make(map[string]string)
			}
			p.Extra[k] = v
		}
	}
	return p
}
