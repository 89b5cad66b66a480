// Package agents holds the wellness specialists, the supervisor that picks
// the next one, and the synthesizer that merges their output.
package agents

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/kalambet/wellnessd/internal/profile"
)

// Capability names one specialist, or the Finish sentinel.
type Capability string

const (
	Symptom   Capability = "SymptomAgent"
	Diet      Capability = "DietAgent"
	Fitness   Capability = "FitnessAgent"
	Lifestyle Capability = "LifestyleAgent"

	// Finish ends the decision loop.
	Finish Capability = "FINISH"
)

// Capabilities lists every specialist in the order ties are broken when
// parsing free-form decisions.
var Capabilities = []Capability{Symptom, Diet, Fitness, Lifestyle}

var stateKeys = map[Capability]string{
	Symptom:   "symptoms",
	Diet:      "diet",
	Fitness:   "fitness",
	Lifestyle: "lifestyle",
}

// Fixed state keys written by the orchestrator.
const (
	KeyIntent       = "intent"
	KeyConversation = "conversation_history"
	KeyNote         = "note"
)

// StateKey returns the state slot a capability writes to, or "" for Finish
// and unknown names.
func (c Capability) StateKey() string {
	return stateKeys[c]
}

// Known reports whether c is one of the specialists.
func (c Capability) Known() bool {
	_, ok := stateKeys[c]
	return ok
}

// ParseCapability matches s case-insensitively against the specialist names
// and Finish.
func ParseCapability(s string) (Capability, bool) {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, string(Finish)) {
		return Finish, true
	}
	for _, c := range Capabilities {
		if strings.EqualFold(s, string(c)) {
			return c, true
		}
	}
	return "", false
}

// State is the per-turn scratchpad shared by the loop and the specialists,
// keyed by capability state key or one of the fixed keys.
type State map[string]string

// Clone returns an independent copy of s.
func (s State) Clone() State {
	cp := make(State, len(s))
	for k, v := range s {
		cp[k] = v
	}
	return cp
}

// Without returns a copy of s with the given keys removed.
func (s State) Without(keys ...string) State {
	cp := s.Clone()
	for _, k := range keys {
		delete(cp, k)
	}
	return cp
}

// Render formats the non-empty entries of s as labelled blocks in key order.
// An empty state renders as "(none)".
func (s State) Render() string {
	keys := make([]string, 0, len(s))
	for k, v := range s {
		if strings.TrimSpace(v) != "" {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return "(none)"
	}
	sort.Strings(keys)

	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "[%s]\n%s", k, strings.TrimSpace(s[k]))
	}
	return sb.String()
}

// Input is everything a specialist may read. Each specialist picks the
// subset it needs.
type Input struct {
	UserID  string
	Message string
	Profile profile.Profile
	State   State
}

// Invoker produces one specialist's contribution to a turn.
type Invoker interface {
	Invoke(ctx context.Context, in Input) (string, error)
}

// InvokerFunc adapts a function to Invoker.
type InvokerFunc func(ctx context.Context, in Input) (string, error)

func (f InvokerFunc) Invoke(ctx context.Context, in Input) (string, error) {
	return f(ctx, in)
}
