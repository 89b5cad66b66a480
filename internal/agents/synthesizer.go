package agents

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kalambet/wellnessd/internal/engine"
)

const synthesizerPrompt = `You are the Synthesizer Agent.
Combine the agent outputs into a clean, structured health report that directly
answers the user's current question.

REQUIRED OUTPUT FORMAT (Markdown):

### Wellness Summary
Direct answer to the user's question first, then a brief summary of their condition.

### 🍽 Diet Plan
- Breakfast, lunch, dinner and snack ideas based on the diet notes
- Hydration: amount
- Avoid: list

### 🧘 Lifestyle & Sleep Tips
- Tip 1
- Tip 2
- Tip 3

### 🏃 Exercise Plan
- Warm-up: list
- Main: list
- Cooldown: list
- Avoid: list

### ⚠ Disclaimer
This is general wellness guidance and not a medical diagnosis.

Skip every section for which the agent outputs contain no data; always keep
the summary and the disclaimer. Smooth the text so it reads professionally.`

// ErrEmptySynthesis is returned when the model produces no report text.
var ErrEmptySynthesis = errors.New("synthesizer returned an empty response")

// Synthesizer merges the specialists' outputs into the final answer.
type Synthesizer struct {
	chat     Chatter
	model    string
	composer *Composer
}

func NewSynthesizer(chat Chatter, model string) *Synthesizer {
	return &Synthesizer{chat: chat, model: model, composer: NewComposer(0)}
}

// Synthesize renders only the non-empty specialist slots and the note, so any
// subset of keys yields a valid prompt.
func (s *Synthesizer) Synthesize(ctx context.Context, state State, message string) (string, error) {
	outputs := state.Without(KeyConversation, KeyIntent)
	content := s.composer.Compose(
		Section{Title: "User Question", Body: message},
		Section{Title: "Agent Outputs", Body: outputs.Render()},
	)

	out, err := s.chat.Chat(ctx, s.model, []engine.Message{
		{Role: engine.RoleSystem, Content: synthesizerPrompt},
		{Role: engine.RoleUser, Content: content},
	}, nil)
	if err != nil {
		return "", fmt.Errorf("synthesizing report: %w", err)
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", ErrEmptySynthesis
	}
	return out, nil
}

// ReviewNotes returns the progress messages announced before synthesis,
// depending on which specialists ran.
func ReviewNotes(used []Capability) []string {
	ran := make(map[Capability]bool, len(used))
	for _, c := range used {
		ran[c] = true
	}

	var notes []string
	if ran[Symptom] {
		notes = append(notes, "🔍 Reviewing symptom agent findings for accuracy...")
	}
	if ran[Symptom] && ran[Diet] {
		notes = append(notes, "📊 Cross-analyzing medical abnormalities with diet suggestions...")
	}
	if ran[Diet] && ran[Fitness] {
		notes = append(notes, "🥗 Verifying compatibility between nutrition and exercise agents...")
	}
	if ran[Lifestyle] {
		notes = append(notes, "🌙 Checking lifestyle advice for completeness...")
	}
	return append(notes,
		"💡 Integrating all agent insights into a unified health report...",
		"🧠 Finalizing evidence-based recommendations...",
	)
}
