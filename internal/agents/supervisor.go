package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/kalambet/wellnessd/internal/engine"
	"github.com/kalambet/wellnessd/internal/profile"
)

const supervisorPrompt = `You are the SUPERVISOR of a multi-agent digital wellness assistant.

Decide which ONE specialized agent should run NEXT. Reason about the user's
intent, profile, conversation history and the agent outputs already produced
in this turn; do not rely on keyword matching.

AVAILABLE AGENTS:
1. SymptomAgent: physical or mental symptoms, pain, fatigue, feeling unwell, medical reports.
2. DietAgent: food, nutrition, digestion, weight, diet plans.
3. FitnessAgent: exercise, workouts, stamina, muscle, posture.
4. LifestyleAgent: sleep, stress, habits, routines, burnout.

SELECTION GUIDELINES:
1. Health issues or pain: form a team, SymptomAgent, then DietAgent, then LifestyleAgent, then FitnessAgent.
2. A request for ONE thing (for example "diet plan"): call only that agent, then FINISH.
3. Never call an agent that already produced output in this turn. When the main need is met, FINISH.

OUTPUT FORMAT:
Return a JSON object with a single key "next_agent".
Example: {"next_agent": "SymptomAgent"} or {"next_agent": "FINISH"}`

// Supervisor is the decision oracle: it asks the model which specialist to
// run next. It has no side effects and may be called any number of times.
type Supervisor struct {
	chat     Chatter
	model    string
	composer *Composer
	choices  []Capability
}

// NewSupervisor builds a supervisor that offers the model the given
// capabilities, usually Registry.Names. With none it offers every known one.
func NewSupervisor(chat Chatter, model string, choices ...Capability) *Supervisor {
	if len(choices) == 0 {
		choices = Capabilities
	}
	return &Supervisor{chat: chat, model: model, composer: NewComposer(0), choices: choices}
}

// Decide returns the next capability. Model output is interpreted by
// ParseDecision; a failed model call returns Finish together with the error.
func (s *Supervisor) Decide(ctx context.Context, message string, p profile.Profile, state State) (Capability, error) {
	raw, err := s.chat.Chat(ctx, s.model, s.buildPrompt(message, p, state), decisionSchema(s.choices))
	if err != nil {
		return Finish, fmt.Errorf("supervisor decision: %w", err)
	}
	return ParseDecision(raw), nil
}

func (s *Supervisor) buildPrompt(message string, p profile.Profile, state State) []engine.Message {
	history := state[KeyConversation]
	if strings.TrimSpace(history) == "" {
		history = "No previous conversation yet."
	}
	intent := state[KeyIntent]
	if intent == "" {
		intent = "unknown"
	}

	content := s.composer.Compose(
		Section{Title: "Conversation History", Body: history},
		Section{Title: "Current User Message", Body: message},
		Section{Title: "User Profile", Body: profile.Summarize(p)},
		Section{Title: "Current Orchestration State", Body: state.Without(KeyConversation, KeyIntent).Render()},
		Section{Title: "User Intent", Body: intent},
	)
	return []engine.Message{
		{Role: engine.RoleSystem, Content: supervisorPrompt},
		{Role: engine.RoleUser, Content: content},
	}
}

func decisionSchema(choices []Capability) *engine.Schema {
	options := make([]string, 0, len(choices)+1)
	for _, c := range choices {
		options = append(options, string(c))
	}
	options = append(options, string(Finish))

	return &engine.Schema{
		Type: "object",
		Properties: map[string]engine.SchemaProperty{
			"next_agent": {Type: "string", Description: "The agent to run next, or FINISH", Enum: options},
		},
		Required: []string{"next_agent"},
	}
}
