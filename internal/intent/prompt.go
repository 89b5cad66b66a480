package intent

import (
	"github.com/kalambet/wellnessd/internal/engine"
)

const systemPrompt = `You are the intent gate of a digital wellness assistant. Decide whether the user's message is within scope. Your output must be ONLY a single valid JSON object that conforms to the provided schema. Do not include any other text, prose, or markdown.

In scope (is_wellness = true):
- physical symptoms, pain, fatigue, sleep, stress or mood
- diet, nutrition, meals, hydration, weight
- exercise, fitness, workouts, mobility
- daily routine, habits and lifestyle
- questions about the user's uploaded medical report
- greetings or follow-ups that continue a wellness conversation

Out of scope (is_wellness = false): weather, news, coding, finance, travel, trivia and anything unrelated to personal health.

Categories: "symptom", "diet", "fitness", "lifestyle", "report", "general", "off_topic".

When unsure, prefer is_wellness = true.`

// BuildPrompt constructs the chat messages for intent classification.
func BuildPrompt(message string) []engine.Message {
	return []engine.Message{
		{Role: engine.RoleSystem, Content: systemPrompt},
		{Role: engine.RoleUser, Content: message},
	}
}

func resultSchema() *engine.Schema {
	return &engine.Schema{
		Type: "object",
		Properties: map[string]engine.SchemaProperty{
			"is_wellness": {Type: "boolean", Description: "Whether the message is a wellness request"},
			"category": {
				Type:        "string",
				Description: "Coarse topic of the message",
				Enum:        []string{"symptom", "diet", "fitness", "lifestyle", "report", "general", "off_topic"},
			},
			"reason": {Type: "string", Description: "One short sentence explaining the decision"},
		},
		Required: []string{"is_wellness", "category"},
	}
}
