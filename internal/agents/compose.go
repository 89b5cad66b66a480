package agents

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/kalambet/wellnessd/internal/retrieval"
)

const defaultMaxContextTokens = 4000

// Composer renders specialist inputs into the user message of a chat
// request, keeping injected report context under a token budget.
type Composer struct {
	MaxContextTokens int
}

// NewComposer creates a Composer with the given token budget for injected
// context. If maxContextTokens <= 0, the default (4000) is used.
func NewComposer(maxContextTokens int) *Composer {
	if maxContextTokens <= 0 {
		maxContextTokens = defaultMaxContextTokens
	}
	return &Composer{MaxContextTokens: maxContextTokens}
}

// Section is one labelled block of prompt content.
type Section struct {
	Title string
	Body  string
}

// Compose joins sections as "[Title]\nbody" blocks, skipping empty bodies.
func (c *Composer) Compose(sections ...Section) string {
	var parts []string
	for _, s := range sections {
		if strings.TrimSpace(s.Body) == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf("[%s]\n%s", s.Title, strings.TrimSpace(s.Body)))
	}
	return strings.Join(parts, "\n\n")
}

// Excerpts renders report chunks best-first, dropping chunks that would
// exceed the budget left after reserved tokens.
func (c *Composer) Excerpts(chunks []retrieval.Chunk, reserved int) string {
	if len(chunks) == 0 {
		return ""
	}

	sorted := make([]retrieval.Chunk, len(chunks))
	copy(sorted, chunks)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Score > sorted[j].Score
	})

	remaining := c.MaxContextTokens - reserved
	var sb strings.Builder
	for _, ch := range sorted {
		entry := formatChunk(ch)
		tokens := EstimateTokens(entry)
		if tokens > remaining {
			continue
		}
		sb.WriteString(entry)
		remaining -= tokens
	}
	return strings.TrimSpace(sb.String())
}

func formatChunk(ch retrieval.Chunk) string {
	return fmt.Sprintf("(Score: %.2f, Source: %s #%d)\n%s\n\n", ch.Score, ch.Source, ch.Seq, ch.Text)
}

// Truncate cuts text to roughly maxTokens, on a word boundary when possible.
func Truncate(text string, maxTokens int) string {
	limit := maxTokens * 4
	if len(text) <= limit {
		return text
	}
	for limit > 0 && !utf8.RuneStart(text[limit]) {
		limit--
	}
	cut := text[:limit]
	if idx := strings.LastIndexAny(cut, " \n"); idx > limit/2 {
		cut = cut[:idx]
	}
	return strings.TrimSpace(cut) + " ..."
}

// EstimateTokens provides a rough token count using 4 chars per token heuristic.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
