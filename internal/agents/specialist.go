package agents

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kalambet/wellnessd/internal/engine"
	"github.com/kalambet/wellnessd/internal/profile"
	"github.com/kalambet/wellnessd/internal/retrieval"
)

// Chatter is the subset of engine.Engine the agents need.
type Chatter interface {
	Chat(ctx context.Context, model string, messages []engine.Message, jsonSchema *engine.Schema) (string, error)
}

// ReportRetriever finds the parts of a user's medical report relevant to a query.
type ReportRetriever interface {
	Retrieve(ctx context.Context, userID, query string, topK int) ([]retrieval.Chunk, error)
}

// noReportNote is shown to specialists that read the report when none exists.
const noReportNote = "No medical report has been uploaded."

// maxReportTokens bounds the raw report text used when no excerpts are indexed.
const maxReportTokens = 1500

// PromptSpecialist is an Invoker driven by a catalogue Spec: it renders the
// inputs the spec reads and sends them to the model.
type PromptSpecialist struct {
	spec     Spec
	chat     Chatter
	model    string
	reports  ReportRetriever
	topK     int
	composer *Composer
}

// SpecialistOptions configures specialists built from the catalogue.
type SpecialistOptions struct {
	Model   string
	Reports ReportRetriever // optional
	TopK    int
}

// NewPromptSpecialist builds the invoker for one catalogue entry.
func NewPromptSpecialist(spec Spec, chat Chatter, opts SpecialistOptions) *PromptSpecialist {
	topK := opts.TopK
	if topK <= 0 {
		topK = 3
	}
	return &PromptSpecialist{
		spec:     spec,
		chat:     chat,
		model:    opts.Model,
		reports:  opts.Reports,
		topK:     topK,
		composer: NewComposer(0),
	}
}

// NewCatalogRegistry builds a Registry with one PromptSpecialist per entry in
// the embedded catalogue.
func NewCatalogRegistry(chat Chatter, opts SpecialistOptions) (*Registry, error) {
	specs, err := LoadCatalog()
	if err != nil {
		return nil, err
	}
	specialists := make([]Specialist, 0, len(specs))
	for _, s := range specs {
		specialists = append(specialists, Specialist{
			Capability:   s.Name,
			StartMessage: s.Start,
			DoneMessage:  s.Done,
			Invoker:      NewPromptSpecialist(s, chat, opts),
		})
	}
	return NewRegistry(specialists...)
}

func (p *PromptSpecialist) Invoke(ctx context.Context, in Input) (string, error) {
	content, err := p.render(ctx, in)
	if err != nil {
		return "", err
	}
	out, err := p.chat.Chat(ctx, p.model, []engine.Message{
		{Role: engine.RoleSystem, Content: strings.TrimSpace(p.spec.Prompt)},
		{Role: engine.RoleUser, Content: content},
	}, nil)
	if err != nil {
		return "", fmt.Errorf("%s: %w", p.spec.Name, err)
	}
	return strings.TrimSpace(out), nil
}

func (p *PromptSpecialist) render(ctx context.Context, in Input) (string, error) {
	var sections []Section
	if p.spec.ReadsPart(ReadMessage) {
		sections = append(sections, Section{Title: "User Message", Body: in.Message})
	}
	if p.spec.ReadsPart(ReadProfile) {
		sections = append(sections, Section{Title: "User Profile", Body: profile.Summarize(in.Profile)})
	}
	if p.spec.ReadsPart(ReadState) {
		notes := in.State.Without(KeyConversation)
		sections = append(sections, Section{Title: "Previous Agent Notes", Body: notes.Render()})
	}
	if p.spec.ReadsPart(ReadReport) {
		report, err := p.reportContext(ctx, in)
		if err != nil {
			return "", err
		}
		sections = append(sections, Section{Title: "Medical Report", Body: report})
	}
	return p.composer.Compose(sections...), nil
}

// reportContext prefers indexed excerpts and falls back to the head of the
// stored report text while indexing is pending or unavailable.
func (p *PromptSpecialist) reportContext(ctx context.Context, in Input) (string, error) {
	if !in.Profile.HasReport() {
		return noReportNote, nil
	}

	if p.reports != nil {
		chunks, err := p.reports.Retrieve(ctx, in.UserID, in.Message, p.topK)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		if err != nil {
			slog.Warn("report retrieval failed, using stored text", "user_id", in.UserID, "error", err)
		} else if len(chunks) > 0 {
			return p.composer.Excerpts(chunks, 0), nil
		}
	}
	return Truncate(in.Profile.MedicalReportText, maxReportTokens), nil
}
