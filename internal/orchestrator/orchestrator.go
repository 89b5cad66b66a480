// Package orchestrator runs one conversation turn: it gates the message on
// intent, lets the supervisor pick specialists one at a time under a step
// budget, and synthesizes their output into the final answer.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kalambet/wellnessd/internal/agents"
	"github.com/kalambet/wellnessd/internal/intent"
	"github.com/kalambet/wellnessd/internal/profile"
	"github.com/kalambet/wellnessd/internal/storage"
)

// RefusalText is returned for messages outside the wellness domain.
const RefusalText = "This message is not related to wellness. I only help with basic health, diet, fitness and lifestyle tips."

// MaxStepsNote is written to the note slot when the step budget runs out
// before the supervisor finishes.
const MaxStepsNote = "Orchestration stopped automatically: reached max steps without FINISH."

var (
	// ErrSynthesis means the final answer could not be produced. Nothing was persisted.
	ErrSynthesis = errors.New("synthesis failed")
	// ErrPersist means the turn was answered but could not be stored.
	ErrPersist = errors.New("persisting turn failed")
)

const (
	defaultMaxSteps         = 8
	defaultClassifyTimeout  = 10 * time.Second
	defaultStepTimeout      = 30 * time.Second
	defaultSynthesisTimeout = 60 * time.Second
)

// Classifier decides whether a message is in the wellness domain.
type Classifier interface {
	Classify(ctx context.Context, message string) (intent.Result, error)
}

// Oracle picks the next capability, or agents.Finish.
type Oracle interface {
	Decide(ctx context.Context, message string, p profile.Profile, state agents.State) (agents.Capability, error)
}

// Synthesizer merges the turn state into the user-facing answer.
type Synthesizer interface {
	Synthesize(ctx context.Context, state agents.State, message string) (string, error)
}

// ProfileSource loads a user's wellness profile.
type ProfileSource interface {
	Get(userID string) (profile.Profile, error)
}

// Conversation is the per-user conversation memory.
type Conversation interface {
	Lock(ctx context.Context, userID string) (func(), error)
	Context(userID string) string
	Append(userID, message, response string)
}

// TurnStore persists completed turns.
type TurnStore interface {
	SaveTurn(t storage.Turn) error
}

// Config bounds a turn. Zero values fall back to the defaults.
type Config struct {
	MaxSteps         int
	ClassifyTimeout  time.Duration
	StepTimeout      time.Duration
	SynthesisTimeout time.Duration
}

// Deps are the collaborators of the loop. Metrics is optional.
type Deps struct {
	Classifier   Classifier
	Oracle       Oracle
	Registry     *agents.Registry
	Synthesizer  Synthesizer
	Profiles     ProfileSource
	Conversation Conversation
	Turns        TurnStore
	Metrics      *Metrics
}

// Result is the outcome of one turn.
type Result struct {
	TurnID     string
	Response   string
	AgentsUsed []agents.Capability
	Log        []storage.LogEntry
	Rejected   bool
}

// AgentNames returns AgentsUsed as plain strings.
func (r Result) AgentNames() []string {
	names := make([]string, len(r.AgentsUsed))
	for i, c := range r.AgentsUsed {
		names[i] = string(c)
	}
	return names
}

// Orchestrator runs turns. It is safe for concurrent use; turns of the same
// user are serialized through Conversation.Lock.
type Orchestrator struct {
	cfg    Config
	deps   Deps
	tracer trace.Tracer
	newID  func() string
	now    func() time.Time
}

func New(cfg Config, deps Deps) *Orchestrator {
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = defaultMaxSteps
	}
	if cfg.ClassifyTimeout <= 0 {
		cfg.ClassifyTimeout = defaultClassifyTimeout
	}
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = defaultStepTimeout
	}
	if cfg.SynthesisTimeout <= 0 {
		cfg.SynthesisTimeout = defaultSynthesisTimeout
	}
	return &Orchestrator{
		cfg:    cfg,
		deps:   deps,
		tracer: otel.Tracer("github.com/kalambet/wellnessd/internal/orchestrator"),
		newID:  func() string { return uuid.New().String() },
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Run handles one user message. Progress events go to sink, which may be nil.
//
// A cancelled ctx returns ctx.Err() and persists nothing. ErrSynthesis is
// returned with an empty Result; ErrPersist is returned together with the
// computed Result.
func (o *Orchestrator) Run(ctx context.Context, userID, message string, sink Sink) (res Result, err error) {
	start := time.Now()
	steps := 0
	ctx, span := o.tracer.Start(ctx, "orchestrator.turn", trace.WithAttributes(attribute.String("user_id", userID)))
	defer func() {
		o.deps.Metrics.turn(outcomeOf(err, res), start, steps)
		span.SetAttributes(attribute.Int("steps", steps), attribute.StringSlice("agents_used", res.AgentNames()))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	unlock, err := o.deps.Conversation.Lock(ctx, userID)
	if err != nil {
		return Result{}, err
	}
	defer unlock()

	rec := newRecorder(sink)

	rec.emit(SourceSystem, "Loading user profile...")
	p, err := o.deps.Profiles.Get(userID)
	if err != nil {
		return Result{}, fmt.Errorf("loading profile for %s: %w", userID, err)
	}

	rec.emit(SourceSystem, "Classifying intent...")
	verdict, err := o.classify(ctx, message)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, ctxErr
		}
		slog.Warn("intent classification failed, assuming wellness", "user_id", userID, "error", err)
		rec.emit(SourceSystem, "Error classifying intent, proceeding as wellness.")
		verdict = intent.Result{IsWellness: true, Category: "general"}
	}

	if !verdict.IsWellness {
		res = Result{Response: RefusalText, AgentsUsed: []agents.Capability{}, Rejected: true}
		return o.finish(ctx, userID, message, res, rec)
	}

	state := agents.State{
		agents.KeyIntent:       verdict.String(),
		agents.KeyConversation: o.deps.Conversation.Context(userID),
	}

	used, finished, err := o.loop(ctx, userID, message, p, state, rec, &steps)
	if err != nil {
		return Result{}, err
	}
	if !finished {
		state[agents.KeyNote] = MaxStepsNote
	}

	rec.emit(SourceSynthesizer, "Combining All Agent Evaluations...")
	for _, note := range agents.ReviewNotes(used) {
		rec.emit(SourceSynthesizer, note)
	}

	response, err := o.synthesize(ctx, state, message)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, ctxErr
		}
		slog.Warn("synthesis failed", "user_id", userID, "error", err)
		return Result{}, fmt.Errorf("%w: %w", ErrSynthesis, err)
	}

	res = Result{Response: response, AgentsUsed: used}
	return o.finish(ctx, userID, message, res, rec)
}

// loop drives the supervisor and specialists until FINISH or the step
// budget runs out. It only returns an error when ctx is done.
func (o *Orchestrator) loop(ctx context.Context, userID, message string, p profile.Profile, state agents.State, rec *recorder, steps *int) ([]agents.Capability, bool, error) {
	used := []agents.Capability{}
	ran := make(map[agents.Capability]bool)

	for *steps < o.cfg.MaxSteps {
		if err := ctx.Err(); err != nil {
			return nil, false, err
		}
		*steps++

		rec.emit(SourceSupervisor, "Deciding next step...")
		next, err := o.decide(ctx, message, p, state)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, false, ctxErr
			}
			slog.Warn("supervisor failed, finishing turn", "user_id", userID, "step", *steps, "error", err)
			next = agents.Finish
		}
		o.deps.Metrics.decision(string(next))

		if next == agents.Finish {
			rec.emit(SourceSupervisor, "Analysis complete.")
			return used, true, nil
		}

		specialist, ok := o.deps.Registry.Get(next)
		if !ok {
			slog.Warn("supervisor chose an unregistered capability", "user_id", userID, "capability", next)
			rec.emit(SourceSupervisor, fmt.Sprintf("Skipping %s (unknown capability).", next))
			continue
		}
		if ran[next] {
			o.deps.Metrics.invocation(string(next), "skipped")
			rec.emit(SourceSupervisor, fmt.Sprintf("Skipping %s (already ran).", next))
			continue
		}

		rec.emit(string(next), specialist.StartMessage)
		out, err := o.invoke(ctx, specialist, agents.Input{
			UserID:  userID,
			Message: message,
			Profile: p,
			State:   state.Clone(),
		})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, false, ctxErr
			}
			slog.Warn("specialist failed", "user_id", userID, "capability", next, "error", err)
			o.deps.Metrics.invocation(string(next), "error")
			out = fmt.Sprintf("[%s unavailable: %v]", next, err)
		} else {
			o.deps.Metrics.invocation(string(next), "ok")
		}

		state[next.StateKey()] = out
		ran[next] = true
		used = append(used, next)
		rec.emit(string(next), specialist.DoneMessage)
	}
	return used, false, nil
}

// finish persists the turn and updates conversation memory. A cancelled ctx
// skips both.
func (o *Orchestrator) finish(ctx context.Context, userID, message string, res Result, rec *recorder) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	res.TurnID = o.newID()
	res.Log = rec.entries()

	_, span := o.tracer.Start(ctx, "orchestrator.persist")
	err := o.deps.Turns.SaveTurn(storage.Turn{
		ID:                res.TurnID,
		UserID:            userID,
		CreatedAt:         o.now(),
		UserMessage:       message,
		AssistantResponse: res.Response,
		AgentsUsed:        res.AgentNames(),
		ReasoningLogs:     res.Log,
	})
	span.End()
	if err != nil {
		slog.Error("saving turn", "user_id", userID, "turn_id", res.TurnID, "error", err)
		// The id was never stored; callers must not hand it out.
		res.TurnID = ""
		return res, fmt.Errorf("%w: %w", ErrPersist, err)
	}

	o.deps.Conversation.Append(userID, message, res.Response)
	return res, nil
}

func (o *Orchestrator) classify(ctx context.Context, message string) (intent.Result, error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.classify")
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, o.cfg.ClassifyTimeout)
	defer cancel()

	r, err := o.deps.Classifier.Classify(ctx, message)
	if err != nil {
		span.RecordError(err)
		return intent.Result{}, err
	}
	span.SetAttributes(attribute.Bool("is_wellness", r.IsWellness), attribute.String("category", r.Category))
	return r, nil
}

func (o *Orchestrator) decide(ctx context.Context, message string, p profile.Profile, state agents.State) (agents.Capability, error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.decide")
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, o.cfg.StepTimeout)
	defer cancel()

	next, err := o.deps.Oracle.Decide(ctx, message, p, state.Clone())
	if err != nil {
		span.RecordError(err)
		return agents.Finish, err
	}
	span.SetAttributes(attribute.String("next", string(next)))
	return next, nil
}

func (o *Orchestrator) invoke(ctx context.Context, s agents.Specialist, in agents.Input) (string, error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.invoke", trace.WithAttributes(attribute.String("capability", string(s.Capability))))
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, o.cfg.StepTimeout)
	defer cancel()

	out, err := s.Invoker.Invoke(ctx, in)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return out, err
}

func (o *Orchestrator) synthesize(ctx context.Context, state agents.State, message string) (string, error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.synthesize")
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, o.cfg.SynthesisTimeout)
	defer cancel()

	out, err := o.deps.Synthesizer.Synthesize(ctx, state.Clone(), message)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return out, err
}

func outcomeOf(err error, res Result) string {
	switch {
	case err == nil && res.Rejected:
		return outcomeRejected
	case err == nil:
		return outcomeCompleted
	case errors.Is(err, ErrSynthesis):
		return outcomeSynthesisError
	case errors.Is(err, ErrPersist):
		return outcomePersistError
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return outcomeCanceled
	default:
		return outcomeError
	}
}
