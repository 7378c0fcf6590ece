// Package consejo orchestrates one question across several AI providers and
// distills their answers into a single Spanish-language moderated synthesis.
//
// The Engine is the caller-facing surface. It composes the provider
// orchestrator, the moderator, the conversational context builder, the
// pre-analyst clarification manager, the SQLite persistence layer and the
// metrics collector; every operation the package exposes goes through it.
package consejo

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/fogfish/opts"

	"github.com/consejo-ai/consejo/contextbuilder"
	"github.com/consejo-ai/consejo/events"
	"github.com/consejo-ai/consejo/metrics"
	"github.com/consejo-ai/consejo/moderator"
	"github.com/consejo-ai/consejo/orchestrator"
	"github.com/consejo-ai/consejo/preanalyst"
	"github.com/consejo-ai/consejo/prompt"
	"github.com/consejo-ai/consejo/store"
)

const (
	defaultMaxTokens   = 1000
	defaultTemperature = 0.7
)

// Engine ties the orchestration round together. Construct it with New or
// FromEnv; the zero value is not usable.
type Engine struct {
	orch      *orchestrator.Orchestrator
	mod       *moderator.Engine
	prompts   *prompt.Manager
	builder   *contextbuilder.Builder
	clarifier *preanalyst.Manager
	collector *metrics.Collector
	db        *store.Store
	hook      events.Hook

	strategy    orchestrator.Strategy
	maxTokens   int
	temperature float64
}

var (
	// WithStore attaches the persistence layer. Without it the engine runs
	// stateless: rounds execute but nothing is recorded.
	WithStore = opts.ForName[Engine, *store.Store]("db")
	// WithHook receives the lifecycle events of every round.
	WithHook = opts.ForName[Engine, events.Hook]("hook")
	// WithStrategy sets the default fan-out strategy.
	WithStrategy = opts.ForName[Engine, orchestrator.Strategy]("strategy")
	// WithContextBuilder swaps the conversational context builder.
	WithContextBuilder = opts.ForName[Engine, *contextbuilder.Builder]("builder")
	// WithClarifier swaps the pre-analyst clarification manager.
	WithClarifier = opts.ForName[Engine, *preanalyst.Manager]("clarifier")
	// WithMaxTokens sets the per-provider completion budget.
	WithMaxTokens = opts.ForName[Engine, int]("maxTokens")
	// WithTemperature sets the per-provider sampling temperature.
	WithTemperature = opts.ForName[Engine, float64]("temperature")
)

// WithPromptBudget sets the character budget for accumulated context in the
// universal prompt template.
func WithPromptBudget(chars int) opts.Option[Engine] {
	return opts.Type[Engine](func(e *Engine) error {
		e.prompts = prompt.NewManager(chars)
		return nil
	})
}

// New builds an engine over a populated orchestrator and a moderator. The
// moderator may be degraded (nil synthesis client); the orchestrator must
// hold at least one provider.
func New(orch *orchestrator.Orchestrator, mod *moderator.Engine, options ...opts.Option[Engine]) (*Engine, error) {
	if orch == nil || len(orch.Providers()) == 0 {
		return nil, fmt.Errorf("at least one provider is required")
	}
	if mod == nil {
		mod = moderator.New(nil)
	}
	e := &Engine{
		orch:        orch,
		mod:         mod,
		prompts:     prompt.NewManager(0),
		builder:     contextbuilder.New(nil),
		clarifier:   preanalyst.NewManager(preanalyst.NewAnalyst(nil)),
		collector:   metrics.NewCollector(),
		hook:        events.NoopHook{},
		strategy:    orchestrator.StrategyParallel,
		maxTokens:   defaultMaxTokens,
		temperature: defaultTemperature,
	}
	if err := opts.Apply(e, options); err != nil {
		return nil, err
	}
	return e, nil
}

// Clarifier exposes the pre-analyst session manager for the optional
// clarification round before orchestration.
func (e *Engine) Clarifier() *preanalyst.Manager { return e.clarifier }

// Metrics exposes the collector, mainly for periodic cleanup.
func (e *Engine) Metrics() *metrics.Collector { return e.collector }

// Store exposes the persistence layer, or nil when running stateless.
func (e *Engine) Store() *store.Store { return e.db }

// SystemHealth aggregates provider health, today's success rate and the
// derived alert list.
func (e *Engine) SystemHealth() metrics.SystemHealth {
	return e.collector.Health(e.orch.HealthSnapshots())
}

// HealthChecks probes every registered provider with a minimal request.
func (e *Engine) HealthChecks(ctx context.Context) map[string]bool {
	return e.orch.HealthChecks(ctx)
}

// readyRe detects a user turn that signals the context phase is over.
var readyRe = regexp.MustCompile(`(?i)\b(listo|lista|procede|adelante|orquesta|orquestar|finaliza|finalizar)\b`)

const readyReply = "El contexto está listo. Indica la pregunta final para lanzar la orquestación."

// ChatResult is the outcome of one context-building turn.
type ChatResult struct {
	SessionID              string                     `json:"session_id"`
	Reply                  string                     `json:"ai_response"`
	MessageType            contextbuilder.MessageType `json:"message_type"`
	AccumulatedContext     string                     `json:"accumulated_context"`
	Suggestions            []string                   `json:"suggestions,omitempty"`
	ContextElements        int                        `json:"context_elements_count"`
	SuggestedFinalQuestion string                     `json:"suggested_final_question,omitempty"`
}

// ContextChat processes one conversational turn against the chat's active
// session, creating the session on demand. Context mutations are persisted;
// timeline writes are best-effort and never fail the turn.
func (e *Engine) ContextChat(ctx context.Context, chatID, userID, userMessage string) (*ChatResult, error) {
	if e.db == nil {
		return nil, fmt.Errorf("context chat requires a store")
	}
	sess, err := e.db.GetActiveSession(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		sess, err = e.db.CreateSession(ctx, chatID, userID, "")
		if err != nil {
			return nil, err
		}
	}

	if sess.AccumulatedContext != "" && readyRe.MatchString(userMessage) {
		e.recordTurn(ctx, sess.ID, userMessage, readyReply, string(contextbuilder.TypeReady))
		return &ChatResult{
			SessionID:          sess.ID,
			Reply:              readyReply,
			MessageType:        contextbuilder.TypeReady,
			AccumulatedContext: sess.AccumulatedContext,
		}, nil
	}

	turn := e.builder.ProcessTurn(ctx, sess.AccumulatedContext, userMessage)
	if turn.Context != sess.AccumulatedContext {
		if sess, err = e.db.UpdateSessionContext(ctx, sess.ID, turn.Context); err != nil {
			return nil, err
		}
		if _, err := e.db.CreateTimelineEvent(ctx, sess.ID, store.EventContextUpdate, turn.Context, nil); err != nil {
			slog.Warn("timeline write failed", "session_id", sess.ID, "error", err.Error())
		}
	}
	e.recordTurn(ctx, sess.ID, userMessage, turn.Reply, string(turn.MessageType))

	return &ChatResult{
		SessionID:              sess.ID,
		Reply:                  turn.Reply,
		MessageType:            turn.MessageType,
		AccumulatedContext:     turn.Context,
		Suggestions:            turn.Suggestions,
		ContextElements:        turn.ContextElements,
		SuggestedFinalQuestion: turn.SuggestedFinalQuestion,
	}, nil
}

func (e *Engine) recordTurn(ctx context.Context, sessionID, userMessage, reply, messageType string) {
	if _, err := e.db.CreateTimelineEvent(ctx, sessionID, store.EventUserMessage, userMessage, nil); err != nil {
		slog.Warn("timeline write failed", "session_id", sessionID, "error", err.Error())
	}
	data := map[string]any{"message_type": messageType}
	if _, err := e.db.CreateTimelineEvent(ctx, sessionID, store.EventAIResponse, reply, data); err != nil {
		slog.Warn("timeline write failed", "session_id", sessionID, "error", err.Error())
	}
}

// FinalizeResult reports whether a session holds enough to orchestrate.
type FinalizeResult struct {
	Session               *store.Session `json:"session"`
	ReadyForOrchestration bool           `json:"ready_for_orchestration"`
}

// Finalize records the final question on an active session without
// completing it; Synthesize completes it.
func (e *Engine) Finalize(ctx context.Context, sessionID, finalQuestion string) (*FinalizeResult, error) {
	if e.db == nil {
		return nil, fmt.Errorf("finalize requires a store")
	}
	sess, err := e.db.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, fmt.Errorf("session %s not found", sessionID)
	}
	if sess.Status != store.SessionActive {
		return nil, fmt.Errorf("session %s is not active", sessionID)
	}
	sess, err = e.db.UpdateSessionStatus(ctx, sessionID, store.SessionActive, finalQuestion)
	if err != nil {
		return nil, err
	}
	return &FinalizeResult{
		Session:               sess,
		ReadyForOrchestration: sess.AccumulatedContext != "" || sess.FinalQuestion != "",
	}, nil
}

// IncludeSynthesis injects a moderated synthesis into a session's working
// context under the analysis header. The injection is idempotent.
func (e *Engine) IncludeSynthesis(ctx context.Context, sessionID string, synth moderator.Response) (*store.Session, error) {
	if e.db == nil {
		return nil, fmt.Errorf("synthesis injection requires a store")
	}
	sess, err := e.db.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, fmt.Errorf("session %s not found", sessionID)
	}
	enriched := contextbuilder.IncludeModeratorSynthesis(
		sess.AccumulatedContext, synth.SynthesisText,
		synth.Components.KeyThemes, synth.Components.Recommendations)
	if enriched == sess.AccumulatedContext {
		return sess, nil
	}
	return e.db.UpdateSessionContext(ctx, sessionID, enriched)
}

// GeneratePrompt renders the universal template over a session's
// accumulated context and persists it for later editing and execution.
func (e *Engine) GeneratePrompt(ctx context.Context, projectID, sessionID, targetQuery string) (*store.IAPrompt, error) {
	if e.db == nil {
		return nil, fmt.Errorf("prompt generation requires a store")
	}
	sess, err := e.db.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, fmt.Errorf("session %s not found", sessionID)
	}
	p := e.prompts.BuildWithContext("", targetQuery, sess.AccumulatedContext)
	rendered := p.SystemMessage + "\n\n" + p.UserMessage
	return e.db.SaveIAPrompt(ctx, projectID, sessionID, targetQuery, rendered)
}

// now is swapped in tests that assert step timings.
var now = time.Now
