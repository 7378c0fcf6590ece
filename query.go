package consejo

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"

	"github.com/consejo-ai/consejo/events"
	"github.com/consejo-ai/consejo/metrics"
	"github.com/consejo-ai/consejo/moderator"
	"github.com/consejo-ai/consejo/orchestrator"
	"github.com/consejo-ai/consejo/prompt"
	"github.com/consejo-ai/consejo/provider"
	"github.com/consejo-ai/consejo/store"
)

// QueryInput describes one orchestration round. Question is the only
// required field; everything else falls back to engine defaults.
type QueryInput struct {
	Question  string
	ProjectID string
	UserID    string

	// SessionID binds the round to a stored session: its accumulated
	// context feeds the prompt and the artifacts are persisted on it.
	SessionID string

	// Chunks are pre-ranked retrieval fragments. When both Chunks and
	// SessionID are given, Chunks win.
	Chunks []prompt.Chunk

	// Providers restricts the fan-out set; empty means all registered.
	Providers []string
	Strategy  orchestrator.Strategy

	MaxTokens   int
	Temperature float64
}

// QueryResult is the flattened outcome of a round, synthesis plus the raw
// per-provider responses.
type QueryResult struct {
	RunID               string                `json:"run_id"`
	SynthesisText       string                `json:"synthesis_text"`
	Quality             moderator.Quality     `json:"quality"`
	MetaAnalysisQuality moderator.MetaQuality `json:"meta_analysis_quality"`
	KeyThemes           []string              `json:"key_themes"`
	Contradictions      []string              `json:"contradictions"`
	ConsensusAreas      []string              `json:"consensus_areas"`
	Recommendations     []string              `json:"recommendations"`
	SuggestedQuestions  []string              `json:"suggested_questions"`
	ResearchAreas       []string              `json:"research_areas"`
	IndividualResponses []provider.Response   `json:"individual_responses"`
	ProcessingTimeMS    int64                 `json:"processing_time_ms"`
	FallbackUsed        bool                  `json:"fallback_used"`
	ContextInfo         string                `json:"context_info"`
}

// ProcessQuery runs one full round: assemble context, fan out to the
// providers, synthesize, persist. Provider failures never surface as Go
// errors; they fold into the synthesis quality and the individual
// responses. An error return means the round itself could not run.
func (e *Engine) ProcessQuery(ctx context.Context, in QueryInput) (*QueryResult, error) {
	if in.Question == "" {
		return nil, fmt.Errorf("question is required")
	}
	runID := uuid.New()
	interactionID := runID.String()
	start := now()

	e.collector.Begin(interactionID, in.ProjectID, in.UserID)
	e.hook.OnQueryReceived(ctx, events.QueryReceived{
		RunID:     runID,
		ProjectID: in.ProjectID,
		UserID:    in.UserID,
		Question:  in.Question,
		Timestamp: strfmt.DateTime(start),
	})

	t := now()
	p, contextInfo, err := e.assembleContext(ctx, in)
	if err != nil {
		e.collector.RecordError(interactionID, err.Error())
		e.collector.Finish(interactionID)
		e.hook.OnOrchestrationFailed(ctx, events.OrchestrationFailed{
			RunID: runID, Err: err.Error(), Timestamp: strfmt.DateTime(now()),
		})
		return nil, err
	}
	e.collector.RecordStep(interactionID, metrics.StepContextRetrieval, now().Sub(t))

	req := provider.Request{
		Prompt:        p.UserMessage,
		SystemMessage: p.SystemMessage,
		MaxTokens:     orDefault(in.MaxTokens, e.maxTokens),
		Temperature:   orDefaultF(in.Temperature, e.temperature),
		RunID:         runID,
		InteractionID: interactionID,
	}

	t = now()
	responses := e.dispatch(ctx, in, req)
	e.collector.RecordStep(interactionID, metrics.StepAIOrchestration, now().Sub(t))

	successes := 0
	for _, r := range responses {
		if r.Success() {
			successes++
		}
		e.hook.OnProviderResult(ctx, events.ProviderResult{
			RunID:     runID,
			Provider:  r.Provider,
			Status:    string(r.Status),
			LatencyMS: r.LatencyMS,
			Timestamp: strfmt.DateTime(now()),
		})
	}
	if successes == 0 {
		e.collector.RecordWarning(interactionID, "all providers failed")
		e.hook.OnOrchestrationFailed(ctx, events.OrchestrationFailed{
			RunID: runID, Err: "all providers failed", Timestamp: strfmt.DateTime(now()),
		})
	}

	t = now()
	synth := e.mod.Synthesize(ctx, in.Question, responses)
	e.collector.RecordStep(interactionID, metrics.StepModeratorSynthesis, now().Sub(t))
	e.collector.RecordCounters(interactionID, len(in.Chunks), successes, len(responses)-successes,
		string(synth.Quality), synth.FallbackUsed)
	e.hook.OnSynthesisReady(ctx, events.SynthesisReady{
		RunID:            runID,
		Quality:          string(synth.Quality),
		FallbackUsed:     synth.FallbackUsed,
		ProcessingTimeMS: synth.ProcessingTimeMS,
		Timestamp:        strfmt.DateTime(now()),
	})

	if e.db != nil && in.SessionID != "" {
		t = now()
		e.persistRound(ctx, in, p, responses, synth)
		e.collector.RecordStep(interactionID, metrics.StepBackgroundSave, now().Sub(t))
	}
	e.collector.Finish(interactionID)

	return &QueryResult{
		RunID:               interactionID,
		SynthesisText:       synth.SynthesisText,
		Quality:             synth.Quality,
		MetaAnalysisQuality: synth.MetaAnalysisQuality,
		KeyThemes:           synth.Components.KeyThemes,
		Contradictions:      synth.Components.Contradictions,
		ConsensusAreas:      synth.Components.ConsensusAreas,
		Recommendations:     synth.Components.Recommendations,
		SuggestedQuestions:  synth.Components.SuggestedQuestions,
		ResearchAreas:       synth.Components.ResearchAreas,
		IndividualResponses: responses,
		ProcessingTimeMS:    now().Sub(start).Milliseconds(),
		FallbackUsed:        synth.FallbackUsed,
		ContextInfo:         contextInfo,
	}, nil
}

// assembleContext resolves the prompt pair and a short description of where
// the context came from.
func (e *Engine) assembleContext(ctx context.Context, in QueryInput) (prompt.Prompt, string, error) {
	if len(in.Chunks) > 0 {
		p := e.prompts.BuildPrompt("", in.Question, in.Chunks)
		return p, fmt.Sprintf("%d fragmentos recuperados", len(in.Chunks)), nil
	}
	if in.SessionID != "" && e.db != nil {
		sess, err := e.db.GetSession(ctx, in.SessionID)
		if err != nil {
			return prompt.Prompt{}, "", err
		}
		if sess == nil {
			return prompt.Prompt{}, "", fmt.Errorf("session %s not found", in.SessionID)
		}
		p := e.prompts.BuildWithContext("", in.Question, sess.AccumulatedContext)
		return p, fmt.Sprintf("contexto de sesión (%d caracteres)", len(sess.AccumulatedContext)), nil
	}
	return e.prompts.BuildPrompt("", in.Question, nil), "sin contexto", nil
}

func (e *Engine) dispatch(ctx context.Context, in QueryInput, req provider.Request) []provider.Response {
	names := in.Providers
	if len(names) == 0 {
		names = e.orch.Providers()
	}
	strategy := in.Strategy
	if strategy == "" {
		strategy = e.strategy
	}
	switch strategy {
	case orchestrator.StrategySingle:
		return []provider.Response{e.orch.Single(ctx, names[0], req)}
	case orchestrator.StrategyFallback:
		return []provider.Response{e.orch.Fallback(ctx, names, req)}
	case orchestrator.StrategyFastest:
		return []provider.Response{e.orch.Fastest(ctx, names, req)}
	default:
		return e.orch.Parallel(ctx, names, req)
	}
}

// persistRound stores the prompt, the raw responses and the synthesis
// timeline event. Failures are warnings; the round already succeeded.
func (e *Engine) persistRound(ctx context.Context, in QueryInput, p prompt.Prompt, responses []provider.Response, synth moderator.Response) {
	rendered := p.SystemMessage + "\n\n" + p.UserMessage
	iaPrompt, err := e.db.SaveIAPrompt(ctx, in.ProjectID, in.SessionID, in.Question, rendered)
	if err != nil {
		slog.Warn("prompt save failed", "session_id", in.SessionID, "error", err.Error())
		return
	}
	if err := e.db.MarkIAPromptStatus(ctx, iaPrompt.ID, store.PromptExecuted); err != nil {
		slog.Warn("prompt status update failed", "prompt_id", iaPrompt.ID, "error", err.Error())
	}
	for _, r := range responses {
		if _, err := e.db.SaveIAResponse(ctx, iaPrompt.ID, r.Provider, r.Text, r.LatencyMS, r.ErrorMessage); err != nil {
			slog.Warn("response save failed", "provider", r.Provider, "error", err.Error())
		}
	}
	data := map[string]any{
		"quality":         string(synth.Quality),
		"fallback_used":   synth.FallbackUsed,
		"key_themes":      synth.Components.KeyThemes,
		"contradictions":  synth.Components.Contradictions,
		"consensus_areas": synth.Components.ConsensusAreas,
		"recommendations": synth.Components.Recommendations,
	}
	if _, err := e.db.CreateTimelineEvent(ctx, in.SessionID, store.EventModeratorSynthesis, synth.SynthesisText, data); err != nil {
		slog.Warn("timeline write failed", "session_id", in.SessionID, "error", err.Error())
	}
}

// Synthesize closes a session: it runs a full round over the session's
// accumulated context and final question, then completes the session with
// the synthesis appended to its context.
func (e *Engine) Synthesize(ctx context.Context, sessionID, finalQuestion string, in QueryInput) (*QueryResult, error) {
	if e.db == nil {
		return nil, fmt.Errorf("synthesize requires a store")
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
	question := finalQuestion
	if question == "" {
		question = sess.FinalQuestion
	}
	if question == "" {
		return nil, fmt.Errorf("session %s has no final question", sessionID)
	}

	in.Question = question
	in.SessionID = sessionID
	in.UserID = sess.UserID
	result, err := e.ProcessQuery(ctx, in)
	if err != nil {
		return nil, err
	}

	if _, err := e.db.FinalizeSessionWithSynthesis(ctx, sessionID, result.SynthesisText, question); err != nil {
		return nil, err
	}
	if _, err := e.db.CreateTimelineEvent(ctx, sessionID, store.EventSessionComplete, question, nil); err != nil {
		slog.Warn("timeline write failed", "session_id", sessionID, "error", err.Error())
	}
	return result, nil
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func orDefaultF(v, def float64) float64 {
	if v > 0 {
		return v
	}
	return def
}
