package moderator

import (
	"context"
	"log/slog"
	"time"

	"github.com/consejo-ai/consejo/provider"
	"github.com/fogfish/opts"
)

const (
	defaultMaxTokens   = 1200
	defaultTemperature = 0.3
)

// Engine runs the meta-analysis pipeline. A nil synthesis client puts the
// engine in degraded mode: every round resolves through fallback selection.
type Engine struct {
	synth       *provider.Client
	maxTokens   int
	temperature float64
}

var (
	// WithMaxTokens overrides the synthesis token budget. The budget does
	// not scale with the number of input answers.
	WithMaxTokens = opts.ForName[Engine, int]("maxTokens")
	// WithTemperature overrides the synthesis sampling temperature.
	WithTemperature = opts.ForName[Engine, float64]("temperature")
)

// New builds a moderator around the given synthesis client. Pass nil to run
// in degraded mode.
func New(synth *provider.Client, options ...opts.Option[Engine]) *Engine {
	e := &Engine{
		synth:       synth,
		maxTokens:   defaultMaxTokens,
		temperature: defaultTemperature,
	}
	if err := opts.Apply(e, options); err != nil {
		panic(err)
	}
	return e
}

// Degraded reports whether no synthesis model is available.
func (e *Engine) Degraded() bool { return e.synth == nil }

// Synthesize produces the moderated synthesis for one orchestration round.
// It never returns an error: degraded paths yield a fallback Response.
func (e *Engine) Synthesize(ctx context.Context, query string, responses []provider.Response) Response {
	start := time.Now()

	successes := make([]provider.Response, 0, len(responses))
	for _, r := range responses {
		if r.Success() {
			successes = append(successes, r)
		}
	}

	out := e.synthesize(ctx, query, responses, successes)
	out.SuccessfulResponses = len(successes)
	out.ProcessingTimeMS = time.Since(start).Milliseconds()
	if out.Components.SourceReferences == nil {
		out.Components.SourceReferences = make(map[string][]string)
	}
	return out
}

func (e *Engine) synthesize(ctx context.Context, query string, responses, successes []provider.Response) Response {
	switch {
	case len(responses) == 0:
		return Response{
			SynthesisText:       "No hay respuestas para sintetizar.",
			Quality:             QualityFailed,
			MetaAnalysisQuality: MetaError,
			FallbackUsed:        true,
		}

	case len(successes) == 0:
		best, _ := selectFallback(responses)
		return Response{
			SynthesisText:       wrapFallback(best),
			Quality:             QualityLow,
			MetaAnalysisQuality: MetaError,
			FallbackUsed:        true,
		}

	case len(successes) == 1:
		return Response{
			SynthesisText:       wrapSingle(successes[0]),
			Quality:             QualityMedium,
			MetaAnalysisQuality: MetaIncomplete,
		}
	}

	if e.synth == nil {
		slog.Warn("moderator degraded: no synthesis model available")
		return e.fallbackResponse(successes)
	}

	resp := e.synth.Complete(ctx, provider.Request{
		Prompt:        buildSynthesisPrompt(query, successes),
		SystemMessage: synthesisSystem,
		MaxTokens:     e.maxTokens,
		Temperature:   e.temperature,
	})
	if !resp.Success() {
		slog.Warn("synthesis call failed, selecting fallback",
			slog.String("status", string(resp.Status)),
			slog.String("error", resp.ErrorMessage),
		)
		return e.fallbackResponse(successes)
	}

	if ok, reason := validateSynthesis(resp.Text); !ok {
		slog.Warn("synthesis rejected by quality gate", slog.String("reason", reason))
		out := e.fallbackResponse(successes)
		out.Quality = QualityLow
		return out
	}

	components := extractComponents(resp.Text)
	return Response{
		SynthesisText:       resp.Text,
		Quality:             grade(resp.Text, components),
		MetaAnalysisQuality: metaQuality(components),
		Components:          components,
	}
}

func (e *Engine) fallbackResponse(successes []provider.Response) Response {
	best, _ := selectFallback(successes)
	return Response{
		SynthesisText:       wrapFallback(best),
		Quality:             QualityLow,
		MetaAnalysisQuality: MetaError,
		FallbackUsed:        true,
	}
}
