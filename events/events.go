// Package events defines the orchestration lifecycle events the engine
// emits and the Hook interface observers implement. Events are plain
// values with a JSON codec so they can cross a broker unchanged.
package events

import (
	"context"
	"fmt"

	"github.com/go-openapi/strfmt"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Event is implemented by every lifecycle event.
type Event interface {
	event()
	When() strfmt.DateTime
}

// QueryReceived opens an orchestration round.
type QueryReceived struct {
	RunID     uuid.UUID       `json:"run_id"`
	ProjectID string          `json:"project_id"`
	UserID    string          `json:"user_id"`
	Question  string          `json:"question"`
	Timestamp strfmt.DateTime `json:"timestamp"`
}

// ProviderResult reports one provider's outcome within a round.
type ProviderResult struct {
	RunID     uuid.UUID       `json:"run_id"`
	Provider  string          `json:"provider"`
	Status    string          `json:"status"`
	LatencyMS int64           `json:"latency_ms"`
	Timestamp strfmt.DateTime `json:"timestamp"`
}

// SynthesisReady closes a round with the moderator's verdict.
type SynthesisReady struct {
	RunID            uuid.UUID       `json:"run_id"`
	Quality          string          `json:"quality"`
	FallbackUsed     bool            `json:"fallback_used"`
	ProcessingTimeMS int64           `json:"processing_time_ms"`
	Timestamp        strfmt.DateTime `json:"timestamp"`
}

// OrchestrationFailed reports a round that could not complete.
type OrchestrationFailed struct {
	RunID     uuid.UUID       `json:"run_id"`
	Err       string          `json:"error"`
	Timestamp strfmt.DateTime `json:"timestamp"`
}

func (QueryReceived) event()       {}
func (ProviderResult) event()      {}
func (SynthesisReady) event()      {}
func (OrchestrationFailed) event() {}

func (e QueryReceived) When() strfmt.DateTime       { return e.Timestamp }
func (e ProviderResult) When() strfmt.DateTime      { return e.Timestamp }
func (e SynthesisReady) When() strfmt.DateTime      { return e.Timestamp }
func (e OrchestrationFailed) When() strfmt.DateTime { return e.Timestamp }

// Hook observes a round's lifecycle. Implementations must be safe for
// concurrent use; the engine invokes them from orchestration goroutines.
type Hook interface {
	OnQueryReceived(context.Context, QueryReceived)
	OnProviderResult(context.Context, ProviderResult)
	OnSynthesisReady(context.Context, SynthesisReady)
	OnOrchestrationFailed(context.Context, OrchestrationFailed)
}

// NoopHook ignores everything. Embed it to implement only part of Hook.
type NoopHook struct{}

func (NoopHook) OnQueryReceived(context.Context, QueryReceived)             {}
func (NoopHook) OnProviderResult(context.Context, ProviderResult)           {}
func (NoopHook) OnSynthesisReady(context.Context, SynthesisReady)           {}
func (NoopHook) OnOrchestrationFailed(context.Context, OrchestrationFailed) {}

type broadcastHook struct {
	hooks []Hook
}

// Broadcast fans every event out to all given hooks in order.
func Broadcast(hooks ...Hook) Hook {
	return &broadcastHook{hooks: hooks}
}

func (b *broadcastHook) OnQueryReceived(ctx context.Context, e QueryReceived) {
	for _, h := range b.hooks {
		h.OnQueryReceived(ctx, e)
	}
}

func (b *broadcastHook) OnProviderResult(ctx context.Context, e ProviderResult) {
	for _, h := range b.hooks {
		h.OnProviderResult(ctx, e)
	}
}

func (b *broadcastHook) OnSynthesisReady(ctx context.Context, e SynthesisReady) {
	for _, h := range b.hooks {
		h.OnSynthesisReady(ctx, e)
	}
}

func (b *broadcastHook) OnOrchestrationFailed(ctx context.Context, e OrchestrationFailed) {
	for _, h := range b.hooks {
		h.OnOrchestrationFailed(ctx, e)
	}
}

// Dispatch routes an event value to the matching hook callback.
func Dispatch(ctx context.Context, hook Hook, event Event) {
	switch e := event.(type) {
	case QueryReceived:
		hook.OnQueryReceived(ctx, e)
	case ProviderResult:
		hook.OnProviderResult(ctx, e)
	case SynthesisReady:
		hook.OnSynthesisReady(ctx, e)
	case OrchestrationFailed:
		hook.OnOrchestrationFailed(ctx, e)
	}
}

type envelope struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// ToJSON wraps an event in a kind-discriminated envelope.
func ToJSON(event Event) ([]byte, error) {
	var kind string
	switch event.(type) {
	case QueryReceived:
		kind = "query_received"
	case ProviderResult:
		kind = "provider_result"
	case SynthesisReady:
		kind = "synthesis_ready"
	case OrchestrationFailed:
		kind = "orchestration_failed"
	default:
		return nil, fmt.Errorf("unknown event type %T", event)
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Kind: kind, Payload: payload})
}

// FromJSON reverses ToJSON.
func FromJSON(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}

	switch env.Kind {
	case "query_received":
		var e QueryReceived
		return e, json.Unmarshal(env.Payload, &e)
	case "provider_result":
		var e ProviderResult
		return e, json.Unmarshal(env.Payload, &e)
	case "synthesis_ready":
		var e SynthesisReady
		return e, json.Unmarshal(env.Payload, &e)
	case "orchestration_failed":
		var e OrchestrationFailed
		return e, json.Unmarshal(env.Payload, &e)
	default:
		return nil, fmt.Errorf("unknown event kind %q", env.Kind)
	}
}
