package consejo

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/fogfish/opts"
	"github.com/nats-io/nats.go"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/consejo-ai/consejo/contextbuilder"
	"github.com/consejo-ai/consejo/events"
	"github.com/consejo-ai/consejo/internal/broker"
	"github.com/consejo-ai/consejo/moderator"
	"github.com/consejo-ai/consejo/orchestrator"
	"github.com/consejo-ai/consejo/preanalyst"
	"github.com/consejo-ai/consejo/provider"
	"github.com/consejo-ai/consejo/provider/anthropic"
	oaiprovider "github.com/consejo-ai/consejo/provider/openai"
	"github.com/consejo-ai/consejo/store"
)

const (
	defaultTimeout    = 25 * time.Second
	defaultMaxRetries = 3
)

// Config is the environment-driven wiring of an engine. Zero values select
// the defaults; a missing provider key simply leaves that provider out.
type Config struct {
	OpenAIKey    string
	AnthropicKey string
	Timeout      time.Duration
	MaxRetries   int
	DBPath       string
	NATSURL      string
}

// ConfigFromEnv reads OPENAI_API_KEY, ANTHROPIC_API_KEY,
// CONSEJO_TIMEOUT_SECONDS, CONSEJO_MAX_RETRIES, CONSEJO_DB and NATS_URL.
func ConfigFromEnv() Config {
	cfg := Config{
		OpenAIKey:    os.Getenv("OPENAI_API_KEY"),
		AnthropicKey: os.Getenv("ANTHROPIC_API_KEY"),
		Timeout:      defaultTimeout,
		MaxRetries:   defaultMaxRetries,
		DBPath:       os.Getenv("CONSEJO_DB"),
		NATSURL:      os.Getenv("NATS_URL"),
	}
	if v, err := strconv.Atoi(os.Getenv("CONSEJO_TIMEOUT_SECONDS")); err == nil && v > 0 {
		cfg.Timeout = time.Duration(v) * time.Second
	}
	if v, err := strconv.Atoi(os.Getenv("CONSEJO_MAX_RETRIES")); err == nil && v > 0 {
		cfg.MaxRetries = v
	}
	return cfg
}

// FromEnv builds a fully wired engine from the environment.
func FromEnv(options ...opts.Option[Engine]) (*Engine, error) {
	return ConfigFromEnv().Build(options...)
}

// Build assembles the engine: one retrying client per configured provider,
// a cheap synthesis model for the moderator, the conversational builder and
// pre-analyst on OpenAI when available, SQLite persistence and the NATS
// event bridge when configured. Explicit options win over the config.
func (cfg Config) Build(options ...opts.Option[Engine]) (*Engine, error) {
	clientOpts := []opts.Option[provider.Client]{
		provider.WithTimeout(cfg.Timeout),
		provider.WithMaxAttempts(cfg.MaxRetries),
	}

	var clients []*provider.Client
	if cfg.OpenAIKey != "" {
		clients = append(clients, provider.NewClient(oaiprovider.New(cfg.OpenAIKey), clientOpts...))
	}
	if cfg.AnthropicKey != "" {
		clients = append(clients, provider.NewClient(anthropic.New(cfg.AnthropicKey), clientOpts...))
	}
	if len(clients) == 0 {
		return nil, fmt.Errorf("no provider credentials configured")
	}
	orch := orchestrator.New(clients...)

	// The moderator runs on the cheapest capable model: Haiku when
	// Anthropic is configured, gpt-4o-mini otherwise. Without either the
	// moderator degrades to fallback selection.
	var synth *provider.Client
	switch {
	case cfg.AnthropicKey != "":
		synth = provider.NewClient(
			anthropic.New(cfg.AnthropicKey, anthropic.WithModel(anthropic.HaikuModel)), clientOpts...)
	case cfg.OpenAIKey != "":
		synth = provider.NewClient(
			oaiprovider.New(cfg.OpenAIKey, oaiprovider.WithModel(oaiprovider.CheapModel)), clientOpts...)
	}
	mod := moderator.New(synth)

	var engineOpts []opts.Option[Engine]
	if cfg.OpenAIKey != "" {
		oa := openai.NewClient(option.WithAPIKey(cfg.OpenAIKey))
		engineOpts = append(engineOpts,
			WithContextBuilder(contextbuilder.New(oa)),
			WithClarifier(preanalyst.NewManager(preanalyst.NewAnalyst(oa))))
	}
	if cfg.DBPath != "" {
		db, err := store.Open(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("store open failed: %w", err)
		}
		engineOpts = append(engineOpts, WithStore(db))
	}
	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL)
		if err != nil {
			return nil, fmt.Errorf("nats connect failed: %w", err)
		}
		topic := broker.NATS(nc).Topic(context.Background(), "consejo.rounds")
		engineOpts = append(engineOpts, WithHook(PublishHook(topic)))
	}
	engineOpts = append(engineOpts, options...)

	return New(orch, mod, engineOpts...)
}

// PublishHook forwards every lifecycle event onto a broker topic. Publish
// errors are dropped; event delivery never blocks a round.
func PublishHook(topic broker.Topic) events.Hook {
	return publishHook{topic: topic}
}

type publishHook struct {
	topic broker.Topic
}

func (h publishHook) OnQueryReceived(ctx context.Context, e events.QueryReceived) {
	_ = h.topic.Publish(ctx, e)
}

func (h publishHook) OnProviderResult(ctx context.Context, e events.ProviderResult) {
	_ = h.topic.Publish(ctx, e)
}

func (h publishHook) OnSynthesisReady(ctx context.Context, e events.SynthesisReady) {
	_ = h.topic.Publish(ctx, e)
}

func (h publishHook) OnOrchestrationFailed(ctx context.Context, e events.OrchestrationFailed) {
	_ = h.topic.Publish(ctx, e)
}
