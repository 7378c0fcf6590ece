// Package anthropic implements the Anthropic-style messages adapter.
package anthropic

import (
	"github.com/consejo-ai/consejo/provider"
	"github.com/fogfish/opts"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const (
	// Name is the provider tag used across orchestration and persistence.
	Name = "anthropic"

	// DefaultModel answers user questions; HaikuModel is the cheap model the
	// moderator prefers for synthesis.
	DefaultModel = "claude-3-5-sonnet-latest"
	HaikuModel   = "claude-3-5-haiku-latest"

	defaultBaseURL = "https://api.anthropic.com/v1/messages"
	apiVersion     = "2023-06-01"
)

// Adapter speaks the messages wire format: system as a top-level field,
// answer text at content[0].text, usage as input/output token counts.
type Adapter struct {
	apiKey  string
	model   string
	baseURL string
}

var (
	WithModel   = opts.ForName[Adapter, string]("model")
	WithBaseURL = opts.ForName[Adapter, string]("baseURL")
)

// New builds an adapter for the given API key.
func New(apiKey string, options ...opts.Option[Adapter]) *Adapter {
	a := &Adapter{
		apiKey:  apiKey,
		model:   DefaultModel,
		baseURL: defaultBaseURL,
	}
	if err := opts.Apply(a, options); err != nil {
		panic(err)
	}
	return a
}

var _ provider.Adapter = (*Adapter)(nil)

func (a *Adapter) Name() string    { return Name }
func (a *Adapter) BaseURL() string { return a.baseURL }
func (a *Adapter) Model() string   { return a.model }

func (a *Adapter) Headers() map[string]string {
	return map[string]string{
		"x-api-key":         a.apiKey,
		"anthropic-version": apiVersion,
	}
}

func (a *Adapter) BuildPayload(req provider.Request) ([]byte, error) {
	body := []byte(`{}`)
	var err error

	if body, err = sjson.SetBytes(body, "model", a.model); err != nil {
		return nil, err
	}
	if body, err = sjson.SetBytes(body, "max_tokens", req.MaxTokens); err != nil {
		return nil, err
	}
	if body, err = sjson.SetBytes(body, "temperature", req.Temperature); err != nil {
		return nil, err
	}
	if body, err = sjson.SetBytes(body, "messages.0.role", "user"); err != nil {
		return nil, err
	}
	if body, err = sjson.SetBytes(body, "messages.0.content", req.Prompt); err != nil {
		return nil, err
	}
	if req.SystemMessage != "" {
		if body, err = sjson.SetBytes(body, "system", req.SystemMessage); err != nil {
			return nil, err
		}
	}
	return body, nil
}

func (a *Adapter) ExtractText(body []byte) (string, error) {
	text := gjson.GetBytes(body, "content.0.text")
	if !text.Exists() {
		return "", &provider.FormatError{Provider: Name, Reason: "missing content[0].text"}
	}
	return text.String(), nil
}

func (a *Adapter) ExtractUsage(body []byte) *provider.Usage {
	usage := gjson.GetBytes(body, "usage")
	if !usage.Exists() {
		return nil
	}
	in := int(usage.Get("input_tokens").Int())
	out := int(usage.Get("output_tokens").Int())
	return &provider.Usage{
		PromptTokens:     in,
		CompletionTokens: out,
		TotalTokens:      in + out,
	}
}
