// Package openai implements the OpenAI-style chat-completions adapter.
package openai

import (
	"strconv"

	"github.com/consejo-ai/consejo/provider"
	"github.com/fogfish/opts"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const (
	// Name is the provider tag used across orchestration and persistence.
	Name = "openai"

	// DefaultModel answers user questions; CheapModel serves moderator
	// synthesis and helper calls.
	DefaultModel = "gpt-4o"
	CheapModel   = "gpt-4o-mini"

	defaultBaseURL = "https://api.openai.com/v1/chat/completions"
)

// Adapter speaks the chat-completions wire format: a messages array with an
// optional system role, answer text at choices[0].message.content.
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
		"Authorization": "Bearer " + a.apiKey,
	}
}

func (a *Adapter) BuildPayload(req provider.Request) ([]byte, error) {
	body := []byte(`{}`)
	var err error

	if body, err = sjson.SetBytes(body, "model", a.model); err != nil {
		return nil, err
	}
	idx := 0
	if req.SystemMessage != "" {
		if body, err = sjson.SetBytes(body, "messages.0.role", "system"); err != nil {
			return nil, err
		}
		if body, err = sjson.SetBytes(body, "messages.0.content", req.SystemMessage); err != nil {
			return nil, err
		}
		idx = 1
	}
	user := "messages." + strconv.Itoa(idx)
	if body, err = sjson.SetBytes(body, user+".role", "user"); err != nil {
		return nil, err
	}
	if body, err = sjson.SetBytes(body, user+".content", req.Prompt); err != nil {
		return nil, err
	}
	if body, err = sjson.SetBytes(body, "max_tokens", req.MaxTokens); err != nil {
		return nil, err
	}
	if body, err = sjson.SetBytes(body, "temperature", req.Temperature); err != nil {
		return nil, err
	}
	return body, nil
}

func (a *Adapter) ExtractText(body []byte) (string, error) {
	content := gjson.GetBytes(body, "choices.0.message.content")
	if !content.Exists() {
		return "", &provider.FormatError{Provider: Name, Reason: "missing choices[0].message.content"}
	}
	return content.String(), nil
}

func (a *Adapter) ExtractUsage(body []byte) *provider.Usage {
	usage := gjson.GetBytes(body, "usage")
	if !usage.Exists() {
		return nil
	}
	return &provider.Usage{
		PromptTokens:     int(usage.Get("prompt_tokens").Int()),
		CompletionTokens: int(usage.Get("completion_tokens").Int()),
		TotalTokens:      int(usage.Get("total_tokens").Int()),
	}
}
