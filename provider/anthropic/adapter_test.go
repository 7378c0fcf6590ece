package anthropic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/consejo-ai/consejo/provider"
)

func TestAdapter_BuildPayload(t *testing.T) {
	a := New("sk-ant")
	body, err := a.BuildPayload(provider.Request{
		Prompt:        "¿qué es Go?",
		SystemMessage: "Eres un asistente.",
		MaxTokens:     500,
		Temperature:   0.3,
	})
	require.NoError(t, err)

	doc := gjson.ParseBytes(body)
	assert.Equal(t, DefaultModel, doc.Get("model").String())
	assert.Equal(t, "Eres un asistente.", doc.Get("system").String(), "system rides as a top-level field")
	assert.Equal(t, "user", doc.Get("messages.0.role").String())
	assert.Equal(t, "¿qué es Go?", doc.Get("messages.0.content").String())
	assert.Equal(t, int64(500), doc.Get("max_tokens").Int())
}

func TestAdapter_Headers(t *testing.T) {
	a := New("sk-ant", WithModel(HaikuModel))
	h := a.Headers()
	assert.Equal(t, "sk-ant", h["x-api-key"])
	assert.Equal(t, apiVersion, h["anthropic-version"])
	assert.Equal(t, HaikuModel, a.Model())
}

func TestAdapter_ExtractText(t *testing.T) {
	a := New("sk-ant")

	text, err := a.ExtractText([]byte(`{"content":[{"type":"text","text":"respuesta"}]}`))
	require.NoError(t, err)
	assert.Equal(t, "respuesta", text)

	_, err = a.ExtractText([]byte(`{"content":[]}`))
	var ferr *provider.FormatError
	require.ErrorAs(t, err, &ferr)
}

func TestAdapter_ExtractUsage(t *testing.T) {
	a := New("sk-ant")
	usage := a.ExtractUsage([]byte(`{"usage":{"input_tokens":20,"output_tokens":80}}`))
	require.NotNil(t, usage)
	assert.Equal(t, 20, usage.PromptTokens)
	assert.Equal(t, 80, usage.CompletionTokens)
	assert.Equal(t, 100, usage.TotalTokens)
}
