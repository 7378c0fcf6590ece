// Package preanalyst interprets the user's intent before orchestration and
// runs iterative clarification sessions when the question is too vague to
// fan out as-is.
package preanalyst

import (
	"context"
	"log/slog"
	"strings"

	"github.com/fogfish/opts"
	"github.com/openai/openai-go"
	"github.com/tidwall/gjson"
)

const analystSystem = `Eres un analista previo. Interpreta la intención del usuario y decide si hace ` +
	`falta aclaración. Responde únicamente con un objeto JSON:
{
  "interpreted_intent": "...",
  "clarification_questions": ["..."],
  "refined_prompt_candidate": "..."
}
Si la pregunta es específica, "clarification_questions" debe ser una lista vacía.
"refined_prompt_candidate" nunca puede estar vacío.`

// Analysis is the analyst's verdict on one user prompt.
type Analysis struct {
	InterpretedIntent      string   `json:"interpreted_intent"`
	ClarificationQuestions []string `json:"clarification_questions"`
	RefinedPromptCandidate string   `json:"refined_prompt_candidate"`
}

// ChatFunc is the completion transport; tests substitute a canned one.
type ChatFunc func(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error)

// Analyst issues the JSON-only intent interpretation call.
type Analyst struct {
	chat  ChatFunc
	model string
}

var (
	WithModel    = opts.ForName[Analyst, string]("model")
	WithChatFunc = opts.ForName[Analyst, ChatFunc]("chat")
)

// NewAnalyst builds an analyst over an openai-go client. A nil client makes
// every prompt pass through unrefined.
func NewAnalyst(client *openai.Client, options ...opts.Option[Analyst]) *Analyst {
	a := &Analyst{model: openai.ChatModelGPT4oMini}
	if client != nil {
		a.chat = func(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
			return client.Chat.Completions.New(ctx, params)
		}
	}
	if err := opts.Apply(a, options); err != nil {
		panic(err)
	}
	return a
}

// Analyze interprets the user prompt. The refined prompt candidate defaults
// to the raw user text whenever the model omits it.
func (a *Analyst) Analyze(ctx context.Context, userPrompt string) Analysis {
	fallback := Analysis{
		InterpretedIntent:      userPrompt,
		RefinedPromptCandidate: userPrompt,
	}
	if a.chat == nil {
		return fallback
	}

	chat, err := a.chat(ctx, openai.ChatCompletionNewParams{
		Messages: openai.F([]openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(analystSystem),
			openai.UserMessageParts(openai.TextPart(userPrompt)),
		}),
		Model:       openai.F(a.model),
		Temperature: openai.Float(0.2),
		MaxTokens:   openai.Int(400),
	})
	if err != nil || len(chat.Choices) == 0 {
		if err != nil {
			slog.Debug("pre-analyst call failed", slog.String("error", err.Error()))
		}
		return fallback
	}

	return parseAnalysis(chat.Choices[0].Message.Content, userPrompt)
}

// parseAnalysis reads the analyst JSON tolerantly and enforces the
// never-empty refined prompt rule.
func parseAnalysis(raw, userPrompt string) Analysis {
	out := Analysis{
		InterpretedIntent:      gjson.Get(raw, "interpreted_intent").String(),
		RefinedPromptCandidate: strings.TrimSpace(gjson.Get(raw, "refined_prompt_candidate").String()),
	}
	for _, q := range gjson.Get(raw, "clarification_questions").Array() {
		if s := strings.TrimSpace(q.String()); s != "" {
			out.ClarificationQuestions = append(out.ClarificationQuestions, s)
		}
	}
	if out.InterpretedIntent == "" {
		out.InterpretedIntent = userPrompt
	}
	if out.RefinedPromptCandidate == "" {
		out.RefinedPromptCandidate = userPrompt
	}
	return out
}
