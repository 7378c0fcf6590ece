package contextbuilder

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/fogfish/opts"
	"github.com/openai/openai-go"
)

const (
	defaultModel       = openai.ChatModelGPT4oMini
	defaultTemperature = 0.2
	defaultMaxTokens   = 250
	// fixedSeed keeps the conversational persona stable across turns.
	fixedSeed = 1042
)

const chatSystem = `Eres un asistente conversacional en español que ayuda a construir el contexto ` +
	`de una investigación. Reglas:
- Si el usuario pregunta algo, responde breve y claro.
- Si el usuario aporta información, confírmala en una frase.
- Dispones de las funciones summary, show_context y clear_context; úsalas cuando el usuario lo pida.
- Nunca inventes datos que el usuario no haya dado.`

// ChatFunc is the completion transport. Production builders use the
// openai-go client; tests substitute a canned function.
type ChatFunc func(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error)

// Builder runs the turn-processing pipeline over one accumulated context.
type Builder struct {
	chat        ChatFunc
	model       string
	temperature float64
	maxTokens   int64
}

var (
	WithModel = opts.ForName[Builder, string]("model")
	// WithChatFunc swaps the completion transport.
	WithChatFunc = opts.ForName[Builder, ChatFunc]("chat")
)

// New builds a Builder over an openai-go client. A nil client leaves the
// builder running purely on heuristics.
func New(client *openai.Client, options ...opts.Option[Builder]) *Builder {
	b := &Builder{
		model:       defaultModel,
		temperature: defaultTemperature,
		maxTokens:   defaultMaxTokens,
	}
	if client != nil {
		b.chat = func(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
			return client.Chat.Completions.New(ctx, params)
		}
	}
	if err := opts.Apply(b, options); err != nil {
		panic(err)
	}
	return b
}

// TurnResult is the outcome of processing one user turn.
type TurnResult struct {
	Reply                  string
	MessageType            MessageType
	Context                string
	Suggestions            []string
	ContextElements        int
	SuggestedFinalQuestion string
}

// ProcessTurn classifies the user message, dispatches tool calls, extracts
// durable facts from information turns and merges them into the context.
func (b *Builder) ProcessTurn(ctx context.Context, current, userMessage string) TurnResult {
	cls := b.classify(ctx, userMessage)
	if cls.Confidence < minClassificationConfidence {
		return TurnResult{
			Reply:           "No estoy seguro de haber entendido. ¿Puedes reformular tu mensaje o darme más detalle?",
			MessageType:     cls.Type,
			Context:         current,
			ContextElements: contextElements(current),
		}
	}

	reply, toolName, newContext := b.converse(ctx, current, userMessage)
	if toolName != "" {
		return TurnResult{
			Reply:           reply,
			MessageType:     TypeCommandResult,
			Context:         newContext,
			ContextElements: contextElements(newContext),
		}
	}

	result := TurnResult{
		Reply:       reply,
		MessageType: cls.Type,
		Context:     current,
	}

	if cls.Type == TypeInformation {
		fact := b.extract(ctx, current, userMessage)
		result.Context = MergeContext(current, fact)
		result.Suggestions = []string{
			"Puedes pedir un resumen con «resumen del contexto».",
			"Cuando el contexto esté completo, formula la pregunta final.",
		}
	} else if trimmed := strings.TrimSpace(userMessage); strings.HasSuffix(trimmed, "?") {
		result.SuggestedFinalQuestion = trimmed
	}

	result.ContextElements = contextElements(result.Context)
	return result
}

func (b *Builder) classify(ctx context.Context, userMessage string) classification {
	if b.chat == nil {
		return heuristicClassification(userMessage)
	}

	chat, err := b.chat(ctx, openai.ChatCompletionNewParams{
		Messages: openai.F([]openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(classifySystem),
			openai.UserMessageParts(openai.TextPart(userMessage)),
		}),
		Model:       openai.F(b.model),
		Temperature: openai.Float(defaultTemperature),
		MaxTokens:   openai.Int(b.maxTokens),
		Seed:        openai.Int(fixedSeed),
	})
	if err != nil || len(chat.Choices) == 0 {
		slog.Debug("classifier call failed, using heuristic", errAttr(err))
		return heuristicClassification(userMessage)
	}
	return parseClassification(chat.Choices[0].Message.Content, userMessage)
}

// converse runs the tool-enabled chat completion. When the model emits a
// function call, the tool executes and its textual result becomes the
// reply.
func (b *Builder) converse(ctx context.Context, current, userMessage string) (reply, toolName, newContext string) {
	newContext = current

	if b.chat == nil {
		return "Entendido.", "", current
	}

	system := chatSystem
	if strings.TrimSpace(current) != "" {
		system += "\n\nContexto acumulado hasta ahora:\n" + current
	}

	chat, err := b.chat(ctx, openai.ChatCompletionNewParams{
		Messages: openai.F([]openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessageParts(openai.TextPart(userMessage)),
		}),
		Model:       openai.F(b.model),
		Temperature: openai.Float(b.temperature),
		MaxTokens:   openai.Int(b.maxTokens),
		Seed:        openai.Int(fixedSeed),
		Tools:       openai.F(toolParams()),
	})
	if err != nil || len(chat.Choices) == 0 {
		slog.Debug("chat call failed, acknowledging turn", errAttr(err))
		return "Entendido.", "", current
	}

	choice := chat.Choices[0].Message
	if len(choice.ToolCalls) > 0 {
		call := choice.ToolCalls[0]
		reply, newContext = dispatchTool(call.Function.Name, call.Function.Arguments, current)
		return reply, call.Function.Name, newContext
	}

	if strings.TrimSpace(choice.Content) == "" {
		return "Entendido.", "", current
	}
	return choice.Content, "", current
}

// extract issues the secondary extraction call with the current context as
// anti-duplication reference. The call runs with an empty conversation
// history on purpose.
func (b *Builder) extract(ctx context.Context, current, userMessage string) string {
	if b.chat == nil {
		return heuristicExtract(userMessage)
	}

	user := fmt.Sprintf("Contexto de referencia (no repetir):\n%s\n\nMensaje del usuario:\n%s", current, userMessage)
	chat, err := b.chat(ctx, openai.ChatCompletionNewParams{
		Messages: openai.F([]openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(extractSystem),
			openai.UserMessageParts(openai.TextPart(user)),
		}),
		Model:       openai.F(b.model),
		Temperature: openai.Float(b.temperature),
		MaxTokens:   openai.Int(b.maxTokens),
		Seed:        openai.Int(fixedSeed),
	})
	if err != nil || len(chat.Choices) == 0 || strings.TrimSpace(chat.Choices[0].Message.Content) == "" {
		slog.Debug("extraction call failed, using heuristic", errAttr(err))
		return heuristicExtract(userMessage)
	}
	return strings.TrimSpace(chat.Choices[0].Message.Content)
}

func errAttr(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "empty completion")
	}
	return slog.String("error", err.Error())
}

// contextElements approximates the number of durable facts by counting
// sentences.
func contextElements(context string) int {
	count := 0
	for _, s := range strings.Split(context, ".") {
		if len(strings.TrimSpace(s)) > 3 {
			count++
		}
	}
	return count
}
