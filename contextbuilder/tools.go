package contextbuilder

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/shared"
	"github.com/tidwall/gjson"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// ToolHandler executes one context tool. It receives the raw JSON arguments
// and the current accumulated context, and returns the user-facing reply
// plus the (possibly unchanged) new context.
type ToolHandler func(args gjson.Result, current string) (reply, newContext string)

type toolDef struct {
	name        string
	description string
	schema      *jsonschema.Schema
	handler     ToolHandler
}

const defaultSummarySentences = 2

// contextTools is the fixed registry declared on every builder chat call.
var contextTools = []toolDef{
	{
		name:        "summary",
		description: "Devuelve un resumen con las primeras oraciones del contexto acumulado.",
		schema:      intParamSchema("max_sentences", "Número máximo de oraciones a devolver"),
		handler:     summaryTool,
	},
	{
		name:        "show_context",
		description: "Muestra el contexto acumulado completo.",
		schema:      emptySchema(),
		handler:     showContextTool,
	},
	{
		name:        "clear_context",
		description: "Borra todo el contexto acumulado.",
		schema:      emptySchema(),
		handler:     clearContextTool,
	},
}

func summaryTool(args gjson.Result, current string) (string, string) {
	max := int(args.Get("max_sentences").Int())
	if max <= 0 {
		max = defaultSummarySentences
	}

	trimmed := strings.TrimSpace(current)
	if trimmed == "" {
		return "Aún no hay contexto acumulado que resumir.", current
	}

	var meaningful []string
	for _, s := range strings.Split(trimmed, ".") {
		if s = strings.TrimSpace(s); len(s) > 3 {
			meaningful = append(meaningful, s)
		}
		if len(meaningful) == max {
			break
		}
	}

	header := fmt.Sprintf("📊 Resumen del contexto (%d palabras, %d caracteres):",
		len(strings.Fields(trimmed)), len(trimmed))
	return header + "\n" + strings.Join(meaningful, ". ") + ".", current
}

func showContextTool(_ gjson.Result, current string) (string, string) {
	trimmed := strings.TrimSpace(current)
	if trimmed == "" {
		return "Aún no hay contexto acumulado.", current
	}
	header := fmt.Sprintf("📋 Contexto actual (%d caracteres):", len(trimmed))
	return header + "\n" + trimmed, current
}

func clearContextTool(_ gjson.Result, _ string) (string, string) {
	return "Contexto borrado. Empezamos de cero.", ""
}

// dispatchTool runs the named tool. Unknown names produce a reply instead
// of an error so a hallucinated call never breaks the turn.
func dispatchTool(name, rawArgs, current string) (string, string) {
	for _, td := range contextTools {
		if td.name == name {
			return td.handler(gjson.Parse(rawArgs), current)
		}
	}
	return fmt.Sprintf("Función desconocida: %s", name), current
}

// toolParams renders the registry as chat-completion tool declarations.
func toolParams() []openai.ChatCompletionToolParam {
	out := make([]openai.ChatCompletionToolParam, len(contextTools))
	for i, td := range contextTools {
		out[i] = openai.ChatCompletionToolParam{
			Type: openai.F(openai.ChatCompletionToolTypeFunction),
			Function: openai.F(openai.FunctionDefinitionParam{
				Name:        openai.String(td.name),
				Description: openai.String(td.description),
				Parameters:  openai.F(shared.FunctionParameters(schemaToMap(td.schema))),
			}),
		}
	}
	return out
}

func emptySchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:       "object",
		Properties: orderedmap.New[string, *jsonschema.Schema](),
	}
}

func intParamSchema(name, description string) *jsonschema.Schema {
	props := orderedmap.New[string, *jsonschema.Schema]()
	props.Set(name, &jsonschema.Schema{Type: "integer", Description: description})
	return &jsonschema.Schema{Type: "object", Properties: props}
}

func schemaToMap(schema *jsonschema.Schema) map[string]any {
	out := make(map[string]any)
	b, err := json.Marshal(schema)
	if err != nil {
		return out
	}
	_ = json.Unmarshal(b, &out)
	return out
}
