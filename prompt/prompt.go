// Package prompt builds the provider-facing prompts for an orchestration
// round. A single universal template serves every provider: one
// well-structured prompt has consistently outperformed per-provider tuning,
// so the per-provider hook (OptimizePrompt) stays a no-op until evidence
// says otherwise.
package prompt

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// DefaultContextBudget caps rendered context characters per prompt.
const DefaultContextBudget = 3000

// SystemDirective is the fixed system message every provider receives.
const SystemDirective = `Eres un asistente de investigación experto. Responde siempre en español, ` +
	`con una extensión de 600 a 800 palabras, organizada en secciones numeradas:
1. Respuesta directa
2. Integración con el contexto proporcionado
3. Perspectivas diversas
4. Evidencia y fuentes
5. Incertidumbre y limitaciones
6. Nivel de confianza`

const userTemplate = `# Pregunta

%s

# Contexto

%s

Responde siguiendo estrictamente la estructura indicada en las instrucciones del sistema.`

// Chunk is a retrieved context fragment supplied by the external retrieval
// collaborator.
type Chunk struct {
	SourceType string
	Relevance  float64
	Content    string
}

// Prompt is the pair of messages handed to a provider adapter.
type Prompt struct {
	SystemMessage string
	UserMessage   string
}

// Manager interpolates the universal template.
type Manager struct {
	contextBudget int
}

// NewManager returns a manager with the given context character budget;
// budget <= 0 selects DefaultContextBudget.
func NewManager(contextBudget int) *Manager {
	if contextBudget <= 0 {
		contextBudget = DefaultContextBudget
	}
	return &Manager{contextBudget: contextBudget}
}

// BuildPrompt renders the universal template for a provider. The provider
// tag is accepted for interface stability; the template is identical for
// all of them.
func (m *Manager) BuildPrompt(providerName, question string, chunks []Chunk) Prompt {
	_ = providerName

	contextBlock := m.RenderChunks(chunks)
	if strings.TrimSpace(contextBlock) == "" {
		contextBlock = "(sin contexto adicional)"
	}

	return Prompt{
		SystemMessage: SystemDirective,
		UserMessage:   fmt.Sprintf(userTemplate, question, contextBlock),
	}
}

// BuildWithContext renders the template with a free-text accumulated
// context instead of retrieval chunks.
func (m *Manager) BuildWithContext(providerName, question, accumulated string) Prompt {
	_ = providerName

	contextBlock := truncate(accumulated, m.contextBudget)
	if strings.TrimSpace(contextBlock) == "" {
		contextBlock = "(sin contexto adicional)"
	}
	return Prompt{
		SystemMessage: SystemDirective,
		UserMessage:   fmt.Sprintf(userTemplate, question, contextBlock),
	}
}

// RenderChunks formats retrieval chunks with their provenance and trims the
// result to the configured character budget.
func (m *Manager) RenderChunks(chunks []Chunk) string {
	var b strings.Builder
	for _, c := range chunks {
		block := fmt.Sprintf("**Source:** %s | **Relevance:** %.2f\n%s\n---\n", c.SourceType, c.Relevance, c.Content)
		if b.Len()+len(block) > m.contextBudget {
			remaining := m.contextBudget - b.Len()
			if remaining > 0 {
				b.WriteString(truncate(block, remaining))
			}
			break
		}
		b.WriteString(block)
	}
	return b.String()
}

// OptimizePrompt is the documented extension point for per-provider prompt
// trimming. It currently returns the prompt unchanged.
func (m *Manager) OptimizePrompt(providerName string, p Prompt, maxTokens int) Prompt {
	_, _ = providerName, maxTokens
	return p
}

// truncate cuts at a byte budget without splitting a UTF-8 rune.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit]
}
