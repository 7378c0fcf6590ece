package contextbuilder

import (
	"regexp"
	"strings"
)

const extractSystem = `Extrae del mensaje del usuario los datos duraderos (cifras, nombres, fechas, ` +
	`objetivos, restricciones) en una sola frase breve. No repitas nada que ya esté en el contexto ` +
	`de referencia. Responde solo con la frase extraída, sin comentarios.`

var numericTokenRe = regexp.MustCompile(`[$€]?\d[\d.,]*\s*\w*`)

// anchorKeywords mark spans worth keeping when the extraction model is
// unavailable.
var anchorKeywords = []string{
	"presupuesto", "budget", "empresa", "proyecto", "objetivo",
	"cliente", "plazo", "equipo", "mercado", "producto",
}

// heuristicExtract pulls numeric tokens and keyword-anchored sentences out
// of the user message. It is the fallback when the extraction LLM call
// fails.
func heuristicExtract(userMessage string) string {
	var parts []string
	seen := make(map[string]struct{})

	add := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" {
			return
		}
		if _, dup := seen[strings.ToLower(s)]; dup {
			return
		}
		seen[strings.ToLower(s)] = struct{}{}
		parts = append(parts, s)
	}

	for _, sentence := range strings.FieldsFunc(userMessage, func(r rune) bool {
		return r == '.' || r == ';' || r == '\n'
	}) {
		lower := strings.ToLower(sentence)
		for _, kw := range anchorKeywords {
			if strings.Contains(lower, kw) {
				add(sentence)
				break
			}
		}
	}

	for _, tok := range numericTokenRe.FindAllString(userMessage, -1) {
		add(tok)
	}

	return strings.Join(parts, ". ")
}
