package moderator

import (
	"fmt"
	"strings"

	"github.com/consejo-ai/consejo/provider"
)

// synthesisSystem instructs the cheap model to act as a strict
// meta-analyst. It enumerates the exact report structure the extractor
// parses.
const synthesisSystem = `Eres un moderador de meta-análisis. Recibes las respuestas de varios ` +
	`modelos de IA a una misma pregunta y produces un informe estructurado en español de ` +
	`aproximadamente 800 a 1000 tokens. Usa exactamente esta estructura con encabezados Markdown:

## 0. Nota de relevancia de las entradas (opcional)

## 1. Resumen Conciso General y Recomendación Clave
Incluye **una única recomendación clave en negrita, en una sola oración**.

## 2a. Afirmaciones Clave por IA
Para cada modelo, una subsección con el formato **[AI_Modelo_NOMBRE] dice:** seguida de viñetas.

## 2b. Puntos de Consenso Directo
Viñetas con el formato: - afirmación (Apoyado por: modelos)

## 2c. Contradicciones Factuales
Viñetas con el formato: - X afirma A / Y afirma B
Si no hay, escribe: - No se identificaron contradicciones factuales.

## 2d. Mapeo de Énfasis y Omisiones Notables

## 3a. Preguntas Sugeridas

## 3b. Áreas Potenciales de Investigación

## 3c. Conexiones Implícitas

## 4. Auto-Validación Interna
Lista de verificación de al menos seis puntos confirmando que cada sección fue cubierta.`

// buildSynthesisPrompt concatenates the successful answers as provider
// blocks and frames the meta-analysis question.
func buildSynthesisPrompt(query string, responses []provider.Response) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Pregunta original del usuario:\n%s\n\n", query)
	b.WriteString("Respuestas de los modelos:\n\n")
	for _, r := range responses {
		fmt.Fprintf(&b, inputBlockFormat, strings.ToUpper(r.Provider))
		b.WriteString(" ")
		b.WriteString(r.Text)
		b.WriteString("\n\n")
	}
	b.WriteString("Produce el informe de meta-análisis siguiendo la estructura indicada.")
	return b.String()
}
