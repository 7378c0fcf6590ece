package contextbuilder

import (
	"strings"

	"github.com/tidwall/gjson"
)

// MessageType labels what a user turn did to the conversation.
type MessageType string

const (
	TypeQuestion      MessageType = "question"
	TypeInformation   MessageType = "information"
	TypeCommandResult MessageType = "command_result"
	TypeReady         MessageType = "ready"
)

// classification carries the turn label and the classifier's confidence.
type classification struct {
	Type       MessageType
	Confidence float64
}

// minClassificationConfidence gates context mutation: below it the builder
// asks the user to rephrase instead of guessing.
const minClassificationConfidence = 0.55

const classifySystem = `Clasifica el mensaje del usuario. Responde únicamente con un objeto JSON:
{"message_type": "question" | "information", "confidence": 0.0-1.0}
"question": el usuario pregunta algo. "information": el usuario aporta datos o hechos.`

// parseClassification reads the classifier's JSON output tolerantly; any
// shape problem falls back to the heuristic.
func parseClassification(raw, userMessage string) classification {
	mt := gjson.Get(raw, "message_type")
	conf := gjson.Get(raw, "confidence")
	if !mt.Exists() || !conf.Exists() {
		return heuristicClassification(userMessage)
	}
	switch MessageType(mt.String()) {
	case TypeQuestion, TypeInformation:
		return classification{Type: MessageType(mt.String()), Confidence: conf.Float()}
	default:
		return heuristicClassification(userMessage)
	}
}

// heuristicClassification is the universal fallback when the classifier
// call fails or returns garbage.
func heuristicClassification(userMessage string) classification {
	trimmed := strings.TrimSpace(userMessage)
	switch {
	case strings.HasSuffix(trimmed, "?"),
		strings.Count(trimmed, "?") == 1 && len(trimmed) < 80:
		return classification{Type: TypeQuestion, Confidence: 0.6}
	case len(strings.Fields(trimmed)) > 15:
		return classification{Type: TypeInformation, Confidence: 0.6}
	default:
		return classification{Type: TypeQuestion, Confidence: 0.5}
	}
}
