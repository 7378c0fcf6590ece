package moderator

// Section keys of the synthesis report. The extractor matches these
// case-insensitively against `##` headings, so the prompt in prompt.go and
// this list must stay in lockstep.
const (
	keySummary        = "resumen conciso"
	keyClaims         = "afirmaciones clave"
	keyConsensus      = "consenso directo"
	keyContradictions = "contradicciones factuales"
	keyEmphasis       = "mapeo de énfasis"
	keyQuestions      = "preguntas sugeridas"
	keyResearch       = "áreas potenciales"
	keyConnections    = "conexiones implícitas"
	keyChecklist      = "auto-validación"
)

// negationMarker filters "nothing found here" bullets out of consensus and
// contradiction lists.
const negationMarker = "no se identificaron"

// Input and extraction labels for per-provider blocks.
const (
	inputBlockFormat = "[AI_Model_%s] dice:"
	claimsLabel      = "**[AI_Modelo_%s] dice:**"
)

// disclaimerPhrases are the degenerate-output markers counted by the
// quality gate. More than three of them dominates the synthesis.
var disclaimerPhrases = []string{
	"lo siento",
	"no puedo",
	"como ia",
	"como una ia",
	"como modelo de lenguaje",
	"no tengo acceso",
	"disculpa",
	"consulta a un profesional",
	"as an ai",
	"i cannot",
	"i'm sorry",
}

// analyticalVocabulary marks prose that engages with the input answers even
// when no Markdown structure survived.
var analyticalVocabulary = []string{
	"según",
	"menciona",
	"afirma",
	"indica",
	"sostiene",
	"señala",
	"coincide",
	"difiere",
}
