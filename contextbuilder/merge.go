package contextbuilder

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	// containedShare: new text fully inside the current context and below
	// this share of its length adds nothing.
	containedShare = 0.8
	// replaceRatio: new text this much longer than the current context
	// supersedes it.
	replaceRatio = 1.5
)

// MergeContext folds freshly extracted information into the accumulated
// context without duplicating what is already there.
func MergeContext(current, new string) string {
	new = strings.TrimSpace(new)
	current = strings.TrimSpace(current)

	switch {
	case new == "":
		return current
	case current == "":
		return new
	case strings.EqualFold(current, new):
		return current
	}

	lowerCurrent := strings.ToLower(current)
	lowerNew := strings.ToLower(new)
	if strings.Contains(lowerCurrent, lowerNew) && float64(len(new)) < containedShare*float64(len(current)) {
		return current
	}
	if float64(len(new)) > replaceRatio*float64(len(current)) {
		return new
	}

	sep := " "
	if !strings.HasSuffix(current, ".") {
		sep = ". "
	}
	return current + sep + new
}

// SynthesisHeader opens the moderator section appended to a context after
// an orchestration round. Its presence makes IncludeModeratorSynthesis a
// no-op.
const SynthesisHeader = "## 🔬 Análisis del Moderador IA"

const (
	maxIncludedThemes          = 3
	maxIncludedRecommendations = 3
	synthesisPreviewLimit      = 800
)

// IncludeModeratorSynthesis appends a fixed moderator section with up to
// three themes, three recommendations and a bounded synthesis preview. It
// is idempotent: a context already carrying the section is returned
// unchanged.
func IncludeModeratorSynthesis(current, synthesis string, themes, recommendations []string) string {
	if strings.Contains(current, SynthesisHeader) {
		return current
	}

	var b strings.Builder
	b.WriteString(current)
	if current != "" {
		b.WriteString("\n\n")
	}
	b.WriteString(SynthesisHeader)
	b.WriteString("\n")

	if len(themes) > 0 {
		b.WriteString("\n**Temas clave:**\n")
		for i, theme := range themes {
			if i == maxIncludedThemes {
				break
			}
			fmt.Fprintf(&b, "- %s\n", theme)
		}
	}
	if len(recommendations) > 0 {
		b.WriteString("\n**Recomendaciones:**\n")
		for i, rec := range recommendations {
			if i == maxIncludedRecommendations {
				break
			}
			fmt.Fprintf(&b, "- %s\n", rec)
		}
	}

	preview := strings.TrimSpace(synthesis)
	if len(preview) > synthesisPreviewLimit {
		cut := synthesisPreviewLimit
		for cut > 0 && !utf8.RuneStart(preview[cut]) {
			cut--
		}
		preview = preview[:cut]
	}
	if preview != "" {
		b.WriteString("\n")
		b.WriteString(preview)
		b.WriteString("\n")
	}
	return b.String()
}
