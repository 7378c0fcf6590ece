package moderator

import (
	"regexp"
	"strings"
)

var (
	boldSpanRe    = regexp.MustCompile(`\*\*([^*]+)\*\*`)
	claimsLabelRe = regexp.MustCompile(`\*\*\[AI_Model[o]?_([^\]]+)\][^*]*\*\*`)
)

type section struct {
	heading string
	lines   []string
}

// extractComponents decomposes a synthesis report along its `##` headings.
// Parsing is deliberately tolerant: a malformed report yields partial
// components, never an error. MetaAnalysisQuality downgrades instead.
func extractComponents(text string) Components {
	c := Components{
		SourceReferences: make(map[string][]string),
		sections:         make(map[string]bool),
	}

	for _, sec := range splitSections(text) {
		heading := strings.ToLower(sec.heading)
		switch {
		case strings.Contains(heading, keySummary):
			c.sections[keySummary] = true
			for _, m := range boldSpanRe.FindAllStringSubmatch(strings.Join(sec.lines, "\n"), -1) {
				if rec := strings.TrimSpace(m[1]); rec != "" {
					c.Recommendations = append(c.Recommendations, rec)
				}
			}
		case strings.Contains(heading, keyClaims):
			c.sections[keyClaims] = true
			extractClaims(sec.lines, c.SourceReferences)
		case strings.Contains(heading, keyConsensus):
			c.sections[keyConsensus] = true
			c.ConsensusAreas = bullets(sec.lines)
		case strings.Contains(heading, keyContradictions):
			c.sections[keyContradictions] = true
			c.Contradictions = bullets(sec.lines)
		case strings.Contains(heading, keyEmphasis):
			c.sections[keyEmphasis] = true
			c.KeyThemes = bullets(sec.lines)
		case strings.Contains(heading, keyQuestions):
			c.sections[keyQuestions] = true
			c.SuggestedQuestions = bullets(sec.lines)
		case strings.Contains(heading, keyResearch):
			c.sections[keyResearch] = true
			c.ResearchAreas = bullets(sec.lines)
		case strings.Contains(heading, keyConnections):
			c.sections[keyConnections] = true
			c.Connections = bullets(sec.lines)
		case strings.Contains(heading, keyChecklist):
			c.sections[keyChecklist] = true
			c.checklistItems = len(bullets(sec.lines))
		}
	}

	return c
}

func splitSections(text string) []section {
	var out []section
	var current *section
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "##") {
			if current != nil {
				out = append(out, *current)
			}
			current = &section{heading: strings.TrimSpace(strings.TrimLeft(trimmed, "# "))}
			continue
		}
		if current != nil {
			current.lines = append(current.lines, line)
		}
	}
	if current != nil {
		out = append(out, *current)
	}
	return out
}

// bullets returns the `- ` items of a section, skipping "nothing found"
// negations.
func bullets(lines []string) []string {
	var out []string
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "- ") {
			continue
		}
		item := strings.TrimSpace(strings.TrimPrefix(trimmed, "- "))
		if item == "" || strings.Contains(strings.ToLower(item), negationMarker) {
			continue
		}
		out = append(out, item)
	}
	return out
}

// extractClaims seeds refs[provider] from each **[AI_Modelo_X] dice:**
// subsection, claiming the bullet lines until the next label.
func extractClaims(lines []string, refs map[string][]string) {
	var current string
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if m := claimsLabelRe.FindStringSubmatch(trimmed); m != nil {
			current = strings.TrimSpace(m[1])
			if _, known := refs[current]; !known {
				refs[current] = nil
			}
			continue
		}
		if current == "" || !strings.HasPrefix(trimmed, "- ") {
			continue
		}
		claim := strings.TrimSpace(strings.TrimPrefix(trimmed, "- "))
		if claim != "" {
			refs[current] = append(refs[current], claim)
		}
	}
}

// metaQuality grades extraction completeness by the self-validation
// checklist length.
func metaQuality(c Components) MetaQuality {
	if len(c.sections) == 0 {
		return MetaError
	}
	switch {
	case c.checklistItems >= 6:
		return MetaComplete
	case c.checklistItems >= 4:
		return MetaPartial
	default:
		return MetaIncomplete
	}
}
