package moderator

import (
	"regexp"
	"strings"
)

const (
	minSynthesisLen = 80
	maxSynthesisLen = 5000

	minUniqueWordRatio   = 0.45
	maxDisclaimerCount   = 3
	minCompleteSentences = 2
)

var numberedBulletRe = regexp.MustCompile(`(?m)^\s*\d+\.`)

// validateSynthesis applies the hard gates a synthesis must pass before it
// can be graded MEDIUM or HIGH. It returns ok plus the reason of the first
// violated gate.
func validateSynthesis(text string) (bool, string) {
	trimmed := strings.TrimSpace(text)

	if len(trimmed) < minSynthesisLen {
		return false, "too short"
	}
	if len(trimmed) > maxSynthesisLen {
		return false, "too long"
	}

	words := strings.Fields(strings.ToLower(trimmed))
	if len(words) > 8 {
		unique := make(map[string]struct{}, len(words))
		for _, w := range words {
			unique[w] = struct{}{}
		}
		if float64(len(unique))/float64(len(words)) < minUniqueWordRatio {
			return false, "excessive repetition"
		}
	}

	lower := strings.ToLower(trimmed)
	var disclaimers int
	for _, phrase := range disclaimerPhrases {
		disclaimers += strings.Count(lower, phrase)
	}
	if disclaimers > maxDisclaimerCount {
		return false, "dominated by disclaimers"
	}

	var sentences int
	for _, s := range strings.FieldsFunc(trimmed, func(r rune) bool {
		return r == '.' || r == '!' || r == '?'
	}) {
		if len(strings.TrimSpace(s)) > 10 {
			sentences++
		}
	}
	if sentences < minCompleteSentences {
		return false, "not enough complete sentences"
	}

	if !hasStructuralMarker(trimmed) && !hasAnalyticalVocabulary(lower) {
		return false, "no structure or analytical content"
	}

	return true, ""
}

func hasStructuralMarker(text string) bool {
	return strings.Contains(text, "##") ||
		strings.Contains(text, "**") ||
		strings.Contains(text, "- ") ||
		numberedBulletRe.MatchString(text)
}

func hasAnalyticalVocabulary(lower string) bool {
	for _, word := range analyticalVocabulary {
		if strings.Contains(lower, word) {
			return true
		}
	}
	return false
}

// grade scores an accepted synthesis by structural coverage and extracted
// content volume.
func grade(text string, c Components) Quality {
	structure := 0
	for _, key := range []string{keySummary, keyClaims, keyConsensus, keyContradictions, keyChecklist} {
		if c.sections[key] {
			structure++
		}
	}
	// any exploration subsection counts once
	if c.sections[keyQuestions] || c.sections[keyResearch] || c.sections[keyConnections] {
		structure++
	}

	content := 0
	if len(c.Recommendations) > 0 {
		content++
	}
	if len(c.SuggestedQuestions) > 0 {
		content++
	}
	if len(c.ResearchAreas) > 0 {
		content++
	}
	if len(c.SourceReferences) > 0 {
		content++
	}

	length := len(strings.TrimSpace(text))
	switch {
	case structure >= 5 && content >= 3 && length > 800:
		return QualityHigh
	case structure >= 3 && content >= 2 && length > 400:
		return QualityMedium
	default:
		return QualityLow
	}
}
