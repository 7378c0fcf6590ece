package moderator

// Quality grades an accepted synthesis, or records why none was produced.
type Quality string

const (
	QualityHigh   Quality = "high"
	QualityMedium Quality = "medium"
	QualityLow    Quality = "low"
	QualityFailed Quality = "failed"
)

// MetaQuality reflects how much of the self-validation checklist the
// synthesis LLM completed.
type MetaQuality string

const (
	MetaComplete   MetaQuality = "complete"
	MetaPartial    MetaQuality = "partial"
	MetaIncomplete MetaQuality = "incomplete"
	MetaError      MetaQuality = "error"
)

// Components is the structured decomposition of a synthesis report.
type Components struct {
	KeyThemes          []string            `json:"key_themes"`
	ConsensusAreas     []string            `json:"consensus_areas"`
	Contradictions     []string            `json:"contradictions"`
	Recommendations    []string            `json:"recommendations"`
	SuggestedQuestions []string            `json:"suggested_questions"`
	ResearchAreas      []string            `json:"research_areas"`
	Connections        []string            `json:"connections"`
	SourceReferences   map[string][]string `json:"source_references"`

	// present section keys, used by grading
	sections map[string]bool
	// checklist item count, drives MetaQuality
	checklistItems int
}

// Response is the moderator's answer for one orchestration round. It is
// always produced; FallbackUsed marks the degraded paths.
type Response struct {
	SynthesisText       string      `json:"synthesis_text"`
	Quality             Quality     `json:"quality"`
	MetaAnalysisQuality MetaQuality `json:"meta_analysis_quality"`
	Components          Components  `json:"components"`
	FallbackUsed        bool        `json:"fallback_used"`
	SuccessfulResponses int         `json:"successful_responses_count"`
	ProcessingTimeMS    int64       `json:"processing_time_ms"`
}
