// Package moderator turns a set of heterogeneous provider answers into one
// structured meta-analysis.
//
// The pipeline is: case selection (empty input, all-failed, single answer,
// real synthesis) → LLM synthesis through a cheap model → structural
// extraction of the Spanish Markdown report → hard quality gates → grading.
// Every failure path degrades to the best individual answer instead of
// erroring: callers always receive a Response.
//
// The Spanish section headings are part of the wire contract between the
// synthesis prompt and the extractor; they live in keys.go and must change
// together.
package moderator
