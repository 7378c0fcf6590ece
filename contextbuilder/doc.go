// Package contextbuilder maintains the durable accumulated context of a
// session across a user's conversational turns.
//
// Each turn is classified as a question or as new information. Questions
// are answered conversationally; information turns go through fact
// extraction and are merged into the accumulated context under
// de-duplication rules. The underlying chat completion exposes three tool
// functions (summary, show_context, clear_context); when the model calls
// one, the tool result becomes the assistant reply and the turn is reported
// as a command.
//
// Every LLM-backed step has a deterministic heuristic fallback, so the
// builder keeps working when the classifier model is unreachable.
package contextbuilder
