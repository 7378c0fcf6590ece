// Package provider defines the uniform contract over heterogeneous LLM HTTP
// APIs and the retry/health machinery that wraps every call to them.
//
// An Adapter knows how to speak one vendor's wire format: it builds the JSON
// payload for a request, extracts the answer text from a response body, and
// reports token usage when the vendor supplies it. A Client wraps an Adapter
// with timeout handling, error classification, bounded retries with
// exponential backoff, and a rolling 24h health window.
//
// Transport failures never surface as Go errors from a Client: every call
// produces a Response value whose Status field carries the outcome. This
// keeps the orchestrator free of per-provider error plumbing.
package provider
