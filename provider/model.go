package provider

import (
	"fmt"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
)

// Status describes the outcome of a single provider invocation after all
// retries have been exhausted.
type Status string

const (
	StatusSuccess            Status = "success"
	StatusError              Status = "error"
	StatusTimeout            Status = "timeout"
	StatusRateLimit          Status = "rate_limit"
	StatusAuthError          Status = "auth_error"
	StatusQuotaExceeded      Status = "quota_exceeded"
	StatusServiceUnavailable Status = "service_unavailable"
)

// ErrorCategory buckets transport and HTTP failures for retry decisions.
type ErrorCategory string

const (
	CategoryNetwork        ErrorCategory = "network"
	CategoryAuthentication ErrorCategory = "authentication"
	CategoryRateLimiting   ErrorCategory = "rate_limiting"
	CategoryQuota          ErrorCategory = "quota"
	CategoryValidation     ErrorCategory = "validation"
	CategoryInternal       ErrorCategory = "internal"
	CategoryExternalAPI    ErrorCategory = "external_api"
)

// Retryable reports whether a failure in this category is worth another
// attempt. Authentication, quota and validation failures never improve on
// retry.
func (c ErrorCategory) Retryable() bool {
	switch c {
	case CategoryAuthentication, CategoryQuota, CategoryValidation:
		return false
	default:
		return true
	}
}

// ErrorDetail is the classified form of a failed attempt.
type ErrorDetail struct {
	Category   ErrorCategory `json:"category"`
	Code       string        `json:"code"`
	Message    string        `json:"message"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
}

func (e ErrorDetail) Error() string {
	return fmt.Sprintf("%s/%s: %s", e.Category, e.Code, e.Message)
}

// FailedAttempt records one unsuccessful try inside a retry loop.
type FailedAttempt struct {
	Attempt   int             `json:"attempt"`
	Status    Status          `json:"status"`
	Error     string          `json:"error"`
	Timestamp strfmt.DateTime `json:"timestamp"`
}

// RetryInfo summarises the retry history of a call. It is attached to a
// Response only when more than one attempt was made.
type RetryInfo struct {
	TotalAttempts     int             `json:"total_attempts"`
	SuccessfulAttempt int             `json:"successful_attempt,omitempty"`
	FailedAttempts    []FailedAttempt `json:"failed_attempts"`
}

// Usage carries token accounting as reported by the vendor.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Request is the provider-agnostic completion request.
type Request struct {
	Prompt        string
	SystemMessage string
	MaxTokens     int
	Temperature   float64

	// RunID correlates every response of one orchestration round.
	RunID         uuid.UUID
	InteractionID string

	// Prevents unkeyed literals
	_ struct{}
}

// Validate checks the request bounds shared by all adapters.
func (r Request) Validate() error {
	if r.Prompt == "" {
		return fmt.Errorf("prompt is required")
	}
	if r.MaxTokens < 1 {
		return fmt.Errorf("max_tokens must be >= 1, got %d", r.MaxTokens)
	}
	if r.Temperature < 0 || r.Temperature > 2 {
		return fmt.Errorf("temperature must be within [0,2], got %g", r.Temperature)
	}
	return nil
}

// Response is the uniform result of one provider invocation.
type Response struct {
	Provider     string          `json:"provider_name"`
	Text         string          `json:"response_text,omitempty"`
	Status       Status          `json:"status"`
	ErrorMessage string          `json:"error_message,omitempty"`
	ErrorDetail  *ErrorDetail    `json:"error_detail,omitempty"`
	LatencyMS    int64           `json:"latency_ms"`
	Retry        *RetryInfo      `json:"retry_info,omitempty"`
	Usage        *Usage          `json:"usage_info,omitempty"`
	Metadata     map[string]any  `json:"provider_metadata,omitempty"`
	Timestamp    strfmt.DateTime `json:"timestamp"`
}

// Success reports whether the call produced usable text.
func (r Response) Success() bool {
	return r.Status == StatusSuccess
}

// ErrorResponse builds a synthetic Response for failures that happen outside
// an adapter call, such as a panic in an orchestrator goroutine.
func ErrorResponse(providerName string, err error) Response {
	return Response{
		Provider:     providerName,
		Status:       StatusError,
		ErrorMessage: err.Error(),
		Timestamp:    strfmt.DateTime(time.Now()),
	}
}

// Adapter is the capability set one LLM vendor integration must provide.
// Implementations are stateless with respect to calls; all retry and health
// bookkeeping lives in Client.
type Adapter interface {
	// Name returns the provider tag, e.g. "openai".
	Name() string
	// BaseURL returns the fully qualified endpoint to POST to.
	BaseURL() string
	// Headers returns the default headers for every request, including auth.
	Headers() map[string]string
	// BuildPayload renders the vendor JSON body for a request.
	BuildPayload(req Request) ([]byte, error)
	// ExtractText pulls the answer text out of a response body. A shape
	// mismatch yields a FormatError.
	ExtractText(body []byte) (string, error)
	// ExtractUsage pulls token usage out of a response body, or nil when the
	// vendor did not report any.
	ExtractUsage(body []byte) *Usage
}

// FormatError signals that a provider response body did not match the shape
// the adapter expects.
type FormatError struct {
	Provider string
	Reason   string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("%s: unexpected response format: %s", e.Provider, e.Reason)
}
