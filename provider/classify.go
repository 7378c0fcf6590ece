package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/tidwall/gjson"
)

// classifyTransport maps a transport-level error (no HTTP response) onto an
// ErrorDetail plus the Status callers will observe if retries run out.
func classifyTransport(err error) (ErrorDetail, Status) {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorDetail{
			Category: CategoryNetwork,
			Code:     "timeout",
			Message:  err.Error(),
		}, StatusTimeout
	case errors.Is(err, context.Canceled):
		return ErrorDetail{
			Category: CategoryNetwork,
			Code:     "canceled",
			Message:  err.Error(),
		}, StatusError
	}

	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return ErrorDetail{
			Category: CategoryNetwork,
			Code:     "timeout",
			Message:  err.Error(),
		}, StatusTimeout
	}

	return ErrorDetail{
		Category: CategoryNetwork,
		Code:     "connection",
		Message:  err.Error(),
	}, StatusError
}

// classifyHTTP maps a non-2xx HTTP response onto an ErrorDetail and Status.
// The body is consulted for a vendor error message; the Retry-After header
// is honoured for 429 and 5xx.
func classifyHTTP(statusCode int, header http.Header, body []byte) (ErrorDetail, Status) {
	msg := vendorErrorMessage(body)
	if msg == "" {
		msg = fmt.Sprintf("http status %d", statusCode)
	}
	code := strconv.Itoa(statusCode)

	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return ErrorDetail{Category: CategoryAuthentication, Code: code, Message: msg}, StatusAuthError
	case statusCode == http.StatusPaymentRequired:
		return ErrorDetail{Category: CategoryQuota, Code: code, Message: msg}, StatusQuotaExceeded
	case statusCode == http.StatusTooManyRequests:
		return ErrorDetail{
			Category:   CategoryRateLimiting,
			Code:       code,
			Message:    msg,
			RetryAfter: parseRetryAfter(header),
		}, StatusRateLimit
	case statusCode == http.StatusBadRequest || statusCode == http.StatusUnprocessableEntity:
		return ErrorDetail{Category: CategoryValidation, Code: code, Message: msg}, StatusError
	case statusCode >= 500:
		return ErrorDetail{
			Category:   CategoryExternalAPI,
			Code:       code,
			Message:    msg,
			RetryAfter: parseRetryAfter(header),
		}, StatusServiceUnavailable
	default:
		return ErrorDetail{Category: CategoryExternalAPI, Code: code, Message: msg}, StatusError
	}
}

// vendorErrorMessage digs the human-readable message out of the common
// error body shapes used by OpenAI ({"error":{"message":...}}) and
// Anthropic ({"error":{"message":...}, "type":"error"}).
func vendorErrorMessage(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	for _, path := range []string{"error.message", "error", "message"} {
		if v := gjson.GetBytes(body, path); v.Exists() && v.Type == gjson.String {
			return v.String()
		}
	}
	return ""
}

func parseRetryAfter(header http.Header) time.Duration {
	raw := header.Get("Retry-After")
	if raw == "" {
		return 0
	}
	if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(raw); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
