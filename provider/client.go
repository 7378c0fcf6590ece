package provider

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/fogfish/opts"
	"github.com/go-openapi/strfmt"
)

const (
	// DefaultMaxAttempts bounds the retry loop, first try included.
	DefaultMaxAttempts = 3
	// DefaultTimeout applies when the caller did not supply an http.Client.
	DefaultTimeout = 60 * time.Second

	maxBackoff = 30 * time.Second
)

// Client wraps an Adapter with retries, error classification and health
// tracking. It is safe for concurrent use.
type Client struct {
	adapter     Adapter
	httpClient  *http.Client
	maxAttempts int
	health      *Health

	// sleep is swapped out in tests to avoid real backoff waits.
	sleep func(context.Context, time.Duration) error
}

var (
	// WithHTTPClient overrides the underlying HTTP client, including its
	// timeout.
	WithHTTPClient = opts.ForName[Client, *http.Client]("httpClient")
	// WithMaxAttempts bounds the retry loop, first try included.
	WithMaxAttempts = opts.ForName[Client, int]("maxAttempts")
)

// WithTimeout replaces the HTTP client with one using the given timeout.
func WithTimeout(d time.Duration) opts.Option[Client] {
	return opts.Type[Client](func(c *Client) error {
		c.httpClient = &http.Client{Timeout: d}
		return nil
	})
}

// NewClient builds a retrying client around an adapter.
func NewClient(adapter Adapter, options ...opts.Option[Client]) *Client {
	c := &Client{
		adapter:     adapter,
		httpClient:  &http.Client{Timeout: DefaultTimeout},
		maxAttempts: DefaultMaxAttempts,
		health:      NewHealth(),
		sleep:       sleepCtx,
	}
	if err := opts.Apply(c, options); err != nil {
		panic(err)
	}
	return c
}

// Name returns the wrapped adapter's provider tag.
func (c *Client) Name() string { return c.adapter.Name() }

// Health returns the current health snapshot for this provider.
func (c *Client) HealthSnapshot() HealthSnapshot {
	return c.health.Snapshot(c.adapter.Name())
}

// Complete invokes the provider, retrying retryable failures with
// exponential backoff. It never returns an error: all failure modes are
// folded into the Response status.
func (c *Client) Complete(ctx context.Context, req Request) Response {
	start := time.Now()

	if err := req.Validate(); err != nil {
		return Response{
			Provider:     c.adapter.Name(),
			Status:       StatusError,
			ErrorMessage: err.Error(),
			ErrorDetail:  &ErrorDetail{Category: CategoryValidation, Code: "invalid_request", Message: err.Error()},
			Timestamp:    strfmt.DateTime(time.Now()),
		}
	}

	var failed []FailedAttempt
	var lastDetail ErrorDetail
	lastStatus := StatusError

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		text, usage, detail, status, err := c.doOnce(ctx, req)
		if err == nil {
			c.health.Record(true, time.Since(start))
			resp := Response{
				Provider:  c.adapter.Name(),
				Text:      text,
				Status:    StatusSuccess,
				LatencyMS: time.Since(start).Milliseconds(),
				Usage:     usage,
				Timestamp: strfmt.DateTime(time.Now()),
			}
			if attempt > 1 {
				resp.Retry = &RetryInfo{
					TotalAttempts:     attempt,
					SuccessfulAttempt: attempt,
					FailedAttempts:    failed,
				}
			}
			return resp
		}

		lastDetail, lastStatus = detail, status
		failed = append(failed, FailedAttempt{
			Attempt:   attempt,
			Status:    status,
			Error:     detail.Message,
			Timestamp: strfmt.DateTime(time.Now()),
		})
		slog.Debug("provider attempt failed",
			slog.String("provider", c.adapter.Name()),
			slog.Int("attempt", attempt),
			slog.String("category", string(detail.Category)),
			slog.String("error", detail.Message),
		)

		if !detail.Category.Retryable() || attempt == c.maxAttempts {
			break
		}
		if err := c.sleep(ctx, backoff(attempt, detail.RetryAfter)); err != nil {
			// Context gone; stop retrying and surface what we have.
			break
		}
	}

	c.health.Record(false, time.Since(start))
	detail := lastDetail
	resp := Response{
		Provider:     c.adapter.Name(),
		Status:       lastStatus,
		ErrorMessage: detail.Message,
		ErrorDetail:  &detail,
		LatencyMS:    time.Since(start).Milliseconds(),
		Timestamp:    strfmt.DateTime(time.Now()),
	}
	if len(failed) > 1 {
		resp.Retry = &RetryInfo{
			TotalAttempts:  len(failed),
			FailedAttempts: failed,
		}
	}
	return resp
}

// HealthCheck issues a minimal single-shot probe through the adapter.
func (c *Client) HealthCheck(ctx context.Context) bool {
	start := time.Now()
	_, _, _, _, err := c.doOnce(ctx, Request{
		Prompt:      "ok",
		MaxTokens:   1,
		Temperature: 0,
	})
	c.health.Record(err == nil, time.Since(start))
	return err == nil
}

func (c *Client) doOnce(ctx context.Context, req Request) (text string, usage *Usage, detail ErrorDetail, status Status, err error) {
	payload, err := c.adapter.BuildPayload(req)
	if err != nil {
		detail = ErrorDetail{Category: CategoryInternal, Code: "build_payload", Message: err.Error()}
		return "", nil, detail, StatusError, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.adapter.BaseURL(), bytes.NewReader(payload))
	if err != nil {
		detail = ErrorDetail{Category: CategoryInternal, Code: "build_request", Message: err.Error()}
		return "", nil, detail, StatusError, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range c.adapter.Headers() {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		detail, status = classifyTransport(err)
		return "", nil, detail, status, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		detail, status = classifyTransport(err)
		return "", nil, detail, status, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, status = classifyHTTP(resp.StatusCode, resp.Header, body)
		return "", nil, detail, status, detail
	}

	text, err = c.adapter.ExtractText(body)
	if err != nil {
		// Shape mismatch: retrying the same endpoint will not change it.
		detail = ErrorDetail{Category: CategoryValidation, Code: "format", Message: err.Error()}
		return "", nil, detail, StatusError, err
	}

	return text, c.adapter.ExtractUsage(body), ErrorDetail{}, StatusSuccess, nil
}

// backoff computes the wait before the next attempt: 2^(attempt-1) seconds
// capped at 30, or the server's Retry-After when that is larger.
func backoff(attempt int, retryAfter time.Duration) time.Duration {
	wait := time.Duration(math.Pow(2, float64(attempt-1))) * time.Second
	if wait > maxBackoff {
		wait = maxBackoff
	}
	if retryAfter > wait {
		wait = retryAfter
	}
	return wait
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
