package provider

import (
	"sync"
	"time"
)

// HealthStatus is the derived condition of a provider over the rolling
// window.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
	HealthUnknown   HealthStatus = "unknown"
)

const (
	healthWindow            = 24 * time.Hour
	unhealthyAfterFailures  = 5
	degradedBelowSuccessPct = 0.8
)

type healthSample struct {
	at      time.Time
	ok      bool
	latency time.Duration
}

// Health keeps a rolling 24h window of call outcomes for one adapter.
// All mutation happens under the mutex; a Client owns exactly one Health.
type Health struct {
	mu                  sync.Mutex
	samples             []healthSample
	consecutiveFailures int
	now                 func() time.Time
}

// NewHealth returns an empty health window.
func NewHealth() *Health {
	return &Health{now: time.Now}
}

// Record appends one call outcome and drops samples older than the window.
func (h *Health) Record(ok bool, latency time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.now()
	h.samples = append(h.samples, healthSample{at: now, ok: ok, latency: latency})
	h.purgeLocked(now)

	if ok {
		h.consecutiveFailures = 0
	} else {
		h.consecutiveFailures++
	}
}

func (h *Health) purgeLocked(now time.Time) {
	cutoff := now.Add(-healthWindow)
	idx := 0
	for idx < len(h.samples) && h.samples[idx].at.Before(cutoff) {
		idx++
	}
	if idx > 0 {
		h.samples = append(h.samples[:0], h.samples[idx:]...)
	}
}

// HealthSnapshot is a point-in-time view of a provider's health.
type HealthSnapshot struct {
	Provider            string       `json:"provider"`
	Status              HealthStatus `json:"status"`
	SuccessRate24h      float64      `json:"success_rate_24h"`
	AvgLatencyMS        int64        `json:"avg_latency_ms"`
	TotalCalls24h       int          `json:"total_calls_24h"`
	FailedCalls24h      int          `json:"failed_calls_24h"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
}

// Snapshot recomputes the rolling metrics and derives the status.
func (h *Health) Snapshot(providerName string) HealthSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.purgeLocked(h.now())

	snap := HealthSnapshot{
		Provider:            providerName,
		Status:              HealthUnknown,
		ConsecutiveFailures: h.consecutiveFailures,
	}
	if len(h.samples) == 0 {
		return snap
	}

	var okCount int
	var totalLatency time.Duration
	for _, s := range h.samples {
		if s.ok {
			okCount++
		}
		totalLatency += s.latency
	}

	snap.TotalCalls24h = len(h.samples)
	snap.FailedCalls24h = len(h.samples) - okCount
	snap.SuccessRate24h = float64(okCount) / float64(len(h.samples))
	snap.AvgLatencyMS = (totalLatency / time.Duration(len(h.samples))).Milliseconds()

	switch {
	case h.consecutiveFailures >= unhealthyAfterFailures:
		snap.Status = HealthUnhealthy
	case snap.SuccessRate24h < degradedBelowSuccessPct:
		snap.Status = HealthDegraded
	default:
		snap.Status = HealthHealthy
	}
	return snap
}
