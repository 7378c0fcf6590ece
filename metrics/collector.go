// Package metrics collects per-orchestration timings and counters, keeps
// daily aggregates and derives system-level alerts. All state is process
// local behind one mutex; a multi-process deployment would replace the
// collector with a shared store without changing call sites.
package metrics

import (
	"fmt"
	"sync"
	"time"

	"github.com/consejo-ai/consejo/provider"
)

// Step names of an orchestration round.
const (
	StepContextRetrieval   = "context_retrieval"
	StepAIOrchestration    = "ai_orchestration"
	StepModeratorSynthesis = "moderator_synthesis"
	StepBackgroundSave     = "background_save"
)

const (
	maxCompleted         = 1000
	highLatencyThreshold = 10 * time.Second
)

// Orchestration is the metric record of one round.
type Orchestration struct {
	InteractionID string
	ProjectID     string
	UserID        string
	Start         time.Time
	End           time.Time

	StepTimings map[string]time.Duration

	ChunksFound      int
	AIResponses      int
	AIFailures       int
	ModeratorQuality string
	FallbackUsed     bool

	Errors   []string
	Warnings []string
}

// Succeeded reports whether the round finished without errors.
func (o *Orchestration) Succeeded() bool { return len(o.Errors) == 0 }

type dailyAggregate struct {
	Total      int
	Successful int
	Failed     int
	// rolling average over the day's rounds
	AvgProcessing time.Duration
}

// Collector tracks live and completed orchestrations.
type Collector struct {
	mu        sync.Mutex
	active    map[string]*Orchestration
	completed []*Orchestration
	daily     map[string]*dailyAggregate
	now       func() time.Time
}

// NewCollector returns an empty collector.
func NewCollector() *Collector {
	return &Collector{
		active: make(map[string]*Orchestration),
		daily:  make(map[string]*dailyAggregate),
		now:    time.Now,
	}
}

// Begin registers a new in-flight orchestration.
func (c *Collector) Begin(interactionID, projectID, userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active[interactionID] = &Orchestration{
		InteractionID: interactionID,
		ProjectID:     projectID,
		UserID:        userID,
		Start:         c.now(),
		StepTimings:   make(map[string]time.Duration),
	}
}

// RecordStep stores the duration of one pipeline step.
func (c *Collector) RecordStep(interactionID, step string, d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if o, ok := c.active[interactionID]; ok {
		o.StepTimings[step] = d
	}
}

// RecordCounters updates the per-round counters.
func (c *Collector) RecordCounters(interactionID string, chunksFound, aiResponses, aiFailures int, moderatorQuality string, fallbackUsed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if o, ok := c.active[interactionID]; ok {
		o.ChunksFound = chunksFound
		o.AIResponses = aiResponses
		o.AIFailures = aiFailures
		o.ModeratorQuality = moderatorQuality
		o.FallbackUsed = fallbackUsed
	}
}

// RecordError and RecordWarning are non-fatal by design: metrics must
// never block the main path.
func (c *Collector) RecordError(interactionID, msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if o, ok := c.active[interactionID]; ok {
		o.Errors = append(o.Errors, msg)
	}
}

func (c *Collector) RecordWarning(interactionID, msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if o, ok := c.active[interactionID]; ok {
		o.Warnings = append(o.Warnings, msg)
	}
}

// Finish moves the orchestration to the bounded completed FIFO and folds
// it into the daily aggregate.
func (c *Collector) Finish(interactionID string) *Orchestration {
	c.mu.Lock()
	defer c.mu.Unlock()

	o, ok := c.active[interactionID]
	if !ok {
		return nil
	}
	delete(c.active, interactionID)
	o.End = c.now()

	c.completed = append(c.completed, o)
	if len(c.completed) > maxCompleted {
		c.completed = c.completed[len(c.completed)-maxCompleted:]
	}

	day := o.End.UTC().Format("2006-01-02")
	agg, ok := c.daily[day]
	if !ok {
		agg = &dailyAggregate{}
		c.daily[day] = agg
	}
	agg.Total++
	if o.Succeeded() {
		agg.Successful++
	} else {
		agg.Failed++
	}
	elapsed := o.End.Sub(o.Start)
	agg.AvgProcessing += (elapsed - agg.AvgProcessing) / time.Duration(agg.Total)

	return o
}

// SystemHealth is the derived operational view.
type SystemHealth struct {
	OverallStatus        string                    `json:"overall_status"`
	ActiveOrchestrations int                       `json:"active_orchestrations"`
	TodaySuccessRate     float64                   `json:"today_success_rate"`
	AvgProcessingMS      int64                     `json:"avg_processing_ms"`
	Providers            []provider.HealthSnapshot `json:"providers"`
	Alerts               []string                  `json:"alerts"`
}

// Health derives the system view from today's aggregate and the provider
// health snapshots.
func (c *Collector) Health(providers []provider.HealthSnapshot) SystemHealth {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := SystemHealth{
		OverallStatus:        "healthy",
		ActiveOrchestrations: len(c.active),
		TodaySuccessRate:     1,
		Providers:            providers,
	}

	if agg, ok := c.daily[c.now().UTC().Format("2006-01-02")]; ok && agg.Total > 0 {
		out.TodaySuccessRate = float64(agg.Successful) / float64(agg.Total)
		out.AvgProcessingMS = agg.AvgProcessing.Milliseconds()
		if agg.AvgProcessing > highLatencyThreshold {
			out.Alerts = append(out.Alerts, fmt.Sprintf("high average processing time: %s", agg.AvgProcessing))
		}
	}

	unhealthy := 0
	for _, p := range providers {
		if p.ConsecutiveFailures >= 5 {
			out.Alerts = append(out.Alerts, fmt.Sprintf("provider %s: %d consecutive failures", p.Provider, p.ConsecutiveFailures))
		}
		if p.Status == provider.HealthUnhealthy {
			unhealthy++
		}
	}

	switch {
	case len(providers) > 0 && unhealthy == len(providers):
		out.OverallStatus = "unavailable"
		out.Alerts = append(out.Alerts, "all providers unhealthy")
	case unhealthy > 0 || out.TodaySuccessRate < 0.8 || len(out.Alerts) > 0:
		out.OverallStatus = "degraded"
	}

	return out
}

// CleanupOldData prunes daily aggregates beyond the retention horizon.
func (c *Collector) CleanupOldData(days int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := c.now().UTC().AddDate(0, 0, -days).Format("2006-01-02")
	for day := range c.daily {
		if day < cutoff {
			delete(c.daily, day)
		}
	}
}
