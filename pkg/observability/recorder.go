package observability

import (
	"context"
	"sync"
	"time"
)

var (
	globalMetrics Metrics
	metricsMu     sync.RWMutex
)

// Metrics is the recording surface the research loop emits into. The
// Prometheus implementation satisfies it; tests may install fakes.
type Metrics interface {
	RecordCycle(ctx context.Context)
	RecordAgentCall(ctx context.Context, agent, model string, duration time.Duration, tokens int, err error)
	RecordGateDecision(ctx context.Context, decision string)
	RecordAuditVerdict(ctx context.Context, verdict string)
	RecordRoutingDecision(ctx context.Context, model string, degraded bool, savings float64)
	RecordCacheLookup(ctx context.Context, hit bool)
	RecordBreakerTransition(ctx context.Context, agent, from, to string)
	RecordEvictions(ctx context.Context, count int64)
	RecordRetrieval(ctx context.Context, duration time.Duration)
}

// SetGlobalMetrics installs the process-wide recorder.
func SetGlobalMetrics(m Metrics) {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	globalMetrics = m
}

// GetGlobalMetrics returns the installed recorder, nil when none is set.
func GetGlobalMetrics() Metrics {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	return globalMetrics
}

// Package-level helpers record against the global recorder so emitting
// packages need no plumbing. All are no-ops when nothing is installed.

func RecordCycle(ctx context.Context) {
	if m := GetGlobalMetrics(); m != nil {
		m.RecordCycle(ctx)
	}
}

func RecordAgentCall(ctx context.Context, agent, model string, duration time.Duration, tokens int, err error) {
	if m := GetGlobalMetrics(); m != nil {
		m.RecordAgentCall(ctx, agent, model, duration, tokens, err)
	}
}

func RecordGateDecision(ctx context.Context, decision string) {
	if m := GetGlobalMetrics(); m != nil {
		m.RecordGateDecision(ctx, decision)
	}
}

func RecordAuditVerdict(ctx context.Context, verdict string) {
	if m := GetGlobalMetrics(); m != nil {
		m.RecordAuditVerdict(ctx, verdict)
	}
}

func RecordRoutingDecision(ctx context.Context, model string, degraded bool, savings float64) {
	if m := GetGlobalMetrics(); m != nil {
		m.RecordRoutingDecision(ctx, model, degraded, savings)
	}
}

func RecordCacheLookup(ctx context.Context, hit bool) {
	if m := GetGlobalMetrics(); m != nil {
		m.RecordCacheLookup(ctx, hit)
	}
}

func RecordBreakerTransition(ctx context.Context, agent, from, to string) {
	if m := GetGlobalMetrics(); m != nil {
		m.RecordBreakerTransition(ctx, agent, from, to)
	}
}

func RecordEvictions(ctx context.Context, count int64) {
	if m := GetGlobalMetrics(); m != nil {
		m.RecordEvictions(ctx, count)
	}
}

func RecordRetrieval(ctx context.Context, duration time.Duration) {
	if m := GetGlobalMetrics(); m != nil {
		m.RecordRetrieval(ctx, duration)
	}
}
