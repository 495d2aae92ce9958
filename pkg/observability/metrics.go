package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// MetricsConfig configures the Prometheus metric pipeline.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// InitMetrics builds the instrument set on a Prometheus exporter. A
// disabled config returns an empty recorder whose methods are no-ops, so
// callers never branch on the flag.
func InitMetrics(ctx context.Context, cfg MetricsConfig) (*PrometheusMetrics, error) {
	if !cfg.Enabled {
		return &PrometheusMetrics{}, nil
	}

	promExporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(promExporter),
	)

	meter := meterProvider.Meter("autoresearch")

	cycles, err := meter.Int64Counter(
		"autoresearch_cycles_total",
		metric.WithDescription("Total debate cycles run"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cycles counter: %w", err)
	}

	agentDuration, err := meter.Float64Histogram(
		"autoresearch_agent_call_duration_seconds",
		metric.WithDescription("Agent call duration in seconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create agent duration histogram: %w", err)
	}

	agentCalls, err := meter.Int64Counter(
		"autoresearch_agent_calls_total",
		metric.WithDescription("Total agent calls"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create agent calls counter: %w", err)
	}

	agentErrors, err := meter.Int64Counter(
		"autoresearch_agent_errors_total",
		metric.WithDescription("Total agent errors"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create agent errors counter: %w", err)
	}

	agentTokens, err := meter.Int64Counter(
		"autoresearch_agent_tokens_total",
		metric.WithDescription("Total tokens used by agents"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create agent tokens counter: %w", err)
	}

	gateDecisions, err := meter.Int64Counter(
		"autoresearch_gate_decisions_total",
		metric.WithDescription("Gate decisions by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create gate decisions counter: %w", err)
	}

	auditVerdicts, err := meter.Int64Counter(
		"autoresearch_audit_verdicts_total",
		metric.WithDescription("Audit verdicts by status"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create audit verdicts counter: %w", err)
	}

	routingDecisions, err := meter.Int64Counter(
		"autoresearch_routing_decisions_total",
		metric.WithDescription("Model routing decisions"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create routing decisions counter: %w", err)
	}

	routingSavings, err := meter.Float64Counter(
		"autoresearch_routing_cost_savings_total",
		metric.WithDescription("Estimated cost saved against the default-model baseline"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create routing savings counter: %w", err)
	}

	cacheHits, err := meter.Int64Counter(
		"autoresearch_cache_hits_total",
		metric.WithDescription("Retrieval cache hits"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache hits counter: %w", err)
	}

	breakerTransitions, err := meter.Int64Counter(
		"autoresearch_breaker_transitions_total",
		metric.WithDescription("Per-agent circuit breaker state transitions"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create breaker transitions counter: %w", err)
	}

	evictions, err := meter.Int64Counter(
		"autoresearch_evictions_total",
		metric.WithDescription("Claims evicted from the resident graph"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create evictions counter: %w", err)
	}

	retrievalDuration, err := meter.Float64Histogram(
		"autoresearch_retrieval_duration_seconds",
		metric.WithDescription("Retrieval lookup duration in seconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create retrieval duration histogram: %w", err)
	}

	return NewPrometheusMetrics(
		cycles,
		agentDuration,
		agentCalls,
		agentErrors,
		agentTokens,
		gateDecisions,
		auditVerdicts,
		routingDecisions,
		routingSavings,
		cacheHits,
		breakerTransitions,
		evictions,
		retrievalDuration,
	), nil
}

// PrometheusMetrics records research-loop metrics through OpenTelemetry
// instruments. The zero value is a safe no-op recorder.
type PrometheusMetrics struct {
	cyclesTotal metric.Int64Counter

	agentDuration    metric.Float64Histogram
	agentCallsTotal  metric.Int64Counter
	agentErrorsTotal metric.Int64Counter
	agentTokensTotal metric.Int64Counter

	gateDecisionsTotal metric.Int64Counter
	auditVerdictsTotal metric.Int64Counter

	routingDecisionsTotal metric.Int64Counter
	routingSavingsTotal   metric.Float64Counter

	cacheHitsTotal          metric.Int64Counter
	breakerTransitionsTotal metric.Int64Counter
	evictionsTotal          metric.Int64Counter

	retrievalDuration metric.Float64Histogram
}

func NewPrometheusMetrics(
	cyclesTotal metric.Int64Counter,
	agentDuration metric.Float64Histogram,
	agentCallsTotal metric.Int64Counter,
	agentErrorsTotal metric.Int64Counter,
	agentTokensTotal metric.Int64Counter,
	gateDecisionsTotal metric.Int64Counter,
	auditVerdictsTotal metric.Int64Counter,
	routingDecisionsTotal metric.Int64Counter,
	routingSavingsTotal metric.Float64Counter,
	cacheHitsTotal metric.Int64Counter,
	breakerTransitionsTotal metric.Int64Counter,
	evictionsTotal metric.Int64Counter,
	retrievalDuration metric.Float64Histogram,
) *PrometheusMetrics {
	return &PrometheusMetrics{
		cyclesTotal:             cyclesTotal,
		agentDuration:           agentDuration,
		agentCallsTotal:         agentCallsTotal,
		agentErrorsTotal:        agentErrorsTotal,
		agentTokensTotal:        agentTokensTotal,
		gateDecisionsTotal:      gateDecisionsTotal,
		auditVerdictsTotal:      auditVerdictsTotal,
		routingDecisionsTotal:   routingDecisionsTotal,
		routingSavingsTotal:     routingSavingsTotal,
		cacheHitsTotal:          cacheHitsTotal,
		breakerTransitionsTotal: breakerTransitionsTotal,
		evictionsTotal:          evictionsTotal,
		retrievalDuration:       retrievalDuration,
	}
}

// RecordCycle counts one completed debate cycle.
func (m *PrometheusMetrics) RecordCycle(ctx context.Context) {
	if m == nil || m.cyclesTotal == nil {
		return
	}
	m.cyclesTotal.Add(ctx, 1)
}

// RecordAgentCall records one agent execution: duration, token volume, and
// the error outcome.
func (m *PrometheusMetrics) RecordAgentCall(ctx context.Context, agent, model string, duration time.Duration, tokens int, err error) {
	if m == nil || m.agentDuration == nil || m.agentCallsTotal == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String(AttrAgentName, agent),
		attribute.String(AttrModel, model),
	}

	m.agentDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	m.agentCallsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))

	if tokens > 0 && m.agentTokensTotal != nil {
		m.agentTokensTotal.Add(ctx, int64(tokens), metric.WithAttributes(attrs...))
	}

	if err != nil && m.agentErrorsTotal != nil {
		m.agentErrorsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// RecordGateDecision counts one gate outcome (exit or loop count).
func (m *PrometheusMetrics) RecordGateDecision(ctx context.Context, decision string) {
	if m == nil || m.gateDecisionsTotal == nil {
		return
	}
	m.gateDecisionsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrGateDecision, decision),
	))
}

// RecordAuditVerdict counts one per-claim audit status.
func (m *PrometheusMetrics) RecordAuditVerdict(ctx context.Context, verdict string) {
	if m == nil || m.auditVerdictsTotal == nil {
		return
	}
	m.auditVerdictsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrAuditVerdict, verdict),
	))
}

// RecordRoutingDecision counts one model selection and its estimated
// savings. The savings counter is monotonic, so negative savings only
// count the decision.
func (m *PrometheusMetrics) RecordRoutingDecision(ctx context.Context, model string, degraded bool, savings float64) {
	if m == nil || m.routingDecisionsTotal == nil {
		return
	}

	m.routingDecisionsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrModel, model),
		attribute.Bool(AttrRoutingDegraded, degraded),
	))

	if savings > 0 && m.routingSavingsTotal != nil {
		m.routingSavingsTotal.Add(ctx, savings, metric.WithAttributes(
			attribute.String(AttrModel, model),
		))
	}
}

// RecordCacheLookup counts retrieval cache hits.
func (m *PrometheusMetrics) RecordCacheLookup(ctx context.Context, hit bool) {
	if m == nil || m.cacheHitsTotal == nil || !hit {
		return
	}
	m.cacheHitsTotal.Add(ctx, 1)
}

// RecordBreakerTransition counts one per-agent breaker state change.
func (m *PrometheusMetrics) RecordBreakerTransition(ctx context.Context, agent, from, to string) {
	if m == nil || m.breakerTransitionsTotal == nil {
		return
	}
	m.breakerTransitionsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrAgentName, agent),
		attribute.String(AttrBreakerFrom, from),
		attribute.String(AttrBreakerTo, to),
	))
}

// RecordEvictions counts claims dropped by the RAM budget enforcer.
func (m *PrometheusMetrics) RecordEvictions(ctx context.Context, count int64) {
	if m == nil || m.evictionsTotal == nil || count <= 0 {
		return
	}
	m.evictionsTotal.Add(ctx, count)
}

// RecordRetrieval records one merged lookup duration.
func (m *PrometheusMetrics) RecordRetrieval(ctx context.Context, duration time.Duration) {
	if m == nil || m.retrievalDuration == nil {
		return
	}
	m.retrievalDuration.Record(ctx, duration.Seconds())
}
