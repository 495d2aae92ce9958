package observability

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestZeroValueMetricsAreNilSafe(t *testing.T) {
	ctx := context.Background()

	metrics := &PrometheusMetrics{}

	metrics.RecordCycle(ctx)
	metrics.RecordAgentCall(ctx, "synthesizer", "gpt-4o-mini", 100*time.Millisecond, 150, nil)
	metrics.RecordAgentCall(ctx, "contrarian", "gpt-4o-mini", 200*time.Millisecond, 200, errors.New("boom"))
	metrics.RecordGateDecision(ctx, "debate")
	metrics.RecordAuditVerdict(ctx, "supported")
	metrics.RecordRoutingDecision(ctx, "gpt-4o-mini", false, 0.42)
	metrics.RecordRoutingDecision(ctx, "gpt-4o", true, 0)
	metrics.RecordCacheLookup(ctx, true)
	metrics.RecordCacheLookup(ctx, false)
	metrics.RecordBreakerTransition(ctx, "fact_checker", "closed", "open")
	metrics.RecordEvictions(ctx, 3)
	metrics.RecordRetrieval(ctx, 40*time.Millisecond)

	t.Log("✅ Zero-value metrics recorded successfully (nil-safe)")
}

func TestInitMetricsDisabled(t *testing.T) {
	ctx := context.Background()

	metrics, err := InitMetrics(ctx, MetricsConfig{Enabled: false})
	if err != nil {
		t.Fatalf("disabled metrics init failed: %v", err)
	}
	if metrics == nil {
		t.Fatal("expected a usable no-op recorder")
	}

	metrics.RecordCycle(ctx)
	metrics.RecordRetrieval(ctx, time.Millisecond)

	t.Log("✅ Disabled metrics return a safe no-op recorder")
}

func TestInitMetricsEnabled(t *testing.T) {
	ctx := context.Background()

	metrics, err := InitMetrics(ctx, MetricsConfig{Enabled: true})
	if err != nil {
		t.Fatalf("metrics init failed: %v", err)
	}

	metrics.RecordCycle(ctx)
	metrics.RecordAgentCall(ctx, "synthesizer", "gpt-4o-mini", 80*time.Millisecond, 120, nil)
	metrics.RecordGateDecision(ctx, "exit")
	metrics.RecordAuditVerdict(ctx, "unsupported")
	metrics.RecordEvictions(ctx, 1)

	t.Log("✅ Enabled metrics record against live instruments")
}

func TestInitGlobalTracerDisabled(t *testing.T) {
	ctx := context.Background()

	tp, err := InitGlobalTracer(ctx, TracerConfig{Enabled: false})
	if err != nil {
		t.Fatalf("disabled tracer init failed: %v", err)
	}

	_, span := tp.Tracer("test").Start(ctx, SpanQuery)
	span.End()

	t.Log("✅ Disabled tracing returns a usable noop provider")
}

func TestInitGlobalTracerStdout(t *testing.T) {
	ctx := context.Background()

	tp, err := InitGlobalTracer(ctx, TracerConfig{
		Enabled:      true,
		ExporterType: "stdout",
		ServiceName:  "autoresearch-test",
		SamplingRate: 0.5,
	})
	if err != nil {
		t.Fatalf("stdout tracer init failed: %v", err)
	}

	_, span := tp.Tracer("test").Start(ctx, SpanScout)
	span.End()

	if spt, ok := tp.(interface{ Shutdown(context.Context) error }); ok {
		if err := spt.Shutdown(ctx); err != nil {
			t.Fatalf("tracer shutdown failed: %v", err)
		}
	}

	t.Log("✅ Stdout tracer initialized and shut down cleanly")
}

func TestInitGlobalTracerUnknownExporter(t *testing.T) {
	ctx := context.Background()

	_, err := InitGlobalTracer(ctx, TracerConfig{
		Enabled:      true,
		ExporterType: "jaeger",
	})
	if err == nil {
		t.Fatal("expected an error for an unknown exporter type")
	}

	t.Log("✅ Unknown exporter type rejected")
}

func TestGlobalRecorderRoundTrip(t *testing.T) {
	ctx := context.Background()

	prev := GetGlobalMetrics()
	defer SetGlobalMetrics(prev)

	SetGlobalMetrics(nil)

	// Package helpers must tolerate an unset recorder.
	RecordCycle(ctx)
	RecordAgentCall(ctx, "synthesizer", "gpt-4o-mini", time.Millisecond, 10, nil)
	RecordGateDecision(ctx, "debate")
	RecordAuditVerdict(ctx, "needs_review")
	RecordRoutingDecision(ctx, "gpt-4o-mini", false, 0)
	RecordCacheLookup(ctx, true)
	RecordBreakerTransition(ctx, "researcher", "open", "half_open")
	RecordEvictions(ctx, 2)
	RecordRetrieval(ctx, time.Millisecond)

	metrics := &PrometheusMetrics{}
	SetGlobalMetrics(metrics)
	if got := GetGlobalMetrics(); got != metrics {
		t.Fatal("global recorder did not round-trip")
	}

	RecordCycle(ctx)
	RecordCacheLookup(ctx, false)

	t.Log("✅ Global recorder round-trips and helpers are nil-safe")
}

func TestManagerLifecycle(t *testing.T) {
	ctx := context.Background()

	prev := GetGlobalMetrics()
	defer SetGlobalMetrics(prev)

	manager := NewManager(Config{
		Tracing: TracerConfig{Enabled: false},
		Metrics: MetricsConfig{Enabled: false},
	})
	if err := manager.Initialize(ctx); err != nil {
		t.Fatalf("manager init failed: %v", err)
	}

	tracer := manager.GetTracer("test")
	_, span := tracer.Start(ctx, SpanCycle)
	span.End()

	if manager.GetMetrics() == nil {
		t.Fatal("expected a recorder after initialization")
	}

	if err := manager.Shutdown(ctx); err != nil {
		t.Fatalf("manager shutdown failed: %v", err)
	}

	t.Log("✅ Manager lifecycle completed")
}

func TestNoopManager(t *testing.T) {
	ctx := context.Background()

	manager := NoopManager()

	tracer := manager.GetTracer("test")
	_, span := tracer.Start(ctx, SpanAgentCall)
	span.End()

	if manager.GetMetrics() != nil {
		t.Fatal("noop manager should have no recorder")
	}
	if err := manager.Shutdown(ctx); err != nil {
		t.Fatalf("noop shutdown failed: %v", err)
	}

	t.Log("✅ Noop manager is safe without initialization")
}
