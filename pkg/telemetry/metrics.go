package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	metricsOnce        sync.Once
	metricsInitErr     error
	decisionCounter    metric.Int64Counter
	denialCounter      metric.Int64Counter
	violationCounter   metric.Int64Counter
	waivedCounter      metric.Int64Counter
	durationHistogram  metric.Float64Histogram
	riskScoreHistogram metric.Int64Histogram
)

// DecisionMetrics captures the fields needed to record decision telemetry.
type DecisionMetrics struct {
	Allowed    bool
	Reason     string
	RiskLevel  string
	RiskScore  int
	Violations int
	Waived     int
	Duration   time.Duration
}

// RecordDecision emits counters and histograms describing a composed decision.
func RecordDecision(ctx context.Context, m DecisionMetrics) {
	if err := ensureMetrics(); err != nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.Bool("decision.allowed", m.Allowed),
		attribute.String("decision.reason", m.Reason),
		attribute.String("risk.level", m.RiskLevel),
	}

	decisionCounter.Add(ctx, 1, metric.WithAttributes(attrs...))

	if !m.Allowed {
		denialCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	}

	if m.Violations > 0 {
		violationCounter.Add(ctx, int64(m.Violations), metric.WithAttributes(attrs...))
	}

	if m.Waived > 0 {
		waivedCounter.Add(ctx, int64(m.Waived), metric.WithAttributes(attrs...))
	}

	riskScoreHistogram.Record(ctx, int64(m.RiskScore), metric.WithAttributes(attrs...))

	if m.Duration > 0 {
		durationHistogram.Record(ctx, float64(m.Duration)/float64(time.Millisecond), metric.WithAttributes(attrs...))
	}
}

func ensureMetrics() error {
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter("arbiter.engine")

		decisionCounter, metricsInitErr = meter.Int64Counter(
			"arbiter.decisions_total",
			metric.WithDescription("Composed decisions partitioned by outcome and reason"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		denialCounter, metricsInitErr = meter.Int64Counter(
			"arbiter.denials_total",
			metric.WithDescription("Denied decisions partitioned by reason"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		violationCounter, metricsInitErr = meter.Int64Counter(
			"arbiter.violations_total",
			metric.WithDescription("Active violations raised during evaluation"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		waivedCounter, metricsInitErr = meter.Int64Counter(
			"arbiter.waived_violations_total",
			metric.WithDescription("Violations waived by an active exception entry"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		riskScoreHistogram, metricsInitErr = meter.Int64Histogram(
			"arbiter.risk_score",
			metric.WithDescription("Computed risk scores on the 0-100 scale"),
			metric.WithUnit("{score}"),
		)
		if metricsInitErr != nil {
			return
		}

		durationHistogram, metricsInitErr = meter.Float64Histogram(
			"arbiter.decision_duration_ms",
			metric.WithDescription("Observed end-to-end evaluation latency"),
			metric.WithUnit("ms"),
		)
	})

	return metricsInitErr
}

// RecordDecisionEvent attaches a coarse-grained decision event to the provided
// span without leaking request payload data.
func RecordDecisionEvent(span trace.Span, allowed bool, reason string, violations int) {
	if span == nil || !span.IsRecording() {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.Bool("decision.allowed", allowed),
		attribute.Int("decision.violations.count", violations),
	}

	if reason != "" {
		attrs = append(attrs, attribute.String("decision.reason", reason))
	}

	span.AddEvent("decision.composed", trace.WithAttributes(attrs...))
}
