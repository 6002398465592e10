package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	noopmetric "go.opentelemetry.io/otel/metric/noop"

	"github.com/slok/taskforge/internal/model"
)

// Metric names.
const (
	MetricDispatchDuration     = "taskforge.dispatch.duration"
	MetricVerificationDuration = "taskforge.verification.duration"
	MetricVerdicts             = "taskforge.verification.verdicts"
	MetricTransitions          = "taskforge.lifecycle.transitions"
	MetricTokens               = "taskforge.executor.tokens"
	MetricCost                 = "taskforge.executor.cost"
)

// Metrics holds the metric instruments.
type Metrics struct {
	dispatchDuration     metric.Float64Histogram
	verificationDuration metric.Float64Histogram
	verdicts             metric.Int64Counter
	transitions          metric.Int64Counter
	tokens               metric.Int64Counter
	cost                 metric.Float64Counter
}

// Noop metrics discard every measure.
var Noop = MustNewMetrics(noopmetric.NewMeterProvider().Meter(InstrumentationName))

// NewMetrics creates the metric instruments from a meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.dispatchDuration, err = meter.Float64Histogram(MetricDispatchDuration,
		metric.WithDescription("Executor dispatch duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.verificationDuration, err = meter.Float64Histogram(MetricVerificationDuration,
		metric.WithDescription("Artifact verification duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.verdicts, err = meter.Int64Counter(MetricVerdicts,
		metric.WithDescription("Verification overall verdicts"),
	)
	if err != nil {
		return nil, err
	}

	m.transitions, err = meter.Int64Counter(MetricTransitions,
		metric.WithDescription("Task lifecycle transitions"),
	)
	if err != nil {
		return nil, err
	}

	m.tokens, err = meter.Int64Counter(MetricTokens,
		metric.WithDescription("Executor tokens consumed"),
	)
	if err != nil {
		return nil, err
	}

	m.cost, err = meter.Float64Counter(MetricCost,
		metric.WithDescription("Estimated executor cost"),
		metric.WithUnit("USD"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// MustNewMetrics is like NewMetrics but panics on error.
func MustNewMetrics(meter metric.Meter) *Metrics {
	m, err := NewMetrics(meter)
	if err != nil {
		panic(err)
	}
	return m
}

// ObserveDispatch records a dispatch with its outcome (ok, timeout, refusal, cancelled...).
func (m *Metrics) ObserveDispatch(ctx context.Context, outcome string, d time.Duration) {
	m.dispatchDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("outcome", outcome)))
}

// ObserveVerification records a verification verdict.
func (m *Metrics) ObserveVerification(ctx context.Context, overall model.OverallStatus, d time.Duration) {
	attrs := metric.WithAttributes(attribute.String("overall", string(overall)))
	m.verificationDuration.Record(ctx, d.Seconds(), attrs)
	m.verdicts.Add(ctx, 1, attrs)
}

// ObserveTransition records a lifecycle transition.
func (m *Metrics) ObserveTransition(ctx context.Context, from, to model.TaskState) {
	m.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", string(from)),
		attribute.String("to", string(to)),
	))
}

// ObserveUsage records the executor usage of an attempt.
func (m *Metrics) ObserveUsage(ctx context.Context, u model.Usage) {
	tier := attribute.String("tier", string(u.Tier))
	m.tokens.Add(ctx, int64(u.InputTokens), metric.WithAttributes(tier, attribute.String("direction", "input")))
	m.tokens.Add(ctx, int64(u.OutputTokens), metric.WithAttributes(tier, attribute.String("direction", "output")))
	m.cost.Add(ctx, u.CostUSD(), metric.WithAttributes(tier))
}
