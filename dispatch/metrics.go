package dispatch

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/hupe1980/agentrelay/dispatch"

// Outcome labels recorded on dispatch metrics.
const (
	outcomeSuccess     = "success"
	outcomeTimeout     = "timeout"
	outcomeRateLimited = "rate_limited"
	outcomeError       = "error"
	outcomeCanceled    = "canceled"
)

type instruments struct {
	calls    metric.Int64Counter
	retries  metric.Int64Counter
	latency  metric.Float64Histogram
	filtered metric.Int64Counter
}

func newInstruments(meter metric.Meter) *instruments {
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}
	// Constructors return a usable instrument alongside any name validation error.
	calls, _ := meter.Int64Counter("agentrelay.dispatch.calls",
		metric.WithDescription("Agent calls by outcome"))
	retries, _ := meter.Int64Counter("agentrelay.dispatch.retries",
		metric.WithDescription("Retried attempts after a rate limit"))
	latency, _ := meter.Float64Histogram("agentrelay.dispatch.latency",
		metric.WithDescription("Agent call latency including retries"),
		metric.WithUnit("ms"))
	filtered, _ := meter.Int64Counter("agentrelay.dispatch.filtered",
		metric.WithDescription("Agent responses replaced by the safety gate"))
	return &instruments{calls: calls, retries: retries, latency: latency, filtered: filtered}
}

func (m *instruments) record(ctx context.Context, agent, outcome string, elapsed time.Duration) {
	attrs := metric.WithAttributes(attribute.String("agent", agent), attribute.String("outcome", outcome))
	m.calls.Add(ctx, 1, attrs)
	m.latency.Record(ctx, float64(elapsed)/float64(time.Millisecond), attrs)
}

func (m *instruments) retry(ctx context.Context, agent string) {
	m.retries.Add(ctx, 1, metric.WithAttributes(attribute.String("agent", agent)))
}

func (m *instruments) filter(ctx context.Context, agent string) {
	m.filtered.Add(ctx, 1, metric.WithAttributes(attribute.String("agent", agent)))
}
