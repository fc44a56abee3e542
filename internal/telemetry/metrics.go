// Package telemetry defines the lot-matching metric instruments.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Attribute keys for lotmatch-specific telemetry.
const (
	// AttrSymbol captures the tradable instrument symbol (e.g. BTC-USDT).
	AttrSymbol = attribute.Key("symbol")
	// AttrSide labels fill telemetry with Buy/Sell intent.
	AttrSide = attribute.Key("side")
	// AttrPolicy records the match policy the record runs with.
	AttrPolicy = attribute.Key("match.policy")
	// AttrResult records the outcome of an operation (accepted, rejected).
	AttrResult = attribute.Key("result")
)

// EngineMetrics carries the instruments published by the matching engine.
type EngineMetrics struct {
	fillsRecorded   metric.Int64Counter
	fillsRejected   metric.Int64Counter
	positionsClosed metric.Int64Counter
	openLots        metric.Int64UpDownCounter
	matchDuration   metric.Float64Histogram
}

// NewEngineMetrics registers the engine instruments against the global meter
// provider. Instrument registration failures degrade to no-op instruments.
func NewEngineMetrics() *EngineMetrics {
	meter := otel.Meter("lotmatch.engine")

	m := &EngineMetrics{
		fillsRecorded:   nil,
		fillsRejected:   nil,
		positionsClosed: nil,
		openLots:        nil,
		matchDuration:   nil,
	}

	m.fillsRecorded, _ = meter.Int64Counter("lotmatch_fills_recorded",
		metric.WithDescription("Fills accepted by the matching engine"),
		metric.WithUnit("{fill}"))

	m.fillsRejected, _ = meter.Int64Counter("lotmatch_fills_rejected",
		metric.WithDescription("Fills rejected before any book mutation"),
		metric.WithUnit("{fill}"))

	m.positionsClosed, _ = meter.Int64Counter("lotmatch_positions_closed",
		metric.WithDescription("Closed positions produced by exit matching"),
		metric.WithUnit("{position}"))

	m.openLots, _ = meter.Int64UpDownCounter("lotmatch_open_lots",
		metric.WithDescription("Net change in open lot count"),
		metric.WithUnit("{lot}"))

	m.matchDuration, _ = meter.Float64Histogram("lotmatch_match_duration",
		metric.WithDescription("Wall time spent applying one fill to a record"),
		metric.WithUnit("ms"))

	return m
}

// RecordFill counts an accepted fill and its match latency.
func (m *EngineMetrics) RecordFill(ctx context.Context, symbol, side, policy string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		AttrSymbol.String(symbol),
		AttrSide.String(side),
		AttrPolicy.String(policy),
	)
	if m.fillsRecorded != nil {
		m.fillsRecorded.Add(ctx, 1, attrs)
	}
	if m.matchDuration != nil {
		m.matchDuration.Record(ctx, float64(elapsed.Microseconds())/1000, attrs)
	}
}

// RecordRejection counts a fill the engine refused.
func (m *EngineMetrics) RecordRejection(ctx context.Context, symbol, reason string) {
	if m == nil || m.fillsRejected == nil {
		return
	}
	m.fillsRejected.Add(ctx, 1, metric.WithAttributes(
		AttrSymbol.String(symbol),
		AttrResult.String(reason),
	))
}

// RecordClosed counts the closed positions produced by one exit.
func (m *EngineMetrics) RecordClosed(ctx context.Context, symbol string, count int) {
	if m == nil || m.positionsClosed == nil || count <= 0 {
		return
	}
	m.positionsClosed.Add(ctx, int64(count), metric.WithAttributes(AttrSymbol.String(symbol)))
}

// AdjustOpenLots moves the open lot counter by delta, which may be negative.
func (m *EngineMetrics) AdjustOpenLots(ctx context.Context, symbol string, delta int) {
	if m == nil || m.openLots == nil || delta == 0 {
		return
	}
	m.openLots.Add(ctx, int64(delta), metric.WithAttributes(AttrSymbol.String(symbol)))
}
