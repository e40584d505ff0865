// Package observe holds the OpenTelemetry instruments of the stem
// separation service and the Prometheus bridge that exposes them.
//
// Tests should build [Metrics] through [NewMetrics] with their own
// [metric.MeterProvider] so that readings do not leak between tests.
package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/cwbudde/algo-karaoke"

// Separation outcome labels.
const (
	StatusOK          = "ok"
	StatusRejected    = "rejected"
	StatusTimeout     = "timeout"
	StatusFailed      = "failed"
	StatusUnavailable = "unavailable"
)

// Metrics holds the service instruments. All fields are safe for
// concurrent use.
type Metrics struct {
	// Separations counts finished separation requests by model, format and
	// status.
	Separations metric.Int64Counter

	// SeparationDuration tracks wall time of the separation tool per model.
	SeparationDuration metric.Float64Histogram

	// ActiveSeparations is the number of separations holding a worker slot.
	ActiveSeparations metric.Int64UpDownCounter

	// ArchiveBytes tracks the size of the produced stem archives.
	ArchiveBytes metric.Int64Histogram

	// HTTPRequestDuration tracks request latency by method, route and status.
	HTTPRequestDuration metric.Float64Histogram
}

// separationBuckets covers seconds-long to multi-minute runs.
var separationBuckets = []float64{
	1, 5, 10, 20, 30, 60, 90, 120, 180, 240, 300,
}

var httpBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 5, 30, 120, 300,
}

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.Separations, err = m.Int64Counter("karaoke.separations",
		metric.WithDescription("Finished stem separations by model, format and status."),
	); err != nil {
		return nil, err
	}
	if met.SeparationDuration, err = m.Float64Histogram("karaoke.separation.duration",
		metric.WithDescription("Run time of the separation tool."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(separationBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ActiveSeparations, err = m.Int64UpDownCounter("karaoke.separations.active",
		metric.WithDescription("Separations currently holding a worker slot."),
	); err != nil {
		return nil, err
	}
	if met.ArchiveBytes, err = m.Int64Histogram("karaoke.archive.size",
		metric.WithDescription("Size of produced stem archives."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("karaoke.http.request.duration",
		metric.WithDescription("HTTP request latency by method, route and status."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(httpBuckets...),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// RecordSeparation counts one finished separation and, for runs that
// reached the tool, records its duration.
func (m *Metrics) RecordSeparation(ctx context.Context, model, format, status string, took time.Duration) {
	if m == nil {
		return
	}

	m.Separations.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("model", model),
			attribute.String("format", format),
			attribute.String("status", status),
		),
	)

	if took > 0 {
		m.SeparationDuration.Record(ctx, took.Seconds(),
			metric.WithAttributes(attribute.String("model", model)),
		)
	}
}

// TrackActive increments the active gauge and returns the matching
// decrement.
func (m *Metrics) TrackActive(ctx context.Context) func() {
	if m == nil {
		return func() {}
	}

	m.ActiveSeparations.Add(ctx, 1)

	return func() { m.ActiveSeparations.Add(ctx, -1) }
}

// RecordArchive records the size of a produced archive.
func (m *Metrics) RecordArchive(ctx context.Context, model string, size int64) {
	if m == nil {
		return
	}

	m.ArchiveBytes.Record(ctx, size, metric.WithAttributes(attribute.String("model", model)))
}
