package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricOpts describes an instrument
type MetricOpts struct {
	Name        string
	Description string
	Unit        string
}

// Counter is a monotonic int64 counter
type Counter struct {
	counter metric.Int64Counter
}

// NewCounter registers a counter on the global meter provider
func NewCounter(opts MetricOpts) (*Counter, error) {
	c, err := otel.Meter(InstrumentationName).Int64Counter(opts.Name,
		metric.WithDescription(opts.Description),
		metric.WithUnit(opts.Unit),
	)
	if err != nil {
		return nil, err
	}
	return &Counter{counter: c}, nil
}

// Add increments the counter. Safe on a nil receiver.
func (c *Counter) Add(ctx context.Context, n int64, attrs ...attribute.KeyValue) {
	if c == nil {
		return
	}
	c.counter.Add(ctx, n, metric.WithAttributes(attrs...))
}

// Histogram records float64 distributions
type Histogram struct {
	histogram metric.Float64Histogram
}

// NewHistogram registers a histogram on the global meter provider
func NewHistogram(opts MetricOpts) (*Histogram, error) {
	h, err := otel.Meter(InstrumentationName).Float64Histogram(opts.Name,
		metric.WithDescription(opts.Description),
		metric.WithUnit(opts.Unit),
	)
	if err != nil {
		return nil, err
	}
	return &Histogram{histogram: h}, nil
}

// Record adds a sample. Safe on a nil receiver.
func (h *Histogram) Record(ctx context.Context, v float64, attrs ...attribute.KeyValue) {
	if h == nil {
		return
	}
	h.histogram.Record(ctx, v, metric.WithAttributes(attrs...))
}

// NewHistogramWithBuckets registers a histogram with explicit bucket boundaries
func NewHistogramWithBuckets(opts MetricOpts, buckets []float64) (*Histogram, error) {
	h, err := otel.Meter(InstrumentationName).Float64Histogram(opts.Name,
		metric.WithDescription(opts.Description),
		metric.WithUnit(opts.Unit),
		metric.WithExplicitBucketBoundaries(buckets...),
	)
	if err != nil {
		return nil, err
	}
	return &Histogram{histogram: h}, nil
}
