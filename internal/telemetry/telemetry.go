// Package telemetry is the span/metric abstraction the cascade reports
// through. The cascade only depends on the Hooks interface; deployments
// that run without a collector use Noop and lose nothing but visibility.
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

// Hooks receives spans and counters from the cascade and its drivers.
// Implementations must be safe for concurrent use and must never alter
// cascade semantics; errors inside an implementation stay inside it.
type Hooks interface {
	// StartSpan opens a span and returns the derived context plus an end
	// function the caller defers.
	StartSpan(ctx context.Context, name string) (context.Context, func())

	// AddCounter increments a named counter.
	AddCounter(ctx context.Context, name string, delta int64, tags map[string]string)

	// ObserveDuration records a latency observation in milliseconds.
	ObserveDuration(ctx context.Context, name string, d time.Duration, tags map[string]string)
}

// Noop discards everything. It is the default when no collector is wired.
type Noop struct{}

func (Noop) StartSpan(ctx context.Context, _ string) (context.Context, func()) {
	return ctx, func() {}
}

func (Noop) AddCounter(context.Context, string, int64, map[string]string) {}

func (Noop) ObserveDuration(context.Context, string, time.Duration, map[string]string) {}

// OTel forwards spans and metrics to whatever OpenTelemetry provider the
// process has installed globally. Instruments are created lazily and cached
// per name.
type OTel struct {
	tracer trace.Tracer
	meter  metric.Meter

	mu       sync.Mutex
	counters map[string]metric.Int64Counter
	hists    map[string]metric.Float64Histogram
}

// NewOTel builds hooks scoped to the given instrumentation name, e.g.
// "cascade".
func NewOTel(name string) *OTel {
	return &OTel{
		tracer:   otel.Tracer(name),
		meter:    otel.Meter(name),
		counters: make(map[string]metric.Int64Counter),
		hists:    make(map[string]metric.Float64Histogram),
	}
}

func (o *OTel) StartSpan(ctx context.Context, name string) (context.Context, func()) {
	ctx, span := o.tracer.Start(ctx, name)
	return ctx, func() { span.End() }
}

func (o *OTel) AddCounter(ctx context.Context, name string, delta int64, tags map[string]string) {
	o.mu.Lock()
	c, ok := o.counters[name]
	if !ok {
		var err error
		c, err = o.meter.Int64Counter(name)
		if err != nil {
			o.mu.Unlock()
			return
		}
		o.counters[name] = c
	}
	o.mu.Unlock()

	c.Add(ctx, delta, metric.WithAttributes(attrs(tags)...))
}

func (o *OTel) ObserveDuration(ctx context.Context, name string, d time.Duration, tags map[string]string) {
	o.mu.Lock()
	h, ok := o.hists[name]
	if !ok {
		var err error
		h, err = o.meter.Float64Histogram(name, metric.WithUnit("ms"))
		if err != nil {
			o.mu.Unlock()
			return
		}
		o.hists[name] = h
	}
	o.mu.Unlock()

	h.Record(ctx, float64(d)/float64(time.Millisecond), metric.WithAttributes(attrs(tags)...))
}

func attrs(tags map[string]string) []attribute.KeyValue {
	if len(tags) == 0 {
		return nil
	}
	kvs := make([]attribute.KeyValue, 0, len(tags))
	for k, v := range tags {
		kvs = append(kvs, attribute.String(k, v))
	}
	return kvs
}
