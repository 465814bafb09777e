package meters

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelRegistry records the meters as OpenTelemetry instruments. Counters are
// Int64Counter, timers Float64Histogram in seconds and gauges
// Int64UpDownCounter. Instruments are created once per name.
type OTelRegistry struct {
	meter  metric.Meter
	logger *slog.Logger

	mu         sync.RWMutex
	counters   map[string]metric.Int64Counter
	histograms map[string]metric.Float64Histogram
	gauges     map[string]metric.Int64UpDownCounter
}

// NewOTelRegistry creates a registry creating its instruments from meter.
func NewOTelRegistry(meter metric.Meter, logger *slog.Logger) *OTelRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &OTelRegistry{
		meter:      meter,
		logger:     logger,
		counters:   make(map[string]metric.Int64Counter),
		histograms: make(map[string]metric.Float64Histogram),
		gauges:     make(map[string]metric.Int64UpDownCounter),
	}
}

func (r *OTelRegistry) Counter(name string, tags Tags) Counter {
	inst, ok := instrument(r, r.counters, name, func() (metric.Int64Counter, error) {
		return r.meter.Int64Counter(name)
	})
	if !ok {
		return noopMeter{}
	}
	return otelCounter{inst: inst, attrs: attributes(tags)}
}

func (r *OTelRegistry) Timer(name string, tags Tags) Timer {
	inst, ok := instrument(r, r.histograms, name, func() (metric.Float64Histogram, error) {
		return r.meter.Float64Histogram(name, metric.WithUnit("s"))
	})
	if !ok {
		return noopMeter{}
	}
	return otelTimer{inst: inst, attrs: attributes(tags)}
}

func (r *OTelRegistry) Gauge(name string, tags Tags) Gauge {
	inst, ok := instrument(r, r.gauges, name, func() (metric.Int64UpDownCounter, error) {
		return r.meter.Int64UpDownCounter(name)
	})
	if !ok {
		return noopMeter{}
	}
	return otelGauge{inst: inst, attrs: attributes(tags)}
}

// instrument returns the cached instrument of name, creating it when missing.
func instrument[I any](r *OTelRegistry, cache map[string]I, name string, create func() (I, error)) (I, bool) {
	r.mu.RLock()
	inst, ok := cache[name]
	r.mu.RUnlock()
	if ok {
		return inst, true
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if inst, ok = cache[name]; ok {
		return inst, true
	}
	inst, err := create()
	if err != nil {
		r.logger.Warn("cannot create instrument", "meter", name, "error", err)
		return inst, false
	}
	cache[name] = inst
	return inst, true
}

func attributes(tags Tags) metric.MeasurementOption {
	kvs := make([]attribute.KeyValue, 0, len(tags))
	for k, v := range tags {
		kvs = append(kvs, attribute.String(k, v))
	}
	return metric.WithAttributes(kvs...)
}

type otelCounter struct {
	inst  metric.Int64Counter
	attrs metric.MeasurementOption
}

func (c otelCounter) Increment()  { c.inst.Add(context.Background(), 1, c.attrs) }
func (c otelCounter) Add(n int64) { c.inst.Add(context.Background(), n, c.attrs) }

type otelTimer struct {
	inst  metric.Float64Histogram
	attrs metric.MeasurementOption
}

func (t otelTimer) Record(d time.Duration) {
	t.inst.Record(context.Background(), d.Seconds(), t.attrs)
}

type otelGauge struct {
	inst  metric.Int64UpDownCounter
	attrs metric.MeasurementOption
}

func (g otelGauge) Add(delta int64) { g.inst.Add(context.Background(), delta, g.attrs) }
