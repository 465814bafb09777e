// Package meters records the measurements of the step execution: counters,
// timers and gauges identified by a name and a set of tags.
package meters

import (
	"sort"
	"strings"
	"time"
)

// Tags qualify a meter, e.g. the step or minion it relates to.
type Tags map[string]string

// With returns a copy of the tags with the additional pair.
func (t Tags) With(key, value string) Tags {
	out := make(Tags, len(t)+1)
	for k, v := range t {
		out[k] = v
	}
	out[key] = value
	return out
}

// key returns a stable representation of the tags, usable as a map key.
func (t Tags) key() string {
	if len(t) == 0 {
		return ""
	}
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(t[k])
	}
	return b.String()
}

// Counter is a monotonic count.
type Counter interface {
	Increment()
	Add(n int64)
}

// Timer records durations.
type Timer interface {
	Record(d time.Duration)
}

// Gauge is a value moving up and down, such as the number of running steps.
type Gauge interface {
	Add(delta int64)
}

// Registry hands out meters. Implementations must be safe for concurrent use.
type Registry interface {
	Counter(name string, tags Tags) Counter
	Timer(name string, tags Tags) Timer
	Gauge(name string, tags Tags) Gauge
}

// Noop returns a registry discarding every measurement.
func Noop() Registry { return noopRegistry{} }

type noopRegistry struct{}

type noopMeter struct{}

func (noopMeter) Increment()                      {}
func (noopMeter) Add(int64)                       {}
func (noopMeter) Record(time.Duration)            {}
func (noopRegistry) Counter(string, Tags) Counter { return noopMeter{} }
func (noopRegistry) Timer(string, Tags) Timer     { return noopMeter{} }
func (noopRegistry) Gauge(string, Tags) Gauge     { return noopMeter{} }

// Tee fans every measurement out to all the registries.
func Tee(registries ...Registry) Registry {
	return teeRegistry(registries)
}

type teeRegistry []Registry

type teeCounter []Counter

func (c teeCounter) Increment() {
	for _, m := range c {
		m.Increment()
	}
}

func (c teeCounter) Add(n int64) {
	for _, m := range c {
		m.Add(n)
	}
}

type teeTimer []Timer

func (t teeTimer) Record(d time.Duration) {
	for _, m := range t {
		m.Record(d)
	}
}

type teeGauge []Gauge

func (g teeGauge) Add(delta int64) {
	for _, m := range g {
		m.Add(delta)
	}
}

func (r teeRegistry) Counter(name string, tags Tags) Counter {
	out := make(teeCounter, len(r))
	for i, reg := range r {
		out[i] = reg.Counter(name, tags)
	}
	return out
}

func (r teeRegistry) Timer(name string, tags Tags) Timer {
	out := make(teeTimer, len(r))
	for i, reg := range r {
		out[i] = reg.Timer(name, tags)
	}
	return out
}

func (r teeRegistry) Gauge(name string, tags Tags) Gauge {
	out := make(teeGauge, len(r))
	for i, reg := range r {
		out[i] = reg.Gauge(name, tags)
	}
	return out
}
