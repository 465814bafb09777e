package meters

import (
	"slices"
	"strings"
	"sync"
	"time"
)

// InMemoryRegistry keeps the measurements in memory. It backs the campaign
// reports and the tests.
type InMemoryRegistry struct {
	mu       sync.Mutex
	counters map[string]map[string]int64
	timers   map[string]map[string][]time.Duration
	gauges   map[string]map[string]int64
}

// NewInMemoryRegistry creates an empty registry.
func NewInMemoryRegistry() *InMemoryRegistry {
	return &InMemoryRegistry{
		counters: make(map[string]map[string]int64),
		timers:   make(map[string]map[string][]time.Duration),
		gauges:   make(map[string]map[string]int64),
	}
}

func (r *InMemoryRegistry) Counter(name string, tags Tags) Counter {
	return memoryCounter{r: r, name: name, key: tags.key()}
}

func (r *InMemoryRegistry) Timer(name string, tags Tags) Timer {
	return memoryTimer{r: r, name: name, key: tags.key()}
}

func (r *InMemoryRegistry) Gauge(name string, tags Tags) Gauge {
	return memoryGauge{r: r, name: name, key: tags.key()}
}

// CounterValue returns the count of the counter name with exactly tags.
func (r *InMemoryRegistry) CounterValue(name string, tags Tags) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counters[name][tags.key()]
}

// CounterTotal sums the counter name over all its tags.
func (r *InMemoryRegistry) CounterTotal(name string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var total int64
	for _, v := range r.counters[name] {
		total += v
	}
	return total
}

// CounterTotalWhere sums the counter name over all the tags sets containing
// the pair key=value.
func (r *InMemoryRegistry) CounterTotalWhere(name, key, value string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	needle := key + "=" + value
	var total int64
	for tagsKey, v := range r.counters[name] {
		if slices.Contains(strings.Split(tagsKey, ","), needle) {
			total += v
		}
	}
	return total
}

// TimerRecords returns the durations recorded by the timer name with tags.
func (r *InMemoryRegistry) TimerRecords(name string, tags Tags) []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.timers[name][tags.key()]...)
}

// TimerCountWhere counts the records of the timer name over all the tags
// sets containing the pair key=value.
func (r *InMemoryRegistry) TimerCountWhere(name, key, value string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	needle := key + "=" + value
	count := 0
	for tagsKey, records := range r.timers[name] {
		if slices.Contains(strings.Split(tagsKey, ","), needle) {
			count += len(records)
		}
	}
	return count
}

// GaugeValue returns the current value of the gauge name with tags.
func (r *InMemoryRegistry) GaugeValue(name string, tags Tags) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gauges[name][tags.key()]
}

func (r *InMemoryRegistry) add(store map[string]map[string]int64, name, key string, delta int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	byTags, ok := store[name]
	if !ok {
		byTags = make(map[string]int64)
		store[name] = byTags
	}
	byTags[key] += delta
}

type memoryCounter struct {
	r    *InMemoryRegistry
	name string
	key  string
}

func (c memoryCounter) Increment()  { c.r.add(c.r.counters, c.name, c.key, 1) }
func (c memoryCounter) Add(n int64) { c.r.add(c.r.counters, c.name, c.key, n) }

type memoryTimer struct {
	r    *InMemoryRegistry
	name string
	key  string
}

func (t memoryTimer) Record(d time.Duration) {
	t.r.mu.Lock()
	defer t.r.mu.Unlock()
	byTags, ok := t.r.timers[t.name]
	if !ok {
		byTags = make(map[string][]time.Duration)
		t.r.timers[t.name] = byTags
	}
	byTags[t.key] = append(byTags[t.key], d)
}

type memoryGauge struct {
	r    *InMemoryRegistry
	name string
	key  string
}

func (g memoryGauge) Add(delta int64) { g.r.add(g.r.gauges, g.name, g.key, delta) }
