package meters

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestInMemoryRegistry(t *testing.T) {
	r := NewInMemoryRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Counter("executed-steps", Tags{"step": "s1"}).Increment()
			r.Gauge("running-steps", Tags{}).Add(1)
		}()
	}
	wg.Wait()
	r.Counter("executed-steps", Tags{"step": "s2"}).Add(5)
	r.Timer("step-execution", Tags{"step": "s1", "status": "completed"}).Record(time.Second)
	r.Timer("step-execution", Tags{"step": "s2", "status": "failed"}).Record(time.Second)

	assert.Equal(t, int64(50), r.CounterValue("executed-steps", Tags{"step": "s1"}))
	assert.Equal(t, int64(55), r.CounterTotal("executed-steps"))
	assert.Equal(t, int64(50), r.GaugeValue("running-steps", nil))
	assert.Equal(t, []time.Duration{time.Second}, r.TimerRecords("step-execution", Tags{"status": "completed", "step": "s1"}))
	assert.Equal(t, 1, r.TimerCountWhere("step-execution", "status", "failed"))
	assert.Equal(t, 0, r.TimerCountWhere("step-execution", "status", "cancelled"))
	assert.Equal(t, int64(5), r.CounterTotalWhere("executed-steps", "step", "s2"))
	assert.Equal(t, int64(0), r.CounterTotalWhere("executed-steps", "step", "s3"))
}

func TestTee(t *testing.T) {
	a, b := NewInMemoryRegistry(), NewInMemoryRegistry()
	r := Tee(a, b, Noop())

	r.Counter("c", nil).Increment()
	r.Gauge("g", nil).Add(-2)
	r.Timer("t", nil).Record(time.Millisecond)

	for _, reg := range []*InMemoryRegistry{a, b} {
		assert.Equal(t, int64(1), reg.CounterValue("c", nil))
		assert.Equal(t, int64(-2), reg.GaugeValue("g", nil))
		assert.Len(t, reg.TimerRecords("t", nil), 1)
	}
}

func TestTags_With(t *testing.T) {
	base := Tags{"step": "s1"}
	extended := base.With("status", "completed")

	assert.Equal(t, Tags{"step": "s1"}, base)
	assert.Equal(t, Tags{"step": "s1", "status": "completed"}, extended)
}

func TestFromContext(t *testing.T) {
	fallback, carried := NewInMemoryRegistry(), NewInMemoryRegistry()

	assert.Same(t, fallback, FromContext(context.Background(), fallback))

	ctx := NewContext(context.Background(), carried)
	FromContext(ctx, fallback).Counter("c", nil).Increment()
	assert.Equal(t, int64(1), carried.CounterValue("c", nil))
	assert.Zero(t, fallback.CounterValue("c", nil))
}
