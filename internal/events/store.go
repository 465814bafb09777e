package events

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/qalipsis/qalipsis-oss-sub011/internal/store"
)

// EventAppender persists batches of events.
type EventAppender interface {
	AppendEvents(ctx context.Context, events []*store.Event) error
}

// StoreLoggerConfig tunes the StoreLogger.
type StoreLoggerConfig struct {
	// BufferSize is the number of events waiting to be written, beyond which
	// new events are dropped.
	BufferSize int
	// BatchSize is the maximal number of events written at once.
	BatchSize int
	// FlushInterval is the longest time an event waits in the buffer.
	FlushInterval time.Duration
	// MinLevel is the lowest level persisted.
	MinLevel Level
}

func (c StoreLoggerConfig) withDefaults() StoreLoggerConfig {
	if c.BufferSize <= 0 {
		c.BufferSize = 4096
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 200
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = time.Second
	}
	return c
}

// StoreLogger persists the events asynchronously: Log only enqueues, a
// background goroutine writes the batches.
type StoreLogger struct {
	appender EventAppender
	config   StoreLoggerConfig
	logger   *slog.Logger

	// mu makes enqueuing and closing the queue mutually exclusive.
	mu      sync.RWMutex
	closed  bool
	queue   chan *store.Event
	done    chan struct{}
	dropped atomic.Int64
}

// NewStoreLogger starts a StoreLogger writing to appender. Close must be
// called to flush the pending events and stop the writer.
func NewStoreLogger(appender EventAppender, config StoreLoggerConfig, logger *slog.Logger) *StoreLogger {
	if logger == nil {
		logger = slog.Default()
	}
	config = config.withDefaults()
	l := &StoreLogger{
		appender: appender,
		config:   config,
		logger:   logger.With("component", "event-store"),
		queue:    make(chan *store.Event, config.BufferSize),
		done:     make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *StoreLogger) Log(ctx context.Context, level Level, name string, tags Tags) {
	if level < l.config.MinLevel {
		return
	}
	e := NewEvent(ctx, level, name, tags)
	row := &store.Event{
		Campaign:  e.Campaign,
		Name:      e.Name,
		Level:     e.Level.String(),
		Scenario:  e.Scenario,
		DAG:       e.DAG,
		Minion:    e.Minion,
		Step:      e.Step,
		Tags:      e.Tags,
		Timestamp: e.Timestamp.UTC(),
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return
	}
	select {
	case l.queue <- row:
	default:
		l.dropped.Add(1)
	}
}

// Dropped returns the number of events lost because the buffer was full.
func (l *StoreLogger) Dropped() int64 {
	return l.dropped.Load()
}

// Close stops accepting events, writes the pending ones and waits for the
// writer to exit or ctx to be done.
func (l *StoreLogger) Close(ctx context.Context) error {
	l.mu.Lock()
	if !l.closed {
		l.closed = true
		close(l.queue)
	}
	l.mu.Unlock()

	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *StoreLogger) run() {
	defer close(l.done)

	ticker := time.NewTicker(l.config.FlushInterval)
	defer ticker.Stop()

	batch := make([]*store.Event, 0, l.config.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := l.appender.AppendEvents(context.Background(), batch); err != nil {
			l.logger.Error("cannot persist events", "count", len(batch), "error", err)
		}
		batch = make([]*store.Event, 0, l.config.BatchSize)
	}

	for {
		select {
		case e, ok := <-l.queue:
			if !ok {
				flush()
				return
			}
			batch = append(batch, e)
			if len(batch) >= l.config.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
