package events

import (
	"context"
	"log/slog"
)

// SlogLogger writes the events as slog records. Records below the level of
// the handler are not built at all.
type SlogLogger struct {
	logger *slog.Logger
}

// NewSlogLogger creates a logger writing to logger, slog.Default() if nil.
func NewSlogLogger(logger *slog.Logger) *SlogLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogLogger{logger: logger.With("component", "events")}
}

func (l *SlogLogger) Log(ctx context.Context, level Level, name string, tags Tags) {
	lvl := level.slogLevel()
	if !l.logger.Enabled(ctx, lvl) {
		return
	}
	attrs := make([]slog.Attr, 0, len(tags))
	for k, v := range tags {
		attrs = append(attrs, slog.String(k, v))
	}
	l.logger.LogAttrs(ctx, lvl, name, attrs...)
}
