// Package events records the execution events of the minions: a step started,
// failed, timed out... Events go to one or several sinks implementing Logger.
package events

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/qalipsis/qalipsis-oss-sub011/internal/logging"
)

// Level is the severity of an event.
type Level int

const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = [...]string{"TRACE", "DEBUG", "INFO", "WARN", "ERROR"}

func (l Level) String() string {
	if l < LevelTrace || l > LevelError {
		return "UNKNOWN"
	}
	return levelNames[l]
}

// ParseLevel parses the name of a level, case-insensitively.
func ParseLevel(s string) (Level, bool) {
	for i, name := range levelNames {
		if strings.EqualFold(name, s) {
			return Level(i), true
		}
	}
	return LevelInfo, false
}

// slogLevel maps the level onto slog. Trace has no slog equivalent and is
// logged below debug.
func (l Level) slogLevel() slog.Level {
	switch l {
	case LevelTrace:
		return slog.LevelDebug - 4
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Tags qualify an event.
type Tags map[string]string

// Event is a single execution event, correlated with the campaign, scenario,
// DAG, minion and step found in the context it was logged with.
type Event struct {
	Name      string
	Level     Level
	Timestamp time.Time
	Tags      Tags

	Campaign string
	Scenario string
	DAG      string
	Minion   string
	Step     string
}

// NewEvent builds an event stamped now and correlated with ctx.
func NewEvent(ctx context.Context, level Level, name string, tags Tags) Event {
	return Event{
		Name:      name,
		Level:     level,
		Timestamp: time.Now(),
		Tags:      tags,
		Campaign:  logging.Campaign(ctx),
		Scenario:  logging.Scenario(ctx),
		DAG:       logging.DAG(ctx),
		Minion:    logging.Minion(ctx),
		Step:      logging.Step(ctx),
	}
}

// Logger is a sink of events. Implementations must be safe for concurrent
// use and must not block the caller for long: they are called on the hot path
// of every step execution.
type Logger interface {
	Log(ctx context.Context, level Level, name string, tags Tags)
}

// Noop returns a logger discarding every event.
func Noop() Logger { return noopLogger{} }

type noopLogger struct{}

func (noopLogger) Log(context.Context, Level, string, Tags) {}

// Multi returns a logger forwarding every event to all the loggers.
func Multi(loggers ...Logger) Logger {
	flat := make(multiLogger, 0, len(loggers))
	for _, l := range loggers {
		if l != nil {
			flat = append(flat, l)
		}
	}
	return flat
}

type multiLogger []Logger

func (m multiLogger) Log(ctx context.Context, level Level, name string, tags Tags) {
	for _, l := range m {
		l.Log(ctx, level, name, tags)
	}
}

// AtLeast returns a logger forwarding to logger the events of at least
// level.
func AtLeast(logger Logger, level Level) Logger {
	return levelFilter{logger: logger, min: level}
}

type levelFilter struct {
	logger Logger
	min    Level
}

func (f levelFilter) Log(ctx context.Context, level Level, name string, tags Tags) {
	if level >= f.min {
		f.logger.Log(ctx, level, name, tags)
	}
}
