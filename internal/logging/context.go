// Package logging carries the correlation identifiers of the execution
// (campaign, scenario, DAG, minion, step) in the context and injects them
// into the slog records.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

type ctxKey int

const (
	campaignKey ctxKey = iota
	scenarioKey
	dagKey
	minionKey
	stepKey
)

// correlations lists the keys in the order their attributes are emitted.
var correlations = []struct {
	key  ctxKey
	attr string
}{
	{campaignKey, "campaign"},
	{scenarioKey, "scenario"},
	{dagKey, "dag"},
	{minionKey, "minion"},
	{stepKey, "step"},
}

// WithCampaign returns a context carrying the campaign key.
func WithCampaign(ctx context.Context, campaign string) context.Context {
	return context.WithValue(ctx, campaignKey, campaign)
}

// WithScenario returns a context carrying the scenario name.
func WithScenario(ctx context.Context, scenario string) context.Context {
	return context.WithValue(ctx, scenarioKey, scenario)
}

// WithDAG returns a context carrying the DAG ID.
func WithDAG(ctx context.Context, dag string) context.Context {
	return context.WithValue(ctx, dagKey, dag)
}

// WithMinion returns a context carrying the minion ID.
func WithMinion(ctx context.Context, minion string) context.Context {
	return context.WithValue(ctx, minionKey, minion)
}

// WithStep returns a context carrying the step ID.
func WithStep(ctx context.Context, step string) context.Context {
	return context.WithValue(ctx, stepKey, step)
}

func Campaign(ctx context.Context) string { return value(ctx, campaignKey) }
func Scenario(ctx context.Context) string { return value(ctx, scenarioKey) }
func DAG(ctx context.Context) string      { return value(ctx, dagKey) }
func Minion(ctx context.Context) string   { return value(ctx, minionKey) }
func Step(ctx context.Context) string     { return value(ctx, stepKey) }

func value(ctx context.Context, key ctxKey) string {
	v, _ := ctx.Value(key).(string)
	return v
}

// attrs returns the non-empty correlation attributes of ctx.
func attrs(ctx context.Context) []slog.Attr {
	var out []slog.Attr
	for _, c := range correlations {
		if v := value(ctx, c.key); v != "" {
			out = append(out, slog.String(c.attr, v))
		}
	}
	return out
}

// LogWith returns a logger enriched with the correlation IDs of ctx.
func LogWith(ctx context.Context, logger *slog.Logger) *slog.Logger {
	for _, a := range attrs(ctx) {
		logger = logger.With(a)
	}
	return logger
}

// CorrelationHandler wraps an slog.Handler and adds the correlation IDs of
// the context to every record logged with a *Context method.
type CorrelationHandler struct {
	inner slog.Handler
}

// NewCorrelationHandler wraps inner.
func NewCorrelationHandler(inner slog.Handler) *CorrelationHandler {
	return &CorrelationHandler{inner: inner}
}

func (h *CorrelationHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *CorrelationHandler) Handle(ctx context.Context, r slog.Record) error {
	r.AddAttrs(attrs(ctx)...)
	return h.inner.Handle(ctx, r)
}

func (h *CorrelationHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *CorrelationHandler) WithGroup(name string) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithGroup(name)}
}

// New builds a logger writing to w in the given format ("text" or "json")
// at the given level, with correlation IDs injected.
func New(w io.Writer, format, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "", "text":
		handler = slog.NewTextHandler(w, opts)
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}
	return slog.New(NewCorrelationHandler(handler)), nil
}
