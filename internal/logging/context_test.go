package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func correlatedContext() context.Context {
	ctx := context.Background()
	ctx = WithCampaign(ctx, "camp-1")
	ctx = WithScenario(ctx, "checkout")
	ctx = WithDAG(ctx, "dag-1")
	ctx = WithMinion(ctx, "minion-7")
	return WithStep(ctx, "step-x")
}

func TestContextKeys(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, "", Campaign(ctx))
	assert.Equal(t, "", Step(ctx))

	ctx = correlatedContext()
	assert.Equal(t, "camp-1", Campaign(ctx))
	assert.Equal(t, "checkout", Scenario(ctx))
	assert.Equal(t, "dag-1", DAG(ctx))
	assert.Equal(t, "minion-7", Minion(ctx))
	assert.Equal(t, "step-x", Step(ctx))
}

func TestLogWith(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	LogWith(correlatedContext(), logger).Info("step executed")

	out := buf.String()
	assert.Contains(t, out, "campaign=camp-1")
	assert.Contains(t, out, "minion=minion-7")
	assert.Contains(t, out, "step=step-x")
	assert.Contains(t, out, "step executed")
}

func TestLogWithMissingKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	LogWith(WithMinion(context.Background(), "m-1"), logger).Info("hello")

	out := buf.String()
	assert.Contains(t, out, "minion=m-1")
	assert.NotContains(t, out, "campaign=")
	assert.NotContains(t, out, "step=")
}

func TestCorrelationHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewCorrelationHandler(slog.NewTextHandler(&buf, nil))).With("component", "runner")

	logger.InfoContext(correlatedContext(), "started")

	out := buf.String()
	assert.Contains(t, out, "component=runner")
	assert.Contains(t, out, "dag=dag-1")
	assert.Contains(t, out, "scenario=checkout")
}

func TestNew(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&buf, "json", "debug")
	require.NoError(t, err)

	logger.DebugContext(WithStep(context.Background(), "s1"), "debugging")
	assert.Contains(t, buf.String(), `"step":"s1"`)

	_, err = New(&buf, "xml", "info")
	assert.Error(t, err)
	_, err = New(&buf, "text", "loud")
	assert.Error(t, err)
}
