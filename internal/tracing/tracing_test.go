package tracing

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kenneth/djbf-gateway/internal/config"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestInit_Disabled(t *testing.T) {
	p, err := Init(context.Background(), config.TracingConfig{Enabled: false}, quietLogger())
	require.NoError(t, err)

	_, span := p.Tracer().Start(context.Background(), "noop")
	assert.False(t, span.SpanContext().IsValid())
	span.End()

	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestInit_StdoutExporter(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.TracingConfig{
		Enabled:        true,
		ServiceName:    "djbf-test",
		ServiceVersion: "0.0.1",
		Exporter:       "stdout",
		SamplingRatio:  1.0,
	}

	p, err := Init(context.Background(), cfg, quietLogger(), WithWriter(&buf))
	require.NoError(t, err)

	_, span := p.Tracer().Start(context.Background(), "djbf.decode")
	assert.True(t, span.SpanContext().IsSampled())
	span.End()

	require.NoError(t, p.Shutdown(context.Background()))
	assert.Contains(t, buf.String(), "djbf.decode")
	assert.Contains(t, buf.String(), "djbf-test")
}

func TestInit_ZeroRatioDropsSpans(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.TracingConfig{Enabled: true, ServiceName: "djbf-test", Exporter: "stdout", SamplingRatio: 0}

	p, err := Init(context.Background(), cfg, quietLogger(), WithWriter(&buf))
	require.NoError(t, err)

	_, span := p.Tracer().Start(context.Background(), "dropped")
	assert.False(t, span.SpanContext().IsSampled())
	span.End()

	require.NoError(t, p.Shutdown(context.Background()))
	assert.NotContains(t, buf.String(), "dropped")
}

func TestInit_UnknownExporter(t *testing.T) {
	_, err := Init(context.Background(), config.TracingConfig{Enabled: true, Exporter: "jaeger", SamplingRatio: 1}, quietLogger())
	assert.Error(t, err)
}
