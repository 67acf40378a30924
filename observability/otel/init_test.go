package otel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseHeaders(t *testing.T) {
	headers := ParseHeaders(" authorization = Bearer x ,broken,=empty, tenant=cdp ")
	require.Equal(t, map[string]string{"authorization": "Bearer x", "tenant": "cdp"}, headers)
	require.Empty(t, ParseHeaders(""))
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	cfg := ConfigFromEnv("cdpd", "dev")
	require.False(t, cfg.Metrics)
	require.False(t, cfg.Traces)
	require.True(t, cfg.Insecure)

	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4318")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "false")
	t.Setenv("OTEL_EXPORTER_OTLP_HEADERS", "x-team=risk")
	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "0.25")
	cfg = ConfigFromEnv("cdpd", " prod ")
	require.True(t, cfg.Metrics)
	require.True(t, cfg.Traces)
	require.False(t, cfg.Insecure)
	require.Equal(t, "prod", cfg.Environment)
	require.Equal(t, "risk", cfg.Headers["x-team"])
	require.InDelta(t, 0.25, cfg.SampleRatio, 1e-12)
}

func TestInitDisabledIsNoop(t *testing.T) {
	_, err := Init(context.Background(), Config{})
	require.Error(t, err)

	shutdown, err := Init(context.Background(), Config{ServiceName: "cdpd"})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestSamplerFor(t *testing.T) {
	require.Contains(t, samplerFor(0).Description(), "AlwaysOnSampler")
	require.Contains(t, samplerFor(0.5).Description(), "TraceIDRatioBased")
}
