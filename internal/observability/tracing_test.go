package observability

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"notifyd/internal/config"
	logx "notifyd/pkg/logx"
)

func TestSetupTracingDisabledIsNoop(t *testing.T) {
	shutdown, err := SetupTracing(context.Background(), config.TracingConfig{}, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestSetupTracingRequiresEndpoint(t *testing.T) {
	_, err := SetupTracing(context.Background(), config.TracingConfig{Enabled: true}, logx.Nop())
	require.ErrorContains(t, err, "endpoint required")
}

func TestSetupTracingEnabled(t *testing.T) {
	cfg := config.TracingConfig{Enabled: true, Endpoint: "127.0.0.1:1", Insecure: true, SampleRate: 0.5}
	shutdown, err := SetupTracing(context.Background(), cfg, logx.Nop())
	require.NoError(t, err)

	// No spans were recorded, so shutdown does not need the collector.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, shutdown(ctx))
}

func TestSampleRate(t *testing.T) {
	require.Equal(t, 1.0, sampleRate(0))
	require.Equal(t, 0.25, sampleRate(0.25))
	require.Equal(t, 1.0, sampleRate(3))
}
