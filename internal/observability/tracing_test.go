package observability

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupDefaultEndpoint(t *testing.T) {
	cfg := Config{
		Endpoint:    "", // Empty should use default
		Environment: "test",
		ServiceName: "test-service",
	}

	ctx := context.Background()
	shutdown, err := Setup(ctx, cfg, slog.New(slog.DiscardHandler))

	// Exporter construction is lazy; no collector needs to be running.
	require.NoError(t, err)
	require.NotNil(t, shutdown)
}

func TestSetupCustomEndpoint(t *testing.T) {
	cfg := Config{
		Endpoint:    "custom-host:4318",
		Environment: "staging",
		ServiceName: "custom-service",
	}

	shutdown, err := Setup(context.Background(), cfg, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	require.NotNil(t, shutdown)
}

func TestDefaultEndpointValue(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "localhost:4318", DefaultEndpoint)
}
