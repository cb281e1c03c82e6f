package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_Disabled(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{})
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInit_Validation(t *testing.T) {
	_, err := Init(context.Background(), Config{Enabled: true, OTLPEndpoint: "localhost:4318"})
	assert.EqualError(t, err, "service name cannot be empty")

	_, err = Init(context.Background(), Config{Enabled: true, ServiceName: "flytwo-relay"})
	assert.EqualError(t, err, "otlp endpoint cannot be empty")
}

func TestInit_Enabled(t *testing.T) {
	// the exporter connects lazily, so no collector is needed
	shutdown, err := Init(context.Background(), Config{
		Enabled:      true,
		ServiceName:  "flytwo-relay",
		OTLPEndpoint: "localhost:4318",
		Insecure:     true,
	})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}
