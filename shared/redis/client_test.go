package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/flytwo-backend/shared/logger"
)

func TestNewClient(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client, err := NewClient(context.Background(), &Config{Addr: mr.Addr()}, logger.NewNop())
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, HealthCheck(context.Background(), client))

	mr.Close()
	err = HealthCheck(context.Background(), client)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis health check failed")
}

func TestNewClient_Unreachable(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()
	mr.Close()

	_, err = NewClient(context.Background(), &Config{Addr: addr}, logger.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to ping Redis")
}
