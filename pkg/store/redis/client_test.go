package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/servicehub/orchestrator/pkg/config"
)

func TestNewClientConnects(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := NewClient(context.Background(), &config.RedisConfig{Addresses: []string{mr.Addr()}, PoolSize: 2})
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.Client().Set(context.Background(), "k", "v", 0).Err())
	got, err := mr.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)
}

func TestNewClientNotConfigured(t *testing.T) {
	_, err := NewClient(context.Background(), &config.RedisConfig{})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestNewClientUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewClient(context.Background(), &config.RedisConfig{Addresses: []string{addr}})
	assert.Error(t, err)
}
