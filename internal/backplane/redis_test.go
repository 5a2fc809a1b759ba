package backplane

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisBackplane(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), Protocol: 2})
	defer client.Close()

	bp := NewRedis(client, "")
	defer bp.Close()

	assert.Equal(t, DefaultChannel, bp.channel)
	exerciseBackplane(t, bp)
}

func TestRedisBackplaneSharedAcrossInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	clientA := redis.NewClient(&redis.Options{Addr: mr.Addr(), Protocol: 2})
	defer clientA.Close()
	clientB := redis.NewClient(&redis.Options{Addr: mr.Addr(), Protocol: 2})
	defer clientB.Close()

	nodeA := NewRedis(clientA, "frames")
	defer nodeA.Close()
	nodeB := NewRedis(clientB, "frames")
	defer nodeB.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := &collector{}
	require.NoError(t, nodeB.Subscribe(ctx, got.handle))
	require.NoError(t, nodeA.Publish(ctx, frameEnvelope(ScopeAll, 7)))

	envs := got.waitFor(t, 1)
	assert.JSONEq(t, `{"event":"test","data":7}`, string(envs[0].Frame))
}

func TestRedisBackplaneClosed(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), Protocol: 2})
	defer client.Close()

	bp := NewRedis(client, "frames")
	require.NoError(t, bp.Close())

	assert.ErrorIs(t, bp.Publish(context.Background(), frameEnvelope(ScopeAll, 1)), ErrClosed)
	assert.ErrorIs(t, bp.Subscribe(context.Background(), func(Envelope) {}), ErrClosed)
}

func TestRedisBackplaneCloseAfterCancel(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), Protocol: 2})
	defer client.Close()

	bp := NewRedis(client, "frames")
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, bp.Subscribe(ctx, func(Envelope) {}))
	cancel()

	require.Eventually(t, func() bool {
		bp.mu.Lock()
		defer bp.mu.Unlock()
		return len(bp.subs) == 0
	}, time.Second, 10*time.Millisecond)
	require.NoError(t, bp.Close())
}

func TestRedisBackplaneCancelRacesClose(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), Protocol: 2})
	defer client.Close()

	for range 20 {
		bp := NewRedis(client, "frames")
		ctx, cancel := context.WithCancel(context.Background())
		require.NoError(t, bp.Subscribe(ctx, func(Envelope) {}))
		cancel()
		require.NoError(t, bp.Close())
	}
}
