package directory

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr:     mr.Addr(),
		Protocol: 2,
	})
	store := NewRedisStore(client)
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store, mr
}

func TestRedisStoreHashOperations(t *testing.T) {
	ctx := context.Background()
	store, mr := setupRedisStore(t)

	require.NoError(t, store.SetField(ctx, UsersKey, "c1", []byte(`{"username":"alice","isActive":true}`)))
	require.NoError(t, store.SetField(ctx, UsersKey, "c2", []byte(`{"username":"bob","isActive":true}`)))

	assert.Equal(t, `{"username":"alice","isActive":true}`, mr.HGet(UsersKey, "c1"))

	value, err := store.GetField(ctx, UsersKey, "c2")
	require.NoError(t, err)
	assert.JSONEq(t, `{"username":"bob","isActive":true}`, string(value))

	_, err = store.GetField(ctx, UsersKey, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	fields, err := store.Fields(ctx, UsersKey)
	require.NoError(t, err)
	assert.Len(t, fields, 2)

	require.NoError(t, store.DeleteField(ctx, UsersKey, "c1"))
	require.NoError(t, store.DeleteField(ctx, UsersKey, "c1"))

	fields, err = store.Fields(ctx, UsersKey)
	require.NoError(t, err)
	require.Len(t, fields, 1)
	assert.Equal(t, "c2", fields[0].Name)
}

func TestRedisStoreSetOperations(t *testing.T) {
	ctx := context.Background()
	store, mr := setupRedisStore(t)

	require.NoError(t, store.AddMember(ctx, RoomsKey, "general"))
	require.NoError(t, store.AddMember(ctx, RoomsKey, "general"))
	require.NoError(t, store.AddMember(ctx, RoomsKey, "lobby"))

	members, err := store.Members(ctx, RoomsKey)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"general", "lobby"}, members)

	stored, err := mr.Members(RoomsKey)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"general", "lobby"}, stored)
}

func TestRedisStoreEmptyStructures(t *testing.T) {
	ctx := context.Background()
	store, _ := setupRedisStore(t)

	fields, err := store.Fields(ctx, UsersKey)
	require.NoError(t, err)
	assert.Empty(t, fields)

	members, err := store.Members(ctx, RoomsKey)
	require.NoError(t, err)
	assert.Empty(t, members)
}

func TestRedisStoreUnavailable(t *testing.T) {
	ctx := context.Background()
	store, mr := setupRedisStore(t)

	mr.SetError("ERR simulated outage")

	assert.ErrorIs(t, store.SetField(ctx, UsersKey, "c1", []byte("x")), ErrUnavailable)
	assert.ErrorIs(t, store.DeleteField(ctx, UsersKey, "c1"), ErrUnavailable)
	assert.ErrorIs(t, store.AddMember(ctx, RoomsKey, "general"), ErrUnavailable)

	_, err := store.Fields(ctx, UsersKey)
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = store.Members(ctx, RoomsKey)
	assert.ErrorIs(t, err, ErrUnavailable)

	mr.SetError("")
	assert.NoError(t, store.Ping(ctx))
}

func TestDirectoryOverRedis(t *testing.T) {
	ctx := context.Background()
	store, _ := setupRedisStore(t)
	dir := New(store)

	require.NoError(t, dir.Join(ctx, "c1", "alice"))
	require.NoError(t, dir.Join(ctx, "c2", "bob"))

	id, ok, err := dir.Resolve(ctx, "bob")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "c2", id)

	require.NoError(t, dir.Leave(ctx, "c2"))
	_, ok, err = dir.Resolve(ctx, "bob")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNewRedisConfigOptions(t *testing.T) {
	cfg := NewRedisConfig(
		WithRedisAddrs("redis-1:6379", "redis-2:6380"),
		WithRedisPassword("secret"),
		WithRedisDB(2),
		WithCluster(true),
		WithRetryBackoff(5, 50*time.Millisecond, time.Second),
		WithProtocol(2),
	)

	assert.Equal(t, []string{"redis-1:6379", "redis-2:6380"}, cfg.Addrs)
	assert.Equal(t, "secret", cfg.Password)
	assert.Equal(t, 2, cfg.DB)
	assert.True(t, cfg.Cluster)
	assert.True(t, cfg.ReadFromReplicas)
	assert.Equal(t, 5, cfg.MaxRetries)
	assert.Equal(t, 50*time.Millisecond, cfg.MinRetryBackoff)
	assert.Equal(t, time.Second, cfg.MaxRetryBackoff)
	assert.Equal(t, 2, cfg.Protocol)
}

func TestDefaultRedisConfig(t *testing.T) {
	cfg := DefaultRedisConfig()

	assert.Equal(t, []string{"localhost:6379"}, cfg.Addrs)
	assert.False(t, cfg.Cluster)
	assert.Equal(t, 100*time.Millisecond, cfg.MinRetryBackoff)
	assert.Equal(t, 3*time.Second, cfg.MaxRetryBackoff)
}

func TestNewRedisClientTopology(t *testing.T) {
	single := NewRedisClient(NewRedisConfig(WithRedisAddrs("localhost:6379")))
	defer single.Close()
	_, isSingle := single.(*redis.Client)
	assert.True(t, isSingle)

	cluster := NewRedisClient(NewRedisConfig(WithRedisAddrs("a:6379", "b:6379", "c:6379")))
	defer cluster.Close()
	_, isCluster := cluster.(*redis.ClusterClient)
	assert.True(t, isCluster)

	forced := NewRedisClient(NewRedisConfig(WithRedisAddrs("a:6379"), WithCluster(false)))
	defer forced.Close()
	_, isCluster = forced.(*redis.ClusterClient)
	assert.True(t, isCluster)
}
