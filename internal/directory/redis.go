package directory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig describes how to reach the shared store.
type RedisConfig struct {
	// Addrs lists one endpoint for a single node, or the seed nodes of a cluster.
	Addrs []string

	// Password is the Redis authentication password (optional).
	Password string

	// DB is the database number. Ignored in cluster mode.
	DB int

	// Cluster selects the cluster client even when only one seed is given.
	Cluster bool

	// ReadFromReplicas spreads read-only commands across replicas (cluster only).
	ReadFromReplicas bool

	// MaxRetries is the number of retries before a command fails.
	MaxRetries int

	// MinRetryBackoff and MaxRetryBackoff bound the delay between retries.
	MinRetryBackoff time.Duration
	MaxRetryBackoff time.Duration

	// PoolSize is the per-node connection pool size.
	PoolSize int

	// Protocol is the RESP version; zero lets the client negotiate.
	Protocol int
}

// DefaultRedisConfig returns a single-node configuration on localhost.
// The retry backoff grows by 100ms per attempt up to 3s.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addrs:           []string{"localhost:6379"},
		MaxRetries:      3,
		MinRetryBackoff: 100 * time.Millisecond,
		MaxRetryBackoff: 3 * time.Second,
		PoolSize:        50,
	}
}

// RedisOption modifies a RedisConfig.
type RedisOption func(*RedisConfig)

// WithRedisAddrs sets the endpoints.
func WithRedisAddrs(addrs ...string) RedisOption {
	return func(c *RedisConfig) {
		c.Addrs = append([]string(nil), addrs...)
	}
}

// WithRedisPassword sets the authentication password.
func WithRedisPassword(password string) RedisOption {
	return func(c *RedisConfig) {
		c.Password = password
	}
}

// WithRedisDB sets the database number.
func WithRedisDB(db int) RedisOption {
	return func(c *RedisConfig) {
		c.DB = db
	}
}

// WithCluster switches to the cluster client. readFromReplicas routes reads
// to random replicas.
func WithCluster(readFromReplicas bool) RedisOption {
	return func(c *RedisConfig) {
		c.Cluster = true
		c.ReadFromReplicas = readFromReplicas
	}
}

// WithRetryBackoff sets the retry count and backoff bounds.
func WithRetryBackoff(maxRetries int, minBackoff, maxBackoff time.Duration) RedisOption {
	return func(c *RedisConfig) {
		c.MaxRetries = maxRetries
		c.MinRetryBackoff = minBackoff
		c.MaxRetryBackoff = maxBackoff
	}
}

// WithProtocol pins the RESP protocol version.
func WithProtocol(protocol int) RedisOption {
	return func(c *RedisConfig) {
		c.Protocol = protocol
	}
}

// NewRedisConfig builds a RedisConfig from the defaults and the given options.
func NewRedisConfig(opts ...RedisOption) RedisConfig {
	cfg := DefaultRedisConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// NewRedisClient returns a cluster client when cfg.Cluster is set or more
// than one address is given, and a single-node client otherwise.
func NewRedisClient(cfg RedisConfig) redis.UniversalClient {
	addrs := cfg.Addrs
	if len(addrs) == 0 {
		addrs = DefaultRedisConfig().Addrs
	}

	if cfg.Cluster || len(addrs) > 1 {
		return redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:           addrs,
			Password:        cfg.Password,
			ReadOnly:        cfg.ReadFromReplicas,
			RouteRandomly:   cfg.ReadFromReplicas,
			MaxRetries:      cfg.MaxRetries,
			MinRetryBackoff: cfg.MinRetryBackoff,
			MaxRetryBackoff: cfg.MaxRetryBackoff,
			PoolSize:        cfg.PoolSize,
			Protocol:        cfg.Protocol,
			DialTimeout:     5 * time.Second,
			ReadTimeout:     3 * time.Second,
			WriteTimeout:    3 * time.Second,
		})
	}

	return redis.NewClient(&redis.Options{
		Addr:            addrs[0],
		Password:        cfg.Password,
		DB:              cfg.DB,
		MaxRetries:      cfg.MaxRetries,
		MinRetryBackoff: cfg.MinRetryBackoff,
		MaxRetryBackoff: cfg.MaxRetryBackoff,
		PoolSize:        cfg.PoolSize,
		Protocol:        cfg.Protocol,
		DialTimeout:     5 * time.Second,
		ReadTimeout:     3 * time.Second,
		WriteTimeout:    3 * time.Second,
	})
}

// RedisStore implements Store on Redis hashes and sets.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore wraps an existing client. The store owns the client from then
// on and closes it in Close.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// Client returns the underlying client, e.g. to share it with a pub/sub backplane.
func (s *RedisStore) Client() redis.UniversalClient {
	return s.client
}

// SetField runs HSET.
func (s *RedisStore) SetField(ctx context.Context, key, field string, value []byte) error {
	if err := s.client.HSet(ctx, key, field, value).Err(); err != nil {
		return unavailable("hset", key, err)
	}
	return nil
}

// GetField runs HGET.
func (s *RedisStore) GetField(ctx context.Context, key, field string) ([]byte, error) {
	value, err := s.client.HGet(ctx, key, field).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, unavailable("hget", key, err)
	}
	return value, nil
}

// DeleteField runs HDEL.
func (s *RedisStore) DeleteField(ctx context.Context, key, field string) error {
	if err := s.client.HDel(ctx, key, field).Err(); err != nil {
		return unavailable("hdel", key, err)
	}
	return nil
}

// Fields runs HGETALL.
func (s *RedisStore) Fields(ctx context.Context, key string) ([]Field, error) {
	values, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, unavailable("hgetall", key, err)
	}

	fields := make([]Field, 0, len(values))
	for name, value := range values {
		fields = append(fields, Field{Name: name, Value: []byte(value)})
	}
	return fields, nil
}

// AddMember runs SADD.
func (s *RedisStore) AddMember(ctx context.Context, key, member string) error {
	if err := s.client.SAdd(ctx, key, member).Err(); err != nil {
		return unavailable("sadd", key, err)
	}
	return nil
}

// Members runs SMEMBERS.
func (s *RedisStore) Members(ctx context.Context, key string) ([]string, error) {
	members, err := s.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, unavailable("smembers", key, err)
	}
	return members, nil
}

// Ping checks the connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return unavailable("ping", "", err)
	}
	return nil
}

// Close closes the Redis client.
func (s *RedisStore) Close() error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("failed to close Redis connection: %w", err)
	}
	return nil
}

func unavailable(op, key string, err error) error {
	if key == "" {
		return fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
	}
	return fmt.Errorf("%w: %s %s: %w", ErrUnavailable, op, key, err)
}
