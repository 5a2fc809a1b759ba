// Package server provides configuration helpers that define runtime defaults,
// validation, and shared-store topology for the presence service.
package server

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Tyrowin/presence/internal/directory"
)

// Store and backplane drivers.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"

	BackplaneLocal = "local"
	BackplaneRedis = "redis"
	BackplaneNATS  = "nats"
)

// StoreConfig selects and configures the shared directory store.
type StoreConfig struct {
	Driver string
	Redis  directory.RedisConfig
}

// BackplaneConfig selects the cross-process broadcast transport.
type BackplaneConfig struct {
	Driver  string
	Channel string
	NATSURL string
}

// Config holds the server configuration settings including security controls.
type Config struct {
	Port           string
	AllowedOrigins []string
	MaxMessageSize int64
	NodeID         string
	// EventTimeout bounds the store round trips of one event. Zero means no bound.
	EventTimeout time.Duration
	Store        StoreConfig
	Backplane    BackplaneConfig
}

var (
	configMu      sync.RWMutex
	activeConfig  Config
	activeOrigins originPolicy
)

func init() {
	SetConfig(nil)
}

func defaultConfig() Config {
	return Config{
		Port: ":8080",
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		MaxMessageSize: 4096,
		Store: StoreConfig{
			Driver: StoreMemory,
			Redis:  directory.DefaultRedisConfig(),
		},
		Backplane: BackplaneConfig{
			Driver:  BackplaneLocal,
			NATSURL: "nats://localhost:4222",
		},
	}
}

func sanitizeConfig(cfg Config) Config {
	if cfg.Port == "" {
		cfg.Port = ":8080"
	}

	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 4096
	}

	if cfg.EventTimeout < 0 {
		cfg.EventTimeout = 0
	}

	if cfg.Store.Driver == "" {
		cfg.Store.Driver = StoreMemory
	}

	if cfg.Backplane.Driver == "" {
		cfg.Backplane.Driver = BackplaneLocal
	}

	policy, normalizedOrigins := newOriginPolicy(cfg.AllowedOrigins)
	cfg.AllowedOrigins = normalizedOrigins

	configMu.Lock()
	defer configMu.Unlock()

	activeConfig = cfg
	activeOrigins = policy

	return cfg
}

// SetConfig applies the provided configuration. Passing nil resets to defaults.
func SetConfig(cfg *Config) {
	if cfg == nil {
		defaultCfg := defaultConfig()
		sanitizeConfig(defaultCfg)
		return
	}

	sanitized := *cfg
	sanitized.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	sanitized.Store.Redis.Addrs = append([]string(nil), cfg.Store.Redis.Addrs...)
	sanitizeConfig(sanitized)
}

func currentConfig() Config {
	configMu.RLock()
	defer configMu.RUnlock()

	cfg := activeConfig
	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	return cfg
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// NewConfigFromEnv creates a Config instance from environment variables.
// Falls back to default values if environment variables are not set.
func NewConfigFromEnv() *Config {
	cfg := defaultConfig()

	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Port = port
	}

	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseList(origins)
	}

	if maxSize := os.Getenv("MAX_MESSAGE_SIZE"); maxSize != "" {
		cfg.MaxMessageSize = parseMaxMessageSize(maxSize, cfg.MaxMessageSize)
	}

	cfg.NodeID = os.Getenv("NODE_ID")
	if cfg.NodeID == "" {
		cfg.NodeID = uuid.NewString()
	}

	if timeout := os.Getenv("EVENT_TIMEOUT"); timeout != "" {
		cfg.EventTimeout = parseSeconds(timeout, cfg.EventTimeout)
	}

	loadStoreEnv(&cfg.Store)
	loadBackplaneEnv(&cfg.Backplane)

	return &cfg
}

func loadStoreEnv(store *StoreConfig) {
	if driver := os.Getenv("STORE_DRIVER"); driver != "" {
		store.Driver = strings.ToLower(driver)
	}

	var opts []directory.RedisOption
	if addrs := os.Getenv("REDIS_ADDRS"); addrs != "" {
		opts = append(opts, directory.WithRedisAddrs(parseList(addrs)...))
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		opts = append(opts, directory.WithRedisPassword(password))
	}
	if db := os.Getenv("REDIS_DB"); db != "" {
		opts = append(opts, directory.WithRedisDB(parseIntValue(db, 0)))
	}
	if protocol := os.Getenv("REDIS_PROTOCOL"); protocol != "" {
		opts = append(opts, directory.WithProtocol(parseIntValue(protocol, 0)))
	}
	if parseBool(os.Getenv("REDIS_CLUSTER")) {
		opts = append(opts, directory.WithCluster(parseBool(os.Getenv("REDIS_READ_REPLICAS"))))
	}

	defaults := directory.DefaultRedisConfig()
	maxRetries := defaults.MaxRetries
	if retries := os.Getenv("REDIS_MAX_RETRIES"); retries != "" {
		maxRetries = parseIntValue(retries, maxRetries)
	}
	minBackoff := parseMillis(os.Getenv("REDIS_MIN_RETRY_BACKOFF"), defaults.MinRetryBackoff)
	maxBackoff := parseMillis(os.Getenv("REDIS_MAX_RETRY_BACKOFF"), defaults.MaxRetryBackoff)
	opts = append(opts, directory.WithRetryBackoff(maxRetries, minBackoff, maxBackoff))

	store.Redis = directory.NewRedisConfig(opts...)
}

func loadBackplaneEnv(bp *BackplaneConfig) {
	if driver := os.Getenv("BACKPLANE_DRIVER"); driver != "" {
		bp.Driver = strings.ToLower(driver)
	}
	if channel := os.Getenv("BACKPLANE_CHANNEL"); channel != "" {
		bp.Channel = channel
	}
	if url := os.Getenv("NATS_URL"); url != "" {
		bp.NATSURL = url
	}
}

func parseList(value string) []string {
	parts := strings.Split(value, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseMaxMessageSize(value string, defaultValue int64) int64 {
	if size, err := strconv.ParseInt(value, 10, 64); err == nil && size > 0 {
		return size
	}
	return defaultValue
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed >= 0 {
		return parsed
	}
	return defaultValue
}

func parseBool(value string) bool {
	parsed, err := strconv.ParseBool(value)
	return err == nil && parsed
}

func parseSeconds(value string, defaultValue time.Duration) time.Duration {
	if seconds, err := strconv.Atoi(value); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}

func parseMillis(value string, defaultValue time.Duration) time.Duration {
	if value == "" {
		return defaultValue
	}
	if ms, err := strconv.Atoi(value); err == nil && ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultValue
}
