package config

import (
	"os"
	"strconv"
	"time"
)

// Config carries every environment-driven setting. Fixed game-rule values
// live in constants.go; nothing here may change verification semantics.
type Config struct {
	// Upstream feed
	FeedURL       string
	FeedVersion   string // default simulator version when the feed omits one
	SnapshotEvery int

	// HTTP server
	ServerHost string
	ServerPort string

	// Stores
	DatabaseURL string
	RedisURL    string

	// Optional NATS mirror; empty disables it
	NatsURL     string
	NatsSubject string

	// Pipeline tuning
	RoundCacheCapacity int
	VerifyWorkers      int
	VerifyQueueSize    int
	BroadcastTimeout   time.Duration

	// Shutdown grace period for draining verification tasks
	ShutdownGrace time.Duration

	LogDir string
}

// Load reads the environment. Call after godotenv has run.
func Load() *Config {
	return &Config{
		FeedURL:       getEnv("FEED_URL", "wss://backend.rugs.fun/ws"),
		FeedVersion:   getEnv("FEED_VERSION", "v3"),
		SnapshotEvery: getEnvInt("SNAPSHOT_EVERY", SnapshotEvery),

		ServerHost: getEnv("SERVER_HOST", DefaultServerHost),
		ServerPort: getEnv("SERVER_PORT", DefaultServerPort),

		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    getEnv("REDIS_URL", "redis://localhost:6379/0"),

		NatsURL:     os.Getenv("NATS_URL"),
		NatsSubject: getEnv("NATS_SUBJECT_PREFIX", "rugs.events"),

		RoundCacheCapacity: getEnvInt("ROUND_CACHE_CAPACITY", RoundCacheCapacity),
		VerifyWorkers:      getEnvInt("VERIFY_WORKERS", VerifyWorkers),
		VerifyQueueSize:    getEnvInt("VERIFY_QUEUE_SIZE", VerifyQueueSize),
		BroadcastTimeout:   getEnvDuration("BROADCAST_TIMEOUT", BroadcastSendTimeout),

		ShutdownGrace: getEnvDuration("SHUTDOWN_GRACE", 15*time.Second),

		LogDir: getEnv("LOG_DIR", "logs"),
	}
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return c.ServerHost + ":" + c.ServerPort
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
