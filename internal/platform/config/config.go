package config

import (
	"os"
	"strconv"
	"time"
)

// Config captures process-level configuration. FromEnv keeps main lean.
type Config struct {
	Addr string

	// Version seeds the process-wide ticket signing key. Tickets signed by
	// a different version reject and force a login retry.
	Version string

	// StoreBackend selects the durable object store: memory, redis, s3 or
	// postgres.
	StoreBackend string

	Redis    RedisConfig
	S3       S3Config
	Postgres PostgresConfig

	// WebHost serves the provider login pages; empty selects the static page.
	WebHost string

	// MaxRotatorSessions caps the in-memory rotation map.
	MaxRotatorSessions int
}

// RedisConfig carries go-redis client knobs.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	ObjectTTL    time.Duration
}

// S3Config carries the object store knobs for the s3 backend.
type S3Config struct {
	Region       string
	BucketPrefix string
	Endpoint     string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
}

// PostgresConfig carries the DSN for the postgres backend.
type PostgresConfig struct {
	DSN string
}

// FromEnv builds a Config from environment variables.
func FromEnv() Config {
	return Config{
		Addr:         envOr("INVERSE_Y_ADDR", ":8080"),
		Version:      envOr("INVERSE_Y_VERSION", "dev"),
		StoreBackend: envOr("INVERSE_Y_STORE", "memory"),
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     envInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  envDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
			ObjectTTL:    envDuration("REDIS_OBJECT_TTL", 48*time.Hour),
		},
		S3: S3Config{
			Region:       envOr("AWS_REGION", "us-west-1"),
			BucketPrefix: envOr("S3_BUCKET_PREFIX", "tremho-services-"),
			Endpoint:     os.Getenv("S3_ENDPOINT"),
			AccessKey:    os.Getenv("S3_ACCESS_KEY"),
			SecretKey:    os.Getenv("S3_SECRET_KEY"),
			UsePathStyle: os.Getenv("S3_USE_PATH_STYLE") == "true",
		},
		Postgres: PostgresConfig{
			DSN: os.Getenv("POSTGRES_DSN"),
		},
		WebHost:            os.Getenv("INVERSE_Y_WEBHOST"),
		MaxRotatorSessions: envInt("INVERSE_Y_MAX_SESSIONS", 1000),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
