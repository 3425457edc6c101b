package config

import (
	"os"
	"strconv"
	"time"
)

// Server captures process-level configuration. Domain configuration (the
// transition matrix, drift bands, escalation rules) is NOT here: it lives in
// the versioned catalog and changes only through the audited write path.
type Server struct {
	Addr          string
	JWTSigningKey string
	StoreTimeout  time.Duration

	HTTP     HTTPConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	Verifier VerifierConfig
}

// HTTPConfig bounds request handling on the listener.
type HTTPConfig struct {
	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
}

// PostgresConfig holds connection settings for the persistent store.
type PostgresConfig struct {
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
}

// RedisConfig holds connection settings for the session invalidation store.
// An empty URL disables Redis (in-memory fallback).
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// VerifierConfig controls the background integrity verification task.
type VerifierConfig struct {
	Interval   time.Duration
	SampleSize int
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	return Server{
		Addr:          envString("SMARTATTEND_ADDR", ":8080"),
		JWTSigningKey: envString("SMARTATTEND_JWT_SIGNING_KEY", ""),
		StoreTimeout:  envDuration("SMARTATTEND_STORE_TIMEOUT", 5*time.Second),
		HTTP: HTTPConfig{
			ReadHeaderTimeout: envDuration("SMARTATTEND_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
			ReadTimeout:       envDuration("SMARTATTEND_HTTP_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:      envDuration("SMARTATTEND_HTTP_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:       envDuration("SMARTATTEND_HTTP_IDLE_TIMEOUT", time.Minute),
		},
		Postgres: PostgresConfig{
			DSN:          os.Getenv("SMARTATTEND_POSTGRES_DSN"),
			MaxOpenConns: envInt("SMARTATTEND_POSTGRES_MAX_OPEN", 25),
			MaxIdleConns: envInt("SMARTATTEND_POSTGRES_MAX_IDLE", 5),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("SMARTATTEND_REDIS_URL"),
			PoolSize:     envInt("SMARTATTEND_REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("SMARTATTEND_REDIS_MIN_IDLE", 2),
			DialTimeout:  envDuration("SMARTATTEND_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("SMARTATTEND_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("SMARTATTEND_REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Verifier: VerifierConfig{
			Interval:   envDuration("SMARTATTEND_VERIFIER_INTERVAL", time.Minute),
			SampleSize: envInt("SMARTATTEND_VERIFIER_SAMPLE_SIZE", 50),
		},
	}
}

func envString(key, fallback string) string {
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
