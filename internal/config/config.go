package config

import (
	"os"
	"strconv"
	"time"

	"taskline/internal/log"

	"github.com/joho/godotenv"
)

// Config holds every engine knob. All intervals and windows come from the
// environment so serverless and long-lived deployments can tune them without
// a rebuild.
type Config struct {
	HTTPAddr    string
	DatabaseDSN string
	RedisAddr   string
	JWTSecret   string
	SweepToken  string

	SweepBatchSize    int
	MaxRetries        int
	StaleAfter        time.Duration
	SweepInterval     time.Duration
	PollInterval      time.Duration
	KeepAliveInterval time.Duration
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.GetLogger().Debugf("no .env file loaded: %v", err)
	}

	return &Config{
		HTTPAddr:    getString("HTTP_ADDR", ":8080"),
		DatabaseDSN: getString("DATABASE_DSN", "host=localhost user=postgres password=postgres dbname=taskline port=5432 sslmode=disable"),
		RedisAddr:   getString("REDIS_ADDR", "localhost:6379"),
		JWTSecret:   getString("JWT_SECRET", ""),
		SweepToken:  getString("SWEEP_TOKEN", ""),

		SweepBatchSize:    getInt("SWEEP_BATCH_SIZE", 10),
		MaxRetries:        getInt("MAX_RETRIES", 3),
		StaleAfter:        time.Duration(getInt("STALE_AFTER_SECONDS", 300)) * time.Second,
		SweepInterval:     time.Duration(getInt("SWEEP_INTERVAL_MS", 30000)) * time.Millisecond,
		PollInterval:      time.Duration(getInt("POLL_INTERVAL_MS", 1000)) * time.Millisecond,
		KeepAliveInterval: time.Duration(getInt("KEEPALIVE_INTERVAL_MS", 15000)) * time.Millisecond,
	}
}

func getString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.GetLogger().Warnf("invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}
