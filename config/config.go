package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Environment string

	// Redis configuration
	RedisURL      string
	RedisPassword string
	RedisDB       int

	// Admission configuration
	SlotTTL        time.Duration
	WorkerInterval time.Duration

	// Reservation tokens handed to admitted users
	ReservationSecret string

	// Optional NATS trigger for the admission worker
	NATSURL string

	// Monitoring
	EnableMetrics   bool
	MetricsPort     string
	MetricsInterval time.Duration
}

func LoadConfig() *Config {
	return &Config{
		Environment: getEnv("ENVIRONMENT", "development"),

		RedisURL:      getEnv("REDIS_URL", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		// The slot TTL is the checkout window; an admitted user who has not
		// completed within it is reclaimed by the worker.
		SlotTTL:        getEnvAsDuration("SLOT_TTL", "5m"),
		WorkerInterval: getEnvAsDuration("WORKER_INTERVAL", "15s"),

		ReservationSecret: getEnv("RESERVATION_SECRET", "dev-only-secret"),

		NATSURL: getEnv("NATS_URL", ""),

		EnableMetrics:   getEnvAsBool("ENABLE_METRICS", true),
		MetricsPort:     getEnv("METRICS_PORT", "9090"),
		MetricsInterval: getEnvAsDuration("METRICS_INTERVAL", "30s"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := getEnv(key, defaultValue)
	if duration, err := time.ParseDuration(valueStr); err == nil {
		return duration
	}
	duration, _ := time.ParseDuration(defaultValue)
	return duration
}
