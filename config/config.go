package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config carries everything the collector needs from the environment.
type Config struct {
	Addr              string
	DatabaseURL       string
	RedisAddr         string
	WebhookSecret     string
	JWTSecret         string
	QueueURL          string
	TelegramToken     string
	DispatcherWorkers int
	DispatcherBuffer  int
}

// Load reads the collector configuration from environment variables.
// Secrets and the database DSN are mandatory; everything else has a default.
func Load() (*Config, error) {
	cfg := &Config{
		Addr:              getenv("COLLECTOR_ADDR", ":5010"),
		DatabaseURL:       os.Getenv("DB_URL"),
		RedisAddr:         getenv("REDIS_ADDR", "localhost:6379"),
		WebhookSecret:     os.Getenv("MONOBANK_WEBHOOK_SECRET"),
		JWTSecret:         os.Getenv("JWT_SECRET_KEY"),
		QueueURL:          os.Getenv("SQS_NOTIFICATIONS_QUEUE_URL"),
		TelegramToken:     os.Getenv("TELEGRAM_BOT_TOKEN"),
		DispatcherWorkers: getenvInt("DISPATCHER_WORKERS", 4),
		DispatcherBuffer:  getenvInt("DISPATCHER_BUFFER", 256),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("config: DB_URL is not set")
	}
	if cfg.WebhookSecret == "" {
		return nil, fmt.Errorf("config: MONOBANK_WEBHOOK_SECRET is not set")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("config: JWT_SECRET_KEY is not set")
	}
	return cfg, nil
}

func getenv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
