// Package config loads service configuration from the environment so main
// stays lean.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Server captures HTTP server level configuration.
type Server struct {
	Addr          string
	JWTSigningKey string
}

// Database captures the postgres connection settings.
type Database struct {
	URL string
}

// RedisConfig captures the redis client settings. An empty URL disables
// redis: the sync lock then falls back to in-process locking, which is only
// correct for single-instance deployments.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Deposit captures the remote deposit service gateway settings.
type Deposit struct {
	BaseURL string
	Token   string
}

// SMTP captures the notification mailer settings. An empty host disables
// outbound mail.
type SMTP struct {
	Host     string
	Port     int
	From     string
	Username string
	Password string
}

// Kafka captures the event worker settings. No brokers disables event
// shipping; events still accumulate in the outbox.
type Kafka struct {
	Brokers []string
}

// Sync captures the scheduler settings.
type Sync struct {
	Interval    time.Duration
	Concurrency int
}

// Config is the whole service configuration.
type Config struct {
	Server   Server
	Database Database
	Redis    RedisConfig
	Deposit  Deposit
	SMTP     SMTP
	Kafka    Kafka
	Sync     Sync
}

// FromEnv builds the configuration from environment variables, with
// development defaults for everything but the deposit service credentials.
func FromEnv() Config {
	return Config{
		Server: Server{
			Addr:          envString("BALREGISTRY_ADDR", ":8080"),
			JWTSigningKey: envString("BALREGISTRY_JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		},
		Database: Database{
			URL: envString("BALREGISTRY_DATABASE_URL", "postgres://localhost:5432/balregistry?sslmode=disable"),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("BALREGISTRY_REDIS_URL"),
			PoolSize:     envInt("BALREGISTRY_REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("BALREGISTRY_REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  envDuration("BALREGISTRY_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("BALREGISTRY_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("BALREGISTRY_REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Deposit: Deposit{
			BaseURL: envString("BALREGISTRY_DEPOSIT_URL", "https://plateforme.adresse.data.gouv.fr/api-depot"),
			Token:   os.Getenv("BALREGISTRY_DEPOSIT_TOKEN"),
		},
		SMTP: SMTP{
			Host:     os.Getenv("BALREGISTRY_SMTP_HOST"),
			Port:     envInt("BALREGISTRY_SMTP_PORT", 587),
			From:     envString("BALREGISTRY_SMTP_FROM", "no-reply@balregistry.local"),
			Username: os.Getenv("BALREGISTRY_SMTP_USERNAME"),
			Password: os.Getenv("BALREGISTRY_SMTP_PASSWORD"),
		},
		Kafka: Kafka{
			Brokers: splitNonEmpty(os.Getenv("BALREGISTRY_KAFKA_BROKERS")),
		},
		Sync: Sync{
			Interval:    envDuration("BALREGISTRY_SYNC_INTERVAL", 5*time.Minute),
			Concurrency: envInt("BALREGISTRY_SYNC_CONCURRENCY", 4),
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
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func splitNonEmpty(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
