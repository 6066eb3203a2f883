package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

type Config struct {
	Port        string
	VerifyToken string
	DatabaseDSN string

	RedisURL      string
	CacheEnabled  bool
	QueueEnabled  bool
	WorkerEnabled bool
	QueueName     string

	WorkerConcurrency int
	RateLimitMax      int
	RateLimitWindow   time.Duration
	IdleCheckInterval time.Duration
	JobMaxAttempts    int
	JobBackoffBase    time.Duration
	JobLease          time.Duration
	JobRetention      time.Duration

	CacheTTLAutomation   time.Duration
	CacheTTLAccount      time.Duration
	CacheTTLContact      time.Duration
	ConversationStateTTL time.Duration

	GraphPrimaryHost  string
	GraphFallbackHost string
	GraphTimeout      time.Duration

	DeadLetterAMQPURL      string
	DeadLetterAMQPExchange string

	StatsRefreshSchedule string
	BrandingText         string

	LogLevel  string
	LogFormat string
}

func LoadConfig() *Config {
	err := godotenv.Load()
	if err != nil {
		log.Println("Warning: Error loading .env file")
	}

	return &Config{
		Port:        getEnv("PORT", "8080"),
		VerifyToken: getEnv("VERIFY_TOKEN", ""),
		DatabaseDSN: getEnv("DATABASE_DSN", "./automation.db"),

		RedisURL:      getEnv("REDIS_URL", "redis://localhost:6379/0"),
		CacheEnabled:  boolEnv("CACHE_ENABLED", true),
		QueueEnabled:  boolEnv("QUEUE_ENABLED", true),
		WorkerEnabled: boolEnv("WORKER_ENABLED", true),
		QueueName:     getEnv("QUEUE_NAME", "webhooks"),

		WorkerConcurrency: intEnv("WORKER_CONCURRENCY", 10),
		RateLimitMax:      intEnv("RATE_LIMIT_MAX", 50),
		RateLimitWindow:   durationEnv("RATE_LIMIT_WINDOW", time.Second),
		IdleCheckInterval: durationEnv("IDLE_CHECK_INTERVAL", 30*time.Second),
		JobMaxAttempts:    intEnv("JOB_MAX_ATTEMPTS", 3),
		JobBackoffBase:    durationEnv("JOB_BACKOFF_BASE", 2*time.Second),
		JobLease:          durationEnv("JOB_LEASE", 2*time.Minute),
		JobRetention:      durationEnv("JOB_RETENTION", 24*time.Hour),

		CacheTTLAutomation:   durationEnv("CACHE_TTL_AUTOMATION", 5*time.Minute),
		CacheTTLAccount:      durationEnv("CACHE_TTL_ACCOUNT", 10*time.Minute),
		CacheTTLContact:      durationEnv("CACHE_TTL_CONTACT", 2*time.Minute),
		ConversationStateTTL: durationEnv("CONVERSATION_STATE_TTL", 0),

		GraphPrimaryHost:  getEnv("GRAPH_PRIMARY_HOST", "https://graph.instagram.com/v21.0"),
		GraphFallbackHost: getEnv("GRAPH_FALLBACK_HOST", "https://graph.facebook.com/v21.0"),
		GraphTimeout:      durationEnv("GRAPH_TIMEOUT", 10*time.Second),

		DeadLetterAMQPURL:      getEnv("DLQ_AMQP_URL", ""),
		DeadLetterAMQPExchange: getEnv("DLQ_AMQP_EXCHANGE", "automation.dlx"),

		StatsRefreshSchedule: getEnv("STATS_REFRESH_SCHEDULE", "*/5 * * * *"),
		BrandingText:         getEnv("BRANDING_TEXT", "Sent with InstaFlow ⚡"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
	}
}

// QueueActive reports whether webhook events go through the job queue rather
// than being processed inside the request.
func (c *Config) QueueActive() bool {
	return c.QueueEnabled && strings.TrimSpace(c.RedisURL) != ""
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func intEnv(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %d", key, raw, fallback)
		return fallback
	}
	return value
}

func boolEnv(key string, fallback bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %t", key, raw, fallback)
		return fallback
	}
	return value
}

func durationEnv(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %s", key, raw, fallback.String())
		return fallback
	}
	return value
}
