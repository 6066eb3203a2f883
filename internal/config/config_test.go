package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("WORKER_CONCURRENCY", "")
	t.Setenv("QUEUE_ENABLED", "")

	cfg := LoadConfig()

	assert.Equal(t, 10, cfg.WorkerConcurrency)
	assert.True(t, cfg.QueueEnabled)
	assert.Equal(t, 3, cfg.JobMaxAttempts)
	assert.Equal(t, time.Duration(0), cfg.ConversationStateTTL)
	assert.Equal(t, "https://graph.instagram.com/v21.0", cfg.GraphPrimaryHost)
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("WORKER_CONCURRENCY", "4")
	t.Setenv("RATE_LIMIT_WINDOW", "250ms")
	t.Setenv("QUEUE_ENABLED", "false")
	t.Setenv("JOB_MAX_ATTEMPTS", "not-a-number")

	cfg := LoadConfig()

	assert.Equal(t, 4, cfg.WorkerConcurrency)
	assert.Equal(t, 250*time.Millisecond, cfg.RateLimitWindow)
	assert.False(t, cfg.QueueEnabled)
	assert.False(t, cfg.QueueActive())
	assert.Equal(t, 3, cfg.JobMaxAttempts, "malformed values fall back")
}
