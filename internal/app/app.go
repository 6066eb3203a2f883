// Package app wires the shared components every process needs.
package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"instagram-automation/internal/automation"
	"instagram-automation/internal/cache"
	"instagram-automation/internal/config"
	"instagram-automation/internal/database"
	"instagram-automation/internal/instagram"
	"instagram-automation/internal/kv"
	"instagram-automation/internal/queue"
	"instagram-automation/internal/recorder"
	"instagram-automation/internal/store"
	"instagram-automation/internal/ws"
)

type App struct {
	Config   *config.Config
	DB       *gorm.DB
	KV       *kv.Registry
	Cache    *cache.Cache
	Store    *store.Store
	Hub      *ws.Hub
	Recorder *recorder.Recorder
	Gateway  *instagram.Client
	Selector *automation.Selector
	Engine   *automation.Engine

	// Queue is redis-backed when the queue is active. Otherwise it is an
	// in-process queue that only carries follow-ups.
	Queue *queue.Queue

	amqp *queue.AMQPSink
}

// New opens the database and builds every component. queueRole picks the
// registry connection the queue backend uses for commands.
func New(cfg *config.Config, queueRole kv.Role) (*App, error) {
	db, err := database.Open(cfg.DatabaseDSN)
	if err != nil {
		return nil, err
	}

	registry, err := kv.NewRegistry(kv.Options{
		URL:   cfg.RedisURL,
		Cache: cfg.CacheEnabled,
		Queue: cfg.QueueActive(),
	})
	if err != nil {
		return nil, err
	}

	a := &App{Config: cfg, DB: db, KV: registry}
	a.Cache = cache.New(registry.Client(kv.RoleCache), registry.Client(kv.RolePubSub), cache.TTLs{
		Automation: cfg.CacheTTLAutomation,
		Account:    cfg.CacheTTLAccount,
		Contact:    cfg.CacheTTLContact,
	})
	a.Store = store.New(db)
	a.Hub = ws.NewHub()
	a.Recorder = recorder.New(a.Store, a.Cache, a.Hub)
	a.Gateway = instagram.NewClient(cfg.GraphPrimaryHost, cfg.GraphFallbackHost, cfg.GraphTimeout)
	a.Selector = automation.NewSelector(a.Store, a.Cache, cfg.CacheTTLAutomation)

	var sinks []queue.DeadLetterSink
	if cfg.DeadLetterAMQPURL != "" {
		a.amqp = queue.NewAMQPSink(cfg.DeadLetterAMQPURL, cfg.DeadLetterAMQPExchange)
		sinks = append(sinks, a.amqp)
	}

	var backend queue.Backend
	if cfg.QueueActive() {
		backend = queue.NewRedisBackend(registry.Client(queueRole), registry.Client(kv.RoleQueueEvents), cfg.QueueName, cfg.JobLease, cfg.JobRetention)
	} else {
		log.Warn("Queue disabled, webhooks are processed inline")
		backend = queue.NewMemoryBackend(cfg.JobLease, cfg.JobRetention)
	}
	a.Queue = queue.New(backend, cfg.JobMaxAttempts, sinks...)

	a.Engine = automation.NewEngine(a.Store, a.Selector, a.Gateway, a.Recorder, a.Queue, automation.Config{
		StateTTL:     cfg.ConversationStateTTL,
		BrandingText: cfg.BrandingText,
	})
	return a, nil
}

// Pool builds a worker pool that feeds claimed jobs to the engine.
func (a *App) Pool() *queue.Pool {
	cfg := a.Config
	return queue.NewPool(a.Queue, a.Engine.HandleJob, queue.PoolConfig{
		Concurrency:       cfg.WorkerConcurrency,
		RateLimitMax:      cfg.RateLimitMax,
		RateLimitWindow:   cfg.RateLimitWindow,
		IdleCheckInterval: cfg.IdleCheckInterval,
		BackoffBase:       cfg.JobBackoffBase,
	})
}

// Ping checks the database and every key-value connection.
func (a *App) Ping(ctx context.Context) error {
	sqlDB, err := a.DB.DB()
	if err != nil {
		return err
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := a.KV.Ping(ctx); err != nil {
		return fmt.Errorf("key-value store: %w", err)
	}
	return nil
}

func (a *App) Close() {
	if a.amqp != nil {
		if err := a.amqp.Close(); err != nil {
			log.WithError(err).Warn("Failed to close AMQP sink")
		}
	}
	if err := a.KV.Close(); err != nil {
		log.WithError(err).Warn("Failed to close key-value clients")
	}
	if sqlDB, err := a.DB.DB(); err == nil {
		sqlDB.Close()
	}
}
