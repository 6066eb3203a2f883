package main

import (
	"context"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"instagram-automation/internal/app"
	"instagram-automation/internal/config"
	"instagram-automation/internal/kv"
	"instagram-automation/internal/logging"
)

// Worker-only process: claims webhook jobs from the shared queue.
func main() {
	cfg := config.LoadConfig()
	logging.Setup(cfg.LogLevel, cfg.LogFormat)

	if !cfg.QueueActive() {
		log.Fatal("Worker needs QUEUE_ENABLED and REDIS_URL")
	}

	a, err := app.New(cfg, kv.RoleQueueWorker)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialise")
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.Ping(ctx); err != nil {
		log.WithError(err).Fatal("Dependencies unavailable")
	}
	a.Cache.Subscribe(ctx)

	pool := a.Pool()
	pool.Start(ctx)
	log.WithField("queue", cfg.QueueName).Info("Worker running")

	<-ctx.Done()
	log.Info("Shutting down worker")
	pool.Stop()
}
