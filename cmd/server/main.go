package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"instagram-automation/internal/api"
	"instagram-automation/internal/app"
	"instagram-automation/internal/config"
	"instagram-automation/internal/database"
	"instagram-automation/internal/kv"
	"instagram-automation/internal/logging"
	"instagram-automation/internal/queue"
	"instagram-automation/internal/webhook"
)

func main() {
	cfg := config.LoadConfig()
	logging.Setup(cfg.LogLevel, cfg.LogFormat)

	a, err := app.New(cfg, kv.RoleQueueClient)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialise")
	}
	defer a.Close()

	if err := database.Migrate(a.DB); err != nil {
		log.WithError(err).Fatal("Failed to migrate database")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go a.Hub.Run(ctx)
	a.Cache.Subscribe(ctx)

	stats, err := a.Recorder.ScheduleStats(cfg.StatsRefreshSchedule)
	if err != nil {
		log.WithError(err).Warn("Stats refresh schedule rejected, refreshing on demand only")
	} else {
		defer stats.Stop()
	}

	// Without an external queue the in-process queue still carries follow-ups,
	// so workers always run here in that mode.
	var pool *queue.Pool
	if cfg.WorkerEnabled || !cfg.QueueActive() {
		pool = a.Pool()
		pool.Start(ctx)
	}

	var enqueuer webhook.Enqueuer
	if cfg.QueueActive() {
		enqueuer = a.Queue
	}
	resolver := webhook.NewResolver(a.Store, a.Cache, cfg.CacheTTLAccount)
	webhookHandler := webhook.NewHandler(cfg.VerifyToken, a.Store, resolver, webhook.NewDispatcher(enqueuer, a.Engine))
	automationHandler := api.NewAutomationHandler(a.Store, a.Cache, a.Recorder)
	contactHandler := api.NewContactHandler(a.Store, a.Recorder)
	queueHandler := api.NewQueueHandler(a.Queue, pool)

	r := gin.Default()

	// CORS Middleware
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, PATCH, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	r.GET("/healthz", func(c *gin.Context) {
		pingCtx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := a.Ping(pingCtx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Webhook Routes
	r.GET("/webhook", webhookHandler.VerifyWebhook)
	r.POST("/webhook", webhookHandler.HandleMessage)

	// Live feed
	r.GET("/ws", func(c *gin.Context) {
		a.Hub.ServeWs(c.Writer, c.Request)
	})

	apiGroup := r.Group("/api")
	{
		apiGroup.GET("/automations", automationHandler.GetAutomations)
		apiGroup.POST("/automations", automationHandler.CreateAutomation)
		apiGroup.PUT("/automations/:id", automationHandler.UpdateAutomation)
		apiGroup.PATCH("/automations/:id/toggle", automationHandler.ToggleAutomation)
		apiGroup.DELETE("/automations/:id", automationHandler.DeleteAutomation)

		apiGroup.GET("/automation/logs", automationHandler.GetLogs)
		apiGroup.GET("/automation/analytics", automationHandler.GetAnalytics)
		apiGroup.GET("/automation/conversations", automationHandler.GetConversations)
		apiGroup.DELETE("/automation/conversations/:account_id/:sender_id", automationHandler.TerminateConversation)

		apiGroup.GET("/contacts", contactHandler.GetContacts)
		apiGroup.GET("/contacts/:account_id/:sender_id", contactHandler.GetContact)

		apiGroup.GET("/queue/stats", queueHandler.GetStats)
		apiGroup.GET("/queue/dead-letters", queueHandler.GetDeadLetters)
		apiGroup.POST("/queue/dead-letters/:id/replay", queueHandler.ReplayDeadLetter)
		apiGroup.DELETE("/queue/dead-letters", queueHandler.PurgeDeadLetters)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Infof("Server starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("Failed to run server")
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("HTTP shutdown did not complete")
	}
	webhookHandler.Wait()
	if pool != nil {
		pool.Stop()
	}
}
