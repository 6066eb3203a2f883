package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"instagram-automation/internal/queue"
)

// QueueHandler exposes queue depth and dead-letter operations. A nil queue
// answers 503.
type QueueHandler struct {
	queue *queue.Queue
	pool  *queue.Pool
}

func NewQueueHandler(q *queue.Queue, p *queue.Pool) *QueueHandler {
	return &QueueHandler{queue: q, pool: p}
}

func (h *QueueHandler) available(c *gin.Context) bool {
	if h.queue == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "queue disabled"})
		return false
	}
	return true
}

func (h *QueueHandler) GetStats(c *gin.Context) {
	if !h.available(c) {
		return
	}
	counts, err := h.queue.Counts(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	paused := false
	if h.pool != nil {
		paused = h.pool.Paused()
	}
	c.JSON(http.StatusOK, gin.H{"counts": counts, "workers_paused": paused})
}

func (h *QueueHandler) GetDeadLetters(c *gin.Context) {
	if !h.available(c) {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	jobs, err := h.queue.DeadLetters(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if jobs == nil {
		jobs = []*queue.Job{}
	}
	c.JSON(http.StatusOK, jobs)
}

func (h *QueueHandler) ReplayDeadLetter(c *gin.Context) {
	if !h.available(c) {
		return
	}
	id := c.Param("id")
	err := h.queue.ReplayDeadLetter(c.Request.Context(), id)
	if errors.Is(err, queue.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "dead letter not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	log.WithField("job_id", id).Info("Dead letter replayed")
	c.JSON(http.StatusOK, gin.H{"message": "Job re-queued"})
}

func (h *QueueHandler) PurgeDeadLetters(c *gin.Context) {
	if !h.available(c) {
		return
	}
	n, err := h.queue.PurgeDeadLetters(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"purged": n})
}
