package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	dbmodels "instagram-automation/internal/models"
	"instagram-automation/internal/store"
	"instagram-automation/pkg/models"
)

type Handler struct {
	VerifyToken string

	store      *store.Store
	resolver   *Resolver
	dispatcher *Dispatcher
	logTimeout time.Duration

	pending sync.WaitGroup
}

func NewHandler(verifyToken string, s *store.Store, resolver *Resolver, dispatcher *Dispatcher) *Handler {
	return &Handler{
		VerifyToken: verifyToken,
		store:       s,
		resolver:    resolver,
		dispatcher:  dispatcher,
		logTimeout:  5 * time.Second,
	}
}

func queryAny(c *gin.Context, keys ...string) string {
	for _, k := range keys {
		if v := c.Query(k); v != "" {
			return v
		}
	}
	return ""
}

func (h *Handler) VerifyWebhook(c *gin.Context) {
	mode := queryAny(c, "hub.mode", "mode")
	token := queryAny(c, "hub.verify_token", "verify_token")
	challenge := queryAny(c, "hub.challenge", "challenge")

	if mode == "subscribe" && h.VerifyToken != "" && token == h.VerifyToken {
		log.Info("Webhook verified successfully")
		c.String(http.StatusOK, challenge)
		return
	}
	log.WithField("mode", mode).Warn("Webhook verification rejected")
	c.Status(http.StatusForbidden)
}

// HandleMessage acknowledges every delivery with 200. Failures are logged.
func (h *Handler) HandleMessage(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		log.WithError(err).Warn("Failed to read webhook body")
		c.Status(http.StatusOK)
		return
	}
	h.audit(body)

	var payload models.WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		log.WithError(err).Warn("Dropping malformed webhook payload")
		c.Status(http.StatusOK)
		return
	}

	n := h.Ingest(c.Request.Context(), payload)
	log.WithFields(log.Fields{"object": payload.Object, "events": n}).Debug("Webhook received")
	c.Status(http.StatusOK)
}

// Ingest resolves, classifies and dispatches every entry of a payload and
// returns how many events were dispatched.
func (h *Handler) Ingest(ctx context.Context, payload models.WebhookPayload) int {
	dispatched := 0
	for _, entry := range payload.Entry {
		tenant, err := h.resolver.Resolve(ctx, entry.ID)
		if errors.Is(err, ErrTenantNotFound) {
			log.WithField("provider_id", entry.ID).Warn("No tenant for webhook entry")
			continue
		}
		if err != nil {
			log.WithError(err).WithField("provider_id", entry.ID).Error("Tenant lookup failed")
			continue
		}

		for _, ev := range Classify(entry, tenant) {
			if err := h.dispatcher.Dispatch(ctx, ev, entry.Time); err != nil {
				log.WithError(err).WithFields(log.Fields{
					"account_id": ev.AccountID,
					"sender_id":  ev.SenderID,
					"event":      ev.Kind,
				}).Error("Failed to dispatch event")
				continue
			}
			dispatched++
		}
	}
	return dispatched
}

// audit stores the raw body in the background.
func (h *Handler) audit(body []byte) {
	var object struct {
		Object string `json:"object"`
	}
	_ = json.Unmarshal(body, &object)

	entry := &dbmodels.WebhookLog{Object: object.Object, Payload: string(body)}
	h.pending.Add(1)
	go func() {
		defer h.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), h.logTimeout)
		defer cancel()
		if err := h.store.CreateWebhookLog(ctx, entry); err != nil {
			log.WithError(err).Warn("Failed to store webhook log")
		}
	}()
}

// Wait blocks until pending audit writes finish.
func (h *Handler) Wait() {
	h.pending.Wait()
}
