package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"instagram-automation/internal/models"
	"instagram-automation/internal/recorder"
	"instagram-automation/internal/store"
)

type ContactHandler struct {
	store    *store.Store
	recorder *recorder.Recorder
}

func NewContactHandler(s *store.Store, rec *recorder.Recorder) *ContactHandler {
	return &ContactHandler{store: s, recorder: rec}
}

func (h *ContactHandler) GetContacts(c *gin.Context) {
	accountID := c.Query("account_id")
	if accountID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "account_id is required"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	contacts, err := h.store.Contacts(c.Request.Context(), accountID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	// Return empty array instead of null
	if contacts == nil {
		contacts = []models.Contact{}
	}
	c.JSON(http.StatusOK, contacts)
}

// GetContact serves one sender's contact from the cache when it can.
func (h *ContactHandler) GetContact(c *gin.Context) {
	contact, err := h.recorder.LookupContact(c.Request.Context(), c.Param("account_id"), c.Param("sender_id"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "contact not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, contact)
}
