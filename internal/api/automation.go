package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"instagram-automation/internal/automation"
	"instagram-automation/internal/cache"
	"instagram-automation/internal/models"
	"instagram-automation/internal/recorder"
	"instagram-automation/internal/store"
)

type AutomationHandler struct {
	store    *store.Store
	cache    *cache.Cache
	recorder *recorder.Recorder
}

func NewAutomationHandler(s *store.Store, c *cache.Cache, rec *recorder.Recorder) *AutomationHandler {
	return &AutomationHandler{store: s, cache: c, recorder: rec}
}

type automationRequest struct {
	WorkspaceID     string          `json:"workspace_id"`
	AccountID       string          `json:"account_id"`
	Name            string          `json:"name"`
	Type            string          `json:"type"`
	KeywordMode     string          `json:"keyword_mode"`
	Keywords        json.RawMessage `json:"keywords"`
	SelectedPostID  string          `json:"selected_post_id"`
	SelectedStoryID string          `json:"selected_story_id"`
	AwaitNextPost   bool            `json:"await_next_post"`
	IsActive        *bool           `json:"is_active"`
	Actions         json.RawMessage `json:"actions"`
}

var validTypes = map[string]bool{
	automation.TypeDMReply:        true,
	automation.TypeGenericDMReply: true,
	automation.TypeCommentToDM:    true,
	automation.TypeStoryReplyToDM: true,
}

// apply copies the request onto a and validates the result.
func (req automationRequest) apply(a *models.Automation) error {
	if req.WorkspaceID != "" {
		a.WorkspaceID = req.WorkspaceID
	}
	if req.AccountID != "" {
		a.AccountID = req.AccountID
	}
	if req.Name != "" {
		a.Name = req.Name
	}
	if req.Type != "" {
		a.Type = req.Type
	}
	if req.KeywordMode != "" {
		a.KeywordMode = req.KeywordMode
	}
	if len(req.Keywords) > 0 {
		a.Keywords = datatypes.JSON(req.Keywords)
	}
	if len(req.Actions) > 0 {
		a.Actions = datatypes.JSON(req.Actions)
	}
	if req.IsActive != nil {
		a.IsActive = *req.IsActive
	}
	a.SelectedPostID = req.SelectedPostID
	a.SelectedStoryID = req.SelectedStoryID
	a.AwaitNextPost = req.AwaitNextPost

	switch {
	case a.WorkspaceID == "":
		return errors.New("workspace_id is required")
	case !validTypes[a.Type]:
		return errors.New("unknown automation type")
	case a.KeywordMode != automation.ModeAnyReply && a.KeywordMode != automation.ModeSpecificKeywords:
		return errors.New("unknown keyword mode")
	case a.AwaitNextPost && a.Type != automation.TypeCommentToDM:
		return errors.New("await_next_post is only valid for comment automations")
	}
	_, err := automation.ParseFlow(*a)
	return err
}

func (h *AutomationHandler) invalidate(c *gin.Context, workspaceID string) {
	h.cache.Invalidate(c.Request.Context(), cache.AutomationsPrefix(workspaceID)+"*", cache.StatsKey)
}

// GetAutomations lists automations, optionally for one workspace.
func (h *AutomationHandler) GetAutomations(c *gin.Context) {
	list, err := h.store.Automations(c.Request.Context(), c.Query("workspace_id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if list == nil {
		list = []models.Automation{}
	}
	c.JSON(http.StatusOK, list)
}

func (h *AutomationHandler) CreateAutomation(c *gin.Context) {
	var req automationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	a := models.Automation{ID: uuid.NewString(), KeywordMode: automation.ModeAnyReply, IsActive: true}
	if err := req.apply(&a); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.store.SaveAutomation(c.Request.Context(), &a); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	h.invalidate(c, a.WorkspaceID)
	log.WithFields(log.Fields{"automation_id": a.ID, "workspace_id": a.WorkspaceID}).Info("Automation created")
	c.JSON(http.StatusCreated, a)
}

func (h *AutomationHandler) UpdateAutomation(c *gin.Context) {
	ctx := c.Request.Context()
	a, err := h.store.Automation(ctx, c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "automation not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	var req automationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	previous := a.WorkspaceID
	if err := req.apply(a); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.store.SaveAutomation(ctx, a); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	h.invalidate(c, a.WorkspaceID)
	if previous != a.WorkspaceID {
		h.invalidate(c, previous)
	}
	c.JSON(http.StatusOK, a)
}

func (h *AutomationHandler) ToggleAutomation(c *gin.Context) {
	var req struct {
		Active bool `json:"is_active"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	a, err := h.store.SetAutomationActive(c.Request.Context(), c.Param("id"), req.Active)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "automation not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	h.invalidate(c, a.WorkspaceID)
	c.JSON(http.StatusOK, a)
}

func (h *AutomationHandler) DeleteAutomation(c *gin.Context) {
	a, err := h.store.DeleteAutomation(c.Request.Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "automation not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	h.invalidate(c, a.WorkspaceID)
	c.JSON(http.StatusOK, gin.H{"message": "Automation deleted"})
}

// GetLogs returns recent step and run logs.
func (h *AutomationHandler) GetLogs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	logs, err := h.store.RecentAutomationLogs(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if logs == nil {
		logs = []models.AutomationLog{}
	}
	c.JSON(http.StatusOK, logs)
}

// GetAnalytics returns the cached stats aggregate; ?refresh=true recomputes it.
func (h *AutomationHandler) GetAnalytics(c *gin.Context) {
	ctx := c.Request.Context()
	var (
		summary *store.Summary
		err     error
	)
	if c.Query("refresh") == "true" {
		summary, err = h.recorder.RefreshStats(ctx)
	} else {
		summary, err = h.recorder.Stats(ctx)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, summary)
}

// GetConversations lists conversations waiting on a user response.
func (h *AutomationHandler) GetConversations(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	states, err := h.store.ConversationStates(c.Request.Context(), c.Query("account_id"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if states == nil {
		states = []models.ConversationState{}
	}
	c.JSON(http.StatusOK, states)
}

// TerminateConversation drops a parked conversation so the next message
// starts fresh.
func (h *AutomationHandler) TerminateConversation(c *gin.Context) {
	accountID, senderID := c.Param("account_id"), c.Param("sender_id")
	if err := h.store.DeleteConversationState(c.Request.Context(), senderID, accountID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Conversation terminated"})
}
