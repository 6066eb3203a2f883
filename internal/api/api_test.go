package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"instagram-automation/internal/cache"
	"instagram-automation/internal/models"
	"instagram-automation/internal/queue"
	"instagram-automation/internal/recorder"
	"instagram-automation/internal/store"
	"instagram-automation/internal/testutil"
)

func newRouter(t *testing.T, q *queue.Queue) (*gin.Engine, *store.Store) {
	gin.SetMode(gin.TestMode)
	s := store.New(testutil.NewDB(t))
	c := cache.New(nil, nil, cache.TTLs{})
	rec := recorder.New(s, c, nil)

	ah := NewAutomationHandler(s, c, rec)
	ch := NewContactHandler(s, rec)
	qh := NewQueueHandler(q, nil)

	r := gin.New()
	r.GET("/api/automations", ah.GetAutomations)
	r.POST("/api/automations", ah.CreateAutomation)
	r.PUT("/api/automations/:id", ah.UpdateAutomation)
	r.PATCH("/api/automations/:id/toggle", ah.ToggleAutomation)
	r.DELETE("/api/automations/:id", ah.DeleteAutomation)
	r.GET("/api/automation/logs", ah.GetLogs)
	r.GET("/api/automation/analytics", ah.GetAnalytics)
	r.GET("/api/contacts", ch.GetContacts)
	r.GET("/api/contacts/:account_id/:sender_id", ch.GetContact)
	r.GET("/api/queue/stats", qh.GetStats)
	r.GET("/api/queue/dead-letters", qh.GetDeadLetters)
	r.POST("/api/queue/dead-letters/:id/replay", qh.ReplayDeadLetter)
	r.DELETE("/api/queue/dead-letters", qh.PurgeDeadLetters)
	return r, s
}

func do(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAutomationLifecycle(t *testing.T) {
	r, s := newRouter(t, nil)

	w := do(r, http.MethodPost, "/api/automations", `{
		"workspace_id": "ws1",
		"name": "Price",
		"type": "dm_reply",
		"keyword_mode": "specific_keywords",
		"keywords": ["price"],
		"actions": {"mainMessage": {"text": "10 EUR"}}
	}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var created models.Automation
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.NotEmpty(t, created.ID)
	assert.True(t, created.IsActive)

	w = do(r, http.MethodPatch, "/api/automations/"+created.ID+"/toggle", `{"is_active": false}`)
	require.Equal(t, http.StatusOK, w.Code)
	a, err := s.Automation(context.Background(), created.ID)
	require.NoError(t, err)
	assert.False(t, a.IsActive)

	w = do(r, http.MethodGet, "/api/automations?workspace_id=ws1", "")
	require.Equal(t, http.StatusOK, w.Code)
	var list []models.Automation
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Len(t, list, 1)

	w = do(r, http.MethodDelete, "/api/automations/"+created.ID, "")
	assert.Equal(t, http.StatusOK, w.Code)
	w = do(r, http.MethodDelete, "/api/automations/"+created.ID, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateAutomationRejectsInvalidDocuments(t *testing.T) {
	r, _ := newRouter(t, nil)

	bodies := []string{
		`{"workspace_id": "ws1", "type": "dm_reply", "actions": {"openingMessage": {"enabled": true}}}`,
		`{"workspace_id": "ws1", "type": "broadcast", "actions": {"mainMessage": {"text": "x"}}}`,
		`{"type": "dm_reply", "actions": {"mainMessage": {"text": "x"}}}`,
		`{"workspace_id": "ws1", "type": "dm_reply", "await_next_post": true, "actions": {"mainMessage": {"text": "x"}}}`,
	}
	for _, body := range bodies {
		w := do(r, http.MethodPost, "/api/automations", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
	}
}

func TestLogsAnalyticsAndContacts(t *testing.T) {
	r, s := newRouter(t, nil)
	ctx := context.Background()
	require.NoError(t, s.CreateAutomationLog(ctx, &models.AutomationLog{AccountID: "a1", Kind: "run", Success: true}))
	_, err := s.UpsertContact(ctx, store.ContactUpdate{AccountID: "a1", SenderID: "u1", Type: "dm"})
	require.NoError(t, err)

	w := do(r, http.MethodGet, "/api/automation/logs?limit=5", "")
	require.Equal(t, http.StatusOK, w.Code)
	var logs []models.AutomationLog
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &logs))
	assert.Len(t, logs, 1)

	w = do(r, http.MethodGet, "/api/automation/analytics", "")
	require.Equal(t, http.StatusOK, w.Code)
	var summary store.Summary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &summary))
	assert.Equal(t, int64(1), summary.Contacts)

	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/api/contacts", "").Code)
	w = do(r, http.MethodGet, "/api/contacts?account_id=a1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"sender_id":"u1"`)

	w = do(r, http.MethodGet, "/api/contacts/a1/u1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"last_interaction_type":"dm"`)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/api/contacts/a1/nobody", "").Code)
}

func TestQueueEndpoints(t *testing.T) {
	q := queue.New(queue.NewMemoryBackend(time.Minute, time.Hour), 3)
	r, _ := newRouter(t, q)
	ctx := context.Background()

	require.NoError(t, q.Add(ctx, &queue.Job{ID: "dm-1", Type: queue.TypeDM, Payload: json.RawMessage(`{}`)}, queue.AddOptions{}))
	job, err := q.Backend().Claim(ctx)
	require.NoError(t, err)
	job.LastError = "boom"
	require.NoError(t, q.Backend().DeadLetter(ctx, job))

	w := do(r, http.MethodGet, "/api/queue/dead-letters", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"dm-1"`)

	assert.Equal(t, http.StatusNotFound, do(r, http.MethodPost, "/api/queue/dead-letters/nope/replay", "").Code)
	assert.Equal(t, http.StatusOK, do(r, http.MethodPost, "/api/queue/dead-letters/dm-1/replay", "").Code)

	w = do(r, http.MethodGet, "/api/queue/stats", "")
	require.Equal(t, http.StatusOK, w.Code)
	var stats struct {
		Counts queue.Counts `json:"counts"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, int64(1), stats.Counts.Waiting)
	assert.Equal(t, int64(0), stats.Counts.Dead)
}

func TestQueueEndpointsWithoutQueue(t *testing.T) {
	r, _ := newRouter(t, nil)
	assert.Equal(t, http.StatusServiceUnavailable, do(r, http.MethodGet, "/api/queue/stats", "").Code)
}
