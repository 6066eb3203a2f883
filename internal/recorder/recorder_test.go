package recorder

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"instagram-automation/internal/cache"
	"instagram-automation/internal/models"
	"instagram-automation/internal/store"
	"instagram-automation/internal/testutil"
)

type fakeHub struct {
	mu     sync.Mutex
	events []string
}

func (h *fakeHub) BroadcastEvent(eventType string, _ interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, eventType)
}

func setup(t *testing.T) (*Recorder, *store.Store, *fakeHub) {
	db := testutil.NewDB(t)
	s := store.New(db)
	hub := &fakeHub{}
	return New(s, cache.New(nil, nil, cache.TTLs{}), hub), s, hub
}

func TestRunLogsAndCountsUsage(t *testing.T) {
	r, s, hub := setup(t)
	ctx := context.Background()

	o := Outcome{WorkspaceID: "ws1", AccountID: "a1", AutomationID: "auto1", SenderID: "u1", TriggerType: "dm", TriggerContent: "hi"}
	r.Run(ctx, o, 2)
	o.Err = errors.New("send failed")
	r.Run(ctx, o, 0)

	logs, err := s.RecentAutomationLogs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.False(t, logs[0].Success)
	assert.Equal(t, "send failed", logs[0].ErrorMessage)
	assert.True(t, logs[1].Success)

	u, err := s.Usage(ctx, "ws1", time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(2), u.MessagesSent)
	assert.Equal(t, int64(2), u.AutomationRuns)
	assert.Equal(t, []string{"automation_run", "automation_run"}, hub.events)
}

func TestBrandingSentToday(t *testing.T) {
	r, _, _ := setup(t)
	ctx := context.Background()

	sent, err := r.BrandingSentToday(ctx, "a1", "u1")
	require.NoError(t, err)
	assert.False(t, sent)

	r.Step(ctx, Outcome{AccountID: "a1", SenderID: "u1", Kind: KindBranding, Err: errors.New("failed")})
	sent, _ = r.BrandingSentToday(ctx, "a1", "u1")
	assert.False(t, sent, "failed sends do not count")

	r.Step(ctx, Outcome{AccountID: "a1", SenderID: "u1", Kind: KindBranding})
	sent, _ = r.BrandingSentToday(ctx, "a1", "u1")
	assert.True(t, sent)

	sent, _ = r.BrandingSentToday(ctx, "a1", "u2")
	assert.False(t, sent)
}

func TestContactHistoryIsBounded(t *testing.T) {
	r, s, _ := setup(t)
	ctx := context.Background()

	for i := 0; i < store.MaxContactHistory+5; i++ {
		r.Contact(ctx, store.ContactUpdate{AccountID: "a1", SenderID: "u1", Type: "dm"})
	}
	r.Contact(ctx, store.ContactUpdate{AccountID: "a1", SenderID: "u1", Type: "email", Email: "a@b.co"})

	contacts, err := s.Contacts(ctx, "a1", 10)
	require.NoError(t, err)
	require.Len(t, contacts, 1)
	c := contacts[0]
	assert.Equal(t, store.MaxContactHistory+6, c.InteractionCount)
	assert.Equal(t, "email", c.LastInteractionType)
	assert.Equal(t, "a@b.co", c.Email)
	assert.Contains(t, string(c.History), `"email"`)
}

func TestStatsCached(t *testing.T) {
	r, s, _ := setup(t)
	ctx := context.Background()

	require.NoError(t, s.DB().Create(&models.Workspace{ID: "ws1", Plan: "free"}).Error)
	first, err := r.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.Workspaces)

	require.NoError(t, s.DB().Create(&models.Workspace{ID: "ws2", Plan: "pro"}).Error)
	cached, err := r.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), cached.Workspaces)

	fresh, err := r.RefreshStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), fresh.Workspaces)
}

func TestScheduleStatsRejectsBadSpec(t *testing.T) {
	r, _, _ := setup(t)
	_, err := r.ScheduleStats("not a cron")
	assert.Error(t, err)

	c, err := r.ScheduleStats("*/5 * * * *")
	require.NoError(t, err)
	c.Stop()
}

func TestLookupContactCachedUntilNextInteraction(t *testing.T) {
	db := testutil.NewDB(t)
	s := store.New(db)
	r := New(s, cache.New(nil, nil, cache.TTLs{Contact: time.Minute}), nil)
	ctx := context.Background()

	_, err := r.LookupContact(ctx, "a1", "u1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	r.Contact(ctx, store.ContactUpdate{AccountID: "a1", SenderID: "u1", Type: "dm"})
	c, err := r.LookupContact(ctx, "a1", "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, c.InteractionCount)

	// A write behind the recorder's back is not seen while cached.
	require.NoError(t, db.Model(&models.Contact{}).Where("sender_id = ?", "u1").Update("email", "x@y.co").Error)
	c, err = r.LookupContact(ctx, "a1", "u1")
	require.NoError(t, err)
	assert.Empty(t, c.Email)

	r.Contact(ctx, store.ContactUpdate{AccountID: "a1", SenderID: "u1", Type: "email", Email: "a@b.co"})
	c, err = r.LookupContact(ctx, "a1", "u1")
	require.NoError(t, err)
	assert.Equal(t, "a@b.co", c.Email)
	assert.Equal(t, 2, c.InteractionCount)
}

func TestTruncateKeepsWholeRunes(t *testing.T) {
	s := "ab\u00e9\u00e9"
	for n := 0; n <= len(s); n++ {
		got := truncate(s, n)
		assert.True(t, utf8.ValidString(got), "n=%d", n)
		assert.LessOrEqual(t, len(got), n)
	}
	assert.Equal(t, "ab", truncate(s, 3))
	assert.Equal(t, "ab\u00e9", truncate(s, 5))
	assert.Equal(t, s, truncate(s, 100))
}
