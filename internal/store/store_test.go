package store_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"instagram-automation/internal/models"
	"instagram-automation/internal/store"
	"instagram-automation/internal/testutil"
)

func seed(t *testing.T) *store.Store {
	db := testutil.NewDB(t)
	require.NoError(t, db.Create(&models.Workspace{ID: "ws1", Plan: models.PlanFree, ProfessionalAccountID: "prof-ws"}).Error)
	require.NoError(t, db.Create(&models.Account{ID: "a1", WorkspaceID: "ws1", InstagramUserID: "ig1", ProfessionalID: "pro1"}).Error)
	return store.New(db)
}

func TestTenantLookups(t *testing.T) {
	s := seed(t)
	ctx := context.Background()

	for _, id := range []string{"ig1", "pro1"} {
		acct, err := s.AccountByProviderID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "a1", acct.ID)
	}
	_, err := s.AccountByProviderID(ctx, "prof-ws")
	assert.ErrorIs(t, err, store.ErrNotFound)

	ws, err := s.WorkspaceByAlias(ctx, "prof-ws")
	require.NoError(t, err)
	assert.Equal(t, "ws1", ws.ID)

	acct, err := s.AccountForWorkspace(ctx, ws.ID)
	require.NoError(t, err)
	assert.Equal(t, "a1", acct.ID)
}

func TestActiveAutomationsScoping(t *testing.T) {
	s := seed(t)
	ctx := context.Background()
	actions := datatypes.JSON(`{"mainMessage":{"text":"x"}}`)
	for _, a := range []models.Automation{
		{ID: "all", WorkspaceID: "ws1", Type: "comment_to_dm", IsActive: true, Actions: actions},
		{ID: "p1", WorkspaceID: "ws1", Type: "comment_to_dm", IsActive: true, SelectedPostID: "p1", Actions: actions},
		{ID: "p2", WorkspaceID: "ws1", Type: "comment_to_dm", IsActive: true, SelectedPostID: "p2", Actions: actions},
		{ID: "dm", WorkspaceID: "ws1", Type: "dm_reply", IsActive: true, Actions: actions},
	} {
		require.NoError(t, s.SaveAutomation(ctx, &a))
	}
	_, err := s.SetAutomationActive(ctx, "p2", false)
	require.NoError(t, err)

	ids := func(list []models.Automation) []string {
		var out []string
		for _, a := range list {
			out = append(out, a.ID)
		}
		return out
	}

	list, err := s.ActiveAutomations(ctx, "ws1", "comment_to_dm", "p1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"all", "p1"}, ids(list))

	list, err = s.ActiveAutomations(ctx, "ws1", "comment_to_dm", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"all"}, ids(list))

	list, err = s.ActiveAutomations(ctx, "ws1", "comment_to_dm", "p2")
	require.NoError(t, err)
	assert.Equal(t, []string{"all"}, ids(list))
}

func TestLinkNextPostIsConditional(t *testing.T) {
	s := seed(t)
	ctx := context.Background()
	require.NoError(t, s.SaveAutomation(ctx, &models.Automation{
		ID: "w", WorkspaceID: "ws1", Type: "comment_to_dm", IsActive: true, AwaitNextPost: true,
		Actions: datatypes.JSON(`{"mainMessage":{"text":"x"}}`),
	}))

	won, err := s.LinkNextPost(ctx, "w", "p1")
	require.NoError(t, err)
	assert.True(t, won)

	won, err = s.LinkNextPost(ctx, "w", "p2")
	require.NoError(t, err)
	assert.False(t, won)

	a, err := s.Automation(ctx, "w")
	require.NoError(t, err)
	assert.Equal(t, "p1", a.SelectedPostID)

	require.NoError(t, s.RecordMedia(ctx, "ws1", "p1"))
	require.NoError(t, s.RecordMedia(ctx, "ws1", "p1"))
	known, err := s.MediaKnown(ctx, "ws1", "p1")
	require.NoError(t, err)
	assert.True(t, known)
}

func TestConversationStateOverwrites(t *testing.T) {
	s := seed(t)
	ctx := context.Background()

	require.NoError(t, s.PutConversationState(ctx, &models.ConversationState{SenderID: "u1", AccountID: "a1", AutomationID: "x", State: "AWAITING_EMAIL"}))
	require.NoError(t, s.PutConversationState(ctx, &models.ConversationState{SenderID: "u1", AccountID: "a1", AutomationID: "y", State: "AWAITING_OPENING_RESPONSE"}))

	st, err := s.ConversationState(ctx, "u1", "a1")
	require.NoError(t, err)
	assert.Equal(t, "y", st.AutomationID)
	assert.Equal(t, "AWAITING_OPENING_RESPONSE", st.State)

	open, err := s.ConversationStates(ctx, "a1", 10)
	require.NoError(t, err)
	assert.Len(t, open, 1)

	require.NoError(t, s.DeleteConversationState(ctx, "u1", "a1"))
	_, err = s.ConversationState(ctx, "u1", "a1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestUsageCounterAccumulates(t *testing.T) {
	s := seed(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.IncrementUsage(ctx, "ws1", now, 2, 1))
	require.NoError(t, s.IncrementUsage(ctx, "ws1", now, 3, 1))
	require.NoError(t, s.IncrementUsage(ctx, "ws1", now.AddDate(0, 1, 0), 1, 1))

	u, err := s.Usage(ctx, "ws1", now)
	require.NoError(t, err)
	assert.Equal(t, "2026-03", u.Period)
	assert.Equal(t, int64(5), u.MessagesSent)
	assert.Equal(t, int64(2), u.AutomationRuns)
}

func TestDeleteAutomationClearsConversations(t *testing.T) {
	s := seed(t)
	ctx := context.Background()
	require.NoError(t, s.SaveAutomation(ctx, &models.Automation{ID: "x", WorkspaceID: "ws1", Type: "dm_reply", IsActive: true, Actions: datatypes.JSON(`{"mainMessage":{"text":"x"}}`)}))
	require.NoError(t, s.PutConversationState(ctx, &models.ConversationState{SenderID: "u1", AccountID: "a1", AutomationID: "x", State: "AWAITING_EMAIL"}))

	_, err := s.DeleteAutomation(ctx, "x")
	require.NoError(t, err)
	_, err = s.ConversationState(ctx, "u1", "a1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestConcurrentFirstContactUpserts(t *testing.T) {
	s := seed(t)
	ctx := context.Background()

	_, err := s.Contact(ctx, "a1", "u1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	const workers = 20
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.UpsertContact(ctx, store.ContactUpdate{AccountID: "a1", SenderID: "u1", Type: "dm"})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	contacts, err := s.Contacts(ctx, "a1", 10)
	require.NoError(t, err)
	require.Len(t, contacts, 1)
	assert.Equal(t, workers, contacts[0].InteractionCount)

	c, err := s.Contact(ctx, "a1", "u1")
	require.NoError(t, err)
	assert.Equal(t, "dm", c.LastInteractionType)
}
