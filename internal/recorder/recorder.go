// Package recorder persists automation outcomes, usage counters and contact
// activity, and serves the cached stats aggregate.
package recorder

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"instagram-automation/internal/cache"
	"instagram-automation/internal/models"
	"instagram-automation/internal/store"
)

// Log kinds.
const (
	KindRun      = "run"
	KindBranding = "branding"
)

// Notifier receives live run outcomes.
type Notifier interface {
	BroadcastEvent(eventType string, data interface{})
}

type Recorder struct {
	store    *store.Store
	cache    *cache.Cache
	hub      Notifier
	statsTTL time.Duration
	now      func() time.Time
}

func New(s *store.Store, c *cache.Cache, hub Notifier) *Recorder {
	return &Recorder{
		store:    s,
		cache:    c,
		hub:      hub,
		statsTTL: 10 * time.Minute,
		now:      time.Now,
	}
}

// Outcome describes one step or run of an automation for one sender.
type Outcome struct {
	WorkspaceID    string
	AccountID      string
	AutomationID   string
	SenderID       string
	Kind           string
	TriggerType    string
	TriggerContent string
	Err            error
}

func (o Outcome) entry() *models.AutomationLog {
	l := &models.AutomationLog{
		WorkspaceID:    o.WorkspaceID,
		AccountID:      o.AccountID,
		AutomationID:   o.AutomationID,
		SenderID:       o.SenderID,
		Kind:           o.Kind,
		TriggerType:    o.TriggerType,
		TriggerContent: truncate(o.TriggerContent, 1000),
		Success:        o.Err == nil,
	}
	if o.Err != nil {
		l.ErrorMessage = truncate(o.Err.Error(), 1000)
	}
	return l
}

// Step appends the outcome of a single step.
func (r *Recorder) Step(ctx context.Context, o Outcome) {
	if err := r.store.CreateAutomationLog(ctx, o.entry()); err != nil {
		log.WithError(err).WithField("automation_id", o.AutomationID).Error("Failed to write automation log")
	}
}

// Run appends the run outcome, bumps usage and notifies live viewers.
func (r *Recorder) Run(ctx context.Context, o Outcome, messagesSent int) {
	o.Kind = KindRun
	entry := o.entry()
	if err := r.store.CreateAutomationLog(ctx, entry); err != nil {
		log.WithError(err).WithField("automation_id", o.AutomationID).Error("Failed to write run log")
	}
	if o.WorkspaceID != "" {
		if err := r.store.IncrementUsage(ctx, o.WorkspaceID, r.now(), int64(messagesSent), 1); err != nil {
			log.WithError(err).WithField("workspace_id", o.WorkspaceID).Error("Failed to increment usage")
		}
	}
	if r.hub != nil {
		r.hub.BroadcastEvent("automation_run", entry)
	}
}

// Contact records an interaction on the sender's contact and drops its cache
// entry.
func (r *Recorder) Contact(ctx context.Context, u store.ContactUpdate) {
	if _, err := r.store.UpsertContact(ctx, u); err != nil {
		log.WithError(err).WithFields(log.Fields{
			"account_id": u.AccountID,
			"sender_id":  u.SenderID,
		}).Warn("Failed to upsert contact")
		return
	}
	r.cache.Invalidate(ctx, cache.ContactKey(u.AccountID, u.SenderID))
}

// LookupContact returns the sender's contact, cache-aside.
func (r *Recorder) LookupContact(ctx context.Context, accountID, senderID string) (*models.Contact, error) {
	key := cache.ContactKey(accountID, senderID)
	var c models.Contact
	if found, _ := r.cache.GetJSON(ctx, key, &c); found {
		return &c, nil
	}
	contact, err := r.store.Contact(ctx, accountID, senderID)
	if err != nil {
		return nil, err
	}
	if r.cache != nil {
		r.cache.SetJSON(ctx, key, contact, r.cache.TTL.Contact)
	}
	return contact, nil
}

// BrandingSentToday reports whether the sender already got the branding
// message since midnight UTC.
func (r *Recorder) BrandingSentToday(ctx context.Context, accountID, senderID string) (bool, error) {
	now := r.now().UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	n, err := r.store.CountLogsSince(ctx, accountID, senderID, KindBranding, midnight)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Stats returns the cached aggregate, computing it on a miss.
func (r *Recorder) Stats(ctx context.Context) (*store.Summary, error) {
	var s store.Summary
	if found, _ := r.cache.GetJSON(ctx, cache.StatsKey, &s); found {
		return &s, nil
	}
	return r.RefreshStats(ctx)
}

func (r *Recorder) RefreshStats(ctx context.Context) (*store.Summary, error) {
	s, err := r.store.Summarize(ctx, r.now())
	if err != nil {
		return nil, err
	}
	r.cache.SetJSON(ctx, cache.StatsKey, s, r.statsTTL)
	return s, nil
}

// ScheduleStats refreshes the aggregate on a standard five-field cron spec.
func (r *Recorder) ScheduleStats(spec string) (*cron.Cron, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(cron.WithParser(parser))
	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := r.RefreshStats(ctx); err != nil {
			log.WithError(err).Warn("Stats refresh failed")
		}
	})
	if err != nil {
		return nil, err
	}
	c.Start()
	return c, nil
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
