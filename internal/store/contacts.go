package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"instagram-automation/internal/models"
)

// MaxContactHistory bounds the interaction history kept on a contact.
const MaxContactHistory = 20

type Interaction struct {
	Type         string    `json:"type"`
	AutomationID string    `json:"automation_id,omitempty"`
	At           time.Time `json:"at"`
}

type ContactUpdate struct {
	AccountID    string
	SenderID     string
	Username     string
	Email        string
	Type         string
	AutomationID string
	At           time.Time
}

// UpsertContact records an interaction on the sender's contact, creating it on
// first sight.
func (s *Store) UpsertContact(ctx context.Context, u ContactUpdate) (*models.Contact, error) {
	if u.At.IsZero() {
		u.At = time.Now()
	}

	var out models.Contact
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Seed the row, then hold its lock for the read-modify-write.
		seed := models.Contact{AccountID: u.AccountID, SenderID: u.SenderID, LastInteractionAt: u.At}
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "account_id"}, {Name: "sender_id"}},
			DoNothing: true,
		}).Create(&seed).Error
		if err != nil {
			return err
		}

		var c models.Contact
		err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("account_id = ? AND sender_id = ?", u.AccountID, u.SenderID).
			First(&c).Error
		if err != nil {
			return err
		}

		var history []Interaction
		if len(c.History) > 0 {
			if err := json.Unmarshal(c.History, &history); err != nil {
				history = nil
			}
		}
		history = append(history, Interaction{Type: u.Type, AutomationID: u.AutomationID, At: u.At})
		if len(history) > MaxContactHistory {
			history = history[len(history)-MaxContactHistory:]
		}
		raw, err := json.Marshal(history)
		if err != nil {
			return err
		}

		c.AccountID = u.AccountID
		c.SenderID = u.SenderID
		if u.Username != "" {
			c.Username = u.Username
		}
		if u.Email != "" {
			c.Email = u.Email
		}
		c.LastInteractionType = u.Type
		c.LastInteractionAt = u.At
		c.InteractionCount++
		c.History = datatypes.JSON(raw)

		if err := tx.Save(&c).Error; err != nil {
			return err
		}
		out = c
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("upsert contact: %w", err)
	}
	return &out, nil
}

// Contact returns the sender's contact or ErrNotFound.
func (s *Store) Contact(ctx context.Context, accountID, senderID string) (*models.Contact, error) {
	var c models.Contact
	err := s.db.WithContext(ctx).
		Where("account_id = ? AND sender_id = ?", accountID, senderID).
		First(&c).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

func (s *Store) Contacts(ctx context.Context, accountID string, limit int) ([]models.Contact, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	q := s.db.WithContext(ctx).Order("last_interaction_at desc").Limit(limit)
	if accountID != "" {
		q = q.Where("account_id = ?", accountID)
	}
	var out []models.Contact
	err := q.Find(&out).Error
	return out, err
}

// IncrementUsage adds to the workspace's counters for the month of at.
func (s *Store) IncrementUsage(ctx context.Context, workspaceID string, at time.Time, messages, runs int64) error {
	row := models.UsageCounter{
		WorkspaceID:    workspaceID,
		Period:         at.UTC().Format("2006-01"),
		MessagesSent:   messages,
		AutomationRuns: runs,
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "workspace_id"}, {Name: "period"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"messages_sent":   gorm.Expr("usage_counters.messages_sent + ?", messages),
				"automation_runs": gorm.Expr("usage_counters.automation_runs + ?", runs),
				"updated_at":      time.Now(),
			}),
		}).
		Create(&row).Error
}

func (s *Store) Usage(ctx context.Context, workspaceID string, at time.Time) (*models.UsageCounter, error) {
	var u models.UsageCounter
	err := s.db.WithContext(ctx).
		First(&u, "workspace_id = ? AND period = ?", workspaceID, at.UTC().Format("2006-01")).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

type Summary struct {
	Workspaces   int64     `json:"workspaces"`
	Accounts     int64     `json:"accounts"`
	Automations  int64     `json:"automations"`
	ActiveFlows  int64     `json:"active_conversations"`
	Contacts     int64     `json:"contacts"`
	RunsTotal    int64     `json:"runs_total"`
	RunsFailed   int64     `json:"runs_failed"`
	MessagesSent int64     `json:"messages_sent_this_month"`
	GeneratedAt  time.Time `json:"generated_at"`
}

// Summarize computes the global aggregate served by the stats endpoint.
func (s *Store) Summarize(ctx context.Context, now time.Time) (*Summary, error) {
	db := s.db.WithContext(ctx)
	out := &Summary{GeneratedAt: now}

	counts := []struct {
		model interface{}
		where string
		args  []interface{}
		dst   *int64
	}{
		{&models.Workspace{}, "", nil, &out.Workspaces},
		{&models.Account{}, "", nil, &out.Accounts},
		{&models.Automation{}, "is_active = ?", []interface{}{true}, &out.Automations},
		{&models.ConversationState{}, "", nil, &out.ActiveFlows},
		{&models.Contact{}, "", nil, &out.Contacts},
		{&models.AutomationLog{}, "kind = ?", []interface{}{"run"}, &out.RunsTotal},
		{&models.AutomationLog{}, "kind = ? AND success = ?", []interface{}{"run", false}, &out.RunsFailed},
	}
	for _, c := range counts {
		q := db.Model(c.model)
		if c.where != "" {
			q = q.Where(c.where, c.args...)
		}
		if err := q.Count(c.dst).Error; err != nil {
			return nil, fmt.Errorf("summarize: %w", err)
		}
	}

	var sent struct{ Total int64 }
	err := db.Model(&models.UsageCounter{}).
		Select("COALESCE(SUM(messages_sent), 0) AS total").
		Where("period = ?", now.UTC().Format("2006-01")).
		Scan(&sent).Error
	if err != nil {
		return nil, fmt.Errorf("summarize usage: %w", err)
	}
	out.MessagesSent = sent.Total
	return out, nil
}
