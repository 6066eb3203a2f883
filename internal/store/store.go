// Package store is the repository over gorm used by the engine.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"instagram-automation/internal/models"
)

var ErrNotFound = errors.New("record not found")

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) DB() *gorm.DB {
	return s.db
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// --- Tenants ---

// AccountByProviderID looks up the account by its user id first, then by its
// professional id.
func (s *Store) AccountByProviderID(ctx context.Context, providerID string) (*models.Account, error) {
	if providerID == "" {
		return nil, ErrNotFound
	}
	for _, column := range []string{"instagram_user_id", "professional_id"} {
		var acct models.Account
		err := s.db.WithContext(ctx).Where(column+" = ?", providerID).First(&acct).Error
		if err == nil {
			return &acct, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("lookup account by %s: %w", column, err)
		}
	}
	return nil, ErrNotFound
}

// WorkspaceByAlias finds a workspace whose stored provider ids contain the
// given id under any alias column.
func (s *Store) WorkspaceByAlias(ctx context.Context, providerID string) (*models.Workspace, error) {
	if providerID == "" {
		return nil, ErrNotFound
	}
	var ws models.Workspace
	err := s.db.WithContext(ctx).
		Where("instagram_account_id = ? OR professional_account_id = ? OR business_account_id = ?", providerID, providerID, providerID).
		First(&ws).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &ws, nil
}

func (s *Store) AccountForWorkspace(ctx context.Context, workspaceID string) (*models.Account, error) {
	var acct models.Account
	err := s.db.WithContext(ctx).Where("workspace_id = ?", workspaceID).Order("created_at asc").First(&acct).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &acct, nil
}

func (s *Store) Workspace(ctx context.Context, id string) (*models.Workspace, error) {
	var ws models.Workspace
	if err := s.db.WithContext(ctx).First(&ws, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &ws, nil
}

func (s *Store) Account(ctx context.Context, id string) (*models.Account, error) {
	var acct models.Account
	if err := s.db.WithContext(ctx).First(&acct, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &acct, nil
}

// --- Automations ---

// ActiveAutomations returns active automations of one type for a workspace.
// contentID narrows the set to automations scoped to that content plus the
// unscoped ones; an empty contentID returns only unscoped automations.
func (s *Store) ActiveAutomations(ctx context.Context, workspaceID, automationType, contentID string) ([]models.Automation, error) {
	q := s.db.WithContext(ctx).
		Where("workspace_id = ? AND type = ? AND is_active = ?", workspaceID, automationType, true)
	if contentID != "" {
		q = q.Where("(selected_post_id = '' OR selected_post_id IS NULL OR selected_post_id = ?) AND (selected_story_id = '' OR selected_story_id IS NULL OR selected_story_id = ?)", contentID, contentID)
	} else {
		q = q.Where("(selected_post_id = '' OR selected_post_id IS NULL) AND (selected_story_id = '' OR selected_story_id IS NULL)")
	}

	var out []models.Automation
	if err := q.Order("created_at asc").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("load automations: %w", err)
	}
	return out, nil
}

func (s *Store) Automation(ctx context.Context, id string) (*models.Automation, error) {
	var a models.Automation
	if err := s.db.WithContext(ctx).First(&a, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

func (s *Store) SaveAutomation(ctx context.Context, a *models.Automation) error {
	return s.db.WithContext(ctx).Save(a).Error
}

// Automations lists a workspace's automations, newest first. An empty
// workspace id lists all of them.
func (s *Store) Automations(ctx context.Context, workspaceID string) ([]models.Automation, error) {
	q := s.db.WithContext(ctx).Order("created_at desc")
	if workspaceID != "" {
		q = q.Where("workspace_id = ?", workspaceID)
	}
	var out []models.Automation
	return out, q.Find(&out).Error
}

func (s *Store) SetAutomationActive(ctx context.Context, id string, active bool) (*models.Automation, error) {
	res := s.db.WithContext(ctx).Model(&models.Automation{}).Where("id = ?", id).Update("is_active", active)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return s.Automation(ctx, id)
}

// DeleteAutomation removes the automation and any conversation parked on it.
func (s *Store) DeleteAutomation(ctx context.Context, id string) (*models.Automation, error) {
	a, err := s.Automation(ctx, id)
	if err != nil {
		return nil, err
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("automation_id = ?", id).Delete(&models.ConversationState{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Automation{}, "id = ?", id).Error
	})
	return a, err
}

// AwaitingNextPost returns the active automations of a type that are still
// waiting to be bound to the next published post.
func (s *Store) AwaitingNextPost(ctx context.Context, workspaceID, automationType string) ([]models.Automation, error) {
	var out []models.Automation
	err := s.db.WithContext(ctx).
		Where("workspace_id = ? AND type = ? AND is_active = ? AND await_next_post = ?", workspaceID, automationType, true, true).
		Order("created_at asc").
		Find(&out).Error
	return out, err
}

// LinkNextPost binds the automation to postID only if it is still awaiting a
// post. It reports whether this call performed the update.
func (s *Store) LinkNextPost(ctx context.Context, automationID, postID string) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&models.Automation{}).
		Where("id = ? AND await_next_post = ?", automationID, true).
		Updates(map[string]interface{}{
			"selected_post_id": postID,
			"await_next_post":  false,
			"updated_at":       time.Now(),
		})
	if res.Error != nil {
		return false, fmt.Errorf("link next post: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// --- Media snapshot ---

func (s *Store) MediaKnown(ctx context.Context, workspaceID, mediaID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.MediaSnapshot{}).
		Where("workspace_id = ? AND media_id = ?", workspaceID, mediaID).
		Count(&count).Error
	return count > 0, err
}

func (s *Store) RecordMedia(ctx context.Context, workspaceID, mediaID string) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.MediaSnapshot{WorkspaceID: workspaceID, MediaID: mediaID}).Error
}

// --- Conversation state ---

func (s *Store) ConversationState(ctx context.Context, senderID, accountID string) (*models.ConversationState, error) {
	var st models.ConversationState
	err := s.db.WithContext(ctx).
		Where("sender_id = ? AND account_id = ?", senderID, accountID).
		First(&st).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &st, nil
}

// PutConversationState overwrites any existing state for the pair.
func (s *Store) PutConversationState(ctx context.Context, st *models.ConversationState) error {
	st.UpdatedAt = time.Now()
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "sender_id"}, {Name: "account_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"automation_id", "state", "comment_id", "updated_at"}),
		}).
		Create(st).Error
}

// ConversationStates lists open conversations, most recently touched first.
func (s *Store) ConversationStates(ctx context.Context, accountID string, limit int) ([]models.ConversationState, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	q := s.db.WithContext(ctx).Order("updated_at desc").Limit(limit)
	if accountID != "" {
		q = q.Where("account_id = ?", accountID)
	}
	var out []models.ConversationState
	return out, q.Find(&out).Error
}

func (s *Store) DeleteConversationState(ctx context.Context, senderID, accountID string) error {
	return s.db.WithContext(ctx).
		Where("sender_id = ? AND account_id = ?", senderID, accountID).
		Delete(&models.ConversationState{}).Error
}

// --- Audit ---

func (s *Store) CreateWebhookLog(ctx context.Context, entry *models.WebhookLog) error {
	return s.db.WithContext(ctx).Create(entry).Error
}

func (s *Store) CreateAutomationLog(ctx context.Context, entry *models.AutomationLog) error {
	return s.db.WithContext(ctx).Create(entry).Error
}

func (s *Store) RecentAutomationLogs(ctx context.Context, limit int) ([]models.AutomationLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	var out []models.AutomationLog
	err := s.db.WithContext(ctx).Order("created_at desc, id desc").Limit(limit).Find(&out).Error
	return out, err
}

// CountLogsSince counts log rows of the given kind for one sender after since.
func (s *Store) CountLogsSince(ctx context.Context, accountID, senderID, kind string, since time.Time) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.AutomationLog{}).
		Where("account_id = ? AND sender_id = ? AND kind = ? AND success = ? AND created_at >= ?", accountID, senderID, kind, true, since).
		Count(&count).Error
	return count, err
}
