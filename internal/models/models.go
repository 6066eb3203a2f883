package models

import (
	"time"

	"gorm.io/datatypes"
)

// Workspace owns linked accounts and automations. The alias columns hold every
// provider identifier the workspace has been linked under.
type Workspace struct {
	ID                    string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Name                  string    `gorm:"type:varchar(255)" json:"name"`
	Plan                  string    `gorm:"type:varchar(20);default:'free'" json:"plan"`
	InstagramAccountID    string    `gorm:"type:varchar(64);index" json:"instagram_account_id"`
	ProfessionalAccountID string    `gorm:"type:varchar(64);index" json:"professional_account_id"`
	BusinessAccountID     string    `gorm:"type:varchar(64);index" json:"business_account_id"`
	CreatedAt             time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt             time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Workspace) TableName() string {
	return "workspaces"
}

const PlanFree = "free"

// Account is a tenant's connection to the messaging provider.
type Account struct {
	ID              string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	WorkspaceID     string    `gorm:"type:varchar(64);index;not null" json:"workspace_id"`
	InstagramUserID string    `gorm:"type:varchar(64);index" json:"instagram_user_id"`
	ProfessionalID  string    `gorm:"type:varchar(64);index" json:"professional_id"`
	Username        string    `gorm:"type:varchar(255)" json:"username"`
	DisplayName     string    `gorm:"type:varchar(255)" json:"display_name"`
	AccessToken     string    `gorm:"type:text" json:"-"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Account) TableName() string {
	return "accounts"
}

// Aliases returns every provider identifier the account answers to.
func (a Account) Aliases() []string {
	var out []string
	for _, id := range []string{a.InstagramUserID, a.ProfessionalID} {
		if id != "" {
			out = append(out, id)
		}
	}
	return out
}

// Automation is a declarative reply flow authored in the builder.
type Automation struct {
	ID              string         `gorm:"primaryKey;type:varchar(64)" json:"id"`
	WorkspaceID     string         `gorm:"type:varchar(64);index;not null" json:"workspace_id"`
	AccountID       string         `gorm:"type:varchar(64);index" json:"account_id"`
	Name            string         `gorm:"type:varchar(255)" json:"name"`
	Type            string         `gorm:"type:varchar(50);index;not null" json:"type"`
	IsActive        bool           `gorm:"default:true;index" json:"is_active"`
	KeywordMode     string         `gorm:"type:varchar(30);default:'any_reply'" json:"keyword_mode"`
	Keywords        datatypes.JSON `json:"keywords"`
	SelectedPostID  string         `gorm:"type:varchar(64);index" json:"selected_post_id"`
	SelectedStoryID string         `gorm:"type:varchar(64);index" json:"selected_story_id"`
	AwaitNextPost   bool           `gorm:"default:false;index" json:"await_next_post"`
	Actions         datatypes.JSON `json:"actions"`
	CreatedAt       time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Automation) TableName() string {
	return "automations"
}

// ConversationState tracks the awaited response for one sender on one account.
type ConversationState struct {
	SenderID     string    `gorm:"primaryKey;type:varchar(64)" json:"sender_id"`
	AccountID    string    `gorm:"primaryKey;type:varchar(64)" json:"account_id"`
	AutomationID string    `gorm:"type:varchar(64);not null" json:"automation_id"`
	State        string    `gorm:"type:varchar(50);not null" json:"state"`
	CommentID    string    `gorm:"type:varchar(64)" json:"comment_id"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (ConversationState) TableName() string {
	return "conversation_states"
}

// Contact is the denormalized engagement record for one sender.
type Contact struct {
	ID                  uint           `gorm:"primaryKey" json:"id"`
	AccountID           string         `gorm:"type:varchar(64);uniqueIndex:ux_contact_account_sender,priority:1;not null" json:"account_id"`
	SenderID            string         `gorm:"type:varchar(64);uniqueIndex:ux_contact_account_sender,priority:2;not null" json:"sender_id"`
	Username            string         `gorm:"type:varchar(255)" json:"username"`
	Email               string         `gorm:"type:varchar(255)" json:"email"`
	LastInteractionType string         `gorm:"type:varchar(50)" json:"last_interaction_type"`
	LastInteractionAt   time.Time      `json:"last_interaction_at"`
	InteractionCount    int            `gorm:"default:0" json:"interaction_count"`
	History             datatypes.JSON `json:"history"`
	CreatedAt           time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Contact) TableName() string {
	return "contacts"
}

// WebhookLog stores raw provider payloads for audit.
type WebhookLog struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Object    string    `gorm:"type:varchar(50)" json:"object"`
	Payload   string    `gorm:"type:text" json:"payload"`
	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (WebhookLog) TableName() string {
	return "webhook_logs"
}

// AutomationLog is one execution attempt of an automation step or run.
type AutomationLog struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	WorkspaceID    string    `gorm:"type:varchar(64);index" json:"workspace_id"`
	AccountID      string    `gorm:"type:varchar(64);index:ix_log_account_sender" json:"account_id"`
	AutomationID   string    `gorm:"type:varchar(64);index" json:"automation_id"`
	SenderID       string    `gorm:"type:varchar(64);index:ix_log_account_sender" json:"sender_id"`
	Kind           string    `gorm:"type:varchar(50)" json:"kind"`
	TriggerType    string    `gorm:"type:varchar(50)" json:"trigger_type"`
	TriggerContent string    `gorm:"type:text" json:"trigger_content"`
	Success        bool      `json:"success"`
	ErrorMessage   string    `gorm:"type:text" json:"error_message"`
	CreatedAt      time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (AutomationLog) TableName() string {
	return "automation_logs"
}

// MediaSnapshot lists content that already existed when the workspace was
// last synced; anything absent is treated as newly published.
type MediaSnapshot struct {
	WorkspaceID string    `gorm:"primaryKey;type:varchar(64)" json:"workspace_id"`
	MediaID     string    `gorm:"primaryKey;type:varchar(64)" json:"media_id"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (MediaSnapshot) TableName() string {
	return "media_snapshots"
}

// UsageCounter aggregates per-workspace usage for one calendar month.
type UsageCounter struct {
	WorkspaceID    string    `gorm:"primaryKey;type:varchar(64)" json:"workspace_id"`
	Period         string    `gorm:"primaryKey;type:varchar(7)" json:"period"`
	MessagesSent   int64     `gorm:"default:0" json:"messages_sent"`
	AutomationRuns int64     `gorm:"default:0" json:"automation_runs"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (UsageCounter) TableName() string {
	return "usage_counters"
}

// All lists every model for migrations.
func All() []interface{} {
	return []interface{}{
		&Workspace{},
		&Account{},
		&Automation{},
		&ConversationState{},
		&Contact{},
		&WebhookLog{},
		&AutomationLog{},
		&MediaSnapshot{},
		&UsageCounter{},
	}
}
