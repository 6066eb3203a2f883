package automation

import (
	"encoding/json"
	"fmt"
	"strings"

	"instagram-automation/internal/instagram"
	"instagram-automation/internal/models"
)

// Automation types.
const (
	TypeDMReply        = "dm_reply"
	TypeGenericDMReply = "generic_dm_reply"
	TypeCommentToDM    = "comment_to_dm"
	TypeStoryReplyToDM = "story_reply_to_dm"
)

// Keyword modes.
const (
	ModeAnyReply         = "any_reply"
	ModeSpecificKeywords = "specific_keywords"
)

type OpeningMessage struct {
	Enabled  bool               `json:"enabled"`
	Text     string             `json:"text"`
	Buttons  []instagram.Button `json:"buttons,omitempty"`
	ImageURL string             `json:"imageUrl,omitempty"`
}

type AskFollow struct {
	Enabled      bool               `json:"enabled"`
	Text         string             `json:"text"`
	Buttons      []instagram.Button `json:"buttons,omitempty"`
	ReminderText string             `json:"reminderText,omitempty"`
}

type AskEmail struct {
	Enabled          bool   `json:"enabled"`
	Text             string `json:"text"`
	ConfirmationText string `json:"confirmationText,omitempty"`
	RetryText        string `json:"retryText,omitempty"`
}

type PublicReplyOption struct {
	Text    string `json:"text"`
	Enabled bool   `json:"enabled"`
}

type PublicReply struct {
	Enabled bool                `json:"enabled"`
	Replies []PublicReplyOption `json:"replies,omitempty"`
}

type MainMessage struct {
	Text     string              `json:"text,omitempty"`
	Buttons  []instagram.Button  `json:"buttons,omitempty"`
	ImageURL string              `json:"imageUrl,omitempty"`
	Elements []instagram.Element `json:"elements,omitempty"`
}

// deliverable reports whether the message still carries something once
// adapted to automations of type t. Carousels are DM only and comment flows
// open with a private reply, which cannot carry an image.
func (m MainMessage) deliverable(t string) bool {
	switch t {
	case TypeDMReply, TypeGenericDMReply:
		return m.Text != "" || m.ImageURL != "" || len(m.Elements) > 0
	case TypeCommentToDM:
		return m.Text != ""
	}
	return m.Text != "" || m.ImageURL != ""
}

func (m MainMessage) checkFor(t string) error {
	if !m.deliverable(t) {
		return fmt.Errorf("mainMessage has nothing to send for %s automations", t)
	}
	return nil
}

type FollowUp struct {
	Enabled      bool               `json:"enabled"`
	Text         string             `json:"text"`
	DelayMinutes int                `json:"delayMinutes"`
	Buttons      []instagram.Button `json:"buttons,omitempty"`
}

// Actions is the ordered step bundle of an automation.
type Actions struct {
	OpeningMessage *OpeningMessage `json:"openingMessage,omitempty"`
	AskFollow      *AskFollow      `json:"askFollow,omitempty"`
	AskEmail       *AskEmail       `json:"askEmail,omitempty"`
	PublicReply    *PublicReply    `json:"publicReply,omitempty"`
	MainMessage    MainMessage     `json:"mainMessage"`
	FollowUp       *FollowUp       `json:"followUp,omitempty"`
	ReactToTrigger bool            `json:"reactToTrigger,omitempty"`
}

func (a Actions) openingEnabled() bool { return a.OpeningMessage != nil && a.OpeningMessage.Enabled }
func (a Actions) followEnabled() bool { return a.AskFollow != nil && a.AskFollow.Enabled }
func (a Actions) emailEnabled() bool { return a.AskEmail != nil && a.AskEmail.Enabled }

// Flow is an automation row with its JSON columns decoded.
type Flow struct {
	ID              string
	WorkspaceID     string
	AccountID       string
	Name            string
	Type            string
	KeywordMode     string
	Keywords        []string
	SelectedPostID  string
	SelectedStoryID string
	AwaitNextPost   bool
	Actions         Actions
}

// ScopeID is the content id the flow is bound to, if any.
func (f *Flow) ScopeID() string {
	if f.Type == TypeStoryReplyToDM {
		return f.SelectedStoryID
	}
	return f.SelectedPostID
}

// ParseFlow validates and decodes an automation row.
func ParseFlow(a models.Automation) (*Flow, error) {
	if err := ValidateActions(a.Actions); err != nil {
		return nil, err
	}
	var actions Actions
	if err := json.Unmarshal(a.Actions, &actions); err != nil {
		return nil, fmt.Errorf("decode actions: %w", err)
	}
	if err := actions.MainMessage.checkFor(a.Type); err != nil {
		return nil, err
	}
	keywords, err := parseKeywords(a.Keywords)
	if err != nil {
		return nil, err
	}
	mode := a.KeywordMode
	if mode == "" {
		mode = ModeAnyReply
	}
	return &Flow{
		ID:              a.ID,
		WorkspaceID:     a.WorkspaceID,
		AccountID:       a.AccountID,
		Name:            a.Name,
		Type:            a.Type,
		KeywordMode:     mode,
		Keywords:        keywords,
		SelectedPostID:  a.SelectedPostID,
		SelectedStoryID: a.SelectedStoryID,
		AwaitNextPost:   a.AwaitNextPost,
		Actions:         actions,
	}, nil
}

// parseKeywords accepts a JSON array or a single comma separated string.
func parseKeywords(raw []byte) ([]string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		var joined string
		if err2 := json.Unmarshal(raw, &joined); err2 != nil {
			return nil, fmt.Errorf("decode keywords: %w", err)
		}
		list = strings.Split(joined, ",")
	}
	out := list[:0]
	for _, k := range list {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	return out, nil
}

// Triggers reports whether text fires the flow's keyword rule.
func (f *Flow) Triggers(text string) bool {
	return KeywordMatch(f.KeywordMode, f.Keywords, text)
}

// KeywordMatch is a case-insensitive substring test. A specific-keyword rule
// with no keywords never matches.
func KeywordMatch(mode string, keywords []string, text string) bool {
	if mode != ModeSpecificKeywords {
		return true
	}
	lower := strings.ToLower(text)
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" && strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

// typesFor maps an event category to the automation types that may answer it.
func typesFor(kind EventKind) []string {
	switch kind {
	case KindComment:
		return []string{TypeCommentToDM}
	case KindStoryReply:
		return []string{TypeStoryReplyToDM}
	case KindDM, KindQuickReply, KindPostback:
		return []string{TypeDMReply, TypeGenericDMReply}
	}
	return nil
}
