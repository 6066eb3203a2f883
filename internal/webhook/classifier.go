package webhook

import (
	"instagram-automation/internal/automation"
	"instagram-automation/pkg/models"
)

// Classify splits one webhook entry into engine events for the tenant. Echoes,
// receipts and the tenant's own comments are dropped.
func Classify(entry models.Entry, t *Tenant) []automation.Event {
	var out []automation.Event
	for _, m := range entry.Messaging {
		if ev, ok := classifyMessaging(m, entry.Time, t); ok {
			out = append(out, ev)
		}
	}
	for _, ch := range entry.Changes {
		if ev, ok := classifyChange(ch, entry.Time, t); ok {
			out = append(out, ev)
		}
	}
	return out
}

func classifyMessaging(m models.MessagingEvent, entryTime int64, t *Tenant) (automation.Event, bool) {
	if t.IsSelf(m.Sender.ID) {
		return automation.Event{}, false
	}
	ev := automation.Event{
		AccountID:   t.AccountID,
		WorkspaceID: t.WorkspaceID,
		SenderID:    m.Sender.ID,
		Timestamp:   m.Timestamp,
	}
	if ev.Timestamp == 0 {
		ev.Timestamp = entryTime
	}

	switch {
	case m.Postback != nil:
		ev.Kind = automation.KindPostback
		ev.MessageID = m.Postback.MID
		ev.Payload = m.Postback.Payload
		ev.Text = m.Postback.Title
	case m.Message == nil:
		// read and delivery receipts
		return automation.Event{}, false
	case m.Message.IsEcho || m.Message.IsDeleted:
		return automation.Event{}, false
	case m.Message.QuickReply != nil:
		ev.Kind = automation.KindQuickReply
		ev.MessageID = m.Message.MID
		ev.Payload = m.Message.QuickReply.Payload
		ev.Text = m.Message.Text
	case m.Message.ReplyTo != nil && m.Message.ReplyTo.Story != nil:
		ev.Kind = automation.KindStoryReply
		ev.MessageID = m.Message.MID
		ev.ContentID = m.Message.ReplyTo.Story.ID
		ev.Text = m.Message.Text
	default:
		ev.Kind = automation.KindDM
		ev.MessageID = m.Message.MID
		ev.Text = m.Message.Text
	}
	if ev.SenderID == "" {
		return automation.Event{}, false
	}
	return ev, true
}

func classifyChange(ch models.Change, entryTime int64, t *Tenant) (automation.Event, bool) {
	if ch.Field != "comments" {
		return automation.Event{}, false
	}
	v := ch.Value
	if v.ID == "" || v.From.ID == "" {
		return automation.Event{}, false
	}
	if t.IsSelf(v.From.ID) || t.IsSelf(v.From.SelfIGScopedID) ||
		(t.Username != "" && v.From.Username == t.Username) {
		return automation.Event{}, false
	}
	return automation.Event{
		Kind:        automation.KindComment,
		AccountID:   t.AccountID,
		WorkspaceID: t.WorkspaceID,
		SenderID:    v.From.ID,
		Username:    v.From.Username,
		CommentID:   v.ID,
		ContentID:   v.Media.ID,
		Text:        v.Text,
		Timestamp:   entryTime,
	}, true
}
