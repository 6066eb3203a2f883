package automation

import (
	"encoding/json"
	"fmt"
	"strings"

	"instagram-automation/internal/queue"
)

// EventKind is the category of a classified webhook sub-event.
type EventKind string

const (
	KindDM         EventKind = "dm"
	KindPostback   EventKind = "postback"
	KindQuickReply EventKind = "quick_reply"
	KindStoryReply EventKind = "story_reply"
	KindComment    EventKind = "comment"
	KindFollowUp   EventKind = "follow_up"
)

// JobType is the queue job type carrying events of this kind.
func (k EventKind) JobType() queue.JobType {
	return queue.JobType(k)
}

// Event is one sub-event resolved to an account. It is the job payload.
type Event struct {
	Kind         EventKind `json:"kind"`
	AccountID    string    `json:"account_id"`
	WorkspaceID  string    `json:"workspace_id"`
	SenderID     string    `json:"sender_id"`
	Username     string    `json:"username,omitempty"`
	MessageID    string    `json:"message_id,omitempty"`
	Text         string    `json:"text,omitempty"`
	Payload      string    `json:"payload,omitempty"`
	ContentID    string    `json:"content_id,omitempty"`
	CommentID    string    `json:"comment_id,omitempty"`
	AutomationID string    `json:"automation_id,omitempty"`
	Timestamp    int64     `json:"timestamp"`
}

// DedupKey is the provider message identity used for the job id.
func (e Event) DedupKey() string {
	switch {
	case e.Kind == KindFollowUp:
		return e.SenderID + ":" + e.AutomationID
	case e.CommentID != "":
		return e.CommentID
	case e.MessageID != "":
		return e.MessageID
	}
	return e.SenderID + ":" + e.Payload + ":" + e.Text
}

// Job wraps the event for the queue.
func (e Event) Job(entryTime int64) (*queue.Job, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return &queue.Job{
		ID:          queue.JobID(e.Kind.JobType(), e.AccountID, entryTime, e.DedupKey()),
		Type:        e.Kind.JobType(),
		AccountID:   e.AccountID,
		WorkspaceID: e.WorkspaceID,
		EntryTime:   entryTime,
		Payload:     raw,
	}, nil
}

func EventFromJob(job *queue.Job) (Event, error) {
	var e Event
	if err := json.Unmarshal(job.Payload, &e); err != nil {
		return e, fmt.Errorf("decode event: %w", err)
	}
	return e, nil
}

// Postback payload prefixes for buttons the engine generates.
const (
	payloadOpening       = "OPENING:"
	payloadFollowConfirm = "FOLLOW_CONFIRM:"
)

// parsePostback splits an engine postback payload into its event and
// automation id.
func parsePostback(payload string) (EventType, string, bool) {
	switch {
	case strings.HasPrefix(payload, payloadOpening):
		return EventOpeningClick, strings.TrimPrefix(payload, payloadOpening), true
	case strings.HasPrefix(payload, payloadFollowConfirm):
		return EventFollowConfirm, strings.TrimPrefix(payload, payloadFollowConfirm), true
	}
	return "", "", false
}
