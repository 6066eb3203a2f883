package models

import "encoding/json"

// WebhookPayload represents the incoming JSON payload from Instagram
type WebhookPayload struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

type Entry struct {
	ID        string           `json:"id"`
	Time      int64            `json:"time"`
	Messaging []MessagingEvent `json:"messaging,omitempty"`
	Changes   []Change         `json:"changes,omitempty"`
}

type Party struct {
	ID string `json:"id"`
}

// MessagingEvent is one item of entry.messaging.
type MessagingEvent struct {
	Sender    Party     `json:"sender"`
	Recipient Party     `json:"recipient"`
	Timestamp int64     `json:"timestamp"`
	Message   *Message  `json:"message,omitempty"`
	Postback  *Postback `json:"postback,omitempty"`
	Read      *Read     `json:"read,omitempty"`
	Delivery  *Read     `json:"delivery,omitempty"`
}

type Message struct {
	MID         string       `json:"mid"`
	Text        string       `json:"text,omitempty"`
	IsEcho      bool         `json:"is_echo,omitempty"`
	IsDeleted   bool         `json:"is_deleted,omitempty"`
	QuickReply  *QuickReply  `json:"quick_reply,omitempty"`
	ReplyTo     *ReplyTo     `json:"reply_to,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

type QuickReply struct {
	Payload string `json:"payload"`
}

type ReplyTo struct {
	MID   string    `json:"mid,omitempty"`
	Story *StoryRef `json:"story,omitempty"`
}

type StoryRef struct {
	ID  string `json:"id"`
	URL string `json:"url,omitempty"`
}

type Attachment struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type Postback struct {
	MID     string `json:"mid"`
	Title   string `json:"title"`
	Payload string `json:"payload"`
}

type Read struct {
	MID string `json:"mid"`
}

// Change is one item of entry.changes.
type Change struct {
	Field string      `json:"field"`
	Value ChangeValue `json:"value"`
}

type ChangeValue struct {
	ID       string        `json:"id"`
	Text     string        `json:"text"`
	ParentID string        `json:"parent_id,omitempty"`
	From     CommentAuthor `json:"from"`
	Media    CommentMedia  `json:"media"`
}

type CommentAuthor struct {
	ID             string `json:"id"`
	Username       string `json:"username"`
	SelfIGScopedID string `json:"self_ig_scoped_id,omitempty"`
}

type CommentMedia struct {
	ID               string `json:"id"`
	MediaProductType string `json:"media_product_type,omitempty"`
}
