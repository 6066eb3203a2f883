package instagram

import (
	"context"
	"net/http"
)

// Element is one card of a generic (carousel) template.
type Element struct {
	Title    string   `json:"title"`
	Subtitle string   `json:"subtitle,omitempty"`
	ImageURL string   `json:"imageUrl,omitempty"`
	URL      string   `json:"url,omitempty"`
	Buttons  []Button `json:"buttons,omitempty"`
}

// Message is an outbound message in engine terms. Elements take precedence
// over Text and Buttons.
type Message struct {
	Text     string
	Buttons  []Button
	ImageURL string
	Elements []Element
}

// --- Wire Structures ---

type sendBody struct {
	Recipient    Recipient        `json:"recipient"`
	Message      *wireMessage     `json:"message,omitempty"`
	SenderAction string           `json:"sender_action,omitempty"`
	Payload      *reactionPayload `json:"payload,omitempty"`
}

type wireMessage struct {
	Text       string          `json:"text,omitempty"`
	Attachment *wireAttachment `json:"attachment,omitempty"`
}

type wireAttachment struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

type templatePayload struct {
	TemplateType string            `json:"template_type"`
	Text         string            `json:"text,omitempty"`
	Buttons      []providerButton  `json:"buttons,omitempty"`
	Elements     []providerElement `json:"elements,omitempty"`
}

type providerElement struct {
	Title         string           `json:"title"`
	Subtitle      string           `json:"subtitle,omitempty"`
	ImageURL      string           `json:"image_url,omitempty"`
	DefaultAction *defaultAction   `json:"default_action,omitempty"`
	Buttons       []providerButton `json:"buttons,omitempty"`
}

type defaultAction struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

type mediaPayload struct {
	URL string `json:"url"`
}

type reactionPayload struct {
	MessageID string `json:"message_id"`
	Reaction  string `json:"reaction"`
}

type commentReply struct {
	Message string `json:"message"`
}

// --- Messaging Methods ---

func (c *Client) post(ctx context.Context, from Sender, body sendBody) error {
	_, err := c.sendRequest(ctx, http.MethodPost, from.AccountID+"/messages", from.AccessToken, nil, body)
	return err
}

func (c *Client) SendText(ctx context.Context, from Sender, to Recipient, text string) error {
	return c.post(ctx, from, sendBody{Recipient: to, Message: &wireMessage{Text: text}})
}

// SendButtons sends a button template, or plain text when there are no
// buttons.
func (c *Client) SendButtons(ctx context.Context, from Sender, to Recipient, text string, buttons []Button) error {
	if len(buttons) == 0 {
		return c.SendText(ctx, from, to, text)
	}
	pbs, err := providerButtons(buttons, from.Username)
	if err != nil {
		return err
	}
	return c.post(ctx, from, sendBody{
		Recipient: to,
		Message: &wireMessage{Attachment: &wireAttachment{
			Type: "template",
			Payload: templatePayload{
				TemplateType: "button",
				Text:         text,
				Buttons:      pbs,
			},
		}},
	})
}

func (c *Client) SendGeneric(ctx context.Context, from Sender, to Recipient, elements []Element) error {
	if len(elements) > MaxElements {
		elements = elements[:MaxElements]
	}
	out := make([]providerElement, 0, len(elements))
	for _, el := range elements {
		pbs, err := providerButtons(el.Buttons, from.Username)
		if err != nil {
			return err
		}
		pe := providerElement{
			Title:    el.Title,
			Subtitle: el.Subtitle,
			ImageURL: NormalizeURL(el.ImageURL),
			Buttons:  pbs,
		}
		if u := NormalizeURL(el.URL); u != "" {
			pe.DefaultAction = &defaultAction{Type: string(ButtonURL), URL: u}
		}
		out = append(out, pe)
	}
	return c.post(ctx, from, sendBody{
		Recipient: to,
		Message: &wireMessage{Attachment: &wireAttachment{
			Type:    "template",
			Payload: templatePayload{TemplateType: "generic", Elements: out},
		}},
	})
}

func (c *Client) SendImage(ctx context.Context, from Sender, to Recipient, imageURL string) error {
	return c.post(ctx, from, sendBody{
		Recipient: to,
		Message: &wireMessage{Attachment: &wireAttachment{
			Type:    "image",
			Payload: mediaPayload{URL: NormalizeURL(imageURL)},
		}},
	})
}

// Send delivers m as the fewest provider messages: an optional image, then a
// carousel or a text/button message. It returns how many were sent. A private
// reply carries a single message, so images are skipped for comment
// recipients.
func (c *Client) Send(ctx context.Context, from Sender, to Recipient, m Message) (int, error) {
	sent := 0
	if m.ImageURL != "" && len(m.Elements) == 0 && to.CommentID == "" {
		if err := c.SendImage(ctx, from, to, m.ImageURL); err != nil {
			return sent, err
		}
		sent++
	}
	if len(m.Elements) > 0 {
		if err := c.SendGeneric(ctx, from, to, m.Elements); err != nil {
			return sent, err
		}
		return sent + 1, nil
	}
	if m.Text == "" {
		return sent, nil
	}
	if err := c.SendButtons(ctx, from, to, m.Text, m.Buttons); err != nil {
		return sent, err
	}
	return sent + 1, nil
}

// React adds a reaction to a received message.
func (c *Client) React(ctx context.Context, from Sender, to Recipient, messageID, reaction string) error {
	if reaction == "" {
		reaction = "love"
	}
	return c.post(ctx, from, sendBody{
		Recipient:    to,
		SenderAction: "react",
		Payload:      &reactionPayload{MessageID: messageID, Reaction: reaction},
	})
}

// ReplyToComment posts a public reply under a comment.
func (c *Client) ReplyToComment(ctx context.Context, from Sender, commentID, text string) error {
	_, err := c.sendRequest(ctx, http.MethodPost, commentID+"/replies", from.AccessToken, nil, commentReply{Message: text})
	return err
}
