package instagram

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	MaxButtons  = 3
	MaxElements = 10
)

type ButtonKind string

const (
	ButtonURL      ButtonKind = "web_url"
	ButtonPostback ButtonKind = "postback"
	ButtonProfile  ButtonKind = "profile"
)

// Button is the normalized form of every button shape the builder produces.
// It decodes from the provider shape (type/title/url/payload) and from the
// builder shorthand (label/link/action).
type Button struct {
	Kind    ButtonKind
	Title   string
	URL     string
	Payload string
}

type buttonWire struct {
	Type    string `json:"type,omitempty"`
	Title   string `json:"title,omitempty"`
	URL     string `json:"url,omitempty"`
	Payload string `json:"payload,omitempty"`

	Label  string `json:"label,omitempty"`
	Text   string `json:"text,omitempty"`
	Link   string `json:"link,omitempty"`
	Action string `json:"action,omitempty"`
}

func (b *Button) UnmarshalJSON(data []byte) error {
	var w buttonWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	if w.Type != "" {
		kind, err := parseKind(w.Type)
		if err != nil {
			return err
		}
		*b = Button{Kind: kind, Title: w.Title, URL: w.URL, Payload: w.Payload}
		if b.Title == "" {
			b.Title = firstNonEmpty(w.Label, w.Text)
		}
		return nil
	}

	title := firstNonEmpty(w.Label, w.Text, w.Title)
	switch strings.ToLower(strings.TrimSpace(w.Action)) {
	case "profile", "visit_profile", "open_profile":
		*b = Button{Kind: ButtonProfile, Title: title}
	case "postback", "reply", "send_message":
		*b = Button{Kind: ButtonPostback, Title: title, Payload: firstNonEmpty(w.Payload, w.Link, title)}
	case "url", "link", "web_url", "open_url":
		*b = Button{Kind: ButtonURL, Title: title, URL: firstNonEmpty(w.Link, w.URL)}
	case "":
		if link := firstNonEmpty(w.Link, w.URL); link != "" {
			*b = Button{Kind: ButtonURL, Title: title, URL: link}
		} else {
			*b = Button{Kind: ButtonPostback, Title: title, Payload: firstNonEmpty(w.Payload, title)}
		}
	default:
		return fmt.Errorf("unknown button action %q", w.Action)
	}
	return nil
}

// MarshalJSON always writes the provider shape.
func (b Button) MarshalJSON() ([]byte, error) {
	return json.Marshal(buttonWire{
		Type:    string(b.Kind),
		Title:   b.Title,
		URL:     b.URL,
		Payload: b.Payload,
	})
}

func parseKind(s string) (ButtonKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "web_url", "url", "link":
		return ButtonURL, nil
	case "postback":
		return ButtonPostback, nil
	case "profile":
		return ButtonProfile, nil
	}
	return "", fmt.Errorf("unknown button type %q", s)
}

// providerButton is the wire format the messaging API accepts.
type providerButton struct {
	Type    string `json:"type"`
	Title   string `json:"title"`
	URL     string `json:"url,omitempty"`
	Payload string `json:"payload,omitempty"`
}

// ProfileURL is the public profile link for a username.
func ProfileURL(username string) string {
	return "https://www.instagram.com/" + strings.TrimPrefix(strings.TrimSpace(username), "@")
}

func (b Button) provider(username string) (providerButton, error) {
	switch b.Kind {
	case ButtonURL:
		u := NormalizeURL(b.URL)
		if u == "" {
			return providerButton{}, fmt.Errorf("button %q has no url", b.Title)
		}
		return providerButton{Type: string(ButtonURL), Title: b.Title, URL: u}, nil
	case ButtonProfile:
		if username == "" {
			return providerButton{}, fmt.Errorf("profile button %q without account username", b.Title)
		}
		return providerButton{Type: string(ButtonURL), Title: b.Title, URL: ProfileURL(username)}, nil
	case ButtonPostback:
		payload := b.Payload
		if payload == "" {
			payload = b.Title
		}
		return providerButton{Type: string(ButtonPostback), Title: b.Title, Payload: payload}, nil
	}
	return providerButton{}, fmt.Errorf("unknown button kind %q", b.Kind)
}

func providerButtons(buttons []Button, username string) ([]providerButton, error) {
	if len(buttons) > MaxButtons {
		buttons = buttons[:MaxButtons]
	}
	out := make([]providerButton, 0, len(buttons))
	for _, b := range buttons {
		pb, err := b.provider(username)
		if err != nil {
			return nil, err
		}
		out = append(out, pb)
	}
	return out, nil
}

// NormalizeURL forces an https scheme. URLs without a scheme get one; http is
// upgraded.
func NormalizeURL(raw string) string {
	u := strings.TrimSpace(raw)
	if u == "" {
		return ""
	}
	lower := strings.ToLower(u)
	switch {
	case strings.HasPrefix(lower, "https://"):
		return u
	case strings.HasPrefix(lower, "http://"):
		return "https://" + u[len("http://"):]
	case strings.HasPrefix(u, "//"):
		return "https:" + u
	}
	return "https://" + u
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
