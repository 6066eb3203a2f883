// Package instagram delivers outbound messages through the Graph API.
package instagram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// ErrSendFailed is returned once both hosts rejected a request.
var ErrSendFailed = errors.New("instagram request failed")

type Client struct {
	PrimaryHost  string
	FallbackHost string
	HTTP         *http.Client
}

func NewClient(primary, fallback string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		PrimaryHost:  strings.TrimRight(primary, "/"),
		FallbackHost: strings.TrimRight(fallback, "/"),
		HTTP:         &http.Client{Timeout: timeout},
	}
}

// Sender identifies the account a request is made on behalf of.
type Sender struct {
	AccountID   string
	AccessToken string
	Username    string
}

// Recipient addresses either a user or, for private replies, a comment.
type Recipient struct {
	ID        string `json:"id,omitempty"`
	CommentID string `json:"comment_id,omitempty"`
}

func (c *Client) hosts() []string {
	hosts := []string{c.PrimaryHost}
	if c.FallbackHost != "" && c.FallbackHost != c.PrimaryHost {
		hosts = append(hosts, c.FallbackHost)
	}
	return hosts
}

// --- Helper Functions ---

// sendRequest tries the primary host, then the fallback host once.
func (c *Client) sendRequest(ctx context.Context, method, path, token string, query url.Values, body interface{}) ([]byte, error) {
	var payload []byte
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		payload = raw
	}

	var lastErr error
	for i, host := range c.hosts() {
		respBody, err := c.do(ctx, method, host+"/"+strings.TrimLeft(path, "/"), token, query, payload)
		if err == nil {
			return respBody, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		log.WithFields(log.Fields{
			"host":    host,
			"path":    path,
			"attempt": i + 1,
		}).WithError(err).Warn("Graph API request failed")
	}
	return nil, fmt.Errorf("%w: %v", ErrSendFailed, lastErr)
}

func (c *Client) do(ctx context.Context, method, endpoint, token string, query url.Values, payload []byte) ([]byte, error) {
	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return respBody, fmt.Errorf("API error: %s - %s", resp.Status, string(respBody))
	}
	return respBody, nil
}

// Profile is the subset of user fields the engine reads.
type Profile struct {
	ID                   string `json:"id"`
	Username             string `json:"username"`
	IsUserFollowBusiness bool   `json:"is_user_follow_business"`
}

// Profile fetches a user's username and whether they follow the account.
func (c *Client) Profile(ctx context.Context, from Sender, userID string) (*Profile, error) {
	query := url.Values{"fields": {"username,is_user_follow_business"}}
	resp, err := c.sendRequest(ctx, http.MethodGet, userID, from.AccessToken, query, nil)
	if err != nil {
		return nil, err
	}
	var p Profile
	if err := json.Unmarshal(resp, &p); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	return &p, nil
}
