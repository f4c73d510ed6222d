// Package social wraps the social platform's HTTP API: outbound actions
// (follow, like, comment, post), engagement stats, and the direct-message
// inbox the automation workers drain.
package social

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"sociagent/internal/config"
	"sociagent/internal/logging"
)

// Stats is the engagement snapshot used to build policy observations.
type Stats struct {
	NewComments  int `json:"new_comments"`
	NewFollowers int `json:"new_followers"`
	PostLikes    int `json:"post_likes"`
}

// Client talks to the platform API. All methods honor the context and the
// configured per-request timeout; non-2xx responses become errors carrying
// the platform's message.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds a platform client from config.
func NewClient(cfg config.SocialConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("social: base_url is required")
	}
	timeout, err := cfg.TimeoutDuration()
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}, nil
}

// Follow follows the target account on behalf of the agent's account.
func (c *Client) Follow(ctx context.Context, accountID, targetID string) error {
	return c.postJSON(ctx, "/api/follow/", map[string]string{
		"user_id":   accountID,
		"target_id": targetID,
	})
}

// Like likes the target post.
func (c *Client) Like(ctx context.Context, accountID, postID string) error {
	return c.postJSON(ctx, "/api/like/", map[string]string{
		"user_id": accountID,
		"post_id": postID,
	})
}

// Comment leaves a comment on the target post.
func (c *Client) Comment(ctx context.Context, accountID, postID, text string) error {
	return c.postJSON(ctx, "/api/comment/", map[string]string{
		"user_id": accountID,
		"post_id": postID,
		"text":    text,
	})
}

// Post publishes an image post with its caption.
func (c *Client) Post(ctx context.Context, accountID, imageURL, caption string) error {
	return c.postJSON(ctx, "/api/post/", map[string]string{
		"user_id":   accountID,
		"image_url": imageURL,
		"caption":   caption,
	})
}

// FetchStats returns the account's engagement counters since the last
// decision cycle.
func (c *Client) FetchStats(ctx context.Context, accountID string) (Stats, error) {
	var stats Stats
	err := c.getJSON(ctx, "/api/stats/", url.Values{"user_id": {accountID}}, &stats)
	if err != nil {
		return Stats{}, err
	}
	return stats, nil
}

// postJSON posts the payload and discards any response body beyond the
// status check.
func (c *Client) postJSON(ctx context.Context, path string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("social: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("social: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("social: %s: %w", path, err)
	}
	defer resp.Body.Close()
	if err := checkStatus(path, resp); err != nil {
		return err
	}
	logging.Social("POST %s ok", path)
	return nil
}

// getJSON fetches and decodes a JSON response.
func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out interface{}) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("social: build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("social: %s: %w", path, err)
	}
	defer resp.Body.Close()
	if err := checkStatus(path, resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("social: decode %s response: %w", path, err)
	}
	return nil
}

// checkStatus converts a non-2xx response into an error carrying the
// platform's message when one is present.
func checkStatus(path string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var apiErr struct {
		Message string `json:"message"`
	}
	msg := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Message != "" {
		msg = apiErr.Message
	}
	return fmt.Errorf("social: %s returned %d: %s", path, resp.StatusCode, msg)
}
