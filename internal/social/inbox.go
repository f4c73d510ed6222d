package social

import (
	"context"
	"net/url"
	"time"
)

// Message is one direct message inside a thread.
type Message struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	Unreplied bool      `json:"unreplied"`
}

// Thread is one conversation in the account's inbox.
type Thread struct {
	ID              string    `json:"id"`
	CorrespondentID string    `json:"correspondent_id"`
	Pending         bool      `json:"pending"` // message request awaiting approval
	LastActivity    time.Time `json:"last_activity"`
	Messages        []Message `json:"messages"`
}

// FetchThreads lists inbox threads with unread messages, including pending
// message requests that have not been approved yet.
func (c *Client) FetchThreads(ctx context.Context, accountID string) ([]Thread, error) {
	var out struct {
		Threads []Thread `json:"threads"`
	}
	q := url.Values{
		"user_id": {accountID},
		"unread":  {"true"},
		"pending": {"true"},
	}
	if err := c.getJSON(ctx, "/api/inbox/threads/", q, &out); err != nil {
		return nil, err
	}
	return out.Threads, nil
}

// ApproveThread accepts a pending message request so the account can reply.
func (c *Client) ApproveThread(ctx context.Context, accountID, threadID string) error {
	return c.postJSON(ctx, "/api/inbox/approve/", map[string]string{
		"user_id":   accountID,
		"thread_id": threadID,
	})
}

// SendReply sends one reply message into a thread.
func (c *Client) SendReply(ctx context.Context, accountID, threadID, text string) error {
	return c.postJSON(ctx, "/api/inbox/reply/", map[string]string{
		"user_id":   accountID,
		"thread_id": threadID,
		"text":      text,
	})
}

// MarkSeen marks the thread's messages as seen after replying.
func (c *Client) MarkSeen(ctx context.Context, accountID, threadID string) error {
	return c.postJSON(ctx, "/api/inbox/seen/", map[string]string{
		"user_id":   accountID,
		"thread_id": threadID,
	})
}
