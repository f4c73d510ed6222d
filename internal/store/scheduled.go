package store

import (
	"fmt"
	"time"
)

// ScheduledPost is a post queued for future publication.
type ScheduledPost struct {
	ID            int64
	UserID        string
	ImageURL      string
	Caption       string
	ScheduledTime time.Time
	Reason        string
	Posted        bool
}

// AddScheduledPost queues a post and returns its id.
func (s *Store) AddScheduledPost(p ScheduledPost) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		`INSERT INTO scheduled_posts (user_id, image_url, caption, scheduled_time, reason)
		 VALUES (?, ?, ?, ?, ?)`,
		p.UserID, p.ImageURL, p.Caption, p.ScheduledTime.UTC().Format(time.RFC3339), p.Reason,
	)
	if err != nil {
		return 0, fmt.Errorf("store: add scheduled post: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("store: scheduled post id: %w", err)
	}
	return id, nil
}

// DueScheduledPosts returns unposted posts whose time has arrived,
// oldest first.
func (s *Store) DueScheduledPosts(userID string, now time.Time) ([]ScheduledPost, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT id, user_id, image_url, caption, scheduled_time, reason, posted
		 FROM scheduled_posts
		 WHERE user_id = ? AND posted = 0 AND scheduled_time <= ?
		 ORDER BY scheduled_time ASC`,
		userID, now.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("store: due scheduled posts: %w", err)
	}
	defer rows.Close()

	var posts []ScheduledPost
	for rows.Next() {
		var p ScheduledPost
		var ts string
		var posted int
		if err := rows.Scan(&p.ID, &p.UserID, &p.ImageURL, &p.Caption, &ts, &p.Reason, &posted); err != nil {
			return nil, fmt.Errorf("store: scan scheduled post: %w", err)
		}
		when, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			return nil, fmt.Errorf("store: parse scheduled_time %q: %w", ts, err)
		}
		p.ScheduledTime = when
		p.Posted = posted != 0
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

// MarkPosted records that a scheduled post went out.
func (s *Store) MarkPosted(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`UPDATE scheduled_posts SET posted = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: mark posted: %w", err)
	}
	return nil
}

// RecentCaptions returns the captions of the account's most recent posts,
// newest first. Used as similarity context when choosing a posting time.
func (s *Store) RecentCaptions(userID string, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.Query(
		`SELECT caption FROM scheduled_posts
		 WHERE user_id = ? ORDER BY id DESC LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("store: recent captions: %w", err)
	}
	defer rows.Close()

	var captions []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("store: scan caption: %w", err)
		}
		captions = append(captions, c)
	}
	return captions, rows.Err()
}
