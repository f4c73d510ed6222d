package store

import (
	"database/sql"
	"errors"
	"fmt"

	"sociagent/internal/logging"
)

// Target is a candidate post or account the agent may act on, grouped by
// community. Kind distinguishes what the target is ("post" or "account").
type Target struct {
	TargetID  string
	Kind      string
	Community string
	Payload   string
}

// Target kinds.
const (
	TargetKindPost    = "post"
	TargetKindAccount = "account"
)

// AddTarget registers a candidate target. Duplicate (target_id, kind)
// pairs are ignored.
func (s *Store) AddTarget(t Target) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO targets (target_id, kind, community, payload)
		 VALUES (?, ?, ?, ?)`,
		t.TargetID, t.Kind, t.Community, t.Payload,
	)
	if err != nil {
		return fmt.Errorf("store: add target: %w", err)
	}
	return nil
}

// PickUnmarkedTarget returns the oldest target of the given kind in one of
// the communities that the account has not yet been marked against.
// Returns ErrNotFound when every candidate is already served.
func (s *Store) PickUnmarkedTarget(kind, accountID string, communities []string) (Target, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT t.target_id, t.kind, t.community, t.payload
		FROM targets t
		WHERE t.kind = ?
		  AND NOT EXISTS (
			SELECT 1 FROM target_marks m
			WHERE m.target_id = t.target_id AND m.kind = t.kind AND m.account_id = ?
		  )`
	args := []interface{}{kind, accountID}

	if len(communities) > 0 {
		query += ` AND t.community IN (?` + repeatPlaceholder(len(communities)-1) + `)`
		for _, c := range communities {
			args = append(args, c)
		}
	}
	query += ` ORDER BY t.id ASC LIMIT 1`

	var t Target
	err := s.db.QueryRow(query, args...).Scan(&t.TargetID, &t.Kind, &t.Community, &t.Payload)
	if errors.Is(err, sql.ErrNoRows) {
		return Target{}, ErrNotFound
	}
	if err != nil {
		return Target{}, fmt.Errorf("store: pick target: %w", err)
	}
	return t, nil
}

// MarkTarget records that the account has acted on the target. The UNIQUE
// constraint makes this a compare-and-set: the first caller wins, a
// concurrent second caller gets ok=false and must pick another target.
func (s *Store) MarkTarget(targetID, kind, accountID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		`INSERT OR IGNORE INTO target_marks (target_id, kind, account_id) VALUES (?, ?, ?)`,
		targetID, kind, accountID,
	)
	if err != nil {
		return false, fmt.Errorf("store: mark target: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: mark target rows: %w", err)
	}
	if n == 0 {
		logging.StoreDebug("mark lost race: target=%s kind=%s account=%s", targetID, kind, accountID)
		return false, nil
	}
	return true, nil
}

// IsMarked reports whether the account already acted on the target.
func (s *Store) IsMarked(targetID, kind, accountID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var one int
	err := s.db.QueryRow(
		`SELECT 1 FROM target_marks WHERE target_id = ? AND kind = ? AND account_id = ?`,
		targetID, kind, accountID,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: is marked: %w", err)
	}
	return true, nil
}

// repeatPlaceholder returns ", ?" repeated n times.
func repeatPlaceholder(n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += ", ?"
	}
	return out
}
