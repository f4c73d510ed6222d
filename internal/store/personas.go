package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"sociagent/internal/logging"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// Persona is the voice description used when composing replies and posts.
type Persona struct {
	UserID      string
	Name        string
	Description string
	UpdatedAt   time.Time
}

// AccountConfig is per-account runtime tuning persisted in the store.
type AccountConfig struct {
	UserID string `json:"user_id"`
	// ReplyLanguage constrains generated replies ("" = match the sender).
	ReplyLanguage string `json:"reply_language,omitempty"`
	// TopicalNamespace selects which retrieval namespace serves tourism context.
	TopicalNamespace string `json:"topical_namespace,omitempty"`
	// Communities the account targets for follow/like/comment actions.
	Communities []string `json:"communities,omitempty"`
}

// UpsertPersona stores or replaces a persona.
func (s *Store) UpsertPersona(p Persona) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO personas (user_id, name, description, updated_at)
		 VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(user_id) DO UPDATE SET
		   name = excluded.name,
		   description = excluded.description,
		   updated_at = CURRENT_TIMESTAMP`,
		p.UserID, p.Name, p.Description,
	)
	if err != nil {
		return fmt.Errorf("store: upsert persona: %w", err)
	}
	logging.Store("persona upserted for %s", p.UserID)
	return nil
}

// GetPersona loads the persona for an account.
func (s *Store) GetPersona(userID string) (Persona, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var p Persona
	err := s.db.QueryRow(
		`SELECT user_id, name, description, updated_at FROM personas WHERE user_id = ?`,
		userID,
	).Scan(&p.UserID, &p.Name, &p.Description, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Persona{}, fmt.Errorf("store: persona for %q: %w", userID, ErrNotFound)
	}
	if err != nil {
		return Persona{}, fmt.Errorf("store: get persona: %w", err)
	}
	return p, nil
}

// UpsertAccountConfig stores or replaces an account's configuration.
func (s *Store) UpsertAccountConfig(cfg AccountConfig) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("store: marshal account config: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.Exec(
		`INSERT INTO account_configs (user_id, config, updated_at)
		 VALUES (?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(user_id) DO UPDATE SET
		   config = excluded.config,
		   updated_at = CURRENT_TIMESTAMP`,
		cfg.UserID, string(data),
	)
	if err != nil {
		return fmt.Errorf("store: upsert account config: %w", err)
	}
	return nil
}

// GetAccountConfig loads the configuration for an account.
func (s *Store) GetAccountConfig(userID string) (AccountConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var raw string
	err := s.db.QueryRow(
		`SELECT config FROM account_configs WHERE user_id = ?`, userID,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return AccountConfig{}, fmt.Errorf("store: account config for %q: %w", userID, ErrNotFound)
	}
	if err != nil {
		return AccountConfig{}, fmt.Errorf("store: get account config: %w", err)
	}

	var cfg AccountConfig
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return AccountConfig{}, fmt.Errorf("store: parse account config: %w", err)
	}
	return cfg, nil
}
