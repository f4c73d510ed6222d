// Package store implements sociagent's SQLite-backed persistence:
// personas and per-account configuration, candidate targets with their
// idempotency mark sets, scheduled posts, and the long-term conversational
// memory index with vector search.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"sociagent/internal/embedding"
	"sociagent/internal/logging"

	_ "modernc.org/sqlite"
)

// Store wraps the SQLite database. A single connection is used; SQLite
// serializes writers anyway and this sidesteps database-locked errors.
type Store struct {
	db              *sql.DB
	mu              sync.RWMutex
	dbPath          string
	embeddingEngine embedding.Engine // optional, enables semantic search
	vectorExt       bool             // sqlite-vec available
}

// Open initializes the SQLite database at the given path.
func Open(path string) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStore, "store.Open")
	defer timer.Stop()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("store: failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("failed to set sqlite journal_mode=WAL: %v", err)
	}
	// synchronous=NORMAL is safe under WAL and much faster than FULL.
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.StoreDebug("failed to set sqlite synchronous=NORMAL: %v", err)
	}

	s := &Store{db: db, dbPath: path}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	s.detectVecExtension()
	if s.vectorExt {
		logging.Store("sqlite-vec extension detected and enabled")
	} else {
		logging.Get(logging.CategoryStore).Warn("sqlite-vec extension not available; falling back to brute-force similarity")
	}

	logging.Store("store initialized at %s", path)
	return s, nil
}

// SetEmbeddingEngine configures the embedding engine used by the long-term
// memory index. Must be set before StoreSummary/SearchMemories.
func (s *Store) SetEmbeddingEngine(engine embedding.Engine) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.embeddingEngine = engine
}

// Close closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// detectVecExtension probes for the sqlite-vec extension.
func (s *Store) detectVecExtension() {
	var version string
	if err := s.db.QueryRow("SELECT vec_version()").Scan(&version); err == nil {
		s.vectorExt = true
		logging.StoreDebug("sqlite-vec version: %s", version)
	}
}

// initialize creates the schema. Statements are idempotent so re-opening
// an existing database is safe.
func (s *Store) initialize() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS personas (
			user_id    TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			description TEXT NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS account_configs (
			user_id    TEXT PRIMARY KEY,
			config     TEXT NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS targets (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			target_id TEXT NOT NULL,
			kind      TEXT NOT NULL,
			community TEXT NOT NULL,
			payload   TEXT DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(target_id, kind)
		)`,
		`CREATE TABLE IF NOT EXISTS target_marks (
			target_id  TEXT NOT NULL,
			kind       TEXT NOT NULL,
			account_id TEXT NOT NULL,
			marked_at  DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(target_id, kind, account_id)
		)`,
		`CREATE TABLE IF NOT EXISTS scheduled_posts (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id        TEXT NOT NULL,
			image_url      TEXT NOT NULL,
			caption        TEXT NOT NULL,
			scheduled_time DATETIME NOT NULL,
			reason         TEXT DEFAULT '',
			posted         INTEGER DEFAULT 0,
			created_at     DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS long_term_memories (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			namespace  TEXT NOT NULL,
			content    TEXT NOT NULL,
			embedding  BLOB,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_namespace ON long_term_memories(namespace)`,
		`CREATE INDEX IF NOT EXISTS idx_targets_community ON targets(community, kind)`,
		`CREATE INDEX IF NOT EXISTS idx_scheduled_due ON scheduled_posts(posted, scheduled_time)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("store: schema init failed: %w", err)
		}
	}
	return nil
}
