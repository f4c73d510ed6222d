// Package memory implements the per-correspondent episodic buffer.
//
// Recent conversation turns live in RAM, ordered chronologically. When a
// correspondent's buffer reaches the configured limit, the oldest records
// are summarized and migrated into the long-term semantic index under a
// per-correspondent namespace. Migration failure never loses records: they
// stay in the buffer and the failure is logged.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"sociagent/internal/logging"
)

// Role identifies who produced a record.
type Role string

const (
	RoleUser Role = "user"
	RoleBot  Role = "bot"
)

// Record is a single conversation turn. Immutable once stored.
type Record struct {
	Role      Role
	Content   string
	Timestamp time.Time
}

// Summarizer condenses a batch of records into one summary text.
// Typically backed by a single LLM call.
type Summarizer interface {
	Summarize(ctx context.Context, correspondentID string, records []Record) (string, error)
}

// LongTermStore persists migrated summaries into the semantic index.
type LongTermStore interface {
	StoreSummary(ctx context.Context, namespace, summary string) error
}

// Config bounds the buffer and its migration behavior.
type Config struct {
	// BufferLimit is the per-correspondent record count that triggers migration.
	BufferLimit int
	// MigrateCount is how many oldest records migrate per trigger.
	MigrateCount int
	// MigrateRetries bounds migration attempts before records are retained.
	MigrateRetries int
}

// DefaultConfig returns the standard buffer bounds.
func DefaultConfig() Config {
	return Config{
		BufferLimit:    16,
		MigrateCount:   10,
		MigrateRetries: 3,
	}
}

// Buffer is the episodic memory store. Safe for concurrent use; operations
// on one correspondent are serialized, operations on distinct
// correspondents proceed independently.
type Buffer struct {
	cfg        Config
	summarizer Summarizer
	longTerm   LongTermStore
	now        func() time.Time

	mu      sync.Mutex // guards the buffers map only
	buffers map[string]*correspondentBuffer
}

// correspondentBuffer holds one correspondent's records behind its own lock.
// The migrating flag prevents two concurrent stores from migrating the same
// prefix; the lock is never held across collaborator calls.
type correspondentBuffer struct {
	mu        sync.Mutex
	records   []Record
	migrating bool
}

// NewBuffer creates a Buffer. summarizer and longTerm may be nil, in which
// case migration is skipped and the buffer grows unbounded (used in tests
// and before the long-term index is configured).
func NewBuffer(cfg Config, summarizer Summarizer, longTerm LongTermStore) *Buffer {
	if cfg.BufferLimit <= 0 {
		cfg = DefaultConfig()
	}
	return &Buffer{
		cfg:        cfg,
		summarizer: summarizer,
		longTerm:   longTerm,
		now:        time.Now,
		buffers:    make(map[string]*correspondentBuffer),
	}
}

func (b *Buffer) bufferFor(correspondentID string) *correspondentBuffer {
	b.mu.Lock()
	defer b.mu.Unlock()
	cb, ok := b.buffers[correspondentID]
	if !ok {
		cb = &correspondentBuffer{}
		b.buffers[correspondentID] = cb
	}
	return cb
}

// Store appends a record with a generated timestamp. If the buffer reaches
// the configured limit, the oldest MigrateCount records are migrated
// through the summarizer into long-term storage; they are removed only on
// success.
func (b *Buffer) Store(ctx context.Context, correspondentID string, role Role, content string) {
	cb := b.bufferFor(correspondentID)

	cb.mu.Lock()
	cb.records = append(cb.records, Record{
		Role:      role,
		Content:   content,
		Timestamp: b.now(),
	})
	size := len(cb.records)

	var batch []Record
	if size >= b.cfg.BufferLimit && !cb.migrating && b.summarizer != nil && b.longTerm != nil {
		cb.migrating = true
		batch = make([]Record, b.cfg.MigrateCount)
		copy(batch, cb.records[:b.cfg.MigrateCount])
	}
	cb.mu.Unlock()

	logging.MemoryDebug("store: correspondent=%s role=%s size=%d", correspondentID, role, size)

	if batch == nil {
		return
	}
	b.migrate(ctx, correspondentID, cb, batch)
}

// migrate summarizes and persists a batch, with bounded retries. Only on
// success is the batch removed from the buffer; the batch is always the
// current prefix because the migrating flag excludes concurrent migrations
// and records are append-only.
func (b *Buffer) migrate(ctx context.Context, correspondentID string, cb *correspondentBuffer, batch []Record) {
	var lastErr error
	for attempt := 1; attempt <= b.cfg.MigrateRetries; attempt++ {
		summary, err := b.summarizer.Summarize(ctx, correspondentID, batch)
		if err == nil {
			err = b.longTerm.StoreSummary(ctx, correspondentID, summary)
		}
		if err == nil {
			cb.mu.Lock()
			cb.records = cb.records[len(batch):]
			cb.migrating = false
			remaining := len(cb.records)
			cb.mu.Unlock()

			logging.Memory("migrated %d records for %s (attempt %d), %d remain",
				len(batch), correspondentID, attempt, remaining)
			return
		}
		lastErr = err
		logging.MemoryWarn("migration attempt %d/%d failed for %s: %v",
			attempt, b.cfg.MigrateRetries, correspondentID, err)
	}

	// Persistent failure: retain the records, clear the flag so a later
	// store can try again.
	cb.mu.Lock()
	cb.migrating = false
	cb.mu.Unlock()
	logging.MemoryWarn("migration exhausted for %s, records retained: %v", correspondentID, lastErr)
}

// Retrieve returns the correspondent's records in chronological order.
// Returns an empty slice when there are none.
func (b *Buffer) Retrieve(correspondentID string) []Record {
	b.mu.Lock()
	cb, ok := b.buffers[correspondentID]
	b.mu.Unlock()
	if !ok {
		return []Record{}
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()
	out := make([]Record, len(cb.records))
	copy(out, cb.records)
	return out
}

// RetrieveAll returns a snapshot of every correspondent's records, keyed by
// correspondent id, in deterministic key order for stable iteration.
func (b *Buffer) RetrieveAll() map[string][]Record {
	b.mu.Lock()
	ids := make([]string, 0, len(b.buffers))
	for id := range b.buffers {
		ids = append(ids, id)
	}
	b.mu.Unlock()
	sort.Strings(ids)

	out := make(map[string][]Record, len(ids))
	for _, id := range ids {
		records := b.Retrieve(id)
		if len(records) > 0 {
			out[id] = records
		}
	}
	return out
}

// Delete drops a correspondent's buffer without migration.
func (b *Buffer) Delete(correspondentID string) {
	b.mu.Lock()
	delete(b.buffers, correspondentID)
	b.mu.Unlock()
}

// DeleteAll drops every buffer without migration.
func (b *Buffer) DeleteAll() {
	b.mu.Lock()
	b.buffers = make(map[string]*correspondentBuffer)
	b.mu.Unlock()
}

// FlushAll migrates every remaining record for every correspondent, used
// before an active-account switch and on shutdown so no conversational
// memory is dropped. Records stored while a flush is in progress are
// picked up by a follow-up pass. Correspondents whose migration fails
// keep their records; the first failure is returned after all
// correspondents of that pass are attempted.
func (b *Buffer) FlushAll(ctx context.Context) error {
	if b.summarizer == nil || b.longTerm == nil {
		return fmt.Errorf("memory: flush requires summarizer and long-term store")
	}

	const maxPasses = 3
	for pass := 0; pass < maxPasses; pass++ {
		ids := b.pendingCorrespondents()
		if len(ids) == 0 {
			return nil
		}
		var firstErr error
		for _, id := range ids {
			if err := b.flushOne(ctx, id); err != nil {
				logging.MemoryWarn("flush failed for %s: %v", id, err)
				if firstErr == nil {
					firstErr = fmt.Errorf("memory: flush %s: %w", id, err)
				}
			}
		}
		if firstErr != nil {
			return firstErr
		}
	}
	if remaining := b.pendingCorrespondents(); len(remaining) > 0 {
		logging.MemoryWarn("flush passes exhausted, %d correspondents still buffering", len(remaining))
	}
	return nil
}

// pendingCorrespondents lists ids with buffered records, sorted for a
// deterministic flush order.
func (b *Buffer) pendingCorrespondents() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]string, 0, len(b.buffers))
	for id, cb := range b.buffers {
		cb.mu.Lock()
		n := len(cb.records)
		cb.mu.Unlock()
		if n > 0 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// flushOne drains everything currently buffered for one correspondent.
// The migrating flag keeps the limit-triggered migration out of the way,
// and only the snapshotted prefix is removed on success, so records
// stored mid-flush stay buffered for the next pass.
func (b *Buffer) flushOne(ctx context.Context, correspondentID string) error {
	cb := b.bufferFor(correspondentID)

	cb.mu.Lock()
	if cb.migrating || len(cb.records) == 0 {
		cb.mu.Unlock()
		return nil
	}
	cb.migrating = true
	batch := make([]Record, len(cb.records))
	copy(batch, cb.records)
	cb.mu.Unlock()

	var lastErr error
	for attempt := 1; attempt <= b.cfg.MigrateRetries; attempt++ {
		summary, err := b.summarizer.Summarize(ctx, correspondentID, batch)
		if err == nil {
			err = b.longTerm.StoreSummary(ctx, correspondentID, summary)
		}
		if err == nil {
			cb.mu.Lock()
			cb.records = cb.records[len(batch):]
			cb.migrating = false
			remaining := len(cb.records)
			cb.mu.Unlock()
			logging.Memory("flushed %d records for %s, %d arrived mid-flush", len(batch), correspondentID, remaining)
			return nil
		}
		lastErr = err
	}

	cb.mu.Lock()
	cb.migrating = false
	cb.mu.Unlock()
	return lastErr
}
