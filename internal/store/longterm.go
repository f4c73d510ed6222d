package store

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"sort"
	"time"

	"sociagent/internal/embedding"
	"sociagent/internal/logging"
)

// MemoryEntry is one migrated conversation summary in the long-term index.
type MemoryEntry struct {
	ID         int64
	Namespace  string
	Content    string
	Similarity float64
	CreatedAt  time.Time
}

// StoreSummary persists a migrated conversation summary under the
// correspondent's namespace, embedding it for later semantic retrieval.
// Satisfies memory.LongTermStore.
func (s *Store) StoreSummary(ctx context.Context, namespace, summary string) error {
	timer := logging.StartTimer(logging.CategoryStore, "store.StoreSummary")
	defer timer.Stop()

	s.mu.RLock()
	engine := s.embeddingEngine
	s.mu.RUnlock()

	var blob []byte
	if engine != nil {
		vec, err := engine.Embed(ctx, summary)
		if err != nil {
			return fmt.Errorf("store: embed summary: %w", err)
		}
		blob = encodeFloat32Blob(vec)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		`INSERT INTO long_term_memories (namespace, content, embedding) VALUES (?, ?, ?)`,
		namespace, summary, blob,
	)
	if err != nil {
		return fmt.Errorf("store: store summary: %w", err)
	}
	logging.Store("long-term summary stored: namespace=%s chars=%d", namespace, len(summary))
	return nil
}

// SearchMemories returns the namespace's summaries most similar to the
// query, best first. Uses sqlite-vec's distance function when the
// extension is loaded, otherwise a brute-force cosine scan.
func (s *Store) SearchMemories(ctx context.Context, namespace, query string, limit int) ([]MemoryEntry, error) {
	timer := logging.StartTimer(logging.CategoryStore, "store.SearchMemories")
	defer timer.Stop()

	if limit <= 0 {
		limit = 5
	}

	s.mu.RLock()
	engine := s.embeddingEngine
	s.mu.RUnlock()

	if engine == nil {
		// No embeddings configured: recency is the only available order.
		return s.recentMemories(namespace, limit)
	}

	queryVec, err := engine.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("store: embed query: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.vectorExt {
		return s.searchVec(namespace, queryVec, limit)
	}
	return s.searchBruteForce(namespace, queryVec, limit)
}

// searchVec performs ANN search via sqlite-vec's cosine distance.
func (s *Store) searchVec(namespace string, queryVec []float32, limit int) ([]MemoryEntry, error) {
	rows, err := s.db.Query(
		`SELECT id, namespace, content, created_at,
		        vec_distance_cosine(embedding, ?) AS distance
		 FROM long_term_memories
		 WHERE namespace = ? AND embedding IS NOT NULL
		 ORDER BY distance ASC
		 LIMIT ?`,
		encodeFloat32Blob(queryVec), namespace, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("store: vec search: %w", err)
	}
	defer rows.Close()

	var entries []MemoryEntry
	for rows.Next() {
		var e MemoryEntry
		var distance float64
		if err := rows.Scan(&e.ID, &e.Namespace, &e.Content, &e.CreatedAt, &distance); err != nil {
			return nil, fmt.Errorf("store: scan vec result: %w", err)
		}
		e.Similarity = 1 - distance
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// searchBruteForce loads the namespace's embeddings and ranks in Go.
func (s *Store) searchBruteForce(namespace string, queryVec []float32, limit int) ([]MemoryEntry, error) {
	rows, err := s.db.Query(
		`SELECT id, namespace, content, embedding, created_at
		 FROM long_term_memories
		 WHERE namespace = ? AND embedding IS NOT NULL`,
		namespace,
	)
	if err != nil {
		return nil, fmt.Errorf("store: memory scan: %w", err)
	}
	defer rows.Close()

	var entries []MemoryEntry
	for rows.Next() {
		var e MemoryEntry
		var blob []byte
		if err := rows.Scan(&e.ID, &e.Namespace, &e.Content, &blob, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan memory: %w", err)
		}
		vec, err := decodeFloat32Blob(blob)
		if err != nil {
			logging.StoreDebug("skipping memory %d: %v", e.ID, err)
			continue
		}
		sim, err := embedding.CosineSimilarity(queryVec, vec)
		if err != nil {
			continue
		}
		e.Similarity = sim
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Similarity > entries[j].Similarity
	})
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// recentMemories returns the newest summaries when no embedding engine is set.
func (s *Store) recentMemories(namespace string, limit int) ([]MemoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT id, namespace, content, created_at
		 FROM long_term_memories
		 WHERE namespace = ?
		 ORDER BY id DESC LIMIT ?`,
		namespace, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("store: recent memories: %w", err)
	}
	defer rows.Close()

	var entries []MemoryEntry
	for rows.Next() {
		var e MemoryEntry
		if err := rows.Scan(&e.ID, &e.Namespace, &e.Content, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan memory: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// encodeFloat32Blob encodes a float32 slice as the little-endian binary
// blob format expected by sqlite-vec.
func encodeFloat32Blob(vec []float32) []byte {
	buf := &bytes.Buffer{}
	if err := binary.Write(buf, binary.LittleEndian, vec); err != nil {
		return nil
	}
	return buf.Bytes()
}

// decodeFloat32Blob reverses encodeFloat32Blob.
func decodeFloat32Blob(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("store: embedding blob length %d not a multiple of 4", len(blob))
	}
	vec := make([]float32, len(blob)/4)
	if err := binary.Read(bytes.NewReader(blob), binary.LittleEndian, vec); err != nil {
		return nil, fmt.Errorf("store: decode embedding: %w", err)
	}
	return vec, nil
}
