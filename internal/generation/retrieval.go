package generation

import (
	"context"
	"fmt"
	"sync"

	"sociagent/internal/logging"
)

// RetrievalKind names one context-retrieval capability. Kinds are a closed
// enum; loaders for them are registered explicitly at wiring time.
type RetrievalKind string

const (
	// RetrievalTopical searches the account's domain-knowledge namespace
	// (tourism facts, venue details) for passages matching the question.
	RetrievalTopical RetrievalKind = "topical"
	// RetrievalLongTerm searches the correspondent's migrated conversation
	// summaries for relevant prior exchanges.
	RetrievalLongTerm RetrievalKind = "long_term"
)

// ContextLoader fetches context snippets for a query. The key is the
// account id for topical retrieval and the correspondent id for long-term
// retrieval.
type ContextLoader func(ctx context.Context, key, query string) ([]string, error)

// RetrievalRegistry maps retrieval kinds to their loaders. Unregistered
// kinds fail loudly instead of silently returning nothing, so a missing
// wiring shows up in tests rather than as uniformly context-free answers.
type RetrievalRegistry struct {
	mu      sync.RWMutex
	loaders map[RetrievalKind]ContextLoader
}

// NewRetrievalRegistry returns an empty registry.
func NewRetrievalRegistry() *RetrievalRegistry {
	return &RetrievalRegistry{loaders: make(map[RetrievalKind]ContextLoader)}
}

// Register installs the loader for a kind, replacing any previous one.
func (r *RetrievalRegistry) Register(kind RetrievalKind, loader ContextLoader) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loaders[kind] = loader
}

// Load runs the loader registered for the kind.
func (r *RetrievalRegistry) Load(ctx context.Context, kind RetrievalKind, key, query string) ([]string, error) {
	r.mu.RLock()
	loader, ok := r.loaders[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("generation: no loader registered for retrieval kind %q", kind)
	}
	return loader(ctx, key, query)
}

// Kinds returns the registered kinds, for diagnostics.
func (r *RetrievalRegistry) Kinds() []RetrievalKind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]RetrievalKind, 0, len(r.loaders))
	for k := range r.loaders {
		kinds = append(kinds, k)
	}
	return kinds
}

// retrievalPlan maps a message category to the retrieval kinds consulted
// when building its prompt. Non-tourism messages get no retrieval: the
// persona and chat history carry the answer.
func retrievalPlan(c Category) []RetrievalKind {
	if c == CategoryTourism {
		return []RetrievalKind{RetrievalTopical, RetrievalLongTerm}
	}
	return nil
}

// gatherContext runs the category's retrieval plan, tolerating individual
// loader failures: a degraded answer beats no answer.
func (l *Loop) gatherContext(ctx context.Context, category Category, accountID, correspondentID, query string) []string {
	var snippets []string
	for _, kind := range retrievalPlan(category) {
		key := accountID
		if kind == RetrievalLongTerm {
			key = correspondentID
		}
		got, err := l.retrieval.Load(ctx, kind, key, query)
		if err != nil {
			logging.GenerationWarn("retrieval %s failed: %v", kind, err)
			continue
		}
		snippets = append(snippets, got...)
	}
	return snippets
}
