// Package embedding provides vector embedding generation for the long-term
// conversational memory index. Supports Google GenAI (cloud) and Ollama
// (local) backends.
package embedding

import (
	"context"
	"fmt"
	"math"

	"sociagent/internal/config"
	"sociagent/internal/logging"
)

// Engine generates vector embeddings for text.
type Engine interface {
	// Embed generates an embedding for a single text
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the dimensionality of embeddings
	Dimensions() int

	// Name returns the engine name
	Name() string
}

// NewEngine creates an embedding engine based on configuration.
func NewEngine(cfg config.EmbeddingConfig) (Engine, error) {
	timer := logging.StartTimer(logging.CategoryEmbedding, "NewEngine")
	defer timer.Stop()

	var engine Engine
	var err error

	switch cfg.Provider {
	case "genai", "":
		engine, err = NewGenAIEngine(cfg.APIKey, cfg.Model)
	case "ollama":
		engine, err = NewOllamaEngine(cfg.BaseURL, cfg.Model)
	default:
		return nil, fmt.Errorf("embedding: unsupported provider %q (use 'genai' or 'ollama')", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	logging.Embedding("engine ready: name=%s dimensions=%d", engine.Name(), engine.Dimensions())
	return engine, nil
}

// CosineSimilarity calculates the cosine similarity between two vectors.
// Returns a value between -1 and 1, where 1 means identical.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("embedding: vectors must have the same length: %d != %d", len(a), len(b))
	}

	var dot, aMag, bMag float64
	for i := 0; i < len(a); i++ {
		dot += float64(a[i] * b[i])
		aMag += float64(a[i] * a[i])
		bMag += float64(b[i] * b[i])
	}
	if aMag == 0 || bMag == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(aMag) * math.Sqrt(bMag)), nil
}
