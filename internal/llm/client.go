// Package llm provides the narrow client interface to generation models,
// with Gemini and OpenAI implementations behind a provider factory.
package llm

import (
	"context"
	"fmt"
	"time"

	"sociagent/internal/config"
)

// Client defines the minimal interface components use to call an LLM.
type Client interface {
	Complete(ctx context.Context, prompt string) (string, error)
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// NewFromConfig builds a provider client from config. Every call through
// the returned client carries the configured timeout so no collaborator
// call is left unbounded.
func NewFromConfig(cfg config.LLMConfig) (Client, error) {
	timeout, err := cfg.TimeoutDuration()
	if err != nil {
		return nil, err
	}

	var client Client
	switch cfg.Provider {
	case "gemini", "":
		client, err = NewGeminiClient(cfg.APIKey, cfg.Model)
	case "openai":
		client, err = NewOpenAIClient(cfg.APIKey, cfg.Model, cfg.BaseURL)
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return WithTimeout(client, timeout), nil
}

// WithTimeout wraps a client so every call is bounded by d.
func WithTimeout(inner Client, d time.Duration) Client {
	if d <= 0 {
		return inner
	}
	return &timeoutClient{inner: inner, timeout: d}
}

type timeoutClient struct {
	inner   Client
	timeout time.Duration
}

func (c *timeoutClient) Complete(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.inner.Complete(ctx, prompt)
}

func (c *timeoutClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.inner.CompleteWithSystem(ctx, systemPrompt, userPrompt)
}
