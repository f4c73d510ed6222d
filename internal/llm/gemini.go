package llm

import (
	"context"
	"fmt"

	"sociagent/internal/logging"

	"google.golang.org/genai"
)

// GeminiClient implements Client using Google's Gemini API.
type GeminiClient struct {
	client *genai.Client
	model  string
}

var _ Client = (*GeminiClient)(nil)

// NewGeminiClient creates a Gemini-backed client.
func NewGeminiClient(apiKey, model string) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("llm: gemini API key is required")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}

	ctx := context.Background()
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("llm: failed to create gemini client: %w", err)
	}

	return &GeminiClient{client: client, model: model}, nil
}

// Complete sends a single-prompt request.
func (c *GeminiClient) Complete(ctx context.Context, prompt string) (string, error) {
	return c.generate(ctx, nil, prompt)
}

// CompleteWithSystem sends a request with a system instruction.
func (c *GeminiClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	var system *genai.Content
	if systemPrompt != "" {
		system = genai.NewContentFromText(systemPrompt, genai.RoleUser)
	}
	return c.generate(ctx, system, userPrompt)
}

func (c *GeminiClient) generate(ctx context.Context, system *genai.Content, prompt string) (string, error) {
	timer := logging.StartTimer(logging.CategoryAPI, "gemini.generate")
	defer timer.Stop()

	var cfg *genai.GenerateContentConfig
	if system != nil {
		cfg = &genai.GenerateContentConfig{SystemInstruction: system}
	}

	result, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(prompt), cfg)
	if err != nil {
		return "", fmt.Errorf("llm: gemini generate failed: %w", err)
	}

	text := result.Text()
	if text == "" {
		return "", fmt.Errorf("llm: gemini returned no candidates")
	}
	logging.APIDebug("gemini.generate: %d prompt chars -> %d response chars", len(prompt), len(text))
	return text, nil
}
