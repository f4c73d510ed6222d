package generation

import (
	"context"
	"fmt"
	"strings"

	"sociagent/internal/llm"
	"sociagent/internal/logging"
)

const classifierSystemPrompt = `You classify direct messages sent to a travel-focused social media account.
Categories:
- "tourism": questions about destinations, attractions, accommodation, transport, food, itineraries, or travel logistics.
- "general": greetings, small talk, opinions, personal questions to the account.
- "other": spam, unrelated business, or anything that fits neither category.
Respond with a JSON object: {"category": "...", "reason": "..."}. No other text.`

// Classifier assigns inbound messages to a category so the loop can pick
// the right retrieval plan and evaluation aspects.
type Classifier struct {
	llm llm.Client
}

// NewClassifier builds a classifier over the given LLM client.
func NewClassifier(client llm.Client) *Classifier {
	return &Classifier{llm: client}
}

// Classify categorizes one message. Unknown categories from the model are
// coerced to "other" rather than rejected.
func (c *Classifier) Classify(ctx context.Context, message string) (Classification, error) {
	raw, err := c.llm.CompleteWithSystem(ctx, classifierSystemPrompt, message)
	if err != nil {
		return Classification{}, fmt.Errorf("generation: classify: %w", err)
	}

	var cls Classification
	if err := extractJSON(raw, &cls); err != nil {
		return Classification{}, err
	}
	cls.Category = Category(strings.ToLower(strings.TrimSpace(string(cls.Category))))
	switch cls.Category {
	case CategoryTourism, CategoryGeneral, CategoryOther:
	default:
		logging.GenerationWarn("classifier returned unknown category %q, coercing to other", cls.Category)
		cls.Category = CategoryOther
	}
	logging.Generation("classified message as %s: %s", cls.Category, cls.Reason)
	return cls, nil
}
