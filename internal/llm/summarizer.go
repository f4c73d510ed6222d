package llm

import (
	"context"
	"fmt"
	"strings"

	"sociagent/internal/memory"
)

const summarizerSystemPrompt = `You condense a chat transcript between a social media account and one correspondent into a short summary.
Keep: names, preferences, questions asked, commitments made, and any facts worth remembering for future conversations.
Drop: greetings and filler. Write 2-4 sentences of plain prose.`

// Summarizer condenses migrated chat records with one LLM call.
// Satisfies memory.Summarizer.
type Summarizer struct {
	client Client
}

var _ memory.Summarizer = (*Summarizer)(nil)

// NewSummarizer builds a summarizer over the given client.
func NewSummarizer(client Client) *Summarizer {
	return &Summarizer{client: client}
}

// Summarize renders the batch as a transcript and asks for the summary.
func (s *Summarizer) Summarize(ctx context.Context, correspondentID string, records []memory.Record) (string, error) {
	if len(records) == 0 {
		return "", fmt.Errorf("llm: nothing to summarize")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Conversation with %s:\n", correspondentID)
	for _, r := range records {
		if r.Role == memory.RoleUser {
			b.WriteString("User: ")
		} else {
			b.WriteString("Account: ")
		}
		b.WriteString(r.Content)
		b.WriteString("\n")
	}

	summary, err := s.client.CompleteWithSystem(ctx, summarizerSystemPrompt, b.String())
	if err != nil {
		return "", fmt.Errorf("llm: summarize conversation: %w", err)
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return "", fmt.Errorf("llm: summary came back empty")
	}
	return summary, nil
}
