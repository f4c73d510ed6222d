package generation

import (
	"context"
	"fmt"
	"strings"

	"sociagent/internal/logging"
)

// Comment writes a short public comment for a post picked by the decision
// cycle. Comments are one-liners, so they skip the evaluation loop; an
// empty result is the only failure short of a provider error.
func (l *Loop) Comment(ctx context.Context, accountID, postDescription string) (string, error) {
	timer := logging.StartTimer(logging.CategoryGeneration, "generation.Comment")
	defer timer.Stop()

	system := l.personaSystemPrompt(accountID) +
		"\nWrite one short, friendly comment to leave under the described post. One or two sentences, no hashtags. Output only the comment."
	user := postDescription
	if strings.TrimSpace(user) == "" {
		user = "A post from an account in your community."
	}

	raw, err := l.llm.CompleteWithSystem(ctx, system, user)
	if err != nil {
		return "", fmt.Errorf("generation: comment: %w", err)
	}
	comment := stripWrappingQuotes(strings.TrimSpace(raw))
	if comment == "" {
		return "", fmt.Errorf("generation: comment came back empty")
	}
	return comment, nil
}
