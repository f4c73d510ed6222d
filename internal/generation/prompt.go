package generation

import (
	"strings"

	"sociagent/internal/memory"
)

type promptPair struct {
	system string
	user   string
}

// personaSystemPrompt renders the account's persona as a system prompt,
// with a neutral default when no persona is configured.
func (l *Loop) personaSystemPrompt(accountID string) string {
	persona := strings.TrimSpace(l.persona(accountID))
	if persona == "" {
		return "You are a friendly social media account manager replying to direct messages."
	}
	return "You are replying to direct messages in character. Your persona:\n" + persona
}

// buildReplyPrompt assembles the system and user prompts for one attempt.
// Failure notes from earlier attempts go last so they are freshest in the
// model's context.
func (l *Loop) buildReplyPrompt(accountID, message string, snippets []string, history []memory.Record, notes []IterationNote) promptPair {
	var sys strings.Builder
	sys.WriteString(l.personaSystemPrompt(accountID))
	sys.WriteString("\nReply naturally and concisely, in the language the user wrote in. Do not mention that you are an assistant or that context was provided.")

	var u strings.Builder
	if len(snippets) > 0 {
		u.WriteString("Relevant background:\n")
		for _, s := range snippets {
			u.WriteString("- ")
			u.WriteString(s)
			u.WriteString("\n")
		}
		u.WriteString("\n")
	}
	if len(history) > 0 {
		u.WriteString("Recent conversation:\n")
		for _, r := range history {
			if r.Role == memory.RoleUser {
				u.WriteString("User: ")
			} else {
				u.WriteString("You: ")
			}
			u.WriteString(r.Content)
			u.WriteString("\n")
		}
		u.WriteString("\n")
	}
	u.WriteString("The user's latest message:\n")
	u.WriteString(message)
	if n := renderNotes(notes); n != "" {
		u.WriteString("\n\n")
		u.WriteString(n)
	}

	return promptPair{system: sys.String(), user: u.String()}
}
