package generation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"sociagent/internal/llm"
	"sociagent/internal/logging"
	"sociagent/internal/memory"
)

// ChatMemory is the slice of the episodic buffer the loop needs: recent
// history for the prompt, and a place to record the reply it settles on.
type ChatMemory interface {
	Store(ctx context.Context, correspondentID string, role memory.Role, content string)
	Retrieve(correspondentID string) []memory.Record
}

// PersonaFunc resolves the persona description the generator should speak
// as for a given account.
type PersonaFunc func(accountID string) string

// Config tunes the loop.
type Config struct {
	MaxAttempts int
}

// DefaultConfig returns the standard three-attempt budget.
func DefaultConfig() Config {
	return Config{MaxAttempts: 3}
}

// Loop runs the generate-then-evaluate cycle for replies, captions, and
// posting-time selection.
type Loop struct {
	llm        llm.Client
	classifier *Classifier
	evaluator  Evaluator
	chatMemory ChatMemory
	retrieval  *RetrievalRegistry
	persona    PersonaFunc
	cfg        Config
	now        func() time.Time

	captionHistory CaptionHistory // optional, see SetCaptionHistory
}

// NewLoop wires the loop. The retrieval registry may be empty; tourism
// answers then degrade to persona-and-history-only prompts.
func NewLoop(client llm.Client, evaluator Evaluator, chatMemory ChatMemory, retrieval *RetrievalRegistry, persona PersonaFunc, cfg Config) *Loop {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	if retrieval == nil {
		retrieval = NewRetrievalRegistry()
	}
	if persona == nil {
		persona = func(string) string { return "" }
	}
	return &Loop{
		llm:        client,
		classifier: NewClassifier(client),
		evaluator:  evaluator,
		chatMemory: chatMemory,
		retrieval:  retrieval,
		persona:    persona,
		cfg:        cfg,
		now:        time.Now,
	}
}

// Reply produces the reply paragraphs for one inbound message. The message
// is assumed to already be in the chat memory; the accepted (or fallback)
// reply is recorded there as a bot record before returning.
//
// A non-nil error is only returned when even the apology fallback could not
// be produced; every other failure degrades to the fallback text.
func (l *Loop) Reply(ctx context.Context, accountID, correspondentID, message string) ([]string, error) {
	timer := logging.StartTimer(logging.CategoryGeneration, "generation.Reply")
	defer timer.Stop()

	answer, err := l.replyAttempts(ctx, accountID, correspondentID, message)
	if err != nil {
		logging.GenerationWarn("reply generation failed for %s, using fallback: %v", correspondentID, err)
		answer, err = l.fallback(ctx, accountID, message)
		if err != nil {
			return nil, err
		}
	}

	if l.chatMemory != nil {
		l.chatMemory.Store(ctx, correspondentID, memory.RoleBot, answer)
	}
	return splitParagraphs(answer), nil
}

// replyAttempts runs the classify / retrieve / generate / evaluate cycle.
func (l *Loop) replyAttempts(ctx context.Context, accountID, correspondentID, message string) (string, error) {
	cls, err := l.classifier.Classify(ctx, message)
	if err != nil {
		return "", err
	}

	snippets := l.gatherContext(ctx, cls.Category, accountID, correspondentID, message)
	aspects := aspectsFor(cls.Category)
	history := l.historyFor(correspondentID)

	var notes []IterationNote
	for attempt := 1; attempt <= l.cfg.MaxAttempts; attempt++ {
		prompt := l.buildReplyPrompt(accountID, message, snippets, history, notes)
		raw, err := l.llm.CompleteWithSystem(ctx, prompt.system, prompt.user)
		if err != nil {
			return "", err
		}
		answer := stripWrappingQuotes(strings.TrimSpace(raw))
		if answer == "" {
			notes = append(notes, IterationNote{
				Iteration: attempt,
				Reason:    "the model produced an empty answer",
			})
			continue
		}

		results, err := l.evaluator.Evaluate(ctx, EvaluationRequest{
			Question: message,
			Answer:   answer,
			Context:  snippets,
			Aspects:  aspects,
		})
		if err != nil {
			return "", err
		}
		if OverallPassing(results) {
			logging.Generation("reply accepted on attempt %d/%d for %s", attempt, l.cfg.MaxAttempts, correspondentID)
			return answer, nil
		}
		for _, r := range results {
			if r.Passing {
				continue
			}
			notes = append(notes, IterationNote{
				Iteration:   attempt,
				PriorAnswer: answer,
				Aspect:      r.Aspect,
				Reason:      r.Reason,
			})
		}
	}
	return "", fmt.Errorf("%w after %d attempts", ErrGenerationExhausted, l.cfg.MaxAttempts)
}

// fallback produces the polite cannot-answer reply. Generated once, never
// evaluated: this is the floor, not a candidate.
func (l *Loop) fallback(ctx context.Context, accountID, message string) (string, error) {
	system := l.personaSystemPrompt(accountID) +
		"\nYou could not produce a reliable answer to the user's message. " +
		"Write a short, warm apology explaining that you cannot help with this right now, " +
		"and invite them to ask something else. Do not guess at an answer."
	raw, err := l.llm.CompleteWithSystem(ctx, system, message)
	if err != nil {
		return "", fmt.Errorf("generation: fallback reply: %w", err)
	}
	answer := stripWrappingQuotes(strings.TrimSpace(raw))
	if answer == "" {
		return "", fmt.Errorf("generation: fallback reply came back empty")
	}
	return answer, nil
}

func (l *Loop) historyFor(correspondentID string) []memory.Record {
	if l.chatMemory == nil {
		return nil
	}
	return l.chatMemory.Retrieve(correspondentID)
}
