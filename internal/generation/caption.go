package generation

import (
	"context"
	"fmt"
	"strings"

	"sociagent/internal/logging"
)

// CaptionRequest describes the post the caption is for.
type CaptionRequest struct {
	ImageDescription string
	Keywords         []string
	Extra            string // optional free-form guidance from the operator
}

// Caption generates a post caption through the same attempt loop as
// replies, judged on relevancy to the image description and keywords.
// When every attempt fails evaluation, an unevaluated best-effort caption
// is produced instead of an error: the caption surface, like chat, must
// always hand usable text back to the platform.
func (l *Loop) Caption(ctx context.Context, accountID string, req CaptionRequest) (string, error) {
	timer := logging.StartTimer(logging.CategoryGeneration, "generation.Caption")
	defer timer.Stop()

	if strings.TrimSpace(req.ImageDescription) == "" {
		return "", fmt.Errorf("generation: caption request needs an image description")
	}

	evalContext := captionContext(req)
	question := "Write a caption for this post."

	var notes []IterationNote
	for attempt := 1; attempt <= l.cfg.MaxAttempts; attempt++ {
		system, user := l.captionPrompt(accountID, req, notes)
		raw, err := l.llm.CompleteWithSystem(ctx, system, user)
		if err != nil {
			return "", fmt.Errorf("generation: caption attempt %d: %w", attempt, err)
		}
		caption := stripWrappingQuotes(strings.TrimSpace(raw))
		if caption == "" {
			notes = append(notes, IterationNote{Iteration: attempt, Reason: "the model produced an empty caption"})
			continue
		}

		results, err := l.evaluator.Evaluate(ctx, EvaluationRequest{
			Question: question,
			Answer:   caption,
			Context:  evalContext,
			Aspects:  []Aspect{AspectRelevancy},
		})
		if err != nil {
			return "", fmt.Errorf("generation: caption evaluation: %w", err)
		}
		if OverallPassing(results) {
			logging.Generation("caption accepted on attempt %d/%d", attempt, l.cfg.MaxAttempts)
			return caption, nil
		}
		for _, r := range results {
			if !r.Passing {
				notes = append(notes, IterationNote{Iteration: attempt, PriorAnswer: caption, Aspect: r.Aspect, Reason: r.Reason})
			}
		}
	}

	logging.GenerationWarn("caption attempts exhausted, generating unevaluated fallback")
	system := l.personaSystemPrompt(accountID) +
		"\nWrite a short, safe, factual caption for the described image. No hashtags, no emoji."
	raw, err := l.llm.CompleteWithSystem(ctx, system, req.ImageDescription)
	if err != nil {
		return "", fmt.Errorf("generation: caption fallback: %w", err)
	}
	caption := stripWrappingQuotes(strings.TrimSpace(raw))
	if caption == "" {
		return "", fmt.Errorf("%w: caption fallback came back empty", ErrGenerationExhausted)
	}
	return caption, nil
}

func captionContext(req CaptionRequest) []string {
	ctx := []string{"Image: " + req.ImageDescription}
	if len(req.Keywords) > 0 {
		ctx = append(ctx, "Keywords: "+strings.Join(req.Keywords, ", "))
	}
	if req.Extra != "" {
		ctx = append(ctx, "Guidance: "+req.Extra)
	}
	return ctx
}

func (l *Loop) captionPrompt(accountID string, req CaptionRequest, notes []IterationNote) (string, string) {
	system := l.personaSystemPrompt(accountID) +
		"\nWrite one engaging social media caption for the described image, in your persona's voice. Output only the caption."

	var u strings.Builder
	u.WriteString("Image description:\n")
	u.WriteString(req.ImageDescription)
	if len(req.Keywords) > 0 {
		u.WriteString("\n\nKeywords to weave in: ")
		u.WriteString(strings.Join(req.Keywords, ", "))
	}
	if req.Extra != "" {
		u.WriteString("\n\nAdditional guidance: ")
		u.WriteString(req.Extra)
	}
	if n := renderNotes(notes); n != "" {
		u.WriteString("\n\n")
		u.WriteString(n)
	}
	return system, u.String()
}
