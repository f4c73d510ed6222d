package generation

import (
	"context"
	"fmt"
	"strings"

	"sociagent/internal/llm"
	"sociagent/internal/logging"
)

// EvaluationRequest carries one candidate answer and everything a judge
// needs to score it.
type EvaluationRequest struct {
	Question string
	Answer   string
	Context  []string // retrieved passages the answer should be grounded in
	Aspects  []Aspect
}

// Evaluator judges candidate answers aspect by aspect.
type Evaluator interface {
	Evaluate(ctx context.Context, req EvaluationRequest) ([]EvaluationResult, error)
}

// LLMEvaluator implements Evaluator with one judge call per aspect.
type LLMEvaluator struct {
	llm llm.Client
}

var _ Evaluator = (*LLMEvaluator)(nil)

// NewLLMEvaluator builds an evaluator over the given LLM client.
func NewLLMEvaluator(client llm.Client) *LLMEvaluator {
	return &LLMEvaluator{llm: client}
}

var aspectInstructions = map[Aspect]string{
	AspectCorrectness:  "Judge whether the answer is factually correct with respect to the provided context. An answer that contradicts the context fails.",
	AspectFaithfulness: "Judge whether every claim in the answer is supported by the provided context. An answer that invents facts not present in the context fails, even if plausible.",
	AspectRelevancy:    "Judge whether the answer actually addresses the question asked. An answer that is on-topic but dodges the question fails.",
}

// Evaluate scores the answer on each requested aspect. It stops at the
// first failing aspect: the loop only needs one failure reason to retry.
func (e *LLMEvaluator) Evaluate(ctx context.Context, req EvaluationRequest) ([]EvaluationResult, error) {
	var results []EvaluationResult
	for _, aspect := range req.Aspects {
		r, err := e.evaluateAspect(ctx, req, aspect)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
		if !r.Passing {
			logging.Generation("evaluation failed aspect=%s reason=%s", aspect, r.Reason)
			break
		}
	}
	return results, nil
}

func (e *LLMEvaluator) evaluateAspect(ctx context.Context, req EvaluationRequest, aspect Aspect) (EvaluationResult, error) {
	instruction, ok := aspectInstructions[aspect]
	if !ok {
		return EvaluationResult{}, fmt.Errorf("generation: unknown evaluation aspect %q", aspect)
	}

	var b strings.Builder
	b.WriteString("You are a strict evaluator of answers produced by a social media assistant.\n")
	b.WriteString(instruction)
	b.WriteString("\nRespond with a JSON object: {\"passing\": true|false, \"score\": 0.0-1.0, \"reason\": \"...\"}. No other text.")
	system := b.String()

	var u strings.Builder
	if len(req.Context) > 0 {
		u.WriteString("Context:\n")
		for _, c := range req.Context {
			u.WriteString("- ")
			u.WriteString(c)
			u.WriteString("\n")
		}
		u.WriteString("\n")
	}
	u.WriteString("Question: ")
	u.WriteString(req.Question)
	u.WriteString("\n\nAnswer: ")
	u.WriteString(req.Answer)

	raw, err := e.llm.CompleteWithSystem(ctx, system, u.String())
	if err != nil {
		return EvaluationResult{}, fmt.Errorf("generation: evaluate %s: %w", aspect, err)
	}

	var verdict struct {
		Passing bool    `json:"passing"`
		Score   float64 `json:"score"`
		Reason  string  `json:"reason"`
	}
	if err := extractJSON(raw, &verdict); err != nil {
		return EvaluationResult{}, err
	}
	return EvaluationResult{
		Aspect:  aspect,
		Passing: verdict.Passing,
		Score:   verdict.Score,
		Reason:  verdict.Reason,
	}, nil
}
