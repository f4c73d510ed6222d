// Package generation drives the iterative generate-then-evaluate response
// loop: classify the inbound message, build a prompt from persona and
// retrieved context, generate, evaluate against the category's aspect set,
// and retry with accumulated failure notes. Sibling flows reuse the same
// shape for caption generation and posting-time selection.
package generation

import (
	"errors"
	"strconv"
	"strings"
)

// ErrGenerationExhausted is returned when no attempt passes evaluation
// within the attempt budget.
var ErrGenerationExhausted = errors.New("generation: all attempts failed evaluation")

// Category of an inbound message, decided by the classifier.
type Category string

const (
	CategoryTourism Category = "tourism"
	CategoryGeneral Category = "general"
	CategoryOther   Category = "other"
)

// Classification is the classifier's structured verdict.
type Classification struct {
	Category Category `json:"category"`
	Reason   string   `json:"reason"`
}

// Aspect is one evaluation dimension.
type Aspect string

const (
	AspectCorrectness  Aspect = "correctness"
	AspectFaithfulness Aspect = "faithfulness"
	AspectRelevancy    Aspect = "relevancy"
)

// aspectsFor maps a category to the aspects its answers must pass.
func aspectsFor(c Category) []Aspect {
	if c == CategoryTourism {
		return []Aspect{AspectCorrectness, AspectFaithfulness, AspectRelevancy}
	}
	return []Aspect{AspectRelevancy}
}

// EvaluationResult is one aspect's verdict on a candidate answer.
type EvaluationResult struct {
	Aspect  Aspect  `json:"aspect"`
	Passing bool    `json:"passing"`
	Reason  string  `json:"reason"`
	Score   float64 `json:"score,omitempty"`
}

// OverallPassing is the logical AND across all requested aspects.
func OverallPassing(results []EvaluationResult) bool {
	if len(results) == 0 {
		return false
	}
	for _, r := range results {
		if !r.Passing {
			return false
		}
	}
	return true
}

// IterationNote records why a previous attempt was rejected. Notes are fed
// into the next prompt to steer the generator away from repeating itself.
type IterationNote struct {
	Iteration   int
	PriorAnswer string // empty when the model produced no answer
	Aspect      Aspect // failing aspect, empty for empty-answer notes
	Reason      string
}

// renderNotes formats accumulated notes for prompt inclusion.
func renderNotes(notes []IterationNote) string {
	if len(notes) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Previous attempts were rejected. Do not repeat them verbatim:\n")
	for _, n := range notes {
		b.WriteString("- attempt ")
		b.WriteString(strconv.Itoa(n.Iteration))
		if n.Aspect != "" {
			b.WriteString(" failed ")
			b.WriteString(string(n.Aspect))
		}
		b.WriteString(": ")
		b.WriteString(n.Reason)
		if n.PriorAnswer != "" {
			b.WriteString(" (rejected answer: \"")
			b.WriteString(truncate(n.PriorAnswer, 200))
			b.WriteString("\")")
		}
		b.WriteString("\n")
	}
	return b.String()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
