package generation

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStripWrappingQuotes(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`"hello"`, "hello"},
		{`'hello'`, "hello"},
		{"“hello”", "hello"},
		{"‘hello’", "hello"},
		{`"unbalanced`, `"unbalanced`},
		{`say "this" please`, `say "this" please`},
		{`""`, ""},
		{"x", "x"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, stripWrappingQuotes(tt.in), "input %q", tt.in)
	}
}

func TestSplitParagraphs(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"single", "one paragraph only", []string{"one paragraph only"}},
		{"two", "first\n\nsecond", []string{"first", "second"}},
		{"blank runs collapsed", "first\n\n\n\nsecond\n\n", []string{"first", "second"}},
		{"whitespace-only paragraph dropped", "first\n\n   \n\nsecond", []string{"first", "second"}},
		{"empty input", "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, splitParagraphs(tt.in)); diff != "" {
				t.Errorf("splitParagraphs mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestExtractJSON(t *testing.T) {
	type payload struct {
		Category string `json:"category"`
	}

	t.Run("bare object", func(t *testing.T) {
		var p payload
		require.NoError(t, extractJSON(`{"category": "tourism"}`, &p))
		assert.Equal(t, "tourism", p.Category)
	})

	t.Run("fenced", func(t *testing.T) {
		var p payload
		require.NoError(t, extractJSON("```json\n{\"category\": \"general\"}\n```", &p))
		assert.Equal(t, "general", p.Category)
	})

	t.Run("surrounded by prose", func(t *testing.T) {
		var p payload
		require.NoError(t, extractJSON(`Sure! Here you go: {"category": "other"} Hope that helps.`, &p))
		assert.Equal(t, "other", p.Category)
	})

	t.Run("no object", func(t *testing.T) {
		var p payload
		require.Error(t, extractJSON("no json here", &p))
	})
}

func TestRenderNotes(t *testing.T) {
	assert.Empty(t, renderNotes(nil))

	out := renderNotes([]IterationNote{
		{Iteration: 1, PriorAnswer: "bad answer", Aspect: AspectRelevancy, Reason: "dodged the question"},
		{Iteration: 2, Reason: "the model produced an empty answer"},
	})
	assert.Contains(t, out, "Do not repeat")
	assert.Contains(t, out, "attempt 1 failed relevancy")
	assert.Contains(t, out, "bad answer")
	assert.Contains(t, out, "attempt 2: the model produced an empty answer")
}
