package generation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sociagent/internal/memory"
)

// fakeLLM routes completions through a single function so tests can answer
// classifier, generator, judge, and fallback prompts differently.
type fakeLLM struct {
	mu    sync.Mutex
	calls []promptCall
	route func(system, user string) (string, error)
}

type promptCall struct {
	system string
	user   string
}

func (f *fakeLLM) Complete(ctx context.Context, prompt string) (string, error) {
	return f.CompleteWithSystem(ctx, "", prompt)
}

func (f *fakeLLM) CompleteWithSystem(ctx context.Context, system, user string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, promptCall{system: system, user: user})
	f.mu.Unlock()
	return f.route(system, user)
}

func (f *fakeLLM) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type funcEvaluator struct {
	fn func(req EvaluationRequest) ([]EvaluationResult, error)
}

func (e *funcEvaluator) Evaluate(_ context.Context, req EvaluationRequest) ([]EvaluationResult, error) {
	return e.fn(req)
}

type fakeChatMemory struct {
	mu      sync.Mutex
	stored  []memory.Record
	history []memory.Record
}

func (m *fakeChatMemory) Store(_ context.Context, _ string, role memory.Role, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stored = append(m.stored, memory.Record{Role: role, Content: content})
}

func (m *fakeChatMemory) Retrieve(_ string) []memory.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]memory.Record(nil), m.history...)
}

func isClassifierPrompt(system string) bool {
	return strings.Contains(system, "classify direct messages")
}

func isJudgePrompt(system string) bool {
	return strings.Contains(system, "strict evaluator")
}

func passAll(req EvaluationRequest) ([]EvaluationResult, error) {
	results := make([]EvaluationResult, 0, len(req.Aspects))
	for _, a := range req.Aspects {
		results = append(results, EvaluationResult{Aspect: a, Passing: true, Score: 1})
	}
	return results, nil
}

func TestReply_AcceptedFirstAttempt(t *testing.T) {
	llm := &fakeLLM{route: func(system, user string) (string, error) {
		if isClassifierPrompt(system) {
			return `{"category": "general", "reason": "small talk"}`, nil
		}
		return "Hi there!\n\nHow can I help you today?", nil
	}}
	mem := &fakeChatMemory{}
	loop := NewLoop(llm, &funcEvaluator{fn: passAll}, mem, nil, nil, DefaultConfig())

	parts, err := loop.Reply(context.Background(), "acct-1", "alice", "hello!")
	require.NoError(t, err)
	assert.Equal(t, []string{"Hi there!", "How can I help you today?"}, parts)

	require.Len(t, mem.stored, 1)
	assert.Equal(t, memory.RoleBot, mem.stored[0].Role)
	assert.Contains(t, mem.stored[0].Content, "Hi there!")
}

func TestReply_RetriesWithNotes(t *testing.T) {
	attempt := 0
	llm := &fakeLLM{}
	llm.route = func(system, user string) (string, error) {
		if isClassifierPrompt(system) {
			return `{"category": "general", "reason": "greeting"}`, nil
		}
		attempt++
		if attempt == 1 {
			return "wrong answer", nil
		}
		// The second prompt must carry the rejection note.
		if !strings.Contains(user, "Do not repeat") || !strings.Contains(user, "wrong answer") {
			return "", errors.New("second attempt prompt missing rejection note")
		}
		return "better answer", nil
	}

	evalCalls := 0
	ev := &funcEvaluator{fn: func(req EvaluationRequest) ([]EvaluationResult, error) {
		evalCalls++
		if req.Answer == "wrong answer" {
			return []EvaluationResult{{Aspect: AspectRelevancy, Passing: false, Reason: "dodges the question"}}, nil
		}
		return passAll(req)
	}}

	loop := NewLoop(llm, ev, &fakeChatMemory{}, nil, nil, DefaultConfig())
	parts, err := loop.Reply(context.Background(), "acct-1", "bob", "hi")
	require.NoError(t, err)
	assert.Equal(t, []string{"better answer"}, parts)
	assert.Equal(t, 2, evalCalls)
}

func TestReply_ExhaustionFallsBackToApology(t *testing.T) {
	generations := 0
	llm := &fakeLLM{}
	llm.route = func(system, user string) (string, error) {
		if isClassifierPrompt(system) {
			return `{"category": "general", "reason": "chat"}`, nil
		}
		if strings.Contains(system, "apology") {
			return "Sorry, I can't help with that right now.", nil
		}
		generations++
		return "never good enough", nil
	}
	ev := &funcEvaluator{fn: func(req EvaluationRequest) ([]EvaluationResult, error) {
		return []EvaluationResult{{Aspect: AspectRelevancy, Passing: false, Reason: "not relevant"}}, nil
	}}

	mem := &fakeChatMemory{}
	loop := NewLoop(llm, ev, mem, nil, nil, Config{MaxAttempts: 3})
	parts, err := loop.Reply(context.Background(), "acct-1", "carol", "question")
	require.NoError(t, err)
	require.Len(t, parts, 1)
	assert.Contains(t, parts[0], "Sorry")
	assert.Equal(t, 3, generations)

	// Fallback text still lands in chat memory.
	require.Len(t, mem.stored, 1)
	assert.Contains(t, mem.stored[0].Content, "Sorry")
}

func TestReply_FallbackFailurePropagates(t *testing.T) {
	llm := &fakeLLM{route: func(system, user string) (string, error) {
		if isClassifierPrompt(system) {
			return "", errors.New("provider down")
		}
		if strings.Contains(system, "apology") {
			return "", errors.New("provider still down")
		}
		return "unreachable", nil
	}}

	loop := NewLoop(llm, &funcEvaluator{fn: passAll}, &fakeChatMemory{}, nil, nil, DefaultConfig())
	_, err := loop.Reply(context.Background(), "acct-1", "dave", "anything")
	require.Error(t, err)
}

func TestReply_TourismUsesRetrievalAndAllAspects(t *testing.T) {
	llm := &fakeLLM{route: func(system, user string) (string, error) {
		if isClassifierPrompt(system) {
			return `{"category": "tourism", "reason": "asks about hotels"}`, nil
		}
		return "The old town has several family-run hotels.", nil
	}}

	var topicalKey, longTermKey string
	reg := NewRetrievalRegistry()
	reg.Register(RetrievalTopical, func(_ context.Context, key, query string) ([]string, error) {
		topicalKey = key
		return []string{"Old town hotels: Casa Azul, Posada del Sol"}, nil
	})
	reg.Register(RetrievalLongTerm, func(_ context.Context, key, query string) ([]string, error) {
		longTermKey = key
		return []string{"User previously asked about budget options"}, nil
	})

	var seen EvaluationRequest
	ev := &funcEvaluator{fn: func(req EvaluationRequest) ([]EvaluationResult, error) {
		seen = req
		return passAll(req)
	}}

	loop := NewLoop(llm, ev, &fakeChatMemory{}, reg, nil, DefaultConfig())
	_, err := loop.Reply(context.Background(), "acct-7", "erin", "any hotels in the old town?")
	require.NoError(t, err)

	assert.Equal(t, "acct-7", topicalKey)
	assert.Equal(t, "erin", longTermKey)
	assert.ElementsMatch(t,
		[]Aspect{AspectCorrectness, AspectFaithfulness, AspectRelevancy},
		seen.Aspects)
	assert.Len(t, seen.Context, 2)
}

func TestReply_EmptyAnswerCountsAsFailedAttempt(t *testing.T) {
	attempt := 0
	llm := &fakeLLM{}
	llm.route = func(system, user string) (string, error) {
		if isClassifierPrompt(system) {
			return `{"category": "general", "reason": "chat"}`, nil
		}
		attempt++
		if attempt == 1 {
			return "   ", nil
		}
		return "a real answer", nil
	}

	loop := NewLoop(llm, &funcEvaluator{fn: passAll}, &fakeChatMemory{}, nil, nil, DefaultConfig())
	parts, err := loop.Reply(context.Background(), "acct-1", "fay", "hi")
	require.NoError(t, err)
	assert.Equal(t, []string{"a real answer"}, parts)
	assert.Equal(t, 2, attempt)
}

func TestCaption_AcceptedAndFallback(t *testing.T) {
	t.Run("accepted", func(t *testing.T) {
		llm := &fakeLLM{route: func(system, user string) (string, error) {
			return `"Sunset over the harbor, one of those evenings you don't forget."`, nil
		}}
		loop := NewLoop(llm, &funcEvaluator{fn: passAll}, nil, nil, nil, DefaultConfig())

		caption, err := loop.Caption(context.Background(), "acct-1", CaptionRequest{
			ImageDescription: "sunset over a fishing harbor",
			Keywords:         []string{"sunset", "harbor"},
		})
		require.NoError(t, err)
		assert.Equal(t, "Sunset over the harbor, one of those evenings you don't forget.", caption)
	})

	t.Run("exhaustion produces unevaluated fallback", func(t *testing.T) {
		llm := &fakeLLM{route: func(system, user string) (string, error) {
			if strings.Contains(system, "safe, factual caption") {
				return "A quiet harbor at sunset.", nil
			}
			return "totally off topic caption", nil
		}}
		ev := &funcEvaluator{fn: func(req EvaluationRequest) ([]EvaluationResult, error) {
			return []EvaluationResult{{Aspect: AspectRelevancy, Passing: false, Reason: "off topic"}}, nil
		}}
		loop := NewLoop(llm, ev, nil, nil, nil, Config{MaxAttempts: 2})

		caption, err := loop.Caption(context.Background(), "acct-1", CaptionRequest{
			ImageDescription: "sunset over a fishing harbor",
		})
		require.NoError(t, err)
		assert.Equal(t, "A quiet harbor at sunset.", caption)
	})

	t.Run("missing description rejected", func(t *testing.T) {
		loop := NewLoop(&fakeLLM{route: func(string, string) (string, error) { return "", nil }},
			&funcEvaluator{fn: passAll}, nil, nil, nil, DefaultConfig())
		_, err := loop.Caption(context.Background(), "acct-1", CaptionRequest{})
		require.Error(t, err)
	})
}

func TestScheduleTime_PastMovedToTomorrow(t *testing.T) {
	now := time.Date(2025, 6, 10, 14, 0, 0, 0, time.UTC)
	llm := &fakeLLM{route: func(system, user string) (string, error) {
		return `{"scheduled_time": "2025-06-10 09:30:00", "reason": "morning commute peak"}`, nil
	}}
	loop := NewLoop(llm, &funcEvaluator{fn: passAll}, nil, nil, nil, DefaultConfig())
	loop.now = func() time.Time { return now }

	sched, err := loop.ScheduleTime(context.Background(), "acct-1", "harbor sunset")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 6, 11, 9, 30, 0, 0, time.UTC), sched.Time)
	assert.Equal(t, "morning commute peak", sched.Reason)
}

func TestAdjustScheduleTime(t *testing.T) {
	now := time.Date(2025, 6, 10, 14, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		chosen time.Time
		want   time.Time
	}{
		{
			name:   "future time unchanged",
			chosen: time.Date(2025, 6, 10, 20, 0, 0, 0, time.UTC),
			want:   time.Date(2025, 6, 10, 20, 0, 0, 0, time.UTC),
		},
		{
			name:   "past time moves to tomorrow, clock preserved",
			chosen: time.Date(2025, 6, 10, 9, 30, 0, 0, time.UTC),
			want:   time.Date(2025, 6, 11, 9, 30, 0, 0, time.UTC),
		},
		{
			name:   "days in the past still lands tomorrow",
			chosen: time.Date(2025, 6, 1, 23, 45, 0, 0, time.UTC),
			want:   time.Date(2025, 6, 11, 23, 45, 0, 0, time.UTC),
		},
		{
			name:   "exactly now unchanged",
			chosen: now,
			want:   now,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AdjustScheduleTime(tt.chosen, now)
			assert.True(t, got.Equal(tt.want), "got %s want %s", got, tt.want)
			// Idempotent: adjusting the result again changes nothing.
			assert.True(t, AdjustScheduleTime(got, now).Equal(got))
		})
	}
}

func TestClassifier_CoercesUnknownCategory(t *testing.T) {
	llm := &fakeLLM{route: func(system, user string) (string, error) {
		return "```json\n{\"category\": \"Mystery\", \"reason\": \"??\"}\n```", nil
	}}
	cls, err := NewClassifier(llm).Classify(context.Background(), "what is this")
	require.NoError(t, err)
	assert.Equal(t, CategoryOther, cls.Category)
}

func TestRetrievalRegistry_UnregisteredKindErrors(t *testing.T) {
	reg := NewRetrievalRegistry()
	_, err := reg.Load(context.Background(), RetrievalTopical, "acct", "query")
	require.Error(t, err)

	reg.Register(RetrievalTopical, func(_ context.Context, key, query string) ([]string, error) {
		return []string{key + ":" + query}, nil
	})
	got, err := reg.Load(context.Background(), RetrievalTopical, "acct", "query")
	require.NoError(t, err)
	assert.Equal(t, []string{"acct:query"}, got)
}
