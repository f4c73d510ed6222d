package automation

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"sociagent/internal/config"
	"sociagent/internal/social"
)

// mockInbox implements Inbox with func fields and atomic call counters.
type mockInbox struct {
	fetchFunc   func(ctx context.Context, accountID string) ([]social.Thread, error)
	approveFunc func(ctx context.Context, accountID, threadID string) error
	replyFunc   func(ctx context.Context, accountID, threadID, text string) error
	seenFunc    func(ctx context.Context, accountID, threadID string) error

	fetchCalls   atomic.Int64
	approveCalls atomic.Int64
	replyCalls   atomic.Int64
	seenCalls    atomic.Int64
}

func (m *mockInbox) FetchThreads(ctx context.Context, accountID string) ([]social.Thread, error) {
	m.fetchCalls.Add(1)
	if m.fetchFunc != nil {
		return m.fetchFunc(ctx, accountID)
	}
	return nil, nil
}

func (m *mockInbox) ApproveThread(ctx context.Context, accountID, threadID string) error {
	m.approveCalls.Add(1)
	if m.approveFunc != nil {
		return m.approveFunc(ctx, accountID, threadID)
	}
	return nil
}

func (m *mockInbox) SendReply(ctx context.Context, accountID, threadID, text string) error {
	m.replyCalls.Add(1)
	if m.replyFunc != nil {
		return m.replyFunc(ctx, accountID, threadID, text)
	}
	return nil
}

func (m *mockInbox) MarkSeen(ctx context.Context, accountID, threadID string) error {
	m.seenCalls.Add(1)
	if m.seenFunc != nil {
		return m.seenFunc(ctx, accountID, threadID)
	}
	return nil
}

type mockResponder struct {
	replyFunc  func(ctx context.Context, accountID, correspondentID, message string) ([]string, error)
	replyCalls atomic.Int64
}

func (m *mockResponder) Reply(ctx context.Context, accountID, correspondentID, message string) ([]string, error) {
	m.replyCalls.Add(1)
	if m.replyFunc != nil {
		return m.replyFunc(ctx, accountID, correspondentID, message)
	}
	return []string{"ok"}, nil
}

func fastConfig() config.AutomationConfig {
	return config.AutomationConfig{
		MinInterval:   "10ms",
		MaxInterval:   "20ms",
		PollTick:      "5ms",
		ErrorCooldown: "10ms",
		StopTimeout:   "2s",
	}
}

func TestScheduler_StartStopLifecycle(t *testing.T) {
	defer goleak.VerifyNone(t)

	s, err := NewScheduler(fastConfig(), &mockInbox{}, &mockResponder{})
	require.NoError(t, err)

	ok, msg := s.Start("acct-1", 0, 0)
	require.True(t, ok)
	assert.Equal(t, "automation started", msg)

	ok, msg = s.Start("acct-1", 0, 0)
	assert.False(t, ok)
	assert.Equal(t, "already running", msg)

	// A different account is independent.
	ok, _ = s.Start("acct-2", 0, 0)
	require.True(t, ok)

	st, err := s.Status("acct-1")
	require.NoError(t, err)
	assert.True(t, st.Running)
	assert.NotEmpty(t, st.WorkerID)

	all := s.StatusAll()
	assert.Len(t, all, 2)

	ok, msg = s.Stop("acct-1")
	require.True(t, ok)
	assert.Equal(t, "automation stopped", msg)

	ok, msg = s.Stop("acct-1")
	assert.False(t, ok)
	assert.Equal(t, "no automation running", msg)

	require.NoError(t, s.StopAll())
}

func TestScheduler_RestartAfterStop(t *testing.T) {
	defer goleak.VerifyNone(t)

	s, err := NewScheduler(fastConfig(), &mockInbox{}, &mockResponder{})
	require.NoError(t, err)

	ok, _ := s.Start("acct-1", 0, 0)
	require.True(t, ok)
	first, err := s.Status("acct-1")
	require.NoError(t, err)

	ok, _ = s.Stop("acct-1")
	require.True(t, ok)

	ok, _ = s.Start("acct-1", 0, 0)
	require.True(t, ok)
	second, err := s.Status("acct-1")
	require.NoError(t, err)
	assert.NotEqual(t, first.WorkerID, second.WorkerID)

	require.NoError(t, s.StopAll())
}

func TestScheduler_PerAccountIntervals(t *testing.T) {
	defer goleak.VerifyNone(t)

	s, err := NewScheduler(fastConfig(), &mockInbox{}, &mockResponder{})
	require.NoError(t, err)

	// Explicit intervals override the configured cadence for this account.
	ok, _ := s.Start("acct-1", 40*time.Millisecond, 80*time.Millisecond)
	require.True(t, ok)
	s.mu.Lock()
	w1 := s.workers["acct-1"]
	s.mu.Unlock()
	assert.Equal(t, 40*time.Millisecond, w1.t.minInterval)
	assert.Equal(t, 80*time.Millisecond, w1.t.maxInterval)

	// A second account started without intervals keeps the defaults.
	ok, _ = s.Start("acct-2", 0, 0)
	require.True(t, ok)
	s.mu.Lock()
	w2 := s.workers["acct-2"]
	s.mu.Unlock()
	assert.Equal(t, 10*time.Millisecond, w2.t.minInterval)
	assert.Equal(t, 20*time.Millisecond, w2.t.maxInterval)

	require.NoError(t, s.StopAll())

	// Inverted bounds never launch a worker.
	ok, msg := s.Start("acct-3", 100*time.Millisecond, 50*time.Millisecond)
	assert.False(t, ok)
	assert.Contains(t, msg, "invalid interval bounds")
	_, err = s.Status("acct-3")
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestWorker_RepliesApprovesAndMarksSeen(t *testing.T) {
	defer goleak.VerifyNone(t)

	base := time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC)
	var fetched atomic.Bool
	inbox := &mockInbox{}
	inbox.fetchFunc = func(ctx context.Context, accountID string) ([]social.Thread, error) {
		if fetched.Swap(true) {
			return nil, nil
		}
		return []social.Thread{{
			ID:              "th-1",
			CorrespondentID: "alice",
			Pending:         true,
			LastActivity:    base,
			Messages: []social.Message{
				// Deliberately out of order; the worker must combine
				// chronologically.
				{ID: "m-2", Text: "and is it open on Sundays?", Timestamp: base.Add(time.Minute), Unreplied: true},
				{ID: "m-1", Text: "how much is the museum ticket?", Timestamp: base, Unreplied: true},
				{ID: "m-0", Text: "already answered", Timestamp: base.Add(-time.Hour), Unreplied: false},
			},
		}}, nil
	}

	var mu sync.Mutex
	var gotMessage string
	var sent []string
	resp := &mockResponder{replyFunc: func(ctx context.Context, accountID, correspondentID, message string) ([]string, error) {
		mu.Lock()
		gotMessage = message
		mu.Unlock()
		return []string{"Tickets are 12 euros.", "Yes, open every Sunday."}, nil
	}}
	inbox.replyFunc = func(ctx context.Context, accountID, threadID, text string) error {
		mu.Lock()
		sent = append(sent, text)
		mu.Unlock()
		return nil
	}

	s, err := NewScheduler(fastConfig(), inbox, resp)
	require.NoError(t, err)
	ok, _ := s.Start("acct-1", 0, 0)
	require.True(t, ok)

	require.Eventually(t, func() bool {
		return inbox.seenCalls.Load() >= 1
	}, 2*time.Second, 5*time.Millisecond)

	ok, _ = s.Stop("acct-1")
	require.True(t, ok)

	assert.Equal(t, int64(1), inbox.approveCalls.Load())
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "how much is the museum ticket?\nand is it open on Sundays?", gotMessage)
	assert.Equal(t, []string{"Tickets are 12 euros.", "Yes, open every Sunday."}, sent)
}

func TestWorker_FailedCycleRecordsErrorAndRetries(t *testing.T) {
	defer goleak.VerifyNone(t)

	inbox := &mockInbox{fetchFunc: func(ctx context.Context, accountID string) ([]social.Thread, error) {
		return nil, errors.New("platform down")
	}}

	s, err := NewScheduler(fastConfig(), inbox, &mockResponder{})
	require.NoError(t, err)
	ok, _ := s.Start("acct-1", 0, 0)
	require.True(t, ok)

	// The cooldown is short in tests, so multiple retries happen quickly.
	require.Eventually(t, func() bool {
		return inbox.fetchCalls.Load() >= 3
	}, 2*time.Second, 5*time.Millisecond)

	st, err := s.Status("acct-1")
	require.NoError(t, err)
	assert.Contains(t, st.LastError, "platform down")

	ok, _ = s.Stop("acct-1")
	require.True(t, ok)
}

func TestWorker_StopDoesNotAbortInFlightReply(t *testing.T) {
	defer goleak.VerifyNone(t)

	base := time.Now()
	var fetched atomic.Bool
	inbox := &mockInbox{fetchFunc: func(ctx context.Context, accountID string) ([]social.Thread, error) {
		if fetched.Swap(true) {
			return nil, nil
		}
		return []social.Thread{{
			ID:              "th-1",
			CorrespondentID: "bob",
			LastActivity:    base,
			Messages:        []social.Message{{ID: "m-1", Text: "hello", Timestamp: base, Unreplied: true}},
		}}, nil
	}}

	replyStarted := make(chan struct{})
	releaseReply := make(chan struct{})
	resp := &mockResponder{replyFunc: func(ctx context.Context, accountID, correspondentID, message string) ([]string, error) {
		close(replyStarted)
		<-releaseReply
		return []string{"hi bob"}, nil
	}}

	s, err := NewScheduler(fastConfig(), inbox, resp)
	require.NoError(t, err)
	ok, _ := s.Start("acct-1", 0, 0)
	require.True(t, ok)

	<-replyStarted

	stopDone := make(chan struct{})
	go func() {
		s.Stop("acct-1")
		close(stopDone)
	}()

	// Let Stop get in flight, then release the reply. The reply must still
	// be delivered even though stop was already signaled.
	time.Sleep(20 * time.Millisecond)
	close(releaseReply)
	<-stopDone

	require.Eventually(t, func() bool {
		return inbox.replyCalls.Load() == 1 && inbox.seenCalls.Load() == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestCombineUnreplied(t *testing.T) {
	base := time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, "", combineUnreplied(nil))
	assert.Equal(t, "", combineUnreplied([]social.Message{
		{Text: "seen already", Timestamp: base, Unreplied: false},
	}))
	assert.Equal(t, "first\nsecond", combineUnreplied([]social.Message{
		{Text: "second", Timestamp: base.Add(time.Minute), Unreplied: true},
		{Text: "  ", Timestamp: base.Add(2 * time.Minute), Unreplied: true},
		{Text: "first", Timestamp: base, Unreplied: true},
	}))
}

func TestReplyPacingRange_WidensWithBatchSize(t *testing.T) {
	lo, hi := replyPacingRange(0)
	assert.Zero(t, lo)
	assert.Zero(t, hi)
	_, hi = replyPacingRange(1)
	assert.Zero(t, hi)

	prevHi := time.Duration(0)
	for batch := 2; batch <= 64; batch++ {
		lo, hi := replyPacingRange(batch)
		assert.Positive(t, lo, "batch %d", batch)
		assert.GreaterOrEqual(t, hi, lo, "batch %d", batch)
		assert.GreaterOrEqual(t, hi, prevHi, "pacing must not shrink as the batch grows (batch %d)", batch)
		assert.LessOrEqual(t, hi, 30*time.Second, "batch %d", batch)
		prevHi = hi
	}

	// A big backlog always paces at least as slowly as a small one.
	_, small := replyPacingRange(2)
	_, large := replyPacingRange(20)
	assert.GreaterOrEqual(t, large, small)
}

func TestWorkerReplyPacing_DrawsWithinRange(t *testing.T) {
	w := newWorker("acct", &mockInbox{}, &mockResponder{}, timings{
		minInterval: 10 * time.Millisecond,
		maxInterval: 20 * time.Millisecond,
		pollTick:    5 * time.Millisecond,
	})

	assert.Zero(t, w.replyPacing(1))

	lo, hi := replyPacingRange(10)
	for i := 0; i < 100; i++ {
		d := w.replyPacing(10)
		assert.GreaterOrEqual(t, d, lo)
		assert.LessOrEqual(t, d, hi)
	}
}

func TestJitteredInterval_WithinBounds(t *testing.T) {
	w := newWorker("acct", &mockInbox{}, &mockResponder{}, timings{
		minInterval: 100 * time.Millisecond,
		maxInterval: 200 * time.Millisecond,
		pollTick:    10 * time.Millisecond,
	})
	for i := 0; i < 100; i++ {
		d := w.jitteredInterval()
		assert.GreaterOrEqual(t, d, 100*time.Millisecond)
		assert.LessOrEqual(t, d, 200*time.Millisecond)
	}
}

func TestParseTimings_Validation(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxInterval = "5ms" // below min
	_, err := NewScheduler(cfg, &mockInbox{}, &mockResponder{})
	require.Error(t, err)

	cfg = fastConfig()
	cfg.MinInterval = "nonsense"
	_, err = NewScheduler(cfg, &mockInbox{}, &mockResponder{})
	require.Error(t, err)
}
