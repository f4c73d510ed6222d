package automation

import (
	"context"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"sociagent/internal/logging"
	"sociagent/internal/social"
)

// worker is one account's polling loop. Stop is observed between threads
// and between sleep ticks, never in the middle of a reply.
type worker struct {
	id        string
	accountID string
	inbox     Inbox
	responder Responder
	t         timings
	rng       *rand.Rand

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}

	mu        sync.Mutex
	startedAt time.Time
	lastCycle time.Time
	cycles    int
	lastError string
	done      bool
}

func newWorker(accountID string, inbox Inbox, responder Responder, t timings) *worker {
	return &worker{
		id:        newWorkerID(),
		accountID: accountID,
		inbox:     inbox,
		responder: responder,
		t:         t,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
		startedAt: time.Now(),
	}
}

func (w *worker) signalStop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
}

func (w *worker) running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return !w.done
}

func (w *worker) status() WorkerStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	return WorkerStatus{
		AccountID: w.accountID,
		WorkerID:  w.id,
		Running:   !w.done,
		StartedAt: w.startedAt,
		LastCycle: w.lastCycle,
		Cycles:    w.cycles,
		LastError: w.lastError,
	}
}

func (w *worker) stopped() bool {
	select {
	case <-w.stopCh:
		return true
	default:
		return false
	}
}

// run is the worker main loop: cycle, then sleep a jittered interval, until
// stopped. A failed cycle gets the error cooldown instead of the jitter.
func (w *worker) run() {
	defer func() {
		w.mu.Lock()
		w.done = true
		w.mu.Unlock()
		close(w.doneCh)
	}()

	ctx := context.Background()
	for {
		if w.stopped() {
			return
		}

		err := w.cycle(ctx)
		w.mu.Lock()
		w.lastCycle = time.Now()
		w.cycles++
		if err != nil {
			w.lastError = err.Error()
		} else {
			w.lastError = ""
		}
		w.mu.Unlock()

		if err != nil {
			logging.AutomationWarn("worker %s cycle failed: %v", w.id, err)
			if !w.sleep(w.t.errorCooldown) {
				return
			}
			continue
		}

		if !w.sleep(w.jitteredInterval()) {
			return
		}
	}
}

// cycle drains the inbox once: approve pending threads, reply to each
// thread's combined unanswered messages, mark them seen.
func (w *worker) cycle(ctx context.Context) error {
	timer := logging.StartTimer(logging.CategoryAutomation, "automation.cycle")
	defer timer.Stop()

	threads, err := w.inbox.FetchThreads(ctx, w.accountID)
	if err != nil {
		return err
	}
	if len(threads) == 0 {
		logging.Automation("worker %s: inbox empty", w.id)
		return nil
	}

	// Newest conversations first: a fresh correspondent should not wait
	// behind a stale backlog.
	sort.Slice(threads, func(i, j int) bool {
		return threads[i].LastActivity.After(threads[j].LastActivity)
	})

	for i, th := range threads {
		if i > 0 && w.stopped() {
			logging.Automation("worker %s: stop observed mid-batch, %d threads left", w.id, len(threads)-i)
			return nil
		}
		if err := w.handleThread(ctx, th); err != nil {
			logging.AutomationWarn("worker %s: thread %s: %v", w.id, th.ID, err)
			continue
		}
		if i < len(threads)-1 {
			if !w.sleep(w.replyPacing(len(threads))) {
				return nil
			}
		}
	}
	return nil
}

func (w *worker) handleThread(ctx context.Context, th social.Thread) error {
	if th.Pending {
		if err := w.inbox.ApproveThread(ctx, w.accountID, th.ID); err != nil {
			return err
		}
		logging.Automation("worker %s: approved pending thread %s", w.id, th.ID)
	}

	combined := combineUnreplied(th.Messages)
	if combined == "" {
		return nil
	}

	parts, err := w.responder.Reply(ctx, w.accountID, th.CorrespondentID, combined)
	if err != nil {
		return err
	}
	for _, p := range parts {
		if err := w.inbox.SendReply(ctx, w.accountID, th.ID, p); err != nil {
			return err
		}
	}
	return w.inbox.MarkSeen(ctx, w.accountID, th.ID)
}

// combineUnreplied joins a thread's unanswered messages oldest first, so
// the generator sees them as one coherent question.
func combineUnreplied(msgs []social.Message) string {
	pending := make([]social.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Unreplied {
			pending = append(pending, m)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].Timestamp.Before(pending[j].Timestamp)
	})

	texts := make([]string, 0, len(pending))
	for _, m := range pending {
		if t := strings.TrimSpace(m.Text); t != "" {
			texts = append(texts, t)
		}
	}
	return strings.Join(texts, "\n")
}

// replyPacingRange gives the bounds for the pause between replies in one
// batch. The range widens with batch size: a couple of threads reply
// almost back to back, while a large backlog spreads its replies out so
// the outgoing traffic never looks bursty.
func replyPacingRange(batch int) (time.Duration, time.Duration) {
	if batch <= 1 {
		return 0, 0
	}
	lo := time.Duration(batch) * 500 * time.Millisecond
	hi := time.Duration(batch) * time.Second
	const ceiling = 30 * time.Second
	if hi > ceiling {
		hi = ceiling
	}
	if lo > hi {
		lo = hi
	}
	return lo, hi
}

// replyPacing draws a fresh jittered pause from the batch's pacing range.
func (w *worker) replyPacing(batch int) time.Duration {
	lo, hi := replyPacingRange(batch)
	span := hi - lo
	if span <= 0 {
		return lo
	}
	w.mu.Lock()
	jitter := time.Duration(w.rng.Int63n(int64(span) + 1))
	w.mu.Unlock()
	return lo + jitter
}

// jitteredInterval picks a uniform random sleep in [min, max].
func (w *worker) jitteredInterval() time.Duration {
	span := w.t.maxInterval - w.t.minInterval
	if span <= 0 {
		return w.t.minInterval
	}
	w.mu.Lock()
	jitter := time.Duration(w.rng.Int63n(int64(span) + 1))
	w.mu.Unlock()
	return w.t.minInterval + jitter
}

// sleep waits for d in pollTick slices so a stop signal is observed within
// one tick. Returns false when the worker should exit.
func (w *worker) sleep(d time.Duration) bool {
	deadline := time.Now().Add(d)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return true
		}
		tick := w.t.pollTick
		if remaining < tick {
			tick = remaining
		}
		timer := time.NewTimer(tick)
		select {
		case <-w.stopCh:
			timer.Stop()
			return false
		case <-timer.C:
		}
	}
}
