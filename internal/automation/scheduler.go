// Package automation runs one polling worker per managed account. A worker
// drains the account's inbox, replies through the generation path, and
// sleeps a jittered interval between cycles. The scheduler owns worker
// lifecycle: start, stop, and status inspection.
package automation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"sociagent/internal/config"
	"sociagent/internal/logging"
	"sociagent/internal/social"
)

// Sentinel lifecycle errors.
var (
	ErrAlreadyRunning = errors.New("automation: already running")
	ErrNotRunning     = errors.New("automation: no automation running")
)

// Inbox is the platform surface a worker drains each cycle.
type Inbox interface {
	FetchThreads(ctx context.Context, accountID string) ([]social.Thread, error)
	ApproveThread(ctx context.Context, accountID, threadID string) error
	SendReply(ctx context.Context, accountID, threadID, text string) error
	MarkSeen(ctx context.Context, accountID, threadID string) error
}

// Responder turns a correspondent's combined unanswered messages into
// reply paragraphs. Implemented by the orchestrator's chat path.
type Responder interface {
	Reply(ctx context.Context, accountID, correspondentID, message string) ([]string, error)
}

// WorkerStatus is a point-in-time snapshot of one account's worker.
type WorkerStatus struct {
	AccountID string    `json:"account_id"`
	WorkerID  string    `json:"worker_id"`
	Running   bool      `json:"running"`
	StartedAt time.Time `json:"started_at"`
	LastCycle time.Time `json:"last_cycle,omitempty"`
	Cycles    int       `json:"cycles"`
	LastError string    `json:"last_error,omitempty"`
}

// timings holds the parsed duration knobs shared by all workers.
type timings struct {
	minInterval   time.Duration
	maxInterval   time.Duration
	pollTick      time.Duration
	errorCooldown time.Duration
	stopTimeout   time.Duration
}

// Scheduler manages per-account automation workers. All registry access is
// mutex-guarded; Start and Stop on different accounts never block each
// other beyond map access.
type Scheduler struct {
	mu      sync.Mutex
	workers map[string]*worker

	inbox     Inbox
	responder Responder
	t         timings
}

// NewScheduler parses the duration config once and returns a scheduler
// with no workers running.
func NewScheduler(cfg config.AutomationConfig, inbox Inbox, responder Responder) (*Scheduler, error) {
	t, err := parseTimings(cfg)
	if err != nil {
		return nil, err
	}
	if inbox == nil || responder == nil {
		return nil, fmt.Errorf("automation: inbox and responder are required")
	}
	return &Scheduler{
		workers:   make(map[string]*worker),
		inbox:     inbox,
		responder: responder,
		t:         t,
	}, nil
}

func parseTimings(cfg config.AutomationConfig) (timings, error) {
	var t timings
	var err error
	if t.minInterval, err = cfg.MinIntervalDuration(); err != nil {
		return t, err
	}
	if t.maxInterval, err = cfg.MaxIntervalDuration(); err != nil {
		return t, err
	}
	if t.pollTick, err = cfg.PollTickDuration(); err != nil {
		return t, err
	}
	if t.errorCooldown, err = cfg.ErrorCooldownDuration(); err != nil {
		return t, err
	}
	if t.stopTimeout, err = cfg.StopTimeoutDuration(); err != nil {
		return t, err
	}
	if t.minInterval <= 0 || t.maxInterval < t.minInterval {
		return t, fmt.Errorf("automation: interval bounds invalid: min=%s max=%s", t.minInterval, t.maxInterval)
	}
	if t.pollTick <= 0 {
		t.pollTick = 30 * time.Second
	}
	return t, nil
}

// Start launches the account's worker. minInterval and maxInterval
// override the configured cycle cadence for this account; zero values keep
// the configured defaults. The second return value is a human-readable
// message mirrored to the HTTP surface.
func (s *Scheduler) Start(accountID string, minInterval, maxInterval time.Duration) (bool, string) {
	t := s.t
	if minInterval > 0 {
		t.minInterval = minInterval
	}
	if maxInterval > 0 {
		t.maxInterval = maxInterval
	}
	if t.minInterval <= 0 || t.maxInterval < t.minInterval {
		return false, fmt.Sprintf("invalid interval bounds: min=%s max=%s", t.minInterval, t.maxInterval)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if w, ok := s.workers[accountID]; ok && w.running() {
		return false, "already running"
	}

	w := newWorker(accountID, s.inbox, s.responder, t)
	s.workers[accountID] = w
	go w.run()
	logging.Automation("worker %s started for account %s (interval %s..%s)", w.id, accountID, t.minInterval, t.maxInterval)
	return true, "automation started"
}

// Stop signals the account's worker and waits up to the stop timeout for it
// to exit. The worker finishes any in-flight reply before exiting.
func (s *Scheduler) Stop(accountID string) (bool, string) {
	s.mu.Lock()
	w, ok := s.workers[accountID]
	if !ok || !w.running() {
		s.mu.Unlock()
		return false, "no automation running"
	}
	delete(s.workers, accountID)
	s.mu.Unlock()

	w.signalStop()
	select {
	case <-w.doneCh:
		logging.Automation("worker %s for account %s stopped", w.id, accountID)
		return true, "automation stopped"
	case <-time.After(s.t.stopTimeout):
		logging.AutomationWarn("worker %s for account %s did not stop within %s", w.id, accountID, s.t.stopTimeout)
		return true, "stop signaled, worker still draining"
	}
}

// Status reports the worker state for one account.
func (s *Scheduler) Status(accountID string) (WorkerStatus, error) {
	s.mu.Lock()
	w, ok := s.workers[accountID]
	s.mu.Unlock()
	if !ok {
		return WorkerStatus{AccountID: accountID}, ErrNotRunning
	}
	return w.status(), nil
}

// StatusAll reports every registered worker.
func (s *Scheduler) StatusAll() []WorkerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]WorkerStatus, 0, len(s.workers))
	for _, w := range s.workers {
		out = append(out, w.status())
	}
	return out
}

// StopAll stops every worker concurrently and waits for all of them.
// Used on process shutdown.
func (s *Scheduler) StopAll() error {
	s.mu.Lock()
	accounts := make([]string, 0, len(s.workers))
	for id := range s.workers {
		accounts = append(accounts, id)
	}
	s.mu.Unlock()

	var g errgroup.Group
	for _, id := range accounts {
		id := id
		g.Go(func() error {
			s.Stop(id)
			return nil
		})
	}
	return g.Wait()
}

// newWorkerID is replaceable in tests.
var newWorkerID = func() string { return uuid.NewString() }
