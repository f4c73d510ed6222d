// Package orchestrator wires the agent together: it owns the active
// account, routes chat through memory and the generation loop, runs the
// policy decision cycle against the platform API, and executes the
// scheduled-post pipeline.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"sociagent/internal/generation"
	"sociagent/internal/logging"
	"sociagent/internal/memory"
	"sociagent/internal/policy"
	"sociagent/internal/social"
	"sociagent/internal/store"
)

// ErrNoActiveAccount is returned by operations that need an account before
// one has been switched in.
var ErrNoActiveAccount = errors.New("orchestrator: no active account")

// ActionAPI is the outbound platform surface the decision cycle drives.
type ActionAPI interface {
	Follow(ctx context.Context, accountID, targetID string) error
	Like(ctx context.Context, accountID, postID string) error
	Comment(ctx context.Context, accountID, postID, text string) error
	Post(ctx context.Context, accountID, imageURL, caption string) error
	FetchStats(ctx context.Context, accountID string) (social.Stats, error)
}

// Generator is the slice of the generation loop the orchestrator drives.
type Generator interface {
	Reply(ctx context.Context, accountID, correspondentID, message string) ([]string, error)
	Caption(ctx context.Context, accountID string, req generation.CaptionRequest) (string, error)
	Comment(ctx context.Context, accountID, postDescription string) (string, error)
	ScheduleTime(ctx context.Context, accountID, caption string) (generation.Schedule, error)
}

// Orchestrator coordinates store, memory, generation, policy, and the
// platform client around one active account.
type Orchestrator struct {
	st      *store.Store
	buffer  *memory.Buffer
	gen     Generator
	actions ActionAPI
	engine  *policy.Engine

	maxIterations int

	mu            sync.RWMutex
	activeAccount string
	persona       store.Persona
	accountCfg    store.AccountConfig
}

// New wires an orchestrator. maxIterations bounds policy decisions per
// cycle; non-positive values fall back to 5.
func New(st *store.Store, buffer *memory.Buffer, gen Generator, actions ActionAPI, engine *policy.Engine, maxIterations int) *Orchestrator {
	if maxIterations <= 0 {
		maxIterations = 5
	}
	return &Orchestrator{
		st:            st,
		buffer:        buffer,
		gen:           gen,
		actions:       actions,
		engine:        engine,
		maxIterations: maxIterations,
	}
}

// ActiveAccount returns the currently managed account id, empty when none.
func (o *Orchestrator) ActiveAccount() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.activeAccount
}

// SwitchAccount makes userID the managed account. The previous account's
// episodic memory is flushed through migration first, so nothing leaks
// across accounts; a flush failure aborts the switch.
func (o *Orchestrator) SwitchAccount(ctx context.Context, userID string) error {
	if userID == "" {
		return fmt.Errorf("orchestrator: user id is required")
	}
	timer := logging.StartTimer(logging.CategoryOrchestrator, "orchestrator.SwitchAccount")
	defer timer.Stop()

	if err := o.buffer.FlushAll(ctx); err != nil {
		return fmt.Errorf("orchestrator: flush memory before switch: %w", err)
	}

	persona, err := o.st.GetPersona(userID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("orchestrator: load persona: %w", err)
	}
	cfg, err := o.st.GetAccountConfig(userID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("orchestrator: load account config: %w", err)
	}

	o.mu.Lock()
	o.activeAccount = userID
	o.persona = persona
	o.accountCfg = cfg
	o.mu.Unlock()

	logging.Orchestrator("switched to account %s (persona=%q communities=%d)",
		userID, persona.Name, len(cfg.Communities))
	return nil
}

// PersonaPrompt resolves the persona description for an account. Satisfies
// generation.PersonaFunc. The active account is served from cache; other
// accounts hit the store.
func (o *Orchestrator) PersonaPrompt(accountID string) string {
	o.mu.RLock()
	if accountID == o.activeAccount {
		desc := o.persona.Description
		o.mu.RUnlock()
		return desc
	}
	o.mu.RUnlock()

	p, err := o.st.GetPersona(accountID)
	if err != nil {
		return ""
	}
	return p.Description
}

// ReloadPersona persists the persona and refreshes the cache when it
// belongs to the active account.
func (o *Orchestrator) ReloadPersona(ctx context.Context, p store.Persona) error {
	if err := o.st.UpsertPersona(p); err != nil {
		return err
	}
	o.mu.Lock()
	if p.UserID == o.activeAccount {
		o.persona = p
	}
	o.mu.Unlock()
	logging.Orchestrator("persona reloaded for %s", p.UserID)
	return nil
}

// ReloadConfig persists the account config and refreshes the cache when it
// belongs to the active account.
func (o *Orchestrator) ReloadConfig(ctx context.Context, c store.AccountConfig) error {
	if err := o.st.UpsertAccountConfig(c); err != nil {
		return err
	}
	o.mu.Lock()
	if c.UserID == o.activeAccount {
		o.accountCfg = c
	}
	o.mu.Unlock()
	logging.Orchestrator("account config reloaded for %s", c.UserID)
	return nil
}

// Reply records the correspondent's message and answers it. Satisfies
// automation.Responder, so workers and the HTTP surface share one path.
func (o *Orchestrator) Reply(ctx context.Context, accountID, correspondentID, message string) ([]string, error) {
	o.buffer.Store(ctx, correspondentID, memory.RoleUser, message)
	return o.gen.Reply(ctx, accountID, correspondentID, message)
}

// Chat answers a message addressed to the active account.
func (o *Orchestrator) Chat(ctx context.Context, correspondentID, message string) ([]string, error) {
	account := o.ActiveAccount()
	if account == "" {
		return nil, ErrNoActiveAccount
	}
	return o.Reply(ctx, account, correspondentID, message)
}

// FlushMemory migrates every buffered conversation to long-term storage.
// Called on shutdown so episodic memory survives restarts.
func (o *Orchestrator) FlushMemory(ctx context.Context) error {
	return o.buffer.FlushAll(ctx)
}

// accountContext snapshots what the decision cycle needs under one lock.
func (o *Orchestrator) accountContext() (string, store.AccountConfig, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.activeAccount == "" {
		return "", store.AccountConfig{}, ErrNoActiveAccount
	}
	return o.activeAccount, o.accountCfg, nil
}
