package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sociagent/internal/logging"
	"sociagent/internal/policy"
	"sociagent/internal/store"
)

// CycleAction records one executed step of a decision cycle.
type CycleAction struct {
	Iteration int           `json:"iteration"`
	State     string        `json:"state"`
	Action    policy.Action `json:"action"`
	TargetID  string        `json:"target_id,omitempty"`
	Marked    bool          `json:"marked"`
	Skipped   string        `json:"skipped,omitempty"` // reason the action was not executed
}

// CycleReport summarizes a completed decision cycle.
type CycleReport struct {
	AccountID    string               `json:"account_id"`
	Observations []policy.Observation `json:"observations"`
	Actions      []CycleAction        `json:"actions"`
}

// RunDecisionCycle fetches engagement stats, builds the observation
// sequence, and executes up to maxIterations policy decisions. The cycle
// ends early when the policy decides to do nothing. Collaborator failures
// skip the iteration rather than aborting the cycle.
func (o *Orchestrator) RunDecisionCycle(ctx context.Context) (CycleReport, error) {
	timer := logging.StartTimer(logging.CategoryOrchestrator, "orchestrator.RunDecisionCycle")
	defer timer.Stop()

	account, cfg, err := o.accountContext()
	if err != nil {
		return CycleReport{}, err
	}

	stats, err := o.actions.FetchStats(ctx, account)
	if err != nil {
		return CycleReport{}, fmt.Errorf("orchestrator: fetch stats: %w", err)
	}

	obs := o.engine.BuildObservations(policy.EngagementStats{
		NewComments:  stats.NewComments,
		NewFollowers: stats.NewFollowers,
		PostLikes:    stats.PostLikes,
	}, time.Now())

	report := CycleReport{AccountID: account, Observations: obs}
	for i := 0; i < o.maxIterations; i++ {
		decision, err := o.engine.Decide(obs, i)
		if err != nil {
			return report, fmt.Errorf("orchestrator: decide: %w", err)
		}
		logging.Orchestrator("cycle iteration %d: state=%s action=%s", i, decision.State, decision.Action)

		if decision.Action == policy.ActionNone {
			report.Actions = append(report.Actions, CycleAction{
				Iteration: i, State: decision.State.String(), Action: decision.Action,
			})
			break
		}

		act := o.executeAction(ctx, account, cfg, decision, i)
		report.Actions = append(report.Actions, act)
	}
	return report, nil
}

// executeAction picks an unserved target, performs the platform call, and
// marks the target on success. A lost mark race or an exhausted target
// pool is recorded, not fatal.
func (o *Orchestrator) executeAction(ctx context.Context, account string, cfg store.AccountConfig, d policy.Decision, iteration int) CycleAction {
	act := CycleAction{Iteration: iteration, State: d.State.String(), Action: d.Action}

	kind := store.TargetKindPost
	if d.Action == policy.ActionFollow {
		kind = store.TargetKindAccount
	}

	target, err := o.st.PickUnmarkedTarget(kind, account, cfg.Communities)
	if errors.Is(err, store.ErrNotFound) {
		logging.Orchestrator("no unserved %s targets for %s", kind, account)
		act.Skipped = "no targets available"
		return act
	}
	if err != nil {
		logging.OrchestratorWarn("target pick failed: %v", err)
		act.Skipped = "target pick failed"
		return act
	}
	act.TargetID = target.TargetID

	if err := o.performAction(ctx, account, d.Action, target); err != nil {
		logging.OrchestratorWarn("action %s on %s failed: %v", d.Action, target.TargetID, err)
		act.Skipped = "platform call failed"
		return act
	}

	marked, err := o.st.MarkTarget(target.TargetID, kind, account)
	if err != nil {
		logging.OrchestratorWarn("marking %s failed: %v", target.TargetID, err)
		return act
	}
	act.Marked = marked
	if !marked {
		// Another worker marked it first; the platform call may have
		// doubled up, but the mark set stays consistent.
		logging.Orchestrator("mark race lost on %s/%s", kind, target.TargetID)
	}
	return act
}

func (o *Orchestrator) performAction(ctx context.Context, account string, action policy.Action, target store.Target) error {
	switch action {
	case policy.ActionFollow:
		return o.actions.Follow(ctx, account, target.TargetID)
	case policy.ActionLike:
		return o.actions.Like(ctx, account, target.TargetID)
	case policy.ActionComment:
		text, err := o.gen.Comment(ctx, account, target.Payload)
		if err != nil {
			return err
		}
		return o.actions.Comment(ctx, account, target.TargetID, text)
	default:
		return fmt.Errorf("orchestrator: unexpected action %q", action)
	}
}
