package orchestrator

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"sociagent/internal/generation"
	"sociagent/internal/logging"
	"sociagent/internal/store"
)

// Caption generates a caption for the active account.
func (o *Orchestrator) Caption(ctx context.Context, req generation.CaptionRequest) (string, error) {
	account := o.ActiveAccount()
	if account == "" {
		return "", ErrNoActiveAccount
	}
	return o.gen.Caption(ctx, account, req)
}

// SchedulePost asks the model for a posting time and queues the post for
// execution by CheckSchedule. The caption is supplied by the caller,
// typically from a prior Caption call.
func (o *Orchestrator) SchedulePost(ctx context.Context, imageURL, caption string) (store.ScheduledPost, error) {
	account := o.ActiveAccount()
	if account == "" {
		return store.ScheduledPost{}, ErrNoActiveAccount
	}
	timer := logging.StartTimer(logging.CategoryOrchestrator, "orchestrator.SchedulePost")
	defer timer.Stop()

	sched, err := o.gen.ScheduleTime(ctx, account, caption)
	if err != nil {
		return store.ScheduledPost{}, fmt.Errorf("orchestrator: schedule time: %w", err)
	}

	post := store.ScheduledPost{
		UserID:        account,
		ImageURL:      imageURL,
		Caption:       caption,
		ScheduledTime: sched.Time,
		Reason:        sched.Reason,
	}
	id, err := o.st.AddScheduledPost(post)
	if err != nil {
		return store.ScheduledPost{}, err
	}
	post.ID = id
	logging.Orchestrator("post %d scheduled for %s: %s", id, sched.Time.Format(time.RFC3339), sched.Reason)
	return post, nil
}

// CheckSchedule publishes every due post for the active account and
// returns how many went out. Posts are published concurrently with a small
// fan-out; a failed post stays queued for the next check.
func (o *Orchestrator) CheckSchedule(ctx context.Context) (int, error) {
	account := o.ActiveAccount()
	if account == "" {
		return 0, ErrNoActiveAccount
	}
	timer := logging.StartTimer(logging.CategoryOrchestrator, "orchestrator.CheckSchedule")
	defer timer.Stop()

	due, err := o.st.DueScheduledPosts(account, time.Now())
	if err != nil {
		return 0, err
	}
	if len(due) == 0 {
		return 0, nil
	}

	var posted atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, p := range due {
		p := p
		g.Go(func() error {
			if err := o.actions.Post(gctx, account, p.ImageURL, p.Caption); err != nil {
				logging.OrchestratorWarn("scheduled post %d failed, staying queued: %v", p.ID, err)
				return nil
			}
			if err := o.st.MarkPosted(p.ID); err != nil {
				logging.OrchestratorWarn("marking post %d as posted failed: %v", p.ID, err)
				return nil
			}
			posted.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return int(posted.Load()), err
	}
	logging.Orchestrator("check_schedule: %d/%d due posts published", posted.Load(), len(due))
	return int(posted.Load()), nil
}
