package generation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"sociagent/internal/logging"
)

// scheduleTimeLayout is the wall-clock format the model is asked to emit.
const scheduleTimeLayout = "2006-01-02 15:04:05"

// CaptionHistory supplies an account's recent captions as scheduling
// context: posts similar to recent ones should not land back to back.
type CaptionHistory interface {
	RecentCaptions(userID string, limit int) ([]string, error)
}

// SetCaptionHistory wires the caption history source used by ScheduleTime.
func (l *Loop) SetCaptionHistory(h CaptionHistory) {
	l.captionHistory = h
}

// Schedule is the model's choice of posting time, already adjusted to the
// future.
type Schedule struct {
	Time   time.Time
	Reason string
}

// ScheduleTime asks the model when to publish a post, given the caption
// and what the account posted recently. Times the model places in the past
// are moved to tomorrow at the same clock time.
func (l *Loop) ScheduleTime(ctx context.Context, accountID, caption string) (Schedule, error) {
	timer := logging.StartTimer(logging.CategoryGeneration, "generation.ScheduleTime")
	defer timer.Stop()

	now := l.now()
	var recent []string
	if l.captionHistory != nil {
		var err error
		recent, err = l.captionHistory.RecentCaptions(accountID, 10)
		if err != nil {
			logging.GenerationWarn("loading recent captions failed: %v", err)
		}
	}

	system := "You schedule social media posts. Pick a posting time that maximizes engagement " +
		"and keeps distance from recent posts on similar topics. " +
		"Respond with a JSON object: {\"scheduled_time\": \"YYYY-MM-DD HH:MM:SS\", \"reason\": \"...\"}. No other text."

	var u strings.Builder
	fmt.Fprintf(&u, "Current time: %s\n\n", now.Format(scheduleTimeLayout))
	u.WriteString("Caption of the post to schedule:\n")
	u.WriteString(caption)
	if len(recent) > 0 {
		u.WriteString("\n\nRecent posts by this account, newest first:\n")
		for _, c := range recent {
			u.WriteString("- ")
			u.WriteString(c)
			u.WriteString("\n")
		}
	}

	raw, err := l.llm.CompleteWithSystem(ctx, system, u.String())
	if err != nil {
		return Schedule{}, fmt.Errorf("generation: schedule time: %w", err)
	}

	var choice struct {
		ScheduledTime string `json:"scheduled_time"`
		Reason        string `json:"reason"`
	}
	if err := extractJSON(raw, &choice); err != nil {
		return Schedule{}, err
	}
	chosen, err := time.ParseInLocation(scheduleTimeLayout, choice.ScheduledTime, now.Location())
	if err != nil {
		return Schedule{}, fmt.Errorf("generation: parse scheduled_time %q: %w", choice.ScheduledTime, err)
	}

	adjusted := AdjustScheduleTime(chosen, now)
	if !adjusted.Equal(chosen) {
		logging.Generation("schedule time %s was in the past, moved to %s",
			chosen.Format(scheduleTimeLayout), adjusted.Format(scheduleTimeLayout))
	}
	return Schedule{Time: adjusted, Reason: choice.Reason}, nil
}

// AdjustScheduleTime moves a past posting time to tomorrow while keeping
// its clock time. Future times pass through unchanged, which makes the
// function idempotent.
func AdjustScheduleTime(chosen, now time.Time) time.Time {
	if !chosen.Before(now) {
		return chosen
	}
	d := now.AddDate(0, 0, 1)
	return time.Date(d.Year(), d.Month(), d.Day(),
		chosen.Hour(), chosen.Minute(), chosen.Second(), chosen.Nanosecond(),
		chosen.Location())
}
