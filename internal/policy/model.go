// Package policy implements the hidden-state action policy.
//
// Engagement and time-of-day observations are decoded against a fixed
// three-state behavioral model (growth, engagement, idle). The decoded
// current state selects the set of permissible actions. The idle state
// absorbs probability mass as the decision iteration counter grows, so a
// long-running decision cycle settles into inactivity rather than
// spiraling into runaway automation.
package policy

import "fmt"

// Observation is one engagement or time-of-day signal symbol.
type Observation string

const (
	ObsNewComment    Observation = "new_comment"
	ObsNewFollower   Observation = "new_follower"
	ObsPostLiked     Observation = "post_liked"
	ObsMorningTime   Observation = "morning_time"
	ObsAfternoonTime Observation = "afternoon_time"
	ObsNightTime     Observation = "night_time"
)

// observationIndex maps symbols to emission matrix columns.
var observationIndex = map[Observation]int{
	ObsNewComment:    0,
	ObsNewFollower:   1,
	ObsPostLiked:     2,
	ObsMorningTime:   3,
	ObsAfternoonTime: 4,
	ObsNightTime:     5,
}

// HiddenState is one of the three behavioral states.
type HiddenState int

const (
	StateGrowth HiddenState = iota
	StateEngagement
	StateIdle
	numStates
)

func (s HiddenState) String() string {
	switch s {
	case StateGrowth:
		return "growth"
	case StateEngagement:
		return "engagement"
	case StateIdle:
		return "idle"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Action is a social action the agent may take.
type Action string

const (
	ActionFollow  Action = "follow"
	ActionLike    Action = "like"
	ActionComment Action = "comment"
	ActionNone    Action = "none"
)

// actionPolicy maps each hidden state to its permissible actions.
// Idle may explicitly decide to do nothing.
var actionPolicy = map[HiddenState][]Action{
	StateGrowth:     {ActionFollow, ActionLike},
	StateEngagement: {ActionComment, ActionLike},
	StateIdle:       {ActionLike, ActionNone},
}

// startProbs is the initial state distribution.
var startProbs = [numStates]float64{0.40, 0.40, 0.20}

// baseSplit encodes the relative preference for landing in growth vs
// engagement from each state, before the idle mass is carved out.
var baseSplit = [numStates][2]float64{
	StateGrowth:     {0.65, 0.35},
	StateEngagement: {0.35, 0.65},
	StateIdle:       {0.50, 0.50},
}

// emissions is the fixed 3x6 stochastic matrix; rows are states, columns
// follow observationIndex ordering. Growth is dominated by follower
// signals, engagement by comment/like signals, idle by time-of-day.
var emissions = [numStates][6]float64{
	StateGrowth:     {0.10, 0.40, 0.20, 0.10, 0.10, 0.10},
	StateEngagement: {0.35, 0.10, 0.25, 0.10, 0.10, 0.10},
	StateIdle:       {0.05, 0.05, 0.05, 0.25, 0.25, 0.35},
}

// transitionRow builds the transition probabilities out of state s for the
// given iteration. The idle column gets 0.1 + 0.1*iteration mass, clamped
// to [0,1]; the remainder is split per baseSplit. Idle mass is
// non-decreasing in iteration and the row always sums to 1.
func transitionRow(s HiddenState, iteration int) [numStates]float64 {
	idleMass := 0.1 + 0.1*float64(iteration)
	if idleMass > 1 {
		idleMass = 1
	}
	if idleMass < 0 {
		idleMass = 0
	}
	active := 1 - idleMass

	split := baseSplit[s]
	return [numStates]float64{
		active * split[0],
		active * split[1],
		idleMass,
	}
}

// IdleMass exposes the idle transition mass for a given iteration.
// Used by callers and tests to reason about the anti-runaway safeguard.
func IdleMass(iteration int) float64 {
	return transitionRow(StateGrowth, iteration)[StateIdle]
}

// ActionsFor returns the permissible actions for a state.
func ActionsFor(s HiddenState) []Action {
	actions := actionPolicy[s]
	out := make([]Action, len(actions))
	copy(out, actions)
	return out
}

// ValidObservation reports whether the symbol is part of the model alphabet.
func ValidObservation(o Observation) bool {
	_, ok := observationIndex[o]
	return ok
}
