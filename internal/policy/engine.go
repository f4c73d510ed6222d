package policy

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"sociagent/internal/logging"
)

// ErrNoObservations is returned when Decide is called with an empty
// observation sequence. Callers must supply at least the time-of-day symbol.
var ErrNoObservations = errors.New("policy: observation sequence is empty")

// Decision is the outcome of one policy evaluation.
type Decision struct {
	State  HiddenState
	Action Action
}

// EngagementStats are the raw per-cycle engagement counts, typically
// fetched from the platform stats endpoint.
type EngagementStats struct {
	NewComments  int
	NewFollowers int
	PostLikes    int
}

// Engine decodes observation sequences against the behavioral model and
// draws an action from the decoded state's policy.
type Engine struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewEngine creates an engine seeded from the clock.
func NewEngine() *Engine {
	return NewEngineWithSeed(time.Now().UnixNano())
}

// NewEngineWithSeed creates an engine with a fixed seed, for deterministic tests.
func NewEngineWithSeed(seed int64) *Engine {
	return &Engine{rng: rand.New(rand.NewSource(seed))}
}

// Decide computes the maximum-likelihood hidden-state sequence for the
// observations, takes the final state as the current behavioral state, and
// draws uniformly from that state's permissible actions (which may be
// ActionNone). iteration is the caller's loop counter within one decision
// cycle; higher iterations shift transition mass toward idle.
func (e *Engine) Decide(observations []Observation, iteration int) (Decision, error) {
	if len(observations) == 0 {
		return Decision{}, ErrNoObservations
	}
	for _, o := range observations {
		if !ValidObservation(o) {
			return Decision{}, fmt.Errorf("policy: unknown observation %q", o)
		}
	}

	state := decode(observations, iteration)

	e.mu.Lock()
	actions := actionPolicy[state]
	action := actions[e.rng.Intn(len(actions))]
	e.mu.Unlock()

	logging.Policy("decide: %d observations, iteration=%d -> state=%s action=%s",
		len(observations), iteration, state, action)
	return Decision{State: state, Action: action}, nil
}

// BuildObservations expands engagement counts into one symbol per count
// unit, shuffles them, and prefixes exactly one time-of-day symbol.
func (e *Engine) BuildObservations(stats EngagementStats, now time.Time) []Observation {
	var obs []Observation
	for i := 0; i < stats.NewComments; i++ {
		obs = append(obs, ObsNewComment)
	}
	for i := 0; i < stats.NewFollowers; i++ {
		obs = append(obs, ObsNewFollower)
	}
	for i := 0; i < stats.PostLikes; i++ {
		obs = append(obs, ObsPostLiked)
	}

	e.mu.Lock()
	e.rng.Shuffle(len(obs), func(i, j int) {
		obs[i], obs[j] = obs[j], obs[i]
	})
	e.mu.Unlock()

	return append([]Observation{timeOfDaySymbol(now)}, obs...)
}

// timeOfDaySymbol buckets the clock into the three time symbols.
func timeOfDaySymbol(now time.Time) Observation {
	switch h := now.Hour(); {
	case h >= 5 && h < 12:
		return ObsMorningTime
	case h >= 12 && h < 18:
		return ObsAfternoonTime
	default:
		return ObsNightTime
	}
}

// decode runs a Viterbi pass in log-space and returns the final state of
// the maximum-likelihood path.
func decode(observations []Observation, iteration int) HiddenState {
	n := len(observations)

	// delta[s] is the best log-probability of any path ending in s.
	var delta [numStates]float64
	back := make([][numStates]HiddenState, n)

	first := observationIndex[observations[0]]
	for s := HiddenState(0); s < numStates; s++ {
		delta[s] = logProb(startProbs[s]) + logProb(emissions[s][first])
	}

	for t := 1; t < n; t++ {
		col := observationIndex[observations[t]]
		var next [numStates]float64
		for s := HiddenState(0); s < numStates; s++ {
			best := math.Inf(-1)
			var bestPrev HiddenState
			for p := HiddenState(0); p < numStates; p++ {
				row := transitionRow(p, iteration)
				score := delta[p] + logProb(row[s])
				if score > best {
					best = score
					bestPrev = p
				}
			}
			next[s] = best + logProb(emissions[s][col])
			back[t][s] = bestPrev
		}
		delta = next
	}

	last := StateGrowth
	best := math.Inf(-1)
	for s := HiddenState(0); s < numStates; s++ {
		if delta[s] > best {
			best = delta[s]
			last = s
		}
	}
	return last
}

func logProb(p float64) float64 {
	if p <= 0 {
		return math.Inf(-1)
	}
	return math.Log(p)
}
