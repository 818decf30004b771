package searcher

import (
	"fmt"
	"math"

	"palm/scenario"
	"palm/utils"
)

// Evaluator maps a simulation outcome to a bounded reward. Evaluate must be a
// pure function of its arguments.
type Evaluator interface {
	Evaluate(outcome Outcome, state scenario.State) float64
	// Penalty is the minimum reward, assigned when a simulation fails to run.
	Penalty() float64
}

// DistanceReward favours failures first and then near misses: a failure earns
// FailureReward, any other outcome earns up to NearMissScale, growing as the
// closest approach shrinks below MaxDistance.
type DistanceReward struct {
	FailureReward float64
	NearMissScale float64
	MaxDistance   float64
	PenaltyReward float64
}

func NewDistanceReward() DistanceReward {
	return DistanceReward{
		FailureReward: 1.0,
		NearMissScale: 0.5,
		MaxDistance:   5.0,
		PenaltyReward: 0.0,
	}
}

func (r DistanceReward) Validate() error {
	if r.MaxDistance <= 0 {
		return fmt.Errorf("%w: reward max distance must be positive, got %v", ErrConfiguration, r.MaxDistance)
	}
	if r.NearMissScale < 0 || r.NearMissScale >= r.FailureReward-r.PenaltyReward {
		return fmt.Errorf("%w: near miss scale %v must lie in [0, %v)",
			ErrConfiguration, r.NearMissScale, r.FailureReward-r.PenaltyReward)
	}
	return nil
}

func (r DistanceReward) Evaluate(outcome Outcome, state scenario.State) float64 {
	if state.Len() == 0 {
		return r.PenaltyReward
	}
	if outcome.Failed {
		return r.FailureReward
	}

	d := outcome.MinDistance
	if math.IsNaN(d) {
		d = r.MaxDistance
	}
	closeness := 1 - utils.Clamp(d/r.MaxDistance, 0, 1)
	return r.PenaltyReward + r.NearMissScale*closeness
}

func (r DistanceReward) Penalty() float64 {
	return r.PenaltyReward
}
