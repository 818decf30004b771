package engine

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/spatial/r3"

	"palm/scenario"
	"palm/searcher"
)

// CollisionDistance is the closest approach in metres below which a flight
// counts as a collision.
const CollisionDistance = 0.25

// measure fills in the per-obstacle closest approach of a flown trajectory.
func measure(trajectory []r3.Vec, obstacles []scenario.Obstacle) searcher.Outcome {
	outcome := searcher.Outcome{
		MinDistance: math.Inf(1),
		Trajectory:  trajectory,
		Distances:   make([]float64, len(obstacles)),
	}
	path := scenario.Flatten(trajectory)
	for i, o := range obstacles {
		outcome.Distances[i] = path.DistanceTo(o.Footprint())
	}
	if len(obstacles) > 0 {
		outcome.MinDistance = floats.Min(outcome.Distances)
	}
	outcome.Failed = outcome.MinDistance < CollisionDistance
	return outcome
}
