package searcher

import (
	"context"
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/spatial/r3"

	"palm/scenario"
)

// Outcome is the result of flying the mission through a scenario.
type Outcome struct {
	// Failed marks a violation of the vehicle's safe-operation criteria.
	Failed bool
	// MinDistance is the closest approach of the vehicle to any obstacle.
	MinDistance float64
	// Distances holds the closest approach per obstacle, in scenario order.
	Distances  []float64
	Trajectory []r3.Vec
	LogFile    string
	PlotFile   string
}

func (o Outcome) closestIsLast() bool {
	if len(o.Distances) == 0 {
		return false
	}
	return floats.MinIdx(o.Distances) == len(o.Distances)-1
}

// Executor runs a scenario against the vehicle and mission. It is the
// expensive external call of the search.
type Executor interface {
	Run(ctx context.Context, mission *scenario.Mission, state scenario.State) (Outcome, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, mission *scenario.Mission, state scenario.State) (Outcome, error)

func (f ExecutorFunc) Run(ctx context.Context, mission *scenario.Mission, state scenario.State) (Outcome, error) {
	return f(ctx, mission, state)
}

// Proxy cheaply estimates the outcome of a partial scenario without flying it.
// Estimates never count as failures.
type Proxy interface {
	Estimate(mission *scenario.Mission, path scenario.Path, state scenario.State) Outcome
}

// TrajectoryProxy estimates the closest approach as the distance of the
// obstacles to the last known path, or the nominal path if none was flown.
type TrajectoryProxy struct{}

func (TrajectoryProxy) Estimate(mission *scenario.Mission, path scenario.Path, state scenario.State) Outcome {
	if len(path) == 0 {
		path = mission.Nominal()
	}
	outcome := Outcome{MinDistance: math.Inf(1)}
	for _, o := range state.Obstacles() {
		d := path.DistanceTo(o.Footprint())
		outcome.Distances = append(outcome.Distances, d)
		outcome.MinDistance = math.Min(outcome.MinDistance, d)
	}
	return outcome
}

// SimulationPolicy decides which nodes are evaluated with a full simulation.
type SimulationPolicy int

const (
	// SimulateTerminal runs the executor only for scenarios holding the
	// maximum number of obstacles; other nodes use the proxy.
	SimulateTerminal SimulationPolicy = iota
	// SimulateEveryNode runs the executor for every expanded node.
	SimulateEveryNode
)

func (p SimulationPolicy) String() string {
	switch p {
	case SimulateTerminal:
		return "terminal"
	case SimulateEveryNode:
		return "every-node"
	default:
		return fmt.Sprintf("SimulationPolicy(%d)", int(p))
	}
}

func ParseSimulationPolicy(s string) (SimulationPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "terminal":
		return SimulateTerminal, nil
	case "every-node", "every_node", "all":
		return SimulateEveryNode, nil
	default:
		return 0, fmt.Errorf("%w: unknown simulation policy %q", ErrConfiguration, s)
	}
}

// run calls the executor, turning errors and panics into ErrSimulation.
func run(ctx context.Context, executor Executor, mission *scenario.Mission, state scenario.State) (outcome Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: executor panicked: %v", ErrSimulation, r)
		}
	}()

	outcome, err = executor.Run(ctx, mission, state)
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: %w", ErrSimulation, err)
	}
	return outcome, nil
}
