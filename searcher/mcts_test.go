package searcher

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"palm/experiments/metrics"
	"palm/scenario"
)

// The airspace only admits obstacles centred at x > 6.
const eastMission = `
name: east
start: {x: 10, y: 0, z: 0}
end: {x: 10, y: 60, z: 0}
airspace:
  min: {x: 6, y: 10, z: 0, r: 0}
  max: {x: 30, y: 40, z: 0, r: 90}
  max_size: {l: 8, w: 8, h: 20}
  keep_out: 2
`

// x = 5 splits the route: points north of y = 30 lie east of it.
const diagonalMission = `
name: diagonal
start: {x: -10, y: 0, z: 0}
end: {x: 20, y: 60, z: 0}
airspace:
  min: {x: -20, y: 10, z: 0, r: 0}
  max: {x: 30, y: 40, z: 0, r: 90}
  max_size: {l: 8, w: 8, h: 20}
  keep_out: 2
`

// The path never enters the airspace, so no obstacle can be sampled.
const unreachableMission = `
name: unreachable
start: {x: -50, y: 0, z: 0}
end: {x: -50, y: 60, z: 0}
airspace:
  min: {x: 6, y: 10, z: 0, r: 0}
  max: {x: 30, y: 40, z: 0, r: 90}
  max_size: {l: 8, w: 8, h: 20}
`

func parseMission(t *testing.T, data string) *scenario.Mission {
	t.Helper()
	m, err := scenario.ParseMission([]byte(data))
	require.NoError(t, err)
	return m
}

type mockExecutor struct {
	calls  int
	run    func(state scenario.State) (Outcome, error)
	onCall func(calls int)
}

func (e *mockExecutor) Run(ctx context.Context, mission *scenario.Mission, state scenario.State) (Outcome, error) {
	e.calls++
	if e.onCall != nil {
		e.onCall(e.calls)
	}
	return e.run(state)
}

// failsEastOf reports a failure whenever an obstacle is centred at x > limit.
func failsEastOf(limit float64) *mockExecutor {
	return &mockExecutor{run: func(state scenario.State) (Outcome, error) {
		outcome := Outcome{MinDistance: 10}
		for _, o := range state.Obstacles() {
			outcome.Distances = append(outcome.Distances, 10)
			if o.Position.X > limit {
				outcome.Failed = true
				outcome.MinDistance = 0
			}
		}
		return outcome, nil
	}}
}

type mockRecorder struct {
	tests []TestCase
	err   error
}

func (r *mockRecorder) Record(ctx context.Context, test TestCase) error {
	r.tests = append(r.tests, test)
	return r.err
}

func newTestMCTS(t *testing.T, mission *scenario.Mission, executor Executor, options ...Option) *MCTS {
	t.Helper()
	m, err := NewMCTS(mission, executor, options...)
	require.NoError(t, err)
	return m
}

// checkVisits verifies that every node's visits are its own iterations plus
// the visits of its children.
func checkVisits(t *testing.T, n *node) {
	t.Helper()
	if n.visits == 0 {
		require.Empty(t, n.children, "Should not expand an unvisited node")
	}
	sum := n.own
	for _, child := range n.children {
		require.Same(t, n, child.parent)
		require.Equal(t, n.depth()+1, child.depth())
		sum += child.visits
		checkVisits(t, child)
	}
	require.Equal(t, n.visits, sum, "Should hold N = own + sum of child visits at %q", n.key)
}

func TestNewMCTS(t *testing.T) {
	mission := parseMission(t, eastMission)
	executor := failsEastOf(5)

	tests := []struct {
		name     string
		mission  *scenario.Mission
		executor Executor
		options  []Option
	}{
		{"nil mission", nil, executor, nil},
		{"nil executor", mission, nil, nil},
		{"negative budget", mission, executor, []Option{WithBudget(-1)}},
		{"no obstacles", mission, executor, []Option{WithMaxObstacles(0)}},
		{"negative exploration rate", mission, executor, []Option{WithExplorationRate(-0.1)}},
		{"short C_list", mission, executor, []Option{WithMaxObstacles(3), WithWidening(0.5, 0.5, []float64{0.4, 0.5})}},
		{"zero C", mission, executor, []Option{WithWidening(0, 0.5, []float64{0.4, 0.5, 0.6})}},
		{"unknown simulation policy", mission, executor, []Option{WithSimulationPolicy(SimulationPolicy(7))}},
		{"nil evaluator", mission, executor, []Option{WithEvaluator(nil)}},
	}
	for _, tt := range tests {
		t.Run("rejecting "+tt.name, func(t *testing.T) {
			_, err := NewMCTS(tt.mission, tt.executor, tt.options...)
			require.ErrorIs(t, err, ErrConfiguration)
		})
	}

	t.Run("accepting the defaults", func(t *testing.T) {
		m, err := NewMCTS(mission, executor)
		require.NoError(t, err)
		require.Equal(t, 100, m.budget)
		require.Equal(t, 3, m.maxObstacles)
		require.InDelta(t, 1/math.Sqrt2, m.explorationRate, 1e-12)
	})
}

func TestSearch(t *testing.T) {
	mission := parseMission(t, eastMission)

	t.Run("finding a failure with two obstacles in ten iterations", func(t *testing.T) {
		diagonal := parseMission(t, diagonalMission)
		east := func(state scenario.State) bool {
			for _, o := range state.Obstacles() {
				if o.Position.X > 5 {
					return true
				}
			}
			return false
		}

		found, missed := 0, 0
		for seed := uint64(1); seed <= 40; seed++ {
			executor := failsEastOf(5)
			var simulated []scenario.State
			run := executor.run
			executor.run = func(state scenario.State) (Outcome, error) {
				simulated = append(simulated, state)
				return run(state)
			}
			recorder := &mockRecorder{}
			m := newTestMCTS(t, diagonal, executor,
				WithMaxObstacles(2), WithBudget(10), WithSeed(seed), WithRecorder(recorder))

			result, err := m.Search(context.Background())
			require.NoError(t, err)
			require.Equal(t, 10, result.Iterations)
			require.Equal(t, result.Failures, recorder.tests)

			for _, test := range result.Failures {
				require.True(t, east(test.Scenario), "Should only record scenarios with an obstacle at x > 5")
				require.Equal(t, 2, test.Scenario.Len())
			}
			for _, state := range simulated {
				if east(state) {
					continue
				}
				missed++
				for _, test := range result.Failures {
					require.NotEqual(t, state.Key(), test.Scenario.Key(), "Should not record %s", state)
				}
			}
			if len(result.Failures) > 0 {
				found++
				require.Equal(t, 1.0, result.BestReward)
				require.True(t, east(result.Best))
			}

			m.Walk(func(stats NodeStats) {
				require.LessOrEqual(t, stats.Depth, 2, "Should never grow past the maximum obstacles")
				if stats.Depth == 2 {
					require.Zero(t, stats.Children, "Should never expand a terminal node")
				}
			})
			checkVisits(t, m.root)
			require.Equal(t, 11, m.root.visits, "Should count the root visit and every iteration")
		}
		require.Positive(t, found, "Should find a failure within ten iterations for some seed")
		require.Positive(t, missed, "Should also simulate scenarios that stay west of x = 5")
	})

	t.Run("holding the visit identity on a larger search", func(t *testing.T) {
		m := newTestMCTS(t, mission, failsEastOf(20),
			WithMaxObstacles(3), WithBudget(200), WithSeed(3))

		result, err := m.Search(context.Background())
		require.NoError(t, err)
		checkVisits(t, m.root)

		nodes := 0
		m.Walk(func(stats NodeStats) {
			nodes++
			require.LessOrEqual(t, stats.Depth, 3)
		})
		require.Equal(t, result.Nodes, nodes)
		require.LessOrEqual(t, m.root.visits, result.Iterations+1)
		require.Greater(t, result.Simulations, 0)
	})

	t.Run("running no simulations without budget", func(t *testing.T) {
		executor := failsEastOf(5)
		m := newTestMCTS(t, mission, executor, WithBudget(0))

		result, err := m.Search(context.Background())
		require.NoError(t, err)
		require.Zero(t, executor.calls)
		require.Zero(t, result.Iterations)
		require.Empty(t, result.Failures)
		require.Equal(t, 1, result.Nodes)
		require.Zero(t, result.BestReward)
	})

	t.Run("being deterministic for a fixed seed", func(t *testing.T) {
		keys := func() ([]string, []string) {
			m := newTestMCTS(t, mission, failsEastOf(15),
				WithMaxObstacles(2), WithBudget(40), WithSeed(11))
			result, err := m.Search(context.Background())
			require.NoError(t, err)

			var tree, failures []string
			m.Walk(func(stats NodeStats) {
				tree = append(tree, stats.State.Key())
			})
			for _, test := range result.Failures {
				failures = append(failures, test.Scenario.Key())
			}
			return tree, failures
		}

		tree1, failures1 := keys()
		tree2, failures2 := keys()
		require.Equal(t, tree1, tree2, "Should build the same tree")
		require.Equal(t, failures1, failures2, "Should find the same failures")
	})

	t.Run("recording each failing node once", func(t *testing.T) {
		m := newTestMCTS(t, mission, failsEastOf(5),
			WithMaxObstacles(1), WithBudget(30), WithSeed(5))

		result, err := m.Search(context.Background())
		require.NoError(t, err)

		seen := make(map[string]bool)
		for _, test := range result.Failures {
			key := test.Scenario.Key()
			require.False(t, seen[key], "Should not record %s twice", key)
			seen[key] = true
		}
		require.Equal(t, result.Nodes-1, len(result.Failures), "Should record every failing terminal node")
	})

	t.Run("simulating only terminal nodes by default", func(t *testing.T) {
		executor := failsEastOf(100)
		var depths []int
		executor.run = func(state scenario.State) (Outcome, error) {
			depths = append(depths, state.Len())
			return Outcome{MinDistance: 10}, nil
		}
		m := newTestMCTS(t, mission, executor, WithMaxObstacles(2), WithBudget(20), WithSeed(1))

		result, err := m.Search(context.Background())
		require.NoError(t, err)
		require.NotEmpty(t, depths)
		for _, depth := range depths {
			require.Equal(t, 2, depth)
		}
		require.Equal(t, len(depths), result.Simulations)
		require.Equal(t, result.Iterations+1, result.Simulations+result.ProxyEvaluations)
	})

	t.Run("simulating every node when asked", func(t *testing.T) {
		executor := failsEastOf(100)
		var depths []int
		executor.run = func(state scenario.State) (Outcome, error) {
			depths = append(depths, state.Len())
			return Outcome{MinDistance: 10}, nil
		}
		m := newTestMCTS(t, mission, executor, WithMaxObstacles(2), WithBudget(20), WithSeed(1),
			WithSimulationPolicy(SimulateEveryNode))

		result, err := m.Search(context.Background())
		require.NoError(t, err)
		require.Contains(t, depths, 1)
		require.Equal(t, 1, result.ProxyEvaluations, "Should only estimate the root")
	})

	t.Run("assigning the penalty on executor errors", func(t *testing.T) {
		executor := &mockExecutor{run: func(state scenario.State) (Outcome, error) {
			return Outcome{Failed: true}, errors.New("simulator crashed")
		}}
		recorder := &mockRecorder{}
		m := newTestMCTS(t, mission, executor, WithMaxObstacles(1), WithBudget(5), WithRecorder(recorder))

		result, err := m.Search(context.Background())
		require.NoError(t, err)
		require.Equal(t, 5, result.Iterations)
		require.Equal(t, 5, result.SimulationErrors)
		require.Empty(t, result.Failures)
		require.Empty(t, recorder.tests)
		m.Walk(func(stats NodeStats) {
			require.Zero(t, stats.MeanReward)
		})
	})

	t.Run("recovering from executor panics", func(t *testing.T) {
		executor := &mockExecutor{run: func(state scenario.State) (Outcome, error) {
			panic("segfault in simulator")
		}}
		m := newTestMCTS(t, mission, executor, WithMaxObstacles(1), WithBudget(3))

		var result Result
		var err error
		require.NotPanics(t, func() {
			result, err = m.Search(context.Background())
		})
		require.NoError(t, err)
		require.Equal(t, 3, result.SimulationErrors)
	})

	t.Run("continuing when the recorder fails", func(t *testing.T) {
		recorder := &mockRecorder{err: errors.New("disk full")}
		m := newTestMCTS(t, mission, failsEastOf(5), WithMaxObstacles(1), WithBudget(5), WithRecorder(recorder))

		result, err := m.Search(context.Background())
		require.NoError(t, err)
		require.Equal(t, 5, result.Iterations)
		require.NotEmpty(t, recorder.tests)
	})

	t.Run("skipping statistics when nothing can be sampled", func(t *testing.T) {
		executor := failsEastOf(5)
		m := newTestMCTS(t, parseMission(t, unreachableMission), executor, WithBudget(4))

		result, err := m.Search(context.Background())
		require.NoError(t, err)
		require.Equal(t, 4, result.Iterations)
		require.Equal(t, 4, result.SamplingFailures)
		require.Equal(t, 1, result.Nodes)
		require.Equal(t, 1, m.root.visits)
		require.Zero(t, executor.calls)
	})

	t.Run("stopping when the context is cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		executor := failsEastOf(5)
		executor.onCall = func(calls int) {
			if calls == 2 {
				cancel()
			}
		}
		m := newTestMCTS(t, mission, executor, WithMaxObstacles(1), WithBudget(50))

		result, err := m.Search(ctx)
		require.ErrorIs(t, err, context.Canceled)
		require.True(t, result.Interrupted)
		require.Equal(t, 2, executor.calls, "Should finish the running iteration and stop")
		require.Equal(t, 2, result.Iterations)
		checkVisits(t, m.root)
	})

	t.Run("collecting metrics", func(t *testing.T) {
		collector := metrics.NewCollector()
		m := newTestMCTS(t, mission, failsEastOf(5), WithMaxObstacles(2), WithBudget(10), WithMetrics(collector))

		result, err := m.Search(context.Background())
		require.NoError(t, err)
		require.Equal(t, 10, result.Metric.Iterations)
		require.Equal(t, 10, result.Metric.Budget)
		require.Equal(t, result.Simulations, result.Metric.Simulations)
		require.Equal(t, result.Nodes, result.Metric.Nodes)
		require.Equal(t, len(result.Failures), result.Metric.Failures)
		require.Equal(t, result.BestReward, result.Metric.BestReward)
	})

	t.Run("resetting the tree on every search", func(t *testing.T) {
		m := newTestMCTS(t, mission, failsEastOf(5), WithMaxObstacles(2), WithBudget(5))

		_, err := m.Search(context.Background())
		require.NoError(t, err)
		result, err := m.Search(context.Background())
		require.NoError(t, err)
		require.Equal(t, 6, m.root.visits)
		require.Equal(t, 5, result.Iterations)
	})
}
