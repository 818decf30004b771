package searcher

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"palm/scenario"
)

func testState(t *testing.T, max int, xs ...float64) scenario.State {
	t.Helper()
	var obstacles []scenario.Obstacle
	for _, x := range xs {
		obstacles = append(obstacles, scenario.NewObstacle(x, 20, 2, 2, 10, 0))
	}
	s, err := scenario.NewState(max, obstacles...)
	require.NoError(t, err)
	return s
}

// newTestTree builds a root with one child per x position and the given
// visits and rewards.
func newTestTree(t *testing.T, rootVisits int, children ...[2]float64) *node {
	t.Helper()
	root := newNode(nil, scenario.Empty(2), "")
	root.visits = rootVisits
	for i, stats := range children {
		state := testState(t, 2, float64(i))
		child := root.addChild(state, state.Key())
		child.visits = int(stats[0])
		child.rewards = stats[1]
	}
	return root
}

func TestRate(t *testing.T) {
	tests := []struct {
		distance float64
		want     severity
	}{
		{0, hit},
		{0.2, hit},
		{0.25, nearMiss},
		{1, nearMiss},
		{1.2, grazing},
		{1.5, grazing},
		{2, distant},
		{math.Inf(1), distant},
		{math.NaN(), unrated},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, rate(tt.distance), "Should rate distance %v", tt.distance)
	}
}

func TestPickChild(t *testing.T) {
	t.Run("prefers unvisited children", func(t *testing.T) {
		root := newTestTree(t, 10, [2]float64{5, 5}, [2]float64{0, 0}, [2]float64{4, 4})
		rng := rand.New(rand.NewPCG(1, 1))

		for range 20 {
			require.Same(t, root.children[1], root.pickChild(1.0, rng), "Should pick the unvisited child")
		}
	})

	t.Run("exploits with zero exploration rate", func(t *testing.T) {
		root := newTestTree(t, 10, [2]float64{5, 1}, [2]float64{3, 2}, [2]float64{2, 0.5})
		rng := rand.New(rand.NewPCG(1, 1))

		require.Same(t, root.children[1], root.pickChild(0, rng), "Should pick the highest mean reward")
	})

	t.Run("breaks ties at random", func(t *testing.T) {
		root := newTestTree(t, 12, [2]float64{4, 2}, [2]float64{4, 1}, [2]float64{4, 2})
		rng := rand.New(rand.NewPCG(1, 1))

		picked := make(map[*node]int)
		for range 200 {
			picked[root.pickChild(0, rng)]++
		}
		require.Len(t, picked, 2, "Should only pick the tied children")
		require.Positive(t, picked[root.children[0]])
		require.Positive(t, picked[root.children[2]])
		require.Zero(t, picked[root.children[1]])
	})

	t.Run("explores less visited children", func(t *testing.T) {
		root := newTestTree(t, 100, [2]float64{90, 45}, [2]float64{10, 4})
		rng := rand.New(rand.NewPCG(1, 1))

		require.Same(t, root.children[1], root.pickChild(math.Sqrt2, rng))
	})

	t.Run("panics without children", func(t *testing.T) {
		root := newTestTree(t, 1)
		require.Panics(t, func() {
			root.pickChild(1, rand.New(rand.NewPCG(1, 1)))
		})
	})
}

func TestAddChild(t *testing.T) {
	t.Run("indexing children by key", func(t *testing.T) {
		root := newNode(nil, scenario.Empty(2), "")
		state := testState(t, 2, 3)
		child := root.addChild(state, "a")

		require.Same(t, root, child.parent)
		require.Same(t, child, root.index["a"])
		require.Equal(t, 1, child.depth())
		require.Zero(t, child.visits)
		require.Zero(t, child.rewards)
	})

	t.Run("refusing children of terminal nodes", func(t *testing.T) {
		leaf := newNode(nil, testState(t, 1, 3), "")
		require.True(t, leaf.isTerminal())
		require.Panics(t, func() {
			leaf.addChild(testState(t, 2, 3, 4), "b")
		})
	})
}

func TestBackup(t *testing.T) {
	root := newTestTree(t, 3, [2]float64{2, 1})
	root.own = 1
	child := root.children[0]
	child.own = 2

	state, err := child.state.WithAppendedObstacle(scenario.NewObstacle(8, 20, 2, 2, 10, 0))
	require.NoError(t, err)
	leaf := child.addChild(state, state.Key())

	backup(leaf, 0.5)

	require.Equal(t, 1, leaf.visits)
	require.Equal(t, 1, leaf.own)
	require.Equal(t, 0.5, leaf.rewards)
	require.Equal(t, 3, child.visits)
	require.Equal(t, 1.5, child.rewards)
	require.Equal(t, 4, root.visits)
	require.Equal(t, root.visits, root.own+child.visits)
}

func TestVariationSibling(t *testing.T) {
	root := newTestTree(t, 5, [2]float64{1, 0}, [2]float64{1, 0}, [2]float64{1, 0})
	rng := rand.New(rand.NewPCG(1, 1))

	require.Nil(t, root.variationSibling(rng), "Should not vary unsimulated children")

	root.children[0].observe(Outcome{MinDistance: 1.2, Distances: []float64{1.2}})
	root.children[1].observe(Outcome{MinDistance: 0.8, Distances: []float64{3, 0.8, 2}})
	root.children[2].observe(Outcome{MinDistance: 4, Distances: []float64{4}})

	for range 20 {
		require.Same(t, root.children[0], root.variationSibling(rng),
			"Should only vary a close sibling whose last obstacle is the closest")
	}
}

func TestTrajectory(t *testing.T) {
	root := newTestTree(t, 2, [2]float64{1, 0})
	child := root.children[0]
	require.Nil(t, child.trajectory(), "Should fall back to the nominal path")

	root.observe(Outcome{Trajectory: []r3.Vec{{X: 0, Y: 0, Z: 5}, {X: 0, Y: 1, Z: 5}}})
	require.Len(t, child.trajectory(), 2, "Should inherit the closest simulated ancestor's path")

	child.observe(Outcome{Trajectory: []r3.Vec{{X: 1, Y: 0}, {X: 1, Y: 1}, {X: 1, Y: 2}}})
	require.Len(t, child.trajectory(), 3)
}
