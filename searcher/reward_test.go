package searcher

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"palm/scenario"
)

func TestDistanceReward(t *testing.T) {
	reward := NewDistanceReward()
	state, err := scenario.NewState(3, scenario.NewObstacle(0, 20, 4, 4, 25, 0))
	require.NoError(t, err)

	t.Run("failure earns the failure reward", func(t *testing.T) {
		got := reward.Evaluate(Outcome{Failed: true, MinDistance: 3}, state)
		require.Equal(t, 1.0, got)
	})

	t.Run("failure beats every near miss", func(t *testing.T) {
		failure := reward.Evaluate(Outcome{Failed: true, MinDistance: 10}, state)
		for _, d := range []float64{0, 0.01, 0.5, 1, 4.99} {
			require.Greater(t, failure, reward.Evaluate(Outcome{MinDistance: d}, state),
				"Should rank a failure above a miss at %v", d)
		}
	})

	t.Run("is monotone in distance", func(t *testing.T) {
		prev := math.Inf(1)
		for d := 0.0; d <= 6; d += 0.25 {
			got := reward.Evaluate(Outcome{MinDistance: d}, state)
			require.LessOrEqual(t, got, prev, "Should not increase with distance at %v", d)
			prev = got
		}
	})

	t.Run("is bounded", func(t *testing.T) {
		for _, d := range []float64{-3, 0, 2.5, 5, 100, math.Inf(1), math.NaN()} {
			got := reward.Evaluate(Outcome{MinDistance: d}, state)
			require.GreaterOrEqual(t, got, reward.Penalty())
			require.LessOrEqual(t, got, reward.FailureReward)
		}
	})

	t.Run("computes the near miss scale", func(t *testing.T) {
		require.InDelta(t, 0.5, reward.Evaluate(Outcome{MinDistance: 0}, state), 1e-9)
		require.InDelta(t, 0.25, reward.Evaluate(Outcome{MinDistance: 2.5}, state), 1e-9)
		require.InDelta(t, 0.0, reward.Evaluate(Outcome{MinDistance: 7}, state), 1e-9)
	})

	t.Run("empty scenario earns the penalty", func(t *testing.T) {
		require.Equal(t, reward.Penalty(), reward.Evaluate(Outcome{Failed: true}, scenario.Empty(3)))
	})

	t.Run("validates its parameters", func(t *testing.T) {
		require.NoError(t, reward.Validate())

		bad := reward
		bad.MaxDistance = 0
		require.ErrorIs(t, bad.Validate(), ErrConfiguration)

		bad = reward
		bad.NearMissScale = 1
		require.ErrorIs(t, bad.Validate(), ErrConfiguration)
	})
}
