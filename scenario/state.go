package scenario

import (
	"fmt"
	"strings"
)

// State is an ordered sequence of obstacles, in the order they were added.
// The sequence is never modified once a State is built: every operation that
// changes the obstacles returns a new State.
type State struct {
	obstacles    []Obstacle
	maxObstacles int
}

// NewState builds a state holding the given obstacles.
func NewState(maxObstacles int, obstacles ...Obstacle) (State, error) {
	if maxObstacles < 1 {
		return State{}, fmt.Errorf("maximum obstacle count must be positive, got %d", maxObstacles)
	}
	if len(obstacles) > maxObstacles {
		return State{}, fmt.Errorf("%w: %d obstacles given, at most %d allowed", ErrTerminalState, len(obstacles), maxObstacles)
	}
	return State{
		obstacles:    append([]Obstacle(nil), obstacles...),
		maxObstacles: maxObstacles,
	}, nil
}

// Empty returns the root state with no obstacles.
func Empty(maxObstacles int) State {
	return State{maxObstacles: maxObstacles}
}

func (s State) Len() int { return len(s.obstacles) }

func (s State) MaxObstacles() int { return s.maxObstacles }

// IsTerminal reports whether the state holds the maximum number of obstacles.
func (s State) IsTerminal() bool {
	return len(s.obstacles) >= s.maxObstacles
}

// Obstacles returns a copy of the obstacle sequence.
func (s State) Obstacles() []Obstacle {
	return append([]Obstacle(nil), s.obstacles...)
}

// Last returns the most recently added obstacle.
func (s State) Last() (Obstacle, bool) {
	if len(s.obstacles) == 0 {
		return Obstacle{}, false
	}
	return s.obstacles[len(s.obstacles)-1], true
}

// WithAppendedObstacle returns a new state one obstacle deeper.
func (s State) WithAppendedObstacle(o Obstacle) (State, error) {
	if s.IsTerminal() {
		return State{}, ErrTerminalState
	}
	obstacles := make([]Obstacle, len(s.obstacles), len(s.obstacles)+1)
	copy(obstacles, s.obstacles)
	return State{obstacles: append(obstacles, o), maxObstacles: s.maxObstacles}, nil
}

// WithReplacedLastObstacle returns a new state of the same depth whose last
// obstacle is o.
func (s State) WithReplacedLastObstacle(o Obstacle) (State, error) {
	if len(s.obstacles) == 0 {
		return State{}, ErrEmptyState
	}
	obstacles := s.Obstacles()
	obstacles[len(obstacles)-1] = o
	return State{obstacles: obstacles, maxObstacles: s.maxObstacles}, nil
}

// Key identifies the state by its obstacle parameters.
func (s State) Key() string {
	keys := make([]string, len(s.obstacles))
	for i, o := range s.obstacles {
		keys[i] = o.Key()
	}
	return strings.Join(keys, ";")
}

func (s State) String() string {
	var b strings.Builder
	for _, o := range s.obstacles {
		b.WriteString(o.String())
		b.WriteByte('\n')
	}
	return b.String()
}

// coverage approximates every obstacle of the state by circles.
func (s State) coverage() []Circle {
	var circles []Circle
	for _, o := range s.obstacles {
		circles = append(circles, o.Footprint().Coverage(coverageSubdivisions)...)
	}
	return circles
}

// ClosestObstacle returns the index of the obstacle nearest to the path and
// that distance. It returns -1 for an empty state or path.
func (s State) ClosestObstacle(path Path) (int, float64) {
	best, bestDistance := -1, 0.0
	if len(path) == 0 {
		return best, bestDistance
	}
	for i, o := range s.obstacles {
		d := path.DistanceTo(o.Footprint())
		if best < 0 || d < bestDistance {
			best, bestDistance = i, d
		}
	}
	return best, bestDistance
}
