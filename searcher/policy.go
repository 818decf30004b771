package searcher

import (
	"fmt"
	"math"
)

// uct scores children of a node with N visits using UCB1.
type uct struct {
	rate float64
	logN float64
}

func newUCT(rate float64, N int) *uct {
	if N == 0 {
		panic("N cannot be 0")
	}
	return &uct{rate: rate, logN: math.Log(float64(N))}
}

func (u uct) evaluate(w float64, n int) float64 {
	// Unvisited children must be simulated before they can be compared
	if n == 0 {
		return math.Inf(1)
	}
	// UCB1 = w/n + c*sqrt(ln(N)/n)
	return w/float64(n) + u.rate*math.Sqrt(u.logN/float64(n))
}

// Widening is the progressive widening policy: a node at depth d with N visits
// may hold at most ceil(CList[d] * C * N^Alpha) children, and always at least one.
type Widening struct {
	C     float64
	Alpha float64
	CList []float64
}

// Validate checks the hyperparameters for trees of up to maxObstacles levels.
func (w Widening) Validate(maxObstacles int) error {
	if w.C <= 0 || math.IsNaN(w.C) || math.IsInf(w.C, 0) {
		return fmt.Errorf("%w: C must be positive, got %v", ErrConfiguration, w.C)
	}
	if w.Alpha < 0 || math.IsNaN(w.Alpha) || math.IsInf(w.Alpha, 0) {
		return fmt.Errorf("%w: alpha must be non-negative, got %v", ErrConfiguration, w.Alpha)
	}
	if len(w.CList) < maxObstacles {
		return fmt.Errorf("%w: C_list has %d entries, %d tree levels need one each",
			ErrConfiguration, len(w.CList), maxObstacles)
	}
	for i, c := range w.CList {
		if c <= 0 || math.IsNaN(c) || math.IsInf(c, 0) {
			return fmt.Errorf("%w: C_list[%d] must be positive, got %v", ErrConfiguration, i, c)
		}
	}
	return nil
}

// MaxChildren returns how many children a node at depth with the given visit
// count is currently allowed to hold.
func (w Widening) MaxChildren(depth, visits int) (int, error) {
	if depth < 0 || depth >= len(w.CList) {
		return 0, fmt.Errorf("%w: no C_list entry for depth %d", ErrConfiguration, depth)
	}
	return w.limit(depth, visits), nil
}

// limit assumes depth has been checked against CList.
func (w Widening) limit(depth, visits int) int {
	k := math.Ceil(w.CList[depth] * w.C * math.Pow(float64(visits), w.Alpha))
	return max(int(k), 1)
}
