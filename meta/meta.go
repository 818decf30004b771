// meta/meta.go
package meta

import "math"

// BUDGET defines the number of MCTS iterations of a search.
const BUDGET = 100

// MAX_OBSTACLES defines the depth of the search tree.
const MAX_OBSTACLES = 3

// EXPLORATION_RATE defines the UCB1 exploration constant.
const EXPLORATION_RATE = 1 / math.Sqrt2

// WIDENING_C and WIDENING_ALPHA define the progressive widening limit
// ceil(C_list[depth] * C * N^alpha).
const WIDENING_C = 0.5

const WIDENING_ALPHA = 0.5

// SEED defines the default random seed.
const SEED = 1

// TESTS_FOLDER defines where generated test cases are saved.
const TESTS_FOLDER = "data/results/"

// WideningCList returns the default per-depth widening coefficients.
func WideningCList() []float64 {
	return []float64{0.4, 0.5, 0.6, 0.7}
}
