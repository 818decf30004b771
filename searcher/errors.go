package searcher

import "errors"

var (
	// ErrConfiguration is returned by NewMCTS before any iteration runs.
	ErrConfiguration = errors.New("configuration error")
	// ErrSimulation wraps failures of the external simulation; the search
	// recovers from it with a penalty reward.
	ErrSimulation = errors.New("simulation error")
)
