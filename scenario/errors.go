package scenario

import "errors"

var (
	// ErrSamplingExhausted means no valid obstacle was found within the retry budget.
	ErrSamplingExhausted = errors.New("sampling exhausted")
	ErrInvalidObstacle   = errors.New("invalid obstacle")
	ErrTerminalState     = errors.New("scenario already holds the maximum number of obstacles")
	ErrEmptyState        = errors.New("scenario holds no obstacles")
	ErrInvalidMission    = errors.New("invalid mission")
)
