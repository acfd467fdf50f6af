package tuning

import "errors"

var (
	// ErrConfig is returned for configuration problems detected before any
	// simulation runs.
	ErrConfig = errors.New("tuning: configuration error")
	// ErrBoundsMismatch is returned when lower and upper bound vectors have
	// different lengths.
	ErrBoundsMismatch = errors.New("tuning: bounds length mismatch")
	// ErrDimension is returned when the gain-vector length cannot be resolved.
	ErrDimension = errors.New("tuning: cannot resolve gain dimension")
	// ErrInvalidRun is returned for non-positive iteration or particle counts.
	ErrInvalidRun = errors.New("tuning: invalid run parameters")
)
