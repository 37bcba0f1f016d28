package dynamo

import (
	"errors"
	"fmt"
)

// Domain errors for simulation and rollout construction.
var (
	// ErrInvalidState indicates a state vector with invalid dimensions or values.
	ErrInvalidState = errors.New("dynamo: invalid state (NaN or Inf detected)")

	// ErrDimensionMismatch indicates mismatched state/control dimensions.
	ErrDimensionMismatch = errors.New("dynamo: dimension mismatch between state and system")

	// ErrShapeMismatch indicates inconsistent particle, policy or dynamics shapes.
	ErrShapeMismatch = errors.New("dynamo: shape mismatch")

	// ErrNumericalDegeneracy indicates a singular or near-singular covariance.
	ErrNumericalDegeneracy = errors.New("dynamo: numerical degeneracy")

	// ErrConfiguration indicates invalid angle indices or a non-positive-definite input covariance.
	ErrConfiguration = errors.New("dynamo: invalid configuration")
)

// BuildError wraps a construction failure with the operation and horizon step
// it happened at. Step is -1 outside the rollout loop.
type BuildError struct {
	Op   string
	Step int
	Err  error
}

func (e *BuildError) Error() string {
	if e.Step >= 0 {
		return fmt.Sprintf("%s (step %d): %v", e.Op, e.Step, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *BuildError) Unwrap() error {
	return e.Err
}

// Shapef returns an ErrShapeMismatch carrying a formatted description.
func Shapef(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrShapeMismatch, fmt.Sprintf(format, args...))
}

// Degeneracyf returns an ErrNumericalDegeneracy carrying a formatted description.
func Degeneracyf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNumericalDegeneracy, fmt.Sprintf(format, args...))
}

// Configf returns an ErrConfiguration carrying a formatted description.
func Configf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}
