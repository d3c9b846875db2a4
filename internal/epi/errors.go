package epi

import (
	"errors"
	"fmt"
)

// Domain errors raised by hosts; the models themselves never fail.
var (
	// ErrDimensionMismatch indicates a node buffer that does not match the model layout.
	ErrDimensionMismatch = errors.New("epi: dimension mismatch between node and model")

	// ErrNegativeCount indicates a compartment with a negative count.
	ErrNegativeCount = errors.New("epi: negative compartment count")

	// ErrInvalidRate indicates a negative, infinite or NaN propensity.
	ErrInvalidRate = errors.New("epi: invalid propensity")

	// ErrUnknownName indicates a compartment, state variable or parameter the model does not define.
	ErrUnknownName = errors.New("epi: unknown name")

	// ErrMissingParameter indicates a parameter that was never assigned.
	ErrMissingParameter = errors.New("epi: missing parameter")

	// ErrUnknownModel indicates a model name absent from the registry.
	ErrUnknownModel = errors.New("epi: unknown model")
)

type SimError struct {
	Time    float64
	Step    int
	Node    int
	Wrapped error
}

func (e *SimError) Error() string {
	return fmt.Sprintf("step %d (t=%.4f) node %d: %v", e.Step, e.Time, e.Node, e.Wrapped)
}

func (e *SimError) Unwrap() error {
	return e.Wrapped
}
