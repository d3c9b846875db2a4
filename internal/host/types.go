package host

import (
	"fmt"
	"runtime"

	"github.com/san-kum/siminf/internal/epi"
)

type Config struct {
	Start    float64
	Duration float64
	Dt       float64
	// Workers bounds the goroutines evaluating nodes within a step.
	Workers  int
	MinChunk int
	// ValidateRates records an error for every negative or NaN propensity.
	ValidateRates bool
}

func DefaultConfig() Config {
	return Config{
		Start:         0,
		Duration:      365,
		Dt:            1,
		Workers:       runtime.NumCPU(),
		MinChunk:      64,
		ValidateRates: true,
	}
}

func (c Config) Steps() int {
	return int(c.Duration / c.Dt)
}

func (c Config) validate() error {
	if c.Dt <= 0 {
		return fmt.Errorf("dt must be positive, got %f", c.Dt)
	}
	if c.Duration <= 0 {
		return fmt.Errorf("duration must be positive, got %f", c.Duration)
	}
	return nil
}

// CountSource supplies the compartment counts a node holds after the
// reactions of a step have been applied.
type CountSource interface {
	// Load writes the counts of node at time t into u and reports whether
	// any count changed.
	Load(node int, t float64, u epi.Compartments) bool
}

type Metric interface {
	Name() string
	Observe(node epi.Node, rates []float64, recompute bool, t float64)
	Value() float64
	Reset()
}

type Observer interface {
	OnStep(t float64, nodes []epi.Node, rates [][]float64)
}

// Trace holds the recorded history of one node, one sample per step plus
// the initial state.
type Trace struct {
	Node      int
	Counts    []epi.Compartments
	State     []epi.ModelState
	Rates     [][]float64
	Recompute []bool
}

type Result struct {
	Model      string
	Times      []float64
	Traces     []Trace
	Metrics    map[string]float64
	StepsTaken int
	Recomputes int
	Errors     []error
}
