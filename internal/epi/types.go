package epi

import (
	"fmt"
	"math"
)

type Compartments []int

func (c Compartments) Clone() Compartments {
	out := make(Compartments, len(c))
	copy(out, c)
	return out
}

func (c Compartments) Total() int {
	n := 0
	for _, v := range c {
		n += v
	}
	return n
}

type ModelState []float64

func (v ModelState) Clone() ModelState {
	out := make(ModelState, len(v))
	copy(out, v)
	return out
}

func (v ModelState) IsValid() bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

type Params []float64

func (p Params) Clone() Params {
	out := make(Params, len(p))
	copy(out, p)
	return out
}

// RateFunc returns the propensity of one transition in one node. The sub
// domain sd lets a model vary rates by region; t is the current time.
type RateFunc func(u Compartments, v ModelState, data Params, t float64, sd int) float64

// PostTimeStepFunc updates the model state once per discrete step and
// reports whether rates that read the model state are now stale.
type PostTimeStepFunc func(u Compartments, v ModelState, data Params, node int, t float64, sd int) bool

type Transition struct {
	Name string
	Rate RateFunc
	// Shift is added to the compartment vector when the transition fires.
	Shift []int
	// DependsOnState marks rates that read the model state vector.
	DependsOnState bool
}

type Model interface {
	Name() string
	Compartments() []string
	StateVariables() []string
	Parameters() []string
	Transitions() []Transition
	PostTimeStep(u Compartments, v ModelState, data Params, node int, t float64, sd int) bool
}

type Node struct {
	ID        int
	SubDomain int
	U         Compartments
	V         ModelState
	Data      Params
}

func (n Node) Clone() Node {
	return Node{
		ID:        n.ID,
		SubDomain: n.SubDomain,
		U:         n.U.Clone(),
		V:         n.V.Clone(),
		Data:      n.Data.Clone(),
	}
}

// Validate checks the preconditions the model relies on: buffer lengths
// match the layout and counts are non-negative.
func (n Node) Validate(m Model) error {
	if len(n.U) != len(m.Compartments()) {
		return fmt.Errorf("node %d: compartments len %d, want %d: %w", n.ID, len(n.U), len(m.Compartments()), ErrDimensionMismatch)
	}
	if len(n.V) != len(m.StateVariables()) {
		return fmt.Errorf("node %d: model state len %d, want %d: %w", n.ID, len(n.V), len(m.StateVariables()), ErrDimensionMismatch)
	}
	if len(n.Data) != len(m.Parameters()) {
		return fmt.Errorf("node %d: params len %d, want %d: %w", n.ID, len(n.Data), len(m.Parameters()), ErrDimensionMismatch)
	}
	for i, c := range n.U {
		if c < 0 {
			return fmt.Errorf("node %d: %s = %d: %w", n.ID, m.Compartments()[i], c, ErrNegativeCount)
		}
	}
	return nil
}

// Propensities evaluates every transition of m for node at time t. dst is
// reused when it has the right length.
func Propensities(m Model, node Node, t float64, dst []float64) []float64 {
	trs := m.Transitions()
	if len(dst) != len(trs) {
		dst = make([]float64, len(trs))
	}
	for i, tr := range trs {
		dst[i] = tr.Rate(node.U, node.V, node.Data, t, node.SubDomain)
	}
	return dst
}

// RecomputeStateDependent refreshes only the rates that read the model
// state and returns how many were evaluated.
func RecomputeStateDependent(m Model, node Node, t float64, rates []float64) int {
	n := 0
	for i, tr := range m.Transitions() {
		if !tr.DependsOnState {
			continue
		}
		rates[i] = tr.Rate(node.U, node.V, node.Data, t, node.SubDomain)
		n++
	}
	return n
}

// ValidRate reports whether a propensity can be used for event selection.
func ValidRate(r float64) bool {
	return r >= 0 && !math.IsInf(r, 0)
}

// Index returns the position of name in names.
func Index(names []string, name string) (int, error) {
	for i, n := range names {
		if n == name {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%q: %w", name, ErrUnknownName)
}
