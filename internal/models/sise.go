package models

import "github.com/san-kum/siminf/internal/epi"

// Offsets in the compartment state vector.
const (
	S = iota
	I
)

// Offsets in the model state vector.
const (
	Phi = iota
)

// Offsets in the per-node parameter vector.
const (
	Upsilon = iota
	Gamma
	Alpha
	BetaQ1
	BetaQ2
	BetaQ3
	BetaQ4
	Epsilon
)

const (
	daysInYear    = 365
	daysInQuarter = 91
)

var (
	siseCompartments = []string{"S", "I"}
	siseState        = []string{"phi"}
	siseParams       = []string{"upsilon", "gamma", "alpha", "beta_q1", "beta_q2", "beta_q3", "beta_q4", "epsilon"}
)

// SISe is the susceptible-infected-susceptible model with an environmental
// infectious pressure phi driving transmission.
type SISe struct{}

func NewSISe() *SISe {
	return &SISe{}
}

func (m *SISe) Name() string { return "sise" }

func (m *SISe) Compartments() []string   { return siseCompartments }
func (m *SISe) StateVariables() []string { return siseState }
func (m *SISe) Parameters() []string     { return siseParams }

func (m *SISe) Transitions() []epi.Transition {
	return []epi.Transition{
		{Name: "S -> I", Rate: SToI, Shift: []int{-1, 1}, DependsOnState: true},
		{Name: "I -> S", Rate: IToS, Shift: []int{1, -1}},
	}
}

func (m *SISe) PostTimeStep(u epi.Compartments, v epi.ModelState, data epi.Params, node int, t float64, sd int) bool {
	return PostTimeStep(u, v, data, node, t, sd)
}

// Quarter is the seasonal quarter the model uses at time t.
func (m *SISe) Quarter(t float64) int { return Quarter(t) }

// SToI is the propensity of S -> I.
func SToI(u epi.Compartments, v epi.ModelState, data epi.Params, t float64, sd int) float64 {
	return data[Upsilon] * v[Phi] * float64(u[S])
}

// IToS is the propensity of I -> S.
func IToS(u epi.Compartments, v epi.ModelState, data epi.Params, t float64, sd int) float64 {
	return data[Gamma] * float64(u[I])
}

// Quarter returns the seasonal quarter used at time t. Days are truncated
// before the modulo, the year is split into three 91-day windows and
// everything after day 272 (including day 364) falls into quarter 3.
// Negative times truncate toward zero, so -90 < t <= 0 is quarter 0 and
// t <= -91 falls into quarter 3.
func Quarter(t float64) int {
	switch (int(t) % daysInYear) / daysInQuarter {
	case 0:
		return 0
	case 1:
		return 1
	case 2:
		return 2
	default:
		return 3
	}
}

// PostTimeStep decays phi with the seasonal beta and adds the force of
// infection of the current step (forward Euler). It returns true when phi
// changed, i.e. when SToI must be recomputed.
func PostTimeStep(u epi.Compartments, v epi.ModelState, data epi.Params, node int, t float64, sd int) bool {
	prev := v[Phi]
	sn := float64(u[S])
	in := float64(u[I])

	v[Phi] *= 1.0 - data[BetaQ1+Quarter(t)]

	if in+sn > 0.0 {
		v[Phi] += data[Alpha]*in/(in+sn) + data[Epsilon]
	} else {
		v[Phi] += data[Epsilon]
	}

	return prev != v[Phi]
}

// SISeParams is a named view of the SISe parameter vector.
type SISeParams struct {
	Upsilon float64
	Gamma   float64
	Alpha   float64
	Beta    [4]float64
	Epsilon float64
}

func (p SISeParams) Vector() epi.Params {
	data := make(epi.Params, len(siseParams))
	data[Upsilon] = p.Upsilon
	data[Gamma] = p.Gamma
	data[Alpha] = p.Alpha
	for q, b := range p.Beta {
		data[BetaQ1+q] = b
	}
	data[Epsilon] = p.Epsilon
	return data
}

func SISeParamsFrom(data epi.Params) SISeParams {
	return SISeParams{
		Upsilon: data[Upsilon],
		Gamma:   data[Gamma],
		Alpha:   data[Alpha],
		Beta:    [4]float64{data[BetaQ1], data[BetaQ2], data[BetaQ3], data[BetaQ4]},
		Epsilon: data[Epsilon],
	}
}
