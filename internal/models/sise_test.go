package models

import (
	"math"
	"sync"
	"testing"

	"github.com/san-kum/siminf/internal/epi"
)

func siseData(upsilon, gamma, alpha float64, beta [4]float64, epsilon float64) epi.Params {
	return SISeParams{Upsilon: upsilon, Gamma: gamma, Alpha: alpha, Beta: beta, Epsilon: epsilon}.Vector()
}

func TestSISeLayout(t *testing.T) {
	m := NewSISe()

	if len(m.Compartments()) != 2 || m.Compartments()[S] != "S" || m.Compartments()[I] != "I" {
		t.Errorf("unexpected compartments %v", m.Compartments())
	}
	if len(m.StateVariables()) != 1 || m.StateVariables()[Phi] != "phi" {
		t.Errorf("unexpected state variables %v", m.StateVariables())
	}

	want := map[string]int{
		"upsilon": Upsilon, "gamma": Gamma, "alpha": Alpha,
		"beta_q1": BetaQ1, "beta_q2": BetaQ2, "beta_q3": BetaQ3, "beta_q4": BetaQ4,
		"epsilon": Epsilon,
	}
	if len(m.Parameters()) != 8 {
		t.Fatalf("expected 8 parameters, got %d", len(m.Parameters()))
	}
	for name, idx := range want {
		if m.Parameters()[idx] != name {
			t.Errorf("parameter %d = %q, want %q", idx, m.Parameters()[idx], name)
		}
	}
}

func TestSISeTransitions(t *testing.T) {
	trs := NewSISe().Transitions()
	if len(trs) != 2 {
		t.Fatalf("expected 2 transitions, got %d", len(trs))
	}
	if !trs[0].DependsOnState {
		t.Error("S -> I reads phi and must depend on state")
	}
	if trs[1].DependsOnState {
		t.Error("I -> S does not read phi")
	}
	if trs[0].Shift[S] != -1 || trs[0].Shift[I] != 1 {
		t.Errorf("S -> I shift = %v", trs[0].Shift)
	}
	if trs[1].Shift[S] != 1 || trs[1].Shift[I] != -1 {
		t.Errorf("I -> S shift = %v", trs[1].Shift)
	}
}

func TestSToI(t *testing.T) {
	tests := []struct {
		name    string
		s       int
		phi     float64
		upsilon float64
		want    float64
	}{
		{"product", 10, 0.5, 0.2, 0.2 * 0.5 * 10},
		{"zero susceptible", 0, 0.5, 0.2, 0},
		{"zero pressure", 10, 0, 0.2, 0},
		{"zero upsilon", 10, 0.5, 0, 0},
		{"negative pressure", 10, -0.5, 0.2, 0.2 * -0.5 * 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := siseData(tt.upsilon, 0.3, 0.1, [4]float64{}, 0)
			got := SToI(epi.Compartments{tt.s, 7}, epi.ModelState{tt.phi}, data, 123.4, 5)
			if math.Abs(got-tt.want) > 1e-12 {
				t.Errorf("SToI = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIToS(t *testing.T) {
	tests := []struct {
		name  string
		i     int
		gamma float64
		want  float64
	}{
		{"product", 4, 0.25, 1.0},
		{"zero infected", 0, 0.25, 0},
		{"zero gamma", 4, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := siseData(0.1, tt.gamma, 0.1, [4]float64{}, 0)
			got := IToS(epi.Compartments{9, tt.i}, epi.ModelState{3}, data, 0, 0)
			if got != tt.want {
				t.Errorf("IToS = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestQuarter(t *testing.T) {
	tests := []struct {
		t    float64
		want int
	}{
		{0, 0},
		{90, 0},
		{90.99, 0},
		{91, 1},
		{181, 1},
		{182, 2},
		{272, 2},
		{273, 3},
		{364, 3},
		{364.9, 3},
		{365, 0},
		{365 + 91, 1},
		{2*365 + 273, 3},
		{-0.5, 0},
		{-90, 0},
		{-91, 3},
		{-200, 3},
	}

	for _, tt := range tests {
		if got := Quarter(tt.t); got != tt.want {
			t.Errorf("Quarter(%v) = %d, want %d", tt.t, got, tt.want)
		}
	}
}

func TestPostTimeStep_SeasonalDecay(t *testing.T) {
	beta := [4]float64{0.1, 0.2, 0.3, 0.4}
	data := siseData(0, 0, 0, beta, 0)

	tests := []struct {
		t       float64
		quarter int
	}{
		{0, 0}, {90, 0}, {91, 1}, {181, 1}, {182, 2}, {272, 2}, {273, 3}, {364, 3},
	}

	for _, tt := range tests {
		v := epi.ModelState{1.0}
		changed := PostTimeStep(epi.Compartments{1, 0}, v, data, 0, tt.t, 0)
		want := 1.0 * (1.0 - beta[tt.quarter])
		if v[Phi] != want {
			t.Errorf("t=%v: phi = %v, want %v", tt.t, v[Phi], want)
		}
		if !changed {
			t.Errorf("t=%v: expected recompute signal", tt.t)
		}
	}
}

func TestPostTimeStep_NegativeTime(t *testing.T) {
	beta := [4]float64{0.1, 0.2, 0.3, 0.4}
	data := siseData(0, 0, 0, beta, 0)

	tests := []struct {
		t       float64
		quarter int
	}{
		{-0.5, 0}, {-90, 0}, {-91, 3}, {-200, 3},
	}

	for _, tt := range tests {
		v := epi.ModelState{1.0}
		PostTimeStep(epi.Compartments{1, 0}, v, data, 0, tt.t, 0)
		want := 1.0 * (1.0 - beta[tt.quarter])
		if v[Phi] != want {
			t.Errorf("t=%v: phi = %v, want %v", tt.t, v[Phi], want)
		}
	}
}

func TestSISeQuarter(t *testing.T) {
	m := NewSISe()
	for _, day := range []float64{-91, 0, 100, 200, 300} {
		if got, want := m.Quarter(day), Quarter(day); got != want {
			t.Errorf("Quarter(%v) = %d, want %d", day, got, want)
		}
	}
}

func TestPostTimeStep_Scenario(t *testing.T) {
	data := siseData(0.5, 0.2, 0.4, [4]float64{0.1, 0.1, 0.1, 0.1}, 0.01)
	v := epi.ModelState{1.0}

	changed := PostTimeStep(epi.Compartments{3, 1}, v, data, 0, 10, 0)

	if math.Abs(v[Phi]-1.01) > 1e-12 {
		t.Errorf("phi = %.15f, want 1.01", v[Phi])
	}
	if !changed {
		t.Error("expected recompute signal")
	}
}

func TestPostTimeStep_EmptyNode(t *testing.T) {
	phi0, beta, epsilon := 2.0, 0.25, 0.03
	for _, alpha := range []float64{0, 0.4, 1e9, math.Inf(1)} {
		data := siseData(0.5, 0.2, alpha, [4]float64{beta, beta, beta, beta}, epsilon)
		v := epi.ModelState{phi0}

		PostTimeStep(epi.Compartments{0, 0}, v, data, 0, 0, 0)

		want := float64(phi0*(1.0-beta)) + epsilon
		if v[Phi] != want {
			t.Errorf("alpha=%v: phi = %v, want %v", alpha, v[Phi], want)
		}
	}
}

func TestPostTimeStep_NoOp(t *testing.T) {
	data := siseData(0.5, 0.2, 0, [4]float64{}, 0)
	v := epi.ModelState{0.75}

	changed := PostTimeStep(epi.Compartments{12, 0}, v, data, 0, 200, 0)

	if v[Phi] != 0.75 {
		t.Errorf("phi = %v, want 0.75", v[Phi])
	}
	if changed {
		t.Error("unexpected recompute signal")
	}
}

func TestPostTimeStep_NoClamp(t *testing.T) {
	data := siseData(0.5, 0.2, 0, [4]float64{1.5, 1.5, 1.5, 1.5}, 0)
	v := epi.ModelState{1.0}

	PostTimeStep(epi.Compartments{1, 0}, v, data, 0, 0, 0)

	if v[Phi] != -0.5 {
		t.Errorf("phi = %v, want -0.5", v[Phi])
	}
	if rate := SToI(epi.Compartments{2, 0}, v, data, 0, 0); rate >= 0 {
		t.Errorf("expected negative propensity, got %v", rate)
	}
}

func TestPostTimeStep_Deterministic(t *testing.T) {
	data := siseData(0.5, 0.2, 0.37, [4]float64{0.11, 0.07, 0.05, 0.13}, 0.002)
	u := epi.Compartments{17, 5}

	run := func() float64 {
		v := epi.ModelState{0.3}
		for day := 0; day < 730; day++ {
			PostTimeStep(u, v, data, 0, float64(day), 0)
		}
		return v[Phi]
	}

	first := run()
	for i := 0; i < 5; i++ {
		if got := run(); math.Float64bits(got) != math.Float64bits(first) {
			t.Fatalf("run %d: phi = %v, want %v", i, got, first)
		}
	}
}

func TestPostTimeStep_ConcurrentNodes(t *testing.T) {
	const nodes = 64
	data := siseData(0.5, 0.2, 0.4, [4]float64{0.1, 0.2, 0.15, 0.05}, 0.01)

	want := make([]float64, nodes)
	for n := range want {
		v := epi.ModelState{float64(n) / 10}
		u := epi.Compartments{n, nodes - n}
		for day := 0; day < 365; day++ {
			PostTimeStep(u, v, data, n, float64(day), 0)
		}
		want[n] = v[Phi]
	}

	got := make([]float64, nodes)
	var wg sync.WaitGroup
	for n := 0; n < nodes; n++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			v := epi.ModelState{float64(n) / 10}
			u := epi.Compartments{n, nodes - n}
			for day := 0; day < 365; day++ {
				PostTimeStep(u, v, data, n, float64(day), 0)
			}
			got[n] = v[Phi]
		}(n)
	}
	wg.Wait()

	for n := range want {
		if math.Float64bits(got[n]) != math.Float64bits(want[n]) {
			t.Errorf("node %d: phi = %v, want %v", n, got[n], want[n])
		}
	}
}

func TestSISeParams_RoundTrip(t *testing.T) {
	p := SISeParams{Upsilon: 1, Gamma: 2, Alpha: 3, Beta: [4]float64{4, 5, 6, 7}, Epsilon: 8}
	data := p.Vector()
	for i, want := range []float64{1, 2, 3, 4, 5, 6, 7, 8} {
		if data[i] != want {
			t.Errorf("data[%d] = %v, want %v", i, data[i], want)
		}
	}
	if SISeParamsFrom(data) != p {
		t.Error("SISeParamsFrom did not restore the named view")
	}
}

func TestSISeImplementsModel(t *testing.T) {
	var m epi.Model = NewSISe()
	node := epi.Node{U: epi.Compartments{3, 1}, V: epi.ModelState{1.0}, Data: siseData(0.5, 0.2, 0.4, [4]float64{0.1, 0.1, 0.1, 0.1}, 0.01)}
	if err := node.Validate(m); err != nil {
		t.Fatalf("validate: %v", err)
	}

	rates := epi.Propensities(m, node, 0, nil)
	if rates[0] != 1.5 || math.Abs(rates[1]-0.2) > 1e-15 {
		t.Errorf("rates = %v", rates)
	}

	if !m.PostTimeStep(node.U, node.V, node.Data, node.ID, 0, node.SubDomain) {
		t.Fatal("expected recompute signal")
	}
	epi.RecomputeStateDependent(m, node, 0, rates)
	if math.Abs(rates[0]-1.515) > 1e-12 {
		t.Errorf("S -> I after step = %v, want 1.515", rates[0])
	}
}
