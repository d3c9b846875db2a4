package metrics

import "github.com/san-kum/siminf/internal/epi"

// MeanInfectedFraction averages the infected share of every non-empty
// node over all steps.
type MeanInfectedFraction struct {
	name     string
	infected int
	sum      float64
	samples  int
}

func NewMeanInfectedFraction(infected int) *MeanInfectedFraction {
	return &MeanInfectedFraction{name: "mean_infected_fraction", infected: infected}
}

func (m *MeanInfectedFraction) Name() string {
	return m.name
}

func (m *MeanInfectedFraction) Observe(node epi.Node, rates []float64, recompute bool, t float64) {
	total := node.U.Total()
	if total == 0 {
		return
	}
	m.sum += float64(node.U[m.infected]) / float64(total)
	m.samples++
}

func (m *MeanInfectedFraction) Value() float64 {
	if m.samples == 0 {
		return 0
	}
	return m.sum / float64(m.samples)
}

func (m *MeanInfectedFraction) Reset() {
	m.sum = 0
	m.samples = 0
}
