package metrics

import (
	"math"

	"github.com/san-kum/siminf/internal/epi"
)

// PeakPressure tracks the largest value of one model state variable over
// all nodes and steps.
type PeakPressure struct {
	name  string
	index int
	peak  float64
	seen  bool
}

func NewPeakPressure(index int) *PeakPressure {
	return &PeakPressure{name: "peak_pressure", index: index}
}

func (p *PeakPressure) Name() string {
	return p.name
}

func (p *PeakPressure) Observe(node epi.Node, rates []float64, recompute bool, t float64) {
	v := node.V[p.index]
	if !p.seen || v > p.peak {
		p.peak = v
		p.seen = true
	}
}

func (p *PeakPressure) Value() float64 {
	return p.peak
}

func (p *PeakPressure) Reset() {
	p.peak = 0
	p.seen = false
}

type MeanPressure struct {
	name    string
	index   int
	sum     float64
	samples int
}

func NewMeanPressure(index int) *MeanPressure {
	return &MeanPressure{name: "mean_pressure", index: index}
}

func (m *MeanPressure) Name() string {
	return m.name
}

func (m *MeanPressure) Observe(node epi.Node, rates []float64, recompute bool, t float64) {
	v := node.V[m.index]
	if math.IsNaN(v) {
		return
	}
	m.sum += v
	m.samples++
}

func (m *MeanPressure) Value() float64 {
	if m.samples == 0 {
		return 0
	}
	return m.sum / float64(m.samples)
}

func (m *MeanPressure) Reset() {
	m.sum = 0
	m.samples = 0
}
