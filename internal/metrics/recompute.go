package metrics

import "github.com/san-kum/siminf/internal/epi"

// RecomputeFraction is the share of node steps whose post time step
// invalidated the state dependent rates.
type RecomputeFraction struct {
	name       string
	recomputes int
	samples    int
}

func NewRecomputeFraction() *RecomputeFraction {
	return &RecomputeFraction{name: "recompute_fraction"}
}

func (r *RecomputeFraction) Name() string {
	return r.name
}

func (r *RecomputeFraction) Observe(node epi.Node, rates []float64, recompute bool, t float64) {
	r.samples++
	if recompute {
		r.recomputes++
	}
}

func (r *RecomputeFraction) Value() float64 {
	if r.samples == 0 {
		return 0
	}
	return float64(r.recomputes) / float64(r.samples)
}

func (r *RecomputeFraction) Reset() {
	r.recomputes = 0
	r.samples = 0
}
