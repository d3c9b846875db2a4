package host

import (
	"sort"

	"github.com/san-kum/siminf/internal/epi"
)

// FixedCounts keeps the counts every node started with.
type FixedCounts struct{}

func (FixedCounts) Load(node int, t float64, u epi.Compartments) bool { return false }

type Sample struct {
	Time   float64
	Counts epi.Compartments
}

// SeriesCounts replays observed counts: at time t a node holds the counts
// of its latest sample with Time <= t. Before the first sample the node
// keeps its current counts.
type SeriesCounts struct {
	series map[int][]Sample
}

func NewSeriesCounts() *SeriesCounts {
	return &SeriesCounts{series: make(map[int][]Sample)}
}

func (s *SeriesCounts) Add(node int, t float64, counts epi.Compartments) {
	samples := s.series[node]
	i := sort.Search(len(samples), func(i int) bool { return samples[i].Time > t })
	samples = append(samples, Sample{})
	copy(samples[i+1:], samples[i:])
	samples[i] = Sample{Time: t, Counts: counts.Clone()}
	s.series[node] = samples
}

func (s *SeriesCounts) Nodes() []int {
	ids := make([]int, 0, len(s.series))
	for id := range s.series {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func (s *SeriesCounts) Samples(node int) []Sample {
	return s.series[node]
}

// Load is safe for concurrent use once all samples are added.
func (s *SeriesCounts) Load(node int, t float64, u epi.Compartments) bool {
	samples := s.series[node]
	i := sort.Search(len(samples), func(i int) bool { return samples[i].Time > t })
	if i == 0 {
		return false
	}

	changed := false
	for j, c := range samples[i-1].Counts {
		if j < len(u) && u[j] != c {
			u[j] = c
			changed = true
		}
	}
	return changed
}
