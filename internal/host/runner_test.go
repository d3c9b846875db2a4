package host_test

import (
	"context"
	"errors"
	"math"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/san-kum/siminf/internal/epi"
	"github.com/san-kum/siminf/internal/host"
	"github.com/san-kum/siminf/internal/models"
)

func sisNode(id, s, i int, phi float64, p models.SISeParams) epi.Node {
	return epi.Node{ID: id, U: epi.Compartments{s, i}, V: epi.ModelState{phi}, Data: p.Vector()}
}

var scenario = models.SISeParams{
	Upsilon: 0.5,
	Gamma:   0.2,
	Alpha:   0.4,
	Beta:    [4]float64{0.1, 0.1, 0.1, 0.1},
	Epsilon: 0.01,
}

type countingMetric struct{ observed, recomputed int }

func (c *countingMetric) Name() string { return "counting" }
func (c *countingMetric) Observe(node epi.Node, rates []float64, recompute bool, t float64) {
	c.observed++
	if recompute {
		c.recomputed++
	}
}
func (c *countingMetric) Value() float64 { return float64(c.observed) }
func (c *countingMetric) Reset()         { c.observed, c.recomputed = 0, 0 }

type stepTimes struct{ times []float64 }

func (s *stepTimes) OnStep(t float64, nodes []epi.Node, rates [][]float64) {
	s.times = append(s.times, t)
}

type cancelAt struct {
	at     float64
	cancel context.CancelFunc
}

func (c *cancelAt) OnStep(t float64, nodes []epi.Node, rates [][]float64) {
	if t >= c.at {
		c.cancel()
	}
}

func shortRun() host.Config {
	cfg := host.DefaultConfig()
	cfg.Duration = 3
	cfg.Dt = 1
	return cfg
}

var _ = Describe("Runner", func() {
	var (
		reg  *prometheus.Registry
		inst *host.Instruments
		ctx  context.Context
	)

	BeforeEach(func() {
		reg = prometheus.NewRegistry()
		inst = host.NewInstruments(reg)
		ctx = context.Background()
	})

	Describe("a single SISe node with fixed counts", func() {
		It("applies the post time step once per step and refreshes S -> I", func() {
			r := host.New(models.NewSISe(), host.WithInstruments(inst))
			res, err := r.Run(ctx, []epi.Node{sisNode(1, 3, 1, 1.0, scenario)}, shortRun())
			Expect(err).NotTo(HaveOccurred())

			Expect(res.Model).To(Equal("sise"))
			Expect(res.Times).To(Equal([]float64{0, 1, 2, 3}))
			Expect(res.StepsTaken).To(Equal(3))
			Expect(res.Recomputes).To(Equal(3))
			Expect(res.Errors).To(BeEmpty())

			tr := res.Traces[0]
			Expect(tr.Node).To(Equal(1))
			want := []float64{1.0, 1.01, 1.019, 1.0271}
			for k, phi := range want {
				Expect(tr.State[k][models.Phi]).To(BeNumerically("~", phi, 1e-12))
				Expect(tr.Rates[k][0]).To(BeNumerically("~", 0.5*phi*3, 1e-12))
				Expect(tr.Rates[k][1]).To(BeNumerically("~", 0.2, 1e-15))
				Expect(tr.Counts[k]).To(Equal(epi.Compartments{3, 1}))
			}
			Expect(tr.Recompute).To(Equal([]bool{false, true, true, true}))

			Expect(testutil.ToFloat64(inst.PostTimeSteps.WithLabelValues("true"))).To(Equal(3.0))
			Expect(testutil.ToFloat64(inst.RateEvaluations)).To(Equal(3.0))
		})

		It("does not touch the caller's buffers", func() {
			node := sisNode(1, 3, 1, 1.0, scenario)
			_, err := host.New(models.NewSISe()).Run(ctx, []epi.Node{node}, shortRun())
			Expect(err).NotTo(HaveOccurred())
			Expect(node.V[models.Phi]).To(Equal(1.0))
		})
	})

	Describe("a node whose pressure never changes", func() {
		It("never signals a recompute", func() {
			still := models.SISeParams{Upsilon: 0.5, Gamma: 0.2}
			r := host.New(models.NewSISe(), host.WithInstruments(inst))
			res, err := r.Run(ctx, []epi.Node{sisNode(1, 12, 0, 0.75, still)}, shortRun())
			Expect(err).NotTo(HaveOccurred())

			Expect(res.Recomputes).To(BeZero())
			Expect(res.Traces[0].State[3][models.Phi]).To(Equal(0.75))
			Expect(testutil.ToFloat64(inst.PostTimeSteps.WithLabelValues("false"))).To(Equal(3.0))
			Expect(testutil.ToFloat64(inst.RateEvaluations)).To(BeZero())
		})
	})

	Describe("replayed counts", func() {
		It("loads the counts before the post time step and re-evaluates every rate", func() {
			series := host.NewSeriesCounts()
			series.Add(1, 0, epi.Compartments{3, 1})
			series.Add(1, 2, epi.Compartments{0, 4})

			r := host.New(models.NewSISe(), host.WithCounts(series), host.WithInstruments(inst))
			res, err := r.Run(ctx, []epi.Node{sisNode(1, 99, 99, 1.0, scenario)}, shortRun())
			Expect(err).NotTo(HaveOccurred())

			tr := res.Traces[0]
			Expect(tr.Counts[0]).To(Equal(epi.Compartments{3, 1}))
			Expect(tr.Counts[1]).To(Equal(epi.Compartments{3, 1}))
			Expect(tr.Counts[2]).To(Equal(epi.Compartments{0, 4}))
			Expect(tr.Rates[2][1]).To(BeNumerically("~", 0.8, 1e-12))
			Expect(tr.Rates[2][0]).To(BeZero())

			phi1 := tr.State[1][models.Phi]
			Expect(tr.State[2][models.Phi]).To(BeNumerically("~", phi1*0.9+0.4+0.01, 1e-12))
		})
	})

	Describe("parallel evaluation", func() {
		It("matches a sequential run bit for bit", func() {
			nodes := make([]epi.Node, 200)
			for i := range nodes {
				p := scenario
				p.Alpha = float64(i%7) / 10
				nodes[i] = sisNode(i, i%13, i%5, float64(i)/100, p)
			}

			cfg := host.DefaultConfig()
			cfg.Duration = 400
			cfg.Workers = 1
			seq, err := host.New(models.NewSISe()).Run(ctx, nodes, cfg)
			Expect(err).NotTo(HaveOccurred())

			cfg.Workers = 8
			cfg.MinChunk = 1
			par, err := host.New(models.NewSISe()).Run(ctx, nodes, cfg)
			Expect(err).NotTo(HaveOccurred())

			for i := range nodes {
				a := seq.Traces[i].State[400][models.Phi]
				b := par.Traces[i].State[400][models.Phi]
				Expect(math.Float64bits(b)).To(Equal(math.Float64bits(a)))
			}
			Expect(par.Recomputes).To(Equal(seq.Recomputes))
		})
	})

	Describe("metrics and observers", func() {
		It("feeds every node on every step", func() {
			m := &countingMetric{}
			obs := &stepTimes{}
			r := host.New(models.NewSISe())
			r.AddMetric(m)
			r.AddObserver(obs)

			nodes := []epi.Node{sisNode(1, 3, 1, 1, scenario), sisNode(2, 0, 0, 0, scenario)}
			res, err := r.Run(ctx, nodes, shortRun())
			Expect(err).NotTo(HaveOccurred())

			Expect(res.Metrics).To(HaveKeyWithValue("counting", 6.0))
			Expect(m.recomputed).To(Equal(6))
			Expect(obs.times).To(Equal([]float64{1, 2, 3}))
		})
	})

	Describe("invalid propensities", func() {
		It("records them without stopping the run", func() {
			runaway := scenario
			runaway.Beta = [4]float64{1.5, 1.5, 1.5, 1.5}
			runaway.Alpha = 0
			runaway.Epsilon = 0

			r := host.New(models.NewSISe(), host.WithInstruments(inst))
			res, err := r.Run(ctx, []epi.Node{sisNode(4, 2, 0, 1.0, runaway)}, shortRun())
			Expect(err).NotTo(HaveOccurred())

			Expect(res.StepsTaken).To(Equal(3))
			Expect(res.Errors).NotTo(BeEmpty())
			var simErr *epi.SimError
			Expect(errors.As(res.Errors[0], &simErr)).To(BeTrue())
			Expect(simErr.Node).To(Equal(4))
			Expect(errors.Is(res.Errors[0], epi.ErrInvalidRate)).To(BeTrue())
			Expect(testutil.ToFloat64(inst.InvalidRates)).To(Equal(float64(len(res.Errors))))
		})
	})

	Describe("cancellation", func() {
		It("returns the partial result and the context error", func() {
			cctx, cancel := context.WithCancel(ctx)
			cancel()

			res, err := host.New(models.NewSISe()).Run(cctx, []epi.Node{sisNode(1, 3, 1, 1, scenario)}, shortRun())
			Expect(err).To(MatchError(context.Canceled))
			Expect(res.Times).To(Equal([]float64{0}))
		})

		It("keeps metrics and recomputes gathered before the cancel", func() {
			cctx, cancel := context.WithCancel(ctx)
			defer cancel()

			m := &countingMetric{}
			r := host.New(models.NewSISe())
			r.AddMetric(m)
			r.AddObserver(&cancelAt{at: 2, cancel: cancel})

			res, err := r.Run(cctx, []epi.Node{sisNode(1, 3, 1, 1, scenario)}, shortRun())
			Expect(err).To(MatchError(context.Canceled))
			Expect(res.StepsTaken).To(Equal(2))
			Expect(res.Times).To(Equal([]float64{0, 1, 2}))
			Expect(res.Recomputes).To(Equal(2))
			Expect(res.Metrics).To(HaveKeyWithValue("counting", 2.0))
		})
	})

	Describe("preconditions", func() {
		It("rejects a bad configuration", func() {
			cfg := shortRun()
			cfg.Dt = 0
			_, err := host.New(models.NewSISe()).Run(ctx, []epi.Node{sisNode(1, 3, 1, 1, scenario)}, cfg)
			Expect(err).To(HaveOccurred())
		})

		It("rejects an empty node list", func() {
			_, err := host.New(models.NewSISe()).Run(ctx, nil, shortRun())
			Expect(err).To(HaveOccurred())
		})

		It("rejects nodes that do not match the layout", func() {
			bad := epi.Node{ID: 1, U: epi.Compartments{1, 2, 3}, V: epi.ModelState{0}, Data: scenario.Vector()}
			_, err := host.New(models.NewSISe()).Run(ctx, []epi.Node{bad}, shortRun())
			Expect(err).To(MatchError(epi.ErrDimensionMismatch))
		})

		It("rejects negative counts", func() {
			_, err := host.New(models.NewSISe()).Run(ctx, []epi.Node{sisNode(1, -1, 1, 1, scenario)}, shortRun())
			Expect(err).To(MatchError(epi.ErrNegativeCount))
		})
	})
})

var _ = Describe("Session", func() {
	It("can be stepped manually until done", func() {
		s, err := host.New(models.NewSISe()).NewSession([]epi.Node{sisNode(1, 3, 1, 1, scenario)}, shortRun())
		Expect(err).NotTo(HaveOccurred())

		steps := 0
		for !s.Done() {
			Expect(s.Step(context.Background())).To(Succeed())
			steps++
		}
		Expect(steps).To(Equal(3))
		Expect(s.Time()).To(Equal(3.0))
		Expect(s.Nodes()[0].V[models.Phi]).To(BeNumerically("~", 1.0271, 1e-12))
		Expect(s.Step(context.Background())).To(Succeed())
		Expect(s.StepIndex()).To(Equal(3))
	})
})

var _ = Describe("SeriesCounts", func() {
	It("keeps current counts before the first sample", func() {
		series := host.NewSeriesCounts()
		series.Add(1, 5, epi.Compartments{1, 1})
		u := epi.Compartments{7, 7}
		Expect(series.Load(1, 4.9, u)).To(BeFalse())
		Expect(u).To(Equal(epi.Compartments{7, 7}))
	})

	It("holds the latest sample and reports changes only once", func() {
		series := host.NewSeriesCounts()
		series.Add(1, 10, epi.Compartments{2, 2})
		series.Add(1, 0, epi.Compartments{5, 0})
		u := epi.Compartments{0, 0}

		Expect(series.Load(1, 3, u)).To(BeTrue())
		Expect(u).To(Equal(epi.Compartments{5, 0}))
		Expect(series.Load(1, 9, u)).To(BeFalse())
		Expect(series.Load(1, 10, u)).To(BeTrue())
		Expect(u).To(Equal(epi.Compartments{2, 2}))
		Expect(series.Nodes()).To(Equal([]int{1}))
		Expect(series.Samples(1)).To(HaveLen(2))
	})

	It("ignores nodes without samples", func() {
		u := epi.Compartments{3, 3}
		Expect(host.NewSeriesCounts().Load(9, 1, u)).To(BeFalse())
	})
})
