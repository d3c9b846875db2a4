package host

import (
	"context"
	"fmt"
	"time"

	"github.com/san-kum/siminf/internal/epi"
)

// Session is a run in progress. It owns private copies of the node
// buffers; a Session is not safe for concurrent use.
type Session struct {
	runner     *Runner
	cfg        Config
	nodes      []epi.Node
	rates      [][]float64
	flags      []bool
	step       int
	steps      int
	recomputes int
	errs       []error
}

func (r *Runner) NewSession(nodes []epi.Node, cfg Config) (*Session, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, fmt.Errorf("no nodes to simulate")
	}

	s := &Session{
		runner: r,
		cfg:    cfg,
		nodes:  make([]epi.Node, len(nodes)),
		rates:  make([][]float64, len(nodes)),
		flags:  make([]bool, len(nodes)),
		steps:  cfg.Steps(),
		errs:   make([]error, 0),
	}
	if s.cfg.Workers < 1 {
		s.cfg.Workers = 1
	}

	for _, m := range r.metrics {
		m.Reset()
	}

	for i, n := range nodes {
		if err := n.Validate(r.model); err != nil {
			return nil, err
		}
		s.nodes[i] = n.Clone()
		r.counts.Load(n.ID, cfg.Start, s.nodes[i].U)
		s.rates[i] = epi.Propensities(r.model, s.nodes[i], cfg.Start, nil)
	}
	s.validateRates(cfg.Start)

	return s, nil
}

func (s *Session) Time() float64 {
	return s.cfg.Start + float64(s.step)*s.cfg.Dt
}

func (s *Session) StepIndex() int     { return s.step }
func (s *Session) Done() bool         { return s.step >= s.steps }
func (s *Session) Nodes() []epi.Node  { return s.nodes }
func (s *Session) Rates() [][]float64 { return s.rates }
func (s *Session) Recomputed() []bool { return s.flags }
func (s *Session) Recomputes() int    { return s.recomputes }
func (s *Session) Errors() []error    { return s.errs }
func (s *Session) Model() epi.Model   { return s.runner.model }

// Step advances every node by one discrete step: counts for the new time
// are loaded, the post time step update is applied exactly once and stale
// rates are recomputed before anyone reads them.
func (s *Session) Step(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if s.Done() {
		return nil
	}

	start := time.Now()
	s.step++
	t := s.Time()

	epi.ParallelFor(len(s.nodes), s.cfg.MinChunk, s.cfg.Workers, func(lo, hi int) {
		for i := lo; i < hi; i++ {
			s.advance(i, t)
		}
	})

	for i, n := range s.nodes {
		if s.flags[i] {
			s.recomputes++
		}
		for _, m := range s.runner.metrics {
			m.Observe(n, s.rates[i], s.flags[i], t)
		}
	}
	s.validateRates(t)
	for _, o := range s.runner.observers {
		o.OnStep(t, s.nodes, s.rates)
	}

	s.runner.instruments.stepDone(start)
	return nil
}

// advance touches only node i and its rate slot.
func (s *Session) advance(i int, t float64) {
	m := s.runner.model
	n := s.nodes[i]

	countsChanged := s.runner.counts.Load(n.ID, t, n.U)
	recompute := m.PostTimeStep(n.U, n.V, n.Data, n.ID, t, n.SubDomain)
	s.flags[i] = recompute

	evaluated := 0
	switch {
	case countsChanged:
		epi.Propensities(m, n, t, s.rates[i])
		evaluated = len(s.rates[i])
	case recompute:
		evaluated = epi.RecomputeStateDependent(m, n, t, s.rates[i])
	}

	s.runner.instruments.postTimeStep(recompute, evaluated)
}

func (s *Session) validateRates(t float64) {
	if !s.cfg.ValidateRates {
		return
	}
	trs := s.runner.model.Transitions()
	for i, n := range s.nodes {
		for j, r := range s.rates[i] {
			if epi.ValidRate(r) {
				continue
			}
			err := &epi.SimError{
				Time:    t,
				Step:    s.step,
				Node:    n.ID,
				Wrapped: fmt.Errorf("%s = %g: %w", trs[j].Name, r, epi.ErrInvalidRate),
			}
			s.errs = append(s.errs, err)
			s.runner.instruments.invalidRate()
			s.runner.logger.Warn("invalid propensity", "node", n.ID, "t", t, "transition", trs[j].Name, "rate", r)
		}
	}
}
