package host

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/san-kum/siminf/internal/epi"
)

type Runner struct {
	model       epi.Model
	counts      CountSource
	logger      *slog.Logger
	instruments *Instruments
	metrics     []Metric
	observers   []Observer
}

type Option func(*Runner)

func WithCounts(src CountSource) Option {
	return func(r *Runner) { r.counts = src }
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

func WithInstruments(i *Instruments) Option {
	return func(r *Runner) { r.instruments = i }
}

func New(m epi.Model, opts ...Option) *Runner {
	r := &Runner{
		model:     m,
		counts:    FixedCounts{},
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		metrics:   make([]Metric, 0),
		observers: make([]Observer, 0),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Runner) Model() epi.Model { return r.model }

func (r *Runner) AddMetric(m Metric)     { r.metrics = append(r.metrics, m) }
func (r *Runner) AddObserver(o Observer) { r.observers = append(r.observers, o) }

// Run steps every node from cfg.Start until cfg.Duration has elapsed and
// returns the recorded traces. On cancellation the partial result is
// returned together with the context error.
func (r *Runner) Run(ctx context.Context, nodes []epi.Node, cfg Config) (*Result, error) {
	s, err := r.NewSession(nodes, cfg)
	if err != nil {
		return nil, err
	}

	steps := cfg.Steps()
	result := &Result{
		Model:   r.model.Name(),
		Times:   make([]float64, 0, steps+1),
		Traces:  make([]Trace, len(s.nodes)),
		Metrics: make(map[string]float64),
		Errors:  make([]error, 0),
	}
	for i, n := range s.nodes {
		result.Traces[i] = Trace{
			Node:      n.ID,
			Counts:    make([]epi.Compartments, 0, steps+1),
			State:     make([]epi.ModelState, 0, steps+1),
			Rates:     make([][]float64, 0, steps+1),
			Recompute: make([]bool, 0, steps+1),
		}
	}
	record(result, s)

	r.logger.Info("run started", "model", r.model.Name(), "nodes", len(nodes), "steps", steps, "dt", cfg.Dt)
	start := time.Now()

	for !s.Done() {
		if err := s.Step(ctx); err != nil {
			r.finish(result, s)
			return result, err
		}
		record(result, s)
		result.StepsTaken++
	}

	r.finish(result, s)

	r.logger.Info("run finished", "model", r.model.Name(), "steps", result.StepsTaken,
		"recomputes", result.Recomputes, "errors", len(result.Errors), "elapsed", time.Since(start))

	return result, nil
}

func (r *Runner) finish(result *Result, s *Session) {
	for _, m := range r.metrics {
		result.Metrics[m.Name()] = m.Value()
	}
	result.Recomputes = s.Recomputes()
	result.Errors = append(result.Errors, s.Errors()...)
}

func record(result *Result, s *Session) {
	result.Times = append(result.Times, s.Time())
	for i, n := range s.nodes {
		tr := &result.Traces[i]
		tr.Counts = append(tr.Counts, n.U.Clone())
		tr.State = append(tr.State, n.V.Clone())
		rates := make([]float64, len(s.rates[i]))
		copy(rates, s.rates[i])
		tr.Rates = append(tr.Rates, rates)
		tr.Recompute = append(tr.Recompute, s.flags[i])
	}
}
