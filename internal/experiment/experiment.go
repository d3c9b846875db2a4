package experiment

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/san-kum/siminf/internal/config"
	"github.com/san-kum/siminf/internal/epi"
	"github.com/san-kum/siminf/internal/host"
	"github.com/san-kum/siminf/internal/storage"
)

// Experiment binds a configuration to the model it selects and the host
// that runs it.
type Experiment struct {
	cfg    *config.Config
	model  epi.Model
	nodes  []epi.Node
	runner *host.Runner
}

func New(cfg *config.Config, reg *Registry) (*Experiment, error) {
	m, err := reg.GetModel(cfg.Model)
	if err != nil {
		return nil, err
	}
	nodes, err := cfg.BuildNodes(m)
	if err != nil {
		return nil, fmt.Errorf("build nodes: %w", err)
	}
	return &Experiment{cfg: cfg, model: m, nodes: nodes}, nil
}

// CountSource returns the observed counts named by the config, or nil
// when the configured counts stay fixed.
func (e *Experiment) CountSource() (host.CountSource, error) {
	if e.cfg.Counts == "" {
		return nil, nil
	}
	series, err := storage.LoadCounts(e.cfg.Counts, e.model)
	if err != nil {
		return nil, fmt.Errorf("load counts: %w", err)
	}
	return series, nil
}

func (e *Experiment) Setup(counts host.CountSource, logger *slog.Logger, inst *host.Instruments, metrics []host.Metric) {
	opts := make([]host.Option, 0, 3)
	if logger != nil {
		opts = append(opts, host.WithLogger(logger))
	}
	if counts != nil {
		opts = append(opts, host.WithCounts(counts))
	}
	if inst != nil {
		opts = append(opts, host.WithInstruments(inst))
	}
	e.runner = host.New(e.model, opts...)
	for _, m := range metrics {
		e.runner.AddMetric(m)
	}
}

func (e *Experiment) Run(ctx context.Context) (*host.Result, error) {
	if e.runner == nil {
		return nil, fmt.Errorf("experiment not setup")
	}
	return e.runner.Run(ctx, e.nodes, e.cfg.HostConfig())
}

func (e *Experiment) NewSession() (*host.Session, error) {
	if e.runner == nil {
		return nil, fmt.Errorf("experiment not setup")
	}
	return e.runner.NewSession(e.nodes, e.cfg.HostConfig())
}

func (e *Experiment) Model() epi.Model       { return e.model }
func (e *Experiment) Config() *config.Config { return e.cfg }
