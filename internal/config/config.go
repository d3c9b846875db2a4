package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/san-kum/siminf/internal/epi"
	"github.com/san-kum/siminf/internal/host"
)

const (
	DefaultModel    = "sise"
	DefaultStart    = 0.0
	DefaultDuration = 365.0
	DefaultDt       = 1.0
	DefaultWorkers  = 4
)

type Config struct {
	Model   string             `yaml:"model"`
	TSpan   TSpanConfig        `yaml:"tspan"`
	Workers int                `yaml:"workers"`
	Params  map[string]float64 `yaml:"params"`
	Nodes   []NodeConfig       `yaml:"nodes"`
	// Counts is an optional CSV of observed counts replayed by the host.
	Counts string `yaml:"counts,omitempty"`
}

type TSpanConfig struct {
	Start    float64 `yaml:"start"`
	Duration float64 `yaml:"duration"`
	Dt       float64 `yaml:"dt"`
}

// NodeConfig describes one node by name: compartments in U0, model state
// variables in V0 and parameter overrides in Params.
type NodeConfig struct {
	ID        int                `yaml:"id"`
	SubDomain int                `yaml:"sub_domain"`
	U0        map[string]int     `yaml:"u0,omitempty"`
	V0        map[string]float64 `yaml:"v0,omitempty"`
	Params    map[string]float64 `yaml:"params,omitempty"`
}

func DefaultConfig() *Config {
	return &Config{
		Model: DefaultModel,
		TSpan: TSpanConfig{
			Start:    DefaultStart,
			Duration: DefaultDuration,
			Dt:       DefaultDt,
		},
		Workers: DefaultWorkers,
		Params:  map[string]float64{},
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func (c *Config) Validate() error {
	if c.TSpan.Dt <= 0 {
		return fmt.Errorf("dt must be positive, got %f", c.TSpan.Dt)
	}
	if c.TSpan.Duration <= 0 {
		return fmt.Errorf("duration must be positive, got %f", c.TSpan.Duration)
	}
	if len(c.Nodes) == 0 {
		return fmt.Errorf("no nodes configured")
	}

	seen := make(map[int]bool, len(c.Nodes))
	for _, n := range c.Nodes {
		if seen[n.ID] {
			return fmt.Errorf("duplicate node id %d", n.ID)
		}
		seen[n.ID] = true
		for name, count := range n.U0 {
			if count < 0 {
				return fmt.Errorf("node %d: %s = %d: %w", n.ID, name, count, epi.ErrNegativeCount)
			}
		}
	}
	return nil
}

// BuildNodes resolves every named value against the layout of m and
// returns the flat per-node buffers. Node parameters override the global
// ones; every parameter must end up assigned.
func (c *Config) BuildNodes(m epi.Model) ([]epi.Node, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	compartments := m.Compartments()
	state := m.StateVariables()
	params := m.Parameters()

	nodes := make([]epi.Node, 0, len(c.Nodes))
	for _, nc := range c.Nodes {
		node := epi.Node{
			ID:        nc.ID,
			SubDomain: nc.SubDomain,
			U:         make(epi.Compartments, len(compartments)),
			V:         make(epi.ModelState, len(state)),
			Data:      make(epi.Params, len(params)),
		}

		for name, count := range nc.U0 {
			i, err := epi.Index(compartments, name)
			if err != nil {
				return nil, fmt.Errorf("node %d: compartment %w", nc.ID, err)
			}
			node.U[i] = count
		}
		for name, val := range nc.V0 {
			i, err := epi.Index(state, name)
			if err != nil {
				return nil, fmt.Errorf("node %d: state variable %w", nc.ID, err)
			}
			node.V[i] = val
		}

		assigned := make([]bool, len(params))
		for _, src := range []map[string]float64{c.Params, nc.Params} {
			for name, val := range src {
				i, err := epi.Index(params, name)
				if err != nil {
					return nil, fmt.Errorf("node %d: parameter %w", nc.ID, err)
				}
				node.Data[i] = val
				assigned[i] = true
			}
		}
		for i, ok := range assigned {
			if !ok {
				return nil, fmt.Errorf("node %d: %s: %w", nc.ID, params[i], epi.ErrMissingParameter)
			}
		}

		nodes = append(nodes, node)
	}
	return nodes, nil
}

func (c *Config) HostConfig() host.Config {
	cfg := host.DefaultConfig()
	cfg.Start = c.TSpan.Start
	cfg.Duration = c.TSpan.Duration
	cfg.Dt = c.TSpan.Dt
	if c.Workers > 0 {
		cfg.Workers = c.Workers
	}
	return cfg
}

func (c *Config) Clone() *Config {
	out := *c
	out.Params = cloneParams(c.Params)
	out.Nodes = make([]NodeConfig, len(c.Nodes))
	for i, n := range c.Nodes {
		n.U0 = cloneCounts(n.U0)
		n.V0 = cloneParams(n.V0)
		n.Params = cloneParams(n.Params)
		out.Nodes[i] = n
	}
	return &out
}

func cloneParams(m map[string]float64) map[string]float64 {
	if m == nil {
		return nil
	}
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneCounts(m map[string]int) map[string]int {
	if m == nil {
		return nil
	}
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
