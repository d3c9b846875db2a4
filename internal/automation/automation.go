package automation

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/san-kum/siminf/internal/config"
	"github.com/san-kum/siminf/internal/experiment"
	"github.com/san-kum/siminf/internal/host"
	"github.com/san-kum/siminf/internal/storage"
)

// Scenario is a scripted sequence of runs.
type Scenario struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Steps       []ScenarioStep `yaml:"steps"`

	dir string
}

// ScenarioStep names a config file or a preset plus overrides. Relative
// paths resolve against the scenario file.
type ScenarioStep struct {
	Name     string             `yaml:"name"`
	Config   string             `yaml:"config,omitempty"`
	Model    string             `yaml:"model,omitempty"`
	Preset   string             `yaml:"preset,omitempty"`
	Duration float64            `yaml:"duration,omitempty"`
	Dt       float64            `yaml:"dt,omitempty"`
	Params   map[string]float64 `yaml:"params,omitempty"`
	Counts   string             `yaml:"counts,omitempty"`
}

type StepResult struct {
	Name   string
	RunID  string
	Result *host.Result
}

func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var scenario Scenario
	if err := yaml.Unmarshal(data, &scenario); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(scenario.Steps) == 0 {
		return nil, fmt.Errorf("scenario %s has no steps", path)
	}
	scenario.dir = filepath.Dir(path)

	return &scenario, nil
}

func (s *Scenario) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) || s.dir == "" {
		return p
	}
	return filepath.Join(s.dir, p)
}

// StepConfig builds the run configuration for one step.
func (s *Scenario) StepConfig(step ScenarioStep) (*config.Config, error) {
	var cfg *config.Config
	switch {
	case step.Config != "":
		c, err := config.Load(s.resolve(step.Config))
		if err != nil {
			return nil, err
		}
		cfg = c
	default:
		model := step.Model
		if model == "" {
			model = config.DefaultModel
		}
		preset := step.Preset
		if preset == "" {
			preset = "endemic"
		}
		cfg = config.GetPreset(model, preset)
		if cfg == nil {
			return nil, fmt.Errorf("unknown preset %s for model %s", preset, model)
		}
	}

	if step.Duration > 0 {
		cfg.TSpan.Duration = step.Duration
	}
	if step.Dt > 0 {
		cfg.TSpan.Dt = step.Dt
	}
	if len(step.Params) > 0 && cfg.Params == nil {
		cfg.Params = make(map[string]float64, len(step.Params))
	}
	for k, v := range step.Params {
		cfg.Params[k] = v
	}
	if step.Counts != "" {
		cfg.Counts = step.Counts
	}
	cfg.Counts = s.resolve(cfg.Counts)
	return cfg, nil
}

// RunScenario executes every step in order and saves each run when store
// is not nil. It stops at the first failing step.
func RunScenario(ctx context.Context, scenario *Scenario, registry *experiment.Registry, store *storage.Store, logger *slog.Logger) ([]StepResult, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	results := make([]StepResult, 0, len(scenario.Steps))

	for i, step := range scenario.Steps {
		name := step.Name
		if name == "" {
			name = fmt.Sprintf("step%d", i+1)
		}
		logger.Info("scenario step", "scenario", scenario.Name, "step", name, "index", i+1, "of", len(scenario.Steps))

		cfg, err := scenario.StepConfig(step)
		if err != nil {
			return results, fmt.Errorf("step %s: %w", name, err)
		}

		exp, err := experiment.New(cfg, registry)
		if err != nil {
			return results, fmt.Errorf("step %s: %w", name, err)
		}
		counts, err := exp.CountSource()
		if err != nil {
			return results, fmt.Errorf("step %s: %w", name, err)
		}
		exp.Setup(counts, logger, nil, registry.DefaultMetrics(exp.Model()))

		result, err := exp.Run(ctx)
		if err != nil {
			return results, fmt.Errorf("step %s run: %w", name, err)
		}

		sr := StepResult{Name: name, Result: result}
		if store != nil {
			runID, err := store.Save(exp.Model(), cfg.HostConfig(), result)
			if err != nil {
				return results, fmt.Errorf("step %s save: %w", name, err)
			}
			sr.RunID = runID
		}
		results = append(results, sr)
	}

	return results, nil
}
