package experiment

import (
	"fmt"
	"sort"

	"github.com/san-kum/siminf/internal/epi"
	"github.com/san-kum/siminf/internal/host"
	"github.com/san-kum/siminf/internal/metrics"
	"github.com/san-kum/siminf/internal/models"
)

type modelEntry struct {
	description string
	build       func() epi.Model
}

type Registry struct {
	models map[string]modelEntry
}

func NewRegistry() *Registry {
	r := &Registry{
		models: make(map[string]modelEntry),
	}

	r.Register("sise", "SIS with environmental infectious pressure and seasonal decay",
		func() epi.Model { return models.NewSISe() })

	return r
}

func (r *Registry) Register(name, description string, build func() epi.Model) {
	r.models[name] = modelEntry{description: description, build: build}
}

func (r *Registry) GetModel(name string) (epi.Model, error) {
	e, ok := r.models[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, epi.ErrUnknownModel)
	}
	return e.build(), nil
}

func (r *Registry) Describe(name string) string {
	return r.models[name].description
}

func (r *Registry) ListModels() []string {
	names := make([]string, 0, len(r.models))
	for name := range r.models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultMetrics observes the first model state variable and, when the
// model has an "I" compartment, the infected share.
func (r *Registry) DefaultMetrics(m epi.Model) []host.Metric {
	ms := []host.Metric{
		metrics.NewRecomputeFraction(),
	}
	if len(m.StateVariables()) > 0 {
		ms = append(ms, metrics.NewPeakPressure(0), metrics.NewMeanPressure(0))
	}
	if i, err := epi.Index(m.Compartments(), "I"); err == nil {
		ms = append(ms, metrics.NewMeanInfectedFraction(i))
	}
	return ms
}
