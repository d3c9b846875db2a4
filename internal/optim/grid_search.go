package optim

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/san-kum/siminf/internal/config"
	"github.com/san-kum/siminf/internal/epi"
	"github.com/san-kum/siminf/internal/experiment"
)

type Goal int

const (
	Minimize Goal = iota
	Maximize
)

// Point is one evaluated grid point. Err is set when the point could not
// be built or run; such points never win.
type Point struct {
	Params map[string]float64
	Value  float64
	Err    error
}

type Builder func(params map[string]float64) (*experiment.Experiment, error)

type GridSearch struct {
	paramNames []string
	ranges     [][]float64
	workers    int
}

func NewGridSearch(params []string, ranges [][]float64) *GridSearch {
	return &GridSearch{paramNames: params, ranges: ranges, workers: 1}
}

// SetWorkers bounds how many grid points run at once.
func (g *GridSearch) SetWorkers(n int) {
	if n < 1 {
		n = 1
	}
	g.workers = n
}

// Points enumerates the grid with the last parameter varying fastest.
func (g *GridSearch) Points() []map[string]float64 {
	points := []map[string]float64{{}}
	for d, name := range g.paramNames {
		next := make([]map[string]float64, 0, len(points)*len(g.ranges[d]))
		for _, p := range points {
			for _, v := range g.ranges[d] {
				q := make(map[string]float64, len(p)+1)
				for k, pv := range p {
					q[k] = pv
				}
				q[name] = v
				next = append(next, q)
			}
		}
		points = next
	}
	return points
}

// Evaluate runs every grid point and reads metricName from its result.
// Points keep grid order regardless of completion order.
func (g *GridSearch) Evaluate(ctx context.Context, build Builder, metricName string) ([]Point, error) {
	if len(g.paramNames) != len(g.ranges) {
		return nil, fmt.Errorf("%d parameters but %d ranges: %w", len(g.paramNames), len(g.ranges), epi.ErrDimensionMismatch)
	}

	grid := g.Points()
	points := make([]Point, len(grid))

	var eg errgroup.Group
	eg.SetLimit(g.workers)
	for i, params := range grid {
		i, params := i, params
		eg.Go(func() error {
			points[i] = evaluate(ctx, build, params, metricName)
			return nil
		})
	}
	_ = eg.Wait()

	if err := ctx.Err(); err != nil {
		return points, err
	}
	return points, nil
}

func evaluate(ctx context.Context, build Builder, params map[string]float64, metricName string) Point {
	p := Point{Params: params, Value: math.NaN()}

	exp, err := build(params)
	if err != nil {
		p.Err = err
		return p
	}
	result, err := exp.Run(ctx)
	if err != nil {
		p.Err = err
		return p
	}
	val, ok := result.Metrics[metricName]
	if !ok {
		p.Err = fmt.Errorf("metric %s: %w", metricName, epi.ErrUnknownName)
		return p
	}
	p.Value = val
	return p
}

// Search evaluates the grid and returns the best point by goal along
// with every evaluated point.
func (g *GridSearch) Search(ctx context.Context, build Builder, metricName string, goal Goal) (Point, []Point, error) {
	points, err := g.Evaluate(ctx, build, metricName)
	if err != nil {
		return Point{}, points, err
	}

	best := -1
	for i, p := range points {
		if p.Err != nil || math.IsNaN(p.Value) {
			continue
		}
		if best < 0 || better(p.Value, points[best].Value, goal) {
			best = i
		}
	}
	if best < 0 {
		if len(points) > 0 && points[0].Err != nil {
			return Point{}, points, fmt.Errorf("no grid point succeeded: %w", points[0].Err)
		}
		return Point{}, points, fmt.Errorf("no grid point succeeded")
	}
	return points[best], points, nil
}

func better(a, b float64, goal Goal) bool {
	if goal == Maximize {
		return a > b
	}
	return a < b
}

// ConfigBuilder sets the swept values as global parameters on a copy of
// base. Node level overrides of a swept parameter still win.
func ConfigBuilder(base *config.Config, reg *experiment.Registry) Builder {
	return func(params map[string]float64) (*experiment.Experiment, error) {
		cfg := base.Clone()
		if cfg.Params == nil {
			cfg.Params = make(map[string]float64, len(params))
		}
		for k, v := range params {
			cfg.Params[k] = v
		}

		exp, err := experiment.New(cfg, reg)
		if err != nil {
			return nil, err
		}
		counts, err := exp.CountSource()
		if err != nil {
			return nil, err
		}
		exp.Setup(counts, nil, nil, reg.DefaultMetrics(exp.Model()))
		return exp, nil
	}
}

// ParseRange reads "name=min:max:n" (n evenly spaced values, both ends
// included) or "name=v1,v2,...".
func ParseRange(s string) (string, []float64, error) {
	name, def, ok := strings.Cut(s, "=")
	name = strings.TrimSpace(name)
	if !ok || name == "" || def == "" {
		return "", nil, fmt.Errorf("range %q: want name=min:max:n or name=v1,v2", s)
	}

	if parts := strings.Split(def, ":"); len(parts) == 3 {
		lo, err := strconv.ParseFloat(parts[0], 64)
		if err != nil {
			return "", nil, fmt.Errorf("range %q: %w", s, err)
		}
		hi, err := strconv.ParseFloat(parts[1], 64)
		if err != nil {
			return "", nil, fmt.Errorf("range %q: %w", s, err)
		}
		n, err := strconv.Atoi(parts[2])
		if err != nil || n < 1 {
			return "", nil, fmt.Errorf("range %q: count must be a positive integer", s)
		}
		if n == 1 {
			return name, []float64{lo}, nil
		}
		vals := make([]float64, n)
		step := (hi - lo) / float64(n-1)
		for i := range vals {
			vals[i] = lo + float64(i)*step
		}
		vals[n-1] = hi
		return name, vals, nil
	}

	fields := strings.Split(def, ",")
	vals := make([]float64, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return "", nil, fmt.Errorf("range %q: %w", s, err)
		}
		vals = append(vals, v)
	}
	return name, vals, nil
}
