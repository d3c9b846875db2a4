package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/guptarohit/asciigraph"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/san-kum/siminf/internal/analysis"
	"github.com/san-kum/siminf/internal/automation"
	"github.com/san-kum/siminf/internal/config"
	"github.com/san-kum/siminf/internal/epi"
	"github.com/san-kum/siminf/internal/experiment"
	"github.com/san-kum/siminf/internal/host"
	"github.com/san-kum/siminf/internal/optim"
	"github.com/san-kum/siminf/internal/storage"
	"github.com/san-kum/siminf/internal/viz"
)

var (
	dataDir   string
	verbose   bool
	modelName string
	preset    string
	duration  float64
	dt        float64
	workers   int
	plotNode  int
	plotCol   string
	interval  time.Duration
	listen    string
	ranges    []string
	metric    string
	maximize  bool
	noSave    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "siminf",
		Short:        "SISe environmental pressure replay and inspection",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&dataDir, "data", ".siminf", "data directory")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().StringVar(&modelName, "model", config.DefaultModel, "model name")

	registry := experiment.NewRegistry()
	layout, err := registry.GetModel(config.DefaultModel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	runCmd := &cobra.Command{
		Use:   "run [config]",
		Short: "run a configuration or preset and save the trace",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runSimulation,
	}
	addRunFlags(runCmd)

	watchCmd := &cobra.Command{
		Use:   "watch [config]",
		Short: "step a configuration live in the terminal",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runWatch,
	}
	addRunFlags(watchCmd)
	watchCmd.Flags().DurationVar(&interval, "interval", 50*time.Millisecond, "time between steps")
	watchCmd.Flags().StringVar(&listen, "listen", "", "serve prometheus metrics on this address")

	ratesCmd := &cobra.Command{
		Use:   "rates",
		Short: "evaluate every transition rate for one node",
	}
	ratesFlags := addNodeFlags(ratesCmd, layout)
	ratesCmd.RunE = func(cmd *cobra.Command, args []string) error {
		if err := ratesFlags.resolve(registry, modelName); err != nil {
			return err
		}
		return printRates(ratesFlags)
	}

	stepCmd := &cobra.Command{
		Use:   "step",
		Short: "apply one post time step to one node",
	}
	stepFlags := addNodeFlags(stepCmd, layout)
	stepCmd.RunE = func(cmd *cobra.Command, args []string) error {
		if err := stepFlags.resolve(registry, modelName); err != nil {
			return err
		}
		return applyStep(stepFlags)
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list runs",
		RunE:  listRuns,
	}

	plotCmd := &cobra.Command{
		Use:   "plot [run_id]",
		Short: "plot one column of a run for one node",
		Args:  cobra.ExactArgs(1),
		RunE:  plotRun,
	}
	plotCmd.Flags().IntVar(&plotNode, "node", -1, "node id (default first node)")
	plotCmd.Flags().StringVar(&plotCol, "column", "", "column to plot (default first state variable)")

	analyzeCmd := &cobra.Command{
		Use:   "analyze [run_id]",
		Short: "spectrum and dominant period of one column",
		Args:  cobra.ExactArgs(1),
		RunE:  analyzeRun,
	}
	analyzeCmd.Flags().IntVar(&plotNode, "node", -1, "node id (default first node)")
	analyzeCmd.Flags().StringVar(&plotCol, "column", "", "column to analyze (default first state variable)")

	exportJSONCmd := &cobra.Command{
		Use:   "export-json [run_id]",
		Short: "export run data to JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return storage.New(dataDir).ExportJSON(os.Stdout, args[0])
		},
	}

	presetsCmd := &cobra.Command{
		Use:   "presets [model]",
		Short: "list available presets for a model",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			model := modelName
			if len(args) > 0 {
				model = args[0]
			}
			presets := config.ListPresets(model)
			if len(presets) == 0 {
				fmt.Printf("no presets for model: %s\n", model)
				return nil
			}
			fmt.Printf("presets for %s:\n", model)
			for _, p := range presets {
				fmt.Printf("  %s\n", p)
			}
			return nil
		},
	}

	modelsCmd := &cobra.Command{
		Use:   "models",
		Short: "list registered models",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := experiment.NewRegistry()
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tDESCRIPTION")
			for _, name := range reg.ListModels() {
				fmt.Fprintf(w, "%s\t%s\n", name, reg.Describe(name))
			}
			return w.Flush()
		},
	}

	sweepCmd := &cobra.Command{
		Use:   "sweep [config]",
		Short: "grid search global parameters against a run metric",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runSweep,
	}
	addRunFlags(sweepCmd)
	sweepCmd.Flags().StringArrayVar(&ranges, "param", nil, "name=min:max:n or name=v1,v2 (repeatable)")
	sweepCmd.Flags().StringVar(&metric, "metric", "peak_pressure", "metric to optimize")
	sweepCmd.Flags().BoolVar(&maximize, "maximize", false, "maximize instead of minimize")
	_ = sweepCmd.MarkFlagRequired("param")

	scenarioCmd := &cobra.Command{
		Use:   "scenario [file]",
		Short: "run every step of a scenario file",
		Args:  cobra.ExactArgs(1),
		RunE:  runScenario,
	}
	scenarioCmd.Flags().BoolVar(&noSave, "no-save", false, "do not store the runs")

	rootCmd.AddCommand(runCmd, watchCmd, ratesCmd, stepCmd, listCmd, plotCmd, analyzeCmd, exportJSONCmd, presetsCmd, modelsCmd, sweepCmd, scenarioCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&preset, "preset", "", "use preset configuration")
	cmd.Flags().Float64Var(&duration, "time", config.DefaultDuration, "duration in days")
	cmd.Flags().Float64Var(&dt, "dt", config.DefaultDt, "step length in days")
	cmd.Flags().IntVar(&workers, "workers", config.DefaultWorkers, "parallel workers")
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// loadConfig picks the config file, the named preset or the endemic
// preset, in that order, then applies explicit flag overrides.
func loadConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	var cfg *config.Config
	switch {
	case len(args) == 1:
		c, err := config.Load(args[0])
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = c
	case preset != "":
		cfg = config.GetPreset(modelName, preset)
		if cfg == nil {
			return nil, fmt.Errorf("unknown preset: %s (available: %v)", preset, config.ListPresets(modelName))
		}
	default:
		cfg = config.GetPreset(modelName, "endemic")
		if cfg == nil {
			return nil, fmt.Errorf("no default preset for model %s, pass a config file", modelName)
		}
	}

	if cmd.Flags().Changed("time") {
		cfg.TSpan.Duration = duration
	}
	if cmd.Flags().Changed("dt") {
		cfg.TSpan.Dt = dt
	}
	if cmd.Flags().Changed("workers") {
		cfg.Workers = workers
	}
	return cfg, nil
}

func setupExperiment(cfg *config.Config, logger *slog.Logger, inst *host.Instruments) (*experiment.Experiment, error) {
	registry := experiment.NewRegistry()
	exp, err := experiment.New(cfg, registry)
	if err != nil {
		return nil, err
	}

	counts, err := exp.CountSource()
	if err != nil {
		return nil, err
	}

	exp.Setup(counts, logger, inst, registry.DefaultMetrics(exp.Model()))
	return exp, nil
}

func runSimulation(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, args)
	if err != nil {
		return err
	}

	st := storage.New(dataDir)
	if err := st.Init(); err != nil {
		return err
	}

	logger := newLogger()
	reg := prometheus.NewRegistry()
	exp, err := setupExperiment(cfg, logger, host.NewInstruments(reg))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	start := time.Now()
	result, runErr := exp.Run(ctx)
	if runErr != nil && result == nil {
		return runErr
	}
	if runErr != nil {
		logger.Warn("run interrupted, saving partial trace", "err", runErr, "steps", result.StepsTaken)
	}
	elapsed := time.Since(start)

	runID, err := st.Save(exp.Model(), cfg.HostConfig(), result)
	if err != nil {
		return err
	}

	fmt.Printf("completed in %v\n", elapsed)
	fmt.Printf("run id: %s\n", runID)
	fmt.Printf("nodes: %d  steps: %d  recomputes: %d\n", len(result.Traces), result.StepsTaken, result.Recomputes)
	if n := len(result.Errors); n > 0 {
		fmt.Println(viz.Warning.Render(fmt.Sprintf("invalid rates: %d (first: %v)", n, result.Errors[0])))
	}

	fmt.Println("\n" + viz.Title.Render("metrics"))
	names := make([]string, 0, len(result.Metrics))
	for name := range result.Metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("  %s: %.6f\n", name, result.Metrics[name])
	}

	fmt.Println("\n" + viz.Title.Render("instruments"))
	if err := printInstruments(reg); err != nil {
		return err
	}
	return runErr
}

func printInstruments(reg *prometheus.Registry) error {
	families, err := reg.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			var labels strings.Builder
			for _, lp := range m.GetLabel() {
				fmt.Fprintf(&labels, "{%s=%q}", lp.GetName(), lp.GetValue())
			}
			switch {
			case m.GetCounter() != nil:
				fmt.Printf("  %s%s: %.0f\n", mf.GetName(), labels.String(), m.GetCounter().GetValue())
			case m.GetHistogram() != nil:
				h := m.GetHistogram()
				fmt.Printf("  %s%s: count=%d sum=%.6fs\n", mf.GetName(), labels.String(), h.GetSampleCount(), h.GetSampleSum())
			}
		}
	}
	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, args)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	exp, err := setupExperiment(cfg, nil, host.NewInstruments(reg))
	if err != nil {
		return err
	}
	if len(exp.Model().StateVariables()) == 0 {
		return fmt.Errorf("model %s has no state variables to watch", exp.Model().Name())
	}

	if listen != "" {
		srv := &http.Server{Addr: listen, Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				fmt.Fprintf(os.Stderr, "metrics server: %v\n", err)
			}
		}()
		defer srv.Close()
	}

	session, err := exp.NewSession()
	if err != nil {
		return err
	}

	final, err := tea.NewProgram(viz.NewWatch(session, 0, interval)).Run()
	if err != nil {
		return err
	}
	if w, ok := final.(viz.Watch); ok && w.Err() != nil {
		return w.Err()
	}
	return nil
}

// nodeFlags registers one flag per compartment, state variable and
// parameter of a model, so single-node commands follow its layout.
type nodeFlags struct {
	model  epi.Model
	counts []int
	state  []float64
	params []float64
	t      float64
}

func addNodeFlags(cmd *cobra.Command, m epi.Model) *nodeFlags {
	f := &nodeFlags{
		model:  m,
		counts: make([]int, len(m.Compartments())),
		state:  make([]float64, len(m.StateVariables())),
		params: make([]float64, len(m.Parameters())),
	}

	defaults := config.GetPreset(m.Name(), "endemic")
	for i, name := range m.Compartments() {
		def := 0
		if defaults != nil {
			def = defaults.Nodes[0].U0[name]
		}
		cmd.Flags().IntVar(&f.counts[i], name, def, "count in compartment "+name)
	}
	for i, name := range m.StateVariables() {
		cmd.Flags().Float64Var(&f.state[i], name, 1, "model state "+name)
	}
	for i, name := range m.Parameters() {
		def := 0.0
		if defaults != nil {
			def = defaults.Params[name]
		}
		cmd.Flags().Float64Var(&f.params[i], name, def, "parameter "+name)
	}
	cmd.Flags().Float64Var(&f.t, "t", 0, "time in days")
	return f
}

// resolve switches to the model picked with --model. The flags were
// registered before parsing, so that model must share their layout.
func (f *nodeFlags) resolve(reg *experiment.Registry, name string) error {
	m, err := reg.GetModel(name)
	if err != nil {
		return err
	}
	if !slices.Equal(m.Compartments(), f.model.Compartments()) ||
		!slices.Equal(m.StateVariables(), f.model.StateVariables()) ||
		!slices.Equal(m.Parameters(), f.model.Parameters()) {
		return fmt.Errorf("model %s: node flags follow the %s layout: %w", name, f.model.Name(), epi.ErrDimensionMismatch)
	}
	f.model = m
	return nil
}

// seasonal is implemented by models whose post time step depends on the
// quarter of the year.
type seasonal interface {
	Quarter(t float64) int
}

func (f *nodeFlags) node() (epi.Node, error) {
	n := epi.Node{
		ID:   1,
		U:    append(epi.Compartments(nil), f.counts...),
		V:    append(epi.ModelState(nil), f.state...),
		Data: append(epi.Params(nil), f.params...),
	}
	return n, n.Validate(f.model)
}

func printRates(f *nodeFlags) error {
	n, err := f.node()
	if err != nil {
		return err
	}
	rates := epi.Propensities(f.model, n, f.t, nil)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TRANSITION\tRATE\tSTATE-DEPENDENT")
	for i, tr := range f.model.Transitions() {
		fmt.Fprintf(w, "%s\t%g\t%v\n", tr.Name, rates[i], tr.DependsOnState)
	}
	return w.Flush()
}

func applyStep(f *nodeFlags) error {
	n, err := f.node()
	if err != nil {
		return err
	}
	before := n.V.Clone()
	changed := f.model.PostTimeStep(n.U, n.V, n.Data, n.ID, f.t, n.SubDomain)

	fmt.Printf("t: %g\n", f.t)
	if sm, ok := f.model.(seasonal); ok {
		fmt.Printf("quarter: %d\n", sm.Quarter(f.t)+1)
	}
	for i, name := range f.model.StateVariables() {
		fmt.Println(viz.KV(name, fmt.Sprintf("%.10g -> %.10g", before[i], n.V[i])))
	}
	fmt.Println(viz.KV("recompute", changed))
	return nil
}

func listRuns(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	runs, err := st.List()
	if err != nil {
		return err
	}

	if len(runs) == 0 {
		fmt.Println("no runs found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tMODEL\tTIME\tNODES\tSTEPS\tDURATION\tDT\tRECOMPUTES\tERRORS")

	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%.1fd\t%.4gd\t%d\t%d\n",
			run.ID,
			run.Model,
			run.Timestamp.Format("2006-01-02 15:04:05"),
			run.Nodes,
			run.Steps,
			run.Duration,
			run.Dt,
			run.Recomputes,
			run.Errors,
		)
	}

	return w.Flush()
}

type series struct {
	meta   *storage.RunMetadata
	node   int
	column string
	times  []float64
	values []float64
}

// loadSeries reads one column of one node from a stored run, defaulting
// to the first node and the first model state variable.
func loadSeries(runID string) (*series, error) {
	st := storage.New(dataDir)
	meta, err := st.Load(runID)
	if err != nil {
		return nil, err
	}
	trace, err := st.LoadTrace(runID)
	if err != nil {
		return nil, err
	}

	nodes := trace.Nodes()
	if len(nodes) == 0 {
		return nil, fmt.Errorf("no data in run %s", runID)
	}
	node := plotNode
	if node < 0 {
		node = nodes[0]
	}
	column := plotCol
	if column == "" {
		if len(meta.StateVariables) == 0 {
			return nil, fmt.Errorf("run %s has no state variables, pass --column", runID)
		}
		column = meta.StateVariables[0]
	}

	times, values, err := trace.Series(node, column)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("node %d not in run %s (nodes: %v)", node, runID, nodes)
	}
	return &series{meta: meta, node: node, column: column, times: times, values: values}, nil
}

func plotRun(cmd *cobra.Command, args []string) error {
	ser, err := loadSeries(args[0])
	if err != nil {
		return err
	}

	fmt.Printf("run: %s\n", ser.meta.ID)
	fmt.Printf("model: %s\n", ser.meta.Model)
	fmt.Printf("samples: %d (t = %g .. %g)\n\n", len(ser.values), ser.times[0], ser.times[len(ser.times)-1])

	graph := asciigraph.Plot(ser.values,
		asciigraph.Height(15),
		asciigraph.Width(80),
		asciigraph.Caption(fmt.Sprintf("%s, node %d", ser.column, ser.node)),
	)
	fmt.Println(graph)
	fmt.Println()
	fmt.Println(viz.Sparkline(ser.values, 80))

	return nil
}

func runSweep(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, args)
	if err != nil {
		return err
	}

	names := make([]string, 0, len(ranges))
	values := make([][]float64, 0, len(ranges))
	for _, r := range ranges {
		name, vals, err := optim.ParseRange(r)
		if err != nil {
			return err
		}
		names = append(names, name)
		values = append(values, vals)
	}

	goal := optim.Minimize
	if maximize {
		goal = optim.Maximize
	}

	g := optim.NewGridSearch(names, values)
	g.SetWorkers(cfg.Workers)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	best, points, err := g.Search(ctx, optim.ConfigBuilder(cfg, experiment.NewRegistry()), metric, goal)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, strings.ToUpper(strings.Join(names, "\t"))+"\t"+strings.ToUpper(metric))
	for _, p := range points {
		row := make([]string, 0, len(names)+1)
		for _, n := range names {
			row = append(row, fmt.Sprintf("%g", p.Params[n]))
		}
		if p.Err != nil {
			row = append(row, "error: "+p.Err.Error())
		} else {
			row = append(row, fmt.Sprintf("%.6g", p.Value))
		}
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	if ferr := w.Flush(); ferr != nil {
		return ferr
	}
	if err != nil {
		return err
	}

	fmt.Println()
	for _, n := range names {
		fmt.Println(viz.KV(n, fmt.Sprintf("%g", best.Params[n])))
	}
	fmt.Println(viz.KV(metric, fmt.Sprintf("%.6g", best.Value)))
	return nil
}

func runScenario(cmd *cobra.Command, args []string) error {
	sc, err := automation.LoadScenario(args[0])
	if err != nil {
		return err
	}

	var st *storage.Store
	if !noSave {
		st = storage.New(dataDir)
		if err := st.Init(); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	results, runErr := automation.RunScenario(ctx, sc, experiment.NewRegistry(), st, newLogger())

	fmt.Println(viz.Title.Render(sc.Name))
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STEP\tRUN\tSTEPS\tRECOMPUTES\tERRORS\tPEAK")
	for _, r := range results {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%.6g\n",
			r.Name,
			r.RunID,
			r.Result.StepsTaken,
			r.Result.Recomputes,
			len(r.Result.Errors),
			r.Result.Metrics["peak_pressure"],
		)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return runErr
}

func analyzeRun(cmd *cobra.Command, args []string) error {
	ser, err := loadSeries(args[0])
	if err != nil {
		return err
	}

	sp, err := analysis.Analyze(ser.values, ser.meta.Dt)
	if err != nil {
		return err
	}

	fmt.Println(viz.Title.Render(fmt.Sprintf("%s, node %d", ser.column, ser.node)))
	fmt.Println(viz.KV("samples", sp.N))
	fmt.Println(viz.KV("dominant bin", sp.DominantBin))
	fmt.Println(viz.KV("frequency", fmt.Sprintf("%.6g /day", sp.Frequency(sp.DominantBin))))
	fmt.Println(viz.KV("period", fmt.Sprintf("%.2f days", sp.DominantPeriod)))
	fmt.Println(viz.KV("amplitude", fmt.Sprintf("%.6g", sp.Amplitude[sp.DominantBin])))
	fmt.Println()

	graph := asciigraph.Plot(sp.Amplitude[1:],
		asciigraph.Height(10),
		asciigraph.Width(80),
		asciigraph.Caption("amplitude spectrum (bin 1..n/2)"),
	)
	fmt.Println(graph)
	return nil
}
