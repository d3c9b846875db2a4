package storage

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/san-kum/siminf/internal/epi"
	"github.com/san-kum/siminf/internal/host"
)

const (
	metadataFile = "metadata.json"
	traceFile    = "pressure.csv"
)

type Store struct {
	baseDir string
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) Init() error {
	return os.MkdirAll(s.baseDir, 0755)
}

type RunMetadata struct {
	ID             string           `json:"id"`
	Model          string           `json:"model"`
	Timestamp      time.Time        `json:"timestamp"`
	Start          float64          `json:"start"`
	Dt             float64          `json:"dt"`
	Duration       float64          `json:"duration"`
	Nodes          int              `json:"nodes"`
	Compartments   []string         `json:"compartments"`
	StateVariables []string         `json:"state_variables"`
	Transitions    []string         `json:"transitions"`
	Steps          int              `json:"steps"`
	Recomputes     int              `json:"recomputes"`
	Errors         int              `json:"errors"`
	Metrics        map[string]Float `json:"metrics"`
}

// Save writes the run into a hidden temporary directory and renames it
// into place, so a failed save never leaves a partial run behind.
func (s *Store) Save(m epi.Model, cfg host.Config, result *host.Result) (string, error) {
	runID := fmt.Sprintf("%s_%s", m.Name(), uuid.NewString()[:8])

	if err := os.MkdirAll(s.baseDir, 0755); err != nil {
		return "", err
	}
	tmpDir, err := os.MkdirTemp(s.baseDir, "."+runID+"-")
	if err != nil {
		return "", err
	}

	trs := m.Transitions()
	names := make([]string, len(trs))
	for i, tr := range trs {
		names[i] = tr.Name
	}

	meta := RunMetadata{
		ID:             runID,
		Model:          m.Name(),
		Timestamp:      time.Now(),
		Start:          cfg.Start,
		Dt:             cfg.Dt,
		Duration:       cfg.Duration,
		Nodes:          len(result.Traces),
		Compartments:   m.Compartments(),
		StateVariables: m.StateVariables(),
		Transitions:    names,
		Steps:          result.StepsTaken,
		Recomputes:     result.Recomputes,
		Errors:         len(result.Errors),
		Metrics:        floatMap(result.Metrics),
	}

	if err := writeRun(tmpDir, meta, m, result); err != nil {
		os.RemoveAll(tmpDir)
		return "", err
	}
	if err := os.Rename(tmpDir, filepath.Join(s.baseDir, runID)); err != nil {
		os.RemoveAll(tmpDir)
		return "", err
	}

	return runID, nil
}

func writeRun(dir string, meta RunMetadata, m epi.Model, result *host.Result) error {
	metaFile, err := os.Create(filepath.Join(dir, metadataFile))
	if err != nil {
		return err
	}
	enc := json.NewEncoder(metaFile)
	enc.SetIndent("", "  ")
	if err := enc.Encode(meta); err != nil {
		metaFile.Close()
		return err
	}
	if err := metaFile.Close(); err != nil {
		return err
	}

	csvFile, err := os.Create(filepath.Join(dir, traceFile))
	if err != nil {
		return err
	}
	if err := WriteTrace(csvFile, m, result); err != nil {
		csvFile.Close()
		return err
	}
	return csvFile.Close()
}

// RateColumn is the CSV column holding the propensity of a transition.
func RateColumn(transition string) string {
	name := strings.ReplaceAll(transition, "->", "to")
	return "rate_" + strings.Join(strings.Fields(name), "_")
}

// WriteTrace writes one row per node and recorded time:
// time, node, compartments, model state, rates, recompute flag.
func WriteTrace(out io.Writer, m epi.Model, result *host.Result) error {
	w := csv.NewWriter(out)

	header := []string{"time", "node"}
	header = append(header, m.Compartments()...)
	header = append(header, m.StateVariables()...)
	for _, tr := range m.Transitions() {
		header = append(header, RateColumn(tr.Name))
	}
	header = append(header, "recompute")

	if err := w.Write(header); err != nil {
		return err
	}

	for k, t := range result.Times {
		for _, tr := range result.Traces {
			row := []string{formatFloat(t), strconv.Itoa(tr.Node)}
			for _, c := range tr.Counts[k] {
				row = append(row, strconv.Itoa(c))
			}
			for _, v := range tr.State[k] {
				row = append(row, formatFloat(v))
			}
			for _, r := range tr.Rates[k] {
				row = append(row, formatFloat(r))
			}
			if tr.Recompute[k] {
				row = append(row, "1")
			} else {
				row = append(row, "0")
			}
			if err := w.Write(row); err != nil {
				return err
			}
		}
	}

	w.Flush()
	return w.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', 10, 64)
}

func (s *Store) List() ([]RunMetadata, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunMetadata{}, nil
		}
		return nil, err
	}

	runs := make([]RunMetadata, 0)
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}

		meta, err := s.Load(entry.Name())
		if err != nil {
			continue
		}
		runs = append(runs, *meta)
	}

	sort.Slice(runs, func(i, j int) bool { return runs[i].Timestamp.Before(runs[j].Timestamp) })
	return runs, nil
}

func (s *Store) Load(runID string) (*RunMetadata, error) {
	data, err := os.ReadFile(filepath.Join(s.baseDir, runID, metadataFile))
	if err != nil {
		return nil, err
	}

	var meta RunMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}

	return &meta, nil
}

// TraceTable is a stored trace: the CSV header and every row parsed as
// numbers.
type TraceTable struct {
	Columns []string
	Rows    [][]float64
}

func (s *Store) LoadTrace(runID string) (*TraceTable, error) {
	file, err := os.Open(filepath.Join(s.baseDir, runID, traceFile))
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return ReadTrace(file)
}

func ReadTrace(in io.Reader) (*TraceTable, error) {
	r := csv.NewReader(in)
	r.FieldsPerRecord = -1

	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return &TraceTable{}, nil
	}

	table := &TraceTable{
		Columns: records[0],
		Rows:    make([][]float64, 0, len(records)-1),
	}
	for i, record := range records[1:] {
		row := make([]float64, len(record))
		for j, field := range record {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, fmt.Errorf("row %d column %s: %w", i+1, table.Columns[j], err)
			}
			row[j] = v
		}
		table.Rows = append(table.Rows, row)
	}
	return table, nil
}

func (t *TraceTable) column(name string) (int, error) {
	for i, c := range t.Columns {
		if c == name {
			return i, nil
		}
	}
	return -1, fmt.Errorf("column %q: %w", name, epi.ErrUnknownName)
}

// Series returns times and values of column for one node.
func (t *TraceTable) Series(node int, column string) ([]float64, []float64, error) {
	ti, err := t.column("time")
	if err != nil {
		return nil, nil, err
	}
	ni, err := t.column("node")
	if err != nil {
		return nil, nil, err
	}
	ci, err := t.column(column)
	if err != nil {
		return nil, nil, err
	}

	times := make([]float64, 0)
	values := make([]float64, 0)
	for _, row := range t.Rows {
		if int(row[ni]) != node {
			continue
		}
		times = append(times, row[ti])
		values = append(values, row[ci])
	}
	return times, values, nil
}

// Nodes lists the distinct node ids in order of first appearance.
func (t *TraceTable) Nodes() []int {
	ni, err := t.column("node")
	if err != nil {
		return nil
	}
	seen := make(map[int]bool)
	ids := make([]int, 0)
	for _, row := range t.Rows {
		id := int(row[ni])
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids
}
