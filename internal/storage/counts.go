package storage

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/san-kum/siminf/internal/epi"
	"github.com/san-kum/siminf/internal/host"
)

// LoadCounts reads observed counts with a header of time, node and the
// compartment names of m, in any column order.
func LoadCounts(path string, m epi.Model) (*host.SeriesCounts, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return ReadCounts(file, m)
}

func ReadCounts(in io.Reader, m epi.Model) (*host.SeriesCounts, error) {
	r := csv.NewReader(in)
	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("counts: empty file")
	}

	header := records[0]
	ti, err := epi.Index(header, "time")
	if err != nil {
		return nil, fmt.Errorf("counts: %w", err)
	}
	ni, err := epi.Index(header, "node")
	if err != nil {
		return nil, fmt.Errorf("counts: %w", err)
	}
	cols := make([]int, len(m.Compartments()))
	for i, name := range m.Compartments() {
		if cols[i], err = epi.Index(header, name); err != nil {
			return nil, fmt.Errorf("counts: compartment %w", err)
		}
	}

	series := host.NewSeriesCounts()
	for line, record := range records[1:] {
		t, err := strconv.ParseFloat(record[ti], 64)
		if err != nil {
			return nil, fmt.Errorf("counts line %d: time: %w", line+2, err)
		}
		node, err := strconv.Atoi(record[ni])
		if err != nil {
			return nil, fmt.Errorf("counts line %d: node: %w", line+2, err)
		}
		u := make(epi.Compartments, len(cols))
		for i, c := range cols {
			if u[i], err = strconv.Atoi(record[c]); err != nil {
				return nil, fmt.Errorf("counts line %d: %s: %w", line+2, m.Compartments()[i], err)
			}
			if u[i] < 0 {
				return nil, fmt.Errorf("counts line %d: %s = %d: %w", line+2, m.Compartments()[i], u[i], epi.ErrNegativeCount)
			}
		}
		series.Add(node, t, u)
	}
	return series, nil
}
