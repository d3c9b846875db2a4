package storage

import (
	"encoding/json"
	"io"
)

type ExportData struct {
	Metadata RunMetadata `json:"metadata"`
	Columns  []string    `json:"columns"`
	Rows     [][]Float   `json:"rows"`
}

func (s *Store) ExportJSON(w io.Writer, runID string) error {
	meta, err := s.Load(runID)
	if err != nil {
		return err
	}
	table, err := s.LoadTrace(runID)
	if err != nil {
		return err
	}

	data := ExportData{
		Metadata: *meta,
		Columns:  table.Columns,
		Rows:     floatRows(table.Rows),
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}
