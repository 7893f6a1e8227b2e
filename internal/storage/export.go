package storage

import (
	"encoding/json"
	"io"
	"math"
	"os"
)

type ExportData struct {
	Metadata EpisodeMetadata `json:"metadata"`
	Columns  []string        `json:"columns"`
	Ticks    [][]*float64    `json:"ticks"`
}

// Export writes an episode and its tick table as one JSON document.
func (s *Store) Export(w io.Writer, id string) error {
	meta, err := s.Load(id)
	if err != nil {
		return err
	}
	ticks, err := s.LoadTicks(id)
	if err != nil {
		return err
	}

	data := ExportData{
		Metadata: *meta,
		Columns:  ticks.Header,
		Ticks:    make([][]*float64, len(ticks.Rows)),
	}
	// NaN has no JSON encoding; absent values become null.
	for i, row := range ticks.Rows {
		out := make([]*float64, len(row))
		for j := range row {
			if !math.IsNaN(row[j]) {
				out[j] = &row[j]
			}
		}
		data.Ticks[i] = out
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

func (s *Store) ExportFile(path, id string) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := s.Export(file, id); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}
