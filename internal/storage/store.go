// Package storage persists recorded episodes as a directory per run holding
// metadata.json and ticks.csv.
package storage

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
)

const (
	metadataFile = "metadata.json"
	ticksFile    = "ticks.csv"
)

// ErrNotFound is returned for an unknown episode id.
var ErrNotFound = errors.New("episode not found")

type Store struct {
	baseDir string
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) Init() error {
	return os.MkdirAll(s.baseDir, 0755)
}

func (s *Store) Dir() string { return s.baseDir }

// Path is the directory holding one episode.
func (s *Store) Path(id string) string { return filepath.Join(s.baseDir, id) }

type EpisodeMetadata struct {
	ID          string             `json:"id"`
	Chain       string             `json:"chain"`
	Mode        string             `json:"mode"`
	Demo        string             `json:"demo,omitempty"`
	Controller  string             `json:"controller"`
	Integrator  string             `json:"integrator,omitempty"`
	Timestamp   time.Time          `json:"timestamp"`
	ControlFreq float64            `json:"control_freq"`
	PolicyFreq  float64            `json:"policy_freq"`
	Steps       int                `json:"steps"`
	Ticks       int                `json:"ticks"`
	Metrics     map[string]float64 `json:"metrics"`
	AxisError   map[string]float64 `json:"axis_error,omitempty"`
	Err         string             `json:"error,omitempty"`
}

func newID(chain string) string {
	return fmt.Sprintf("%s_%s", chain, uuid.NewString()[:12])
}

func (s *Store) writeMetadata(meta *EpisodeMetadata) error {
	f, err := os.Create(filepath.Join(s.Path(meta.ID), metadataFile))
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(meta); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// List returns every readable episode, oldest first. Directories without
// valid metadata are skipped.
func (s *Store) List() ([]EpisodeMetadata, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []EpisodeMetadata{}, nil
		}
		return nil, err
	}

	runs := make([]EpisodeMetadata, 0)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		meta, err := s.Load(entry.Name())
		if err != nil {
			continue
		}
		runs = append(runs, *meta)
	}
	sort.SliceStable(runs, func(i, j int) bool { return runs[i].Timestamp.Before(runs[j].Timestamp) })
	return runs, nil
}

// Latest is the most recent episode id.
func (s *Store) Latest() (string, error) {
	runs, err := s.List()
	if err != nil {
		return "", err
	}
	if len(runs) == 0 {
		return "", ErrNotFound
	}
	return runs[len(runs)-1].ID, nil
}

func (s *Store) Load(id string) (*EpisodeMetadata, error) {
	data, err := os.ReadFile(filepath.Join(s.Path(id), metadataFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, err
	}

	var meta EpisodeMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("episode %s: %w", id, err)
	}
	return &meta, nil
}

// Ticks is the tick table of one episode, one row per control tick.
type Ticks struct {
	Header []string
	Rows   [][]float64
}

// Column returns the named column, or nil when absent.
func (t *Ticks) Column(name string) []float64 {
	idx := -1
	for i, h := range t.Header {
		if h == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}
	out := make([]float64, len(t.Rows))
	for i, row := range t.Rows {
		if idx < len(row) {
			out[i] = row[idx]
		}
	}
	return out
}

func (t *Ticks) Len() int { return len(t.Rows) }

func (s *Store) LoadTicks(id string) (*Ticks, error) {
	file, err := os.Open(filepath.Join(s.Path(id), ticksFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, err
	}
	defer file.Close()

	r := csv.NewReader(file)
	r.FieldsPerRecord = -1

	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("episode %s: %w", id, err)
	}

	out := &Ticks{Rows: [][]float64{}}
	if len(records) == 0 {
		return out, nil
	}
	out.Header = records[0]

	for _, record := range records[1:] {
		if len(record) == 0 {
			continue
		}
		row := make([]float64, len(record))
		for j, field := range record {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, fmt.Errorf("episode %s: column %d: %w", id, j, err)
			}
			row[j] = v
		}
		out.Rows = append(out.Rows, row)
	}
	return out, nil
}
