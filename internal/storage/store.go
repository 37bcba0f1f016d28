package storage

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"
)

// Store keeps runs under a base directory, one subdirectory per run holding
// metadata.json, trace.csv and any snapshots.
type Store struct {
	baseDir string
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) Init() error {
	return os.MkdirAll(s.baseDir, 0755)
}

// Dir returns the directory of a run.
func (s *Store) Dir(runID string) string {
	return filepath.Join(s.baseDir, runID)
}

type RunMetadata struct {
	ID         string             `json:"id"`
	Name       string             `json:"name"`
	Kind       string             `json:"kind"`
	Iteration  int                `json:"iteration"`
	Timestamp  time.Time          `json:"timestamp"`
	Seed       uint64             `json:"seed"`
	Dt         float64            `json:"dt"`
	Steps      int                `json:"steps"`
	Integrator string             `json:"integrator,omitempty"`
	Controller string             `json:"controller,omitempty"`
	Loss       float64            `json:"loss,omitempty"`
	Metrics    map[string]float64 `json:"metrics"`
}

// Trace is the recorded time series of a run. Controls and Costs may be
// shorter than States; missing cells are written as 0.
type Trace struct {
	Times    []float64
	States   [][]float64
	Controls [][]float64
	Costs    []float64
}

// Save writes a new run and returns its ID.
func (s *Store) Save(meta RunMetadata, tr *Trace) (string, error) {
	meta.Timestamp = time.Now()
	meta.ID = fmt.Sprintf("%s_%03d_%d", meta.Name, meta.Iteration, meta.Timestamp.UnixNano())
	meta.Steps = len(tr.Times)
	runDir := s.Dir(meta.ID)

	if err := os.MkdirAll(runDir, 0755); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, "metadata.json"), meta); err != nil {
		return "", err
	}
	if err := writeTrace(filepath.Join(runDir, "trace.csv"), tr); err != nil {
		return "", err
	}
	return meta.ID, nil
}

func writeJSON(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeTrace(path string, tr *Trace) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	if len(tr.States) == 0 {
		return nil
	}

	header := []string{"time"}
	for i := range tr.States[0] {
		header = append(header, fmt.Sprintf("x%d", i))
	}
	numControls := 0
	for _, u := range tr.Controls {
		if len(u) > numControls {
			numControls = len(u)
		}
	}
	for i := 0; i < numControls; i++ {
		header = append(header, fmt.Sprintf("u%d", i))
	}
	header = append(header, "cost")
	if err := w.Write(header); err != nil {
		return err
	}

	format := func(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }
	for i := range tr.States {
		row := []string{format(tr.Times[i])}
		for _, v := range tr.States[i] {
			row = append(row, format(v))
		}
		for j := 0; j < numControls; j++ {
			v := 0.0
			if i < len(tr.Controls) && j < len(tr.Controls[i]) {
				v = tr.Controls[i][j]
			}
			row = append(row, format(v))
		}
		c := 0.0
		if i < len(tr.Costs) {
			c = tr.Costs[i]
		}
		row = append(row, format(c))
		if err := w.Write(row); err != nil {
			return err
		}
	}
	return w.Error()
}

// List returns the metadata of every readable run, oldest first.
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
		if !entry.IsDir() {
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
	data, err := os.ReadFile(filepath.Join(s.Dir(runID), "metadata.json"))
	if err != nil {
		return nil, err
	}

	var meta RunMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("run %s: %w", runID, err)
	}
	return &meta, nil
}

// LoadTrace reads back the time series of a run. The header decides which
// columns are states, controls and cost.
func (s *Store) LoadTrace(runID string) (*Trace, error) {
	file, err := os.Open(filepath.Join(s.Dir(runID), "trace.csv"))
	if err != nil {
		return nil, err
	}
	defer file.Close()

	r := csv.NewReader(file)
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", runID, err)
	}

	tr := &Trace{}
	if len(records) < 2 {
		return tr, nil
	}

	header := records[0]
	var states, controls []int
	costCol := -1
	for j, name := range header {
		switch {
		case name == "cost":
			costCol = j
		case len(name) > 1 && name[0] == 'x':
			states = append(states, j)
		case len(name) > 1 && name[0] == 'u':
			controls = append(controls, j)
		}
	}

	for i, record := range records[1:] {
		vals := make([]float64, len(record))
		for j, cell := range record {
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return nil, fmt.Errorf("run %s: row %d column %s: %w", runID, i+1, header[j], err)
			}
			vals[j] = v
		}
		tr.Times = append(tr.Times, vals[0])
		tr.States = append(tr.States, pick(vals, states))
		if len(controls) > 0 {
			tr.Controls = append(tr.Controls, pick(vals, controls))
		}
		if costCol >= 0 {
			tr.Costs = append(tr.Costs, vals[costCol])
		}
	}
	return tr, nil
}

func pick(vals []float64, cols []int) []float64 {
	out := make([]float64, len(cols))
	for k, j := range cols {
		out[k] = vals[j]
	}
	return out
}
