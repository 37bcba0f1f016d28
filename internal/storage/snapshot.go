package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/mat"
)

// ErrSchema reports a snapshot that does not match the schema of the
// component it is loaded into.
var ErrSchema = errors.New("storage: snapshot does not match schema")

// Kind is the type of a snapshot field.
type Kind string

const (
	KindFloat  Kind = "float"
	KindInt    Kind = "int"
	KindVector Kind = "vector"
	KindMatrix Kind = "matrix"
)

// Field is one named, typed entry of a schema.
type Field struct {
	Name string `json:"name"`
	Kind Kind   `json:"kind"`
}

// Schema is the explicit list of fields a stateful component saves.
type Schema struct {
	Name    string  `json:"name"`
	Version int     `json:"version"`
	Fields  []Field `json:"fields"`
}

// Value is a typed field value. Only the members of its Kind are set.
type Value struct {
	Kind  Kind      `json:"kind"`
	Float float64   `json:"float,omitempty"`
	Int   int       `json:"int,omitempty"`
	Rows  int       `json:"rows,omitempty"`
	Cols  int       `json:"cols,omitempty"`
	Data  []float64 `json:"data,omitempty"`
}

func Float(v float64) Value { return Value{Kind: KindFloat, Float: v} }

func Int(v int) Value { return Value{Kind: KindInt, Int: v} }

func Vector(v []float64) Value {
	return Value{Kind: KindVector, Data: append([]float64(nil), v...)}
}

func Matrix(m mat.Matrix) Value {
	r, c := m.Dims()
	data := make([]float64, 0, r*c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			data = append(data, m.At(i, j))
		}
	}
	return Value{Kind: KindMatrix, Rows: r, Cols: c, Data: data}
}

// Record maps field names to values.
type Record map[string]Value

func (r Record) get(name string, kind Kind) (Value, error) {
	v, ok := r[name]
	if !ok {
		return Value{}, fmt.Errorf("%w: missing field %q", ErrSchema, name)
	}
	if v.Kind != kind {
		return Value{}, fmt.Errorf("%w: field %q is %s, want %s", ErrSchema, name, v.Kind, kind)
	}
	return v, nil
}

func (r Record) Float(name string) (float64, error) {
	v, err := r.get(name, KindFloat)
	return v.Float, err
}

func (r Record) Int(name string) (int, error) {
	v, err := r.get(name, KindInt)
	return v.Int, err
}

func (r Record) Vector(name string) ([]float64, error) {
	v, err := r.get(name, KindVector)
	if err != nil {
		return nil, err
	}
	return append([]float64(nil), v.Data...), nil
}

func (r Record) Matrix(name string) (*mat.Dense, error) {
	v, err := r.get(name, KindMatrix)
	if err != nil {
		return nil, err
	}
	if v.Rows <= 0 || v.Cols <= 0 || len(v.Data) != v.Rows*v.Cols {
		return nil, fmt.Errorf("%w: field %q has %d values for %dx%d", ErrSchema, name, len(v.Data), v.Rows, v.Cols)
	}
	return mat.NewDense(v.Rows, v.Cols, append([]float64(nil), v.Data...)), nil
}

// Stateful is implemented by components whose state can be saved and
// restored through an explicit schema.
type Stateful interface {
	Schema() Schema
	Snapshot() Record
	Restore(r Record) error
}

// Validate checks that r holds exactly the fields of s with their kinds.
func (s Schema) Validate(r Record) error {
	for _, f := range s.Fields {
		if _, err := r.get(f.Name, f.Kind); err != nil {
			return fmt.Errorf("%s: %w", s.Name, err)
		}
	}
	if len(r) != len(s.Fields) {
		known := make(map[string]bool, len(s.Fields))
		for _, f := range s.Fields {
			known[f.Name] = true
		}
		for name := range r {
			if !known[name] {
				return fmt.Errorf("%s: %w: unknown field %q", s.Name, ErrSchema, name)
			}
		}
	}
	return nil
}

type snapshotFile struct {
	Schema  string `json:"schema"`
	Version int    `json:"version"`
	Fields  Record `json:"fields"`
}

// WriteSnapshot validates the state of c against its schema and writes it
// as JSON to path.
func WriteSnapshot(path string, c Stateful) error {
	schema := c.Schema()
	rec := c.Snapshot()
	if err := schema.Validate(rec); err != nil {
		return err
	}
	return writeJSON(path, snapshotFile{Schema: schema.Name, Version: schema.Version, Fields: rec})
}

// ReadSnapshot loads path into c after checking the schema name, version
// and every field.
func ReadSnapshot(path string, c Stateful) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var f snapshotFile
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("snapshot %s: %w", path, err)
	}
	schema := c.Schema()
	if f.Schema != schema.Name || f.Version != schema.Version {
		return fmt.Errorf("%w: file holds %s v%d, component is %s v%d", ErrSchema, f.Schema, f.Version, schema.Name, schema.Version)
	}
	if err := schema.Validate(f.Fields); err != nil {
		return err
	}
	return c.Restore(f.Fields)
}

// SaveSnapshot stores c as name.json in the directory of a run.
func (s *Store) SaveSnapshot(runID, name string, c Stateful) error {
	return WriteSnapshot(filepath.Join(s.Dir(runID), name+".json"), c)
}

// LoadSnapshot restores c from name.json in the directory of a run.
func (s *Store) LoadSnapshot(runID, name string, c Stateful) error {
	return ReadSnapshot(filepath.Join(s.Dir(runID), name+".json"), c)
}
