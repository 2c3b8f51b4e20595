package ml

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

// OrderingKey is the record field used to order readings chronologically.
const OrderingKey = "cycle"

// Reading is one per-cycle record: feature name to raw value, plus the optional
// OrderingKey entry.
type Reading map[string]float64

// Cycle returns the ordering key of the reading, if present.
func (r Reading) Cycle() (float64, bool) {
	v, ok := r[OrderingKey]
	return v, ok
}

// UnmarshalJSON rejects non-numeric values, null included, with the offending
// field name.
func (r *Reading) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	out := make(Reading, len(raw))
	for k, v := range raw {
		var f float64
		if bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
			return &ValidationError{Field: "records." + k, Reason: "value must be a number"}
		}
		if err := json.Unmarshal(v, &f); err != nil {
			return &ValidationError{Field: "records." + k, Reason: "value must be a number"}
		}
		out[k] = f
	}
	*r = out
	return nil
}

// Schema is the ordered list of features the model expects.
type Schema []string

// Normalizer maps a raw (rows x features) matrix to its normalized form.
// Implementations must be deterministic and must not modify their input.
type Normalizer interface {
	Transform(rows [][]float64) ([][]float64, error)
}

// Window is a (1, Steps, Features) tensor stored row-major.
type Window struct {
	Steps    int
	Features int
	Values   []float64
}

// Shape returns the tensor shape including the batch dimension.
func (w *Window) Shape() [3]int {
	return [3]int{1, w.Steps, w.Features}
}

// Row returns the i-th timestep. The returned slice aliases the window.
func (w *Window) Row(i int) []float64 {
	return w.Values[i*w.Features : (i+1)*w.Features]
}

// Float32 returns a float32 copy of the values for graph runtimes.
func (w *Window) Float32() []float32 {
	out := make([]float32, len(w.Values))
	for i, v := range w.Values {
		out[i] = float32(v)
	}
	return out
}

// Rows returns a copy of the window as a matrix.
func (w *Window) Rows() [][]float64 {
	rows := make([][]float64, w.Steps)
	for i := range rows {
		rows[i] = append([]float64(nil), w.Row(i)...)
	}
	return rows
}

// WindowBuilder turns raw readings into a normalized fixed-length window.
type WindowBuilder struct {
	schema Schema
	size   int
	norm   Normalizer
}

// NewWindowBuilder creates a builder for the given schema and window size.
func NewWindowBuilder(schema Schema, size int, norm Normalizer) (*WindowBuilder, error) {
	if len(schema) == 0 {
		return nil, fmt.Errorf("feature schema is empty")
	}
	if size <= 0 {
		return nil, fmt.Errorf("window size must be positive, got %d", size)
	}
	if norm == nil {
		return nil, fmt.Errorf("normalizer is required")
	}
	return &WindowBuilder{schema: schema, size: size, norm: norm}, nil
}

// Size returns the number of timesteps in built windows.
func (b *WindowBuilder) Size() int { return b.size }

// Build sorts, validates, normalizes and pads or truncates records into a window.
func (b *WindowBuilder) Build(records []Reading) (*Window, error) {
	if len(records) == 0 {
		return nil, &ValidationError{Field: "records", Reason: "at least one record is required"}
	}

	ordered := orderRecords(records)

	if missing := b.missingFeatures(ordered); len(missing) > 0 {
		return nil, &SchemaMismatchError{Missing: missing}
	}

	raw := make([][]float64, len(ordered))
	for i, rec := range ordered {
		row := make([]float64, len(b.schema))
		for j, name := range b.schema {
			row[j] = rec[name]
		}
		raw[i] = row
	}

	scaled, err := b.norm.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("normalize records: %w", err)
	}
	if len(scaled) != len(raw) {
		return nil, fmt.Errorf("normalizer returned %d rows, expected %d", len(scaled), len(raw))
	}

	w := &Window{
		Steps:    b.size,
		Features: len(b.schema),
		Values:   make([]float64, 0, b.size*len(b.schema)),
	}

	if pad := b.size - len(scaled); pad > 0 {
		for i := 0; i < pad; i++ {
			w.Values = append(w.Values, scaled[0]...)
		}
	} else {
		scaled = scaled[len(scaled)-b.size:]
	}
	for _, row := range scaled {
		if len(row) != w.Features {
			return nil, fmt.Errorf("normalizer returned row of width %d, expected %d", len(row), w.Features)
		}
		w.Values = append(w.Values, row...)
	}

	return w, nil
}

func (b *WindowBuilder) missingFeatures(records []Reading) []string {
	seen := make(map[string]bool)
	var missing []string
	for _, rec := range records {
		for _, name := range b.schema {
			if _, ok := rec[name]; !ok && !seen[name] {
				seen[name] = true
				missing = append(missing, name)
			}
		}
	}
	sort.Strings(missing)
	return missing
}

// orderRecords returns the records sorted by cycle when any record carries one.
// Records without a cycle keep their relative order after the ordered ones.
func orderRecords(records []Reading) []Reading {
	hasKey := false
	for _, r := range records {
		if _, ok := r.Cycle(); ok {
			hasKey = true
			break
		}
	}

	out := make([]Reading, len(records))
	copy(out, records)
	if !hasKey {
		return out
	}

	key := func(r Reading) float64 {
		if c, ok := r.Cycle(); ok && !math.IsNaN(c) {
			return c
		}
		return math.Inf(1)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return key(out[i]) < key(out[j])
	})
	return out
}
