// Package cmapss reads NASA C-MAPSS turbofan test data and scores RUL
// predictions against the published ground truth.
package cmapss

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"rul-service/internal/ml"

	"github.com/rs/zerolog/log"
)

const (
	ColumnUnit  = "unit"
	ColumnCycle = "cycle"
)

// Columns lists the C-MAPSS file layout: unit, cycle, three operating
// settings, then 21 sensors.
func Columns() []string {
	cols := []string{ColumnUnit, ColumnCycle}
	for i := 1; i <= 3; i++ {
		cols = append(cols, fmt.Sprintf("setting_%d", i))
	}
	for i := 1; i <= 21; i++ {
		cols = append(cols, fmt.Sprintf("sensor_%d", i))
	}
	return cols
}

// Record is one engine cycle.
type Record struct {
	Unit   int
	Cycle  int
	Values map[string]float64
}

// Dataset groups records by unit, each unit ordered by cycle.
type Dataset struct {
	units map[int][]Record
}

// LoadTestFile parses a whitespace separated test_FDxxx.txt file.
func LoadTestFile(path string) (*Dataset, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open test file: %w", err)
	}
	defer file.Close()

	ds, err := ParseTest(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	log.Info().
		Str("file", path).
		Int("units", len(ds.units)).
		Msg("C-MAPSS test data loaded")
	return ds, nil
}

// ParseTest reads C-MAPSS rows. Lines with fewer than 26 columns are skipped.
func ParseTest(r io.Reader) (*Dataset, error) {
	cols := Columns()
	ds := &Dataset{units: make(map[int][]Record)}

	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		parts := strings.Fields(scanner.Text())
		if len(parts) < len(cols) {
			continue
		}

		rec := Record{Values: make(map[string]float64, len(cols)-2)}
		for i, name := range cols {
			v, err := strconv.ParseFloat(parts[i], 64)
			if err != nil {
				return nil, fmt.Errorf("line %d column %s: %w", line, name, err)
			}
			switch name {
			case ColumnUnit:
				rec.Unit = int(v)
			case ColumnCycle:
				rec.Cycle = int(v)
			default:
				rec.Values[name] = v
			}
		}
		ds.units[rec.Unit] = append(ds.units[rec.Unit], rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read test data: %w", err)
	}

	for _, recs := range ds.units {
		sort.SliceStable(recs, func(i, j int) bool { return recs[i].Cycle < recs[j].Cycle })
	}
	return ds, nil
}

// Units returns unit ids in ascending order.
func (ds *Dataset) Units() []int {
	units := make([]int, 0, len(ds.units))
	for u := range ds.units {
		units = append(units, u)
	}
	sort.Ints(units)
	return units
}

// Records returns the unit's cycles in order, or nil for an unknown unit.
func (ds *Dataset) Records(unit int) []Record {
	return ds.units[unit]
}

// LoadRULFile reads RUL_FDxxx.txt: one true RUL per line, in unit order.
func LoadRULFile(path string) ([]float64, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open RUL file: %w", err)
	}
	defer file.Close()
	return ParseRUL(file)
}

func ParseRUL(r io.Reader) ([]float64, error) {
	var vals []float64
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		v, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return nil, fmt.Errorf("RUL line %d: %w", line, err)
		}
		vals = append(vals, v)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read RUL data: %w", err)
	}
	return vals, nil
}

// LastWindow returns the last size records. Shorter histories are
// left-padded with copies of the first record whose cycles count backwards
// from it.
func LastWindow(records []Record, size int) []Record {
	if len(records) >= size {
		return records[len(records)-size:]
	}
	if len(records) == 0 {
		return nil
	}

	need := size - len(records)
	first := records[0]
	out := make([]Record, 0, size)
	for c := first.Cycle - need; c < first.Cycle; c++ {
		pad := first
		pad.Cycle = c
		out = append(out, pad)
	}
	return append(out, records...)
}

// Readings keeps the schema features and cycle of each record, in the form
// the predict endpoint accepts.
func Readings(records []Record, schema ml.Schema) ([]ml.Reading, error) {
	out := make([]ml.Reading, 0, len(records))
	for _, r := range records {
		item := ml.Reading{ml.OrderingKey: float64(r.Cycle)}
		for _, f := range schema {
			v, ok := r.Values[f]
			if !ok {
				return nil, fmt.Errorf("feature %s missing from test data", f)
			}
			item[f] = v
		}
		out = append(out, item)
	}
	return out, nil
}

// BuildRequest assembles the predict request for one unit's window.
func BuildRequest(ds *Dataset, unit, window, mcPasses int, schema ml.Schema) (ml.PredictRequest, error) {
	recs := ds.Records(unit)
	if len(recs) == 0 {
		return ml.PredictRequest{}, fmt.Errorf("unit %d not found", unit)
	}
	readings, err := Readings(LastWindow(recs, window), schema)
	if err != nil {
		return ml.PredictRequest{}, fmt.Errorf("unit %d: %w", unit, err)
	}
	return ml.PredictRequest{Unit: unit, MCPasses: mcPasses, Records: readings}, nil
}

// ReadFeatures loads the ordered feature list from a model directory.
func ReadFeatures(modelDir string) (ml.Schema, error) {
	data, err := os.ReadFile(filepath.Join(modelDir, ml.FeaturesFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read features: %w", err)
	}
	var schema ml.Schema
	if err := json.Unmarshal(data, &schema); err != nil {
		return nil, fmt.Errorf("failed to parse features: %w", err)
	}
	if len(schema) == 0 {
		return nil, fmt.Errorf("%s lists no features", ml.FeaturesFile)
	}
	return schema, nil
}
