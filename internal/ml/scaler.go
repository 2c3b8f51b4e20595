package ml

import (
	"encoding/json"
	"fmt"
	"os"
)

// Scaler kinds accepted in scaler.json.
const (
	ScalerStandard = "standard"
	ScalerMinMax   = "minmax"
)

// ScalerParams is the on-disk form of the fitted normalization parameters.
type ScalerParams struct {
	Kind  string    `json:"kind"`
	Mean  []float64 `json:"mean,omitempty"`
	Scale []float64 `json:"scale"`
	Min   []float64 `json:"min,omitempty"`
}

// StandardScaler computes (x - mean) / scale per feature.
type StandardScaler struct {
	mean  []float64
	scale []float64
}

// MinMaxScaler computes x*scale + min per feature.
type MinMaxScaler struct {
	min   []float64
	scale []float64
}

// NewScaler builds a Normalizer for the given number of features.
func NewScaler(p ScalerParams, features int) (Normalizer, error) {
	if len(p.Scale) != features {
		return nil, fmt.Errorf("scaler has %d scale values, expected %d", len(p.Scale), features)
	}

	switch p.Kind {
	case ScalerStandard, "":
		if len(p.Mean) != features {
			return nil, fmt.Errorf("scaler has %d mean values, expected %d", len(p.Mean), features)
		}
		scale := make([]float64, features)
		for i, s := range p.Scale {
			// zero variance features are left centered but unscaled
			if s == 0 {
				s = 1
			}
			scale[i] = s
		}
		return &StandardScaler{mean: append([]float64(nil), p.Mean...), scale: scale}, nil
	case ScalerMinMax:
		if len(p.Min) != features {
			return nil, fmt.Errorf("scaler has %d min values, expected %d", len(p.Min), features)
		}
		return &MinMaxScaler{min: append([]float64(nil), p.Min...), scale: append([]float64(nil), p.Scale...)}, nil
	default:
		return nil, fmt.Errorf("unknown scaler kind %q", p.Kind)
	}
}

// LoadScaler reads scaler parameters from a JSON file.
func LoadScaler(path string, features int) (Normalizer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scaler: %w", err)
	}
	var p ScalerParams
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse scaler: %w", err)
	}
	return NewScaler(p, features)
}

func (s *StandardScaler) Transform(rows [][]float64) ([][]float64, error) {
	return transformRows(rows, len(s.mean), func(j int, v float64) float64 {
		return (v - s.mean[j]) / s.scale[j]
	})
}

func (s *MinMaxScaler) Transform(rows [][]float64) ([][]float64, error) {
	return transformRows(rows, len(s.min), func(j int, v float64) float64 {
		return v*s.scale[j] + s.min[j]
	})
}

func transformRows(rows [][]float64, width int, f func(int, float64) float64) ([][]float64, error) {
	out := make([][]float64, len(rows))
	for i, row := range rows {
		if len(row) != width {
			return nil, fmt.Errorf("row %d has %d features, expected %d", i, len(row), width)
		}
		scaled := make([]float64, width)
		for j, v := range row {
			scaled[j] = f(j, v)
		}
		out[i] = scaled
	}
	return out, nil
}
