package ml

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func floatPtr(v float64) *float64 { return &v }

func TestCalibrator_Linear(t *testing.T) {
	c, err := NewCalibrator(CalibLinear, 1.1, -3, 0, 0, 0, 0, nil)
	require.NoError(t, err)

	assert.InDelta(t, 107.0, c.Apply(100), 1e-9)
	assert.Equal(t, 0.0, c.Apply(-50), "clamped to rul_min")
	assert.Nil(t, c.UpperBound())
}

func TestCalibrator_Piecewise(t *testing.T) {
	c, err := NewCalibrator(CalibPiecewise, 1, 0, 120, 0, -8, 0, nil)
	require.NoError(t, err)

	tests := []struct {
		name string
		in   float64
		want float64
	}{
		{"below threshold", 80, 80},
		{"at threshold", 120, 120},
		{"above threshold", 150, 142},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Apply(tt.in))
		})
	}
}

func TestCalibrator_ClampUpperBound(t *testing.T) {
	c, err := NewCalibrator(CalibLinear, 1, 0, 0, 0, 0, 0, floatPtr(125))
	require.NoError(t, err)

	assert.Equal(t, 125.0, c.Apply(300))
	require.NotNil(t, c.UpperBound())
	assert.Equal(t, 125.0, *c.UpperBound())
}

func TestCalibrator_ClampIsIdempotent(t *testing.T) {
	c, err := NewCalibrator(CalibLinear, 1, 0, 0, 0, 0, 5, floatPtr(125))
	require.NoError(t, err)

	for _, y := range []float64{-10, 0, 5, 60, 125, 400, math.Inf(1), math.Inf(-1), math.NaN()} {
		once := c.Clamp(y)
		assert.Equal(t, once, c.Clamp(once))
		assert.GreaterOrEqual(t, once, 5.0)
		assert.LessOrEqual(t, once, 125.0)
	}
}

func TestCalibrator_NaNClampsToMin(t *testing.T) {
	c, err := NewCalibrator(CalibLinear, 1, 0, 0, 0, 0, 3, floatPtr(125))
	require.NoError(t, err)

	got := c.Apply(math.NaN())
	assert.Equal(t, 3.0, got)
	assert.Equal(t, []float64{3, 3}, c.ApplyAll([]float64{math.NaN(), math.NaN()}))
}

func TestCalibrator_Deterministic(t *testing.T) {
	c, err := NewCalibrator(CalibPiecewise, 1, 0, 120, 2, -8, 0, nil)
	require.NoError(t, err)

	for _, y := range []float64{0, 119.9, 120, 120.1, 200} {
		assert.Equal(t, c.Apply(y), c.Apply(y))
	}
}

func TestNewCalibrator_Errors(t *testing.T) {
	_, err := NewCalibrator("quadratic", 1, 0, 0, 0, 0, 0, nil)
	assert.Error(t, err)

	_, err = NewCalibrator(CalibLinear, 1, 0, 0, 0, 0, 10, floatPtr(5))
	assert.Error(t, err)

	_, err = NewCalibrator(CalibLinear, math.NaN(), 0, 0, 0, 0, 0, nil)
	assert.Error(t, err, "NaN coefficient")

	_, err = NewCalibrator(CalibPiecewise, 1, 0, 120, math.Inf(1), -8, 0, nil)
	assert.Error(t, err, "infinite offset")

	_, err = NewCalibrator(CalibLinear, 1, 0, 0, 0, 0, math.NaN(), nil)
	assert.Error(t, err, "NaN rul_min")

	_, err = NewCalibrator(CalibLinear, 1, 0, 0, 0, 0, 0, floatPtr(math.NaN()))
	assert.Error(t, err, "NaN rul_max")

	pinned, err := NewCalibrator(CalibLinear, 1, 0, 0, 0, 0, 50, floatPtr(50))
	require.NoError(t, err, "rul_max may equal rul_min")
	assert.Equal(t, 50.0, pinned.Apply(10))

	c, err := NewCalibrator("", 1, 0, 0, 0, 0, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, CalibLinear, c.Mode)
}

func TestCalibrator_ApplyAll(t *testing.T) {
	c, err := NewCalibrator(CalibLinear, 2, 1, 0, 0, 0, 0, nil)
	require.NoError(t, err)

	in := []float64{1, -5, 3}
	out := c.ApplyAll(in)

	assert.Equal(t, []float64{3, 0, 7}, out)
	assert.Equal(t, []float64{1, -5, 3}, in, "input untouched")
}

func TestSummarize(t *testing.T) {
	s := Summarize([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	assert.InDelta(t, 5.0, s.Mean, 1e-9)
	// sample std with ddof=1
	assert.InDelta(t, 2.138089935, s.Std, 1e-9)
	assert.InDelta(t, 5-1.96*s.Std, s.CI95[0], 1e-9)
	assert.InDelta(t, 5+1.96*s.Std, s.CI95[1], 1e-9)

	single := Summarize([]float64{42})
	assert.Equal(t, Summary{Mean: 42, Std: 0, CI95: [2]float64{42, 42}}, single)

	assert.Equal(t, Summary{}, Summarize(nil))
}

func TestScaler_Kinds(t *testing.T) {
	std, err := NewScaler(ScalerParams{Kind: ScalerStandard, Mean: []float64{10, 0}, Scale: []float64{2, 0}}, 2)
	require.NoError(t, err)
	out, err := std.Transform([][]float64{{14, 3}})
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{2, 3}}, out, "zero scale leaves feature unscaled")

	mm, err := NewScaler(ScalerParams{Kind: ScalerMinMax, Min: []float64{-1}, Scale: []float64{0.5}}, 1)
	require.NoError(t, err)
	out, err = mm.Transform([][]float64{{4}, {0}})
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{1}, {-1}}, out)

	_, err = mm.Transform([][]float64{{1, 2}})
	assert.Error(t, err)
}

func TestScaler_Invalid(t *testing.T) {
	_, err := NewScaler(ScalerParams{Kind: "robust", Scale: []float64{1}}, 1)
	assert.Error(t, err)

	_, err = NewScaler(ScalerParams{Kind: ScalerStandard, Mean: []float64{1}, Scale: []float64{1, 2}}, 1)
	assert.Error(t, err)

	_, err = NewScaler(ScalerParams{Kind: ScalerMinMax, Scale: []float64{1}}, 1)
	assert.Error(t, err)
}

func TestLoadScaler(t *testing.T) {
	path := filepath.Join(t.TempDir(), ScalerFile)
	require.NoError(t, os.WriteFile(path, []byte(`{"kind":"standard","mean":[1,2],"scale":[1,1]}`), 0o600))

	s, err := LoadScaler(path, 2)
	require.NoError(t, err)
	out, err := s.Transform([][]float64{{1, 2}})
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{0, 0}}, out)

	_, err = LoadScaler(path, 3)
	assert.Error(t, err)
}
