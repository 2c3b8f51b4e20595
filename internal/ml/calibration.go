package ml

import (
	"fmt"
	"math"
)

// Calibration modes.
const (
	CalibLinear    = "linear"
	CalibPiecewise = "piecewise"
)

// Calibrator is the post-hoc transform applied to every raw model output.
// Max is +Inf when no upper bound is configured; use NewCalibrator.
type Calibrator struct {
	Mode  string
	A     float64
	B     float64
	T     float64
	BLow  float64
	BHigh float64
	Min   float64
	Max   float64
}

// NewCalibrator validates the mode and bounds. A nil max leaves the upper bound
// open. Coefficients and bounds must be finite, and max must not be below min.
func NewCalibrator(mode string, a, b, t, bLow, bHigh, min float64, max *float64) (Calibrator, error) {
	c := Calibrator{Mode: mode, A: a, B: b, T: t, BLow: bLow, BHigh: bHigh, Min: min, Max: math.Inf(1)}
	if c.Mode == "" {
		c.Mode = CalibLinear
	}
	if c.Mode != CalibLinear && c.Mode != CalibPiecewise {
		return Calibrator{}, fmt.Errorf("unknown calibration mode %q", mode)
	}
	for _, p := range []struct {
		name string
		v    float64
	}{
		{"calib_a", a}, {"calib_b", b}, {"calib_t", t},
		{"calib_b_low", bLow}, {"calib_b_high", bHigh}, {"rul_min", min},
	} {
		if !isFinite(p.v) {
			return Calibrator{}, fmt.Errorf("%s must be finite, got %v", p.name, p.v)
		}
	}
	if max != nil {
		if !isFinite(*max) {
			return Calibrator{}, fmt.Errorf("rul_max must be finite, got %v", *max)
		}
		if *max < min {
			return Calibrator{}, fmt.Errorf("rul_max %.3f is below rul_min %.3f", *max, min)
		}
		c.Max = *max
	}
	return c, nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Calibrate applies the configured calibration without clamping.
func (c Calibrator) Calibrate(y float64) float64 {
	if c.Mode == CalibPiecewise {
		if y <= c.T {
			return y + c.BLow
		}
		return y + c.BHigh
	}
	return c.A*y + c.B
}

// Clamp bounds y to [Min, Max]; Max is skipped when infinite. NaN maps to Min.
func (c Calibrator) Clamp(y float64) float64 {
	if math.IsNaN(y) {
		return c.Min
	}
	y = math.Max(c.Min, y)
	if !math.IsInf(c.Max, 1) {
		y = math.Min(c.Max, y)
	}
	return y
}

// Apply calibrates then clamps.
func (c Calibrator) Apply(y float64) float64 {
	return c.Clamp(c.Calibrate(y))
}

// ApplyAll applies the transform element-wise into a new slice.
func (c Calibrator) ApplyAll(ys []float64) []float64 {
	out := make([]float64, len(ys))
	for i, y := range ys {
		out[i] = c.Apply(y)
	}
	return out
}

// UpperBound returns Max, or nil when unbounded.
func (c Calibrator) UpperBound() *float64 {
	if math.IsInf(c.Max, 1) {
		return nil
	}
	v := c.Max
	return &v
}

// Summary describes the calibrated predictive distribution of an MC batch.
type Summary struct {
	Mean float64
	Std  float64
	CI95 [2]float64
}

// Summarize computes mean, sample standard deviation and the 95% interval.
// Std is 0 for fewer than two samples.
func Summarize(samples []float64) Summary {
	if len(samples) == 0 {
		return Summary{}
	}

	var sum float64
	for _, v := range samples {
		sum += v
	}
	mean := sum / float64(len(samples))

	var std float64
	if len(samples) > 1 {
		var sq float64
		for _, v := range samples {
			d := v - mean
			sq += d * d
		}
		std = math.Sqrt(sq / float64(len(samples)-1))
	}

	return Summary{
		Mean: mean,
		Std:  std,
		CI95: [2]float64{mean - 1.96*std, mean + 1.96*std},
	}
}
