package ml

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand/v2"
	"os"
)

// Native layer types understood in model.json.
const (
	LayerLSTM    = "lstm"
	LayerDense   = "dense"
	LayerDropout = "dropout"
)

// LayerSpec is one layer of an exported sequence model. Kernel layouts follow
// the Keras convention: kernel is (inputs x units*gates) and LSTM gates are
// ordered input, forget, cell, output.
type LayerSpec struct {
	Type            string      `json:"type"`
	Units           int         `json:"units,omitempty"`
	Activation      string      `json:"activation,omitempty"`
	ReturnSequences bool        `json:"return_sequences,omitempty"`
	Rate            float64     `json:"rate,omitempty"`
	Kernel          [][]float64 `json:"kernel,omitempty"`
	RecurrentKernel [][]float64 `json:"recurrent_kernel,omitempty"`
	Bias            []float64   `json:"bias,omitempty"`
}

// NativeSpec is the JSON document stored as model.json.
type NativeSpec struct {
	InputShape []int       `json:"input_shape"`
	Layers     []LayerSpec `json:"layers"`
}

// NativeModel runs an LSTM/Dense/Dropout stack in process. It supports both
// batch prediction and direct calls with dropout enabled.
type NativeModel struct {
	spec       NativeSpec
	inputWidth int
	// rand returns values in [0, 1); replaced in tests for reproducible masks
	rand func() float64
}

// LoadNativeModel reads and validates model.json.
func LoadNativeModel(path string) (*NativeModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read native model: %w", err)
	}
	var spec NativeSpec
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("parse native model: %w", err)
	}
	return NewNativeModel(spec)
}

// NewNativeModel validates layer shapes against each other.
func NewNativeModel(spec NativeSpec) (*NativeModel, error) {
	if len(spec.Layers) == 0 {
		return nil, fmt.Errorf("native model has no layers")
	}

	width := 0
	if len(spec.InputShape) > 0 {
		width = spec.InputShape[len(spec.InputShape)-1]
	}
	for i, l := range spec.Layers {
		switch l.Type {
		case LayerLSTM:
			if err := checkKernel(l.Kernel, width, 4*l.Units); err != nil {
				return nil, fmt.Errorf("layer %d (lstm) kernel: %w", i, err)
			}
			if err := checkKernel(l.RecurrentKernel, l.Units, 4*l.Units); err != nil {
				return nil, fmt.Errorf("layer %d (lstm) recurrent kernel: %w", i, err)
			}
			if len(l.Bias) != 4*l.Units {
				return nil, fmt.Errorf("layer %d (lstm) bias has %d values, expected %d", i, len(l.Bias), 4*l.Units)
			}
			width = l.Units
		case LayerDense:
			if err := checkKernel(l.Kernel, width, l.Units); err != nil {
				return nil, fmt.Errorf("layer %d (dense) kernel: %w", i, err)
			}
			if len(l.Bias) != l.Units {
				return nil, fmt.Errorf("layer %d (dense) bias has %d values, expected %d", i, len(l.Bias), l.Units)
			}
			if _, err := activation(l.Activation); err != nil {
				return nil, fmt.Errorf("layer %d (dense): %w", i, err)
			}
			width = l.Units
		case LayerDropout:
			if l.Rate < 0 || l.Rate >= 1 {
				return nil, fmt.Errorf("layer %d (dropout) rate %.3f outside [0, 1)", i, l.Rate)
			}
		default:
			return nil, fmt.Errorf("layer %d: unsupported type %q", i, l.Type)
		}
	}

	return &NativeModel{spec: spec, inputWidth: inputWidth(spec), rand: rand.Float64}, nil
}

// inputWidth is the row count of the first weighted layer's kernel; leading
// dropout layers do not change the width.
func inputWidth(spec NativeSpec) int {
	for _, l := range spec.Layers {
		if l.Type != LayerDropout {
			return len(l.Kernel)
		}
	}
	return 0
}

// checkKernel verifies a rows x cols matrix; rows is unchecked when 0.
func checkKernel(k [][]float64, rows, cols int) error {
	if len(k) == 0 {
		return fmt.Errorf("missing")
	}
	if rows > 0 && len(k) != rows {
		return fmt.Errorf("has %d rows, expected %d", len(k), rows)
	}
	for _, r := range k {
		if len(r) != cols {
			return fmt.Errorf("row has %d columns, expected %d", len(r), cols)
		}
	}
	return nil
}

func (m *NativeModel) Kind() string { return "Native" }

func (m *NativeModel) PredictBatch(w *Window) ([]float64, error) {
	return m.forward(w, false)
}

func (m *NativeModel) Call(w *Window, stochastic bool) ([]float64, error) {
	return m.forward(w, stochastic)
}

func (m *NativeModel) forward(w *Window, training bool) ([]float64, error) {
	if m.inputWidth > 0 && m.inputWidth != w.Features {
		return nil, fmt.Errorf("model expects %d features, window has %d", m.inputWidth, w.Features)
	}

	x := w.Rows()
	for _, l := range m.spec.Layers {
		switch l.Type {
		case LayerLSTM:
			x = lstmForward(l, x)
		case LayerDense:
			act, _ := activation(l.Activation)
			x = denseForward(l, x, act)
		case LayerDropout:
			if training && l.Rate > 0 {
				x = m.dropout(x, l.Rate)
			}
		}
	}

	out := make([]float64, 0, len(x))
	for _, row := range x {
		out = append(out, row...)
	}
	return out, nil
}

func (m *NativeModel) dropout(x [][]float64, rate float64) [][]float64 {
	keep := 1 - rate
	out := make([][]float64, len(x))
	for i, row := range x {
		r := make([]float64, len(row))
		for j, v := range row {
			if m.rand() >= rate {
				r[j] = v / keep
			}
		}
		out[i] = r
	}
	return out
}

func lstmForward(l LayerSpec, x [][]float64) [][]float64 {
	u := l.Units
	h := make([]float64, u)
	c := make([]float64, u)
	z := make([]float64, 4*u)

	var seq [][]float64
	for _, xt := range x {
		copy(z, l.Bias)
		for i, v := range xt {
			if v == 0 {
				continue
			}
			for j, k := range l.Kernel[i] {
				z[j] += v * k
			}
		}
		for i, v := range h {
			if v == 0 {
				continue
			}
			for j, k := range l.RecurrentKernel[i] {
				z[j] += v * k
			}
		}

		for j := 0; j < u; j++ {
			ig := sigmoid(z[j])
			fg := sigmoid(z[u+j])
			cg := math.Tanh(z[2*u+j])
			og := sigmoid(z[3*u+j])
			c[j] = fg*c[j] + ig*cg
			h[j] = og * math.Tanh(c[j])
		}
		if l.ReturnSequences {
			seq = append(seq, append([]float64(nil), h...))
		}
	}

	if l.ReturnSequences {
		return seq
	}
	return [][]float64{h}
}

func denseForward(l LayerSpec, x [][]float64, act func(float64) float64) [][]float64 {
	out := make([][]float64, len(x))
	for r, row := range x {
		y := append([]float64(nil), l.Bias...)
		for i, v := range row {
			for j, k := range l.Kernel[i] {
				y[j] += v * k
			}
		}
		for j := range y {
			y[j] = act(y[j])
		}
		out[r] = y
	}
	return out
}

func activation(name string) (func(float64) float64, error) {
	switch name {
	case "", "linear":
		return func(v float64) float64 { return v }, nil
	case "relu":
		return func(v float64) float64 { return math.Max(0, v) }, nil
	case "tanh":
		return math.Tanh, nil
	case "sigmoid":
		return sigmoid, nil
	default:
		return nil, fmt.Errorf("unsupported activation %q", name)
	}
}

// sigmoid converts a score to a probability
func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}
