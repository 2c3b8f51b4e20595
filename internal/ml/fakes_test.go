package ml

import (
	"errors"
	"sync/atomic"
)

// identityScaler passes rows through unchanged.
type identityScaler struct{}

func (identityScaler) Transform(rows [][]float64) ([][]float64, error) {
	out := make([][]float64, len(rows))
	for i, r := range rows {
		out[i] = append([]float64(nil), r...)
	}
	return out, nil
}

var errFake = errors.New("fake model failure")

// batchModel only offers batch prediction.
type batchModel struct {
	out   []float64
	err   error
	calls atomic.Int32
}

func (m *batchModel) Kind() string { return "fake-batch" }

func (m *batchModel) PredictBatch(*Window) ([]float64, error) {
	m.calls.Add(1)
	return m.out, m.err
}

// callModel only offers direct calls. Stochastic calls return stochasticOut
// (or stochasticErr); deterministic calls return out (or err).
type callModel struct {
	out           []float64
	err           error
	stochasticOut func(n int32) []float64
	stochasticErr error

	deterministic atomic.Int32
	stochastic    atomic.Int32
}

func (m *callModel) Kind() string { return "fake-call" }

func (m *callModel) Call(_ *Window, stochastic bool) ([]float64, error) {
	if stochastic {
		n := m.stochastic.Add(1)
		if m.stochasticErr != nil {
			return nil, m.stochasticErr
		}
		if m.stochasticOut != nil {
			return m.stochasticOut(n), nil
		}
		return m.out, nil
	}
	m.deterministic.Add(1)
	return m.out, m.err
}

// graphModel only offers signatures.
type graphModel struct {
	signatures []string
	outputs    []NamedTensor
	err        error
	calls      atomic.Int32
}

func (m *graphModel) Kind() string { return "fake-graph" }

func (m *graphModel) Signatures() []string { return m.signatures }

func (m *graphModel) InvokeSignature(name string, _ *Window) ([]NamedTensor, error) {
	m.calls.Add(1)
	if m.err != nil {
		return nil, m.err
	}
	if name != DefaultSignature {
		return nil, errors.New("unknown signature")
	}
	return m.outputs, nil
}

// callGraphModel offers direct calls and signatures.
type callGraphModel struct {
	callModel
	graphModel
}

func (m *callGraphModel) Kind() string { return "fake-call-graph" }

// batchCallModel offers batch prediction and direct calls.
type batchCallModel struct {
	*batchModel
	*callModel
}

func (m *batchCallModel) Kind() string { return "fake-batch-call" }

// opaqueModel exposes no calling convention.
type opaqueModel struct{}

func (opaqueModel) Kind() string { return "opaque" }

// testArtifacts builds in-memory artifacts around primary.
func testArtifacts(schema Schema, windowSize int, primary, stochastic Model) *Artifacts {
	return &Artifacts{
		Dir:        "testdata",
		Version:    "test",
		Schema:     schema,
		WindowSize: windowSize,
		Scaler:     identityScaler{},
		Primary:    primary,
		Stochastic: stochastic,
	}
}

// records builds n readings with cycles 1..n and the given features set to
// the cycle number.
func records(n int, features ...string) []Reading {
	out := make([]Reading, n)
	for i := range out {
		r := Reading{OrderingKey: float64(i + 1)}
		for _, f := range features {
			r[f] = float64(i + 1)
		}
		out[i] = r
	}
	return out
}
