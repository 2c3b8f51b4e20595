package ml

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var cmapssSchema = Schema{"sensor_2", "sensor_3", "sensor_4", "sensor_5"}

func newTestPredictor(t *testing.T, art *Artifacts, calib Calibrator, metrics MetricsInterface) *Predictor {
	t.Helper()
	p, err := NewPredictor(art, PredictorConfig{Calibrator: calib, MCWorkers: 2, Version: "1.0.0"}, metrics)
	require.NoError(t, err)
	return p
}

func mustCalibrator(t *testing.T, mode string, a, b, tt, bLow, bHigh, min float64, max *float64) Calibrator {
	t.Helper()
	c, err := NewCalibrator(mode, a, b, tt, bLow, bHigh, min, max)
	require.NoError(t, err)
	return c
}

func TestPredictor_LinearClampScenario(t *testing.T) {
	art := testArtifacts(cmapssSchema, 30, &batchModel{out: []float64{-5}}, nil)
	p := newTestPredictor(t, art, mustCalibrator(t, CalibLinear, 1, 0, 0, 0, 0, 0, nil), nil)

	resp, err := p.Predict(context.Background(), PredictRequest{Unit: 1, Records: records(3, cmapssSchema...)})
	require.NoError(t, err)

	assert.Equal(t, 0.0, resp.RulPred)
	assert.Nil(t, resp.RulStd)
	assert.Nil(t, resp.CI95)
	assert.Equal(t, 1, resp.Unit)
}

func TestPredictor_PiecewiseScenario(t *testing.T) {
	calib := mustCalibrator(t, CalibPiecewise, 1, 0, 120, 0, -8, 0, nil)

	for raw, want := range map[float64]float64{150: 142, 80: 80} {
		art := testArtifacts(cmapssSchema, 30, &batchModel{out: []float64{raw}}, nil)
		p := newTestPredictor(t, art, calib, nil)

		resp, err := p.Predict(context.Background(), PredictRequest{Unit: 2, Records: records(5, cmapssSchema...)})
		require.NoError(t, err)
		assert.Equal(t, want, resp.RulPred, "raw %v", raw)
	}
}

// windowRecorder records the last window it was invoked with.
type windowRecorder struct {
	mu  sync.Mutex
	got *Window
}

func (m *windowRecorder) Kind() string { return "recorder" }

func (m *windowRecorder) PredictBatch(w *Window) ([]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.got = w
	return []float64{1}, nil
}

func (m *windowRecorder) last() *Window {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.got
}

func TestPredictor_PadsShortHistoryScenario(t *testing.T) {
	recorder := &windowRecorder{}
	art := testArtifacts(cmapssSchema, 30, recorder, nil)
	p := newTestPredictor(t, art, Calibrator{}, nil)

	_, err := p.Predict(context.Background(), PredictRequest{Unit: 3, Records: records(10, cmapssSchema...)})
	require.NoError(t, err)

	w := recorder.last()
	require.NotNil(t, w)
	assert.Equal(t, [3]int{1, 30, 4}, w.Shape())
	for i := 0; i < 20; i++ {
		assert.Equal(t, []float64{1, 1, 1, 1}, w.Row(i))
	}
	assert.Equal(t, []float64{10, 10, 10, 10}, w.Row(29))
}

func TestPredictor_SchemaMismatchScenario(t *testing.T) {
	metrics := NewMockMetrics()
	model := &batchModel{out: []float64{1}}
	art := testArtifacts(cmapssSchema, 30, model, nil)
	p := newTestPredictor(t, art, Calibrator{}, metrics)

	recs := records(5, "sensor_2", "sensor_3", "sensor_4")
	_, err := p.Predict(context.Background(), PredictRequest{Unit: 1, Records: recs})
	require.Error(t, err)

	assert.ErrorIs(t, err, ErrSchemaMismatch)
	var sm *SchemaMismatchError
	require.True(t, errors.As(err, &sm))
	assert.Equal(t, []string{"sensor_5"}, sm.Missing)

	var pe *PredictionError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, StageWindow, pe.Stage)
	assert.Equal(t, 1, metrics.Failures(StageWindow))
	assert.Equal(t, int32(0), model.calls.Load(), "model must not be invoked")
}

func TestPredictor_MCDegenerateSinglePass(t *testing.T) {
	m := &callModel{stochasticOut: func(int32) []float64 { return []float64{88} }}
	art := testArtifacts(cmapssSchema, 30, m, m)
	p := newTestPredictor(t, art, Calibrator{}, nil)

	resp, err := p.Predict(context.Background(), PredictRequest{Unit: 1, Records: records(3, cmapssSchema...), MCPasses: 1})
	require.NoError(t, err)

	assert.Equal(t, 88.0, resp.RulPred)
	require.NotNil(t, resp.RulStd)
	assert.Equal(t, 0.0, *resp.RulStd)
	require.NotNil(t, resp.CI95)
	assert.Equal(t, [2]float64{88, 88}, *resp.CI95)
}

func TestPredictor_MCCalibratesEachSample(t *testing.T) {
	m := &callModel{stochasticOut: func(n int32) []float64 {
		if n%2 == 0 {
			return []float64{-10}
		}
		return []float64{10}
	}}
	art := testArtifacts(cmapssSchema, 30, m, m)
	metrics := NewMockMetrics()
	p := newTestPredictor(t, art, mustCalibrator(t, CalibLinear, 1, 0, 0, 0, 0, 0, nil), metrics)

	resp, err := p.Predict(context.Background(), PredictRequest{Unit: 1, Records: records(3, cmapssSchema...), MCPasses: 4})
	require.NoError(t, err)

	// samples clamp to {10, 0, 10, 0} before summarizing
	assert.InDelta(t, 5.0, resp.RulPred, 1e-9)
	require.NotNil(t, resp.RulStd)
	assert.InDelta(t, 5.773502692, *resp.RulStd, 1e-9)
	assert.Equal(t, 1, metrics.Predictions(ModeMC))
}

func TestPredictor_MCFailure(t *testing.T) {
	m := &callModel{err: errFake, stochasticErr: errFake}
	art := testArtifacts(cmapssSchema, 30, m, m)
	metrics := NewMockMetrics()
	p := newTestPredictor(t, art, Calibrator{}, metrics)

	_, err := p.Predict(context.Background(), PredictRequest{Unit: 1, Records: records(3, cmapssSchema...), MCPasses: 3})
	require.Error(t, err)

	var pe *PredictionError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, StageUncertainty, pe.Stage)
	assert.ErrorIs(t, err, ErrInferenceFailure)
	assert.Equal(t, 1, metrics.Failures(StageUncertainty))
}

func TestPredictor_InferenceFailure(t *testing.T) {
	art := testArtifacts(cmapssSchema, 30, &batchModel{err: errFake}, nil)
	p := newTestPredictor(t, art, Calibrator{}, nil)

	_, err := p.Predict(context.Background(), PredictRequest{Unit: 1, Records: records(3, cmapssSchema...)})

	var pe *PredictionError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, StageInference, pe.Stage)
	assert.ErrorIs(t, err, ErrInferenceFailure)
}

func TestPredictor_Validation(t *testing.T) {
	model := &batchModel{out: []float64{1}}
	art := testArtifacts(cmapssSchema, 30, model, nil)
	p := newTestPredictor(t, art, Calibrator{}, nil)

	tests := []struct {
		name  string
		req   PredictRequest
		field string
	}{
		{"unit zero", PredictRequest{Unit: 0, Records: records(1, cmapssSchema...)}, "unit"},
		{"no records", PredictRequest{Unit: 1}, "records"},
		{"empty records", PredictRequest{Unit: 1, Records: []Reading{}}, "records"},
		{"negative passes", PredictRequest{Unit: 1, Records: records(1, cmapssSchema...), MCPasses: -1}, "mc_passes"},
		{"too many passes", PredictRequest{Unit: 1, Records: records(1, cmapssSchema...), MCPasses: MaxMCPasses + 1}, "mc_passes"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Predict(context.Background(), tt.req)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrValidation)

			var ve *ValidationError
			require.True(t, errors.As(err, &ve))
			assert.Equal(t, tt.field, ve.Field)
		})
	}
	assert.Equal(t, int32(0), model.calls.Load())
}

func TestPredictor_DefaultsToIdentityCalibration(t *testing.T) {
	art := testArtifacts(cmapssSchema, 30, &batchModel{out: []float64{-3}}, nil)
	p := newTestPredictor(t, art, Calibrator{}, nil)

	resp, err := p.Predict(context.Background(), PredictRequest{Unit: 1, Records: records(1, cmapssSchema...)})
	require.NoError(t, err)
	assert.Equal(t, 0.0, resp.RulPred)
}

func TestPredictor_HealthInfo(t *testing.T) {
	graph := &graphModel{signatures: []string{DefaultSignature}}
	art := testArtifacts(cmapssSchema, 30, &batchModel{out: []float64{1}}, &callModel{})
	art.Graph = graph
	calib := mustCalibrator(t, CalibPiecewise, 1, 0, 120, 0, -8, 0, floatPtr(130))
	p := newTestPredictor(t, art, calib, nil)

	h := p.HealthInfo()
	assert.Equal(t, "ok", h.Status)
	assert.Equal(t, "1.0.0", h.Version)
	assert.Equal(t, "fake-batch", h.ModelKind)
	assert.True(t, h.StochasticLoaded)
	assert.Equal(t, 30, h.WindowSize)
	assert.Equal(t, 4, h.FeatureCount)
	assert.Equal(t, CalibPiecewise, h.CalibMode)
	require.NotNil(t, h.RulMax)
	assert.Equal(t, 130.0, *h.RulMax)
	assert.Equal(t, []string{DefaultSignature}, h.Signatures)
	assert.Equal(t, []string{PathBatchPredict, PathSignature}, h.InvocationPaths)
}

func TestNewPredictor_RequiresPrimary(t *testing.T) {
	_, err := NewPredictor(nil, PredictorConfig{}, nil)
	assert.Error(t, err)

	_, err = NewPredictor(&Artifacts{Schema: cmapssSchema, WindowSize: 3, Scaler: identityScaler{}}, PredictorConfig{}, nil)
	assert.Error(t, err)
}
