package ml

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func singleRow(values ...float64) *Window {
	return &Window{Steps: 1, Features: len(values), Values: values}
}

func TestNewDriftMonitor_DisabledWithoutWindow(t *testing.T) {
	dm := NewDriftMonitor(Schema{"a"}, DriftReferenceFor(identityScaler{}, 1), DriftConfig{}, nil)
	assert.Nil(t, dm)

	// A nil monitor is inert.
	dm.Observe(singleRow(1))
	assert.Nil(t, dm.Scores())
}

func TestDriftReferenceFor(t *testing.T) {
	std := DriftReferenceFor(&StandardScaler{}, 2)
	assert.Equal(t, []DriftReference{{0, 1}, {0, 1}}, std)

	mm := DriftReferenceFor(&MinMaxScaler{}, 1)
	assert.Equal(t, []DriftReference{{0.5, 0.5}}, mm)
}

func TestDriftMonitor_ScoresRollingMean(t *testing.T) {
	metrics := NewMockMetrics()
	ref := []DriftReference{{Center: 0, Spread: 1}, {Center: 0, Spread: 2}}
	dm := NewDriftMonitor(Schema{"a", "b"}, ref, DriftConfig{Window: 10, Threshold: 2}, metrics)
	require.NotNil(t, dm)

	dm.Observe(singleRow(3, 3))
	scores := dm.Scores()
	require.NotNil(t, scores)
	assert.InDelta(t, 3.0, scores["a"], 1e-12)
	assert.InDelta(t, 1.5, scores["b"], 1e-12)

	got, ok := metrics.Drift("a")
	require.True(t, ok)
	assert.InDelta(t, 3.0, got, 1e-12)

	dm.Observe(singleRow(-1, -1))
	scores = dm.Scores()
	assert.InDelta(t, 1.0, scores["a"], 1e-12)
	assert.InDelta(t, 0.5, scores["b"], 1e-12)
}

func TestDriftMonitor_EvictsOldestRow(t *testing.T) {
	dm := NewDriftMonitor(Schema{"a"}, []DriftReference{{0, 1}}, DriftConfig{Window: 2}, nil)

	dm.Observe(singleRow(10))
	dm.Observe(singleRow(0))
	dm.Observe(singleRow(2))

	assert.InDelta(t, 1.0, dm.Scores()["a"], 1e-12)
}

func TestDriftMonitor_WaitsForMinimumSamples(t *testing.T) {
	dm := NewDriftMonitor(Schema{"a"}, []DriftReference{{0, 1}}, DriftConfig{Window: 30}, nil)

	dm.Observe(singleRow(1))
	dm.Observe(singleRow(1))
	assert.Nil(t, dm.Scores())

	dm.Observe(singleRow(1))
	assert.NotNil(t, dm.Scores())
}

func TestDriftMonitor_ObservesNewestRow(t *testing.T) {
	dm := NewDriftMonitor(Schema{"a"}, []DriftReference{{0, 1}}, DriftConfig{Window: 5}, nil)

	dm.Observe(&Window{Steps: 3, Features: 1, Values: []float64{100, 100, 4}})
	assert.InDelta(t, 4.0, dm.Scores()["a"], 1e-12)
}

func TestPredictor_ReportsDriftInHealth(t *testing.T) {
	art := testArtifacts(Schema{"sensor_2"}, 3, &batchModel{out: []float64{50}}, nil)
	p, err := NewPredictor(art, PredictorConfig{Drift: DriftConfig{Window: 4}}, nil)
	require.NoError(t, err)

	assert.Nil(t, p.HealthInfo().Drift)

	_, err = p.Predict(context.Background(), PredictRequest{Unit: 1, Records: records(3, "sensor_2")})
	require.NoError(t, err)

	drift := p.HealthInfo().Drift
	require.NotNil(t, drift)
	assert.InDelta(t, 3.0, drift["sensor_2"], 1e-12)
}
