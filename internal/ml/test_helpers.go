package ml

import "sync"

// MockMetrics implements MetricsInterface for testing
type MockMetrics struct {
	mu                  sync.Mutex
	predictions         map[string]int
	failures            map[string]int
	invocations         map[string]int
	latencyCount        int
	stochasticFallbacks int
	predictionValues    []float64
	uncertainties       []float64
	drift               map[string]float64
}

func NewMockMetrics() *MockMetrics {
	return &MockMetrics{
		predictions: make(map[string]int),
		failures:    make(map[string]int),
		invocations: make(map[string]int),
		drift:       make(map[string]float64),
	}
}

func (m *MockMetrics) PredictionsInc(mode string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.predictions[mode]++
}

func (m *MockMetrics) FailuresInc(stage string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[stage]++
}

func (m *MockMetrics) LatencyObserve(float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latencyCount++
}

func (m *MockMetrics) InvocationInc(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invocations[path]++
}

func (m *MockMetrics) StochasticFallbackInc() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stochasticFallbacks++
}

func (m *MockMetrics) PredictionObserve(v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.predictionValues = append(m.predictionValues, v)
}

func (m *MockMetrics) UncertaintyObserve(v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uncertainties = append(m.uncertainties, v)
}

func (m *MockMetrics) DriftObserve(feature string, score float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drift[feature] = score
}

func (m *MockMetrics) Drift(feature string) (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.drift[feature]
	return v, ok
}

func (m *MockMetrics) Failures(stage string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failures[stage]
}

func (m *MockMetrics) Predictions(mode string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.predictions[mode]
}

func (m *MockMetrics) Invocations(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.invocations[path]
}

func (m *MockMetrics) StochasticFallbacks() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stochasticFallbacks
}
