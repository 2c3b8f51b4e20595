package metrics

// MetricsWrapper adapts Metrics to the method sets used by the prediction
// pipeline and the MQTT bridge.
type MetricsWrapper struct {
	m *Metrics
}

func NewWrapper(m *Metrics) *MetricsWrapper {
	return &MetricsWrapper{m: m}
}

func (w *MetricsWrapper) PredictionsInc(mode string) {
	w.m.Predictions.WithLabelValues(mode).Inc()
}

func (w *MetricsWrapper) FailuresInc(stage string) {
	w.m.Failures.WithLabelValues(stage).Inc()
}

func (w *MetricsWrapper) LatencyObserve(v float64) {
	w.m.Latency.Observe(v)
}

func (w *MetricsWrapper) InvocationInc(path string) {
	w.m.Invocations.WithLabelValues(path).Inc()
}

func (w *MetricsWrapper) StochasticFallbackInc() {
	w.m.StochasticFallback.Inc()
}

func (w *MetricsWrapper) PredictionObserve(v float64) {
	w.m.PredictionValue.Observe(v)
}

func (w *MetricsWrapper) UncertaintyObserve(v float64) {
	w.m.PredictionStd.Observe(v)
}

func (w *MetricsWrapper) DriftObserve(feature string, score float64) {
	w.m.FeatureDrift.WithLabelValues(feature).Set(score)
}

// MQTTMessageInc counts a bridged request; result is "ok", "error" or "invalid".
func (w *MetricsWrapper) MQTTMessageInc(result string) {
	w.m.MQTTMessages.WithLabelValues(result).Inc()
}
