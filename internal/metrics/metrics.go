// Package metrics provides Prometheus metrics collection for the RUL service.
// It defines the prediction, invocation and bridge metrics exposed via the
// /metrics endpoint for monitoring and alerting.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Prediction metrics
	Predictions        *prometheus.CounterVec // Predictions served, by mode
	Failures           *prometheus.CounterVec // Failed predictions, by pipeline stage
	Latency            prometheus.Histogram   // End-to-end prediction latency in seconds
	PredictionValue    prometheus.Histogram   // Distribution of calibrated RUL values
	PredictionStd      prometheus.Histogram   // Distribution of MC dropout std
	Invocations        *prometheus.CounterVec // Successful model invocations, by path
	StochasticFallback prometheus.Counter     // MC passes recomputed deterministically
	FeatureDrift       *prometheus.GaugeVec   // Input drift score, by feature

	// Bridge metrics
	MQTTMessages *prometheus.CounterVec // MQTT requests handled, by result
}

// New creates and registers all Prometheus metrics using the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates metrics with a custom registry (useful for testing).
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		Predictions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rul_predictions_total",
			Help: "Total number of RUL predictions served",
		}, []string{"mode"}),
		Failures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rul_prediction_failures_total",
			Help: "Total number of failed RUL predictions by stage",
		}, []string{"stage"}),
		Latency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "rul_prediction_latency_seconds",
			Help:    "RUL prediction latency in seconds (end-to-end)",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		}),
		PredictionValue: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "rul_prediction_value",
			Help:    "Distribution of calibrated RUL predictions in cycles",
			Buckets: prometheus.LinearBuckets(0, 25, 13),
		}),
		PredictionStd: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "rul_prediction_std",
			Help:    "Distribution of MC dropout standard deviations in cycles",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 8),
		}),
		Invocations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rul_invocations_total",
			Help: "Total number of successful model invocations by calling convention",
		}, []string{"path"}),
		StochasticFallback: factory.NewCounter(prometheus.CounterOpts{
			Name: "rul_stochastic_fallbacks_total",
			Help: "Total number of MC passes that fell back to deterministic inference",
		}),
		FeatureDrift: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rul_feature_drift",
			Help: "Distance of the rolling input mean from the training reference, in reference spreads",
		}, []string{"feature"}),
		MQTTMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rul_mqtt_messages_total",
			Help: "Total number of MQTT prediction requests by result",
		}, []string{"result"}),
	}
}
