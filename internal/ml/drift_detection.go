package ml

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// DriftReference is the training-time location and spread of one normalized
// feature.
type DriftReference struct {
	Center float64
	Spread float64
}

// DriftConfig configures input drift monitoring.
type DriftConfig struct {
	// Window is the number of recent rows kept per feature; 0 disables monitoring.
	Window int
	// Threshold is the score above which a feature is reported as drifted.
	Threshold float64
	// AlertCooldown spaces out drift warnings in the log.
	AlertCooldown time.Duration
}

// DriftMonitor detects when live inputs move away from the distribution the
// scaler was fitted on. Each feature's score is the distance between the
// rolling mean of its normalized values and the reference center, measured
// in reference spreads.
type DriftMonitor struct {
	mu         sync.Mutex
	names      []string
	ref        []DriftReference
	samples    [][]float64
	sums       []float64
	next       int
	count      int
	minSamples int
	threshold  float64
	cooldown   time.Duration
	lastAlert  time.Time
	metrics    MetricsInterface
}

// DriftReferenceFor derives references from the fitted normalizer: standard
// scaling yields center 0 and spread 1, min-max scaling the middle and half
// width of its output range.
func DriftReferenceFor(n Normalizer, features int) []DriftReference {
	ref := make([]DriftReference, features)
	for j := range ref {
		ref[j] = DriftReference{Center: 0, Spread: 1}
		if _, ok := n.(*MinMaxScaler); ok {
			ref[j] = DriftReference{Center: 0.5, Spread: 0.5}
		}
	}
	return ref
}

// NewDriftMonitor returns nil when config.Window is not positive.
func NewDriftMonitor(schema Schema, ref []DriftReference, config DriftConfig, metrics MetricsInterface) *DriftMonitor {
	if config.Window <= 0 {
		return nil
	}
	if config.Threshold <= 0 {
		config.Threshold = 2
	}
	if config.AlertCooldown <= 0 {
		config.AlertCooldown = time.Hour
	}

	dm := &DriftMonitor{
		names:      append([]string(nil), schema...),
		ref:        ref,
		samples:    make([][]float64, len(schema)),
		sums:       make([]float64, len(schema)),
		minSamples: max(1, config.Window/10),
		threshold:  config.Threshold,
		cooldown:   config.AlertCooldown,
		metrics:    metrics,
	}
	for j := range dm.samples {
		dm.samples[j] = make([]float64, config.Window)
	}
	return dm
}

// Observe records the newest row of w.
func (dm *DriftMonitor) Observe(w *Window) {
	if dm == nil || w.Steps == 0 {
		return
	}
	row := w.Row(w.Steps - 1)

	dm.mu.Lock()
	window := len(dm.samples[0])
	for j, v := range row {
		if j >= len(dm.samples) {
			break
		}
		dm.sums[j] += v - dm.samples[j][dm.next]
		dm.samples[j][dm.next] = v
	}
	dm.next = (dm.next + 1) % window
	if dm.count < window {
		dm.count++
	}
	if dm.count < dm.minSamples {
		dm.mu.Unlock()
		return
	}

	scores := dm.scoresLocked()
	var drifted []string
	for name, score := range scores {
		if score > dm.threshold {
			drifted = append(drifted, name)
		}
	}
	alert := len(drifted) > 0 && time.Since(dm.lastAlert) >= dm.cooldown
	if alert {
		dm.lastAlert = time.Now()
	}
	dm.mu.Unlock()

	if dm.metrics != nil {
		for name, score := range scores {
			dm.metrics.DriftObserve(name, score)
		}
	}
	if alert {
		sort.Strings(drifted)
		log.Warn().
			Strs("features", drifted).
			Float64("threshold", dm.threshold).
			Msg("input drift detected")
	}
}

// Scores returns the current score per feature, or nil before enough rows
// have been observed.
func (dm *DriftMonitor) Scores() map[string]float64 {
	if dm == nil {
		return nil
	}
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.count < dm.minSamples {
		return nil
	}
	return dm.scoresLocked()
}

func (dm *DriftMonitor) scoresLocked() map[string]float64 {
	scores := make(map[string]float64, len(dm.names))
	n := float64(dm.count)
	for j, name := range dm.names {
		ref := dm.ref[j]
		spread := ref.Spread
		if spread <= 0 {
			spread = 1
		}
		scores[name] = math.Abs(dm.sums[j]/n-ref.Center) / spread
	}
	return scores
}
