// Package app assembles the prediction pipeline from configuration.
package app

import (
	"fmt"

	"rul-service/internal/cfg"
	"rul-service/internal/ml"
	"rul-service/internal/storage"

	"github.com/rs/zerolog/log"
)

// Pipeline owns everything loaded at startup. Close releases it.
type Pipeline struct {
	ModelDir  string
	Artifacts *ml.Artifacts
	Predictor *ml.Predictor
}

// NewCalibrator builds the calibrator described by c.
func NewCalibrator(c cfg.Calibration) (ml.Calibrator, error) {
	return ml.NewCalibrator(c.Mode, c.A, c.B, c.T, c.BLow, c.BHigh, c.RulMin, c.RulMax)
}

// ResolveModelDir returns the registry's active version path when a registry
// is configured and has one, otherwise the configured model directory. The
// registry is closed again so admin tools can open it while serving.
func ResolveModelDir(c cfg.Settings) (string, error) {
	if c.RegistryPath == "" {
		return c.ModelDir, nil
	}

	store, err := storage.New(c.RegistryPath)
	if err != nil {
		return "", fmt.Errorf("open model registry: %w", err)
	}
	defer store.Close()

	dir, err := ml.NewModelManager(store).ResolveModelDir(c.ModelDir)
	if err != nil {
		return "", fmt.Errorf("resolve model dir: %w", err)
	}
	return dir, nil
}

// Build loads artifacts and wires the predictor. metrics may be nil.
func Build(c cfg.Settings, metrics ml.MetricsInterface) (*Pipeline, error) {
	calib, err := NewCalibrator(c.Calibration)
	if err != nil {
		return nil, fmt.Errorf("calibration: %w", err)
	}

	dir, err := ResolveModelDir(c)
	if err != nil {
		return nil, err
	}

	art, err := ml.LoadArtifacts(dir, ml.ArtifactOptions{
		ONNXLibrary:   c.ONNXRuntimeLib,
		RemoteURL:     c.Remote.URL,
		RemoteModel:   c.Remote.Model,
		RemoteTimeout: c.Remote.Timeout,
	})
	if err != nil {
		return nil, err
	}

	predictor, err := ml.NewPredictor(art, ml.PredictorConfig{
		Calibrator: calib,
		MCWorkers:  c.MCWorkers,
		Version:    c.AppVersion,
		Drift: ml.DriftConfig{
			Window:    c.Drift.Window,
			Threshold: c.Drift.Threshold,
		},
	}, metrics)
	if err != nil {
		art.Close()
		return nil, err
	}

	log.Info().
		Str("model_dir", dir).
		Str("calib_mode", calib.Mode).
		Msg("pipeline built")

	return &Pipeline{ModelDir: dir, Artifacts: art, Predictor: predictor}, nil
}

func (p *Pipeline) Close() error {
	return p.Artifacts.Close()
}
