package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
)

// Artifact file names inside a model directory.
const (
	FeaturesFile = "features.json"
	ConfigFile   = "config.json"
	ScalerFile   = "scaler.json"
	ONNXFile     = "model.onnx"
	NativeFile   = "model.json"
)

// ModelConfig is the content of config.json.
type ModelConfig struct {
	WindowSize int    `json:"window_size"`
	Version    string `json:"version,omitempty"`
}

// ArtifactOptions selects optional model sources.
type ArtifactOptions struct {
	// ONNXLibrary is the onnxruntime shared library path; empty uses the
	// runtime's default lookup.
	ONNXLibrary string
	// RemoteURL, when set, makes a TF-Serving endpoint the primary model.
	RemoteURL     string
	RemoteModel   string
	RemoteTimeout time.Duration
}

// Artifacts are the immutable inputs of the prediction pipeline, loaded once
// at startup.
type Artifacts struct {
	Dir        string
	Version    string
	Schema     Schema
	WindowSize int
	Scaler     Normalizer
	// Primary serves deterministic predictions.
	Primary Model
	// Stochastic honors the inference mode flag for MC dropout; may be nil.
	Stochastic Model
	// Graph supplies signatures when Primary has none; may be nil.
	Graph SignatureInvoker

	closers []func() error
}

// LoadArtifacts reads a model directory. Missing or invalid features, config,
// scaler or primary model are errors; an unloadable stochastic artifact is
// logged and skipped.
func LoadArtifacts(dir string, opts ArtifactOptions) (*Artifacts, error) {
	art := &Artifacts{Dir: dir}

	var features []string
	if err := readJSON(filepath.Join(dir, FeaturesFile), &features); err != nil {
		return nil, fmt.Errorf("load feature schema: %w", err)
	}
	if len(features) == 0 {
		return nil, fmt.Errorf("load feature schema: %s is empty", FeaturesFile)
	}
	art.Schema = Schema(features)

	var mc ModelConfig
	if err := readJSON(filepath.Join(dir, ConfigFile), &mc); err != nil {
		return nil, fmt.Errorf("load model config: %w", err)
	}
	if mc.WindowSize <= 0 {
		return nil, fmt.Errorf("load model config: window_size must be positive, got %d", mc.WindowSize)
	}
	art.WindowSize = mc.WindowSize
	art.Version = mc.Version

	scaler, err := LoadScaler(filepath.Join(dir, ScalerFile), len(features))
	if err != nil {
		return nil, fmt.Errorf("load scaler: %w", err)
	}
	art.Scaler = scaler

	var graph *ONNXModel
	if onnxPath := filepath.Join(dir, ONNXFile); fileExists(onnxPath) {
		graph, err = LoadONNXModel(onnxPath, mc.WindowSize, len(features), opts.ONNXLibrary)
		if err != nil {
			return nil, fmt.Errorf("load onnx model: %w", err)
		}
		art.closers = append(art.closers, graph.Close)
	}

	var native *NativeModel
	if nativePath := filepath.Join(dir, NativeFile); fileExists(nativePath) {
		native, err = LoadNativeModel(nativePath)
		if err != nil {
			log.Warn().Err(err).Str("path", nativePath).Msg("stochastic model unavailable")
			native = nil
		} else {
			art.Stochastic = native
		}
	}

	switch {
	case opts.RemoteURL != "":
		art.Primary = NewRemoteModel(opts.RemoteURL, opts.RemoteModel, opts.RemoteTimeout)
		if graph != nil {
			art.Graph = graph
		}
	case graph != nil:
		art.Primary = graph
	case native != nil:
		art.Primary = native
	default:
		art.Close()
		return nil, fmt.Errorf("no loadable model in %s (expected %s or %s)", dir, ONNXFile, NativeFile)
	}

	log.Info().
		Str("dir", dir).
		Str("version", art.Version).
		Str("primary", art.Primary.Kind()).
		Bool("stochastic", art.Stochastic != nil).
		Int("window_size", art.WindowSize).
		Int("n_features", len(art.Schema)).
		Msg("model artifacts loaded")

	return art, nil
}

// Close releases runtime resources held by loaded models.
func (a *Artifacts) Close() error {
	var errs []error
	for _, c := range a.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
