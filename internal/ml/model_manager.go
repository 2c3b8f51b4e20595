package ml

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"rul-service/internal/storage"

	"github.com/rs/zerolog/log"
)

// ModelVersion represents a versioned model artifact directory
type ModelVersion = storage.VersionRecord

// ModelMetrics contains benchmark metrics recorded for a model
type ModelMetrics = storage.EvalMetrics

// ModelManager handles model versioning and rollback
type ModelManager struct {
	store *storage.Store
}

// NewModelManager creates a new model manager backed by store
func NewModelManager(store *storage.Store) *ModelManager {
	return &ModelManager{store: store}
}

// AddVersion registers modelDir. An empty version uses the directory's
// config.json version, then a timestamp. Duplicate versions are rejected.
func (mm *ModelManager) AddVersion(version, modelDir string, metrics ModelMetrics) (ModelVersion, error) {
	abs, err := filepath.Abs(modelDir)
	if err != nil {
		return ModelVersion{}, fmt.Errorf("resolve model dir: %w", err)
	}
	if info, err := os.Stat(abs); err != nil || !info.IsDir() {
		return ModelVersion{}, fmt.Errorf("model dir %s is not a directory", modelDir)
	}
	for _, name := range []string{FeaturesFile, ConfigFile, ScalerFile} {
		if !fileExists(filepath.Join(abs, name)) {
			return ModelVersion{}, fmt.Errorf("model dir %s lacks %s", modelDir, name)
		}
	}

	if version == "" {
		var mc ModelConfig
		if err := readJSON(filepath.Join(abs, ConfigFile), &mc); err == nil {
			version = mc.Version
		}
	}
	if version == "" {
		version = time.Now().Format("20060102-150405")
	}

	if _, err := mm.store.GetVersion(version); err == nil {
		return ModelVersion{}, fmt.Errorf("version %s already registered", version)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return ModelVersion{}, err
	}

	v := ModelVersion{
		Version:   version,
		Path:      abs,
		CreatedAt: time.Now(),
		Metrics:   metrics,
	}
	if err := mm.store.PutVersion(v); err != nil {
		return ModelVersion{}, err
	}

	log.Info().Str("version", version).Str("path", abs).Msg("model version registered")
	return v, nil
}

// ActivateVersion activates a specific model version
func (mm *ModelManager) ActivateVersion(version string) error {
	if err := mm.store.SetActive(version); err != nil {
		return fmt.Errorf("activate %s: %w", version, err)
	}
	log.Info().Str("version", version).Msg("model version activated")
	return nil
}

// Rollback activates the version registered just before the active one
func (mm *ModelManager) Rollback() (ModelVersion, error) {
	versions, err := mm.store.ListVersions()
	if err != nil {
		return ModelVersion{}, err
	}
	if len(versions) < 2 {
		return ModelVersion{}, fmt.Errorf("no previous version available for rollback")
	}

	currentIdx := -1
	for i, v := range versions {
		if v.IsActive {
			currentIdx = i
			break
		}
	}
	if currentIdx == -1 {
		return ModelVersion{}, fmt.Errorf("no active version found")
	}
	if currentIdx+1 >= len(versions) {
		return ModelVersion{}, fmt.Errorf("no previous version available")
	}

	prev := versions[currentIdx+1]
	if err := mm.ActivateVersion(prev.Version); err != nil {
		return ModelVersion{}, err
	}
	prev.IsActive = true
	return prev, nil
}

// GetCurrentVersion returns the active version, or nil when none is set
func (mm *ModelManager) GetCurrentVersion() (*ModelVersion, error) {
	v, ok, err := mm.store.ActiveVersion()
	if err != nil || !ok {
		return nil, err
	}
	return &v, nil
}

// ListVersions returns all model versions, newest first
func (mm *ModelManager) ListVersions() ([]ModelVersion, error) {
	return mm.store.ListVersions()
}

// ResolveModelDir returns the active version's path, or fallback when the
// registry has no active version.
func (mm *ModelManager) ResolveModelDir(fallback string) (string, error) {
	v, err := mm.GetCurrentVersion()
	if err != nil {
		return "", err
	}
	if v == nil {
		return fallback, nil
	}
	log.Info().Str("version", v.Version).Str("path", v.Path).Msg("using registry model version")
	return v.Path, nil
}
