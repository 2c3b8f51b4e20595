// Package storage provides persistent data storage for the RUL service.
// It uses BoltDB as the underlying storage engine to keep the model registry:
// every registered model version, its evaluation metrics and which version is
// currently active.
//
// All operations run in BoltDB transactions, so a Store is safe for
// concurrent use within one process.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.etcd.io/bbolt"
)

const (
	versionsBucket = "model_versions" // Bucket name for model version records
	metaBucket     = "registry_meta"  // Bucket name for registry pointers

	activeKey = "active"

	// DBFile is the database file created inside the data path.
	DBFile = "rul-registry.db"
)

// ErrNotFound is returned when a version is not registered.
var ErrNotFound = errors.New("version not found")

// EvalMetrics are benchmark results recorded with a model version.
type EvalMetrics struct {
	MAE            float64 `json:"mae"`
	RMSE           float64 `json:"rmse"`
	NASAScore      float64 `json:"nasa_score"`
	Overestimation float64 `json:"overestimation_pct"`
	Units          int     `json:"units"`
}

// VersionRecord is one registered model artifact directory.
type VersionRecord struct {
	Version   string      `json:"version"`
	Path      string      `json:"path"`
	CreatedAt time.Time   `json:"created_at"`
	Metrics   EvalMetrics `json:"metrics"`
	IsActive  bool        `json:"is_active"`
}

// Store provides persistent storage for the model registry using BoltDB.
type Store struct {
	db *bbolt.DB // BoltDB database instance
}

// New creates a new storage instance with the specified data path.
// It initializes the BoltDB database and creates necessary buckets.
func New(dataPath string) (*Store, error) {
	if err := os.MkdirAll(dataPath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data path: %w", err)
	}
	dbPath := filepath.Join(dataPath, DBFile)

	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(versionsBucket)); err != nil {
			return fmt.Errorf("create versions bucket: %w", err)
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(metaBucket)); err != nil {
			return fmt.Errorf("create meta bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the database connection gracefully.
func (s *Store) Close() error {
	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		return err
	}
	return nil
}

// PutVersion stores a version record keyed by its version string.
// Existing records with the same version are replaced.
func (s *Store) PutVersion(rec VersionRecord) error {
	if rec.Version == "" {
		return fmt.Errorf("version is required")
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return putRecord(tx.Bucket([]byte(versionsBucket)), rec)
	})
}

// GetVersion returns the record for version or ErrNotFound.
func (s *Store) GetVersion(version string) (VersionRecord, error) {
	var rec VersionRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(versionsBucket)).Get([]byte(version))
		if data == nil {
			return fmt.Errorf("%s: %w", version, ErrNotFound)
		}
		return json.Unmarshal(data, &rec)
	})
	return rec, err
}

// ListVersions returns all records, newest first.
func (s *Store) ListVersions() ([]VersionRecord, error) {
	var records []VersionRecord

	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(versionsBucket)).ForEach(func(k, v []byte) error {
			var rec VersionRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("decode version %s: %w", k, err)
			}
			records = append(records, rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(records, func(i, j int) bool {
		if records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].Version > records[j].Version
		}
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	return records, nil
}

// SetActive marks version as the only active record in one transaction.
func (s *Store) SetActive(version string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(versionsBucket))
		if b.Get([]byte(version)) == nil {
			return fmt.Errorf("%s: %w", version, ErrNotFound)
		}

		var updated []VersionRecord
		err := b.ForEach(func(k, v []byte) error {
			var rec VersionRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("decode version %s: %w", k, err)
			}
			active := rec.Version == version
			if rec.IsActive != active {
				rec.IsActive = active
				updated = append(updated, rec)
			}
			return nil
		})
		if err != nil {
			return err
		}
		// bbolt forbids writes while iterating
		for _, rec := range updated {
			if err := putRecord(b, rec); err != nil {
				return err
			}
		}

		return tx.Bucket([]byte(metaBucket)).Put([]byte(activeKey), []byte(version))
	})
}

// ActiveVersion returns the active record; ok is false when none is set.
func (s *Store) ActiveVersion() (rec VersionRecord, ok bool, err error) {
	err = s.db.View(func(tx *bbolt.Tx) error {
		version := tx.Bucket([]byte(metaBucket)).Get([]byte(activeKey))
		if version == nil {
			return nil
		}
		data := tx.Bucket([]byte(versionsBucket)).Get(version)
		if data == nil {
			return fmt.Errorf("active version %s: %w", version, ErrNotFound)
		}
		ok = true
		return json.Unmarshal(data, &rec)
	})
	return rec, ok, err
}

func putRecord(b *bbolt.Bucket, rec VersionRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal version: %w", err)
	}
	return b.Put([]byte(rec.Version), data)
}
