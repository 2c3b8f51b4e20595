package ml

import (
	"testing"
	"time"

	"rul-service/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *ModelManager {
	t.Helper()
	store, err := storage.New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return NewModelManager(store)
}

func TestModelManager_AddVersion(t *testing.T) {
	mm := newTestManager(t)
	dir := writeModelDir(t)

	v, err := mm.AddVersion("", dir, ModelMetrics{RMSE: 15.2, Units: 100})
	require.NoError(t, err)
	assert.Equal(t, "fd001-test", v.Version, "version read from config.json")
	assert.False(t, v.IsActive)

	_, err = mm.AddVersion("", dir, ModelMetrics{})
	assert.Error(t, err, "duplicate version")

	_, err = mm.AddVersion("v-missing", t.TempDir(), ModelMetrics{})
	assert.Error(t, err, "directory without artifacts")
}

func TestModelManager_ActivateAndRollback(t *testing.T) {
	mm := newTestManager(t)

	_, err := mm.AddVersion("v1", writeModelDir(t), ModelMetrics{})
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	_, err = mm.AddVersion("v2", writeModelDir(t), ModelMetrics{})
	require.NoError(t, err)

	cur, err := mm.GetCurrentVersion()
	require.NoError(t, err)
	assert.Nil(t, cur)

	require.NoError(t, mm.ActivateVersion("v2"))
	cur, err = mm.GetCurrentVersion()
	require.NoError(t, err)
	require.NotNil(t, cur)
	assert.Equal(t, "v2", cur.Version)

	prev, err := mm.Rollback()
	require.NoError(t, err)
	assert.Equal(t, "v1", prev.Version)

	_, err = mm.Rollback()
	assert.Error(t, err, "nothing older than v1")

	assert.Error(t, mm.ActivateVersion("v9"))
}

func TestModelManager_ResolveModelDir(t *testing.T) {
	mm := newTestManager(t)

	dir, err := mm.ResolveModelDir("models/default")
	require.NoError(t, err)
	assert.Equal(t, "models/default", dir)

	v, err := mm.AddVersion("v1", writeModelDir(t), ModelMetrics{})
	require.NoError(t, err)
	require.NoError(t, mm.ActivateVersion("v1"))

	dir, err = mm.ResolveModelDir("models/default")
	require.NoError(t, err)
	assert.Equal(t, v.Path, dir)

	list, err := mm.ListVersions()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].IsActive)
}
