package scheduler

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileFlagStoreLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "review.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"enabled": true, "reviewTime": "08:30"}`), 0o644))

	flags, err := NewFileFlagStore(path).Load()
	require.NoError(t, err)
	assert.Equal(t, Flags{Enabled: true, ReviewTime: "08:30"}, flags)
}

func TestFileFlagStoreLoadMissingFile(t *testing.T) {
	flags, err := NewFileFlagStore(filepath.Join(t.TempDir(), "absent.json")).Load()
	require.NoError(t, err)
	assert.False(t, flags.Enabled)
}

func TestFileFlagStoreLoadMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "review.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"enabled": tru`), 0o644))

	_, err := NewFileFlagStore(path).Load()
	require.Error(t, err)
}

func TestFileFlagStoreSavePreservesUnknownKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "review.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"enabled": true, "reviewTime": "08:30", "updatedBy": "admin"}`), 0o644))

	store := NewFileFlagStore(path)
	require.NoError(t, store.Save(Flags{Enabled: true, ReviewTime: "08:30", LastRunDate: "2026-10-18"}))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	var raw map[string]any
	require.NoError(t, json.Unmarshal(content, &raw), "file stays JSON")
	assert.Equal(t, "admin", raw["updatedBy"])
	assert.Equal(t, "2026-10-18", raw["lastRunDate"])

	flags, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "2026-10-18", flags.LastRunDate)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary files left behind")
}

func TestFileFlagStoreSaveCreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "review.json")
	store := NewFileFlagStore(path)

	require.NoError(t, store.Save(Flags{Enabled: false, ReviewTime: "17:00"}))
	flags, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, Flags{ReviewTime: "17:00"}, flags)
}
