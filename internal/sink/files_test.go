package sink

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "settings.json")

	require.NoError(t, WriteFileAtomic(path, []byte(`{"a":1}`), 0o600))
	require.NoError(t, WriteFileAtomic(path, []byte(`{"a":2}`), 0o600))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `{"a":2}`, string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files are cleaned up")
}

func TestBackupName(t *testing.T) {
	at := time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)
	assert.Equal(t, "settings.backup.20240309140507.json", BackupName("/x/settings.json", at))
	assert.Equal(t, "podshell.backup.20240309140507.json", BackupName("podshell.json", at))
}

func TestBackupFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "settings.json")
	backups := filepath.Join(dir, "backups")
	now := time.Now()

	path, err := BackupFile(src, backups, DefaultRetention, now)
	require.NoError(t, err)
	assert.Empty(t, path, "missing source is skipped")

	require.NoError(t, os.WriteFile(src, []byte(`{"profiles":{}}`), 0o644))
	path, err = BackupFile(src, backups, DefaultRetention, now)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(backups, BackupName(src, now)), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `{"profiles":{}}`, string(data))
}

func TestPruneBackups(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "settings.json")
	now := time.Now()

	old := filepath.Join(dir, BackupName(src, now.Add(-8*24*time.Hour)))
	recent := filepath.Join(dir, BackupName(src, now.Add(-24*time.Hour)))
	other := filepath.Join(dir, "other.backup.20200101000000.json")
	for _, p := range []string{old, recent, other} {
		require.NoError(t, os.WriteFile(p, []byte("{}"), 0o644))
	}
	oldTime := now.Add(-8 * 24 * time.Hour)
	require.NoError(t, os.Chtimes(old, oldTime, oldTime))
	require.NoError(t, os.Chtimes(other, oldTime, oldTime))

	removed, err := PruneBackups(dir, src, DefaultRetention, now)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	assert.NoFileExists(t, old)
	assert.FileExists(t, recent)
	assert.FileExists(t, other, "backups of other stores are left alone")
}

func TestError(t *testing.T) {
	base := errors.New("permission denied")
	err := NewError("Windows Terminal", OpAdd, "web", base)
	assert.Equal(t, `Windows Terminal add_profile "web" failed: permission denied`, err.Error())
	assert.ErrorIs(t, err, base)

	err = NewError("iTerm2", OpBackup, "", base)
	assert.Equal(t, "iTerm2 backup failed: permission denied", err.Error())
}
