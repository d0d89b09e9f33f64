package iterm2

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/podshell/podshell/internal/profile"
	"github.com/podshell/podshell/internal/sink/sinktest"
)

func newSink(t *testing.T) *Sink {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, "DynamicProfiles")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	return New(&Config{ProfilesDir: dir})
}

func TestContract(t *testing.T) {
	sinktest.Run(t, func(t *testing.T) sinktest.Subject { return newSink(t) })
}

func TestFileFormat(t *testing.T) {
	s := newSink(t)
	p := profile.New("box", "ssh root@box.example.com")
	require.NoError(t, s.AddProfile(p, "SSH"))

	data, err := os.ReadFile(s.File())
	require.NoError(t, err)

	var raw map[string][]map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	require.Len(t, raw["Profiles"], 1)

	got := raw["Profiles"][0]
	assert.Equal(t, "box", got["Name"])
	assert.Equal(t, p.ID, got["Guid"])
	assert.Equal(t, "Yes", got["Custom Command"])
	assert.Equal(t, "ssh root@box.example.com", got["Command"])
	assert.Equal(t, []interface{}{"podshell", "SSH"}, got["Tags"])
	assert.Equal(t, float64(544), got["Title Components"])
}

func TestBackupGoesOutsideProfilesDir(t *testing.T) {
	s := newSink(t)
	require.NoError(t, s.Backup(), "missing file is skipped")

	require.NoError(t, s.AddProfile(profile.New("box", "ssh box"), "SSH"))
	require.NoError(t, s.Backup())

	entries, err := os.ReadDir(filepath.Dir(s.File()))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "only podshell.json in DynamicProfiles")

	backupDir := filepath.Join(filepath.Dir(filepath.Dir(s.File())), "DynamicProfilesBackup")
	matches, err := filepath.Glob(filepath.Join(backupDir, "podshell.backup.*.json"))
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestMalformedFile(t *testing.T) {
	s := newSink(t)
	require.NoError(t, os.WriteFile(s.File(), []byte("{not json"), 0o644))
	err := s.AddProfile(profile.New("box", "ssh box"), "SSH")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "malformed profiles file")
}

func TestAvailable(t *testing.T) {
	assert.True(t, newSink(t).Available())
	missing := New(&Config{ProfilesDir: filepath.Join(t.TempDir(), "missing")})
	assert.False(t, missing.Available())
}
