package sink

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const backupTimeLayout = "20060102150405"

// WriteFileAtomic writes data to a temp file next to path and renames it
// into place.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tempPath := tmp.Name()
	defer os.Remove(tempPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tempPath, perm); err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("failed to rename file: %w", err)
	}
	return nil
}

// BackupName returns "<base>.backup.<YYYYmmddHHMMSS>.json" for src
func BackupName(src string, at time.Time) string {
	return backupBase(src) + ".backup." + at.Format(backupTimeLayout) + ".json"
}

func backupBase(src string) string {
	base := filepath.Base(src)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// BackupFile copies src into dir and prunes backups of src in dir older
// than retention. A missing src is not an error; the returned path is empty.
func BackupFile(src, dir string, retention time.Duration, now time.Time) (string, error) {
	in, err := os.Open(src)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	defer in.Close()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}

	dst := filepath.Join(dir, BackupName(src, now))
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return "", fmt.Errorf("failed to copy %s: %w", src, err)
	}
	if err := out.Close(); err != nil {
		return "", err
	}

	if _, err := PruneBackups(dir, src, retention, now); err != nil {
		return dst, fmt.Errorf("backup written, prune failed: %w", err)
	}
	return dst, nil
}

// PruneBackups removes backups of src in dir whose modification time is
// older than retention and returns how many were removed.
func PruneBackups(dir, src string, retention time.Duration, now time.Time) (int, error) {
	if retention <= 0 {
		retention = DefaultRetention
	}
	matches, err := filepath.Glob(filepath.Join(dir, backupBase(src)+".backup.*.json"))
	if err != nil {
		return 0, err
	}

	removed := 0
	cutoff := now.Add(-retention)
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(m); err != nil {
				return removed, err
			}
			removed++
		}
	}
	return removed, nil
}

