package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// FileOperations provides file system utilities for the download workspace
type FileOperations struct{}

// NewFileOperations creates a new FileOperations instance
func NewFileOperations() *FileOperations {
	return &FileOperations{}
}

// EnsureDir creates the directory for path if it doesn't exist
func (f *FileOperations) EnsureDir(path string) error {
	dir := filepath.Dir(path)
	return os.MkdirAll(dir, 0755)
}

// FileExists checks if a file exists
func (f *FileOperations) FileExists(path string) bool {
	_, err := os.Stat(path)
	return !os.IsNotExist(err)
}

// GetFileSize returns the size of a file
func (f *FileOperations) GetFileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// AtomicRename performs an atomic file rename operation
func (f *FileOperations) AtomicRename(oldPath, newPath string) error {
	return os.Rename(oldPath, newPath)
}

// UniqueTempPath returns a path under dir that does not collide with
// concurrent downloads. The id is expected to already be unique per request.
func (f *FileOperations) UniqueTempPath(dir, id, ext string) string {
	name := fmt.Sprintf("dl_%s_%d.%s", id, time.Now().UnixNano(), ext)
	return filepath.Join(dir, name)
}

// ReplaceFile writes content to path, removing any stale file of the same
// name first so a previous run's leftovers never leak into the new file.
func (f *FileOperations) ReplaceFile(path string, content []byte, perm os.FileMode) error {
	if err := f.EnsureDir(path); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove stale file %s: %w", path, err)
	}
	if err := os.WriteFile(path, content, perm); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// RemoveQuietly deletes a file, ignoring not-exist errors
func (f *FileOperations) RemoveQuietly(path string) error {
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// SweepOlderThan removes regular files under dir whose modification time is
// older than maxAge. Subdirectories are left alone. Returns the number of
// files removed; individual removal failures are skipped.
func (f *FileOperations) SweepOlderThan(dir string, maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, entry.Name())); err == nil {
			removed++
		}
	}
	return removed, nil
}
