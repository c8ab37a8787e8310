// Package fsys is the filesystem boundary of the persistence layer.
package fsys

import (
	"fmt"
	"os"
	"path/filepath"
)

// FS is the set of filesystem operations the persistence manager needs.
type FS interface {
	DirExists(path string) bool
	CreateDir(path string) error
	// WriteFile replaces the file at path with data.
	WriteFile(path string, data []byte) error
}

// OS implements FS on the local filesystem.
type OS struct{}

// DirExists reports whether path exists and is a directory.
func (OS) DirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// CreateDir creates path and any missing parents. Existing directories are not an error.
func (OS) CreateDir(path string) error {
	if err := os.MkdirAll(path, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	return nil
}

// WriteFile writes data to a temporary file next to path and renames it into
// place, so readers never see a partially written document.
func (OS) WriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace file: %w", err)
	}
	return nil
}
