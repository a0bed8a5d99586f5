package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// FS implements Provider backed by the local file system.
// Layout: <root>/<guideID>/v<version>.txt
type FS struct {
	root string // absolute path to the library directory
}

// NewFS creates a new FS provider rooted at the given directory.
// The directory is created if it does not exist.
func NewFS(root string) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create root: %w", err)
	}
	return &FS{root: abs}, nil
}

// versionPath resolves the content file for one guide version and rejects
// guide IDs that would escape the library root.
func (f *FS) versionPath(guideID string, version int) (string, error) {
	if guideID == "" || strings.ContainsAny(guideID, `/\`) || strings.Contains(guideID, "..") {
		return "", fmt.Errorf("storage: invalid guide id: %q", guideID)
	}
	return filepath.Join(f.root, guideID, fmt.Sprintf("v%d.txt", version)), nil
}

// WriteVersion atomically writes content: tmp file → fsync → rename.
func (f *FS) WriteVersion(guideID string, version int, data []byte) error {
	abs, err := f.versionPath(guideID, version)
	if err != nil {
		return err
	}
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("storage: mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".gaiden-tmp-*")
	if err != nil {
		return fmt.Errorf("storage: create temp: %w", err)
	}
	tmpName := tmp.Name()

	// Clean up on any failure path.
	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("storage: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("storage: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("storage: close temp: %w", err)
	}
	if err := os.Rename(tmpName, abs); err != nil {
		return fmt.Errorf("storage: rename: %w", err)
	}
	success = true
	return nil
}

// ReadRange reads n bytes at off using ReadAt, so a window fetch touches
// only the requested span of the content file.
func (f *FS) ReadRange(guideID string, version int, off int64, n int) ([]byte, error) {
	abs, err := f.versionPath(guideID, version)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s v%d: %w", guideID, version, err)
	}
	defer file.Close()

	buf := make([]byte, n)
	if _, err := file.ReadAt(buf, off); err != nil && err != io.EOF {
		return nil, fmt.Errorf("storage: read range %s v%d [%d,+%d): %w", guideID, version, off, n, err)
	}
	return buf, nil
}

// ReadAll returns the full raw content of a version.
func (f *FS) ReadAll(guideID string, version int) ([]byte, error) {
	abs, err := f.versionPath(guideID, version)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: read %s v%d: %w", guideID, version, err)
	}
	return data, nil
}

// OpenVersion opens a version's content for streaming.
func (f *FS) OpenVersion(guideID string, version int) (io.ReadCloser, error) {
	abs, err := f.versionPath(guideID, version)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s v%d: %w", guideID, version, err)
	}
	return file, nil
}

// RemoveVersion deletes one version's content file.
func (f *FS) RemoveVersion(guideID string, version int) error {
	abs, err := f.versionPath(guideID, version)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("storage: remove %s v%d: %w", guideID, version, err)
	}
	return nil
}

// RemoveGuide deletes all content for a guide.
func (f *FS) RemoveGuide(guideID string) error {
	if guideID == "" || strings.ContainsAny(guideID, `/\`) || strings.Contains(guideID, "..") {
		return fmt.Errorf("storage: invalid guide id: %q", guideID)
	}
	if err := os.RemoveAll(filepath.Join(f.root, guideID)); err != nil {
		return fmt.Errorf("storage: remove guide %s: %w", guideID, err)
	}
	return nil
}
