// Package storage defines the guide library file-system abstraction.
// Raw guide content is stored immutably per version; the index holds byte
// offsets into these files, so range reads never scan a whole document.
package storage

import "io"

// Provider is the interface for guide content storage.
type Provider interface {
	// WriteVersion atomically stores the raw content for one guide version.
	// Committed version files are never rewritten.
	WriteVersion(guideID string, version int, data []byte) error
	// ReadRange returns n bytes starting at off within a version's content.
	ReadRange(guideID string, version int, off int64, n int) ([]byte, error)
	// ReadAll returns the full raw content of a version (export path).
	ReadAll(guideID string, version int) ([]byte, error)
	// OpenVersion opens a version's content for streaming reads.
	OpenVersion(guideID string, version int) (io.ReadCloser, error)
	// RemoveVersion deletes one version's content file.
	RemoveVersion(guideID string, version int) error
	// RemoveGuide deletes all content for a guide.
	RemoveGuide(guideID string) error
}
