// Package models defines the domain types for Gaiden.
package models

import "time"

// Guide lifecycle states. Reads are only ever served from a ready version;
// importing/reimporting builds a new version in isolation.
const (
	StateImporting   = "importing"
	StateReady       = "ready"
	StateReimporting = "reimporting"
)

// Guide is an imported document addressed by a stable identifier.
// A re-import produces a new version; committed versions are never mutated.
type Guide struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	System       string    `json:"system,omitempty"`
	Author       string    `json:"author,omitempty"`
	VersionLabel string    `json:"version_label,omitempty"`
	Version      int       `json:"version"`
	LineCount    int       `json:"line_count"`
	Checksum     string    `json:"checksum"`
	State        string    `json:"state"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// LineSpan locates one line inside a guide version's content file.
// Offsets are strictly increasing and spans are non-overlapping.
type LineSpan struct {
	LineNumber int   `json:"line_number"`
	ByteOffset int64 `json:"byte_offset"`
	ByteLength int   `json:"byte_length"`
}

// SectionMarker is a detected heading with a confidence score.
// Markers for a version form a tree ordered by line number and level.
type SectionMarker struct {
	LineNumber int     `json:"line_number"`
	Title      string  `json:"title"`
	Level      int     `json:"level"`
	Confidence float64 `json:"confidence"`
}

// Position is the persisted reading cursor for a guide. One current record
// per guide, overwritten rather than versioned.
type Position struct {
	GuideID   string    `json:"guide_id"`
	Line      int       `json:"line"`
	Column    int       `json:"column"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Bookmark is a labeled reference into a guide's line index. A re-import
// that invalidates the line marks the bookmark stale instead of deleting it.
type Bookmark struct {
	ID        string    `json:"id"`
	GuideID   string    `json:"guide_id"`
	Line      int       `json:"line"`
	Label     string    `json:"label"`
	Category  string    `json:"category,omitempty"`
	Stale     bool      `json:"stale"`
	CreatedAt time.Time `json:"created_at"`
}

// GuideMetadata is a lightweight representation returned by list operations.
type GuideMetadata struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	System    string    `json:"system,omitempty"`
	Version   int       `json:"version"`
	LineCount int       `json:"line_count"`
	State     string    `json:"state"`
	UpdatedAt time.Time `json:"updated_at"`
}
