package index

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/gaidenhq/gaiden/internal/apperr"
	"github.com/gaidenhq/gaiden/internal/models"
)

// GetGuide returns a guide with its current version's line count and
// checksum. Guides without a committed version report zero lines.
func (db *DB) GetGuide(guideID string) (*models.Guide, error) {
	var g models.Guide
	err := db.conn.QueryRow(`
		SELECT g.id, g.title, g.system, g.author, g.version_label, g.current_version, g.state,
		       COALESCE(v.line_count, 0), COALESCE(v.checksum, ''), g.created_at, g.updated_at
		FROM guides g
		LEFT JOIN guide_versions v ON v.guide_id = g.id AND v.version = g.current_version
		WHERE g.id = ?
	`, guideID).Scan(&g.ID, &g.Title, &g.System, &g.Author, &g.VersionLabel, &g.Version, &g.State,
		&g.LineCount, &g.Checksum, &g.CreatedAt, &g.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("index: get guide: %w", err)
	}
	return &g, nil
}

// ListGuides returns metadata for every guide, most recently updated first.
func (db *DB) ListGuides() ([]models.GuideMetadata, error) {
	rows, err := db.conn.Query(`
		SELECT g.id, g.title, g.system, g.current_version, COALESCE(v.line_count, 0), g.state, g.updated_at
		FROM guides g
		LEFT JOIN guide_versions v ON v.guide_id = g.id AND v.version = g.current_version
		ORDER BY g.updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("index: list guides: %w", err)
	}
	defer rows.Close()

	var out []models.GuideMetadata
	for rows.Next() {
		var m models.GuideMetadata
		if err := rows.Scan(&m.ID, &m.Title, &m.System, &m.Version, &m.LineCount, &m.State, &m.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// VersionLineCount returns the line count of a specific committed version.
func (db *DB) VersionLineCount(guideID string, version int) (int, error) {
	var n int
	err := db.conn.QueryRow(`SELECT line_count FROM guide_versions WHERE guide_id = ? AND version = ?`,
		guideID, version).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, apperr.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("index: version line count: %w", err)
	}
	return n, nil
}

// GetLineRange returns the line spans for [start, end) of a version, in
// order, via a single B-tree range query. Fails with ErrOutOfRange when the
// requested range falls outside [0, lineCount).
func (db *DB) GetLineRange(guideID string, version, start, end int) ([]models.LineSpan, error) {
	count, err := db.VersionLineCount(guideID, version)
	if err != nil {
		return nil, err
	}
	if start < 0 || end > count || start >= end {
		return nil, fmt.Errorf("index: range [%d,%d) of %d lines: %w", start, end, count, apperr.ErrOutOfRange)
	}

	rows, err := db.conn.Query(`
		SELECT line_number, byte_offset, byte_length
		FROM lines
		WHERE guide_id = ? AND version = ? AND line_number >= ? AND line_number < ?
		ORDER BY line_number
	`, guideID, version, start, end)
	if err != nil {
		return nil, fmt.Errorf("index: line range: %w", err)
	}
	defer rows.Close()

	spans := make([]models.LineSpan, 0, end-start)
	for rows.Next() {
		var s models.LineSpan
		if err := rows.Scan(&s.LineNumber, &s.ByteOffset, &s.ByteLength); err != nil {
			return nil, err
		}
		spans = append(spans, s)
	}
	return spans, rows.Err()
}

// GetSectionTree returns a version's section markers ordered by line number.
func (db *DB) GetSectionTree(guideID string, version int) ([]models.SectionMarker, error) {
	if _, err := db.VersionLineCount(guideID, version); err != nil {
		return nil, err
	}
	rows, err := db.conn.Query(`
		SELECT line_number, title, level, confidence
		FROM sections
		WHERE guide_id = ? AND version = ?
		ORDER BY line_number
	`, guideID, version)
	if err != nil {
		return nil, fmt.Errorf("index: section tree: %w", err)
	}
	defer rows.Close()

	var out []models.SectionMarker
	for rows.Next() {
		var s models.SectionMarker
		if err := rows.Scan(&s.LineNumber, &s.Title, &s.Level, &s.Confidence); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
