package index

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/gaidenhq/gaiden/internal/apperr"
	"github.com/gaidenhq/gaiden/internal/models"
)

// CreateGuide inserts a new guide row in the importing state with no
// committed version. It becomes readable only after CommitVersion.
func (db *DB) CreateGuide(g models.Guide) error {
	return withRetry(func() error {
		_, err := db.conn.Exec(`
			INSERT INTO guides (id, title, system, author, version_label, current_version, state, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?)
		`, g.ID, g.Title, g.System, g.Author, g.VersionLabel, models.StateImporting, g.CreatedAt, g.CreatedAt)
		if err != nil {
			return fmt.Errorf("index: create guide: %w", err)
		}
		return nil
	})
}

// BeginReimport transitions a ready guide to reimporting and returns the
// version number the new import should commit under. Fails with ErrConflict
// if another import is already in flight for this guide.
func (db *DB) BeginReimport(guideID string, meta models.Guide) (int, error) {
	var next int
	err := withRetry(func() error {
		res, err := db.conn.Exec(`
			UPDATE guides
			SET state = ?, title = ?, system = ?, author = ?, version_label = ?, updated_at = ?
			WHERE id = ? AND state = ?
		`, models.StateReimporting, meta.Title, meta.System, meta.Author, meta.VersionLabel, time.Now().UTC(), guideID, models.StateReady)
		if err != nil {
			return fmt.Errorf("index: begin reimport: %w", err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			var state string
			if err := db.conn.QueryRow(`SELECT state FROM guides WHERE id = ?`, guideID).Scan(&state); err != nil {
				return apperr.ErrNotFound
			}
			return fmt.Errorf("index: guide %s is %s: %w", guideID, state, apperr.ErrConflict)
		}
		err = db.conn.QueryRow(`SELECT current_version FROM guides WHERE id = ?`, guideID).Scan(&next)
		if err != nil {
			return fmt.Errorf("index: read current version: %w", err)
		}
		next++
		return nil
	})
	return next, err
}

// AbortImport rolls back the lifecycle state after a failed import. A failed
// first import removes the guide entirely; a failed re-import restores the
// previously committed version to the ready state, untouched.
func (db *DB) AbortImport(guideID string, firstImport bool) error {
	return withRetry(func() error {
		if firstImport {
			if _, err := db.conn.Exec(`DELETE FROM guides WHERE id = ? AND current_version = 0`, guideID); err != nil {
				return fmt.Errorf("index: abort import: %w", err)
			}
			return nil
		}
		_, err := db.conn.Exec(`UPDATE guides SET state = ?, updated_at = ? WHERE id = ?`,
			models.StateReady, time.Now().UTC(), guideID)
		if err != nil {
			return fmt.Errorf("index: abort reimport: %w", err)
		}
		return nil
	})
}

// CommitVersion writes a fully parsed version in one transaction: version
// row, line offsets, section markers, then the current_version flip that
// makes it visible. Bookmark staleness is re-evaluated against the new
// bounds: lines past the end are marked stale (never deleted), lines a
// grown version brought back in range are unmarked. The persisted position
// is clamped in the same commit, so readers never observe a half-written
// version.
func (db *DB) CommitVersion(guideID string, version int, checksum string, lines []models.LineSpan, sections []models.SectionMarker) error {
	return withRetry(func() error {
		return db.commitVersion(guideID, version, checksum, lines, sections)
	})
}

func (db *DB) commitVersion(guideID string, version int, checksum string, lines []models.LineSpan, sections []models.SectionMarker) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	now := time.Now().UTC()
	lineCount := len(lines)

	_, err = tx.Exec(`
		INSERT INTO guide_versions (guide_id, version, line_count, checksum, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, guideID, version, lineCount, checksum, now)
	if err != nil {
		return fmt.Errorf("index: insert version: %w", err)
	}

	lineStmt, err := tx.Prepare(`INSERT INTO lines (guide_id, version, line_number, byte_offset, byte_length) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("index: prepare line insert: %w", err)
	}
	defer lineStmt.Close()
	for _, l := range lines {
		if _, err := lineStmt.Exec(guideID, version, l.LineNumber, l.ByteOffset, l.ByteLength); err != nil {
			return fmt.Errorf("index: insert line %d: %w", l.LineNumber, err)
		}
	}

	sectionStmt, err := tx.Prepare(`INSERT INTO sections (guide_id, version, line_number, title, level, confidence) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("index: prepare section insert: %w", err)
	}
	defer sectionStmt.Close()
	for _, s := range sections {
		if _, err := sectionStmt.Exec(guideID, version, s.LineNumber, s.Title, s.Level, s.Confidence); err != nil {
			return fmt.Errorf("index: insert section at line %d: %w", s.LineNumber, err)
		}
	}

	// Re-evaluate bookmark staleness and clamp the position against the
	// new bounds. The flag tracks the current version only: a grow that
	// restores a bookmarked line clears it.
	if _, err := tx.Exec(`UPDATE bookmarks SET stale = CASE WHEN line >= ? THEN 1 ELSE 0 END WHERE guide_id = ?`,
		lineCount, guideID); err != nil {
		return fmt.Errorf("index: restale bookmarks: %w", err)
	}
	if _, err := tx.Exec(`UPDATE positions SET line = ?, col = 0, updated_at = ? WHERE guide_id = ? AND line >= ?`,
		lineCount-1, now, guideID, lineCount); err != nil {
		return fmt.Errorf("index: clamp position: %w", err)
	}

	// Visibility flip: the new version exists only after this row update
	// commits together with everything above.
	res, err := tx.Exec(`
		UPDATE guides SET current_version = ?, state = ?, updated_at = ? WHERE id = ?
	`, version, models.StateReady, now, guideID)
	if err != nil {
		return fmt.Errorf("index: flip current version: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("index: commit version: guide %s: %w", guideID, apperr.ErrNotFound)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("index: commit: %w", err)
	}
	return nil
}

// FindDuplicate returns the ready guide whose current version has the given
// content checksum and whose metadata matches, used for idempotent import
// detection. The same bytes under different metadata are distinct guides.
func (db *DB) FindDuplicate(checksum string, meta models.Guide) (*models.Guide, error) {
	var id string
	err := db.conn.QueryRow(`
		SELECT g.id FROM guides g
		JOIN guide_versions v ON v.guide_id = g.id AND v.version = g.current_version
		WHERE v.checksum = ? AND g.state = ?
		  AND g.title = ? AND g.system = ? AND g.author = ? AND g.version_label = ?
	`, checksum, models.StateReady, meta.Title, meta.System, meta.Author, meta.VersionLabel).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("index: find duplicate: %w", err)
	}
	return db.GetGuide(id)
}

// DeleteGuide removes a guide and, via foreign keys, its versions,
// positions, and bookmarks. Line and section rows are removed explicitly.
func (db *DB) DeleteGuide(guideID string) error {
	return withRetry(func() error {
		tx, err := db.conn.Begin()
		if err != nil {
			return fmt.Errorf("index: begin tx: %w", err)
		}
		defer tx.Rollback() //nolint:errcheck

		_, _ = tx.Exec(`DELETE FROM lines WHERE guide_id = ?`, guideID)
		_, _ = tx.Exec(`DELETE FROM sections WHERE guide_id = ?`, guideID)
		res, err := tx.Exec(`DELETE FROM guides WHERE id = ?`, guideID)
		if err != nil {
			return fmt.Errorf("index: delete guide: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return apperr.ErrNotFound
		}
		return tx.Commit()
	})
}
