package index

import (
	"fmt"
	"sync"

	"github.com/gaidenhq/gaiden/internal/apperr"
	"github.com/gaidenhq/gaiden/internal/models"
)

// Session pins one committed guide version for the duration of a read.
// Every read through the session sees that version's rows even if a
// re-import commits a newer version mid-session.
type Session struct {
	GuideID string
	Version int

	db   *DB
	once sync.Once
}

// Pin snapshots the guide's current ready version and holds a reference to
// it. Superseded versions are never pruned while pinned. Fails with
// ErrNotFound when the guide has no committed version yet.
func (db *DB) Pin(guideID string) (*Session, error) {
	g, err := db.GetGuide(guideID)
	if err != nil {
		return nil, err
	}
	if g.Version == 0 {
		return nil, fmt.Errorf("index: guide %s has no committed version: %w", guideID, apperr.ErrNotFound)
	}

	db.pinMu.Lock()
	defer db.pinMu.Unlock()
	if db.pins[guideID] == nil {
		db.pins[guideID] = make(map[int]int)
	}
	db.pins[guideID][g.Version]++

	return &Session{GuideID: guideID, Version: g.Version, db: db}, nil
}

// Release drops the session's reference. Safe to call more than once.
func (s *Session) Release() {
	s.once.Do(func() {
		s.db.pinMu.Lock()
		defer s.db.pinMu.Unlock()
		if versions := s.db.pins[s.GuideID]; versions != nil {
			if versions[s.Version]--; versions[s.Version] <= 0 {
				delete(versions, s.Version)
			}
			if len(versions) == 0 {
				delete(s.db.pins, s.GuideID)
			}
		}
	})
}

// LineRange reads a line range from the pinned version.
func (s *Session) LineRange(start, end int) ([]models.LineSpan, error) {
	return s.db.GetLineRange(s.GuideID, s.Version, start, end)
}

// SectionTree reads the section markers of the pinned version.
func (s *Session) SectionTree() ([]models.SectionMarker, error) {
	return s.db.GetSectionTree(s.GuideID, s.Version)
}

// pinned reports whether any session still references the given version.
func (db *DB) pinned(guideID string, version int) bool {
	db.pinMu.Lock()
	defer db.pinMu.Unlock()
	return db.pins[guideID][version] > 0
}

// PruneVersions deletes index rows for versions superseded by the guide's
// current version, skipping any version still pinned by a reader. It
// returns the version numbers actually pruned so the caller can remove
// their content files.
func (db *DB) PruneVersions(guideID string) ([]int, error) {
	g, err := db.GetGuide(guideID)
	if err != nil {
		return nil, err
	}

	rows, err := db.conn.Query(`SELECT version FROM guide_versions WHERE guide_id = ? AND version < ?`,
		guideID, g.Version)
	if err != nil {
		return nil, fmt.Errorf("index: list stale versions: %w", err)
	}
	var candidates []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return nil, err
		}
		candidates = append(candidates, v)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var pruned []int
	for _, v := range candidates {
		if db.pinned(guideID, v) {
			continue
		}
		err := withRetry(func() error {
			tx, err := db.conn.Begin()
			if err != nil {
				return fmt.Errorf("index: begin tx: %w", err)
			}
			defer tx.Rollback() //nolint:errcheck

			_, _ = tx.Exec(`DELETE FROM lines WHERE guide_id = ? AND version = ?`, guideID, v)
			_, _ = tx.Exec(`DELETE FROM sections WHERE guide_id = ? AND version = ?`, guideID, v)
			_, _ = tx.Exec(`DELETE FROM guide_versions WHERE guide_id = ? AND version = ?`, guideID, v)
			return tx.Commit()
		})
		if err != nil {
			return pruned, err
		}
		pruned = append(pruned, v)
	}
	return pruned, nil
}
