// Package bookmark manages named line anchors within a guide.
package bookmark

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/gaidenhq/gaiden/internal/apperr"
	"github.com/gaidenhq/gaiden/internal/index"
	"github.com/gaidenhq/gaiden/internal/models"
)

// Resolved is a bookmark jump target. When a re-import shrank the guide
// below the bookmarked line, Line points at the nearest valid line and
// Stale is true. The bookmarked line itself is never rewritten or deleted,
// so a later re-import that grows past it makes the bookmark exact again.
type Resolved struct {
	Bookmark models.Bookmark `json:"bookmark"`
	Line     int             `json:"line"`
	Stale    bool            `json:"stale"`
}

// Manager validates bookmark operations against the guide index.
type Manager struct {
	db *index.DB
}

func NewManager(db *index.DB) *Manager {
	return &Manager{db: db}
}

// Create adds a bookmark at the given line of the guide's current version.
func (m *Manager) Create(guideID string, line int, label, category string) (*models.Bookmark, error) {
	g, err := m.db.GetGuide(guideID)
	if err != nil {
		return nil, err
	}
	if line < 0 || line >= g.LineCount {
		return nil, fmt.Errorf("bookmark: line %d outside guide %s (%d lines): %w",
			line, guideID, g.LineCount, apperr.ErrOutOfRange)
	}

	b := models.Bookmark{
		ID:        uuid.NewString(),
		GuideID:   guideID,
		Line:      line,
		Label:     label,
		Category:  category,
		CreatedAt: time.Now().UTC(),
	}
	if err := m.db.CreateBookmark(b); err != nil {
		return nil, err
	}
	return &b, nil
}

// List returns a guide's bookmarks ordered by line. An empty category
// matches all categories.
func (m *Manager) List(guideID, category string) ([]models.Bookmark, error) {
	return m.db.ListBookmarks(guideID, category)
}

// Get returns a bookmark by id.
func (m *Manager) Get(id string) (*models.Bookmark, error) {
	return m.db.GetBookmark(id)
}

// Resolve turns a bookmark into a jump target against the guide's current
// version, clamping stale bookmarks to the last line instead of failing.
func (m *Manager) Resolve(id string) (*Resolved, error) {
	b, err := m.db.GetBookmark(id)
	if err != nil {
		return nil, err
	}
	g, err := m.db.GetGuide(b.GuideID)
	if err != nil {
		return nil, err
	}

	r := &Resolved{Bookmark: *b, Line: b.Line, Stale: b.Stale}
	if g.LineCount > 0 && b.Line >= g.LineCount {
		r.Line = g.LineCount - 1
		r.Stale = true
	}
	return r, nil
}

// Delete removes a bookmark by id.
func (m *Manager) Delete(id string) error {
	return m.db.DeleteBookmark(id)
}
