package index

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/gaidenhq/gaiden/internal/apperr"
	"github.com/gaidenhq/gaiden/internal/models"
)

// GetPosition returns the persisted reading position for a guide, or the
// default position at line 0, column 0 when none has been written yet.
func (db *DB) GetPosition(guideID string) (models.Position, error) {
	p := models.Position{GuideID: guideID}
	err := db.conn.QueryRow(`SELECT line, col, updated_at FROM positions WHERE guide_id = ?`, guideID).
		Scan(&p.Line, &p.Column, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return p, nil
	}
	if err != nil {
		return p, fmt.Errorf("index: get position: %w", err)
	}
	return p, nil
}

// SetPosition upserts the single current position record for a guide.
func (db *DB) SetPosition(p models.Position) error {
	return withRetry(func() error {
		_, err := db.conn.Exec(`
			INSERT INTO positions (guide_id, line, col, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(guide_id) DO UPDATE SET
				line       = excluded.line,
				col        = excluded.col,
				updated_at = excluded.updated_at
		`, p.GuideID, p.Line, p.Column, p.UpdatedAt)
		if err != nil {
			return fmt.Errorf("index: set position: %w", err)
		}
		return nil
	})
}

// CreateBookmark inserts a bookmark row.
func (db *DB) CreateBookmark(b models.Bookmark) error {
	return withRetry(func() error {
		_, err := db.conn.Exec(`
			INSERT INTO bookmarks (id, guide_id, line, label, category, stale, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, b.ID, b.GuideID, b.Line, b.Label, b.Category, b.Stale, b.CreatedAt)
		if err != nil {
			return fmt.Errorf("index: create bookmark: %w", err)
		}
		return nil
	})
}

// GetBookmark returns one bookmark by id.
func (db *DB) GetBookmark(id string) (*models.Bookmark, error) {
	var b models.Bookmark
	err := db.conn.QueryRow(`
		SELECT id, guide_id, line, label, category, stale, created_at FROM bookmarks WHERE id = ?
	`, id).Scan(&b.ID, &b.GuideID, &b.Line, &b.Label, &b.Category, &b.Stale, &b.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("index: get bookmark: %w", err)
	}
	return &b, nil
}

// ListBookmarks returns a guide's bookmarks ordered by ascending line,
// optionally filtered by category.
func (db *DB) ListBookmarks(guideID, category string) ([]models.Bookmark, error) {
	query := `SELECT id, guide_id, line, label, category, stale, created_at FROM bookmarks WHERE guide_id = ?`
	args := []any{guideID}
	if category != "" {
		query += ` AND category = ?`
		args = append(args, category)
	}
	query += ` ORDER BY line`

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("index: list bookmarks: %w", err)
	}
	defer rows.Close()

	var out []models.Bookmark
	for rows.Next() {
		var b models.Bookmark
		if err := rows.Scan(&b.ID, &b.GuideID, &b.Line, &b.Label, &b.Category, &b.Stale, &b.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// DeleteBookmark removes a bookmark by id.
func (db *DB) DeleteBookmark(id string) error {
	return withRetry(func() error {
		res, err := db.conn.Exec(`DELETE FROM bookmarks WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("index: delete bookmark: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return apperr.ErrNotFound
		}
		return nil
	})
}

// CreateCollection inserts a collection node.
func (db *DB) CreateCollection(c models.Collection) error {
	return withRetry(func() error {
		parent := sql.NullString{String: c.ParentID, Valid: c.ParentID != ""}
		_, err := db.conn.Exec(`
			INSERT INTO collections (id, name, parent_id, created_at) VALUES (?, ?, ?, ?)
		`, c.ID, c.Name, parent, c.CreatedAt)
		if err != nil {
			return fmt.Errorf("index: create collection: %w", err)
		}
		return nil
	})
}

// UpdateCollection rewrites a collection's name and parent link.
func (db *DB) UpdateCollection(c models.Collection) error {
	return withRetry(func() error {
		parent := sql.NullString{String: c.ParentID, Valid: c.ParentID != ""}
		res, err := db.conn.Exec(`UPDATE collections SET name = ?, parent_id = ? WHERE id = ?`,
			c.Name, parent, c.ID)
		if err != nil {
			return fmt.Errorf("index: update collection: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return apperr.ErrNotFound
		}
		return nil
	})
}

// ListCollections returns every collection node (the flat arena).
func (db *DB) ListCollections() ([]models.Collection, error) {
	rows, err := db.conn.Query(`SELECT id, name, COALESCE(parent_id, ''), created_at FROM collections ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("index: list collections: %w", err)
	}
	defer rows.Close()

	var out []models.Collection
	for rows.Next() {
		var c models.Collection
		if err := rows.Scan(&c.ID, &c.Name, &c.ParentID, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteCollection removes a collection and its entries; child collections
// are re-parented to the deleted node's parent so the tree stays connected.
func (db *DB) DeleteCollection(id string) error {
	return withRetry(func() error {
		tx, err := db.conn.Begin()
		if err != nil {
			return fmt.Errorf("index: begin tx: %w", err)
		}
		defer tx.Rollback() //nolint:errcheck

		var parent sql.NullString
		err = tx.QueryRow(`SELECT parent_id FROM collections WHERE id = ?`, id).Scan(&parent)
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("index: read collection: %w", err)
		}

		if _, err := tx.Exec(`UPDATE collections SET parent_id = ? WHERE parent_id = ?`, parent, id); err != nil {
			return fmt.Errorf("index: reparent children: %w", err)
		}
		if _, err := tx.Exec(`DELETE FROM collections WHERE id = ?`, id); err != nil {
			return fmt.Errorf("index: delete collection: %w", err)
		}
		return tx.Commit()
	})
}

// AddCollectionEntry appends an entry at the next free ordinal.
func (db *DB) AddCollectionEntry(e models.CollectionEntry) error {
	return withRetry(func() error {
		_, err := db.conn.Exec(`
			INSERT INTO collection_entries (id, collection_id, ordinal, kind, ref, title)
			VALUES (?, ?, COALESCE((SELECT MAX(ordinal) + 1 FROM collection_entries WHERE collection_id = ?), 0), ?, ?, ?)
		`, e.ID, e.CollectionID, e.CollectionID, e.Kind, e.Ref, e.Title)
		if err != nil {
			return fmt.Errorf("index: add entry: %w", err)
		}
		return nil
	})
}

// ListCollectionEntries returns a collection's entries in order.
func (db *DB) ListCollectionEntries(collectionID string) ([]models.CollectionEntry, error) {
	rows, err := db.conn.Query(`
		SELECT id, collection_id, ordinal, kind, ref, title
		FROM collection_entries WHERE collection_id = ? ORDER BY ordinal
	`, collectionID)
	if err != nil {
		return nil, fmt.Errorf("index: list entries: %w", err)
	}
	defer rows.Close()

	var out []models.CollectionEntry
	for rows.Next() {
		var e models.CollectionEntry
		if err := rows.Scan(&e.ID, &e.CollectionID, &e.Ordinal, &e.Kind, &e.Ref, &e.Title); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// DeleteCollectionEntry removes one entry.
func (db *DB) DeleteCollectionEntry(id string) error {
	return withRetry(func() error {
		res, err := db.conn.Exec(`DELETE FROM collection_entries WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("index: delete entry: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return apperr.ErrNotFound
		}
		return nil
	})
}
