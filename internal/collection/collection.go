// Package collection organizes guides, bookmarks, and links into a
// user-curated tree. Nodes live in a flat arena keyed by id; the tree shape
// exists only through parent links, so moves are pointer rewrites.
package collection

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/gaidenhq/gaiden/internal/apperr"
	"github.com/gaidenhq/gaiden/internal/index"
	"github.com/gaidenhq/gaiden/internal/models"
)

// Manager performs collection operations against the index.
type Manager struct {
	db *index.DB
}

func NewManager(db *index.DB) *Manager {
	return &Manager{db: db}
}

// Create adds a collection node. An empty parentID makes a root node.
func (m *Manager) Create(name, parentID string) (*models.Collection, error) {
	if parentID != "" {
		if _, err := m.find(parentID); err != nil {
			return nil, err
		}
	}
	c := models.Collection{
		ID:        uuid.NewString(),
		Name:      name,
		ParentID:  parentID,
		CreatedAt: time.Now().UTC(),
	}
	if err := m.db.CreateCollection(c); err != nil {
		return nil, err
	}
	return &c, nil
}

// Rename changes a collection's name, keeping its parent link.
func (m *Manager) Rename(id, name string) error {
	c, err := m.find(id)
	if err != nil {
		return err
	}
	c.Name = name
	return m.db.UpdateCollection(*c)
}

// Move re-parents a collection. Moving a node under itself or under any of
// its descendants would orphan the subtree, so the parent chain of the new
// parent is walked first and such moves fail with ErrCycle.
func (m *Manager) Move(id, newParentID string) error {
	nodes, err := m.arena()
	if err != nil {
		return err
	}
	c, ok := nodes[id]
	if !ok {
		return apperr.ErrNotFound
	}

	if newParentID != "" {
		if _, ok := nodes[newParentID]; !ok {
			return apperr.ErrNotFound
		}
		for cur := newParentID; cur != ""; {
			if cur == id {
				return fmt.Errorf("collection: moving %s under %s: %w", id, newParentID, apperr.ErrCycle)
			}
			parent, ok := nodes[cur]
			if !ok {
				break
			}
			cur = parent.ParentID
		}
	}

	c.ParentID = newParentID
	return m.db.UpdateCollection(c)
}

// Delete removes a collection; its children are re-parented to its parent
// and its entries are dropped.
func (m *Manager) Delete(id string) error {
	return m.db.DeleteCollection(id)
}

// List returns all collection nodes.
func (m *Manager) List() ([]models.Collection, error) {
	return m.db.ListCollections()
}

// AddEntry appends an entry to a collection at the next ordinal.
func (m *Manager) AddEntry(collectionID, kind, ref, title string) (*models.CollectionEntry, error) {
	switch kind {
	case models.EntryGuide, models.EntryBookmark, models.EntryWebLink, models.EntryImageLink:
	default:
		return nil, fmt.Errorf("collection: unknown entry kind %q: %w", kind, apperr.ErrConflict)
	}
	if _, err := m.find(collectionID); err != nil {
		return nil, err
	}
	e := models.CollectionEntry{
		ID:           uuid.NewString(),
		CollectionID: collectionID,
		Kind:         kind,
		Ref:          ref,
		Title:        title,
	}
	if err := m.db.AddCollectionEntry(e); err != nil {
		return nil, err
	}
	return &e, nil
}

// Entries returns a collection's entries in ordinal order.
func (m *Manager) Entries(collectionID string) ([]models.CollectionEntry, error) {
	return m.db.ListCollectionEntries(collectionID)
}

// RemoveEntry removes one entry.
func (m *Manager) RemoveEntry(entryID string) error {
	return m.db.DeleteCollectionEntry(entryID)
}

func (m *Manager) find(id string) (*models.Collection, error) {
	nodes, err := m.arena()
	if err != nil {
		return nil, err
	}
	c, ok := nodes[id]
	if !ok {
		return nil, fmt.Errorf("collection: %s: %w", id, apperr.ErrNotFound)
	}
	return &c, nil
}

func (m *Manager) arena() (map[string]models.Collection, error) {
	all, err := m.db.ListCollections()
	if err != nil {
		return nil, err
	}
	nodes := make(map[string]models.Collection, len(all))
	for _, c := range all {
		nodes[c.ID] = c
	}
	return nodes, nil
}
