package models

import "time"

// Collection entry kinds.
const (
	EntryGuide     = "guide"
	EntryBookmark  = "bookmark"
	EntryWebLink   = "weblink"
	EntryImageLink = "imagelink"
)

// Collection is a user-defined grouping of guides, bookmarks, and external
// links. Parent links are stored as identifiers, never object references,
// so the hierarchy stays a checkable tree.
type Collection struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	ParentID  string    `json:"parent_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// CollectionEntry is one ordered member of a collection. Ref holds a guide
// ID, bookmark ID, or an external URL depending on Kind.
type CollectionEntry struct {
	ID           string `json:"id"`
	CollectionID string `json:"collection_id"`
	Ordinal      int    `json:"ordinal"`
	Kind         string `json:"kind"`
	Ref          string `json:"ref"`
	Title        string `json:"title,omitempty"`
}
