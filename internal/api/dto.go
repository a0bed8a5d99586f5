package api

import (
	"github.com/gaidenhq/gaiden/internal/bookmark"
	"github.com/gaidenhq/gaiden/internal/models"
	"github.com/gaidenhq/gaiden/internal/window"
)

// ImportGuideRequest is the request body for importing a guide.
type ImportGuideRequest struct {
	Title        string `json:"title" example:"FF7 Perfect Game" validate:"required"`
	System       string `json:"system,omitempty" example:"PSX"`
	Author       string `json:"author,omitempty"`
	VersionLabel string `json:"version_label,omitempty" example:"1.2"`
	Content      string `json:"content" validate:"required"`
}

// ReimportGuideRequest is the request body for replacing a guide's content.
type ReimportGuideRequest struct {
	Title        string `json:"title,omitempty"`
	System       string `json:"system,omitempty"`
	Author       string `json:"author,omitempty"`
	VersionLabel string `json:"version_label,omitempty"`
	Content      string `json:"content" validate:"required"`
}

// SetPositionRequest is the request body for updating the reading position.
type SetPositionRequest struct {
	Line   int `json:"line" validate:"required"`
	Column int `json:"column"`
}

// CreateBookmarkRequest is the request body for creating a bookmark.
type CreateBookmarkRequest struct {
	Line     int    `json:"line" validate:"required"`
	Label    string `json:"label" validate:"required"`
	Category string `json:"category,omitempty"`
}

// CollectionRequest is the request body for creating or updating a collection.
type CollectionRequest struct {
	Name     string `json:"name"`
	ParentID string `json:"parent_id,omitempty"`
}

// AddEntryRequest is the request body for adding a collection entry.
type AddEntryRequest struct {
	Kind  string `json:"kind" validate:"required" enums:"guide,bookmark,weblink,imagelink"`
	Ref   string `json:"ref" validate:"required"`
	Title string `json:"title,omitempty"`
}

// GuideListResponse wraps the library listing.
type GuideListResponse struct {
	Guides []models.GuideMetadata `json:"guides" validate:"required"`
	Total  int                    `json:"total" validate:"required"`
}

// WindowResponse is the line window response (aliased from the domain layer).
type WindowResponse = window.Window

// ResolvedBookmark is a bookmark jump target (aliased from the domain layer).
type ResolvedBookmark = bookmark.Resolved
