package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/gaidenhq/gaiden/internal/apperr"
	"github.com/gaidenhq/gaiden/internal/bundle"
	"github.com/gaidenhq/gaiden/internal/guideservice"
)

// maxImportBody caps JSON import bodies; guide text lives inside the JSON
// string, so this bounds both.
const maxImportBody = 64 << 20

// Handler holds API route handlers.
type Handler struct {
	svc *guideservice.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *guideservice.Service) *Handler {
	return &Handler{svc: svc}
}

// writeServiceError maps domain errors onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
	case errors.Is(err, apperr.ErrConflict):
		writeJSON(w, http.StatusConflict, errorBody(err.Error()))
	case errors.Is(err, apperr.ErrCycle):
		writeJSON(w, http.StatusConflict, errorBody("move would create a cycle"))
	case errors.Is(err, apperr.ErrOutOfRange):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody("line out of range"))
	case errors.Is(err, apperr.ErrEmptyDocument):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody("document is empty"))
	case errors.Is(err, apperr.ErrInvalidEncoding):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody("document is not valid UTF-8 text"))
	default:
		slog.Error(op+" failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
	}
}

// ListGuides handles GET /api/guides.
func (h *Handler) ListGuides(w http.ResponseWriter, r *http.Request) {
	guides, err := h.svc.List()
	if err != nil {
		writeServiceError(w, "list guides", err)
		return
	}
	writeJSON(w, http.StatusOK, GuideListResponse{Guides: guides, Total: len(guides)})
}

// GetGuide handles GET /api/guides/{id}.
func (h *Handler) GetGuide(w http.ResponseWriter, r *http.Request) {
	g, err := h.svc.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, "get guide", err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// ImportGuide handles POST /api/guides.
func (h *Handler) ImportGuide(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxImportBody)
	var req ImportGuideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.Title == "" || req.Content == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("title and content are required"))
		return
	}

	g, err := h.svc.Import(r.Context(), guideservice.Meta{
		Title:        req.Title,
		System:       req.System,
		Author:       req.Author,
		VersionLabel: req.VersionLabel,
	}, strings.NewReader(req.Content))
	if err != nil {
		writeServiceError(w, "import guide", err)
		return
	}
	writeJSON(w, http.StatusCreated, g)
}

// ReimportGuide handles POST /api/guides/{id}/reimport.
func (h *Handler) ReimportGuide(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxImportBody)
	var req ReimportGuideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.Content == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("content is required"))
		return
	}

	g, err := h.svc.Reimport(r.Context(), chi.URLParam(r, "id"), guideservice.Meta{
		Title:        req.Title,
		System:       req.System,
		Author:       req.Author,
		VersionLabel: req.VersionLabel,
	}, strings.NewReader(req.Content))
	if err != nil {
		writeServiceError(w, "reimport guide", err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// DeleteGuide handles DELETE /api/guides/{id}.
func (h *Handler) DeleteGuide(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, "delete guide", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ExportGuide handles GET /api/guides/{id}/export?format=xz|gzip.
func (h *Handler) ExportGuide(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	comp := bundle.CompressXz
	ext := "tar.xz"
	if r.URL.Query().Get("format") == "gzip" {
		comp = bundle.CompressGzip
		ext = "tar.gz"
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", `attachment; filename="`+id+`.`+ext+`"`)
	if err := h.svc.Export(r.Context(), id, w, comp); err != nil {
		// Headers may already be out; log and drop the connection.
		slog.Error("export guide failed", slog.String("guide_id", id), slog.String("error", err.Error()))
	}
}

// ImportBundle handles POST /api/bundles with a raw bundle body.
func (h *Handler) ImportBundle(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxImportBody)
	g, err := h.svc.ImportBundle(r.Context(), r.Body)
	if err != nil {
		writeServiceError(w, "import bundle", err)
		return
	}
	writeJSON(w, http.StatusCreated, g)
}

// GetWindow handles GET /api/guides/{id}/window?center=&radius=.
func (h *Handler) GetWindow(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	center, err := strconv.Atoi(q.Get("center"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("center is required"))
		return
	}
	radius := 100
	if v := q.Get("radius"); v != "" {
		radius, err = strconv.Atoi(v)
		if err != nil || radius < 0 || radius > 5000 {
			writeJSON(w, http.StatusBadRequest, errorBody("radius must be 0-5000"))
			return
		}
	}

	win, err := h.svc.Window(r.Context(), chi.URLParam(r, "id"), center, radius)
	if err != nil {
		writeServiceError(w, "get window", err)
		return
	}
	writeJSON(w, http.StatusOK, win)
}

// GetSections handles GET /api/guides/{id}/sections.
func (h *Handler) GetSections(w http.ResponseWriter, r *http.Request) {
	sections, err := h.svc.SectionTree(chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, "get sections", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sections": sections})
}

// GetPosition handles GET /api/guides/{id}/position.
func (h *Handler) GetPosition(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.svc.Get(id); err != nil {
		writeServiceError(w, "get position", err)
		return
	}
	p, err := h.svc.GetPosition(id)
	if err != nil {
		writeServiceError(w, "get position", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// SetPosition handles PUT /api/guides/{id}/position.
func (h *Handler) SetPosition(w http.ResponseWriter, r *http.Request) {
	var req SetPositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.Line < 0 || req.Column < 0 {
		writeJSON(w, http.StatusBadRequest, errorBody("line and column must be non-negative"))
		return
	}
	if err := h.svc.SetPosition(chi.URLParam(r, "id"), req.Line, req.Column); err != nil {
		writeServiceError(w, "set position", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListBookmarks handles GET /api/guides/{id}/bookmarks?category=.
func (h *Handler) ListBookmarks(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.svc.Get(id); err != nil {
		writeServiceError(w, "list bookmarks", err)
		return
	}
	bms, err := h.svc.Bookmarks().List(id, r.URL.Query().Get("category"))
	if err != nil {
		writeServiceError(w, "list bookmarks", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bookmarks": bms})
}

// CreateBookmark handles POST /api/guides/{id}/bookmarks.
func (h *Handler) CreateBookmark(w http.ResponseWriter, r *http.Request) {
	var req CreateBookmarkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.Label == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("label is required"))
		return
	}
	b, err := h.svc.Bookmarks().Create(chi.URLParam(r, "id"), req.Line, req.Label, req.Category)
	if err != nil {
		writeServiceError(w, "create bookmark", err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

// ResolveBookmark handles GET /api/bookmarks/{id}/resolve.
func (h *Handler) ResolveBookmark(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Bookmarks().Resolve(chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, "resolve bookmark", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// DeleteBookmark handles DELETE /api/bookmarks/{id}.
func (h *Handler) DeleteBookmark(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Bookmarks().Delete(chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, "delete bookmark", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListCollections handles GET /api/collections.
func (h *Handler) ListCollections(w http.ResponseWriter, r *http.Request) {
	cols, err := h.svc.Collections().List()
	if err != nil {
		writeServiceError(w, "list collections", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"collections": cols})
}

// CreateCollection handles POST /api/collections.
func (h *Handler) CreateCollection(w http.ResponseWriter, r *http.Request) {
	var req CollectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("name is required"))
		return
	}
	c, err := h.svc.Collections().Create(req.Name, req.ParentID)
	if err != nil {
		writeServiceError(w, "create collection", err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// UpdateCollection handles PUT /api/collections/{id}: rename, move, or both.
func (h *Handler) UpdateCollection(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	body, err := readPatchBody(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}

	if name, ok := body["name"]; ok {
		if err := h.svc.Collections().Rename(id, name); err != nil {
			writeServiceError(w, "rename collection", err)
			return
		}
	}
	if parent, ok := body["parent_id"]; ok {
		if err := h.svc.Collections().Move(id, parent); err != nil {
			writeServiceError(w, "move collection", err)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// readPatchBody decodes a flat string-valued JSON object, so absent and
// empty fields can be told apart (moving to root sends "parent_id": "").
func readPatchBody(r *http.Request) (map[string]string, error) {
	var raw map[string]*string
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if v != nil {
			out[k] = *v
		} else {
			out[k] = ""
		}
	}
	return out, nil
}

// DeleteCollection handles DELETE /api/collections/{id}.
func (h *Handler) DeleteCollection(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Collections().Delete(chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, "delete collection", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListEntries handles GET /api/collections/{id}/entries.
func (h *Handler) ListEntries(w http.ResponseWriter, r *http.Request) {
	entries, err := h.svc.Collections().Entries(chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, "list entries", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// AddEntry handles POST /api/collections/{id}/entries.
func (h *Handler) AddEntry(w http.ResponseWriter, r *http.Request) {
	var req AddEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.Kind == "" || req.Ref == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("kind and ref are required"))
		return
	}
	e, err := h.svc.Collections().AddEntry(chi.URLParam(r, "id"), req.Kind, req.Ref, req.Title)
	if err != nil {
		writeServiceError(w, "add entry", err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

// RemoveEntry handles DELETE /api/entries/{id}.
func (h *Handler) RemoveEntry(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Collections().RemoveEntry(chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, "remove entry", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
