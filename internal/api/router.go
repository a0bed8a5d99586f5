package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/gaidenhq/gaiden/internal/guideservice"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *guideservice.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Library.
	r.Get("/guides", h.ListGuides)
	r.Post("/guides", h.ImportGuide)
	r.Get("/guides/{id}", h.GetGuide)
	r.Delete("/guides/{id}", h.DeleteGuide)
	r.Post("/guides/{id}/reimport", h.ReimportGuide)
	r.Get("/guides/{id}/export", h.ExportGuide)
	r.Post("/bundles", h.ImportBundle)

	// Reading.
	r.Get("/guides/{id}/window", h.GetWindow)
	r.Get("/guides/{id}/sections", h.GetSections)
	r.Get("/guides/{id}/position", h.GetPosition)
	r.Put("/guides/{id}/position", h.SetPosition)

	// Bookmarks.
	r.Get("/guides/{id}/bookmarks", h.ListBookmarks)
	r.Post("/guides/{id}/bookmarks", h.CreateBookmark)
	r.Get("/bookmarks/{id}/resolve", h.ResolveBookmark)
	r.Delete("/bookmarks/{id}", h.DeleteBookmark)

	// Collections.
	r.Get("/collections", h.ListCollections)
	r.Post("/collections", h.CreateCollection)
	r.Put("/collections/{id}", h.UpdateCollection)
	r.Delete("/collections/{id}", h.DeleteCollection)
	r.Get("/collections/{id}/entries", h.ListEntries)
	r.Post("/collections/{id}/entries", h.AddEntry)
	r.Delete("/entries/{id}", h.RemoveEntry)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
