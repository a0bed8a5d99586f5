// Package guideservice coordinates ingestion, storage, the index, and the
// window cache behind one API consumed by every surface.
package guideservice

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/gaidenhq/gaiden/internal/apperr"
	"github.com/gaidenhq/gaiden/internal/bookmark"
	"github.com/gaidenhq/gaiden/internal/bundle"
	"github.com/gaidenhq/gaiden/internal/collection"
	"github.com/gaidenhq/gaiden/internal/index"
	"github.com/gaidenhq/gaiden/internal/ingest"
	"github.com/gaidenhq/gaiden/internal/models"
	"github.com/gaidenhq/gaiden/internal/position"
	"github.com/gaidenhq/gaiden/internal/sse"
	"github.com/gaidenhq/gaiden/internal/storage"
	"github.com/gaidenhq/gaiden/internal/window"
)

// maxGuideBytes caps a single import. Plain-text guides top out around a
// few tens of megabytes; anything larger is almost certainly not a guide.
const maxGuideBytes = 256 << 20

// Meta carries the caller-supplied metadata for an import.
type Meta struct {
	Title        string
	System       string
	Author       string
	VersionLabel string
}

// Service coordinates the guide library.
type Service struct {
	db          *index.DB
	store       storage.Provider
	cache       *window.Cache
	tracker     *position.Tracker
	bookmarks   *bookmark.Manager
	collections *collection.Manager
	broker      *sse.Broker // nil when no event surface is running
	logger      *slog.Logger

	ingestOpts ingest.Options
}

// New creates a guide service. broker may be nil.
func New(db *index.DB, store storage.Provider, cache *window.Cache, tracker *position.Tracker,
	broker *sse.Broker, logger *slog.Logger, ingestOpts ingest.Options) *Service {
	return &Service{
		db:          db,
		store:       store,
		cache:       cache,
		tracker:     tracker,
		bookmarks:   bookmark.NewManager(db),
		collections: collection.NewManager(db),
		broker:      broker,
		logger:      logger,
		ingestOpts:  ingestOpts,
	}
}

// Bookmarks exposes bookmark operations.
func (s *Service) Bookmarks() *bookmark.Manager { return s.bookmarks }

// Collections exposes collection operations.
func (s *Service) Collections() *collection.Manager { return s.collections }

// Import ingests a new guide. The guide becomes visible only after the
// parsed version commits; a failure at any step leaves no partial state
// behind. Re-submitting identical bytes under identical metadata returns
// the already imported guide; the same bytes under a different title,
// system, author, or version label import as a separate guide.
func (s *Service) Import(ctx context.Context, meta Meta, r io.Reader) (*models.Guide, error) {
	data, err := readAllCapped(r)
	if err != nil {
		return nil, err
	}
	doc, err := ingest.Parse(data, s.ingestOpts)
	if err != nil {
		return nil, err
	}

	dup, err := s.db.FindDuplicate(doc.Checksum, models.Guide{
		Title:        meta.Title,
		System:       meta.System,
		Author:       meta.Author,
		VersionLabel: meta.VersionLabel,
	})
	if err == nil {
		s.logger.Info("import matched existing guide", "guide_id", dup.ID, "checksum", doc.Checksum)
		return dup, nil
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	g := models.Guide{
		ID:           id,
		Title:        meta.Title,
		System:       meta.System,
		Author:       meta.Author,
		VersionLabel: meta.VersionLabel,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.db.CreateGuide(g); err != nil {
		return nil, err
	}

	if err := s.commit(id, 1, data, doc); err != nil {
		if abortErr := s.db.AbortImport(id, true); abortErr != nil {
			s.logger.Error("abort after failed import", "guide_id", id, "error", abortErr)
		}
		_ = s.store.RemoveGuide(id)
		return nil, err
	}

	s.logger.Info("guide imported", "guide_id", id, "title", meta.Title, "lines", len(doc.Lines))
	if s.broker != nil {
		s.broker.PublishGuideEvent("imported", id)
	}
	return s.db.GetGuide(id)
}

// Reimport replaces a guide's content with a new revision. The previous
// version keeps serving reads until the new one commits; bookmarks past the
// new bounds are marked stale and the reading position is clamped in the
// same commit. Identical bytes are a no-op returning the current guide.
func (s *Service) Reimport(ctx context.Context, guideID string, meta Meta, r io.Reader) (*models.Guide, error) {
	data, err := readAllCapped(r)
	if err != nil {
		return nil, err
	}
	doc, err := ingest.Parse(data, s.ingestOpts)
	if err != nil {
		return nil, err
	}

	g, err := s.db.GetGuide(guideID)
	if err != nil {
		return nil, err
	}
	if g.Checksum == doc.Checksum {
		s.logger.Info("reimport matched current version", "guide_id", guideID)
		return g, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	next, err := s.db.BeginReimport(guideID, models.Guide{
		Title:        orDefault(meta.Title, g.Title),
		System:       orDefault(meta.System, g.System),
		Author:       orDefault(meta.Author, g.Author),
		VersionLabel: meta.VersionLabel,
	})
	if err != nil {
		return nil, err
	}

	if err := s.commit(guideID, next, data, doc); err != nil {
		if abortErr := s.db.AbortImport(guideID, false); abortErr != nil {
			s.logger.Error("abort after failed reimport", "guide_id", guideID, "error", abortErr)
		}
		_ = s.store.RemoveVersion(guideID, next)
		return nil, err
	}

	s.cache.Invalidate(guideID)
	s.logger.Info("guide reimported", "guide_id", guideID, "version", next, "lines", len(doc.Lines))
	if s.broker != nil {
		s.broker.PublishGuideEvent("reimported", guideID)
	}

	if _, err := s.Prune(guideID); err != nil {
		s.logger.Warn("prune after reimport", "guide_id", guideID, "error", err)
	}
	return s.db.GetGuide(guideID)
}

// commit writes the content file first, then the index rows. The content
// file for an uncommitted version is invisible to readers, so the order is
// safe and a crash in between leaves only an orphan file for Prune.
func (s *Service) commit(guideID string, version int, data []byte, doc *ingest.Document) error {
	if err := s.store.WriteVersion(guideID, version, data); err != nil {
		return err
	}
	return s.db.CommitVersion(guideID, version, doc.Checksum, doc.Lines, doc.Sections)
}

// Get returns one guide.
func (s *Service) Get(guideID string) (*models.Guide, error) {
	return s.db.GetGuide(guideID)
}

// List returns all guides, most recently updated first.
func (s *Service) List() ([]models.GuideMetadata, error) {
	return s.db.ListGuides()
}

// Delete removes a guide, its content files, and every cached chunk.
func (s *Service) Delete(guideID string) error {
	if err := s.db.DeleteGuide(guideID); err != nil {
		return err
	}
	s.cache.Invalidate(guideID)
	if err := s.store.RemoveGuide(guideID); err != nil {
		s.logger.Warn("remove guide content", "guide_id", guideID, "error", err)
	}
	s.logger.Info("guide deleted", "guide_id", guideID)
	if s.broker != nil {
		s.broker.PublishGuideEvent("deleted", guideID)
	}
	return nil
}

// Window returns the lines around centerLine from the guide's current
// version.
func (s *Service) Window(ctx context.Context, guideID string, centerLine, radius int) (*window.Window, error) {
	return s.cache.GetWindow(ctx, guideID, centerLine, radius)
}

// SectionTree returns the current version's section markers.
func (s *Service) SectionTree(guideID string) ([]models.SectionMarker, error) {
	g, err := s.db.GetGuide(guideID)
	if err != nil {
		return nil, err
	}
	if g.Version == 0 {
		return nil, fmt.Errorf("guideservice: guide %s has no committed version: %w", guideID, apperr.ErrNotFound)
	}
	return s.db.GetSectionTree(guideID, g.Version)
}

// GetPosition returns the effective reading position, including a pending
// debounced write.
func (s *Service) GetPosition(guideID string) (models.Position, error) {
	return s.tracker.Get(guideID)
}

// SetPosition records a new reading position and protects its cache chunk
// from eviction.
func (s *Service) SetPosition(guideID string, line, col int) error {
	if _, err := s.db.GetGuide(guideID); err != nil {
		return err
	}
	s.tracker.Set(guideID, line, col)
	s.cache.Protect(guideID, line)
	return nil
}

// Prune drops index rows and content files for versions no reader pins.
func (s *Service) Prune(guideID string) ([]int, error) {
	pruned, err := s.db.PruneVersions(guideID)
	if err != nil {
		return pruned, err
	}
	for _, v := range pruned {
		if err := s.store.RemoveVersion(guideID, v); err != nil {
			s.logger.Warn("remove pruned version", "guide_id", guideID, "version", v, "error", err)
		}
	}
	return pruned, nil
}

// Export writes the guide as a bundle archive: manifest plus the current
// version's raw bytes, untouched. Pending position writes are flushed first
// so the manifest reflects what the reader last saw.
func (s *Service) Export(ctx context.Context, guideID string, w io.Writer, comp bundle.Compression) error {
	if err := s.tracker.Flush(ctx); err != nil {
		return err
	}

	sess, err := s.db.Pin(guideID)
	if err != nil {
		return err
	}
	defer sess.Release()

	g, err := s.db.GetGuide(guideID)
	if err != nil {
		return err
	}
	sections, err := sess.SectionTree()
	if err != nil {
		return err
	}
	bms, err := s.bookmarks.List(guideID, "")
	if err != nil {
		return err
	}
	names, err := s.collectionNames(guideID)
	if err != nil {
		return err
	}
	content, err := s.store.ReadAll(guideID, sess.Version)
	if err != nil {
		return err
	}

	return bundle.Write(w, comp, bundle.ManifestFor(g, sections, bms, names), content)
}

// ImportBundle ingests a bundle archive produced by Export, recreating the
// guide and its bookmarks. Section markers are rebuilt from the content
// rather than trusted from the manifest.
func (s *Service) ImportBundle(ctx context.Context, r io.Reader) (*models.Guide, error) {
	m, content, err := bundle.Read(r)
	if err != nil {
		return nil, err
	}

	g, err := s.Import(ctx, Meta{
		Title:        m.Title,
		System:       m.System,
		Author:       m.Author,
		VersionLabel: m.VersionLabel,
	}, bytes.NewReader(content))
	if err != nil {
		return nil, err
	}

	for _, bm := range m.Bookmarks {
		if bm.Line >= g.LineCount {
			continue
		}
		if _, err := s.bookmarks.Create(g.ID, bm.Line, bm.Label, bm.Category); err != nil {
			s.logger.Warn("restore bookmark", "guide_id", g.ID, "line", bm.Line, "error", err)
		}
	}
	return g, nil
}

// collectionNames returns the names of collections holding an entry for the
// guide.
func (s *Service) collectionNames(guideID string) ([]string, error) {
	cols, err := s.collections.List()
	if err != nil {
		return nil, err
	}
	var names []string
	for _, c := range cols {
		entries, err := s.collections.Entries(c.ID)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if e.Kind == models.EntryGuide && e.Ref == guideID {
				names = append(names, c.Name)
				break
			}
		}
	}
	return names, nil
}

func readAllCapped(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxGuideBytes+1))
	if err != nil {
		return nil, fmt.Errorf("guideservice: read input: %w", err)
	}
	if len(data) > maxGuideBytes {
		return nil, fmt.Errorf("guideservice: input exceeds %d bytes", maxGuideBytes)
	}
	return data, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
