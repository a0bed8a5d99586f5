package guideservice

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gaidenhq/gaiden/internal/apperr"
	"github.com/gaidenhq/gaiden/internal/bundle"
	"github.com/gaidenhq/gaiden/internal/index"
	"github.com/gaidenhq/gaiden/internal/ingest"
	"github.com/gaidenhq/gaiden/internal/models"
	"github.com/gaidenhq/gaiden/internal/position"
	"github.com/gaidenhq/gaiden/internal/storage"
	"github.com/gaidenhq/gaiden/internal/window"
)

func testService(t *testing.T) *Service {
	t.Helper()
	f, err := os.CreateTemp("", "gaiden-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })

	db, err := index.Open(f.Name())
	if err != nil {
		t.Fatalf("index.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store, err := storage.NewFS(t.TempDir())
	if err != nil {
		t.Fatalf("storage.NewFS: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cache := window.New(window.Config{PrefetchChunks: 0}, db, store)
	tracker := position.New(db, logger, 20*time.Millisecond)
	t.Cleanup(func() { _ = tracker.Close() })

	return New(db, store, cache, tracker, nil, logger, ingest.Options{})
}

func guideText(lines int) string {
	var b strings.Builder
	b.WriteString("================\nWALKTHROUGH\n================\n")
	for i := 3; i < lines; i++ {
		fmt.Fprintf(&b, "step %04d: go north\n", i)
	}
	return b.String()
}

func TestImportLifecycle(t *testing.T) {
	s := testService(t)
	ctx := context.Background()

	g, err := s.Import(ctx, Meta{Title: "FF7", System: "PSX"}, strings.NewReader(guideText(100)))
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if g.State != models.StateReady || g.Version != 1 || g.LineCount != 100 {
		t.Errorf("imported guide = %+v", g)
	}

	// Identical bytes and metadata come back as the same guide.
	again, err := s.Import(ctx, Meta{Title: "FF7", System: "PSX"}, strings.NewReader(guideText(100)))
	if err != nil {
		t.Fatalf("idempotent Import: %v", err)
	}
	if again.ID != g.ID {
		t.Errorf("duplicate import created new guide %s", again.ID)
	}
	list, _ := s.List()
	if len(list) != 1 {
		t.Errorf("library has %d guides, want 1", len(list))
	}

	// The same bytes under a different title are a distinct guide.
	other, err := s.Import(ctx, Meta{Title: "FF7 annotated", System: "PSX"}, strings.NewReader(guideText(100)))
	if err != nil {
		t.Fatalf("Import with new title: %v", err)
	}
	if other.ID == g.ID {
		t.Error("different metadata collapsed into the existing guide")
	}
	list, _ = s.List()
	if len(list) != 2 {
		t.Errorf("library has %d guides, want 2", len(list))
	}
}

func TestImportFailureLeavesNoState(t *testing.T) {
	s := testService(t)
	if _, err := s.Import(context.Background(), Meta{Title: "bad"}, strings.NewReader("")); !errors.Is(err, apperr.ErrEmptyDocument) {
		t.Fatalf("empty import err = %v", err)
	}
	if _, err := s.Import(context.Background(), Meta{Title: "bad"}, bytes.NewReader([]byte{0xff, 0xfe, 0x00})); !errors.Is(err, apperr.ErrInvalidEncoding) {
		t.Fatalf("binary import err = %v", err)
	}
	list, _ := s.List()
	if len(list) != 0 {
		t.Errorf("failed imports left %d guides", len(list))
	}
}

func TestWindowMatchesInput(t *testing.T) {
	s := testService(t)
	text := guideText(200)
	g, err := s.Import(context.Background(), Meta{Title: "T"}, strings.NewReader(text))
	if err != nil {
		t.Fatalf("Import: %v", err)
	}

	w, err := s.Window(context.Background(), g.ID, 50, 3)
	if err != nil {
		t.Fatalf("Window: %v", err)
	}
	want := strings.Split(text, "\n")
	for i, line := range w.Lines {
		if line != want[w.StartLine+i] {
			t.Errorf("line %d = %q, want %q", w.StartLine+i, line, want[w.StartLine+i])
		}
	}
}

func TestReimportRestalesAndClamps(t *testing.T) {
	s := testService(t)
	ctx := context.Background()
	g, err := s.Import(ctx, Meta{Title: "T"}, strings.NewReader(guideText(1000)))
	if err != nil {
		t.Fatalf("Import: %v", err)
	}

	deep, err := s.Bookmarks().Create(g.ID, 900, "late", "")
	if err != nil {
		t.Fatalf("Create bookmark: %v", err)
	}
	if err := s.SetPosition(g.ID, 950, 0); err != nil {
		t.Fatalf("SetPosition: %v", err)
	}
	if err := s.tracker.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	g2, err := s.Reimport(ctx, g.ID, Meta{VersionLabel: "v2"}, strings.NewReader(guideText(500)))
	if err != nil {
		t.Fatalf("Reimport: %v", err)
	}
	if g2.Version != 2 || g2.LineCount != 500 {
		t.Errorf("reimported guide = %+v", g2)
	}

	r, err := s.Bookmarks().Resolve(deep.ID)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !r.Stale || r.Line != 499 {
		t.Errorf("resolved = line %d stale %v", r.Line, r.Stale)
	}

	p, err := s.GetPosition(g.ID)
	if err != nil {
		t.Fatalf("GetPosition: %v", err)
	}
	if p.Line != 499 {
		t.Errorf("position = %d, want clamped 499", p.Line)
	}

	// Superseded version got pruned: its index rows and content are gone.
	if _, err := s.db.GetLineRange(g.ID, 1, 0, 1); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("old version still indexed: %v", err)
	}
}

func TestReimportIdenticalBytesIsNoop(t *testing.T) {
	s := testService(t)
	ctx := context.Background()
	g, _ := s.Import(ctx, Meta{Title: "T"}, strings.NewReader(guideText(50)))

	g2, err := s.Reimport(ctx, g.ID, Meta{}, strings.NewReader(guideText(50)))
	if err != nil {
		t.Fatalf("Reimport: %v", err)
	}
	if g2.Version != 1 {
		t.Errorf("identical reimport bumped version to %d", g2.Version)
	}
}

func TestReimportConflict(t *testing.T) {
	s := testService(t)
	ctx := context.Background()
	g, _ := s.Import(ctx, Meta{Title: "T"}, strings.NewReader(guideText(50)))

	if _, err := s.db.BeginReimport(g.ID, models.Guide{Title: "T"}); err != nil {
		t.Fatalf("BeginReimport: %v", err)
	}
	if _, err := s.Reimport(ctx, g.ID, Meta{}, strings.NewReader(guideText(60))); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("concurrent reimport err = %v, want ErrConflict", err)
	}
}

func TestDeleteRemovesEverything(t *testing.T) {
	s := testService(t)
	ctx := context.Background()
	g, _ := s.Import(ctx, Meta{Title: "T"}, strings.NewReader(guideText(50)))

	if err := s.Delete(g.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(g.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("deleted guide still readable: %v", err)
	}
	if _, err := s.Window(ctx, g.ID, 0, 5); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("window on deleted guide err = %v", err)
	}
}

func TestSectionTree(t *testing.T) {
	s := testService(t)
	g, err := s.Import(context.Background(), Meta{Title: "T"}, strings.NewReader(guideText(100)))
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	sections, err := s.SectionTree(g.ID)
	if err != nil {
		t.Fatalf("SectionTree: %v", err)
	}
	if len(sections) == 0 || sections[0].Title != "WALKTHROUGH" {
		t.Errorf("sections = %+v", sections)
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	s := testService(t)
	ctx := context.Background()
	text := guideText(300)
	g, err := s.Import(ctx, Meta{Title: "Guide", System: "SNES", Author: "a"}, strings.NewReader(text))
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if _, err := s.Bookmarks().Create(g.ID, 42, "shop", "items"); err != nil {
		t.Fatalf("Create bookmark: %v", err)
	}

	var buf bytes.Buffer
	if err := s.Export(ctx, g.ID, &buf, bundle.CompressXz); err != nil {
		t.Fatalf("Export: %v", err)
	}

	// Re-import into a fresh library.
	s2 := testService(t)
	g2, err := s2.ImportBundle(ctx, &buf)
	if err != nil {
		t.Fatalf("ImportBundle: %v", err)
	}
	if g2.LineCount != g.LineCount || g2.Checksum != g.Checksum {
		t.Errorf("round trip guide = %+v, want lines %d checksum %s", g2, g.LineCount, g.Checksum)
	}
	if g2.Title != "Guide" || g2.System != "SNES" {
		t.Errorf("round trip metadata = %+v", g2)
	}

	secs1, _ := s.SectionTree(g.ID)
	secs2, _ := s2.SectionTree(g2.ID)
	if len(secs1) != len(secs2) {
		t.Errorf("section count changed: %d -> %d", len(secs1), len(secs2))
	}

	bms, _ := s2.Bookmarks().List(g2.ID, "")
	if len(bms) != 1 || bms[0].Line != 42 || bms[0].Label != "shop" {
		t.Errorf("restored bookmarks = %+v", bms)
	}
}

func TestSetPositionValidatesGuide(t *testing.T) {
	s := testService(t)
	if err := s.SetPosition("ghost", 1, 0); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("SetPosition on missing guide err = %v", err)
	}
}
