package bookmark

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/gaidenhq/gaiden/internal/apperr"
	"github.com/gaidenhq/gaiden/internal/index"
	"github.com/gaidenhq/gaiden/internal/models"
)

func testDB(t *testing.T) *index.DB {
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
	return db
}

func spans(n int) []models.LineSpan {
	out := make([]models.LineSpan, n)
	off := int64(0)
	for i := range out {
		out[i] = models.LineSpan{LineNumber: i, ByteOffset: off, ByteLength: 10}
		off += 11
	}
	return out
}

func commitGuide(t *testing.T, db *index.DB, id, checksum string, lineCount int) {
	t.Helper()
	if err := db.CreateGuide(models.Guide{ID: id, Title: id, CreatedAt: time.Now()}); err != nil {
		t.Fatalf("CreateGuide: %v", err)
	}
	if err := db.CommitVersion(id, 1, checksum, spans(lineCount), nil); err != nil {
		t.Fatalf("CommitVersion: %v", err)
	}
}

func TestCreateValidatesBounds(t *testing.T) {
	db := testDB(t)
	commitGuide(t, db, "g1", "cs1", 100)
	m := NewManager(db)

	b, err := m.Create("g1", 42, "boss fight", "combat")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if b.ID == "" || b.Line != 42 || b.Stale {
		t.Errorf("bookmark = %+v", b)
	}

	for _, line := range []int{-1, 100, 9999} {
		if _, err := m.Create("g1", line, "x", ""); !errors.Is(err, apperr.ErrOutOfRange) {
			t.Errorf("Create(line=%d) err = %v, want ErrOutOfRange", line, err)
		}
	}
	if _, err := m.Create("missing", 0, "x", ""); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("Create on missing guide err = %v, want ErrNotFound", err)
	}
}

func TestListOrderedAndFiltered(t *testing.T) {
	db := testDB(t)
	commitGuide(t, db, "g1", "cs1", 100)
	m := NewManager(db)

	mustCreate := func(line int, label, cat string) {
		t.Helper()
		if _, err := m.Create("g1", line, label, cat); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	mustCreate(90, "end", "progress")
	mustCreate(10, "start", "progress")
	mustCreate(50, "secret", "items")

	all, err := m.List("g1", "")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 3 || all[0].Line != 10 || all[2].Line != 90 {
		t.Errorf("list = %+v", all)
	}

	items, err := m.List("g1", "items")
	if err != nil {
		t.Fatalf("List filtered: %v", err)
	}
	if len(items) != 1 || items[0].Label != "secret" {
		t.Errorf("filtered = %+v", items)
	}
}

func TestResolveClampsAfterShrink(t *testing.T) {
	db := testDB(t)
	commitGuide(t, db, "g1", "cs1", 1000)
	m := NewManager(db)

	deep, err := m.Create("g1", 900, "late game", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	early, err := m.Create("g1", 100, "early game", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	next, err := db.BeginReimport("g1", models.Guide{Title: "g1"})
	if err != nil {
		t.Fatalf("BeginReimport: %v", err)
	}
	if err := db.CommitVersion("g1", next, "cs2", spans(500), nil); err != nil {
		t.Fatalf("CommitVersion: %v", err)
	}

	r, err := m.Resolve(deep.ID)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !r.Stale || r.Line != 499 {
		t.Errorf("resolved = line %d stale %v, want 499 true", r.Line, r.Stale)
	}
	// Original row keeps its line for a future re-import that grows again.
	if r.Bookmark.Line != 900 {
		t.Errorf("bookmark row line = %d, want 900", r.Bookmark.Line)
	}

	r, err = m.Resolve(early.ID)
	if err != nil {
		t.Fatalf("Resolve early: %v", err)
	}
	if r.Stale || r.Line != 100 {
		t.Errorf("in-bounds resolved = line %d stale %v", r.Line, r.Stale)
	}
}

func TestResolveRecoversAfterRegrow(t *testing.T) {
	db := testDB(t)
	commitGuide(t, db, "g1", "cs1", 1000)
	m := NewManager(db)

	b, err := m.Create("g1", 900, "late game", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	reimport := func(checksum string, lineCount int) {
		t.Helper()
		next, err := db.BeginReimport("g1", models.Guide{Title: "g1"})
		if err != nil {
			t.Fatalf("BeginReimport: %v", err)
		}
		if err := db.CommitVersion("g1", next, checksum, spans(lineCount), nil); err != nil {
			t.Fatalf("CommitVersion: %v", err)
		}
	}

	reimport("cs2", 500)
	r, err := m.Resolve(b.ID)
	if err != nil {
		t.Fatalf("Resolve after shrink: %v", err)
	}
	if !r.Stale || r.Line != 499 {
		t.Errorf("after shrink = line %d stale %v, want 499 true", r.Line, r.Stale)
	}

	// Growing past the bookmarked line makes it exact again.
	reimport("cs3", 1200)
	r, err = m.Resolve(b.ID)
	if err != nil {
		t.Fatalf("Resolve after regrow: %v", err)
	}
	if r.Stale || r.Line != 900 {
		t.Errorf("after regrow = line %d stale %v, want 900 false", r.Line, r.Stale)
	}
}

func TestDelete(t *testing.T) {
	db := testDB(t)
	commitGuide(t, db, "g1", "cs1", 100)
	m := NewManager(db)

	b, _ := m.Create("g1", 5, "x", "")
	if err := m.Delete(b.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := m.Get(b.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("deleted bookmark still readable: %v", err)
	}
	if err := m.Delete(b.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("double delete err = %v, want ErrNotFound", err)
	}
}
