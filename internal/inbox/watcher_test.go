package inbox

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gaidenhq/gaiden/internal/guideservice"
	"github.com/gaidenhq/gaiden/internal/index"
	"github.com/gaidenhq/gaiden/internal/ingest"
	"github.com/gaidenhq/gaiden/internal/position"
	"github.com/gaidenhq/gaiden/internal/storage"
	"github.com/gaidenhq/gaiden/internal/window"
)

func testService(t *testing.T) *guideservice.Service {
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
	tracker := position.New(db, logger, time.Hour)
	t.Cleanup(func() { _ = tracker.Close() })

	return guideservice.New(db, store, cache, tracker, nil, logger, ingest.Options{})
}

func guideText(lines int) string {
	var b strings.Builder
	for i := 0; i < lines; i++ {
		fmt.Fprintf(&b, "step %04d\n", i)
	}
	return b.String()
}

func startWatch(t *testing.T, svc *guideservice.Service, root string) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		logger := slog.New(slog.NewTextHandler(io.Discard, nil))
		if err := Watch(ctx, svc, root, logger); err != nil {
			t.Errorf("Watch: %v", err)
		}
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(25 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestDroppedFileIsImportedAndArchived(t *testing.T) {
	svc := testService(t)
	root := t.TempDir()
	startWatch(t, svc, root)

	path := filepath.Join(root, "Zelda OoT.txt")
	if err := os.WriteFile(path, []byte(guideText(50)), 0o644); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool {
		guides, _ := svc.List()
		return len(guides) == 1
	})
	guides, _ := svc.List()
	if guides[0].Title != "Zelda OoT" || guides[0].LineCount != 50 {
		t.Errorf("imported = %+v", guides[0])
	}

	waitFor(t, func() bool {
		_, err := os.Stat(filepath.Join(root, archiveDir, "Zelda OoT.txt"))
		return err == nil
	})
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("source file still in inbox after archive")
	}
}

func TestMatchingTitleReimports(t *testing.T) {
	svc := testService(t)
	root := t.TempDir()

	g, err := svc.Import(context.Background(), guideservice.Meta{Title: "Metroid"}, strings.NewReader(guideText(100)))
	if err != nil {
		t.Fatalf("Import: %v", err)
	}

	startWatch(t, svc, root)

	if err := os.WriteFile(filepath.Join(root, "metroid.txt"), []byte(guideText(60)), 0o644); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool {
		got, err := svc.Get(g.ID)
		return err == nil && got.Version == 2
	})
	got, _ := svc.Get(g.ID)
	if got.LineCount != 60 {
		t.Errorf("reimported guide = %+v", got)
	}
	guides, _ := svc.List()
	if len(guides) != 1 {
		t.Errorf("library has %d guides, want 1", len(guides))
	}
}

func TestPreexistingFilesProcessedOnStartup(t *testing.T) {
	svc := testService(t)
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "early.txt"), []byte(guideText(10)), 0o644); err != nil {
		t.Fatal(err)
	}

	startWatch(t, svc, root)

	waitFor(t, func() bool {
		guides, _ := svc.List()
		return len(guides) == 1
	})
}

func TestNonGuideFilesIgnored(t *testing.T) {
	svc := testService(t)
	root := t.TempDir()
	startWatch(t, svc, root)

	os.WriteFile(filepath.Join(root, "readme.md"), []byte("notes\n"), 0o644)      //nolint:errcheck
	os.WriteFile(filepath.Join(root, ".hidden.txt"), []byte(guideText(5)), 0o644) //nolint:errcheck

	time.Sleep(settleDelay + 300*time.Millisecond)
	guides, _ := svc.List()
	if len(guides) != 0 {
		t.Errorf("ignored files were imported: %+v", guides)
	}
}

func TestUnparsableFileStaysInInbox(t *testing.T) {
	svc := testService(t)
	root := t.TempDir()
	startWatch(t, svc, root)

	path := filepath.Join(root, "binary.txt")
	if err := os.WriteFile(path, []byte{0x00, 0x01, 0x02}, 0o644); err != nil {
		t.Fatal(err)
	}

	time.Sleep(settleDelay + 300*time.Millisecond)
	if _, err := os.Stat(path); err != nil {
		t.Error("failed file was removed from inbox")
	}
	guides, _ := svc.List()
	if len(guides) != 0 {
		t.Errorf("unparsable file was imported")
	}
}
