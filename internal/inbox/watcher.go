// Package inbox watches a drop directory and imports guide files placed
// into it. A successfully imported file is moved into an archive
// subdirectory so the inbox only ever holds work in progress.
package inbox

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/gaidenhq/gaiden/internal/apperr"
	"github.com/gaidenhq/gaiden/internal/guideservice"
)

// archiveDir is where processed files land, relative to the inbox root.
const archiveDir = "processed"

// settleDelay gives a file being copied into the inbox time to finish
// before we read it. Editors and download managers write in bursts.
const settleDelay = 500 * time.Millisecond

// Watch starts an fsnotify watcher on the inbox root and imports .txt files
// dropped into it until ctx is cancelled. A file whose base name (without
// extension) matches an existing guide title is re-imported into that
// guide; anything else becomes a new guide.
func Watch(ctx context.Context, svc *guideservice.Service, root string, logger *slog.Logger) error {
	if err := os.MkdirAll(filepath.Join(root, archiveDir), 0o755); err != nil {
		return err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Add(root); err != nil {
		return err
	}
	logger.Info("inbox: started", slog.String("root", root))

	// Pick up files already sitting in the inbox at startup.
	processAll(ctx, svc, root, logger)

	// pending debounces per-file processing; rename storms and chunked
	// writes collapse into one import per file.
	pending := make(map[string]*time.Timer)
	processed := make(chan string, 16)

	schedule := func(path string) {
		if t, ok := pending[path]; ok {
			t.Reset(settleDelay)
			return
		}
		pending[path] = time.AfterFunc(settleDelay, func() {
			select {
			case processed <- path:
			case <-ctx.Done():
			}
		})
	}

	for {
		select {
		case <-ctx.Done():
			for _, t := range pending {
				t.Stop()
			}
			logger.Info("inbox: stopped")
			return nil

		case path := <-processed:
			delete(pending, path)
			processFile(ctx, svc, root, path, logger)

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !isGuideFile(ev.Name) {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
				schedule(ev.Name)
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("inbox: watcher error", slog.String("error", watchErr.Error()))
		}
	}
}

func isGuideFile(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), ".txt") &&
		!strings.HasPrefix(filepath.Base(path), ".")
}

// processAll imports every guide file already present in the inbox root.
func processAll(ctx context.Context, svc *guideservice.Service, root string, logger *slog.Logger) {
	entries, err := os.ReadDir(root)
	if err != nil {
		logger.Warn("inbox: scan failed", slog.String("error", err.Error()))
		return
	}
	for _, e := range entries {
		if e.IsDir() || !isGuideFile(e.Name()) {
			continue
		}
		processFile(ctx, svc, root, filepath.Join(root, e.Name()), logger)
	}
}

// processFile imports one dropped file and archives it on success. Files
// that fail to parse stay in the inbox so the user can see and fix them.
func processFile(ctx context.Context, svc *guideservice.Service, root, path string, logger *slog.Logger) {
	f, err := os.Open(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.Warn("inbox: open failed", slog.String("path", path), slog.String("error", err.Error()))
		}
		return
	}
	defer f.Close()

	title := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	meta := guideservice.Meta{Title: title}

	var importErr error
	if existing := findByTitle(svc, title, logger); existing != "" {
		_, importErr = svc.Reimport(ctx, existing, meta, f)
	} else {
		_, importErr = svc.Import(ctx, meta, f)
	}
	if importErr != nil {
		if errors.Is(importErr, apperr.ErrConflict) {
			// Another import is in flight; the debounce will retry on the
			// next event, and the file stays put meanwhile.
			logger.Info("inbox: import deferred", slog.String("path", path))
			return
		}
		logger.Warn("inbox: import failed", slog.String("path", path), slog.String("error", importErr.Error()))
		return
	}

	dst := filepath.Join(root, archiveDir, filepath.Base(path))
	if err := os.Rename(path, dst); err != nil {
		logger.Warn("inbox: archive failed", slog.String("path", path), slog.String("error", err.Error()))
		return
	}
	logger.Info("inbox: imported", slog.String("path", path), slog.String("title", title))
}

func findByTitle(svc *guideservice.Service, title string, logger *slog.Logger) string {
	guides, err := svc.List()
	if err != nil {
		logger.Warn("inbox: list guides failed", slog.String("error", err.Error()))
		return ""
	}
	for _, g := range guides {
		if strings.EqualFold(g.Title, title) {
			return g.ID
		}
	}
	return ""
}
