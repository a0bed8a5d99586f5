package internal

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/gaidenhq/gaiden/internal/bundle"
	"github.com/gaidenhq/gaiden/internal/guideservice"
	"github.com/gaidenhq/gaiden/internal/mcpserver"
)

// ImportFile imports one guide file from the command line and prints the
// resulting guide id.
func ImportFile(ctx context.Context, cfg *Config, path string) error {
	logger := newCLILogger(cfg)
	svc, db, tracker, cache, err := buildService(cfg, logger, nil)
	if err != nil {
		return err
	}
	defer db.Close()
	defer cache.Close()
	defer tracker.Close() //nolint:errcheck

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	title := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	g, err := svc.Import(ctx, guideservice.Meta{Title: title}, f)
	if err != nil {
		return fmt.Errorf("import %s: %w", path, err)
	}
	fmt.Printf("%s\t%s\t%d lines\n", g.ID, g.Title, g.LineCount)
	return nil
}

// ExportGuide writes a guide bundle to outPath. The compression is chosen
// from the output extension: .tar.gz selects gzip, anything else xz.
func ExportGuide(ctx context.Context, cfg *Config, guideID, outPath string) error {
	logger := newCLILogger(cfg)
	svc, db, tracker, cache, err := buildService(cfg, logger, nil)
	if err != nil {
		return err
	}
	defer db.Close()
	defer cache.Close()
	defer tracker.Close() //nolint:errcheck

	comp := bundle.CompressXz
	if strings.HasSuffix(outPath, ".tar.gz") || strings.HasSuffix(outPath, ".tgz") {
		comp = bundle.CompressGzip
	}

	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", outPath, err)
	}
	defer out.Close()

	if err := svc.Export(ctx, guideID, out, comp); err != nil {
		os.Remove(outPath)
		return fmt.Errorf("export %s: %w", guideID, err)
	}
	return nil
}

// RunMCP serves the MCP stdio server until the client disconnects. Logs go
// to stderr; stdout belongs to the protocol.
func RunMCP(cfg *Config) error {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	svc, db, tracker, cache, err := buildService(cfg, logger, nil)
	if err != nil {
		return err
	}
	defer db.Close()
	defer cache.Close()
	defer tracker.Close() //nolint:errcheck

	return mcpserver.New(svc).ServeStdio()
}

// newCLILogger keeps one-shot commands quiet: warnings and errors only,
// on stderr.
func newCLILogger(cfg *Config) *slog.Logger {
	level := cfg.App.LogLevel
	if level < slog.LevelWarn {
		level = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
