package mcpserver

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/gaidenhq/gaiden/internal/guideservice"
	"github.com/gaidenhq/gaiden/internal/index"
	"github.com/gaidenhq/gaiden/internal/ingest"
	"github.com/gaidenhq/gaiden/internal/position"
	"github.com/gaidenhq/gaiden/internal/storage"
	"github.com/gaidenhq/gaiden/internal/window"
)

func testServer(t *testing.T) (*Server, *guideservice.Service) {
	t.Helper()

	dbFile, err := os.CreateTemp("", "gaiden-mcp-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := index.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	store, err := storage.NewFS(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cache := window.New(window.Config{PrefetchChunks: 0}, db, store)
	tracker := position.New(db, logger, time.Hour)
	t.Cleanup(func() { _ = tracker.Close() })

	svc := guideservice.New(db, store, cache, tracker, nil, logger, ingest.Options{})
	return New(svc), svc
}

func importGuide(t *testing.T, svc *guideservice.Service, title string, lines int) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("================\nWALKTHROUGH\n================\n")
	for i := 3; i < lines; i++ {
		fmt.Fprintf(&b, "step %04d: go north\n", i)
	}
	g, err := svc.Import(context.Background(), guideservice.Meta{Title: title}, strings.NewReader(b.String()))
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	return g.ID
}

func callTool(t *testing.T, srv *Server, name string, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	var result *mcp.CallToolResult
	var err error

	switch name {
	case "list_guides":
		result, err = srv.listGuides(ctx, req)
	case "get_window":
		result, err = srv.getWindow(ctx, req)
	case "get_sections":
		result, err = srv.getSections(ctx, req)
	case "list_bookmarks":
		result, err = srv.listBookmarks(ctx, req)
	case "resolve_bookmark":
		result, err = srv.resolveBookmark(ctx, req)
	case "get_reading_contract":
		result, err = srv.getReadingContract(ctx, req)
	default:
		t.Fatalf("unknown tool: %s", name)
	}

	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func TestListGuides(t *testing.T) {
	srv, svc := testServer(t)
	importGuide(t, svc, "FF7 Guide", 100)

	r := callTool(t, srv, "list_guides", map[string]interface{}{})
	text := resultText(r)
	if !strings.Contains(text, "FF7 Guide") {
		t.Errorf("list missing guide: %q", text)
	}
}

func TestGetWindow(t *testing.T) {
	srv, svc := testServer(t)
	id := importGuide(t, svc, "T", 100)

	r := callTool(t, srv, "get_window", map[string]interface{}{
		"guide_id": id,
		"center":   float64(50),
		"radius":   float64(2),
	})
	if r.IsError {
		t.Fatalf("get_window error: %s", resultText(r))
	}
	text := resultText(r)
	if !strings.Contains(text, "step 0050: go north") {
		t.Errorf("window missing center line: %q", text)
	}
	if !strings.Contains(text, "    48\t") {
		t.Errorf("window missing numbered prefix: %q", text)
	}
}

func TestGetWindowMissingGuide(t *testing.T) {
	srv, _ := testServer(t)
	r := callTool(t, srv, "get_window", map[string]interface{}{
		"guide_id": "nope",
		"center":   float64(0),
	})
	if !r.IsError {
		t.Error("expected error for missing guide")
	}
}

func TestGetSections(t *testing.T) {
	srv, svc := testServer(t)
	id := importGuide(t, svc, "T", 50)

	r := callTool(t, srv, "get_sections", map[string]interface{}{"guide_id": id})
	text := resultText(r)
	if !strings.Contains(text, "WALKTHROUGH") {
		t.Errorf("sections = %q", text)
	}
}

func TestBookmarkTools(t *testing.T) {
	srv, svc := testServer(t)
	id := importGuide(t, svc, "T", 100)

	b, err := svc.Bookmarks().Create(id, 42, "boss", "combat")
	if err != nil {
		t.Fatalf("Create bookmark: %v", err)
	}

	r := callTool(t, srv, "list_bookmarks", map[string]interface{}{"guide_id": id})
	if !strings.Contains(resultText(r), "boss") {
		t.Errorf("bookmarks = %q", resultText(r))
	}

	r = callTool(t, srv, "list_bookmarks", map[string]interface{}{"guide_id": id, "category": "other"})
	if resultText(r) != "no bookmarks" {
		t.Errorf("filtered bookmarks = %q", resultText(r))
	}

	r = callTool(t, srv, "resolve_bookmark", map[string]interface{}{"bookmark_id": b.ID})
	text := resultText(r)
	if !strings.Contains(text, `"line": 42`) {
		t.Errorf("resolved = %q", text)
	}
}

func TestReadingContract(t *testing.T) {
	srv, _ := testServer(t)
	r := callTool(t, srv, "get_reading_contract", map[string]interface{}{})
	if !strings.Contains(resultText(r), "byte-exact") {
		t.Errorf("contract = %q", resultText(r))
	}

	contents, err := srv.readGuideFormatResource(context.Background(), mcp.ReadResourceRequest{})
	if err != nil {
		t.Fatalf("resource: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("resource contents = %d", len(contents))
	}
}
