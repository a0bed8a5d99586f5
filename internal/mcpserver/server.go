// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes the guide library to LLM clients via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/gaidenhq/gaiden/internal/guideservice"
)

// Server wraps the MCP server with Gaiden tools.
type Server struct {
	mcp *server.MCPServer
	svc *guideservice.Service
}

// New creates a new MCP server with all Gaiden tools registered.
func New(svc *guideservice.Service) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"Gaiden",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_guides",
		mcp.WithDescription("List all guides in the library with their line counts and states."),
	), s.listGuides)

	s.mcp.AddTool(mcp.NewTool("get_window",
		mcp.WithDescription("Read a window of lines around a center line from a guide. "+
			"Lines come back byte-exact, including the ASCII art and alignment of the "+
			"original text. Read the contract first via the get_reading_contract tool "+
			"or the gaiden://guide-format resource."),
		mcp.WithString("guide_id", mcp.Required(), mcp.Description("Guide identifier from list_guides")),
		mcp.WithNumber("center", mcp.Required(), mcp.Description("Zero-based center line number")),
		mcp.WithNumber("radius", mcp.Description("Lines to include on each side (default 100, max 5000)")),
	), s.getWindow)

	s.mcp.AddTool(mcp.NewTool("get_sections",
		mcp.WithDescription("Get the detected section tree of a guide: heading lines with "+
			"titles, nesting levels, and detection confidence. Use section line numbers "+
			"as get_window centers to jump around a guide."),
		mcp.WithString("guide_id", mcp.Required(), mcp.Description("Guide identifier")),
	), s.getSections)

	s.mcp.AddTool(mcp.NewTool("list_bookmarks",
		mcp.WithDescription("List a guide's bookmarks ordered by line, optionally filtered by category."),
		mcp.WithString("guide_id", mcp.Required(), mcp.Description("Guide identifier")),
		mcp.WithString("category", mcp.Description("Optional category filter")),
	), s.listBookmarks)

	s.mcp.AddTool(mcp.NewTool("resolve_bookmark",
		mcp.WithDescription("Resolve a bookmark to a jump target. If the guide shrank since "+
			"the bookmark was created, the target is clamped to the nearest valid line and "+
			"flagged stale."),
		mcp.WithString("bookmark_id", mcp.Required(), mcp.Description("Bookmark identifier from list_bookmarks")),
	), s.resolveBookmark)

	s.mcp.AddTool(mcp.NewTool("get_reading_contract",
		mcp.WithDescription("Returns the guide reading contract: how line numbers, windows, "+
			"sections, and bookmarks behave. Call this before navigating guides."),
	), s.getReadingContract)

	// Resource: guide format contract.
	s.mcp.AddResource(
		mcp.NewResource("gaiden://guide-format", "Guide Reading Contract",
			mcp.WithResourceDescription("How windows, sections, and bookmarks behave across guide versions."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readGuideFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) listGuides(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	guides, err := s.svc.List()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(guides, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) getWindow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	guideID, err := req.RequireString("guide_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	center, err := req.RequireInt("center")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	radius := req.GetInt("radius", 100)
	if radius < 0 || radius > 5000 {
		return mcp.NewToolResultError("radius must be 0-5000"), nil
	}

	w, err := s.svc.Window(ctx, guideID, center, radius)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	// Prefix each line with its number so the model can cite positions.
	var b strings.Builder
	for i, line := range w.Lines {
		fmt.Fprintf(&b, "%6d\t%s\n", w.StartLine+i, line)
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *Server) getSections(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	guideID, err := req.RequireString("guide_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	sections, err := s.svc.SectionTree(guideID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(sections) == 0 {
		return mcp.NewToolResultText("no sections detected"), nil
	}
	out, _ := json.MarshalIndent(sections, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) listBookmarks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	guideID, err := req.RequireString("guide_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	category := req.GetString("category", "")

	bms, err := s.svc.Bookmarks().List(guideID, category)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(bms) == 0 {
		return mcp.NewToolResultText("no bookmarks"), nil
	}
	out, _ := json.MarshalIndent(bms, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) resolveBookmark(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("bookmark_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := s.svc.Bookmarks().Resolve(id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(res, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) getReadingContract(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(GuideFormatContract), nil
}

func (s *Server) readGuideFormatResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      "gaiden://guide-format",
			MIMEType: "text/markdown",
			Text:     GuideFormatContract,
		},
	}, nil
}
