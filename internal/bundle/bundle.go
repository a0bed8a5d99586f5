// Package bundle reads and writes guide export archives.
//
// A bundle is a tar archive, compressed with xz or gzip, holding exactly
// two members: manifest.yaml with the guide's metadata and derived state,
// and content.txt with the raw guide bytes. The content is carried
// untouched so a round trip reproduces the source byte for byte.
package bundle

import (
	"archive/tar"
	"bufio"
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"time"

	"github.com/ulikunitz/xz"
	"gopkg.in/yaml.v3"

	"github.com/gaidenhq/gaiden/internal/models"
)

const (
	manifestName = "manifest.yaml"
	contentName  = "content.txt"
)

// Compression selects the bundle's outer codec.
type Compression string

const (
	CompressXz   Compression = "xz"
	CompressGzip Compression = "gzip"
)

// Manifest is the metadata half of a bundle.
type Manifest struct {
	FormatVersion int       `yaml:"format_version"`
	ExportedAt    time.Time `yaml:"exported_at"`

	Title        string `yaml:"title"`
	System       string `yaml:"system,omitempty"`
	Author       string `yaml:"author,omitempty"`
	VersionLabel string `yaml:"version_label,omitempty"`

	LineCount int    `yaml:"line_count"`
	Checksum  string `yaml:"checksum"`

	Sections    []SectionEntry  `yaml:"sections,omitempty"`
	Bookmarks   []BookmarkEntry `yaml:"bookmarks,omitempty"`
	Collections []string        `yaml:"collections,omitempty"`
}

// SectionEntry is a manifest section marker.
type SectionEntry struct {
	Line       int     `yaml:"line"`
	Title      string  `yaml:"title"`
	Level      int     `yaml:"level"`
	Confidence float64 `yaml:"confidence"`
}

// BookmarkEntry is a manifest bookmark.
type BookmarkEntry struct {
	Line     int    `yaml:"line"`
	Label    string `yaml:"label"`
	Category string `yaml:"category,omitempty"`
}

// FormatVersion is written into every new bundle.
const FormatVersion = 1

// ManifestFor assembles a manifest from the guide's indexed state.
func ManifestFor(g *models.Guide, sections []models.SectionMarker, bookmarks []models.Bookmark, collections []string) Manifest {
	m := Manifest{
		FormatVersion: FormatVersion,
		ExportedAt:    time.Now().UTC(),
		Title:         g.Title,
		System:        g.System,
		Author:        g.Author,
		VersionLabel:  g.VersionLabel,
		LineCount:     g.LineCount,
		Checksum:      g.Checksum,
		Collections:   collections,
	}
	for _, s := range sections {
		m.Sections = append(m.Sections, SectionEntry{Line: s.LineNumber, Title: s.Title, Level: s.Level, Confidence: s.Confidence})
	}
	for _, b := range bookmarks {
		m.Bookmarks = append(m.Bookmarks, BookmarkEntry{Line: b.Line, Label: b.Label, Category: b.Category})
	}
	return m
}

// Write emits a bundle to w.
func Write(w io.Writer, comp Compression, m Manifest, content []byte) (err error) {
	var cw io.WriteCloser
	switch comp {
	case CompressGzip:
		cw = gzip.NewWriter(w)
	case CompressXz, "":
		cw, err = xz.NewWriter(w)
		if err != nil {
			return fmt.Errorf("bundle: xz writer: %w", err)
		}
	default:
		return fmt.Errorf("bundle: unknown compression %q", comp)
	}

	manifest, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("bundle: marshal manifest: %w", err)
	}

	tw := tar.NewWriter(cw)
	for _, member := range []struct {
		name string
		data []byte
	}{
		{manifestName, manifest},
		{contentName, content},
	} {
		hdr := &tar.Header{
			Name:    member.name,
			Mode:    0o644,
			Size:    int64(len(member.data)),
			ModTime: m.ExportedAt,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return fmt.Errorf("bundle: write %s header: %w", member.name, err)
		}
		if _, err := tw.Write(member.data); err != nil {
			return fmt.Errorf("bundle: write %s: %w", member.name, err)
		}
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("bundle: close tar: %w", err)
	}
	if err := cw.Close(); err != nil {
		return fmt.Errorf("bundle: close compressor: %w", err)
	}
	return nil
}

// Read parses a bundle, sniffing the compression from its magic bytes.
func Read(r io.Reader) (*Manifest, []byte, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(6)
	if err != nil {
		return nil, nil, fmt.Errorf("bundle: read header: %w", err)
	}

	var cr io.Reader
	switch {
	case bytes.HasPrefix(magic, []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}):
		cr, err = xz.NewReader(br)
		if err != nil {
			return nil, nil, fmt.Errorf("bundle: xz reader: %w", err)
		}
	case bytes.HasPrefix(magic, []byte{0x1f, 0x8b}):
		cr, err = gzip.NewReader(br)
		if err != nil {
			return nil, nil, fmt.Errorf("bundle: gzip reader: %w", err)
		}
	default:
		return nil, nil, fmt.Errorf("bundle: unrecognized archive format")
	}

	var (
		m       *Manifest
		content []byte
	)
	tr := tar.NewReader(cr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("bundle: read tar: %w", err)
		}
		switch hdr.Name {
		case manifestName:
			data, err := io.ReadAll(tr)
			if err != nil {
				return nil, nil, fmt.Errorf("bundle: read manifest: %w", err)
			}
			m = &Manifest{}
			if err := yaml.Unmarshal(data, m); err != nil {
				return nil, nil, fmt.Errorf("bundle: parse manifest: %w", err)
			}
		case contentName:
			content, err = io.ReadAll(tr)
			if err != nil {
				return nil, nil, fmt.Errorf("bundle: read content: %w", err)
			}
		}
	}

	if m == nil {
		return nil, nil, fmt.Errorf("bundle: missing %s", manifestName)
	}
	if content == nil {
		return nil, nil, fmt.Errorf("bundle: missing %s", contentName)
	}
	return m, content, nil
}
