// Package ingest converts raw guide text into an immutable line index and
// section tree in a single linear pass.
package ingest

import (
	"bytes"
	"unicode/utf8"

	"github.com/gaidenhq/gaiden/internal/apperr"
	"github.com/gaidenhq/gaiden/internal/checksum"
	"github.com/gaidenhq/gaiden/internal/models"
)

// Document is the result of parsing one guide revision. Line spans cover
// the input exactly: retrieving a span from the raw bytes reproduces the
// original line including leading and trailing whitespace.
type Document struct {
	Lines    []models.LineSpan
	Sections []models.SectionMarker
	Checksum string
}

// Options tunes section detection. Heading recognition is a pure scoring
// function plus this threshold, so it can be tested and tuned without
// touching the parse loop.
type Options struct {
	// HeadingThreshold is the minimum score for a line to become a
	// section marker. Zero means DefaultHeadingThreshold.
	HeadingThreshold float64
}

// DefaultHeadingThreshold is the score cutoff used when Options leaves it unset.
const DefaultHeadingThreshold = 0.5

// Parse builds the line-offset table and section markers for data.
// Empty input fails with apperr.ErrEmptyDocument; input that is not valid
// UTF-8 or contains NUL bytes fails with apperr.ErrInvalidEncoding.
// Identical bytes always yield a structurally identical Document.
func Parse(data []byte, opts Options) (*Document, error) {
	if len(data) == 0 {
		return nil, apperr.ErrEmptyDocument
	}
	if !utf8.Valid(data) || bytes.IndexByte(data, 0) >= 0 {
		return nil, apperr.ErrInvalidEncoding
	}

	threshold := opts.HeadingThreshold
	if threshold == 0 {
		threshold = DefaultHeadingThreshold
	}

	doc := &Document{Checksum: checksum.Sum(data)}

	// First pass: locate line terminators. Span lengths exclude the
	// terminator so retrieval is byte-exact for the line content; the
	// terminator width is recoverable from the next span's offset.
	var off int64
	for off < int64(len(data)) {
		rest := data[off:]
		idx := bytes.IndexByte(rest, '\n')
		var content []byte
		var advance int64
		if idx < 0 {
			content = rest
			advance = int64(len(rest))
		} else {
			content = rest[:idx]
			advance = int64(idx) + 1
		}
		// Strip a trailing \r from the span, not from the file.
		n := len(content)
		if n > 0 && content[n-1] == '\r' {
			n--
		}
		doc.Lines = append(doc.Lines, models.LineSpan{
			LineNumber: len(doc.Lines),
			ByteOffset: off,
			ByteLength: n,
		})
		off += advance
	}

	// Second pass: score each line against its neighborhood.
	lines := make([]string, len(doc.Lines))
	for i, span := range doc.Lines {
		lines[i] = string(data[span.ByteOffset : span.ByteOffset+int64(span.ByteLength)])
	}
	for i, line := range lines {
		prev, next := "", ""
		if i > 0 {
			prev = lines[i-1]
		}
		if i < len(lines)-1 {
			next = lines[i+1]
		}
		score := ScoreHeading(prev, line, next)
		if score < threshold {
			continue
		}
		doc.Sections = append(doc.Sections, models.SectionMarker{
			LineNumber: i,
			Title:      headingTitle(line),
			Level:      headingLevel(line, score),
			Confidence: score,
		})
	}

	return doc, nil
}
