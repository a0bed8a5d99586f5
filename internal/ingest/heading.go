package ingest

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	sectionNumRe = regexp.MustCompile(`(?i)^\s*(section|chapter|part|appendix)\s+[0-9ivxlc]+\b`)
	numberedRe   = regexp.MustCompile(`^\s*[0-9]+(\.[0-9]+)*[.)]\s+\S`)
	tocTagRe     = regexp.MustCompile(`\[[A-Z0-9]{2,6}\]`)
)

// ScoreHeading evaluates line against common ASCII guide heading shapes and
// returns a confidence in [0, 1]. It is pure: the same three strings always
// produce the same score.
//
// Signals, strongest first:
//   - the line is framed by separator rules (runs of -, =, * or #) above
//     and/or below
//   - "Section N" / "Chapter IV" style numbering
//   - hierarchical numbering ("3.2) Boss strategies")
//   - table-of-contents tags like [WLK03]
//   - short line written entirely in caps
func ScoreHeading(prev, line, next string) float64 {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || isSeparator(trimmed) {
		return 0
	}

	var score float64

	framedAbove := isSeparator(strings.TrimSpace(prev))
	framedBelow := isSeparator(strings.TrimSpace(next))
	switch {
	case framedAbove && framedBelow:
		score += 0.55
	case framedBelow:
		// Underline rule ("Weapons\n=======") is a strong heading signal.
		score += 0.45
	case framedAbove:
		score += 0.25
	}

	if sectionNumRe.MatchString(trimmed) {
		score += 0.35
	} else if numberedRe.MatchString(trimmed) {
		score += 0.25
	}

	if tocTagRe.MatchString(trimmed) {
		score += 0.2
	}

	if isShort(trimmed) && isAllCaps(trimmed) {
		score += 0.3
	}

	// Prose-length lines are almost never headings.
	if len(trimmed) > 60 {
		score -= 0.3
	}

	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// headingTitle strips framing punctuation and TOC tags from a heading line.
func headingTitle(line string) string {
	t := strings.TrimSpace(line)
	t = strings.Trim(t, "-=*#| ")
	t = tocTagRe.ReplaceAllString(t, "")
	return strings.TrimSpace(t)
}

// headingLevel derives a tree level from the heading's shape. Framed and
// high-confidence headings are top level; numbered sub-headings nest by
// their dotted depth.
func headingLevel(line string, score float64) int {
	trimmed := strings.TrimSpace(line)
	if m := numberedRe.FindString(trimmed); m != "" {
		return 1 + strings.Count(strings.TrimSpace(m), ".")
	}
	if score >= 0.7 {
		return 1
	}
	return 2
}

// isSeparator reports whether s is a rule of repeated separator characters
// (at least four of -, =, *, #, _ or ~).
func isSeparator(s string) bool {
	if len(s) < 4 {
		return false
	}
	for _, r := range s {
		switch r {
		case '-', '=', '*', '#', '_', '~', '+', ' ':
		default:
			return false
		}
	}
	return strings.ContainsAny(s, "-=*#_~+")
}

func isShort(s string) bool {
	return len(s) <= 48
}

// isAllCaps reports whether s contains at least one letter and no lowercase
// letters.
func isAllCaps(s string) bool {
	hasLetter := false
	for _, r := range s {
		if unicode.IsLower(r) {
			return false
		}
		if unicode.IsLetter(r) {
			hasLetter = true
		}
	}
	return hasLetter
}
