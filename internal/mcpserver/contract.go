package mcpserver

// GuideFormatContract describes how guide content and navigation behave,
// for LLM consumers reading guides through the MCP tools.
const GuideFormatContract = `# Gaiden Guide Reading Contract

Guides are plain-text documents, often hundreds of thousands of lines,
indexed by line number. Follow these rules when navigating.

## Lines and windows

1. **Line numbers are zero-based** and refer to the guide's current version.
2. **Windows are byte-exact.** Every line comes back exactly as it appears
   in the source file, including leading whitespace, trailing whitespace,
   and ASCII-art alignment. Do not reflow or trim when quoting.
3. **Never request the whole document.** Use ` + "`" + `get_window` + "`" + ` with a center and
   radius; the server clamps the window to the document bounds, so centers
   near the edges are safe.
4. A window response includes its starting line; each returned line is
   prefixed with its absolute line number.

## Sections

5. ` + "`" + `get_sections` + "`" + ` returns detected headings with a confidence score in
   [0, 1]. Detection is heuristic: framed headings (` + "`" + `====` + "`" + ` separators),
   SECTION/CHAPTER prefixes, and table-of-contents tags like ` + "`" + `[WLK1]` + "`" + `
   score highest.
6. Use a section's line number as the ` + "`" + `get_window` + "`" + ` center to jump to it.

## Bookmarks and versions

7. A guide can be re-imported with updated content; line numbers then refer
   to the **new** version. Bookmarks created against an older, longer
   version are flagged ` + "`" + `stale` + "`" + `.
8. Always go through ` + "`" + `resolve_bookmark` + "`" + ` before jumping: it clamps stale
   bookmarks to the nearest valid line instead of failing.

## Identifiers

9. Guide and bookmark identifiers are opaque strings from ` + "`" + `list_guides` + "`" + `
   and ` + "`" + `list_bookmarks` + "`" + `. Never fabricate them.
`
