// Package splitter turns extracted document text into overlapping chunks
// with section metadata, ready for embedding and indexing.
package splitter

import (
	"regexp"
	"strings"
)

const (
	defaultChunkSize  = 800
	defaultOverlap    = 100
	minSectionLength  = 50
	fullDocumentTitle = "Full Document"
)

// Chunk is a bounded span of source text. Consecutive chunks of the same
// section overlap by the configured number of characters.
type Chunk struct {
	Content  string
	SourceID string
	Section  string
	Sequence int
}

// Splitter splits normalized text into chunks. The zero value is not usable;
// use New.
type Splitter struct {
	chunkSize int
	overlap   int
}

// New creates a Splitter with the given chunk size and overlap.
// Non-positive values fall back to the defaults (800/100).
func New(chunkSize, overlap int) *Splitter {
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	if overlap < 0 || overlap >= chunkSize {
		overlap = defaultOverlap
	}
	return &Splitter{chunkSize: chunkSize, overlap: overlap}
}

// Heading patterns tried in priority order; the first one that matches
// anywhere in the text decides the sectioning of the whole document.
var headingPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?:^|\n)(\d+(?:\.\d+)*\s+[^\n]+)\n`), // numbered headings
	regexp.MustCompile(`(?:^|\n)([A-Z][^:\n]+:)\n`),          // titled lines
	regexp.MustCompile(`(?:^|\n)([A-Z][^.\n]+\.)\n`),         // terminal period titles
	regexp.MustCompile(`(?:^|\n)([A-Z][^?\n]+\?)\n`),         // question titles
}

// Separators tried in priority order when recursively splitting a section.
var separators = []string{"\n\n", "\n", ". ", "! ", "? ", "; ", ":", " "}

// Split produces the ordered chunk sequence for the given text.
// sourceID is stamped on every chunk. Empty input yields nil.
func (s *Splitter) Split(text, sourceID string) []Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var chunks []Chunk
	for _, sec := range extractSections(text) {
		seq := 0
		for _, piece := range s.merge(s.fragments(sec.content, 0)) {
			// Keep piece content verbatim so chunks stitch back into the
			// section text; skip pieces that are pure whitespace.
			if strings.TrimSpace(piece) == "" {
				continue
			}
			chunks = append(chunks, Chunk{
				Content:  piece,
				SourceID: sourceID,
				Section:  sec.title,
				Sequence: seq,
			})
			seq++
		}
	}
	return chunks
}

type section struct {
	title   string
	content string
}

// extractSections detects structural sections via the heading patterns.
// Sections shorter than minSectionLength are dropped. When no pattern
// matches, the whole text becomes one "Full Document" section.
func extractSections(text string) []section {
	for _, pattern := range headingPatterns {
		matches := pattern.FindAllStringSubmatchIndex(text, -1)
		if len(matches) == 0 {
			continue
		}

		var sections []section
		for i, m := range matches {
			start := m[1]
			end := len(text)
			if i+1 < len(matches) {
				end = matches[i+1][0]
			}
			title := strings.TrimSpace(text[m[2]:m[3]])
			content := strings.TrimSpace(text[start:end])
			if len(content) >= minSectionLength {
				sections = append(sections, section{title: title, content: content})
			}
		}
		if len(sections) > 0 {
			return sections
		}
	}
	return []section{{title: fullDocumentTitle, content: text}}
}

// fragments splits text into raw pieces no longer than the chunk size,
// trying separators in priority order and recursing to finer separators for
// parts that still exceed it. Pieces carry no overlap; merge is applied
// exactly once per section, never to its own output.
func (s *Splitter) fragments(text string, level int) []string {
	if len(text) <= s.chunkSize {
		return []string{text}
	}
	if level >= len(separators) {
		return s.hardCut(text)
	}

	sep := separators[level]
	parts := strings.SplitAfter(text, sep)
	if len(parts) == 1 {
		return s.fragments(text, level+1)
	}

	var pieces []string
	for _, p := range parts {
		if len(p) > s.chunkSize {
			pieces = append(pieces, s.fragments(p, level+1)...)
		} else if p != "" {
			pieces = append(pieces, p)
		}
	}
	return pieces
}

// merge greedily packs raw pieces into chunks, prefixing each chunk after
// the first with the overlap tail of its predecessor. Stitching the chunks
// back together minus those prefixes reproduces the input exactly.
func (s *Splitter) merge(pieces []string) []string {
	var out []string
	var carry string
	var cur strings.Builder

	flush := func() {
		if cur.Len() == 0 {
			return
		}
		chunk := carry + cur.String()
		out = append(out, chunk)
		if s.overlap > 0 && len(chunk) > s.overlap {
			carry = chunk[len(chunk)-s.overlap:]
		}
		cur.Reset()
	}

	for _, p := range pieces {
		if cur.Len() > 0 && len(carry)+cur.Len()+len(p) > s.chunkSize {
			flush()
		}
		cur.WriteString(p)
	}
	flush()
	return out
}

// hardCut slices text into raw pieces of chunkSize minus overlap, used only
// when the text contains none of the separators. The reduced size leaves
// room for the overlap prefix merge adds.
func (s *Splitter) hardCut(text string) []string {
	step := s.chunkSize - s.overlap
	var out []string
	for start := 0; start < len(text); start += step {
		end := start + step
		if end > len(text) {
			end = len(text)
		}
		out = append(out, text[start:end])
	}
	return out
}
