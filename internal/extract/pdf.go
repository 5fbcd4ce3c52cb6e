// Package extract pulls plain text out of uploaded course material so the
// splitter can chunk it. Only PDF and plain text are supported; everything
// downstream works on whitespace-normalized text.
package extract

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"
)

var spaceRun = regexp.MustCompile(`\s+`)

// Normalize collapses whitespace runs within lines, the same cleanup the
// splitter expects on its input. Line structure is preserved because the
// section detector keys off newlines.
func Normalize(text string) string {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		cleaned := strings.TrimSpace(spaceRun.ReplaceAllString(line, " "))
		if cleaned != "" {
			out = append(out, cleaned)
		}
	}
	return strings.Join(out, "\n")
}

// PDFText extracts and normalizes the text of all pages in the PDF at path.
// Pages that yield no text are skipped; an error is returned only when the
// file is unreadable or no page produced any text.
func PDFText(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening PDF %s: %w", path, err)
	}
	defer f.Close()

	var pages []string
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			// A single broken page should not sink the document.
			continue
		}
		cleaned := Normalize(text)
		if cleaned != "" {
			pages = append(pages, cleaned)
		}
	}

	if len(pages) == 0 {
		return "", fmt.Errorf("no text extracted from %s", path)
	}
	return strings.Join(pages, "\n"), nil
}
