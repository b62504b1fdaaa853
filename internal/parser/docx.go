package parser

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/nguyenthenguyen/docx"

	"github.com/manavgup/rag-modulo-sub005/internal/chunker"
)

// docxParser extracts a Word document as a single passage.
type docxParser struct{}

var _ Parser = (*docxParser)(nil)

// Paragraph closers become newlines; every other tag is dropped.
var (
	docxParagraphEnd = regexp.MustCompile(`</w:p>`)
	docxTag          = regexp.MustCompile(`<[^>]+>`)
)

func (p *docxParser) Parse(ctx context.Context, r io.ReaderAt, size int64) ([]chunker.Passage, error) {
	doc, err := docx.ReadDocxFromMemory(r, size)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptInput, err)
	}
	defer doc.Close()

	raw := doc.Editable().GetContent()
	text := docxParagraphEnd.ReplaceAllString(raw, "\n\n")
	text = docxTag.ReplaceAllString(text, "")
	text = strings.TrimSpace(text)

	if text == "" {
		return nil, nil
	}
	return []chunker.Passage{{Text: text, Page: 1}}, nil
}
