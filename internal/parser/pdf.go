package parser

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/manavgup/rag-modulo-sub005/internal/chunker"
)

// pdfParser extracts one passage per page.
type pdfParser struct{}

var _ Parser = (*pdfParser)(nil)

func (p *pdfParser) Parse(ctx context.Context, r io.ReaderAt, size int64) ([]chunker.Passage, error) {
	reader, err := pdf.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptInput, err)
	}

	var passages []chunker.Passage
	for pageNum := 1; pageNum <= reader.NumPage(); pageNum++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			// A single unreadable page should not sink the document.
			continue
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		passages = append(passages, chunker.Passage{
			Text: text,
			Page: pageNum,
		})
	}
	return passages, nil
}
