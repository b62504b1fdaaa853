package parser

import (
	"context"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/manavgup/rag-modulo-sub005/internal/chunker"
)

// textParser handles plain text and markdown as a single passage.
type textParser struct{}

var _ Parser = (*textParser)(nil)

func (p *textParser) Parse(ctx context.Context, r io.ReaderAt, size int64) ([]chunker.Passage, error) {
	raw, err := io.ReadAll(io.NewSectionReader(r, 0, size))
	if err != nil {
		return nil, fmt.Errorf("reading text: %w", err)
	}
	if !utf8.Valid(raw) {
		return nil, fmt.Errorf("%w: not valid UTF-8", ErrCorruptInput)
	}

	text := strings.TrimSpace(string(raw))
	if text == "" {
		return nil, nil
	}
	return []chunker.Passage{{Text: text, Page: 1}}, nil
}
