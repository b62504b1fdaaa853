// Package parser extracts plain text from uploaded documents.
//
// Parsers are registered by MIME type. PDF extraction yields one passage
// per page so chunk provenance can carry page numbers; flat formats yield
// a single passage.
package parser

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/manavgup/rag-modulo-sub005/internal/chunker"
)

var (
	// ErrUnsupportedFormat is returned for MIME types with no parser.
	ErrUnsupportedFormat = errors.New("parser: unsupported format")

	// ErrCorruptInput is returned when the bytes do not decode as the
	// claimed format.
	ErrCorruptInput = errors.New("parser: corrupt input")
)

// MIME types with built-in parsers.
const (
	MIMEPDF      = "application/pdf"
	MIMEDocx     = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	MIMEText     = "text/plain"
	MIMEMarkdown = "text/markdown"
)

// Parser extracts passages from one document format.
type Parser interface {
	Parse(ctx context.Context, r io.ReaderAt, size int64) ([]chunker.Passage, error)
}

// Registry routes documents to parsers by MIME type.
type Registry struct {
	parsers map[string]Parser
}

// NewRegistry returns a registry with the built-in parsers registered.
func NewRegistry() *Registry {
	r := &Registry{parsers: make(map[string]Parser)}
	r.Register(MIMEPDF, &pdfParser{})
	r.Register(MIMEDocx, &docxParser{})
	text := &textParser{}
	r.Register(MIMEText, text)
	r.Register(MIMEMarkdown, text)
	return r
}

// Register adds or replaces the parser for a MIME type.
func (r *Registry) Register(mimeType string, p Parser) {
	r.parsers[mimeType] = p
}

// Supports reports whether the MIME type has a parser.
func (r *Registry) Supports(mimeType string) bool {
	_, ok := r.parsers[mimeType]
	return ok
}

// SupportedTypes lists registered MIME types.
func (r *Registry) SupportedTypes() []string {
	out := make([]string, 0, len(r.parsers))
	for t := range r.parsers {
		out = append(out, t)
	}
	return out
}

// Parse extracts passages from the document.
func (r *Registry) Parse(ctx context.Context, mimeType string, reader io.ReaderAt, size int64) ([]chunker.Passage, error) {
	p, ok := r.parsers[mimeType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, mimeType)
	}
	return p.Parse(ctx, reader, size)
}
