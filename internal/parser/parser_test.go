package parser

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistrySupports(t *testing.T) {
	r := NewRegistry()

	assert.True(t, r.Supports(MIMEPDF))
	assert.True(t, r.Supports(MIMEDocx))
	assert.True(t, r.Supports(MIMEText))
	assert.True(t, r.Supports(MIMEMarkdown))
	assert.False(t, r.Supports("image/png"))
}

func TestRegistryUnsupportedFormat(t *testing.T) {
	r := NewRegistry()

	_, err := r.Parse(context.Background(), "image/png", bytes.NewReader(nil), 0)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestTextParser(t *testing.T) {
	r := NewRegistry()
	content := []byte("First paragraph of the document.\n\nSecond paragraph here.")

	passages, err := r.Parse(context.Background(), MIMEText, bytes.NewReader(content), int64(len(content)))
	require.NoError(t, err)
	require.Len(t, passages, 1)
	assert.Equal(t, 1, passages[0].Page)
	assert.Contains(t, passages[0].Text, "First paragraph")
	assert.Contains(t, passages[0].Text, "Second paragraph")
}

func TestTextParserRejectsBinary(t *testing.T) {
	r := NewRegistry()
	content := []byte{0xff, 0xfe, 0x00, 0x80, 0x81}

	_, err := r.Parse(context.Background(), MIMEText, bytes.NewReader(content), int64(len(content)))
	assert.ErrorIs(t, err, ErrCorruptInput)
}

func TestTextParserEmptyInput(t *testing.T) {
	r := NewRegistry()
	content := []byte("   \n\n  ")

	passages, err := r.Parse(context.Background(), MIMEText, bytes.NewReader(content), int64(len(content)))
	require.NoError(t, err)
	assert.Empty(t, passages)
}

func TestPDFParserRejectsGarbage(t *testing.T) {
	r := NewRegistry()
	content := []byte("this is definitely not a pdf")

	_, err := r.Parse(context.Background(), MIMEPDF, bytes.NewReader(content), int64(len(content)))
	assert.ErrorIs(t, err, ErrCorruptInput)
}

func TestDocxParserRejectsGarbage(t *testing.T) {
	r := NewRegistry()
	content := []byte("this is definitely not a docx archive")

	_, err := r.Parse(context.Background(), MIMEDocx, bytes.NewReader(content), int64(len(content)))
	assert.ErrorIs(t, err, ErrCorruptInput)
}
