package embeddings

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
	"strings"
)

// Deterministic is a hash-based Embedder used in tests and offline
// development. Identical texts embed to identical vectors, and texts
// sharing words embed closer together than unrelated texts, which is
// enough structure for ranking assertions.
type Deterministic struct {
	Dimension int
}

var _ Embedder = (*Deterministic)(nil)

// NewDeterministic returns a deterministic embedder with the given
// output dimension.
func NewDeterministic(dimension int) *Deterministic {
	if dimension <= 0 {
		dimension = 16
	}
	return &Deterministic{Dimension: dimension}
}

func (d *Deterministic) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = d.embed(t)
	}
	return out, nil
}

func (d *Deterministic) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyInput
	}
	return d.embed(text), nil
}

// embed sums a hash-derived unit vector per word, then normalizes.
// Shared words pull vectors together.
func (d *Deterministic) embed(text string) []float32 {
	vec := make([]float64, d.Dimension)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		h := sha256.Sum256([]byte(word))
		for i := 0; i < d.Dimension; i++ {
			bits := binary.LittleEndian.Uint32(h[(i*4)%28 : (i*4)%28+4])
			// Map to [-1, 1), offsetting by position so dimensions differ.
			vec[i] += float64(int32(bits+uint32(i))) / math.MaxInt32
		}
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	norm = math.Sqrt(norm)
	out := make([]float32, d.Dimension)
	if norm == 0 {
		out[0] = 1
		return out
	}
	for i, v := range vec {
		out[i] = float32(v / norm)
	}
	return out
}
