package embeddings

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (na * nb)
}

func TestDeterministicStable(t *testing.T) {
	ctx := context.Background()
	d := NewDeterministic(16)

	a, err := d.EmbedQuery(ctx, "retrieval augmented generation")
	require.NoError(t, err)
	b, err := d.EmbedQuery(ctx, "retrieval augmented generation")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 16)
}

func TestDeterministicSharedWordsCloser(t *testing.T) {
	ctx := context.Background()
	d := NewDeterministic(32)

	base, err := d.EmbedQuery(ctx, "database index performance tuning")
	require.NoError(t, err)
	related, err := d.EmbedQuery(ctx, "database index tuning guide")
	require.NoError(t, err)
	unrelated, err := d.EmbedQuery(ctx, "grilled cheese sandwich recipe")
	require.NoError(t, err)

	assert.Greater(t, cosine(base, related), cosine(base, unrelated))
}

func TestDeterministicBatch(t *testing.T) {
	ctx := context.Background()
	d := NewDeterministic(8)

	vecs, err := d.EmbedDocuments(ctx, []string{"one", "two", "three"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	for _, v := range vecs {
		assert.Len(t, v, 8)
	}

	_, err = d.EmbedDocuments(ctx, nil)
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestServiceConfigValidation(t *testing.T) {
	_, err := NewService(Config{Model: "m"}, nil, nil)
	assert.Error(t, err)

	_, err = NewService(Config{BaseURL: "http://localhost:8080/v1"}, nil, nil)
	assert.Error(t, err)
}
