package vectorstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNamespaceDerivation(t *testing.T) {
	tests := []struct {
		collectionID string
		want         string
	}{
		{"550e8400-e29b-41d4-a716-446655440000", "c_550e8400e29b41d4a716446655440000"},
		{"abc", "c_abc"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Namespace(tt.collectionID))
		// Derivation is pure: calling again yields the same value.
		assert.Equal(t, tt.want, Namespace(tt.collectionID))
	}
}

func TestPointIDDeterministic(t *testing.T) {
	k := PointKey{DocumentID: "doc-1", Ordinal: 3}
	assert.Equal(t, k.PointID("ns"), k.PointID("ns"))
	assert.NotEqual(t, k.PointID("ns"), k.PointID("other"))
	assert.NotEqual(t, k.PointID("ns"), PointKey{DocumentID: "doc-1", Ordinal: 4}.PointID("ns"))
}

func TestMemoryStoreUpsertReplacesByKey(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.CreateNamespace(ctx, "ns"))

	p := Point{Key: PointKey{DocumentID: "doc-1", Ordinal: 0}, Vector: []float32{1, 0}, Text: "v1"}
	require.NoError(t, s.Upsert(ctx, "ns", []Point{p}))

	p.Text = "v2"
	require.NoError(t, s.Upsert(ctx, "ns", []Point{p}))

	n, err := s.Count(ctx, "ns")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	matches, err := s.Query(ctx, "ns", []float32{1, 0}, 5, nil)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "v2", matches[0].Text)
}

func TestMemoryStoreQueryRanksAndFilters(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.CreateNamespace(ctx, "ns"))

	require.NoError(t, s.Upsert(ctx, "ns", []Point{
		{Key: PointKey{DocumentID: "doc-a", Ordinal: 0}, Vector: []float32{1, 0}, Text: "aligned",
			Metadata: map[string]string{"lang": "en"}},
		{Key: PointKey{DocumentID: "doc-b", Ordinal: 0}, Vector: []float32{0, 1}, Text: "orthogonal",
			Metadata: map[string]string{"lang": "de"}},
		{Key: PointKey{DocumentID: "doc-c", Ordinal: 0}, Vector: []float32{0.9, 0.1}, Text: "close",
			Metadata: map[string]string{"lang": "en"}},
	}))

	matches, err := s.Query(ctx, "ns", []float32{1, 0}, 2, nil)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "aligned", matches[0].Text)
	assert.Equal(t, "close", matches[1].Text)
	assert.Greater(t, matches[0].Score, matches[1].Score)

	filtered, err := s.Query(ctx, "ns", []float32{1, 0}, 5, Filter{"lang": "de"})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "orthogonal", filtered[0].Text)
}

func TestMemoryStoreDeleteByDocument(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.CreateNamespace(ctx, "ns"))

	require.NoError(t, s.Upsert(ctx, "ns", []Point{
		{Key: PointKey{DocumentID: "doc-a", Ordinal: 0}, Vector: []float32{1, 0}},
		{Key: PointKey{DocumentID: "doc-a", Ordinal: 1}, Vector: []float32{0, 1}},
		{Key: PointKey{DocumentID: "doc-b", Ordinal: 0}, Vector: []float32{1, 1}},
	}))

	require.NoError(t, s.DeleteByDocument(ctx, "ns", "doc-a"))

	ids, err := s.ListDocumentIDs(ctx, "ns")
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"doc-b": true}, ids)
}

func TestMemoryStoreMissingNamespace(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	err := s.Upsert(ctx, "absent", []Point{{Key: PointKey{DocumentID: "d", Ordinal: 0}}})
	assert.ErrorIs(t, err, ErrNamespaceNotFound)

	_, err = s.Query(ctx, "absent", []float32{1}, 1, nil)
	assert.ErrorIs(t, err, ErrNamespaceNotFound)
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float32{1, 0}, []float32{2, 0}), 1e-6)
	assert.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-6)
	assert.InDelta(t, -1.0, CosineSimilarity([]float32{1, 0}, []float32{-1, 0}), 1e-6)
	assert.Zero(t, CosineSimilarity([]float32{1, 0}, []float32{1}))
	assert.Zero(t, CosineSimilarity([]float32{0, 0}, []float32{1, 0}))
}

func TestInstrumentedStorePassthrough(t *testing.T) {
	ctx := context.Background()
	s := NewInstrumentedStore(NewMemoryStore())

	require.NoError(t, s.CreateNamespace(ctx, "ns"))
	ok, err := s.NamespaceExists(ctx, "ns")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.Upsert(ctx, "ns", []Point{
		{Key: PointKey{DocumentID: "doc-a", Ordinal: 0}, Vector: []float32{1, 0}, Text: "t"},
	}))
	matches, err := s.Query(ctx, "ns", []float32{1, 0}, 1, nil)
	require.NoError(t, err)
	require.Len(t, matches, 1)

	require.NoError(t, s.DeleteNamespace(ctx, "ns"))
	ok, err = s.NamespaceExists(ctx, "ns")
	require.NoError(t, err)
	assert.False(t, ok)
}
