package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttributeMapsSentencesToChunks(t *testing.T) {
	sc := &SearchContext{
		Answer: "Women make up thirty percent of the workforce. Growth was strong last year.",
		Retrieved: []Chunk{
			{DocumentID: "doc-1", Ordinal: 0, Page: 30,
				Text: "Women make up thirty percent of the workforce across all divisions."},
			{DocumentID: "doc-1", Ordinal: 1, Page: 12,
				Text: "Revenue growth was strong during the fourth quarter."},
		},
	}

	attribute(sc)

	require.NotNil(t, sc.Metrics.Attribution)
	assert.Equal(t, 2, sc.Metrics.Attribution.Sentences)
	assert.Equal(t, 2, sc.Metrics.Attribution.Attributed)
	require.Len(t, sc.Sources, 2)

	// The dominant sentence attributes to the page-30 chunk with the
	// higher overlap, so it ranks first.
	assert.Equal(t, 30, sc.Sources[0].Page)
	assert.Equal(t, 0, sc.Sources[0].Ordinal)
	assert.Greater(t, sc.Sources[0].Score, sc.Sources[1].Score)
}

func TestAttributeInsufficientContextHasNoSources(t *testing.T) {
	sc := &SearchContext{
		Answer: insufficientContextAnswer,
		Retrieved: []Chunk{
			{DocumentID: "doc-1", Ordinal: 0, Text: "Unrelated material."},
		},
	}
	attribute(sc)
	assert.Empty(t, sc.Sources)
}

func TestAttributeSkipsWeakOverlap(t *testing.T) {
	sc := &SearchContext{
		Answer: "Photosynthesis converts sunlight into chemical energy.",
		Retrieved: []Chunk{
			{DocumentID: "doc-1", Ordinal: 0, Text: "Quarterly revenue grew nine percent."},
		},
	}
	attribute(sc)
	assert.Empty(t, sc.Sources)
	assert.Equal(t, 0, sc.Metrics.Attribution.Attributed)
}

func TestSplitSentences(t *testing.T) {
	got := splitSentences("First point. Second point! Third?\nFourth line")
	assert.Equal(t, []string{"First point.", "Second point!", "Third?", "Fourth line"}, got)
}

func TestContentWordsDropsStopwords(t *testing.T) {
	words := contentWords("The workforce is growing, and it will continue.")
	assert.Contains(t, words, "workforce")
	assert.Contains(t, words, "growing")
	assert.NotContains(t, words, "the")
	assert.NotContains(t, words, "and")
}
