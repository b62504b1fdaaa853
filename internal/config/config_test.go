package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero safety margin", func(c *Config) { c.Ingestion.SafetyMargin = 0 }},
		{"overlap >= chunk size", func(c *Config) { c.Ingestion.Overlap = c.Ingestion.ChunkSize }},
		{"margin swallows model budget", func(c *Config) { c.Ingestion.SafetyMargin = c.Embeddings.MaxModelTokens }},
		{"non-positive top_k", func(c *Config) { c.Search.TopK = 0 }},
		{"threshold above 1", func(c *Config) { c.Search.SimilarityThreshold = 1.5 }},
		{"unknown vector provider", func(c *Config) { c.VectorStore.Provider = "milvus" }},
		{"no workers", func(c *Config) { c.Scheduler.Workers = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadBytesOverridesDefaults(t *testing.T) {
	raw := []byte(`
search:
  top_k: 25
ingestion:
  chunk_size: 256
  overlap: 32
`)
	cfg, err := LoadBytes(raw)
	require.NoError(t, err)

	assert.Equal(t, 25, cfg.Search.TopK)
	assert.Equal(t, 256, cfg.Ingestion.ChunkSize)
	assert.Equal(t, 32, cfg.Ingestion.Overlap)
	// Untouched keys keep defaults.
	assert.Equal(t, Default().Conversation.ContextWindowTokens, cfg.Conversation.ContextWindowTokens)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("RAG_SEARCH__TOP_K", "7")
	t.Setenv("RAG_VECTORSTORE__PROVIDER", "qdrant")

	cfg, err := LoadBytes(nil)
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Search.TopK)
	assert.Equal(t, "qdrant", cfg.VectorStore.Provider)
}

func TestLoadBytesRejectsInvalid(t *testing.T) {
	_, err := LoadBytes([]byte("ingestion:\n  safety_margin: 0\n"))
	assert.Error(t, err)
}
