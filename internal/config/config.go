// Package config provides configuration loading for rag-modulo.
//
// Configuration is merged from defaults, an optional YAML file, and
// environment variables (highest precedence). Every request works from a
// snapshot taken at entry; nothing reads live configuration mid-pipeline.
package config

import (
	"fmt"
	"time"
)

// Config is the complete rag-modulo configuration tree.
type Config struct {
	Server       ServerConfig       `koanf:"server"`
	Logging      LoggingConfig      `koanf:"logging"`
	Metastore    MetastoreConfig    `koanf:"metastore"`
	Blobstore    BlobstoreConfig    `koanf:"blobstore"`
	VectorStore  VectorStoreConfig  `koanf:"vectorstore"`
	Embeddings   EmbeddingsConfig   `koanf:"embeddings"`
	LLM          LLMConfig          `koanf:"llm"`
	Ingestion    IngestionConfig    `koanf:"ingestion"`
	Search       SearchConfig       `koanf:"search"`
	Conversation ConversationConfig `koanf:"conversation"`
	Suggestion   SuggestionConfig   `koanf:"suggestion"`
	Scheduler    SchedulerConfig    `koanf:"scheduler"`
	Events       EventsConfig       `koanf:"events"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig mirrors logging.Config at the configuration boundary.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// MetastoreConfig holds relational store settings.
type MetastoreConfig struct {
	// Path is the SQLite database file. ":memory:" for tests.
	Path string `koanf:"path"`
}

// BlobstoreConfig holds content-addressed blob storage settings.
type BlobstoreConfig struct {
	Path string `koanf:"path"`
}

// VectorStoreConfig selects and configures the vector store backend.
type VectorStoreConfig struct {
	// Provider is "chromem" (embedded, default) or "qdrant".
	Provider string `koanf:"provider"`
	// Path is the chromem persistence directory.
	Path string `koanf:"path"`
	// Host/Port/APIKey/UseTLS configure the qdrant gRPC client.
	Host   string `koanf:"host"`
	Port   int    `koanf:"port"`
	APIKey string `koanf:"api_key"`
	UseTLS bool   `koanf:"use_tls"`
	// VectorSize must match the embedding model's output dimension.
	VectorSize int `koanf:"vector_size"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// BaseURL is an OpenAI-compatible endpoint (TEI or OpenAI).
	BaseURL string `koanf:"base_url"`
	Model   string `koanf:"model"`
	APIKey  string `koanf:"api_key"`
	// MaxModelTokens is the provider's hard input limit per text.
	MaxModelTokens int `koanf:"max_model_tokens"`
	// RequestsPerSecond bounds calls via a token bucket; 0 disables.
	RequestsPerSecond float64 `koanf:"requests_per_second"`
}

// LLMConfig configures the generation provider.
type LLMConfig struct {
	BaseURL string `koanf:"base_url"`
	Model   string `koanf:"model"`
	APIKey  string `koanf:"api_key"`
	// Timeout bounds a single generate call.
	Timeout           time.Duration `koanf:"timeout"`
	RequestsPerSecond float64       `koanf:"requests_per_second"`
}

// IngestionConfig holds chunking defaults and worker limits.
type IngestionConfig struct {
	ChunkSize int `koanf:"chunk_size"`
	Overlap   int `koanf:"overlap"`
	// SafetyMargin keeps chunks strictly below the embedding model's
	// token limit. Must be >= 1; silent truncation at embed time produces
	// semantically wrong vectors.
	SafetyMargin int `koanf:"safety_margin"`
	BatchSize    int `koanf:"batch_size"`
	MaxRetries   int `koanf:"max_retries"`
}

// SearchConfig holds search pipeline defaults.
type SearchConfig struct {
	TopK                int           `koanf:"top_k"`
	SimilarityThreshold float64       `koanf:"similarity_threshold"`
	RerankTopK          int           `koanf:"rerank_top_k"`
	Deadline            time.Duration `koanf:"deadline"`
	GenerationRetries   int           `koanf:"generation_retries"`
}

// ConversationConfig holds session and context manager settings.
type ConversationConfig struct {
	ContextWindowTokens int           `koanf:"context_window_tokens"`
	MaxMessages         int           `koanf:"max_messages"`
	SummarizeThreshold  int           `koanf:"summarize_threshold"`
	SessionBusyTimeout  time.Duration `koanf:"session_busy_timeout"`
	IdleExpiry          time.Duration `koanf:"idle_expiry"`
	FollowUpSimilarity  float64       `koanf:"follow_up_similarity"`
}

// SuggestionConfig holds follow-up question generation settings.
type SuggestionConfig struct {
	MaxSuggestions int `koanf:"max_suggestions"`
	// MaxLength drops generated questions longer than this many runes.
	MaxLength int `koanf:"max_length"`
	// SampleChunks is how many chunks the document generator samples.
	SampleChunks int `koanf:"sample_chunks"`
	// DedupeSimilarity is the normalized edit-distance similarity above
	// which two suggestions count as duplicates.
	DedupeSimilarity float64 `koanf:"dedupe_similarity"`
}

// SchedulerConfig holds worker pool settings.
type SchedulerConfig struct {
	Workers        int           `koanf:"workers"`
	QueueSize      int           `koanf:"queue_size"`
	BackoffBase    time.Duration `koanf:"backoff_base"`
	BackoffMax     time.Duration `koanf:"backoff_max"`
	IdempotencyTTL time.Duration `koanf:"idempotency_ttl"`
	// JanitorSchedule is a cron expression for the cleanup passes.
	JanitorSchedule string `koanf:"janitor_schedule"`
}

// EventsConfig configures the optional NATS status-event publisher.
type EventsConfig struct {
	Enabled bool   `koanf:"enabled"`
	URL     string `koanf:"url"`
	Subject string `koanf:"subject"`
}

// Default returns the configuration defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:            8080,
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: true,
		},
		Metastore: MetastoreConfig{Path: "rag.db"},
		Blobstore: BlobstoreConfig{Path: "blobs"},
		VectorStore: VectorStoreConfig{
			Provider:   "chromem",
			Path:       "vectors",
			Host:       "localhost",
			Port:       6334,
			VectorSize: 384,
		},
		Embeddings: EmbeddingsConfig{
			BaseURL:           "http://localhost:8081/v1",
			Model:             "BAAI/bge-small-en-v1.5",
			MaxModelTokens:    512,
			RequestsPerSecond: 10,
		},
		LLM: LLMConfig{
			BaseURL:           "http://localhost:8082/v1",
			Model:             "llama-3.1-8b-instruct",
			Timeout:           60 * time.Second,
			RequestsPerSecond: 5,
		},
		Ingestion: IngestionConfig{
			ChunkSize:    400,
			Overlap:      50,
			SafetyMargin: 50,
			BatchSize:    32,
			MaxRetries:   3,
		},
		Search: SearchConfig{
			TopK:                10,
			SimilarityThreshold: 0.0,
			RerankTopK:          5,
			Deadline:            30 * time.Second,
			GenerationRetries:   2,
		},
		Conversation: ConversationConfig{
			ContextWindowTokens: 4000,
			MaxMessages:         200,
			SummarizeThreshold:  2000,
			SessionBusyTimeout:  5 * time.Second,
			IdleExpiry:          720 * time.Hour,
			FollowUpSimilarity:  0.6,
		},
		Suggestion: SuggestionConfig{
			MaxSuggestions:   5,
			MaxLength:        200,
			SampleChunks:     8,
			DedupeSimilarity: 0.85,
		},
		Scheduler: SchedulerConfig{
			Workers:         4,
			QueueSize:       256,
			BackoffBase:     500 * time.Millisecond,
			BackoffMax:      30 * time.Second,
			IdempotencyTTL:  5 * time.Minute,
			JanitorSchedule: "@every 1h",
		},
		Events: EventsConfig{
			Enabled: false,
			URL:     "nats://localhost:4222",
			Subject: "ragmodulo.jobs",
		},
	}
}

// Validate checks the configuration for errors.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Ingestion.SafetyMargin < 1 {
		return fmt.Errorf("ingestion.safety_margin must be >= 1, got %d (zero safety room allows silent truncation)", c.Ingestion.SafetyMargin)
	}
	if c.Ingestion.ChunkSize <= 0 {
		return fmt.Errorf("ingestion.chunk_size must be positive")
	}
	if c.Ingestion.Overlap < 0 || c.Ingestion.Overlap >= c.Ingestion.ChunkSize {
		return fmt.Errorf("ingestion.overlap must be in [0, chunk_size)")
	}
	if c.Embeddings.MaxModelTokens <= c.Ingestion.SafetyMargin {
		return fmt.Errorf("embeddings.max_model_tokens (%d) must exceed safety_margin (%d)", c.Embeddings.MaxModelTokens, c.Ingestion.SafetyMargin)
	}
	if c.Search.TopK <= 0 {
		return fmt.Errorf("search.top_k must be positive")
	}
	if c.Search.SimilarityThreshold < 0 || c.Search.SimilarityThreshold > 1 {
		return fmt.Errorf("search.similarity_threshold must be in [0,1]")
	}
	if c.Conversation.ContextWindowTokens <= 0 {
		return fmt.Errorf("conversation.context_window_tokens must be positive")
	}
	if c.Conversation.FollowUpSimilarity < 0 || c.Conversation.FollowUpSimilarity > 1 {
		return fmt.Errorf("conversation.follow_up_similarity must be in [0,1]")
	}
	if c.Suggestion.MaxSuggestions <= 0 {
		return fmt.Errorf("suggestion.max_suggestions must be positive")
	}
	if c.Suggestion.DedupeSimilarity < 0 || c.Suggestion.DedupeSimilarity > 1 {
		return fmt.Errorf("suggestion.dedupe_similarity must be in [0,1]")
	}
	if c.Scheduler.Workers <= 0 {
		return fmt.Errorf("scheduler.workers must be positive")
	}
	switch c.VectorStore.Provider {
	case "chromem", "qdrant":
	default:
		return fmt.Errorf("vectorstore.provider must be 'chromem' or 'qdrant', got %q", c.VectorStore.Provider)
	}
	return nil
}
