package search

import (
	"github.com/manavgup/rag-modulo-sub005/internal/config"
	"github.com/manavgup/rag-modulo-sub005/internal/metastore"
)

// Chunk is one retrieved piece of evidence flowing through the pipeline.
type Chunk struct {
	DocumentID string
	Ordinal    int
	Score      float32
	Text       string
	Page       int
	Title      string
	Filename   string
}

// Source attributes part of the answer to a chunk.
type Source struct {
	DocumentID string  `json:"document_id"`
	Ordinal    int     `json:"ordinal"`
	Page       int     `json:"page"`
	Score      float64 `json:"score"`
}

// ReasoningStep is one sub-question of a chain-of-thought decomposition,
// together with the evidence and answer its sub-search produced.
type ReasoningStep struct {
	SubQuestion string
	Chunks      []Chunk
	Answer      string
}

// Augmentation is the conversation context a session turn injects into
// the pipeline: a digest of recent messages, tracked entities usable as
// coreference anchors, and the latest summary.
type Augmentation struct {
	RecentDigest string
	Entities     []string
	Summary      string
}

// EnhancementMetrics describe the query transformation stage.
type EnhancementMetrics struct {
	Rewritten    bool  `json:"rewritten"`
	Hypothetical bool  `json:"hypothetical"`
	Fallback     bool  `json:"fallback"`
	DurationMS   int64 `json:"duration_ms"`
}

// RetrievalMetrics describe the retrieval stage.
type RetrievalMetrics struct {
	K            int     `json:"k"`
	ResultsCount int     `json:"results_count"`
	TopScore     float32 `json:"top_score"`
	Fusion       bool    `json:"fusion"`
	DurationMS   int64   `json:"duration_ms"`
}

// RerankMetrics describe the post-retrieval stages.
type RerankMetrics struct {
	InputCount  int   `json:"input_count"`
	OutputCount int   `json:"output_count"`
	Degraded    bool  `json:"degraded"`
	DurationMS  int64 `json:"duration_ms"`
}

// CoTMetrics describe chain-of-thought decomposition.
type CoTMetrics struct {
	Complex      bool  `json:"complex"`
	SubQuestions int   `json:"sub_questions"`
	DurationMS   int64 `json:"duration_ms"`
}

// GenerationMetrics describe answer generation.
type GenerationMetrics struct {
	PromptTokens int   `json:"prompt_tokens"`
	AnswerTokens int   `json:"answer_tokens"`
	Retries      int   `json:"retries"`
	DurationMS   int64 `json:"duration_ms"`
}

// AttributionMetrics describe source attribution.
type AttributionMetrics struct {
	Sentences  int   `json:"sentences"`
	Attributed int   `json:"attributed"`
	Sources    int   `json:"sources"`
	DurationMS int64 `json:"duration_ms"`
}

// Metrics is the closed set of per-stage measurements a search emits.
// A nil field means the stage did not run.
type Metrics struct {
	Enhancement *EnhancementMetrics `json:"enhancement,omitempty"`
	Retrieval   *RetrievalMetrics   `json:"retrieval,omitempty"`
	Rerank      *RerankMetrics      `json:"rerank,omitempty"`
	CoT         *CoTMetrics         `json:"cot,omitempty"`
	Generation  *GenerationMetrics  `json:"generation,omitempty"`
	Attribution *AttributionMetrics `json:"attribution,omitempty"`
}

// SearchContext is the mutable state threaded through the pipeline
// stages. Each technique reads what earlier stages wrote and appends its
// own contribution; the orchestrator owns the lifecycle.
type SearchContext struct {
	Collection *metastore.Collection
	User       *metastore.UserConfig
	Settings   config.SearchConfig

	// TopK is the resolved retrieval depth for this request.
	TopK   int
	Facets Facets

	Augmentation *Augmentation

	OriginalQuestion  string
	RewrittenQuestion string
	// HypotheticalAnswer, when set by hyde, is embedded instead of the
	// rewritten question at retrieval time.
	HypotheticalAnswer string

	Retrieved []Chunk
	Reranked  []Chunk
	Reasoning []ReasoningStep
	Answer    string
	Sources   []Source

	Metrics  Metrics
	Warnings []string
}

// Evidence returns the chunks generation should cite: the reranked set
// when a post-retrieval stage produced one, otherwise the raw retrieval.
func (c *SearchContext) Evidence() []Chunk {
	if c.Reranked != nil {
		return c.Reranked
	}
	return c.Retrieved
}

func (c *SearchContext) warn(msg string) {
	c.Warnings = append(c.Warnings, msg)
}

// Facets narrow retrieval results by document metadata.
type Facets struct {
	// DocumentIDs restricts results to the given documents when non-empty.
	DocumentIDs []string
	// MinScore drops results below the given similarity.
	MinScore float64
	// MaxPerDocument caps how many chunks a single document contributes.
	// Zero means unlimited.
	MaxPerDocument int
}
