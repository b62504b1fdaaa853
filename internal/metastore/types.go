// Package metastore is the transactional store of record for collections,
// documents, chunk metadata, conversation sessions, messages, summaries,
// and per-user configuration. Vector payloads live in the vector store;
// everything else that describes them lives here.
package metastore

import (
	"errors"
	"time"
)

// Sentinel errors shared by all repositories.
var (
	// ErrNotFound is returned when an entity does not exist.
	ErrNotFound = errors.New("entity not found")

	// ErrDuplicate is returned on unique constraint violations.
	ErrDuplicate = errors.New("duplicate entity")
)

// CollectionStatus is the lifecycle state of a collection.
type CollectionStatus string

const (
	CollectionActive         CollectionStatus = "active"
	CollectionProcessing     CollectionStatus = "processing"
	CollectionDegraded       CollectionStatus = "degraded"
	CollectionNeedsReprocess CollectionStatus = "needs_reprocess"
	CollectionDeleted        CollectionStatus = "deleted"
)

// Privacy controls collection visibility.
type Privacy string

const (
	PrivacyPublic  Privacy = "public"
	PrivacyPrivate Privacy = "private"
)

// ChunkPolicy is the chunking and embedding policy of a collection.
type ChunkPolicy struct {
	ChunkSize      int    `json:"chunk_size"`
	Overlap        int    `json:"overlap"`
	EmbeddingModel string `json:"embedding_model"`
}

// Collection groups documents and their vector namespace.
type Collection struct {
	ID            string
	OwnerID       string
	Name          string
	Privacy       Privacy
	Namespace     string
	Policy        ChunkPolicy
	Status        CollectionStatus
	DocumentCount int
	TotalSize     int64
	LastIndexedAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// DocumentStatus is the ingestion state of a document.
type DocumentStatus string

const (
	DocumentPending   DocumentStatus = "pending"
	DocumentParsing   DocumentStatus = "parsing"
	DocumentChunking  DocumentStatus = "chunking"
	DocumentEmbedding DocumentStatus = "embedding"
	DocumentIndexed   DocumentStatus = "indexed"
	DocumentFailed    DocumentStatus = "failed"
)

// Document is one ingested file within a collection.
type Document struct {
	ID              string
	CollectionID    string
	Filename        string
	ContentAddress  string
	MIMEType        string
	Size            int64
	Status          DocumentStatus
	ProcessingError string
	ChunkCount      int
	PageCount       int
	// PolicyHash identifies the chunking policy the document was last
	// processed under; reprocessing with the same hash is a no-op.
	PolicyHash  string
	UploadedAt  time.Time
	ProcessedAt *time.Time
}

// Chunk is the metadata row for one embedded chunk. The text and vector
// live in the vector store keyed by (DocumentID, Ordinal).
type Chunk struct {
	DocumentID string
	Ordinal    int
	Text       string
	Page       int
	TokenCount int
	Title      string
}

// SessionStatus is the lifecycle state of a conversation session.
type SessionStatus string

const (
	SessionActive   SessionStatus = "active"
	SessionArchived SessionStatus = "archived"
	SessionExpired  SessionStatus = "expired"
	SessionDeleted  SessionStatus = "deleted"
)

// Session is a durable multi-turn conversation bound to a collection.
type Session struct {
	ID                  string
	OwnerID             string
	CollectionID        string
	Name                string
	Status              SessionStatus
	ContextWindowTokens int
	MaxMessages         int
	MessageCount        int
	TokensUsed          int
	CreatedAt           time.Time
	UpdatedAt           time.Time
	LastActiveAt        time.Time
}

// Role is the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// MessageType classifies a message within a turn.
type MessageType string

const (
	TypeQuestion      MessageType = "question"
	TypeAnswer        MessageType = "answer"
	TypeFollowUp      MessageType = "follow_up"
	TypeClarification MessageType = "clarification"
	TypeSummaryNotice MessageType = "summary_notice"
)

// Message is one append-only entry in a session.
type Message struct {
	SessionID  string
	Ordinal    int
	Role       Role
	Type       MessageType
	Content    string
	TokenCount int
	// Metadata is a JSON object carrying sources and the search
	// correlation ID for assistant messages.
	Metadata  string
	CreatedAt time.Time
}

// Summary is an LLM digest of a contiguous message range.
type Summary struct {
	ID           string
	SessionID    string
	Strategy     string
	FirstOrdinal int
	LastOrdinal  int
	Text         string
	TokensSaved  int
	Superseded   bool
	CreatedAt    time.Time
}

// LLMParameters are per-user generation defaults.
type LLMParameters struct {
	UserID       string
	Temperature  float64
	MaxNewTokens int
	TopP         float64
	TopK         int
}

// PromptTemplate is a named per-user template string.
type PromptTemplate struct {
	UserID   string
	Name     string
	Template string
}

// Well-known template names. PodcastGeneration is outside the core but the
// slot exists so user initialization is complete.
const (
	TemplateRAGQuery           = "rag_query"
	TemplateQuestionGeneration = "question_generation"
	TemplatePodcastGeneration  = "podcast_generation"
)

// Pipeline is a user's default pipeline record.
type Pipeline struct {
	UserID  string
	Preset  string
	Default bool
}
