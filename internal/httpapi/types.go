package httpapi

import (
	"time"

	"github.com/manavgup/rag-modulo-sub005/internal/metastore"
	"github.com/manavgup/rag-modulo-sub005/internal/search"
)

// createCollectionRequest is the body of POST /api/v1/collections.
type createCollectionRequest struct {
	Name           string `json:"name"`
	Privacy        string `json:"privacy"`
	ChunkSize      int    `json:"chunk_size"`
	Overlap        int    `json:"overlap"`
	EmbeddingModel string `json:"embedding_model"`
}

// collectionView is the JSON projection of a collection.
type collectionView struct {
	ID            string                `json:"id"`
	OwnerID       string                `json:"owner_id"`
	Name          string                `json:"name"`
	Privacy       string                `json:"privacy"`
	Status        string                `json:"status"`
	Policy        metastore.ChunkPolicy `json:"policy"`
	DocumentCount int                   `json:"document_count"`
	TotalSize     int64                 `json:"total_size"`
	CreatedAt     time.Time             `json:"created_at"`
}

func viewCollection(col *metastore.Collection) collectionView {
	return collectionView{
		ID:            col.ID,
		OwnerID:       col.OwnerID,
		Name:          col.Name,
		Privacy:       string(col.Privacy),
		Status:        string(col.Status),
		Policy:        col.Policy,
		DocumentCount: col.DocumentCount,
		TotalSize:     col.TotalSize,
		CreatedAt:     col.CreatedAt,
	}
}

// uploadResponse is the body returned by POST /api/v1/collections/:id/documents.
type uploadResponse struct {
	DocumentID   string `json:"document_id"`
	Filename     string `json:"filename"`
	Size         int64  `json:"size"`
	Status       string `json:"status"`
	Deduplicated bool   `json:"deduplicated"`
	JobID        string `json:"job_id,omitempty"`
}

// searchRequest is the body of POST /api/v1/search.
type searchRequest struct {
	CollectionID string   `json:"collection_id"`
	Question     string   `json:"question"`
	TopK         int      `json:"top_k"`
	Preset       string   `json:"preset"`
	Techniques   []string `json:"techniques"`
	CoTEnabled   bool     `json:"cot_enabled"`
}

// createSessionRequest is the body of POST /api/v1/sessions.
type createSessionRequest struct {
	CollectionID string `json:"collection_id"`
	Name         string `json:"name"`
}

// sessionView is the JSON projection of a session.
type sessionView struct {
	ID           string    `json:"id"`
	CollectionID string    `json:"collection_id"`
	Name         string    `json:"name"`
	Status       string    `json:"status"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	LastActiveAt time.Time `json:"last_active_at"`
}

func viewSession(sess *metastore.Session) sessionView {
	return sessionView{
		ID:           sess.ID,
		CollectionID: sess.CollectionID,
		Name:         sess.Name,
		Status:       string(sess.Status),
		MessageCount: sess.MessageCount,
		CreatedAt:    sess.CreatedAt,
		LastActiveAt: sess.LastActiveAt,
	}
}

// turnRequest is the body of POST /api/v1/sessions/:id/turns.
type turnRequest struct {
	Question   string   `json:"question"`
	TopK       int      `json:"top_k"`
	Preset     string   `json:"preset"`
	Techniques []string `json:"techniques"`
	CoTEnabled bool     `json:"cot_enabled"`
}

// turnResponse is the body returned by POST /api/v1/sessions/:id/turns.
type turnResponse struct {
	SessionID        string         `json:"session_id"`
	UserOrdinal      int            `json:"user_ordinal"`
	AssistantOrdinal int            `json:"assistant_ordinal"`
	FollowUp         bool           `json:"follow_up"`
	SummaryScheduled bool           `json:"summary_scheduled"`
	Search           *search.Output `json:"search"`
}

// suggestionsResponse is the body of GET /api/v1/suggestions.
type suggestionsResponse struct {
	Suggestions []string `json:"suggestions"`
}

// healthResponse is the body of GET /health.
type healthResponse struct {
	Status string `json:"status"`
}
