package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/manavgup/rag-modulo-sub005/internal/blobstore"
	"github.com/manavgup/rag-modulo-sub005/internal/collection"
	"github.com/manavgup/rag-modulo-sub005/internal/config"
	"github.com/manavgup/rag-modulo-sub005/internal/contextmgr"
	"github.com/manavgup/rag-modulo-sub005/internal/conversation"
	"github.com/manavgup/rag-modulo-sub005/internal/embeddings"
	"github.com/manavgup/rag-modulo-sub005/internal/ingestion"
	"github.com/manavgup/rag-modulo-sub005/internal/llm"
	"github.com/manavgup/rag-modulo-sub005/internal/metastore"
	"github.com/manavgup/rag-modulo-sub005/internal/parser"
	"github.com/manavgup/rag-modulo-sub005/internal/scheduler"
	"github.com/manavgup/rag-modulo-sub005/internal/search"
	"github.com/manavgup/rag-modulo-sub005/internal/suggestion"
	"github.com/manavgup/rag-modulo-sub005/internal/vectorstore"
)

type harness struct {
	server  *Server
	meta    *metastore.Store
	vectors vectorstore.Store
	gen     *llm.Scripted
}

// newHarness wires the full service stack against in-memory backends.
func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()

	meta, err := metastore.Open(":memory:", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { meta.Close() })

	vectors := vectorstore.NewMemoryStore()
	embedder := embeddings.NewDeterministic(16)
	gen := llm.NewScripted()

	blobs, err := blobstore.NewFSStore(t.TempDir())
	require.NoError(t, err)

	sched := scheduler.New(scheduler.Config{
		Workers: 1, QueueSize: 16,
		BackoffBase: time.Millisecond, BackoffMax: time.Millisecond,
		IdempotencyTTL: time.Minute,
	}, nil, zap.NewNop())
	sched.Start(ctx)
	t.Cleanup(sched.Stop)

	cols := collection.NewService(meta, vectors, sched, zap.NewNop(),
		collection.Defaults{ChunkSize: 400, Overlap: 50, EmbeddingModel: "bge-small"})

	ingest := ingestion.NewService(meta, blobs, vectors, embedder, parser.NewRegistry(),
		sched, zap.NewNop(), ingestion.Config{MaxModelTokens: 512, SafetyMargin: 50})

	searcher, err := search.NewService(meta, vectors, embedder, gen,
		config.SearchConfig{TopK: 5, RerankTopK: 3, GenerationRetries: 1}, zap.NewNop())
	require.NoError(t, err)

	convCfg := config.ConversationConfig{
		ContextWindowTokens: 4000,
		MaxMessages:         50,
		SummarizeThreshold:  10000,
		SessionBusyTimeout:  100 * time.Millisecond,
		IdleExpiry:          time.Hour,
		FollowUpSimilarity:  0.6,
	}
	mgr, err := contextmgr.NewManager(meta, embedder, gen, convCfg, zap.NewNop())
	require.NoError(t, err)
	conv, err := conversation.NewService(meta, mgr, searcher, gen, sched, convCfg, zap.NewNop())
	require.NoError(t, err)

	suggest := suggestion.NewService(meta, vectors, embedder, gen,
		config.SuggestionConfig{MaxSuggestions: 3, MaxLength: 200, SampleChunks: 4, DedupeSimilarity: 0.85},
		zap.NewNop())

	server := NewServer(Services{
		Collections:  cols,
		Ingestion:    ingest,
		Search:       searcher,
		Conversation: conv,
		Suggestions:  suggest,
	}, config.ServerConfig{Port: 0}, zap.NewNop())

	return &harness{server: server, meta: meta, vectors: vectors, gen: gen}
}

// do issues a JSON request as the given user and returns the recorder.
func (h *harness) do(t *testing.T, method, path, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(echoContentType, "application/json")
	if userID != "" {
		req.Header.Set(userHeader, userID)
	}
	rec := httptest.NewRecorder()
	h.server.echo.ServeHTTP(rec, req)
	return rec
}

const echoContentType = "Content-Type"

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[healthResponse](t, rec).Status)
}

func TestMissingUserHeader(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, http.MethodGet, "/api/v1/collections", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_input", decode[errorBody](t, rec).Code)
}

func TestCollectionLifecycle(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodPost, "/api/v1/collections", "user-1",
		createCollectionRequest{Name: "Reports", Privacy: "private"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[collectionView](t, rec)
	assert.Equal(t, "Reports", created.Name)
	assert.Equal(t, "user-1", created.OwnerID)

	rec = h.do(t, http.MethodGet, "/api/v1/collections", "user-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]collectionView](t, rec), 1)

	// Private collections are invisible to strangers.
	rec = h.do(t, http.MethodGet, "/api/v1/collections/"+created.ID, "user-2", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.do(t, http.MethodDelete, "/api/v1/collections/"+created.ID, "user-1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = h.do(t, http.MethodGet, "/api/v1/collections/"+created.ID, "user-1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUploadDocument(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodPost, "/api/v1/collections", "user-1",
		createCollectionRequest{Name: "Notes", Privacy: "public"})
	require.Equal(t, http.StatusCreated, rec.Code)
	col := decode[collectionView](t, rec)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "notes.txt")
	require.NoError(t, err)
	_, err = fw.Write([]byte("Convolutional neural networks excel at image recognition tasks."))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/collections/"+col.ID+"/documents", &buf)
	req.Header.Set(echoContentType, mw.FormDataContentType())
	req.Header.Set(userHeader, "user-1")
	rec2 := httptest.NewRecorder()
	h.server.echo.ServeHTTP(rec2, req)

	require.Equal(t, http.StatusAccepted, rec2.Code, rec2.Body.String())
	up := decode[uploadResponse](t, rec2)
	assert.NotEmpty(t, up.DocumentID)
	assert.False(t, up.Deduplicated)

	require.Eventually(t, func() bool {
		doc, err := h.meta.GetDocument(context.Background(), up.DocumentID)
		return err == nil && doc.Status == metastore.DocumentIndexed
	}, 5*time.Second, 10*time.Millisecond)

	// Public collections are readable but only the owner uploads.
	req = httptest.NewRequest(http.MethodPost, "/api/v1/collections/"+col.ID+"/documents", bytes.NewReader(nil))
	req.Header.Set(userHeader, "user-2")
	rec3 := httptest.NewRecorder()
	h.server.echo.ServeHTTP(rec3, req)
	assert.Equal(t, http.StatusForbidden, rec3.Code)
}

func TestSearchEndpoint(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	rec := h.do(t, http.MethodPost, "/api/v1/collections", "user-1",
		createCollectionRequest{Name: "ML", Privacy: "private"})
	require.Equal(t, http.StatusCreated, rec.Code)
	col := decode[collectionView](t, rec)

	seedChunk(t, h, ctx, col.ID, "Convolutional neural networks excel at image recognition tasks.")

	h.gen.Responses("They excel at image recognition.")
	rec = h.do(t, http.MethodPost, "/api/v1/search", "user-1", searchRequest{
		CollectionID: col.ID,
		Question:     "What do convolutional networks excel at?",
		Preset:       search.PresetFast,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decode[search.Output](t, rec)
	assert.Equal(t, "They excel at image recognition.", out.Answer)
	assert.NotEmpty(t, out.CorrelationID)

	rec = h.do(t, http.MethodPost, "/api/v1/search", "user-1", searchRequest{
		CollectionID: col.ID,
		Question:     "anything",
		Preset:       "turbo",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_input", decode[errorBody](t, rec).Code)
}

func TestSessionTurnAndExport(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	rec := h.do(t, http.MethodPost, "/api/v1/collections", "user-1",
		createCollectionRequest{Name: "ML", Privacy: "private"})
	require.Equal(t, http.StatusCreated, rec.Code)
	col := decode[collectionView](t, rec)
	seedChunk(t, h, ctx, col.ID, "Convolutional neural networks excel at image recognition tasks.")

	rec = h.do(t, http.MethodPost, "/api/v1/sessions", "user-1",
		createSessionRequest{CollectionID: col.ID, Name: "ML chat"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	sess := decode[sessionView](t, rec)

	// Fast preset: one generation call, then the auto-name is skipped
	// because the session has an explicit name.
	h.gen.Responses("They excel at image recognition.")
	rec = h.do(t, http.MethodPost, "/api/v1/sessions/"+sess.ID+"/turns", "user-1",
		turnRequest{Question: "What do convolutional networks excel at?", Preset: search.PresetFast})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	turn := decode[turnResponse](t, rec)
	assert.Equal(t, 1, turn.UserOrdinal)
	assert.Equal(t, 2, turn.AssistantOrdinal)
	require.NotNil(t, turn.Search)
	assert.Equal(t, "They excel at image recognition.", turn.Search.Answer)

	rec = h.do(t, http.MethodGet, "/api/v1/sessions/"+sess.ID+"/export", "user-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	dump := decode[conversation.Export](t, rec)
	assert.Len(t, dump.Messages, 2)

	rec = h.do(t, http.MethodPost, "/api/v1/sessions/"+sess.ID+"/archive", "user-1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = h.do(t, http.MethodPost, "/api/v1/sessions/"+sess.ID+"/turns", "user-1",
		turnRequest{Question: "again?", Preset: search.PresetFast})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "conflict", decode[errorBody](t, rec).Code)
}

func TestSuggestionsEndpoint(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	rec := h.do(t, http.MethodPost, "/api/v1/collections", "user-1",
		createCollectionRequest{Name: "ML", Privacy: "private"})
	require.Equal(t, http.StatusCreated, rec.Code)
	col := decode[collectionView](t, rec)
	seedChunk(t, h, ctx, col.ID, "Convolutional neural networks excel at image recognition tasks.")

	h.gen.Responses("What do convolutional networks recognize?\nHow are networks trained?")
	rec = h.do(t, http.MethodGet,
		"/api/v1/suggestions?source=documents&collection_id="+col.ID, "user-1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decode[suggestionsResponse](t, rec)
	assert.Len(t, out.Suggestions, 2)

	rec = h.do(t, http.MethodGet, "/api/v1/suggestions?source=bogus", "user-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// seedChunk indexes one chunk directly into the collection's namespace.
func seedChunk(t *testing.T, h *harness, ctx context.Context, collectionID, text string) {
	t.Helper()
	col, err := h.meta.GetCollection(ctx, collectionID)
	require.NoError(t, err)

	embedder := embeddings.NewDeterministic(16)
	vec, err := embedder.EmbedQuery(ctx, text)
	require.NoError(t, err)

	require.NoError(t, h.vectors.Upsert(ctx, col.Namespace, []vectorstore.Point{{
		Key:    vectorstore.PointKey{DocumentID: "doc-seed", Ordinal: 0},
		Vector: vec,
		Text:   text,
	}}))
}
