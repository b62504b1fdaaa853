package conversation

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/manavgup/rag-modulo-sub005/internal/config"
	"github.com/manavgup/rag-modulo-sub005/internal/contextmgr"
	"github.com/manavgup/rag-modulo-sub005/internal/core"
	"github.com/manavgup/rag-modulo-sub005/internal/embeddings"
	"github.com/manavgup/rag-modulo-sub005/internal/llm"
	"github.com/manavgup/rag-modulo-sub005/internal/metastore"
	"github.com/manavgup/rag-modulo-sub005/internal/scheduler"
	"github.com/manavgup/rag-modulo-sub005/internal/search"
	"github.com/manavgup/rag-modulo-sub005/internal/vectorstore"
)

type harness struct {
	svc  *Service
	meta *metastore.Store
	col  *metastore.Collection
	gen  *llm.Scripted
}

func newHarness(t *testing.T, cfg config.ConversationConfig) *harness {
	t.Helper()
	ctx := context.Background()

	meta, err := metastore.Open(":memory:", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { meta.Close() })

	vectors := vectorstore.NewMemoryStore()
	embedder := embeddings.NewDeterministic(16)
	gen := llm.NewScripted()

	col := &metastore.Collection{
		ID:        "col-1",
		OwnerID:   "user-1",
		Name:      "AI Research",
		Privacy:   metastore.PrivacyPrivate,
		Namespace: vectorstore.Namespace("col-1"),
		Policy:    metastore.ChunkPolicy{ChunkSize: 400, Overlap: 50, EmbeddingModel: "bge-small"},
		Status:    metastore.CollectionActive,
	}
	require.NoError(t, meta.CreateCollection(ctx, col))
	require.NoError(t, vectors.CreateNamespace(ctx, col.Namespace))

	texts := []string{
		"Convolutional neural networks excel at image recognition tasks.",
		"Convolutional neural networks are applied in medical imaging and autonomous driving.",
	}
	vecs, err := embedder.EmbedDocuments(ctx, texts)
	require.NoError(t, err)
	points := make([]vectorstore.Point, len(texts))
	for i, text := range texts {
		points[i] = vectorstore.Point{
			Key:    vectorstore.PointKey{DocumentID: "doc-1", Ordinal: i},
			Vector: vecs[i],
			Text:   text,
			Metadata: map[string]string{
				vectorstore.MetaPage:     "1",
				vectorstore.MetaFilename: "cnn.pdf",
			},
		}
	}
	require.NoError(t, vectors.Upsert(ctx, col.Namespace, points))

	searcher, err := search.NewService(meta, vectors, embedder, gen,
		config.SearchConfig{TopK: 5, RerankTopK: 3, GenerationRetries: 1}, zap.NewNop())
	require.NoError(t, err)

	mgr, err := contextmgr.NewManager(meta, embedder, gen, cfg, zap.NewNop())
	require.NoError(t, err)

	sched := scheduler.New(scheduler.Config{
		Workers: 1, QueueSize: 16,
		BackoffBase: time.Millisecond, BackoffMax: time.Millisecond,
		IdempotencyTTL: time.Minute,
	}, nil, nil)
	sched.Start(ctx)
	t.Cleanup(sched.Stop)

	svc, err := NewService(meta, mgr, searcher, gen, sched, cfg, zap.NewNop())
	require.NoError(t, err)

	return &harness{svc: svc, meta: meta, col: col, gen: gen}
}

func defaultConfig() config.ConversationConfig {
	return config.ConversationConfig{
		ContextWindowTokens: 4000,
		MaxMessages:         200,
		SummarizeThreshold:  2000,
		SessionBusyTimeout:  100 * time.Millisecond,
		IdleExpiry:          720 * time.Hour,
		FollowUpSimilarity:  0.6,
	}
}

func fastTurn(sessionID, question string) TurnRequest {
	return TurnRequest{
		RequesterID: "user-1",
		SessionID:   sessionID,
		Question:    question,
		Pipeline:    search.PipelineSpec{Preset: search.PresetFast},
	}
}

func TestCreateSessionDefaults(t *testing.T) {
	h := newHarness(t, defaultConfig())

	sess, err := h.svc.Create(context.Background(), CreateRequest{
		OwnerID: "user-1", CollectionID: h.col.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, DefaultSessionName, sess.Name)
	assert.Equal(t, 4000, sess.ContextWindowTokens)
	assert.Equal(t, metastore.SessionActive, sess.Status)
}

func TestCreateSessionRequiresVisibleCollection(t *testing.T) {
	h := newHarness(t, defaultConfig())

	_, err := h.svc.Create(context.Background(), CreateRequest{
		OwnerID: "stranger", CollectionID: h.col.ID,
	})
	require.Error(t, err)
	assert.Equal(t, core.CodeNotFound, core.CodeOf(err))
}

func TestTurnAppendsMessagesAndAutoNames(t *testing.T) {
	h := newHarness(t, defaultConfig())
	ctx := context.Background()

	sess, err := h.svc.Create(ctx, CreateRequest{OwnerID: "user-1", CollectionID: h.col.ID})
	require.NoError(t, err)

	// Generation answer, then the auto-naming title.
	h.gen.Responses("Convolutional neural networks excel at image recognition.",
		"Convolutional Networks Overview")

	res, err := h.svc.Turn(ctx, fastTurn(sess.ID, "Tell me about convolutional neural networks."))
	require.NoError(t, err)

	assert.Equal(t, 1, res.UserMessage.Ordinal)
	assert.Equal(t, metastore.RoleUser, res.UserMessage.Role)
	assert.Equal(t, 2, res.AssistantMessage.Ordinal)
	assert.Contains(t, res.AssistantMessage.Content, "image recognition")
	assert.NotEmpty(t, res.Search.CorrelationID)
	assert.Contains(t, res.AssistantMessage.Metadata, res.Search.CorrelationID)
	assert.False(t, res.FollowUp)

	got, err := h.svc.Get(ctx, "user-1", sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "Convolutional Networks Overview", got.Name)
	assert.Equal(t, 2, got.MessageCount)
}

func TestTurnFollowUpClassification(t *testing.T) {
	h := newHarness(t, defaultConfig())
	ctx := context.Background()

	sess, err := h.svc.Create(ctx, CreateRequest{OwnerID: "user-1", CollectionID: h.col.ID})
	require.NoError(t, err)

	h.gen.Responses(
		"They are layered models used for images.",
		"Neural Network Basics",
		"They are used in medical imaging and autonomous driving.",
	)

	_, err = h.svc.Turn(ctx, fastTurn(sess.ID, "Tell me about convolutional neural networks."))
	require.NoError(t, err)

	res, err := h.svc.Turn(ctx, fastTurn(sess.ID, "What are their main applications?"))
	require.NoError(t, err)
	assert.True(t, res.FollowUp)
	assert.Equal(t, metastore.TypeFollowUp, res.UserMessage.Type)
}

func TestTurnSessionBusy(t *testing.T) {
	h := newHarness(t, defaultConfig())
	ctx := context.Background()

	sess, err := h.svc.Create(ctx, CreateRequest{OwnerID: "user-1", CollectionID: h.col.ID})
	require.NoError(t, err)

	release, err := h.svc.acquire(ctx, sess.ID)
	require.NoError(t, err)
	defer release()

	_, err = h.svc.Turn(ctx, fastTurn(sess.ID, "Is anyone there?"))
	require.Error(t, err)
	assert.Equal(t, core.CodeConflict, core.CodeOf(err))
	assert.Contains(t, err.Error(), "session busy")
}

func TestTurnOnDeletedCollection(t *testing.T) {
	h := newHarness(t, defaultConfig())
	ctx := context.Background()

	sess, err := h.svc.Create(ctx, CreateRequest{OwnerID: "user-1", CollectionID: h.col.ID})
	require.NoError(t, err)

	h.gen.Responses("An answer.", "A Title")
	_, err = h.svc.Turn(ctx, fastTurn(sess.ID, "Tell me about convolutional neural networks."))
	require.NoError(t, err)

	require.NoError(t, h.meta.SetCollectionStatus(ctx, h.col.ID, metastore.CollectionDeleted))

	_, err = h.svc.Turn(ctx, fastTurn(sess.ID, "Anything else?"))
	require.Error(t, err)
	assert.Equal(t, core.CodeNotFound, core.CodeOf(err))
	assert.Contains(t, err.Error(), "collection deleted")

	// The session stays readable.
	dump, err := h.svc.ExportSession(ctx, "user-1", sess.ID)
	require.NoError(t, err)
	assert.Len(t, dump.Messages, 2)
}

func TestTurnSearchFailureLeavesOnlyUserMessage(t *testing.T) {
	h := newHarness(t, defaultConfig())
	ctx := context.Background()

	sess, err := h.svc.Create(ctx, CreateRequest{OwnerID: "user-1", CollectionID: h.col.ID})
	require.NoError(t, err)

	// No scripted response: generation inside the search fails, the turn
	// errors, and the append-only log keeps the question with no partial
	// answer alongside it.
	question := "Tell me about convolutional neural networks."
	_, err = h.svc.Turn(ctx, fastTurn(sess.ID, question))
	require.Error(t, err)
	assert.Equal(t, core.CodeDependencyUnavailable, core.CodeOf(err))

	msgs, err := h.meta.ListMessages(ctx, sess.ID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, metastore.RoleUser, msgs[0].Role)
	assert.Equal(t, question, msgs[0].Content)

	// The session is released; a retry with a working generator succeeds.
	// The failed turn's user message already counts, so no title is drawn.
	h.gen.Responses("They classify images.")
	res, err := h.svc.Turn(ctx, fastTurn(sess.ID, question))
	require.NoError(t, err)
	assert.Equal(t, metastore.RoleAssistant, res.AssistantMessage.Role)
}

func TestTurnSchedulesSummarization(t *testing.T) {
	cfg := defaultConfig()
	cfg.SummarizeThreshold = 1
	h := newHarness(t, cfg)
	ctx := context.Background()

	sess, err := h.svc.Create(ctx, CreateRequest{OwnerID: "user-1", CollectionID: h.col.ID})
	require.NoError(t, err)

	h.gen.Responses(
		"Convolutional networks classify images.",
		"Image Classification Chat",
		"The user asked about convolutional networks and got an overview.",
	)

	res, err := h.svc.Turn(ctx, fastTurn(sess.ID, "Tell me about convolutional neural networks."))
	require.NoError(t, err)
	assert.True(t, res.SummaryScheduled)

	require.Eventually(t, func() bool {
		sum, err := h.meta.LatestSummary(ctx, sess.ID)
		return err == nil && sum.LastOrdinal == 2
	}, 2*time.Second, 5*time.Millisecond)
}

func TestExportScrubsSecrets(t *testing.T) {
	h := newHarness(t, defaultConfig())
	ctx := context.Background()

	sess, err := h.svc.Create(ctx, CreateRequest{OwnerID: "user-1", CollectionID: h.col.ID})
	require.NoError(t, err)

	_, err = h.meta.AppendMessage(ctx, &metastore.Message{
		SessionID: sess.ID,
		Role:      metastore.RoleUser,
		Type:      metastore.TypeQuestion,
		Content:   "My key is sk-" + strings.Repeat("a", 48) + " please remember it.",
	})
	require.NoError(t, err)

	dump, err := h.svc.ExportSession(ctx, "user-1", sess.ID)
	require.NoError(t, err)
	require.Len(t, dump.Messages, 1)
	assert.Contains(t, dump.Messages[0].Content, "[REDACTED]")
	assert.NotContains(t, dump.Messages[0].Content, "sk-aaaa")
	assert.GreaterOrEqual(t, dump.Redactions, 1)
}

func TestArchivedSessionRejectsTurns(t *testing.T) {
	h := newHarness(t, defaultConfig())
	ctx := context.Background()

	sess, err := h.svc.Create(ctx, CreateRequest{OwnerID: "user-1", CollectionID: h.col.ID})
	require.NoError(t, err)
	require.NoError(t, h.svc.Archive(ctx, "user-1", sess.ID))

	_, err = h.svc.Turn(ctx, fastTurn(sess.ID, "Still there?"))
	require.Error(t, err)
	assert.Equal(t, core.CodeConflict, core.CodeOf(err))
}

func TestSessionHiddenFromNonOwner(t *testing.T) {
	h := newHarness(t, defaultConfig())
	ctx := context.Background()

	sess, err := h.svc.Create(ctx, CreateRequest{OwnerID: "user-1", CollectionID: h.col.ID})
	require.NoError(t, err)

	_, err = h.svc.Get(ctx, "stranger", sess.ID)
	require.Error(t, err)
	assert.Equal(t, core.CodeNotFound, core.CodeOf(err))
}

func TestExpireIdleSessions(t *testing.T) {
	cfg := defaultConfig()
	cfg.IdleExpiry = time.Nanosecond
	h := newHarness(t, cfg)
	ctx := context.Background()

	sess, err := h.svc.Create(ctx, CreateRequest{OwnerID: "user-1", CollectionID: h.col.ID})
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	n, err := h.svc.ExpireIdle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := h.meta.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, metastore.SessionExpired, got.Status)
}
