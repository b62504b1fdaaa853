package suggestion

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/manavgup/rag-modulo-sub005/internal/config"
	"github.com/manavgup/rag-modulo-sub005/internal/core"
	"github.com/manavgup/rag-modulo-sub005/internal/embeddings"
	"github.com/manavgup/rag-modulo-sub005/internal/llm"
	"github.com/manavgup/rag-modulo-sub005/internal/metastore"
	"github.com/manavgup/rag-modulo-sub005/internal/vectorstore"
)

func testSuggestionConfig() config.SuggestionConfig {
	return config.SuggestionConfig{
		MaxSuggestions:   3,
		MaxLength:        120,
		SampleChunks:     4,
		DedupeSimilarity: 0.85,
	}
}

// newSuggestionHarness seeds a private collection with two embedded
// chunks and an active session for its owner.
func newSuggestionHarness(t *testing.T, gen *llm.Scripted) (*Service, *metastore.Store, *metastore.Session) {
	t.Helper()
	ctx := context.Background()

	meta, err := metastore.Open(":memory:", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { meta.Close() })

	vectors := vectorstore.NewMemoryStore()
	embedder := embeddings.NewDeterministic(16)

	col := &metastore.Collection{
		ID:        "col-1",
		OwnerID:   "user-1",
		Name:      "Neural Networks",
		Privacy:   metastore.PrivacyPrivate,
		Namespace: vectorstore.Namespace("col-1"),
		Policy:    metastore.ChunkPolicy{ChunkSize: 400, Overlap: 50, EmbeddingModel: "bge-small"},
		Status:    metastore.CollectionActive,
	}
	require.NoError(t, meta.CreateCollection(ctx, col))
	require.NoError(t, vectors.CreateNamespace(ctx, col.Namespace))

	texts := []string{
		"Convolutional neural networks excel at image recognition tasks.",
		"Recurrent networks process sequential data such as text and audio.",
	}
	vecs, err := embedder.EmbedDocuments(ctx, texts)
	require.NoError(t, err)
	points := make([]vectorstore.Point, len(texts))
	for i, text := range texts {
		points[i] = vectorstore.Point{
			Key:    vectorstore.PointKey{DocumentID: "doc-1", Ordinal: i},
			Vector: vecs[i],
			Text:   text,
		}
	}
	require.NoError(t, vectors.Upsert(ctx, col.Namespace, points))

	sess := &metastore.Session{
		ID:                  "sess-1",
		OwnerID:             "user-1",
		CollectionID:        col.ID,
		Name:                "Networks chat",
		Status:              metastore.SessionActive,
		ContextWindowTokens: 4000,
	}
	require.NoError(t, meta.CreateSession(ctx, sess))

	svc := NewService(meta, vectors, embedder, gen, testSuggestionConfig(), zap.NewNop())
	return svc, meta, sess
}

func appendTestMessage(t *testing.T, meta *metastore.Store, sessionID string, role metastore.Role, content string) {
	t.Helper()
	msgType := metastore.TypeQuestion
	if role == metastore.RoleAssistant {
		msgType = metastore.TypeAnswer
	}
	_, err := meta.AppendMessage(context.Background(), &metastore.Message{
		SessionID:  sessionID,
		Role:       role,
		Type:       msgType,
		Content:    content,
		TokenCount: 10,
	})
	require.NoError(t, err)
}

func TestFromSessionDedupesAndCaps(t *testing.T) {
	gen := llm.NewScripted(strings.Join([]string{
		"1. What tasks do convolutional neural networks excel at?",
		"2. What tasks do convolutional neural networks excel at!",
		"3. How do recurrent networks process sequential data?",
		"",
		"4. " + strings.Repeat("x", 300),
		"5. Which networks handle audio?",
		"6. What is the capital of France?",
	}, "\n"))
	svc, meta, sess := newSuggestionHarness(t, gen)

	appendTestMessage(t, meta, sess.ID, metastore.RoleUser, "Tell me about neural networks.")
	appendTestMessage(t, meta, sess.ID, metastore.RoleAssistant,
		"Convolutional neural networks excel at image recognition; recurrent networks process sequential data such as audio.")

	out, err := svc.FromSession(context.Background(), "user-1", sess.ID)
	require.NoError(t, err)

	// The near-duplicate and the overlong line are gone, the cap holds,
	// and the off-topic question loses the ranking.
	assert.Len(t, out, 3)
	assert.Contains(t, out, "What tasks do convolutional neural networks excel at?")
	assert.Contains(t, out, "How do recurrent networks process sequential data?")
	assert.NotContains(t, out, "What is the capital of France?")

	require.Len(t, gen.Prompts, 1)
	assert.Contains(t, gen.Prompts[0], "Tell me about neural networks.")
	assert.Contains(t, gen.Prompts[0], "6") // count = 2 * max_suggestions
}

func TestFromSessionRequiresMessages(t *testing.T) {
	svc, _, sess := newSuggestionHarness(t, llm.NewScripted())

	_, err := svc.FromSession(context.Background(), "user-1", sess.ID)
	require.Error(t, err)
	assert.Equal(t, core.CodeInvalidInput, core.CodeOf(err))
}

func TestFromSessionHiddenFromStrangers(t *testing.T) {
	svc, meta, sess := newSuggestionHarness(t, llm.NewScripted())
	appendTestMessage(t, meta, sess.ID, metastore.RoleUser, "hello")

	_, err := svc.FromSession(context.Background(), "user-2", sess.ID)
	require.Error(t, err)
	assert.Equal(t, core.CodeNotFound, core.CodeOf(err))
}

func TestFromLastMessageUsesOnlyFinalAnswer(t *testing.T) {
	gen := llm.NewScripted("What else can recurrent networks process?")
	svc, meta, sess := newSuggestionHarness(t, gen)

	appendTestMessage(t, meta, sess.ID, metastore.RoleUser, "first question about images")
	appendTestMessage(t, meta, sess.ID, metastore.RoleAssistant, "An early answer about images.")
	appendTestMessage(t, meta, sess.ID, metastore.RoleUser, "second question about audio")
	appendTestMessage(t, meta, sess.ID, metastore.RoleAssistant, "Recurrent networks process audio well.")

	out, err := svc.FromLastMessage(context.Background(), "user-1", sess.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"What else can recurrent networks process?"}, out)

	require.Len(t, gen.Prompts, 1)
	assert.Contains(t, gen.Prompts[0], "Recurrent networks process audio well.")
	assert.NotContains(t, gen.Prompts[0], "An early answer about images.")
	assert.NotContains(t, gen.Prompts[0], "second question about audio")
}

func TestFromLastMessageWithoutAnswerFails(t *testing.T) {
	svc, meta, sess := newSuggestionHarness(t, llm.NewScripted())
	appendTestMessage(t, meta, sess.ID, metastore.RoleUser, "unanswered question")

	_, err := svc.FromLastMessage(context.Background(), "user-1", sess.ID)
	require.Error(t, err)
	assert.Equal(t, core.CodeInvalidInput, core.CodeOf(err))
}

func TestFromDocumentsSamplesIndexedChunks(t *testing.T) {
	gen := llm.NewScripted(strings.Join([]string{
		"What do convolutional networks recognize?",
		"How is sequential data processed?",
	}, "\n"))
	svc, _, sess := newSuggestionHarness(t, gen)

	out, err := svc.FromDocuments(context.Background(), "user-1", sess.CollectionID)
	require.NoError(t, err)
	assert.Len(t, out, 2)

	require.Len(t, gen.Prompts, 1)
	assert.Contains(t, gen.Prompts[0], "image recognition")
	assert.Contains(t, gen.Prompts[0], "sequential data")
}

func TestFromDocumentsHiddenCollection(t *testing.T) {
	svc, meta, sess := newSuggestionHarness(t, llm.NewScripted())
	ctx := context.Background()

	_, err := svc.FromDocuments(ctx, "user-2", sess.CollectionID)
	require.Error(t, err)
	assert.Equal(t, core.CodeNotFound, core.CodeOf(err))

	require.NoError(t, meta.SetCollectionStatus(ctx, sess.CollectionID, metastore.CollectionDeleted))
	_, err = svc.FromDocuments(ctx, "user-1", sess.CollectionID)
	require.Error(t, err)
	assert.Equal(t, core.CodeNotFound, core.CodeOf(err))
}

func TestFromDocumentsEmptyCollection(t *testing.T) {
	svc, meta, _ := newSuggestionHarness(t, llm.NewScripted())
	ctx := context.Background()

	empty := &metastore.Collection{
		ID:        "col-empty",
		OwnerID:   "user-1",
		Name:      "Empty",
		Privacy:   metastore.PrivacyPrivate,
		Namespace: vectorstore.Namespace("col-empty"),
		Policy:    metastore.ChunkPolicy{ChunkSize: 400, Overlap: 50, EmbeddingModel: "bge-small"},
		Status:    metastore.CollectionActive,
	}
	require.NoError(t, meta.CreateCollection(ctx, empty))
	require.NoError(t, svc.vectors.CreateNamespace(ctx, empty.Namespace))

	_, err := svc.FromDocuments(ctx, "user-1", empty.ID)
	require.Error(t, err)
	assert.Equal(t, core.CodeInvalidInput, core.CodeOf(err))
}

func TestCleanLine(t *testing.T) {
	cases := map[string]string{
		"1. What is X?":       "What is X?",
		"- What is X?":        "What is X?",
		"* \"What is X?\"":    "What is X?",
		"12) What is X?":      "What is X?",
		"   What is X?   ":    "What is X?",
		"• 'Quoted question'": "Quoted question",
		"":                    "",
		"3.":                  "",
	}
	for in, want := range cases {
		assert.Equal(t, want, cleanLine(in), "input %q", in)
	}
}

func TestSimilarityDetectsNearDuplicates(t *testing.T) {
	assert.InDelta(t, 1.0, similarity("What is RAG?", "what is rag"), 0.001)
	assert.Greater(t, similarity("How do CNNs work?", "How do CNNs work today?"), 0.7)
	assert.Less(t, similarity("How do CNNs work?", "What is the capital of France?"), 0.5)
}
