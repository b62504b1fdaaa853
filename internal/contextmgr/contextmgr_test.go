package contextmgr

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/manavgup/rag-modulo-sub005/internal/config"
	"github.com/manavgup/rag-modulo-sub005/internal/embeddings"
	"github.com/manavgup/rag-modulo-sub005/internal/llm"
	"github.com/manavgup/rag-modulo-sub005/internal/metastore"
)

func testConversationConfig() config.ConversationConfig {
	return config.ConversationConfig{
		ContextWindowTokens: 4000,
		MaxMessages:         200,
		SummarizeThreshold:  2000,
		FollowUpSimilarity:  0.6,
	}
}

func newTestManager(t *testing.T, cfg config.ConversationConfig, gen llm.Generator) (*Manager, *metastore.Store) {
	t.Helper()
	meta, err := metastore.Open(":memory:", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { meta.Close() })

	mgr, err := NewManager(meta, embeddings.NewDeterministic(16), gen, cfg, zap.NewNop())
	require.NoError(t, err)
	return mgr, meta
}

func seedSession(t *testing.T, meta *metastore.Store, windowTokens int) *metastore.Session {
	t.Helper()
	sess := &metastore.Session{
		ID:                  "sess-1",
		OwnerID:             "user-1",
		CollectionID:        "col-1",
		Name:                "New Conversation",
		Status:              metastore.SessionActive,
		ContextWindowTokens: windowTokens,
		MaxMessages:         200,
	}
	require.NoError(t, meta.CreateSession(context.Background(), sess))
	return sess
}

func appendMsg(t *testing.T, meta *metastore.Store, sessionID string, role metastore.Role, content string, tokens int) *metastore.Message {
	t.Helper()
	mt := metastore.TypeQuestion
	if role == metastore.RoleAssistant {
		mt = metastore.TypeAnswer
	}
	msg, err := meta.AppendMessage(context.Background(), &metastore.Message{
		SessionID:  sessionID,
		Role:       role,
		Type:       mt,
		Content:    content,
		TokenCount: tokens,
	})
	require.NoError(t, err)
	return msg
}

func TestExtractPhrases(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"Tell me about convolutional neural networks.", "convolutional neural networks"},
		{"We visited New York City last summer.", "New York City"},
		{"The report is about renewable energy storage.", "renewable energy storage"},
	}
	for _, tt := range tests {
		phrases := extractPhrases(tt.text)
		found := false
		for _, p := range phrases {
			if p.text == tt.want {
				found = true
			}
		}
		assert.True(t, found, "expected %q in %v", tt.want, phrases)
	}
}

func TestTrackerPromotesRepeatedProperNouns(t *testing.T) {
	tr := newTracker()
	tr.observe(1, "The quarterly report from IBM was published.")

	// A single mention of a lone proper noun is not yet an entity.
	for _, e := range tr.list() {
		assert.NotEqual(t, "IBM", e.Text)
	}

	tr.observe(3, "Analysts expect IBM to grow.")
	list := tr.list()
	require.NotEmpty(t, list)
	assert.Equal(t, "IBM", list[0].Text)
	assert.Equal(t, 1, list[0].FirstOrdinal)
	assert.Equal(t, 3, list[0].LastOrdinal)
}

func TestBuildContextIncludesSummaryAndNewerMessages(t *testing.T) {
	mgr, meta := newTestManager(t, testConversationConfig(), llm.NewScripted())
	ctx := context.Background()
	sess := seedSession(t, meta, 4000)

	appendMsg(t, meta, sess.ID, metastore.RoleUser, "Tell me about solar panels.", 10)
	appendMsg(t, meta, sess.ID, metastore.RoleAssistant, "Solar panels convert sunlight.", 10)
	require.NoError(t, meta.CreateSummary(ctx, &metastore.Summary{
		ID: "sum-1", SessionID: sess.ID, Strategy: SummaryStrategy,
		FirstOrdinal: 1, LastOrdinal: 2,
		Text: "The user asked about solar panels.",
	}))
	appendMsg(t, meta, sess.ID, metastore.RoleUser, "How efficient are they?", 10)
	appendMsg(t, meta, sess.ID, metastore.RoleAssistant, "Efficiency is around twenty percent.", 10)

	built, err := mgr.BuildContext(ctx, sess, "What about durability?")
	require.NoError(t, err)

	assert.Equal(t, "The user asked about solar panels.", built.Augmentation.Summary)
	assert.Contains(t, built.Augmentation.RecentDigest, "How efficient are they?")
	assert.Contains(t, built.Augmentation.RecentDigest, "Efficiency is around twenty percent.")
	// Summarized messages stay out of the digest.
	assert.NotContains(t, built.Augmentation.RecentDigest, "Tell me about solar panels.")
	assert.Greater(t, built.TokensUsed, 0)
}

func TestBuildContextBudgetAndRelevancePruning(t *testing.T) {
	mgr, meta := newTestManager(t, testConversationConfig(), llm.NewScripted())
	ctx := context.Background()
	sess := seedSession(t, meta, 30)

	appendMsg(t, meta, sess.ID, metastore.RoleUser, "Solar panel efficiency depends on silicon purity.", 10)
	appendMsg(t, meta, sess.ID, metastore.RoleAssistant, "The weather yesterday was rainy and cold.", 10)
	appendMsg(t, meta, sess.ID, metastore.RoleUser, "Shipping costs rose in March.", 15)
	appendMsg(t, meta, sess.ID, metastore.RoleAssistant, "Let me check the latest figures.", 10)
	appendMsg(t, meta, sess.ID, metastore.RoleUser, "Thanks, please continue.", 10)

	built, err := mgr.BuildContext(ctx, sess, "How does silicon purity affect solar panel efficiency?")
	require.NoError(t, err)

	// The two newest fit; the 15-token message does not; the remaining
	// budget goes to the older message most relevant to the question.
	assert.Contains(t, built.Augmentation.RecentDigest, "Thanks, please continue.")
	assert.Contains(t, built.Augmentation.RecentDigest, "Let me check the latest figures.")
	assert.Contains(t, built.Augmentation.RecentDigest, "silicon purity")
	assert.NotContains(t, built.Augmentation.RecentDigest, "rainy and cold")
	assert.LessOrEqual(t, built.TokensUsed, 30)
}

func TestBuildContextSurfacesEntityAnchors(t *testing.T) {
	mgr, meta := newTestManager(t, testConversationConfig(), llm.NewScripted())
	ctx := context.Background()
	sess := seedSession(t, meta, 4000)

	appendMsg(t, meta, sess.ID, metastore.RoleUser, "Tell me about convolutional neural networks.", 10)
	appendMsg(t, meta, sess.ID, metastore.RoleAssistant, "They are layered models for images.", 10)

	built, err := mgr.BuildContext(ctx, sess, "What are their main applications?")
	require.NoError(t, err)

	assert.Contains(t, built.Augmentation.Entities, "convolutional neural networks")
	assert.True(t, built.FollowUp, "pronoun referencing a tracked entity is a follow-up")
}

func TestFollowUpBySimilarityToPreviousAnswer(t *testing.T) {
	mgr, meta := newTestManager(t, testConversationConfig(), llm.NewScripted())
	ctx := context.Background()
	sess := seedSession(t, meta, 4000)

	appendMsg(t, meta, sess.ID, metastore.RoleUser, "First question goes here.", 5)
	appendMsg(t, meta, sess.ID, metastore.RoleAssistant, "Solar panels convert sunlight into electricity.", 10)

	built, err := mgr.BuildContext(ctx, sess, "Solar panels convert sunlight into electricity how exactly?")
	require.NoError(t, err)
	assert.True(t, built.FollowUp)

	built, err = mgr.BuildContext(ctx, sess, "Completely unrelated topic entirely different words")
	require.NoError(t, err)
	assert.False(t, built.FollowUp)
}

func TestShouldSummarizeAndSupersede(t *testing.T) {
	cfg := testConversationConfig()
	cfg.SummarizeThreshold = 25
	gen := llm.NewScripted(
		"The user and assistant discussed solar panels.",
		"The conversation moved on to batteries.",
	)
	mgr, meta := newTestManager(t, cfg, gen)
	ctx := context.Background()
	sess := seedSession(t, meta, 4000)

	appendMsg(t, meta, sess.ID, metastore.RoleUser, "Tell me about solar panels.", 15)
	appendMsg(t, meta, sess.ID, metastore.RoleAssistant, "Solar panels convert sunlight.", 15)

	should, err := mgr.ShouldSummarize(ctx, sess.ID)
	require.NoError(t, err)
	assert.True(t, should)

	first, err := mgr.Summarize(ctx, sess)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, 1, first.FirstOrdinal)
	assert.Equal(t, 2, first.LastOrdinal)

	// Under threshold again right after summarizing.
	should, err = mgr.ShouldSummarize(ctx, sess.ID)
	require.NoError(t, err)
	assert.False(t, should)

	appendMsg(t, meta, sess.ID, metastore.RoleUser, "Now tell me about batteries.", 20)
	appendMsg(t, meta, sess.ID, metastore.RoleAssistant, "Batteries store energy chemically.", 20)

	second, err := mgr.Summarize(ctx, sess)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, 3, second.FirstOrdinal)
	assert.Equal(t, 4, second.LastOrdinal)

	latest, err := meta.LatestSummary(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)
}

func TestSummarizeNothingNewIsNoop(t *testing.T) {
	mgr, meta := newTestManager(t, testConversationConfig(), llm.NewScripted())
	sess := seedSession(t, meta, 4000)

	sum, err := mgr.Summarize(context.Background(), sess)
	require.NoError(t, err)
	assert.Nil(t, sum)
}

func TestRebuildEntities(t *testing.T) {
	mgr, meta := newTestManager(t, testConversationConfig(), llm.NewScripted())
	ctx := context.Background()
	sess := seedSession(t, meta, 4000)

	appendMsg(t, meta, sess.ID, metastore.RoleUser, "Tell me about quantum error correction.", 10)
	mgr.Forget(sess.ID)

	require.NoError(t, mgr.RebuildEntities(ctx, sess.ID))
	entities := mgr.Entities(sess.ID)
	require.NotEmpty(t, entities)
	assert.Equal(t, "quantum error correction", entities[0].Text)
}
