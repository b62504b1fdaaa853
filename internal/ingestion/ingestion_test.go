package ingestion

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/manavgup/rag-modulo-sub005/internal/blobstore"
	"github.com/manavgup/rag-modulo-sub005/internal/embeddings"
	"github.com/manavgup/rag-modulo-sub005/internal/metastore"
	"github.com/manavgup/rag-modulo-sub005/internal/parser"
	"github.com/manavgup/rag-modulo-sub005/internal/scheduler"
	"github.com/manavgup/rag-modulo-sub005/internal/vectorstore"
)

type harness struct {
	svc     *Service
	meta    *metastore.Store
	vectors *vectorstore.MemoryStore
	col     *metastore.Collection
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()

	meta, err := metastore.Open(":memory:", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { meta.Close() })

	blobs, err := blobstore.NewFSStore(t.TempDir())
	require.NoError(t, err)

	vectors := vectorstore.NewMemoryStore()

	sched := scheduler.New(scheduler.Config{
		Workers:        2,
		QueueSize:      16,
		BackoffBase:    time.Millisecond,
		BackoffMax:     5 * time.Millisecond,
		IdempotencyTTL: time.Minute,
	}, nil, nil)
	sched.Start(ctx)
	t.Cleanup(sched.Stop)

	svc := NewService(meta, blobs, vectors,
		embeddings.NewDeterministic(16), parser.NewRegistry(), sched, zap.NewNop(),
		Config{BatchSize: 2, MaxRetries: 1, MaxModelTokens: 512, SafetyMargin: 50})

	col := &metastore.Collection{
		ID:        "col-1",
		OwnerID:   "user-1",
		Name:      "Docs",
		Privacy:   metastore.PrivacyPrivate,
		Namespace: vectorstore.Namespace("col-1"),
		Policy:    metastore.ChunkPolicy{ChunkSize: 50, Overlap: 5, EmbeddingModel: "bge-small"},
		Status:    metastore.CollectionActive,
	}
	require.NoError(t, meta.CreateCollection(ctx, col))
	require.NoError(t, vectors.CreateNamespace(ctx, col.Namespace))

	return &harness{svc: svc, meta: meta, vectors: vectors, col: col}
}

func (h *harness) waitIndexed(t *testing.T, docID string) *metastore.Document {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		doc, err := h.meta.GetDocument(context.Background(), docID)
		require.NoError(t, err)
		if doc.Status == metastore.DocumentIndexed || doc.Status == metastore.DocumentFailed {
			return doc
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("document %s never reached a terminal state", docID)
	return nil
}

const sampleText = `Retrieval augmented generation grounds model answers in stored documents.
The pipeline parses uploads, splits them into chunks, and embeds each chunk.

At query time the system embeds the question and searches for similar chunks.
The generator then answers using only the retrieved material.`

func TestUploadAndProcess(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.svc.Upload(ctx, h.col.ID, "guide.txt", parser.MIMEText, strings.NewReader(sampleText))
	require.NoError(t, err)
	assert.False(t, res.Deduplicated)
	assert.NotEmpty(t, res.JobID)

	doc := h.waitIndexed(t, res.Document.ID)
	assert.Equal(t, metastore.DocumentIndexed, doc.Status)
	assert.Greater(t, doc.ChunkCount, 0)
	assert.Equal(t, HashPolicy(h.col.Policy), doc.PolicyHash)

	// Vectors landed under the derived namespace, keyed by document.
	ids, err := h.vectors.ListDocumentIDs(ctx, h.col.Namespace)
	require.NoError(t, err)
	assert.True(t, ids[doc.ID])

	n, err := h.vectors.Count(ctx, h.col.Namespace)
	require.NoError(t, err)
	assert.Equal(t, doc.ChunkCount, n)

	// Collection counters and status settled.
	col, err := h.meta.GetCollection(ctx, h.col.ID)
	require.NoError(t, err)
	assert.Equal(t, metastore.CollectionActive, col.Status)
	assert.Equal(t, 1, col.DocumentCount)
	require.NotNil(t, col.LastIndexedAt)
}

func TestUploadDeduplicatesByContent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first, err := h.svc.Upload(ctx, h.col.ID, "a.txt", parser.MIMEText, strings.NewReader(sampleText))
	require.NoError(t, err)
	h.waitIndexed(t, first.Document.ID)

	second, err := h.svc.Upload(ctx, h.col.ID, "a-renamed.txt", parser.MIMEText, strings.NewReader(sampleText))
	require.NoError(t, err)
	assert.True(t, second.Deduplicated)
	assert.Equal(t, first.Document.ID, second.Document.ID)
	assert.Empty(t, second.JobID)
}

func TestUploadRejectsUnsupportedFormat(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.Upload(context.Background(), h.col.ID, "img.png", "image/png", strings.NewReader("x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported format")
}

func TestProcessFailureMarksDocumentAndCollection(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// Claim PDF but upload garbage: parsing fails terminally.
	res, err := h.svc.Upload(ctx, h.col.ID, "broken.pdf", parser.MIMEPDF, strings.NewReader("not a pdf"))
	require.NoError(t, err)

	doc := h.waitIndexed(t, res.Document.ID)
	assert.Equal(t, metastore.DocumentFailed, doc.Status)
	assert.NotEmpty(t, doc.ProcessingError)

	col, err := h.meta.GetCollection(ctx, h.col.ID)
	require.NoError(t, err)
	assert.Equal(t, metastore.CollectionDegraded, col.Status)
}

func TestReprocessAfterPolicyChange(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.svc.Upload(ctx, h.col.ID, "guide.txt", parser.MIMEText, strings.NewReader(sampleText))
	require.NoError(t, err)
	h.waitIndexed(t, res.Document.ID)

	// Same policy: nothing to do, pass is a no-op.
	rr, err := h.svc.Reprocess(ctx, h.col.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, rr.Scheduled)
	assert.Equal(t, 1, rr.Skipped)

	// Change the chunking policy and reprocess.
	newPolicy := metastore.ChunkPolicy{ChunkSize: 20, Overlap: 2, EmbeddingModel: "bge-small"}
	require.NoError(t, h.meta.UpdateCollectionPolicy(ctx, h.col.ID, newPolicy))

	rr, err = h.svc.Reprocess(ctx, h.col.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, rr.Scheduled)

	doc := h.waitIndexed(t, res.Document.ID)
	assert.Equal(t, metastore.DocumentIndexed, doc.Status)
	assert.Equal(t, HashPolicy(newPolicy), doc.PolicyHash)
}

func TestProcessIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.svc.Upload(ctx, h.col.ID, "guide.txt", parser.MIMEText, strings.NewReader(sampleText))
	require.NoError(t, err)
	doc := h.waitIndexed(t, res.Document.ID)

	// Re-running the pipeline replaces vectors and chunk rows in place.
	require.NoError(t, h.svc.Process(ctx, doc.ID, true))

	again, err := h.meta.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, doc.ChunkCount, again.ChunkCount)

	n, err := h.vectors.Count(ctx, h.col.Namespace)
	require.NoError(t, err)
	assert.Equal(t, doc.ChunkCount, n)
}

func TestDeleteDocumentRemovesVectors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.svc.Upload(ctx, h.col.ID, "guide.txt", parser.MIMEText, strings.NewReader(sampleText))
	require.NoError(t, err)
	h.waitIndexed(t, res.Document.ID)

	require.NoError(t, h.svc.DeleteDocument(ctx, res.Document.ID))

	n, err := h.vectors.Count(ctx, h.col.Namespace)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = h.meta.GetDocument(ctx, res.Document.ID)
	assert.ErrorIs(t, err, metastore.ErrNotFound)

	col, err := h.meta.GetCollection(ctx, h.col.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, col.DocumentCount)
}

func TestSweepOrphanVectors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.svc.Upload(ctx, h.col.ID, "guide.txt", parser.MIMEText, strings.NewReader(sampleText))
	require.NoError(t, err)
	h.waitIndexed(t, res.Document.ID)

	// Simulate a crash between upsert and commit: vectors for a document
	// the metastore never learned about.
	require.NoError(t, h.vectors.Upsert(ctx, h.col.Namespace, []vectorstore.Point{
		{Key: vectorstore.PointKey{DocumentID: "ghost-doc", Ordinal: 0}, Vector: make([]float32, 16)},
	}))

	require.NoError(t, h.svc.SweepOrphanVectors(ctx))

	ids, err := h.vectors.ListDocumentIDs(ctx, h.col.Namespace)
	require.NoError(t, err)
	assert.False(t, ids["ghost-doc"])
	assert.True(t, ids[res.Document.ID], "indexed document must survive the sweep")
}
