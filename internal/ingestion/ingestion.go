// Package ingestion runs the document pipeline: store the raw bytes,
// parse, chunk, embed, index vectors, then commit chunk metadata.
//
// Vectors are always written before the metadata commit. A crash between
// the two leaves orphan vectors, which the janitor sweeps; the reverse
// order could leave chunks that claim to be searchable but are not.
package ingestion

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/manavgup/rag-modulo-sub005/internal/blobstore"
	"github.com/manavgup/rag-modulo-sub005/internal/chunker"
	"github.com/manavgup/rag-modulo-sub005/internal/core"
	"github.com/manavgup/rag-modulo-sub005/internal/embeddings"
	"github.com/manavgup/rag-modulo-sub005/internal/identity"
	"github.com/manavgup/rag-modulo-sub005/internal/metastore"
	"github.com/manavgup/rag-modulo-sub005/internal/parser"
	"github.com/manavgup/rag-modulo-sub005/internal/scheduler"
	"github.com/manavgup/rag-modulo-sub005/internal/vectorstore"
)

// Config tunes the pipeline.
type Config struct {
	// BatchSize bounds one embedding provider call.
	BatchSize int
	// MaxRetries bounds embedding batch retries.
	MaxRetries int
	// MaxModelTokens and SafetyMargin bound chunk sizes against the
	// embedding model's input limit.
	MaxModelTokens int
	SafetyMargin   int
}

func (c *Config) applyDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 32
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.MaxModelTokens <= 0 {
		c.MaxModelTokens = 512
	}
	if c.SafetyMargin < 1 {
		c.SafetyMargin = 50
	}
}

// Service owns the ingestion pipeline.
type Service struct {
	meta     *metastore.Store
	blobs    blobstore.Store
	vectors  vectorstore.Store
	embedder embeddings.Embedder
	parsers  *parser.Registry
	sched    *scheduler.Scheduler
	logger   *zap.Logger
	config   Config
}

// NewService wires the pipeline.
func NewService(
	meta *metastore.Store,
	blobs blobstore.Store,
	vectors vectorstore.Store,
	embedder embeddings.Embedder,
	parsers *parser.Registry,
	sched *scheduler.Scheduler,
	logger *zap.Logger,
	config Config,
) *Service {
	config.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		meta:     meta,
		blobs:    blobs,
		vectors:  vectors,
		embedder: embedder,
		parsers:  parsers,
		sched:    sched,
		logger:   logger,
		config:   config,
	}
}

// HashPolicy fingerprints a chunking policy. Documents indexed under a
// different hash than their collection's current policy need reprocessing.
func HashPolicy(p metastore.ChunkPolicy) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%d|%d|%s", p.ChunkSize, p.Overlap, p.EmbeddingModel)))
	return hex.EncodeToString(h[:8])
}

// UploadResult reports what happened to an upload.
type UploadResult struct {
	Document *metastore.Document
	// Deduplicated is true when identical content was already present;
	// no new processing was scheduled.
	Deduplicated bool
	// JobID identifies the scheduled processing job, empty on dedup.
	JobID string
}

// Upload stores the content, registers the document, and schedules
// processing. Identical content in the same collection is deduplicated
// against the existing document.
func (s *Service) Upload(ctx context.Context, collectionID, filename, mimeType string, content io.Reader) (*UploadResult, error) {
	col, err := s.meta.GetCollection(ctx, collectionID)
	if err != nil {
		return nil, core.WrapError(core.CodeNotFound, "collection not found", err)
	}
	if col.Status == metastore.CollectionDeleted {
		return nil, core.NewError(core.CodeNotFound, "collection is deleted")
	}
	if !s.parsers.Supports(mimeType) {
		return nil, core.NewError(core.CodeInvalidInput,
			fmt.Sprintf("unsupported format %s, supported: %s",
				mimeType, strings.Join(s.parsers.SupportedTypes(), ", ")))
	}

	addr, size, err := s.blobs.Put(ctx, content)
	if err != nil {
		return nil, core.WrapError(core.CodeInternal, "storing content", err)
	}

	doc := &metastore.Document{
		ID:             identity.NewID(),
		CollectionID:   collectionID,
		Filename:       filename,
		ContentAddress: addr,
		MIMEType:       mimeType,
		Size:           size,
	}
	doc, existed, err := s.meta.CreateDocument(ctx, doc)
	if err != nil {
		return nil, core.WrapError(core.CodeInternal, "registering document", err)
	}
	if existed {
		s.logger.Info("upload deduplicated",
			zap.String("collection_id", collectionID),
			zap.String("document_id", doc.ID),
			zap.String("content_address", addr),
		)
		return &UploadResult{Document: doc, Deduplicated: true}, nil
	}

	jobID, err := s.scheduleProcessing(doc.ID, col.ID, false)
	if err != nil {
		return nil, err
	}
	return &UploadResult{Document: doc, JobID: jobID}, nil
}

func (s *Service) scheduleProcessing(docID, collectionID string, reindex bool) (string, error) {
	kind := "ingest"
	if reindex {
		kind = "reprocess"
	}
	jobID, err := s.sched.Submit(scheduler.Job{
		Kind:       kind,
		Key:        kind + ":" + docID,
		MaxRetries: s.config.MaxRetries,
		Run: func(ctx context.Context) error {
			return s.Process(ctx, docID, reindex)
		},
	})
	if err != nil {
		return "", err
	}
	return jobID, nil
}

// Process runs the pipeline for one document. It is safe to re-run: the
// vector keys are deterministic and the metadata commit replaces chunk
// rows wholesale.
func (s *Service) Process(ctx context.Context, docID string, reindex bool) error {
	// One pipeline run per document at a time.
	lock := s.meta.Lock("document:" + docID)
	lock.Lock()
	defer lock.Unlock()

	doc, err := s.meta.GetDocument(ctx, docID)
	if err != nil {
		return core.WrapError(core.CodeNotFound, "document not found", err)
	}
	col, err := s.meta.GetCollection(ctx, doc.CollectionID)
	if err != nil {
		return core.WrapError(core.CodeNotFound, "collection not found", err)
	}
	if col.Status == metastore.CollectionDeleted {
		return core.NewError(core.CodeNotFound, "collection is deleted")
	}

	start := time.Now()
	if err := s.run(ctx, doc, col); err != nil {
		msg := err.Error()
		if serr := s.meta.SetDocumentStatus(ctx, doc.ID, metastore.DocumentFailed, msg); serr != nil {
			s.logger.Error("recording document failure", zap.Error(serr))
		}
		if serr := s.meta.SetCollectionStatus(ctx, col.ID, metastore.CollectionDegraded); serr != nil {
			s.logger.Error("degrading collection", zap.Error(serr))
		}
		s.logger.Error("document processing failed",
			zap.String("document_id", doc.ID),
			zap.String("collection_id", col.ID),
			zap.Error(err),
		)
		return err
	}

	if !reindex {
		if err := s.meta.TouchCollectionIndexed(ctx, col.ID, 1, doc.Size); err != nil {
			return core.WrapError(core.CodeInternal, "updating collection counters", err)
		}
	} else {
		if err := s.meta.TouchCollectionIndexed(ctx, col.ID, 0, 0); err != nil {
			return core.WrapError(core.CodeInternal, "updating collection counters", err)
		}
	}

	s.logger.Info("document indexed",
		zap.String("document_id", doc.ID),
		zap.String("collection_id", col.ID),
		zap.Duration("elapsed", time.Since(start)),
	)
	return s.settleCollectionStatus(ctx, col.ID)
}

func (s *Service) run(ctx context.Context, doc *metastore.Document, col *metastore.Collection) error {
	// Parse.
	if err := s.meta.SetDocumentStatus(ctx, doc.ID, metastore.DocumentParsing, ""); err != nil {
		return err
	}
	raw, err := s.readBlob(ctx, doc.ContentAddress)
	if err != nil {
		return fmt.Errorf("reading content: %w", err)
	}
	passages, err := s.parsers.Parse(ctx, doc.MIMEType, raw, raw.Size())
	if err != nil {
		return fmt.Errorf("parsing: %w", err)
	}
	if len(passages) == 0 {
		return fmt.Errorf("parsing: document contains no extractable text")
	}

	// Chunk.
	if err := s.meta.SetDocumentStatus(ctx, doc.ID, metastore.DocumentChunking, ""); err != nil {
		return err
	}
	counter, err := chunker.NewCounter(col.Policy.EmbeddingModel)
	if err != nil {
		return fmt.Errorf("chunking: %w", err)
	}
	ch, err := chunker.New(chunker.Config{
		ChunkSize:      col.Policy.ChunkSize,
		Overlap:        col.Policy.Overlap,
		MaxModelTokens: s.config.MaxModelTokens,
		SafetyMargin:   s.config.SafetyMargin,
	}, counter)
	if err != nil {
		return fmt.Errorf("chunking: %w", err)
	}
	chunks, err := ch.Split(passages)
	if err != nil {
		return fmt.Errorf("chunking: %w", err)
	}

	// Embed and index, batch by batch. Vectors land before metadata.
	if err := s.meta.SetDocumentStatus(ctx, doc.ID, metastore.DocumentEmbedding, ""); err != nil {
		return err
	}
	namespace := col.Namespace
	for batchStart := 0; batchStart < len(chunks); batchStart += s.config.BatchSize {
		end := batchStart + s.config.BatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[batchStart:end]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Text
		}
		vectors, err := s.embedBatch(ctx, texts)
		if err != nil {
			return fmt.Errorf("embedding batch at %d: %w", batchStart, err)
		}

		points := make([]vectorstore.Point, len(batch))
		for i, c := range batch {
			points[i] = vectorstore.Point{
				Key:    vectorstore.PointKey{DocumentID: doc.ID, Ordinal: c.Ordinal},
				Vector: vectors[i],
				Text:   c.Text,
				Metadata: map[string]string{
					vectorstore.MetaPage:     fmt.Sprintf("%d", c.Page),
					vectorstore.MetaTitle:    c.Title,
					vectorstore.MetaFilename: doc.Filename,
				},
			}
		}
		if err := s.vectors.Upsert(ctx, namespace, points); err != nil {
			return fmt.Errorf("indexing batch at %d: %w", batchStart, err)
		}
	}

	// Commit metadata last.
	rows := make([]metastore.Chunk, len(chunks))
	pageCount := 0
	for i, c := range chunks {
		rows[i] = metastore.Chunk{
			DocumentID: doc.ID,
			Ordinal:    c.Ordinal,
			Text:       c.Text,
			Page:       c.Page,
			TokenCount: c.TokenCount,
			Title:      c.Title,
		}
		if c.Page > pageCount {
			pageCount = c.Page
		}
	}
	if err := s.meta.CommitDocumentIndexed(ctx, doc.ID, rows, pageCount, HashPolicy(col.Policy)); err != nil {
		return fmt.Errorf("committing chunks: %w", err)
	}
	return nil
}

// embedBatch retries transient provider failures with a short linear
// backoff; the job-level retry handles longer outages.
func (s *Service) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var lastErr error
	for attempt := 0; attempt <= s.config.MaxRetries; attempt++ {
		vectors, err := s.embedder.EmbedDocuments(ctx, texts)
		if err == nil {
			return vectors, nil
		}
		lastErr = err
		if !core.Retryable(err) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 200 * time.Millisecond):
		}
	}
	return nil, lastErr
}

func (s *Service) readBlob(ctx context.Context, addr string) (*bytes.Reader, error) {
	rc, err := s.blobs.Get(ctx, addr)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	raw, err := io.ReadAll(rc)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(raw), nil
}

// settleCollectionStatus resolves the collection to active when every
// document is terminal and none failed, degraded when some failed.
func (s *Service) settleCollectionStatus(ctx context.Context, collectionID string) error {
	docs, err := s.meta.ListDocuments(ctx, collectionID)
	if err != nil {
		return err
	}
	failed := false
	pending := false
	for _, d := range docs {
		switch d.Status {
		case metastore.DocumentFailed:
			failed = true
		case metastore.DocumentIndexed:
		default:
			pending = true
		}
	}
	status := metastore.CollectionActive
	if failed {
		status = metastore.CollectionDegraded
	} else if pending {
		status = metastore.CollectionProcessing
	}
	return s.meta.SetCollectionStatus(ctx, collectionID, status)
}

// DeleteDocument removes the document's vectors, chunk rows, and record.
// Vector deletion runs first so a crash cannot leave searchable vectors
// for a document the metadata no longer knows.
func (s *Service) DeleteDocument(ctx context.Context, docID string) error {
	lock := s.meta.Lock("document:" + docID)
	lock.Lock()
	defer lock.Unlock()

	doc, err := s.meta.GetDocument(ctx, docID)
	if err != nil {
		return core.WrapError(core.CodeNotFound, "document not found", err)
	}
	col, err := s.meta.GetCollection(ctx, doc.CollectionID)
	if err != nil {
		return core.WrapError(core.CodeNotFound, "collection not found", err)
	}

	if err := s.vectors.DeleteByDocument(ctx, col.Namespace, doc.ID); err != nil {
		return core.WrapError(core.CodeDependencyUnavailable, "deleting vectors", err)
	}
	if err := s.meta.DeleteDocument(ctx, doc.ID); err != nil {
		return core.WrapError(core.CodeInternal, "deleting document", err)
	}
	if doc.Status == metastore.DocumentIndexed {
		if err := s.meta.TouchCollectionIndexed(ctx, col.ID, -1, -doc.Size); err != nil {
			return core.WrapError(core.CodeInternal, "updating collection counters", err)
		}
	}
	// Blob stays: other documents may share the address across
	// collections. Blob garbage collection is a janitor concern.
	return nil
}
