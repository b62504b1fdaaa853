package ingestion

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/manavgup/rag-modulo-sub005/internal/metastore"
	"github.com/manavgup/rag-modulo-sub005/internal/vectorstore"
)

// SweepOrphanVectors removes vectors whose documents the metadata store no
// longer lists as indexed. Orphans appear when a crash lands between the
// vector upsert and the metadata commit, or between vector deletion and
// record deletion.
//
// Backends without point enumeration (chromem) are skipped.
func (s *Service) SweepOrphanVectors(ctx context.Context) error {
	collections, err := s.meta.AllCollections(ctx)
	if err != nil {
		return err
	}

	swept := 0
	for _, col := range collections {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		present, err := s.vectors.ListDocumentIDs(ctx, col.Namespace)
		if errors.Is(err, vectorstore.ErrNotSupported) {
			return nil
		}
		if err != nil {
			s.logger.Warn("orphan sweep: listing namespace failed",
				zap.String("collection_id", col.ID),
				zap.Error(err),
			)
			continue
		}

		indexed, err := s.meta.IndexedDocumentIDs(ctx, col.ID)
		if err != nil {
			return err
		}

		for docID := range present {
			if indexed[docID] {
				continue
			}
			// Not indexed according to metadata: a document mid-pipeline
			// also looks like this, so only sweep documents the
			// metastore does not know at all or knows as failed.
			doc, err := s.meta.GetDocument(ctx, docID)
			if err == nil && doc.Status != metastore.DocumentFailed {
				continue
			}
			if err := s.vectors.DeleteByDocument(ctx, col.Namespace, docID); err != nil {
				s.logger.Warn("orphan sweep: delete failed",
					zap.String("collection_id", col.ID),
					zap.String("document_id", docID),
					zap.Error(err),
				)
				continue
			}
			swept++
		}
	}

	if swept > 0 {
		s.logger.Info("orphan vectors swept", zap.Int("count", swept))
	}
	return nil
}
