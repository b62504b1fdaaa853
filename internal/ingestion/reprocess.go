package ingestion

import (
	"context"

	"go.uber.org/zap"

	"github.com/manavgup/rag-modulo-sub005/internal/core"
	"github.com/manavgup/rag-modulo-sub005/internal/metastore"
)

// ReprocessResult reports what a reprocess pass scheduled.
type ReprocessResult struct {
	Scheduled int
	Skipped   int
	JobIDs    []string
}

// Reprocess re-indexes every document whose policy hash differs from the
// collection's current policy. Documents already indexed under the
// current hash are skipped, which makes the operation idempotent: running
// it twice schedules nothing the second time.
func (s *Service) Reprocess(ctx context.Context, collectionID string) (*ReprocessResult, error) {
	col, err := s.meta.GetCollection(ctx, collectionID)
	if err != nil {
		return nil, core.WrapError(core.CodeNotFound, "collection not found", err)
	}
	if col.Status == metastore.CollectionDeleted {
		return nil, core.NewError(core.CodeNotFound, "collection is deleted")
	}

	currentHash := HashPolicy(col.Policy)
	docs, err := s.meta.ListDocuments(ctx, collectionID)
	if err != nil {
		return nil, core.WrapError(core.CodeInternal, "listing documents", err)
	}

	result := &ReprocessResult{}
	for _, doc := range docs {
		if doc.Status == metastore.DocumentIndexed && doc.PolicyHash == currentHash {
			result.Skipped++
			continue
		}
		if err := s.meta.ResetDocumentForReprocess(ctx, doc.ID); err != nil {
			return nil, core.WrapError(core.CodeInternal, "resetting document", err)
		}
		// Stale vectors are replaced by key on re-upsert; shrinking
		// chunk counts leave a tail the janitor sweeps, so clear
		// eagerly here.
		if err := s.vectors.DeleteByDocument(ctx, col.Namespace, doc.ID); err != nil {
			s.logger.Warn("clearing stale vectors before reprocess",
				zap.String("document_id", doc.ID),
				zap.Error(err),
			)
		}
		jobID, err := s.scheduleProcessing(doc.ID, col.ID, true)
		if err != nil {
			return nil, err
		}
		result.Scheduled++
		result.JobIDs = append(result.JobIDs, jobID)
	}

	if result.Scheduled > 0 {
		if err := s.meta.SetCollectionStatus(ctx, col.ID, metastore.CollectionProcessing); err != nil {
			return nil, core.WrapError(core.CodeInternal, "marking collection processing", err)
		}
	} else if col.Status == metastore.CollectionNeedsReprocess {
		// Policy change already satisfied by every document.
		if err := s.meta.SetCollectionStatus(ctx, col.ID, metastore.CollectionActive); err != nil {
			return nil, core.WrapError(core.CodeInternal, "restoring collection status", err)
		}
	}

	s.logger.Info("reprocess pass complete",
		zap.String("collection_id", collectionID),
		zap.Int("scheduled", result.Scheduled),
		zap.Int("skipped", result.Skipped),
	)
	return result, nil
}
