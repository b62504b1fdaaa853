// Package collection manages document collection lifecycle: creation
// with vector namespace provisioning, visibility-scoped listing, policy
// updates, and two-phase deletion.
package collection

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/manavgup/rag-modulo-sub005/internal/core"
	"github.com/manavgup/rag-modulo-sub005/internal/identity"
	"github.com/manavgup/rag-modulo-sub005/internal/metastore"
	"github.com/manavgup/rag-modulo-sub005/internal/scheduler"
	"github.com/manavgup/rag-modulo-sub005/internal/vectorstore"
)

// Defaults applied to new collections when the request leaves them unset.
type Defaults struct {
	ChunkSize      int
	Overlap        int
	EmbeddingModel string
}

// Service owns collection lifecycle.
type Service struct {
	meta     *metastore.Store
	vectors  vectorstore.Store
	sched    *scheduler.Scheduler
	logger   *zap.Logger
	defaults Defaults
}

// NewService wires the collection service.
func NewService(meta *metastore.Store, vectors vectorstore.Store, sched *scheduler.Scheduler, logger *zap.Logger, defaults Defaults) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{meta: meta, vectors: vectors, sched: sched, logger: logger, defaults: defaults}
}

// CreateRequest describes a new collection.
type CreateRequest struct {
	OwnerID string
	Name    string
	Privacy metastore.Privacy
	Policy  metastore.ChunkPolicy
}

// Create provisions the vector namespace first, then the metadata row.
// If the row insert fails the namespace is deleted again so a retry
// starts clean.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*metastore.Collection, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, core.NewError(core.CodeInvalidInput, "collection name is required")
	}
	if req.OwnerID == "" {
		return nil, core.NewError(core.CodeInvalidInput, "owner is required")
	}
	privacy := req.Privacy
	if privacy == "" {
		privacy = metastore.PrivacyPrivate
	}
	if privacy != metastore.PrivacyPrivate && privacy != metastore.PrivacyPublic {
		return nil, core.NewError(core.CodeInvalidInput, "privacy must be private or public")
	}

	policy := req.Policy
	if policy.ChunkSize == 0 {
		policy.ChunkSize = s.defaults.ChunkSize
	}
	if policy.Overlap == 0 {
		policy.Overlap = s.defaults.Overlap
	}
	if policy.EmbeddingModel == "" {
		policy.EmbeddingModel = s.defaults.EmbeddingModel
	}
	if policy.ChunkSize <= 0 || policy.Overlap < 0 || policy.Overlap >= policy.ChunkSize {
		return nil, core.NewError(core.CodeInvalidInput, "invalid chunking policy")
	}

	col := &metastore.Collection{
		ID:      identity.NewID(),
		OwnerID: req.OwnerID,
		Name:    name,
		Privacy: privacy,
		Policy:  policy,
		Status:  metastore.CollectionActive,
	}
	col.Namespace = vectorstore.Namespace(col.ID)

	if err := s.vectors.CreateNamespace(ctx, col.Namespace); err != nil {
		return nil, core.WrapError(core.CodeDependencyUnavailable, "provisioning vector namespace", err)
	}

	if err := s.meta.CreateCollection(ctx, col); err != nil {
		// Compensate: the namespace must not outlive a failed create.
		if derr := s.vectors.DeleteNamespace(ctx, col.Namespace); derr != nil {
			s.logger.Error("orphan namespace after failed create",
				zap.String("namespace", col.Namespace),
				zap.Error(derr),
			)
		}
		if errors.Is(err, metastore.ErrDuplicate) {
			return nil, core.WrapError(core.CodeConflict, "collection name already in use", err)
		}
		return nil, core.WrapError(core.CodeInternal, "creating collection", err)
	}

	s.logger.Info("collection created",
		zap.String("collection_id", col.ID),
		zap.String("owner_id", col.OwnerID),
		zap.String("namespace", col.Namespace),
	)
	return col, nil
}

// Get returns a collection the requester may see.
func (s *Service) Get(ctx context.Context, requesterID, collectionID string) (*metastore.Collection, error) {
	col, err := s.meta.GetCollection(ctx, collectionID)
	if err != nil {
		return nil, core.WrapError(core.CodeNotFound, "collection not found", err)
	}
	if col.Status == metastore.CollectionDeleted {
		return nil, core.NewError(core.CodeNotFound, "collection not found")
	}
	if col.Privacy != metastore.PrivacyPublic && col.OwnerID != requesterID {
		// Existence of private collections is not disclosed.
		return nil, core.NewError(core.CodeNotFound, "collection not found")
	}
	return col, nil
}

// List returns collections visible to the requester.
func (s *Service) List(ctx context.Context, opts metastore.ListCollectionsOptions) ([]*metastore.Collection, error) {
	out, err := s.meta.ListCollections(ctx, opts)
	if err != nil {
		return nil, core.WrapError(core.CodeInternal, "listing collections", err)
	}
	return out, nil
}

// Rename changes the display name; only the owner may rename.
func (s *Service) Rename(ctx context.Context, requesterID, collectionID, name string) error {
	col, err := s.requireOwner(ctx, requesterID, collectionID)
	if err != nil {
		return err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return core.NewError(core.CodeInvalidInput, "collection name is required")
	}
	if err := s.meta.RenameCollection(ctx, col.ID, name); err != nil {
		if errors.Is(err, metastore.ErrDuplicate) {
			return core.WrapError(core.CodeConflict, "collection name already in use", err)
		}
		return core.WrapError(core.CodeInternal, "renaming collection", err)
	}
	return nil
}

// UpdatePolicy changes the chunking policy and flags the collection for
// reprocessing. Existing documents keep serving searches under the old
// policy until a reprocess pass runs.
func (s *Service) UpdatePolicy(ctx context.Context, requesterID, collectionID string, policy metastore.ChunkPolicy) error {
	col, err := s.requireOwner(ctx, requesterID, collectionID)
	if err != nil {
		return err
	}
	if policy.ChunkSize <= 0 || policy.Overlap < 0 || policy.Overlap >= policy.ChunkSize {
		return core.NewError(core.CodeInvalidInput, "invalid chunking policy")
	}
	if policy.EmbeddingModel == "" {
		policy.EmbeddingModel = col.Policy.EmbeddingModel
	}
	if err := s.meta.UpdateCollectionPolicy(ctx, col.ID, policy); err != nil {
		return core.WrapError(core.CodeInternal, "updating policy", err)
	}
	return nil
}

// Delete tombstones the collection immediately, then purges vectors and
// document rows in the background. Reads see the tombstone at once; the
// namespace disappears asynchronously.
func (s *Service) Delete(ctx context.Context, requesterID, collectionID string) error {
	col, err := s.requireOwner(ctx, requesterID, collectionID)
	if err != nil {
		return err
	}

	if err := s.meta.SetCollectionStatus(ctx, col.ID, metastore.CollectionDeleted); err != nil {
		return core.WrapError(core.CodeInternal, "tombstoning collection", err)
	}

	_, err = s.sched.Submit(scheduler.Job{
		Kind:       "purge_collection",
		Key:        "purge:" + col.ID,
		MaxRetries: 3,
		Run: func(jobCtx context.Context) error {
			return s.purge(jobCtx, col.ID, col.Namespace)
		},
	})
	if err != nil {
		return err
	}

	s.logger.Info("collection deleted",
		zap.String("collection_id", col.ID),
		zap.String("owner_id", col.OwnerID),
	)
	return nil
}

// purge removes the namespace and every document row of a tombstoned
// collection. The tombstone row itself stays for audit.
func (s *Service) purge(ctx context.Context, collectionID, namespace string) error {
	exists, err := s.vectors.NamespaceExists(ctx, namespace)
	if err != nil {
		return core.WrapError(core.CodeDependencyUnavailable, "checking namespace", err)
	}
	if exists {
		if err := s.vectors.DeleteNamespace(ctx, namespace); err != nil {
			return core.WrapError(core.CodeDependencyUnavailable, "deleting namespace", err)
		}
	}

	docs, err := s.meta.ListDocuments(ctx, collectionID)
	if err != nil {
		return err
	}
	for _, d := range docs {
		if err := s.meta.DeleteDocument(ctx, d.ID); err != nil {
			return err
		}
	}
	return nil
}

// SweepTombstones retries the purge for tombstoned collections whose
// vector namespace is still around, catching deletes whose background
// job exhausted its retries. Run from a cron janitor.
func (s *Service) SweepTombstones(ctx context.Context) error {
	cols, err := s.meta.DeletedCollections(ctx)
	if err != nil {
		return err
	}
	for _, col := range cols {
		exists, err := s.vectors.NamespaceExists(ctx, col.Namespace)
		if err != nil {
			return core.WrapError(core.CodeDependencyUnavailable, "checking namespace", err)
		}
		if !exists {
			continue
		}
		s.logger.Warn("retrying collection purge",
			zap.String("collection_id", col.ID),
			zap.String("namespace", col.Namespace),
		)
		if err := s.purge(ctx, col.ID, col.Namespace); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) requireOwner(ctx context.Context, requesterID, collectionID string) (*metastore.Collection, error) {
	col, err := s.meta.GetCollection(ctx, collectionID)
	if err != nil {
		return nil, core.WrapError(core.CodeNotFound, "collection not found", err)
	}
	if col.Status == metastore.CollectionDeleted {
		return nil, core.NewError(core.CodeNotFound, "collection not found")
	}
	if col.OwnerID != requesterID {
		if col.Privacy == metastore.PrivacyPublic {
			return nil, core.NewError(core.CodeForbidden, "only the owner may modify a collection")
		}
		return nil, core.NewError(core.CodeNotFound, "collection not found")
	}
	return col, nil
}
