package vectorstore

import (
	"context"
	"fmt"
	"os"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var chromemTracer = otel.Tracer("ragmodulo.vectorstore.chromem")

// ChromemConfig configures the embedded chromem-go backend.
type ChromemConfig struct {
	// Path is the directory for persistent gob storage.
	Path string

	// Compress enables gzip compression for stored data.
	Compress bool

	// VectorSize is the expected embedding dimension.
	VectorSize int
}

// ChromemStore implements Store on chromem-go, an embeddable pure-Go
// vector database. All vectors are precomputed by the caller; the text
// embedding hook chromem offers is never exercised.
type ChromemStore struct {
	db     *chromem.DB
	config ChromemConfig
	logger *zap.Logger
}

var _ Store = (*ChromemStore)(nil)

// NewChromemStore opens (or creates) the persistent database at the
// configured path.
func NewChromemStore(config ChromemConfig, logger *zap.Logger) (*ChromemStore, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("chromem: path is required")
	}
	if config.VectorSize <= 0 {
		return nil, fmt.Errorf("chromem: vector size must be positive")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := os.MkdirAll(config.Path, 0o755); err != nil {
		return nil, fmt.Errorf("creating directory %s: %w", config.Path, err)
	}

	db, err := chromem.NewPersistentDB(config.Path, config.Compress)
	if err != nil {
		return nil, fmt.Errorf("opening chromem DB: %w", err)
	}

	return &ChromemStore{db: db, config: config, logger: logger}, nil
}

// embeddingFunc satisfies chromem's collection constructor. Vectors are
// always supplied explicitly, so reaching this is a programming error.
func rejectTextEmbedding(context.Context, string) ([]float32, error) {
	return nil, fmt.Errorf("chromem: text embedding is not wired; supply vectors explicitly")
}

func (s *ChromemStore) CreateNamespace(ctx context.Context, namespace string) error {
	_, err := s.db.CreateCollection(namespace, nil, rejectTextEmbedding)
	if err != nil {
		return fmt.Errorf("creating namespace %s: %w", namespace, err)
	}
	s.logger.Debug("created vector namespace", zap.String("namespace", namespace))
	return nil
}

func (s *ChromemStore) DeleteNamespace(ctx context.Context, namespace string) error {
	if err := s.db.DeleteCollection(namespace); err != nil {
		return fmt.Errorf("deleting namespace %s: %w", namespace, err)
	}
	s.logger.Debug("deleted vector namespace", zap.String("namespace", namespace))
	return nil
}

func (s *ChromemStore) NamespaceExists(ctx context.Context, namespace string) (bool, error) {
	return s.db.GetCollection(namespace, rejectTextEmbedding) != nil, nil
}

func (s *ChromemStore) collection(namespace string) (*chromem.Collection, error) {
	c := s.db.GetCollection(namespace, rejectTextEmbedding)
	if c == nil {
		return nil, fmt.Errorf("namespace %s: %w", namespace, ErrNamespaceNotFound)
	}
	return c, nil
}

func (s *ChromemStore) Upsert(ctx context.Context, namespace string, points []Point) error {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Upsert")
	defer span.End()
	span.SetAttributes(
		attribute.String("namespace", namespace),
		attribute.Int("point_count", len(points)),
	)

	if len(points) == 0 {
		return ErrEmptyBatch
	}

	collection, err := s.collection(namespace)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	docs := make([]chromem.Document, len(points))
	for i, p := range points {
		if len(p.Vector) != s.config.VectorSize {
			return fmt.Errorf("point %s#%d: vector dimension %d, want %d",
				p.Key.DocumentID, p.Key.Ordinal, len(p.Vector), s.config.VectorSize)
		}
		docs[i] = chromem.Document{
			ID:        p.Key.PointID(namespace),
			Content:   p.Text,
			Metadata:  pointMetadata(p),
			Embedding: p.Vector,
		}
	}

	// Concurrency 1: embeddings are precomputed, nothing to parallelize.
	if err := collection.AddDocuments(ctx, docs, 1); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("upserting %d points into %s: %w", len(points), namespace, err)
	}

	span.SetStatus(codes.Ok, "success")
	s.logger.Debug("upserted points",
		zap.String("namespace", namespace),
		zap.Int("count", len(points)),
	)
	return nil
}

func (s *ChromemStore) DeleteByDocument(ctx context.Context, namespace, documentID string) error {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.DeleteByDocument")
	defer span.End()
	span.SetAttributes(
		attribute.String("namespace", namespace),
		attribute.String("document_id", documentID),
	)

	collection, err := s.collection(namespace)
	if err != nil {
		span.RecordError(err)
		return err
	}

	where := map[string]string{MetaDocumentID: documentID}
	if err := collection.Delete(ctx, where, nil); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("deleting points for document %s: %w", documentID, err)
	}
	span.SetStatus(codes.Ok, "success")
	return nil
}

func (s *ChromemStore) Query(ctx context.Context, namespace string, vector []float32, k int, filter Filter) ([]Match, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Query")
	defer span.End()
	span.SetAttributes(
		attribute.String("namespace", namespace),
		attribute.Int("k", k),
	)

	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}

	collection, err := s.collection(namespace)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	// chromem requires nResults <= document count.
	docCount := collection.Count()
	if docCount == 0 {
		return []Match{}, nil
	}
	if k > docCount {
		k = docCount
	}

	results, err := collection.QueryEmbedding(ctx, vector, k, map[string]string(filter), nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying namespace %s: %w", namespace, err)
	}

	matches := make([]Match, len(results))
	for i, r := range results {
		matches[i] = Match{
			Key:      keyFromMetadata(r.Metadata),
			Score:    r.Similarity,
			Text:     r.Content,
			Metadata: r.Metadata,
		}
	}

	span.SetAttributes(attribute.Int("result_count", len(matches)))
	span.SetStatus(codes.Ok, "success")
	return matches, nil
}

// ListDocumentIDs is unsupported: chromem has no point enumeration API.
// The orphan janitor skips chromem-backed namespaces.
func (s *ChromemStore) ListDocumentIDs(ctx context.Context, namespace string) (map[string]bool, error) {
	return nil, ErrNotSupported
}

func (s *ChromemStore) Count(ctx context.Context, namespace string) (int, error) {
	collection, err := s.collection(namespace)
	if err != nil {
		return 0, err
	}
	return collection.Count(), nil
}

// Close is a no-op: chromem persists each write as it happens.
func (s *ChromemStore) Close() error { return nil }
