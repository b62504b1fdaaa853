package vectorstore

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var qdrantTracer = otel.Tracer("ragmodulo.vectorstore.qdrant")

// QdrantConfig configures the Qdrant gRPC backend.
type QdrantConfig struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	VectorSize int
}

// QdrantStore implements Store against a Qdrant server over gRPC.
type QdrantStore struct {
	client *qdrant.Client
	config QdrantConfig
	logger *zap.Logger
}

var _ Store = (*QdrantStore)(nil)

// NewQdrantStore connects to Qdrant and verifies the connection with a
// health check.
func NewQdrantStore(config QdrantConfig, logger *zap.Logger) (*QdrantStore, error) {
	if config.VectorSize <= 0 {
		return nil, fmt.Errorf("qdrant: vector size must be positive")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   config.Host,
		Port:   config.Port,
		APIKey: config.APIKey,
		UseTLS: config.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to qdrant: %w", err)
	}

	s := &QdrantStore{client: client, config: config, logger: logger}
	return s, nil
}

// HealthCheck pings the server.
func (s *QdrantStore) HealthCheck(ctx context.Context) error {
	if _, err := s.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("qdrant health check: %w", err)
	}
	return nil
}

func (s *QdrantStore) CreateNamespace(ctx context.Context, namespace string) error {
	err := s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: namespace,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(s.config.VectorSize),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("creating namespace %s: %w", namespace, err)
	}
	s.logger.Debug("created vector namespace", zap.String("namespace", namespace))
	return nil
}

func (s *QdrantStore) DeleteNamespace(ctx context.Context, namespace string) error {
	if err := s.client.DeleteCollection(ctx, namespace); err != nil {
		return fmt.Errorf("deleting namespace %s: %w", namespace, err)
	}
	return nil
}

func (s *QdrantStore) NamespaceExists(ctx context.Context, namespace string) (bool, error) {
	info, err := s.client.GetCollectionInfo(ctx, namespace)
	if err != nil {
		if st, ok := status.FromError(err); ok && st.Code() == grpccodes.NotFound {
			return false, nil
		}
		return false, fmt.Errorf("checking namespace %s: %w", namespace, err)
	}
	return info != nil, nil
}

func (s *QdrantStore) Upsert(ctx context.Context, namespace string, points []Point) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.Upsert")
	defer span.End()
	span.SetAttributes(
		attribute.String("namespace", namespace),
		attribute.Int("point_count", len(points)),
	)

	if len(points) == 0 {
		return ErrEmptyBatch
	}

	structs := make([]*qdrant.PointStruct, len(points))
	for i, p := range points {
		if len(p.Vector) != s.config.VectorSize {
			return fmt.Errorf("point %s#%d: vector dimension %d, want %d",
				p.Key.DocumentID, p.Key.Ordinal, len(p.Vector), s.config.VectorSize)
		}

		payload := make(map[string]*qdrant.Value, len(p.Metadata)+3)
		payload["content"] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: p.Text}}
		for k, v := range pointMetadata(p) {
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: v}}
		}

		structs[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(p.Key.PointID(namespace)),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: payload,
		}
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: namespace,
		Points:         structs,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("upserting %d points into %s: %w", len(points), namespace, err)
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

func (s *QdrantStore) DeleteByDocument(ctx context.Context, namespace, documentID string) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.DeleteByDocument")
	defer span.End()
	span.SetAttributes(
		attribute.String("namespace", namespace),
		attribute.String("document_id", documentID),
	)

	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: namespace,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
				Filter: &qdrant.Filter{
					Must: []*qdrant.Condition{
						{
							ConditionOneOf: &qdrant.Condition_Field{
								Field: &qdrant.FieldCondition{
									Key: MetaDocumentID,
									Match: &qdrant.Match{
										MatchValue: &qdrant.Match_Keyword{Keyword: documentID},
									},
								},
							},
						},
					},
				},
			},
		},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("deleting points for document %s: %w", documentID, err)
	}
	span.SetStatus(codes.Ok, "success")
	return nil
}

func (s *QdrantStore) Query(ctx context.Context, namespace string, vector []float32, k int, filter Filter) ([]Match, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.Query")
	defer span.End()
	span.SetAttributes(
		attribute.String("namespace", namespace),
		attribute.Int("k", k),
	)

	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}

	var qf *qdrant.Filter
	if len(filter) > 0 {
		conditions := make([]*qdrant.Condition, 0, len(filter))
		for key, value := range filter {
			conditions = append(conditions, &qdrant.Condition{
				ConditionOneOf: &qdrant.Condition_Field{
					Field: &qdrant.FieldCondition{
						Key: key,
						Match: &qdrant.Match{
							MatchValue: &qdrant.Match_Keyword{Keyword: value},
						},
					},
				},
			})
		}
		qf = &qdrant.Filter{Must: conditions}
	}

	results, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: namespace,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(k)),
		WithPayload:    qdrant.NewWithPayload(true),
		Filter:         qf,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying namespace %s: %w", namespace, err)
	}

	matches := make([]Match, 0, len(results))
	for _, r := range results {
		md := make(map[string]string, len(r.Payload))
		var text string
		for k, v := range r.Payload {
			sv, ok := v.Kind.(*qdrant.Value_StringValue)
			if !ok {
				continue
			}
			if k == "content" {
				text = sv.StringValue
				continue
			}
			md[k] = sv.StringValue
		}
		matches = append(matches, Match{
			Key:      keyFromMetadata(md),
			Score:    r.Score,
			Text:     text,
			Metadata: md,
		})
	}

	span.SetAttributes(attribute.Int("result_count", len(matches)))
	span.SetStatus(codes.Ok, "success")
	return matches, nil
}

// scrollPageSize bounds one scroll request; namespaces larger than this
// paginate by last-seen point ID.
const scrollPageSize = 1000

func (s *QdrantStore) ListDocumentIDs(ctx context.Context, namespace string) (map[string]bool, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.ListDocumentIDs")
	defer span.End()
	span.SetAttributes(attribute.String("namespace", namespace))

	out := make(map[string]bool)
	seen := make(map[string]bool)
	var offset *qdrant.PointId

	for {
		points, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: namespace,
			Limit:          qdrant.PtrOf(uint32(scrollPageSize)),
			Offset:         offset,
			WithPayload:    qdrant.NewWithPayloadInclude(MetaDocumentID),
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("scrolling namespace %s: %w", namespace, err)
		}

		progressed := false
		for _, p := range points {
			id := p.Id.GetUuid()
			if seen[id] {
				continue
			}
			seen[id] = true
			progressed = true
			if v, ok := p.Payload[MetaDocumentID]; ok {
				if sv, ok := v.Kind.(*qdrant.Value_StringValue); ok {
					out[sv.StringValue] = true
				}
			}
			offset = p.Id
		}
		if len(points) < scrollPageSize || !progressed {
			break
		}
	}

	span.SetAttributes(attribute.Int("document_count", len(out)))
	span.SetStatus(codes.Ok, "success")
	return out, nil
}

func (s *QdrantStore) Count(ctx context.Context, namespace string) (int, error) {
	info, err := s.client.GetCollectionInfo(ctx, namespace)
	if err != nil {
		if st, ok := status.FromError(err); ok && st.Code() == grpccodes.NotFound {
			return 0, fmt.Errorf("namespace %s: %w", namespace, ErrNamespaceNotFound)
		}
		return 0, fmt.Errorf("counting namespace %s: %w", namespace, err)
	}
	return int(info.GetPointsCount()), nil
}

func (s *QdrantStore) Close() error {
	return s.client.Close()
}
