package vectorstore

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OperationDuration tracks vector store operation latency.
	// Labels: operation (upsert, query, delete_by_document, ...)
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ragmodulo",
			Subsystem: "vectorstore",
			Name:      "operation_duration_seconds",
			Help:      "Duration of vector store operations in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// OperationsTotal counts vector store operations.
	// Labels: operation, result (success, error)
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragmodulo",
			Subsystem: "vectorstore",
			Name:      "operations_total",
			Help:      "Total number of vector store operations",
		},
		[]string{"operation", "result"},
	)

	// PointsUpserted counts points written to the index.
	PointsUpserted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ragmodulo",
			Subsystem: "vectorstore",
			Name:      "points_upserted_total",
			Help:      "Total number of vector points upserted",
		},
	)
)

// InstrumentedStore wraps a Store with Prometheus instrumentation.
type InstrumentedStore struct {
	inner Store
}

var _ Store = (*InstrumentedStore)(nil)

// NewInstrumentedStore wraps store with operation metrics.
func NewInstrumentedStore(store Store) *InstrumentedStore {
	return &InstrumentedStore{inner: store}
}

func observe(op string, start time.Time, err error) {
	OperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	result := "success"
	if err != nil {
		result = "error"
	}
	OperationsTotal.WithLabelValues(op, result).Inc()
}

func (s *InstrumentedStore) CreateNamespace(ctx context.Context, namespace string) error {
	start := time.Now()
	err := s.inner.CreateNamespace(ctx, namespace)
	observe("create_namespace", start, err)
	return err
}

func (s *InstrumentedStore) DeleteNamespace(ctx context.Context, namespace string) error {
	start := time.Now()
	err := s.inner.DeleteNamespace(ctx, namespace)
	observe("delete_namespace", start, err)
	return err
}

func (s *InstrumentedStore) NamespaceExists(ctx context.Context, namespace string) (bool, error) {
	start := time.Now()
	ok, err := s.inner.NamespaceExists(ctx, namespace)
	observe("namespace_exists", start, err)
	return ok, err
}

func (s *InstrumentedStore) Upsert(ctx context.Context, namespace string, points []Point) error {
	start := time.Now()
	err := s.inner.Upsert(ctx, namespace, points)
	observe("upsert", start, err)
	if err == nil {
		PointsUpserted.Add(float64(len(points)))
	}
	return err
}

func (s *InstrumentedStore) DeleteByDocument(ctx context.Context, namespace, documentID string) error {
	start := time.Now()
	err := s.inner.DeleteByDocument(ctx, namespace, documentID)
	observe("delete_by_document", start, err)
	return err
}

func (s *InstrumentedStore) Query(ctx context.Context, namespace string, vector []float32, k int, filter Filter) ([]Match, error) {
	start := time.Now()
	matches, err := s.inner.Query(ctx, namespace, vector, k, filter)
	observe("query", start, err)
	return matches, err
}

func (s *InstrumentedStore) ListDocumentIDs(ctx context.Context, namespace string) (map[string]bool, error) {
	start := time.Now()
	ids, err := s.inner.ListDocumentIDs(ctx, namespace)
	observe("list_document_ids", start, err)
	return ids, err
}

func (s *InstrumentedStore) Count(ctx context.Context, namespace string) (int, error) {
	start := time.Now()
	n, err := s.inner.Count(ctx, namespace)
	observe("count", start, err)
	return n, err
}

func (s *InstrumentedStore) Close() error {
	return s.inner.Close()
}
