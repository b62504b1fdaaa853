// Package vectorstore provides the vector index behind document search.
//
// Each collection owns one namespace in the backing store; the namespace
// name is derived from the collection ID, so it can always be recomputed
// and never needs a lookup. Two backends are supported: chromem-go for
// embedded zero-dependency deployments and Qdrant over gRPC for server
// deployments.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var (
	// ErrNamespaceNotFound is returned when the target namespace does not
	// exist in the backing store.
	ErrNamespaceNotFound = errors.New("vectorstore: namespace not found")

	// ErrNotSupported is returned by backends that cannot serve an
	// operation (chromem cannot enumerate point IDs).
	ErrNotSupported = errors.New("vectorstore: operation not supported by backend")

	// ErrEmptyBatch is returned for upserts with no points.
	ErrEmptyBatch = errors.New("vectorstore: empty point batch")
)

// Namespace derives the vector namespace for a collection ID. The mapping
// is pure: same ID in, same namespace out, no state consulted.
func Namespace(collectionID string) string {
	return "c_" + strings.ReplaceAll(collectionID, "-", "")
}

// PointKey identifies a vector point by its document and chunk ordinal.
// Re-upserting the same key replaces the point, which is what makes
// ingestion retries idempotent.
type PointKey struct {
	DocumentID string
	Ordinal    int
}

// PointID returns the deterministic UUID the backends store the point
// under. Qdrant requires UUID point IDs; deriving them from the key keeps
// replacement semantics without a lookup table.
func (k PointKey) PointID(namespace string) string {
	seed := fmt.Sprintf("%s/%s#%d", namespace, k.DocumentID, k.Ordinal)
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(seed)).String()
}

// Point is one embedded chunk ready for indexing.
type Point struct {
	Key      PointKey
	Vector   []float32
	Text     string
	Metadata map[string]string
}

// Match is one query hit.
type Match struct {
	Key      PointKey
	Score    float32
	Text     string
	Metadata map[string]string
}

// Filter restricts a query to points whose metadata contains every listed
// key/value pair. A nil filter matches everything.
type Filter map[string]string

// Store is the vector index contract shared by all backends.
type Store interface {
	CreateNamespace(ctx context.Context, namespace string) error
	DeleteNamespace(ctx context.Context, namespace string) error
	NamespaceExists(ctx context.Context, namespace string) (bool, error)

	// Upsert replaces-or-inserts the batch. All points must carry a
	// vector of the configured dimension.
	Upsert(ctx context.Context, namespace string, points []Point) error

	// DeleteByDocument removes every point belonging to the document.
	DeleteByDocument(ctx context.Context, namespace, documentID string) error

	// Query returns the k nearest points to the vector, optionally
	// restricted by a metadata filter, best score first.
	Query(ctx context.Context, namespace string, vector []float32, k int, filter Filter) ([]Match, error)

	// ListDocumentIDs enumerates the distinct document IDs present in the
	// namespace. Backends without point enumeration return ErrNotSupported;
	// callers degrade gracefully.
	ListDocumentIDs(ctx context.Context, namespace string) (map[string]bool, error)

	// Count returns the number of points in the namespace.
	Count(ctx context.Context, namespace string) (int, error)

	Close() error
}

// Metadata keys the ingestion pipeline writes on every point. Query
// filters and the orphan janitor rely on these names.
const (
	MetaDocumentID = "document_id"
	MetaOrdinal    = "ordinal"
	MetaPage       = "page"
	MetaTitle      = "title"
	MetaFilename   = "filename"
)

func pointMetadata(p Point) map[string]string {
	md := make(map[string]string, len(p.Metadata)+2)
	for k, v := range p.Metadata {
		md[k] = v
	}
	md[MetaDocumentID] = p.Key.DocumentID
	md[MetaOrdinal] = fmt.Sprintf("%d", p.Key.Ordinal)
	return md
}

func keyFromMetadata(md map[string]string) PointKey {
	var k PointKey
	k.DocumentID = md[MetaDocumentID]
	fmt.Sscanf(md[MetaOrdinal], "%d", &k.Ordinal)
	return k
}
