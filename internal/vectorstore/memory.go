package vectorstore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// MemoryStore is a map-backed Store used in tests and by components that
// need a cheap scratch index. Scores are cosine similarity.
type MemoryStore struct {
	mu         sync.RWMutex
	namespaces map[string]map[string]Point // namespace -> pointID -> point
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{namespaces: make(map[string]map[string]Point)}
}

func (s *MemoryStore) CreateNamespace(ctx context.Context, namespace string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.namespaces[namespace]; ok {
		return fmt.Errorf("namespace %s already exists", namespace)
	}
	s.namespaces[namespace] = make(map[string]Point)
	return nil
}

func (s *MemoryStore) DeleteNamespace(ctx context.Context, namespace string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.namespaces, namespace)
	return nil
}

func (s *MemoryStore) NamespaceExists(ctx context.Context, namespace string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.namespaces[namespace]
	return ok, nil
}

func (s *MemoryStore) Upsert(ctx context.Context, namespace string, points []Point) error {
	if len(points) == 0 {
		return ErrEmptyBatch
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ns, ok := s.namespaces[namespace]
	if !ok {
		return fmt.Errorf("namespace %s: %w", namespace, ErrNamespaceNotFound)
	}
	for _, p := range points {
		ns[p.Key.PointID(namespace)] = p
	}
	return nil
}

func (s *MemoryStore) DeleteByDocument(ctx context.Context, namespace, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ns, ok := s.namespaces[namespace]
	if !ok {
		return fmt.Errorf("namespace %s: %w", namespace, ErrNamespaceNotFound)
	}
	for id, p := range ns {
		if p.Key.DocumentID == documentID {
			delete(ns, id)
		}
	}
	return nil
}

func (s *MemoryStore) Query(ctx context.Context, namespace string, vector []float32, k int, filter Filter) ([]Match, error) {
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	ns, ok := s.namespaces[namespace]
	if !ok {
		return nil, fmt.Errorf("namespace %s: %w", namespace, ErrNamespaceNotFound)
	}

	matches := make([]Match, 0, len(ns))
	for _, p := range ns {
		if !filterMatches(filter, p) {
			continue
		}
		matches = append(matches, Match{
			Key:      p.Key,
			Score:    CosineSimilarity(vector, p.Vector),
			Text:     p.Text,
			Metadata: pointMetadata(p),
		})
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

func filterMatches(filter Filter, p Point) bool {
	if len(filter) == 0 {
		return true
	}
	md := pointMetadata(p)
	for k, v := range filter {
		if md[k] != v {
			return false
		}
	}
	return true
}

func (s *MemoryStore) ListDocumentIDs(ctx context.Context, namespace string) (map[string]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ns, ok := s.namespaces[namespace]
	if !ok {
		return nil, fmt.Errorf("namespace %s: %w", namespace, ErrNamespaceNotFound)
	}
	out := make(map[string]bool)
	for _, p := range ns {
		out[p.Key.DocumentID] = true
	}
	return out, nil
}

func (s *MemoryStore) Count(ctx context.Context, namespace string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ns, ok := s.namespaces[namespace]
	if !ok {
		return 0, fmt.Errorf("namespace %s: %w", namespace, ErrNamespaceNotFound)
	}
	return len(ns), nil
}

// ListNamespaces enumerates namespaces, sorted. Test helper; not part of
// the Store contract.
func (s *MemoryStore) ListNamespaces(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.namespaces))
	for ns := range s.namespaces {
		out = append(out, ns)
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }

// CosineSimilarity returns the cosine of the angle between a and b, or 0
// when either vector is zero or the dimensions differ.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
