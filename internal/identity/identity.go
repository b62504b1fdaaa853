// Package identity is the single source of entity identifiers.
//
// All entity IDs in rag-modulo are minted here; no other package is allowed
// to generate IDs or hardcode "mock" values. The allocator is swappable for
// tests so that fixtures get stable, readable identifiers.
package identity

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Reserved identifiers used by development fixtures and the mock user.
const (
	MockUserID       = "00000000-0000-4000-8000-000000000001"
	MockCollectionID = "00000000-0000-4000-8000-000000000002"
	MockSessionID    = "00000000-0000-4000-8000-000000000003"
)

// Allocator mints opaque 128-bit identifiers.
type Allocator interface {
	NewID() string
}

// randomAllocator produces UUIDv4 identifiers.
type randomAllocator struct{}

func (randomAllocator) NewID() string { return uuid.New().String() }

// SequentialAllocator produces deterministic identifiers for tests.
// IDs are valid UUID-shaped strings with an incrementing suffix.
type SequentialAllocator struct {
	prefix string
	n      atomic.Uint64
}

// NewSequentialAllocator creates a deterministic allocator. The prefix
// namespaces IDs so that concurrent test fixtures do not collide.
func NewSequentialAllocator(prefix string) *SequentialAllocator {
	if prefix == "" {
		prefix = "00000000"
	}
	return &SequentialAllocator{prefix: prefix}
}

// NewID returns the next deterministic identifier.
func (a *SequentialAllocator) NewID() string {
	n := a.n.Add(1)
	return fmt.Sprintf("%.8s-0000-4000-8000-%012d", a.prefix, n)
}

var (
	mu        sync.RWMutex
	allocator Allocator = randomAllocator{}
)

// NewID mints a new identifier using the process-wide allocator.
func NewID() string {
	mu.RLock()
	defer mu.RUnlock()
	return allocator.NewID()
}

// SetAllocator replaces the process-wide allocator. Intended for tests;
// returns a restore function.
func SetAllocator(a Allocator) func() {
	mu.Lock()
	prev := allocator
	allocator = a
	mu.Unlock()
	return func() {
		mu.Lock()
		allocator = prev
		mu.Unlock()
	}
}
