// Package blobstore provides content-addressed storage for raw uploads.
//
// Blobs are keyed by the hex SHA-256 of their content, so identical uploads
// share one blob and the address doubles as an integrity check.
package blobstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
)

// Sentinel errors for blob operations.
var (
	// ErrNotFound is returned when a blob does not exist.
	ErrNotFound = errors.New("blob not found")

	// ErrInvalidAddress is returned for malformed content addresses.
	ErrInvalidAddress = errors.New("invalid content address")
)

var addressPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// Store is the interface for content-addressed blob storage.
type Store interface {
	// Put writes the content and returns its address and size.
	// Writing content that already exists is a no-op returning the
	// existing address.
	Put(ctx context.Context, r io.Reader) (addr string, size int64, err error)

	// Get opens the blob at the given address for reading.
	Get(ctx context.Context, addr string) (io.ReadCloser, error)

	// Exists reports whether a blob is present.
	Exists(ctx context.Context, addr string) (bool, error)

	// Delete removes a blob. Deleting a missing blob is a no-op.
	Delete(ctx context.Context, addr string) error
}

// FSStore stores blobs on the local filesystem with two-level fanout
// directories (ab/cd/abcd...).
type FSStore struct {
	root string
}

// NewFSStore creates a filesystem blob store rooted at dir.
func NewFSStore(dir string) (*FSStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("blobstore root directory required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating blobstore root %s: %w", dir, err)
	}
	return &FSStore{root: dir}, nil
}

// Address returns the content address for a byte slice.
func Address(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

func (s *FSStore) path(addr string) string {
	return filepath.Join(s.root, addr[:2], addr[2:4], addr)
}

// Put writes the content and returns its address and size.
func (s *FSStore) Put(ctx context.Context, r io.Reader) (string, int64, error) {
	if err := ctx.Err(); err != nil {
		return "", 0, err
	}

	// Hash while spooling to a temp file so large uploads are not held
	// in memory.
	tmp, err := os.CreateTemp(s.root, "upload-*")
	if err != nil {
		return "", 0, fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	hasher := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, hasher), r)
	if err != nil {
		tmp.Close()
		return "", 0, fmt.Errorf("spooling upload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", 0, fmt.Errorf("closing temp file: %w", err)
	}

	addr := hex.EncodeToString(hasher.Sum(nil))
	dest := s.path(addr)

	if _, err := os.Stat(dest); err == nil {
		return addr, size, nil
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", 0, fmt.Errorf("creating fanout dir: %w", err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return "", 0, fmt.Errorf("committing blob %s: %w", addr, err)
	}

	return addr, size, nil
}

// Get opens the blob at the given address.
func (s *FSStore) Get(ctx context.Context, addr string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !addressPattern.MatchString(addr) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAddress, addr)
	}
	f, err := os.Open(s.path(addr))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, addr)
		}
		return nil, fmt.Errorf("opening blob %s: %w", addr, err)
	}
	return f, nil
}

// Exists reports whether a blob is present.
func (s *FSStore) Exists(ctx context.Context, addr string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if !addressPattern.MatchString(addr) {
		return false, fmt.Errorf("%w: %q", ErrInvalidAddress, addr)
	}
	_, err := os.Stat(s.path(addr))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// Delete removes a blob.
func (s *FSStore) Delete(ctx context.Context, addr string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !addressPattern.MatchString(addr) {
		return fmt.Errorf("%w: %q", ErrInvalidAddress, addr)
	}
	if err := os.Remove(s.path(addr)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting blob %s: %w", addr, err)
	}
	return nil
}

// Ensure FSStore implements Store.
var _ Store = (*FSStore)(nil)
