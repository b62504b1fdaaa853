package blobstore

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *FSStore {
	t.Helper()
	s, err := NewFSStore(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestPutGetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	content := []byte("annual report 2024: workforce composition")

	addr, size, err := s.Put(ctx, bytes.NewReader(content))
	require.NoError(t, err)
	assert.Equal(t, Address(content), addr)
	assert.Equal(t, int64(len(content)), size)

	rc, err := s.Get(ctx, addr)
	require.NoError(t, err)
	defer rc.Close()

	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestPutIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	content := []byte("same bytes twice")

	addr1, _, err := s.Put(ctx, bytes.NewReader(content))
	require.NoError(t, err)
	addr2, _, err := s.Put(ctx, bytes.NewReader(content))
	require.NoError(t, err)

	assert.Equal(t, addr1, addr2)
}

func TestGetMissing(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(context.Background(), Address([]byte("never stored")))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInvalidAddressRejected(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Get(ctx, "../../etc/passwd")
	assert.ErrorIs(t, err, ErrInvalidAddress)

	_, err = s.Exists(ctx, "short")
	assert.ErrorIs(t, err, ErrInvalidAddress)
}

func TestDeleteIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	addr, _, err := s.Put(ctx, bytes.NewReader([]byte("to delete")))
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, addr))
	require.NoError(t, s.Delete(ctx, addr))

	ok, err := s.Exists(ctx, addr)
	require.NoError(t, err)
	assert.False(t, ok)
}
