package identity

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIDIsValidUUID(t *testing.T) {
	id := NewID()
	_, err := uuid.Parse(id)
	require.NoError(t, err)
}

func TestSequentialAllocator(t *testing.T) {
	a := NewSequentialAllocator("deadbeef")

	first := a.NewID()
	second := a.NewID()

	assert.NotEqual(t, first, second)
	assert.Equal(t, "deadbeef-0000-4000-8000-000000000001", first)
	assert.Equal(t, "deadbeef-0000-4000-8000-000000000002", second)

	_, err := uuid.Parse(first)
	assert.NoError(t, err)
}

func TestSetAllocatorRestore(t *testing.T) {
	restore := SetAllocator(NewSequentialAllocator("cafe0000"))
	assert.Equal(t, "cafe0000-0000-4000-8000-000000000001", NewID())
	restore()

	_, err := uuid.Parse(NewID())
	assert.NoError(t, err)
}

func TestMockIDsAreValid(t *testing.T) {
	for _, id := range []string{MockUserID, MockCollectionID, MockSessionID} {
		_, err := uuid.Parse(id)
		assert.NoError(t, err)
	}
}
