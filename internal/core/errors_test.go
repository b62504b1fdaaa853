package core

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Code
	}{
		{"nil", nil, CodeOK},
		{"plain error", errors.New("boom"), CodeInternal},
		{"tagged error", NewError(CodeNotFound, "collection missing"), CodeNotFound},
		{"wrapped tagged error", fmt.Errorf("outer: %w", NewError(CodeConflict, "duplicate name")), CodeConflict},
		{"context cancelled", context.Canceled, CodeCancelled},
		{"deadline exceeded", fmt.Errorf("stage: %w", context.DeadlineExceeded), CodeDeadlineExceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CodeOf(tt.err))
		})
	}
}

func TestErrorIs(t *testing.T) {
	err := WrapError(CodeDependencyUnavailable, "vector store down", errors.New("dial tcp"))
	assert.True(t, errors.Is(err, NewError(CodeDependencyUnavailable, "")))
	assert.False(t, errors.Is(err, NewError(CodeNotFound, "")))
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(NewError(CodeDependencyUnavailable, "provider timeout")))
	assert.True(t, Retryable(NewError(CodeRateLimited, "bucket empty")))
	assert.False(t, Retryable(NewError(CodeInvalidInput, "bad top_k")))
	assert.False(t, Retryable(nil))
}
