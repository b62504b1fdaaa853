package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults are valid", func(c *Config) {}, false},
		{"console format", func(c *Config) { c.Format = "console" }, false},
		{"bad format", func(c *Config) { c.Format = "xml" }, true},
		{"bad level", func(c *Config) { c.Level = "loud" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNew(t *testing.T) {
	logger, err := New(DefaultConfig())
	require.NoError(t, err)
	require.NotNil(t, logger)
}

func TestContextCarriage(t *testing.T) {
	logger := zap.NewNop()
	ctx := WithContext(context.Background(), logger)
	ctx = WithCorrelationID(ctx, "req-123")

	assert.Equal(t, "req-123", CorrelationID(ctx))
	assert.NotNil(t, FromContext(ctx))

	// Missing logger falls back to no-op instead of nil.
	assert.NotNil(t, FromContext(context.Background()))
}

func TestRedactingCore(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	logger := zap.New(newRedactingCore(core, []string{"api_key"}))

	logger.Info("provider call",
		zap.String("api_key", "sk-very-secret"),
		zap.String("model", "bge-small"),
	)

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	fields := entry.ContextMap()
	assert.Equal(t, redactedValue, fields["api_key"])
	assert.Equal(t, "bge-small", fields["model"])
}
