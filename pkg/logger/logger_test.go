package logger

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewRejectsBadLevel(t *testing.T) {
	_, _, err := New(Config{Level: "loud"})
	assert.Error(t, err)
}

func TestNewWritesRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "resttap.log")
	cfg := DefaultConfig()
	cfg.FilePath = path

	logger, closer, err := New(cfg)
	require.NoError(t, err)

	logger.Info("hello", zap.String("stream", "users"))
	require.NoError(t, logger.Sync())
	require.NoError(t, closer())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"message":"hello"`)
	assert.Contains(t, string(data), `"level":"info"`)
}

func TestFromContext(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	base := zap.New(core)

	ctx := ContextWithRunID(ContextWithStream(context.Background(), "orders"), "run-1")
	FromContext(ctx, base).Info("page fetched")

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "orders", fields["stream"])
	assert.Equal(t, "run-1", fields["run_id"])
}

func TestFromContextWithoutValues(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	FromContext(context.Background(), zap.New(core)).Info("bare")
	require.Len(t, logs.All(), 1)
	assert.Empty(t, logs.All()[0].ContextMap())
}
