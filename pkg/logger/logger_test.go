package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"gitlab.com/timkado/api/spoke-identity-sync/internal/audit"
)

func TestFromContext_TagsSyncIDOnce(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	ctx := audit.WithSyncID(context.Background(), "sync-1")
	ctx = WithLogger(ctx, zap.New(core).With(zap.String("handler", "h")))

	FromContext(ctx).Info("hello")

	entries := logs.All()
	require.Len(t, entries, 1)
	syncFields := 0
	for _, f := range entries[0].Context {
		if f.Key == "sync_id" {
			syncFields++
		}
	}
	assert.Equal(t, 1, syncFields)
	assert.Equal(t, "sync-1", entries[0].ContextMap()["sync_id"])
	assert.Equal(t, "h", entries[0].ContextMap()["handler"])
}

func TestFromContext_TagsLaterSyncID(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	ctx := WithLogger(context.Background(), zap.New(core))
	ctx = audit.WithSyncID(ctx, "sync-2")

	FromContext(ctx).Info("hello")

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "sync-2", logs.All()[0].ContextMap()["sync_id"])
}

func TestFromContext_FallsBackToNop(t *testing.T) {
	saved := Log
	Log = nil
	defer func() { Log = saved }()

	assert.NotNil(t, FromContext(context.Background()))
	assert.NotNil(t, FromContextOr(context.Background(), nil))
}

func TestInitializeWithOptions_File(t *testing.T) {
	saved := Log
	defer func() { Log = saved }()

	require.NoError(t, InitializeWithOptions(Options{Level: "debug", File: t.TempDir() + "/sync.log", MaxSizeMB: 1}))
	assert.True(t, Log.Core().Enabled(zap.DebugLevel))
}
