package alert

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"gitlab.com/timkado/api/spoke-identity-sync/internal/audit"
	natsmock "gitlab.com/timkado/api/spoke-identity-sync/internal/jetstream/mock"
	"gitlab.com/timkado/api/spoke-identity-sync/pkg/logger"
)

func observedContext(level zap.AtomicLevel) (context.Context, *observer.ObservedLogs) {
	core, logs := observer.New(level)
	ctx := logger.WithLogger(context.Background(), zap.New(core))
	return audit.WithSyncID(ctx, "sync-42"), logs
}

func TestNotifier_LogsAndPublishes(t *testing.T) {
	ctx, logs := observedContext(zap.NewAtomicLevelAt(zap.DebugLevel))
	ctx = audit.WithJobKind(ctx, "fetch_new_messages")

	pub := new(natsmock.ClientMock)
	var published []byte
	pub.On("Publish", "spoke.sync.alerts", mock.Anything, map[string]string{"Level": "warning", "Sync-Id": "sync-42"}).
		Run(func(args mock.Arguments) { published = args.Get(1).([]byte) }).
		Return(nil).Once()

	NewNotifier(pub, "spoke.sync.alerts").Warning(ctx, "Spoke: CampaignContact Find Failed", "campaign_id: 1, cell: +61400000000")

	pub.AssertExpectations(t)
	require.Equal(t, 1, logs.FilterMessage("Spoke: CampaignContact Find Failed").Len())

	var event Event
	require.NoError(t, json.Unmarshal(published, &event))
	assert.Equal(t, "warning", event.Level)
	assert.Equal(t, "sync-42", event.SyncID)
	assert.Equal(t, "fetch_new_messages", event.JobKind)
	assert.Equal(t, "campaign_id: 1, cell: +61400000000", event.Detail)
}

func TestNotifier_PublishFailureIsSwallowed(t *testing.T) {
	ctx, logs := observedContext(zap.NewAtomicLevelAt(zap.DebugLevel))

	pub := new(natsmock.ClientMock)
	pub.On("Publish", "alerts", mock.Anything, mock.Anything).Return(errors.New("no responders")).Once()

	NewNotifier(pub, "alerts").Warning(ctx, "title", "detail")

	pub.AssertExpectations(t)
	assert.Equal(t, 1, logs.FilterMessage("Failed to publish alert").Len())
}

func TestNotifier_WithoutPublisherOnlyLogs(t *testing.T) {
	ctx, logs := observedContext(zap.NewAtomicLevelAt(zap.DebugLevel))

	NewNotifier(nil, "alerts").Warning(ctx, "title", "detail")

	entries := logs.FilterMessage("title").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "detail", entries[0].ContextMap()["detail"])
	assert.Equal(t, "sync-42", entries[0].ContextMap()["sync_id"])
}
