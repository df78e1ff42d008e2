package pull

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"gitlab.com/timkado/api/spoke-identity-sync/internal/alert"
	"gitlab.com/timkado/api/spoke-identity-sync/internal/apperrors"
	"gitlab.com/timkado/api/spoke-identity-sync/internal/config"
	"gitlab.com/timkado/api/spoke-identity-sync/internal/dispatch"
	"gitlab.com/timkado/api/spoke-identity-sync/internal/guard"
	"gitlab.com/timkado/api/spoke-identity-sync/internal/model"
	"gitlab.com/timkado/api/spoke-identity-sync/internal/spoke"
	spokemock "gitlab.com/timkado/api/spoke-identity-sync/internal/spoke/mock"
	storagemock "gitlab.com/timkado/api/spoke-identity-sync/internal/storage/mock"
	"gitlab.com/timkado/api/spoke-identity-sync/internal/usecase"
	"gitlab.com/timkado/api/spoke-identity-sync/pkg/logger"
)

type harness struct {
	client  *spokemock.FakeClient
	store   *storagemock.FakeStore
	tracker *guard.Tracker
	alerts  *alert.Recorder
	orch    *Orchestrator
	ctx     context.Context
}

func newHarness(t *testing.T, cfg config.SpokeConfig, handlers Handlers, dispatcher dispatch.Dispatcher) *harness {
	t.Helper()
	h := &harness{
		client:  spokemock.NewFakeClient(),
		store:   storagemock.NewFakeStore(),
		tracker: guard.NewTracker(),
		alerts:  alert.NewRecorder(nil),
		ctx:     logger.WithLogger(context.Background(), zaptest.NewLogger(t)),
	}
	if handlers == nil {
		handlers = usecase.NewSyncService(h.client, h.store, h.store, h.alerts, cfg)
	}
	if dispatcher == nil {
		dispatcher = dispatch.NewInline(zaptest.NewLogger(t))
	}
	h.orch = NewOrchestrator(Deps{
		Watermarks: h.store,
		Guard:      guard.NewCluster(h.tracker, h.store),
		Spoke:      h.client,
		Dispatcher: dispatcher,
		Handlers:   handlers,
	}, cfg)
	return h
}

func (h *harness) run(t *testing.T, kind JobKind, force bool) Result {
	t.Helper()
	result, err := h.orch.Run(h.ctx, "sync-1", kind, force)
	require.NoError(t, err)
	return result
}

type recordingHandlers struct {
	mu        sync.Mutex
	messages  []int64
	optOuts   []int64
	campaigns []int64
}

func (r *recordingHandlers) HandleNewMessage(_ context.Context, _ string, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, id)
	return nil
}

func (r *recordingHandlers) HandleNewOptOut(_ context.Context, _ string, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.optOuts = append(r.optOuts, id)
	return nil
}

func (r *recordingHandlers) HandleCampaign(_ context.Context, _ string, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.campaigns = append(r.campaigns, id)
	return nil
}

type failingDispatcher struct {
	allow     int
	submitted int
}

func (d *failingDispatcher) Submit(task dispatch.Task) error {
	if d.submitted >= d.allow {
		return fmt.Errorf("%w: queue full", apperrors.ErrPoolOverload)
	}
	d.submitted++
	return nil
}

func (d *failingDispatcher) Wait() {}
func (d *failingDispatcher) Stop() {}

func countOutbound(contacts []model.Contact) int {
	n := 0
	for _, c := range contacts {
		if c.Notes == model.ContactNotesOutbound {
			n++
		}
	}
	return n
}

func TestRun_NewMessagesScenario(t *testing.T) {
	h := newHarness(t, config.SpokeConfig{}, nil, nil)
	at := time.Now().UTC().Add(-120 * time.Second).Truncate(time.Second)
	convos := spokemock.SeedConversations(h.client, at)

	result := h.run(t, FetchNewMessages, false)

	assert.False(t, result.Deferred)
	assert.Equal(t, 6, result.Count)
	assert.ElementsMatch(t, append(append([]int64{}, convos.OutboundIDs...), convos.InboundIDs...), result.IDs)
	assert.Equal(t, MessagesWatermarkKey, result.Audit.Scope)
	require.NotNil(t, result.Audit.From)
	assert.True(t, defaultMessagesSince.Equal(*result.Audit.From))
	require.NotNil(t, result.Audit.To)
	assert.True(t, at.Equal(*result.Audit.To))

	assert.Len(t, h.store.Members(), 4)
	assert.Len(t, h.store.ContactCampaigns(), 1)
	contacts := h.store.Contacts()
	assert.Len(t, contacts, 6)
	assert.Equal(t, 3, countOutbound(contacts))

	watermark, ok := h.store.Watermark(MessagesWatermarkKey)
	require.True(t, ok)
	assert.True(t, at.Equal(watermark))
	assert.Empty(t, h.tracker.Running())
}

func TestRun_NewMessagesOnPool(t *testing.T) {
	pool, err := dispatch.NewPoolDispatcher(config.HandlerWorkerPoolConfig{PoolSize: 4, QueueSize: 100, ExpiryTime: time.Second}, zap.NewNop())
	require.NoError(t, err)
	defer pool.Stop()

	h := newHarness(t, config.SpokeConfig{}, nil, pool)
	spokemock.SeedConversations(h.client, time.Now().UTC().Add(-time.Minute))

	result := h.run(t, FetchNewMessages, false)
	pool.Wait()

	assert.Equal(t, 6, result.Count)
	assert.Len(t, h.store.Contacts(), 6)
	assert.Len(t, h.store.Members(), 4)
	assert.Len(t, h.store.ContactCampaigns(), 1)
	assert.Len(t, h.store.ContactResponses(), 9)
}

func TestRun_Idempotent(t *testing.T) {
	h := newHarness(t, config.SpokeConfig{}, nil, nil)
	spokemock.SeedConversations(h.client, time.Now().UTC().Add(-time.Minute).Truncate(time.Second))

	h.run(t, FetchNewMessages, false)
	contacts := len(h.store.Contacts())
	responses := len(h.store.ContactResponses())
	keys := len(h.store.ContactResponseKeys())
	watermark, _ := h.store.Watermark(MessagesWatermarkKey)

	second := h.run(t, FetchNewMessages, false)

	assert.Equal(t, 0, second.Count)
	assert.Empty(t, second.IDs)
	assert.Nil(t, second.Audit.To)
	assert.Len(t, h.store.Contacts(), contacts)
	assert.Len(t, h.store.ContactResponses(), responses)
	assert.Len(t, h.store.ContactResponseKeys(), keys)
	assert.Len(t, h.store.ContactCampaigns(), 1)
	after, _ := h.store.Watermark(MessagesWatermarkKey)
	assert.True(t, watermark.Equal(after))

	// A forced rescan reprocesses everything without duplicating anything.
	forced := h.run(t, FetchNewMessages, true)
	assert.Equal(t, 6, forced.Count)
	assert.Len(t, h.store.Contacts(), contacts)
	assert.Len(t, h.store.ContactResponses(), responses)
}

func TestRun_ForceIgnoresWatermark(t *testing.T) {
	h := newHarness(t, config.SpokeConfig{}, nil, nil)
	spokemock.SeedConversations(h.client, time.Date(1960, 1, 1, 0, 0, 0, 0, time.UTC))

	normal := h.run(t, FetchNewMessages, false)
	assert.Equal(t, 0, normal.Count)
	assert.Empty(t, h.store.Contacts())

	forced := h.run(t, FetchNewMessages, true)
	assert.Equal(t, 6, forced.Count)
	assert.Len(t, h.store.Contacts(), 6)

	// The cursor is not moved behind what was read.
	watermark, ok := h.store.Watermark(MessagesWatermarkKey)
	require.True(t, ok)
	assert.True(t, defaultMessagesSince.Equal(watermark))
}

func TestRun_WatermarkNeverDecreases(t *testing.T) {
	h := newHarness(t, config.SpokeConfig{}, nil, nil)
	spokemock.SeedConversations(h.client, time.Now().UTC().Add(-time.Hour))
	future := time.Now().UTC().Add(time.Hour).Truncate(time.Second)
	require.NoError(t, h.store.Set(h.ctx, MessagesWatermarkKey, future))

	forced := h.run(t, FetchNewMessages, true)

	assert.Equal(t, 6, forced.Count)
	watermark, _ := h.store.Watermark(MessagesWatermarkKey)
	assert.True(t, future.Equal(watermark))
}

func TestRun_DeferredWhenRunning(t *testing.T) {
	handlers := &recordingHandlers{}
	h := newHarness(t, config.SpokeConfig{}, handlers, nil)
	spokemock.SeedConversations(h.client, time.Now().UTC().Add(-time.Minute))

	release, ok, err := h.tracker.Begin(h.ctx, FetchNewMessages.String())
	require.NoError(t, err)
	require.True(t, ok)

	result := h.run(t, FetchNewMessages, false)

	assert.True(t, result.Deferred)
	assert.Equal(t, 0, result.Count)
	assert.Equal(t, 0, h.client.Fetches)
	assert.Empty(t, handlers.messages)
	_, exists := h.store.Watermark(MessagesWatermarkKey)
	assert.False(t, exists)

	// Other kinds are not blocked.
	other := h.run(t, FetchActiveCampaigns, false)
	assert.False(t, other.Deferred)

	release()
	again := h.run(t, FetchNewMessages, false)
	assert.False(t, again.Deferred)
	assert.Equal(t, 6, again.Count)
}

func TestRun_TieGroupAcrossPages(t *testing.T) {
	handlers := &recordingHandlers{}
	h := newHarness(t, config.SpokeConfig{PullBatchAmount: 2}, handlers, nil)
	t1 := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Minute)
	t3 := t2.Add(time.Minute)
	h.client.AddMessage(spoke.Message{ID: 11, SendStatus: "DELIVERED", CreatedAt: t1})
	h.client.AddMessage(spoke.Message{ID: 12, SendStatus: "DELIVERED", CreatedAt: t2})
	h.client.AddMessage(spoke.Message{ID: 13, SendStatus: "DELIVERED", CreatedAt: t2})
	h.client.AddMessage(spoke.Message{ID: 14, SendStatus: "DELIVERED", CreatedAt: t3})

	first := h.run(t, FetchNewMessages, false)
	assert.Equal(t, []int64{11}, first.IDs)
	watermark, _ := h.store.Watermark(MessagesWatermarkKey)
	assert.True(t, t1.Equal(watermark))

	second := h.run(t, FetchNewMessages, false)
	assert.Equal(t, []int64{12, 13, 14}, second.IDs)
	watermark, _ = h.store.Watermark(MessagesWatermarkKey)
	assert.True(t, t3.Equal(watermark))

	third := h.run(t, FetchNewMessages, false)
	assert.Equal(t, 0, third.Count)

	assert.Equal(t, []int64{11, 12, 13, 14}, handlers.messages)
}

func TestRun_ForcePagesThroughEverything(t *testing.T) {
	handlers := &recordingHandlers{}
	h := newHarness(t, config.SpokeConfig{PullBatchAmount: 2}, handlers, nil)
	at := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	for i := int64(1); i <= 5; i++ {
		h.client.AddMessage(spoke.Message{ID: i, SendStatus: "DELIVERED", CreatedAt: at.Add(time.Duration(i) * time.Second)})
	}

	result := h.run(t, FetchNewMessages, true)

	assert.Equal(t, []int64{1, 2, 3, 4, 5}, result.IDs)
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, handlers.messages)
}

func TestRun_UnmatchedCampaignContact(t *testing.T) {
	h := newHarness(t, config.SpokeConfig{}, nil, nil)
	at := time.Now().UTC().Add(-time.Minute)
	campaignID := h.client.AddCampaign(spoke.Campaign{Title: "Test", IsStarted: true})
	userID := h.client.AddUser(spoke.User{FirstName: "Super", LastName: "Vollie", Cell: "+61411222333"})
	h.client.AddCampaignContact(spoke.CampaignContact{CampaignID: campaignID, Cell: "+61481565899"})
	assignmentID := h.client.AddAssignment(spoke.Assignment{CampaignID: campaignID, UserID: userID})
	h.client.AddMessage(spoke.Message{AssignmentID: assignmentID, UserNumber: "+61411222333", ContactNumber: "+61481565811", IsFromContact: true, SendStatus: "DELIVERED", CreatedAt: at})

	result := h.run(t, FetchNewMessages, false)

	assert.Equal(t, 1, result.Count)
	assert.Empty(t, h.store.Contacts())
	assert.Len(t, h.alerts.Warnings(), 1)
}

func TestRun_OptOutScenario(t *testing.T) {
	h := newHarness(t, config.SpokeConfig{OptOutSubscriptionID: 3}, nil, nil)
	h.store.SeedSubscription(model.Subscription{ID: 3, Name: "SMS", Slug: "sms"})
	memberID := h.store.SeedMember(*model.NewMember(&model.Member{FirstName: "BobNo"}),
		*model.NewPhoneNumber(&model.PhoneNumber{Phone: "61427700409"}))
	h.store.Subscribe(memberID, 3)

	campaignID := h.client.AddCampaign(spoke.Campaign{Title: "Test", IsStarted: true})
	h.client.AddCampaignContact(spoke.CampaignContact{CampaignID: campaignID, FirstName: "BobNo", Cell: "+61427700409"})
	at := time.Now().UTC().Add(-time.Minute).Truncate(time.Second)
	optOutID := h.client.AddOptOut(spoke.OptOut{Cell: "+61427700409", CreatedAt: at})

	result := h.run(t, FetchNewOptOuts, false)

	assert.Equal(t, []int64{optOutID}, result.IDs)
	assert.Equal(t, OptOutsWatermarkKey, result.Audit.Scope)
	assert.True(t, defaultOptOutsSince.Equal(*result.Audit.From))
	ms, ok := h.store.MemberSubscription(memberID, 3)
	require.True(t, ok)
	assert.False(t, ms.Subscribed)
	watermark, _ := h.store.Watermark(OptOutsWatermarkKey)
	assert.True(t, at.Equal(watermark))
}

func TestRun_OptOutsWithoutSubscription(t *testing.T) {
	handlers := &recordingHandlers{}
	h := newHarness(t, config.SpokeConfig{}, handlers, nil)
	h.client.AddOptOut(spoke.OptOut{Cell: "+61427700409", CreatedAt: time.Now().UTC()})

	result := h.run(t, FetchNewOptOuts, false)

	assert.False(t, result.Deferred)
	assert.Equal(t, 0, result.Count)
	assert.Equal(t, 0, h.client.Fetches)
	assert.Empty(t, handlers.optOuts)
	_, exists := h.store.Watermark(OptOutsWatermarkKey)
	assert.False(t, exists)
}

func TestRun_ActiveCampaigns(t *testing.T) {
	h := newHarness(t, config.SpokeConfig{}, nil, nil)
	convos := spokemock.SeedConversations(h.client, time.Now().UTC())
	h.client.AddCampaign(spoke.Campaign{Title: "Archived", IsStarted: true, IsArchived: true})
	h.client.AddCampaign(spoke.Campaign{Title: "Draft"})

	result := h.run(t, FetchActiveCampaigns, false)

	assert.Equal(t, 1, result.Count)
	assert.Equal(t, []int64{convos.CampaignID}, result.IDs)
	assert.Equal(t, Audit{}, result.Audit)
	assert.Len(t, h.store.ContactCampaigns(), 1)
	assert.Len(t, h.store.ContactResponseKeys(), 2)

	again := h.run(t, FetchActiveCampaigns, false)
	assert.Equal(t, 1, again.Count)
	assert.Len(t, h.store.ContactCampaigns(), 1)
	assert.Len(t, h.store.ContactResponseKeys(), 2)
}

func TestRun_ActiveCampaignsPaged(t *testing.T) {
	handlers := &recordingHandlers{}
	h := newHarness(t, config.SpokeConfig{PullBatchAmount: 2}, handlers, nil)
	var ids []int64
	for i := 0; i < 5; i++ {
		ids = append(ids, h.client.AddCampaign(spoke.Campaign{Title: fmt.Sprintf("c%d", i), IsStarted: true}))
	}

	result := h.run(t, FetchActiveCampaigns, false)

	assert.Equal(t, ids, result.IDs)
	assert.Equal(t, ids, handlers.campaigns)
}

func TestRun_FetchFailureKeepsWatermark(t *testing.T) {
	h := newHarness(t, config.SpokeConfig{}, &recordingHandlers{}, nil)
	h.client.FailOn("UpdatedMessages", fmt.Errorf("%w: connection refused", apperrors.ErrExternalStore))

	_, err := h.orch.Run(h.ctx, "sync-1", FetchNewMessages, false)

	assert.ErrorIs(t, err, apperrors.ErrExternalStore)
	_, exists := h.store.Watermark(MessagesWatermarkKey)
	assert.False(t, exists)
	assert.Empty(t, h.tracker.Running())
}

func TestRun_DispatchFailureKeepsWatermark(t *testing.T) {
	dispatcher := &failingDispatcher{allow: 2}
	h := newHarness(t, config.SpokeConfig{}, &recordingHandlers{}, dispatcher)
	spokemock.SeedConversations(h.client, time.Now().UTC().Add(-time.Minute))

	_, err := h.orch.Run(h.ctx, "sync-1", FetchNewMessages, false)

	assert.ErrorIs(t, err, apperrors.ErrPoolOverload)
	assert.Equal(t, 2, dispatcher.submitted)
	_, exists := h.store.Watermark(MessagesWatermarkKey)
	assert.False(t, exists)
}

func TestRun_WatermarkWriteFailure(t *testing.T) {
	h := newHarness(t, config.SpokeConfig{}, &recordingHandlers{}, nil)
	spokemock.SeedConversations(h.client, time.Now().UTC().Add(-time.Minute))
	h.store.FailOn("Set", errors.New("disk full"))

	_, err := h.orch.Run(h.ctx, "sync-1", FetchNewMessages, false)

	assert.Error(t, err)
}

func TestRun_UnknownKind(t *testing.T) {
	h := newHarness(t, config.SpokeConfig{}, &recordingHandlers{}, nil)

	_, err := h.orch.Run(h.ctx, "sync-1", JobKind("fetch_unicorns"), false)

	assert.ErrorIs(t, err, apperrors.ErrBadRequest)
	assert.Empty(t, h.tracker.Running())
}

// replicaHandlers wraps the real handlers and runs onFirst before the first
// message is handled.
type replicaHandlers struct {
	Handlers
	once    sync.Once
	onFirst func()
	handled []int64
}

func (r *replicaHandlers) HandleNewMessage(ctx context.Context, syncID string, id int64) error {
	r.once.Do(r.onFirst)
	r.handled = append(r.handled, id)
	return r.Handlers.HandleNewMessage(ctx, syncID, id)
}

func TestRun_SecondReplicaDefersWhileFirstInFlight(t *testing.T) {
	client := spokemock.NewFakeClient()
	store := storagemock.NewFakeStore()
	ctx := logger.WithLogger(context.Background(), zaptest.NewLogger(t))
	spokemock.SeedConversations(client, time.Now().UTC().Add(-time.Minute))

	newReplica := func(handlers Handlers) (*Orchestrator, *guard.Tracker) {
		tracker := guard.NewTracker()
		return NewOrchestrator(Deps{
			Watermarks: store,
			Guard:      guard.NewCluster(tracker, store),
			Spoke:      client,
			Dispatcher: dispatch.NewInline(zaptest.NewLogger(t)),
			Handlers:   handlers,
		}, config.SpokeConfig{}), tracker
	}

	service := usecase.NewSyncService(client, store, store, alert.NewRecorder(nil), config.SpokeConfig{})
	replicaB, trackerB := newReplica(service)

	var (
		resultB Result
		errB    error
	)
	handlersA := &replicaHandlers{Handlers: service}
	handlersA.onFirst = func() {
		resultB, errB = replicaB.Run(ctx, "sync-b", FetchNewMessages, false)
	}
	replicaA, trackerA := newReplica(handlersA)

	resultA, err := replicaA.Run(ctx, "sync-a", FetchNewMessages, false)
	require.NoError(t, err)

	require.NoError(t, errB)
	assert.True(t, resultB.Deferred)
	assert.Equal(t, 0, resultB.Count)
	assert.False(t, resultA.Deferred)
	assert.Equal(t, 6, resultA.Count)
	assert.Len(t, handlersA.handled, 6)
	assert.Len(t, store.Contacts(), 6)
	assert.Empty(t, trackerA.Running())
	assert.Empty(t, trackerB.Running())

	// Once A is done the lock is free for B.
	again, err := replicaB.Run(ctx, "sync-b", FetchNewMessages, true)
	require.NoError(t, err)
	assert.False(t, again.Deferred)
}

func TestRun_SharedLockFailure(t *testing.T) {
	h := newHarness(t, config.SpokeConfig{}, &recordingHandlers{}, nil)
	spokemock.SeedConversations(h.client, time.Now().UTC().Add(-time.Minute))
	h.store.FailOn("TryLock", fmt.Errorf("%w: connection reset", apperrors.ErrDatabase))

	_, err := h.orch.Run(h.ctx, "sync-1", FetchNewMessages, false)

	assert.ErrorIs(t, err, apperrors.ErrDatabase)
	assert.Equal(t, 0, h.client.Fetches)
	assert.Empty(t, h.tracker.Running())
}
