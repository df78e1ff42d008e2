package usecase

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"gitlab.com/timkado/api/spoke-identity-sync/internal/alert"
	"gitlab.com/timkado/api/spoke-identity-sync/internal/apperrors"
	"gitlab.com/timkado/api/spoke-identity-sync/internal/config"
	"gitlab.com/timkado/api/spoke-identity-sync/internal/model"
	"gitlab.com/timkado/api/spoke-identity-sync/internal/spoke"
	spokemock "gitlab.com/timkado/api/spoke-identity-sync/internal/spoke/mock"
	storagemock "gitlab.com/timkado/api/spoke-identity-sync/internal/storage/mock"
	"gitlab.com/timkado/api/spoke-identity-sync/pkg/logger"
)

const testSyncID = "sync-1"

// Handlers called without a scoped logger fall back to the global one.
func init() {
	logger.Log = zap.NewNop()
}

func testContext(t *testing.T) context.Context {
	return logger.WithLogger(context.Background(), zaptest.NewLogger(t))
}

type fixture struct {
	client   *spokemock.FakeClient
	store    *storagemock.FakeStore
	alerts   *alert.Recorder
	service  *SyncService
	convos   spokemock.Conversations
	at       time.Time
	ctx      context.Context
	optOutID uint
}

func newFixture(t *testing.T, cfg config.SpokeConfig) *fixture {
	t.Helper()
	f := &fixture{
		client: spokemock.NewFakeClient(),
		store:  storagemock.NewFakeStore(),
		alerts: alert.NewRecorder(nil),
		at:     time.Now().UTC().Add(-120 * time.Second).Truncate(time.Second),
		ctx:    testContext(t),
	}
	f.convos = spokemock.SeedConversations(f.client, f.at)
	f.service = NewSyncService(f.client, f.store, f.store, f.alerts, cfg)
	return f
}

func (f *fixture) handleMessages(t *testing.T, ids ...int64) {
	t.Helper()
	for _, id := range ids {
		require.NoError(t, f.service.HandleNewMessage(f.ctx, testSyncID, id))
	}
}

func countNotes(contacts []model.Contact, notes string) int {
	n := 0
	for _, c := range contacts {
		if c.Notes == notes {
			n++
		}
	}
	return n
}

func TestHandleNewMessage_Outbound(t *testing.T) {
	f := newFixture(t, config.SpokeConfig{})

	f.handleMessages(t, f.convos.OutboundIDs[0])

	contactee, ok := f.store.MemberByPhone("61427700401")
	require.True(t, ok)
	assert.Equal(t, "Bob1", contactee.FirstName)
	contactor, ok := f.store.MemberByPhone("61411222333")
	require.True(t, ok)
	assert.Equal(t, "Super", contactor.FirstName)
	assert.Equal(t, "Vollie", contactor.LastName)

	contacts := f.store.Contacts()
	require.Len(t, contacts, 1)
	c := contacts[0]
	assert.Equal(t, "1", c.ExternalID)
	assert.Equal(t, SystemName, c.System)
	assert.Equal(t, ContactType, c.ContactType)
	assert.Equal(t, "DELIVERED", c.Status)
	assert.Equal(t, model.ContactNotesOutbound, c.Notes)
	assert.Equal(t, contactee.ID, c.ContacteeID)
	assert.Equal(t, contactor.ID, c.ContactorID)
	assert.True(t, f.at.Equal(c.HappenedAt))
	assert.JSONEq(t, `{"sync_id":"sync-1","entry_point":"spoke:handle_new_message"}`, string(c.AuditData))

	campaigns := f.store.ContactCampaigns()
	require.Len(t, campaigns, 1)
	assert.Equal(t, strconv.FormatInt(f.convos.CampaignID, 10), campaigns[0].ExternalID)
	assert.Equal(t, "Test", campaigns[0].Name)
	assert.Equal(t, ContactType, campaigns[0].ContactType)
	assert.Equal(t, campaigns[0].ID, c.ContactCampaignID)

	keys := f.store.ContactResponseKeys()
	assert.Len(t, keys, 2)
	responses := f.store.ContactResponses()
	require.Len(t, responses, 3)
	values := map[string]bool{}
	for _, r := range responses {
		assert.Equal(t, c.ID, r.ContactID)
		assert.Equal(t, contactee.ID, r.ContacteeID)
		values[r.Value] = true
	}
	assert.Equal(t, map[string]bool{"yes": true, "no": true, "maybe": true}, values)
}

func TestHandleNewMessage_InboundSkipsResponses(t *testing.T) {
	f := newFixture(t, config.SpokeConfig{})

	f.handleMessages(t, f.convos.InboundIDs[0])

	campaignContact, _ := f.store.MemberByPhone("61427700401")
	user, _ := f.store.MemberByPhone("61411222333")

	contacts := f.store.Contacts()
	require.Len(t, contacts, 1)
	assert.Equal(t, model.ContactNotesInbound, contacts[0].Notes)
	assert.Equal(t, campaignContact.ID, contacts[0].ContactorID)
	assert.Equal(t, user.ID, contacts[0].ContacteeID)
	assert.Empty(t, f.store.ContactResponses())
	assert.Empty(t, f.store.ContactResponseKeys())
}

func TestHandleNewMessage_AllMessages(t *testing.T) {
	f := newFixture(t, config.SpokeConfig{})

	f.handleMessages(t, f.convos.OutboundIDs...)
	f.handleMessages(t, f.convos.InboundIDs...)

	assert.Len(t, f.store.Members(), 4)
	assert.Len(t, f.store.ContactCampaigns(), 1)
	contacts := f.store.Contacts()
	assert.Len(t, contacts, 6)
	assert.Equal(t, 3, countNotes(contacts, model.ContactNotesOutbound))
	assert.Equal(t, 3, countNotes(contacts, model.ContactNotesInbound))
	assert.Len(t, f.store.ContactResponses(), 9)
	assert.Empty(t, f.alerts.Warnings())
}

func TestHandleNewMessage_Idempotent(t *testing.T) {
	f := newFixture(t, config.SpokeConfig{})

	f.handleMessages(t, f.convos.OutboundIDs...)
	f.handleMessages(t, f.convos.InboundIDs...)
	before := f.store.Contacts()
	responses := len(f.store.ContactResponses())
	keys := len(f.store.ContactResponseKeys())

	f.handleMessages(t, f.convos.OutboundIDs...)
	f.handleMessages(t, f.convos.InboundIDs...)

	after := f.store.Contacts()
	require.Len(t, after, len(before))
	for i := range before {
		assert.Equal(t, before[i].ID, after[i].ID)
		assert.Equal(t, before[i].ContacteeID, after[i].ContacteeID)
		assert.Equal(t, before[i].ContactorID, after[i].ContactorID)
		assert.Equal(t, before[i].ContactCampaignID, after[i].ContactCampaignID)
	}
	assert.Len(t, f.store.ContactResponses(), responses)
	assert.Len(t, f.store.ContactResponseKeys(), keys)
	assert.Len(t, f.store.Members(), 4)
	assert.Len(t, f.store.ContactCampaigns(), 1)
}

func TestHandleNewMessage_ResponsesNotDuplicatedAcrossContacts(t *testing.T) {
	f := newFixture(t, config.SpokeConfig{})
	f.handleMessages(t, f.convos.OutboundIDs[0])

	followUp := f.client.AddMessage(spoke.Message{
		ID:            123456,
		AssignmentID:  f.convos.AssignmentIDs[0],
		UserNumber:    f.convos.UserCell,
		ContactNumber: f.convos.Cells[0],
		SendStatus:    "DELIVERED",
		CreatedAt:     f.at,
	})
	f.handleMessages(t, followUp)

	contacts := f.store.Contacts()
	require.Len(t, contacts, 2)
	responses := f.store.ContactResponses()
	require.Len(t, responses, 3)
	for _, r := range responses {
		assert.Equal(t, contacts[0].ID, r.ContactID)
	}
}

func TestHandleNewMessage_UnmatchedCampaignContactAlerts(t *testing.T) {
	f := newFixture(t, config.SpokeConfig{})
	id := f.client.AddMessage(spoke.Message{
		AssignmentID:  f.convos.AssignmentIDs[0],
		UserNumber:    f.convos.UserCell,
		ContactNumber: "+61481565811",
		SendStatus:    "DELIVERED",
		CreatedAt:     f.at,
	})

	require.NoError(t, f.service.HandleNewMessage(f.ctx, testSyncID, id))

	assert.Empty(t, f.store.Contacts())
	assert.Empty(t, f.store.Members())
	warnings := f.alerts.Warnings()
	require.Len(t, warnings, 1)
	assert.Equal(t, "Spoke: CampaignContact Find Failed", warnings[0].Title)
	assert.Equal(t, fmt.Sprintf("campaign_id: %d, cell: +61481565811", f.convos.CampaignID), warnings[0].Detail)
}

func TestHandleNewMessage_MatchesExistingMembers(t *testing.T) {
	f := newFixture(t, config.SpokeConfig{})
	for i, cell := range f.convos.Cells {
		f.store.SeedMember(*model.NewMember(&model.Member{FirstName: fmt.Sprintf("Bob%d", i+1)}),
			*model.NewPhoneNumber(&model.PhoneNumber{Phone: cell[1:]}))
	}
	f.store.SeedMember(*model.NewMember(&model.Member{FirstName: "Super", LastName: "Vollie"}),
		*model.NewPhoneNumber(&model.PhoneNumber{Phone: "61411222333"}))

	f.handleMessages(t, f.convos.OutboundIDs...)
	f.handleMessages(t, f.convos.InboundIDs...)

	assert.Len(t, f.store.Members(), 4)
}

func TestHandleNewMessage_LandlineContact(t *testing.T) {
	f := newFixture(t, config.SpokeConfig{})
	f.client.AddCampaignContact(spoke.CampaignContact{CampaignID: f.convos.CampaignID, FirstName: "HomeBoy", Cell: "+61727700400"})
	assignment := f.client.AddAssignment(spoke.Assignment{CampaignID: f.convos.CampaignID, UserID: f.convos.UserID})
	id := f.client.AddMessage(spoke.Message{ID: 123, AssignmentID: assignment, UserNumber: f.convos.UserCell, ContactNumber: "+61727700400", SendStatus: "DELIVERED", CreatedAt: f.at})

	f.handleMessages(t, id)

	member, ok := f.store.MemberByPhone("61727700400")
	require.True(t, ok)
	require.Len(t, member.PhoneNumbers, 1)
	assert.Equal(t, model.PhoneTypeLandline, member.PhoneNumbers[0].PhoneType)
	contacts := f.store.Contacts()
	require.Len(t, contacts, 1)
	assert.Equal(t, "123", contacts[0].ExternalID)
	assert.Equal(t, member.ID, contacts[0].ContacteeID)
}

func TestHandleNewMessage_UpsertFailure(t *testing.T) {
	f := newFixture(t, config.SpokeConfig{})
	f.store.FailOn("UpsertContact", fmt.Errorf("%w: connection reset", apperrors.ErrDatabase))

	err := f.service.HandleNewMessage(f.ctx, testSyncID, f.convos.OutboundIDs[0])

	require.Error(t, err)
	assert.True(t, apperrors.IsRetryable(err))
	assert.ErrorIs(t, err, apperrors.ErrDatabase)
	assert.Empty(t, f.store.ContactResponses())
}

func TestHandleNewMessage_MissingMessage(t *testing.T) {
	f := newFixture(t, config.SpokeConfig{})

	err := f.service.HandleNewMessage(f.ctx, testSyncID, 999999)

	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestHandleNewOptOut_Unsubscribes(t *testing.T) {
	f := newFixture(t, config.SpokeConfig{OptOutSubscriptionID: 5})
	f.store.SeedSubscription(model.Subscription{ID: 5, Name: "SMS", Slug: "sms"})
	memberID := f.store.SeedMember(*model.NewMember(&model.Member{FirstName: "BobNo"}),
		*model.NewPhoneNumber(&model.PhoneNumber{Phone: "61427700409"}))
	f.store.Subscribe(memberID, 5)
	f.client.AddCampaignContact(spoke.CampaignContact{CampaignID: f.convos.CampaignID, FirstName: "BobNo", Cell: "+61427700409"})
	optOut := f.client.AddOptOut(spoke.OptOut{Cell: "+61427700409", OrganizationID: f.convos.OrganizationID, CreatedAt: f.at})

	require.NoError(t, f.service.HandleNewOptOut(f.ctx, testSyncID, optOut))

	ms, ok := f.store.MemberSubscription(memberID, 5)
	require.True(t, ok)
	assert.False(t, ms.Subscribed)
	assert.Equal(t, OptOutReason, ms.UnsubscribeReason)
	require.NotNil(t, ms.UnsubscribedAt)
	assert.Len(t, f.store.Members(), 1)
}

func TestHandleNewOptOut_WithoutSubscriptionIsNoop(t *testing.T) {
	client := new(spokemock.ClientMock)
	repo := new(storagemock.RepositoryMock)
	service := NewSyncService(client, repo, repo, nil, config.SpokeConfig{})

	require.NoError(t, service.HandleNewOptOut(context.Background(), testSyncID, 1))

	client.AssertNotCalled(t, "FindOptOut", mock.Anything, mock.Anything)
	repo.AssertNotCalled(t, "Unsubscribe", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleNewOptOut_NoCampaignContact(t *testing.T) {
	f := newFixture(t, config.SpokeConfig{OptOutSubscriptionID: 5})
	f.store.SeedSubscription(model.Subscription{ID: 5, Name: "SMS", Slug: "sms"})
	optOut := f.client.AddOptOut(spoke.OptOut{Cell: "+61400000000", CreatedAt: f.at})

	require.NoError(t, f.service.HandleNewOptOut(f.ctx, testSyncID, optOut))

	assert.Empty(t, f.store.Members())
	assert.Empty(t, f.alerts.Warnings())
}

func TestHandleNewOptOut_UsesLatestCampaignContact(t *testing.T) {
	f := newFixture(t, config.SpokeConfig{OptOutSubscriptionID: 5})
	f.store.SeedSubscription(model.Subscription{ID: 5, Name: "SMS", Slug: "sms"})
	f.client.AddCampaignContact(spoke.CampaignContact{CampaignID: f.convos.CampaignID, FirstName: "Old", Cell: "+61427700409"})
	f.client.AddCampaignContact(spoke.CampaignContact{CampaignID: f.convos.CampaignID, FirstName: "New", ExternalID: "77", Cell: "+61427700409"})
	optOut := f.client.AddOptOut(spoke.OptOut{Cell: "+61427700409", CreatedAt: f.at})

	require.NoError(t, f.service.HandleNewOptOut(f.ctx, testSyncID, optOut))

	member, ok := f.store.MemberByPhone("61427700409")
	require.True(t, ok)
	assert.Equal(t, "New", member.FirstName)
	require.NotNil(t, member.ExternalID)
	assert.Equal(t, "77", *member.ExternalID)
	ms, ok := f.store.MemberSubscription(member.ID, 5)
	require.True(t, ok)
	assert.False(t, ms.Subscribed)
}

func TestHandleCampaign_UpsertsCampaignAndKeys(t *testing.T) {
	f := newFixture(t, config.SpokeConfig{})

	require.NoError(t, f.service.HandleCampaign(f.ctx, testSyncID, f.convos.CampaignID))
	require.NoError(t, f.service.HandleCampaign(f.ctx, testSyncID, f.convos.CampaignID))

	campaigns := f.store.ContactCampaigns()
	require.Len(t, campaigns, 1)
	assert.Equal(t, "Test", campaigns[0].Name)
	keys := f.store.ContactResponseKeys()
	require.Len(t, keys, 2)
	assert.ElementsMatch(t, []string{"voting_intention", "favorite_party"}, []string{keys[0].Key, keys[1].Key})
	for _, k := range keys {
		assert.Equal(t, campaigns[0].ID, k.ContactCampaignID)
	}
}

func TestHandleCampaign_WritesAuditData(t *testing.T) {
	client := new(spokemock.ClientMock)
	repo := new(storagemock.RepositoryMock)
	service := NewSyncService(client, repo, repo, nil, config.SpokeConfig{})

	client.On("FindCampaign", mock.Anything, int64(9)).Return(&spoke.Campaign{
		ID: 9, Title: "Doors", InteractionSteps: []spoke.InteractionStep{{ID: 1, CampaignID: 9, Question: "q1"}, {ID: 2, CampaignID: 9}},
	}, nil)
	repo.On("UpsertContactCampaign", mock.Anything, mock.MatchedBy(func(cc *model.ContactCampaign) bool {
		return cc.ExternalID == "9" && cc.System == SystemName && cc.ContactType == ContactType &&
			string(cc.AuditData) == `{"sync_id":"sync-1","entry_point":"spoke:handle_campaign"}`
	})).Run(func(args mock.Arguments) {
		args.Get(1).(*model.ContactCampaign).ID = 41
	}).Return(nil).Once()
	repo.On("UpsertContactResponseKey", mock.Anything, mock.MatchedBy(func(k *model.ContactResponseKey) bool {
		return k.Key == "q1" && k.ContactCampaignID == 41
	})).Return(nil).Once()

	require.NoError(t, service.HandleCampaign(testContext(t), testSyncID, 9))

	client.AssertExpectations(t)
	repo.AssertExpectations(t)
}

func TestHandleCampaign_StoreFailure(t *testing.T) {
	client := new(spokemock.ClientMock)
	repo := new(storagemock.RepositoryMock)
	service := NewSyncService(client, repo, repo, nil, config.SpokeConfig{})

	client.On("FindCampaign", mock.Anything, int64(9)).Return(&spoke.Campaign{ID: 9, Title: "Doors"}, nil)
	repo.On("UpsertContactCampaign", mock.Anything, mock.Anything).Return(fmt.Errorf("%w: duplicate key", apperrors.ErrDuplicate))

	err := service.HandleCampaign(testContext(t), testSyncID, 9)

	require.Error(t, err)
	assert.True(t, apperrors.IsFatal(err))
	assert.ErrorIs(t, err, apperrors.ErrDuplicate)
}

func TestHandleRepositoryError(t *testing.T) {
	ctx := testContext(t)
	assert.NoError(t, handleRepositoryError(ctx, nil, "op"))

	tests := []struct {
		err       error
		retryable bool
	}{
		{apperrors.ErrValidation, false},
		{apperrors.ErrBadRequest, false},
		{apperrors.ErrDuplicate, false},
		{apperrors.ErrConflict, false},
		{apperrors.ErrNotFound, false},
		{apperrors.ErrDatabase, true},
		{apperrors.ErrExternalStore, true},
		{errors.New("odd"), false},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			err := handleRepositoryError(ctx, fmt.Errorf("wrapped: %w", tt.err), "op")
			assert.ErrorIs(t, err, tt.err)
			assert.Equal(t, tt.retryable, apperrors.IsRetryable(err))
			assert.Equal(t, !tt.retryable, apperrors.IsFatal(err))
		})
	}
}
