package mock

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"gitlab.com/timkado/api/spoke-identity-sync/internal/model"
	"gitlab.com/timkado/api/spoke-identity-sync/internal/storage"
)

// RepositoryMock mocks the storage.Repository interface
type RepositoryMock struct {
	mock.Mock
}

// Get mocks reading a watermark
func (m *RepositoryMock) Get(ctx context.Context, key string, def time.Time) (time.Time, error) {
	args := m.Called(ctx, key, def)
	return args.Get(0).(time.Time), args.Error(1)
}

// Set mocks writing a watermark
func (m *RepositoryMock) Set(ctx context.Context, key string, value time.Time) error {
	args := m.Called(ctx, key, value)
	return args.Error(0)
}

func (m *RepositoryMock) ResolveMember(ctx context.Context, in model.MemberInput, authoritative bool) (*model.Member, error) {
	args := m.Called(ctx, in, authoritative)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Member), args.Error(1)
}

func (m *RepositoryMock) FindMembersWithPhones(ctx context.Context, ids []uint) ([]model.Member, error) {
	args := m.Called(ctx, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Member), args.Error(1)
}

func (m *RepositoryMock) FindSubscription(ctx context.Context, id uint) (*model.Subscription, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Subscription), args.Error(1)
}

func (m *RepositoryMock) Unsubscribe(ctx context.Context, memberID, subscriptionID uint, reason string, at time.Time) error {
	args := m.Called(ctx, memberID, subscriptionID, reason, at)
	return args.Error(0)
}

// UpsertContactCampaign mocks the campaign upsert. Use Run to assign an id.
func (m *RepositoryMock) UpsertContactCampaign(ctx context.Context, cc *model.ContactCampaign) error {
	args := m.Called(ctx, cc)
	return args.Error(0)
}

func (m *RepositoryMock) UpsertContact(ctx context.Context, c *model.Contact) error {
	args := m.Called(ctx, c)
	return args.Error(0)
}

func (m *RepositoryMock) UpsertContactResponseKey(ctx context.Context, k *model.ContactResponseKey) error {
	args := m.Called(ctx, k)
	return args.Error(0)
}

func (m *RepositoryMock) CreateContactResponseIfAbsent(ctx context.Context, resp *model.ContactResponse) (bool, error) {
	args := m.Called(ctx, resp)
	return args.Bool(0), args.Error(1)
}

// Ping mocks the Ping method
func (m *RepositoryMock) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// Close mocks the Close method
func (m *RepositoryMock) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

var _ storage.Repository = (*RepositoryMock)(nil)
