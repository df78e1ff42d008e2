package mock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"gitlab.com/timkado/api/spoke-identity-sync/internal/spoke"
)

// ClientMock mocks the spoke.Client interface
type ClientMock struct {
	mock.Mock
}

func (m *ClientMock) UpdatedMessages(ctx context.Context, cursor spoke.Cursor, limit int) ([]spoke.Message, error) {
	args := m.Called(ctx, cursor, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]spoke.Message), args.Error(1)
}

func (m *ClientMock) UpdatedOptOuts(ctx context.Context, cursor spoke.Cursor, limit int) ([]spoke.OptOut, error) {
	args := m.Called(ctx, cursor, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]spoke.OptOut), args.Error(1)
}

func (m *ClientMock) ActiveCampaigns(ctx context.Context, afterID int64, limit int) ([]spoke.Campaign, error) {
	args := m.Called(ctx, afterID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]spoke.Campaign), args.Error(1)
}

func (m *ClientMock) FindMessage(ctx context.Context, id int64) (*spoke.Message, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*spoke.Message), args.Error(1)
}

func (m *ClientMock) FindOptOut(ctx context.Context, id int64) (*spoke.OptOut, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*spoke.OptOut), args.Error(1)
}

func (m *ClientMock) FindCampaign(ctx context.Context, id int64) (*spoke.Campaign, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*spoke.Campaign), args.Error(1)
}

func (m *ClientMock) FindCampaignContact(ctx context.Context, campaignID int64, cell string) (*spoke.CampaignContact, error) {
	args := m.Called(ctx, campaignID, cell)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*spoke.CampaignContact), args.Error(1)
}

func (m *ClientMock) LatestCampaignContactByCell(ctx context.Context, cell string) (*spoke.CampaignContact, error) {
	args := m.Called(ctx, cell)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*spoke.CampaignContact), args.Error(1)
}

func (m *ClientMock) QuestionResponses(ctx context.Context, campaignContactID int64) ([]spoke.QuestionResponse, error) {
	args := m.Called(ctx, campaignContactID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]spoke.QuestionResponse), args.Error(1)
}

func (m *ClientMock) AddCampaignContacts(ctx context.Context, rows []spoke.CampaignContactRow) (int, error) {
	args := m.Called(ctx, rows)
	return args.Int(0), args.Error(1)
}

func (m *ClientMock) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *ClientMock) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

var _ spoke.Client = (*ClientMock)(nil)
