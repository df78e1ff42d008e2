package mock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"gitlab.com/timkado/api/spoke-identity-sync/internal/pull"
	"gitlab.com/timkado/api/spoke-identity-sync/internal/push"
)

// MockRunner is a mock for pull.Runner
type MockRunner struct {
	mock.Mock
}

// Run mocks the Run method
func (m *MockRunner) Run(ctx context.Context, syncID string, kind pull.JobKind, force bool) (pull.Result, error) {
	args := m.Called(ctx, syncID, kind, force)
	return args.Get(0).(pull.Result), args.Error(1)
}

// MockPusher is a mock for handler.Pusher. Results are yielded before the
// configured error is returned.
type MockPusher struct {
	mock.Mock
}

// CampaignName mocks the CampaignName method
func (m *MockPusher) CampaignName(ctx context.Context, campaignID int64) (string, error) {
	args := m.Called(ctx, campaignID)
	return args.String(0), args.Error(1)
}

// BaseCampaignURL mocks the BaseCampaignURL method
func (m *MockPusher) BaseCampaignURL(campaignID int64) string {
	args := m.Called(campaignID)
	return args.String(0)
}

// Push mocks the Push method. The first return value is the []push.BatchResult to yield.
func (m *MockPusher) Push(ctx context.Context, syncID string, campaignID int64, memberIDs []uint, yield func(push.BatchResult) error) error {
	args := m.Called(ctx, syncID, campaignID, memberIDs)
	if results, ok := args.Get(0).([]push.BatchResult); ok {
		for _, r := range results {
			if err := yield(r); err != nil {
				return err
			}
		}
	}
	return args.Error(1)
}
