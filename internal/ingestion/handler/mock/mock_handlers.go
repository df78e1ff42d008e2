package mock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"gitlab.com/timkado/api/spoke-identity-sync/internal/model"
)

// MockJobHandler is a mock for handler.JobHandlerInterface
type MockJobHandler struct {
	mock.Mock
}

// HandleJob mocks the HandleJob method
func (m *MockJobHandler) HandleJob(ctx context.Context, job model.JobDescriptor) (*model.JobReply, error) {
	args := m.Called(ctx, job)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.JobReply), args.Error(1)
}
