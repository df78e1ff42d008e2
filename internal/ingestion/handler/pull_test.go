package handler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"gitlab.com/timkado/api/spoke-identity-sync/internal/apperrors"
	handlermock "gitlab.com/timkado/api/spoke-identity-sync/internal/ingestion/handler/mock"
	"gitlab.com/timkado/api/spoke-identity-sync/internal/model"
	"gitlab.com/timkado/api/spoke-identity-sync/internal/pull"
	"gitlab.com/timkado/api/spoke-identity-sync/pkg/logger"
)

func testContext(t *testing.T) context.Context {
	return logger.WithLogger(context.Background(), zaptest.NewLogger(t))
}

func pullJob(params string) model.JobDescriptor {
	return model.JobDescriptor{SyncID: "sync-1", SyncType: model.SyncTypePull, ExternalSystemParams: params}
}

func TestPullHandler_RunsJob(t *testing.T) {
	runner := new(handlermock.MockRunner)
	from := time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)
	runner.On("Run", mock.Anything, "sync-1", pull.FetchNewMessages, false).Return(pull.Result{
		Count: 2,
		IDs:   []int64{4, 5},
		Audit: pull.Audit{Scope: pull.MessagesWatermarkKey, From: &from, To: &to},
	}, nil)

	reply, err := NewPullHandler(runner).HandleJob(testContext(t), pullJob(`{"pull_job":"fetch_new_messages"}`))

	require.NoError(t, err)
	assert.True(t, reply.Success)
	assert.Equal(t, "Spoke: fetch_new_messages", reply.Description)
	require.NotNil(t, reply.Pull)
	assert.Equal(t, 2, reply.Pull.Count)
	assert.Equal(t, []int64{4, 5}, reply.Pull.IDs)
	assert.Equal(t, "spoke:messages:last_created_at", reply.Pull.Audit.Scope)
	assert.Equal(t, "2019-01-01 00:00:00", *reply.Pull.Audit.From)
	assert.Equal(t, "2024-05-01 09:30:00", *reply.Pull.Audit.To)
	runner.AssertExpectations(t)
}

func TestPullHandler_PassesForce(t *testing.T) {
	runner := new(handlermock.MockRunner)
	runner.On("Run", mock.Anything, "sync-1", pull.FetchActiveCampaigns, true).Return(pull.Result{}, nil)
	job := pullJob(`{"pull_job":"fetch_active_campaigns"}`)
	job.Force = true

	reply, err := NewPullHandler(runner).HandleJob(testContext(t), job)

	require.NoError(t, err)
	assert.Equal(t, []int64{}, reply.Pull.IDs)
	runner.AssertExpectations(t)
}

func TestPullHandler_Deferred(t *testing.T) {
	runner := new(handlermock.MockRunner)
	runner.On("Run", mock.Anything, "sync-1", pull.FetchNewOptOuts, false).Return(pull.Result{Deferred: true}, nil)

	reply, err := NewPullHandler(runner).HandleJob(testContext(t), pullJob(`{"pull_job":"fetch_new_opt_outs"}`))

	require.NoError(t, err)
	assert.True(t, reply.Success)
	assert.True(t, reply.Pull.Deferred)
}

func TestPullHandler_UnknownJobIsFatal(t *testing.T) {
	runner := new(handlermock.MockRunner)

	_, err := NewPullHandler(runner).HandleJob(testContext(t), pullJob(`{"pull_job":"fetch_everything"}`))

	assert.True(t, apperrors.IsFatal(err))
	assert.ErrorIs(t, err, apperrors.ErrBadRequest)
	runner.AssertNotCalled(t, "Run", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestPullHandler_RunFailureIsRetryable(t *testing.T) {
	runner := new(handlermock.MockRunner)
	runner.On("Run", mock.Anything, "sync-1", pull.FetchNewMessages, false).Return(pull.Result{}, errors.New("connection refused"))

	reply, err := NewPullHandler(runner).HandleJob(testContext(t), pullJob(`{"pull_job":"fetch_new_messages"}`))

	assert.Nil(t, reply)
	assert.True(t, apperrors.IsRetryable(err))
}
