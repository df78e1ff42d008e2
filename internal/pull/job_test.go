package pull

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/timkado/api/spoke-identity-sync/internal/apperrors"
	"gitlab.com/timkado/api/spoke-identity-sync/internal/model"
)

func TestParseJob(t *testing.T) {
	for _, kind := range Kinds() {
		got, err := ParseJob(string(kind))
		require.NoError(t, err)
		assert.Equal(t, kind, got)
	}

	_, err := ParseJob("fetch_everything")
	assert.ErrorIs(t, err, apperrors.ErrBadRequest)
	_, err = ParseJob("")
	assert.ErrorIs(t, err, apperrors.ErrBadRequest)
}

func TestParseParams(t *testing.T) {
	kind, err := ParseParams(model.JobDescriptor{ExternalSystemParams: `{"pull_job":"fetch_new_opt_outs"}`})
	require.NoError(t, err)
	assert.Equal(t, FetchNewOptOuts, kind)

	_, err = ParseParams(model.JobDescriptor{ExternalSystemParams: `{"pull_job":"send_all_the_things"}`})
	assert.ErrorIs(t, err, apperrors.ErrBadRequest)

	_, err = ParseParams(model.JobDescriptor{ExternalSystemParams: `not json`})
	assert.ErrorIs(t, err, apperrors.ErrBadRequest)
}

func TestDescription(t *testing.T) {
	assert.Equal(t, "Spoke: fetch_new_messages", Description(FetchNewMessages))
	assert.Equal(t, "Spoke: fetch_active_campaigns", Description(FetchActiveCampaigns))
}

func TestResultReply(t *testing.T) {
	from := time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 3, 2, 10, 11, 12, 500000000, time.UTC)

	reply := Result{Count: 2, IDs: []int64{4, 5}, Audit: Audit{Scope: MessagesWatermarkKey, From: &from, To: &to}}.Reply()

	assert.Equal(t, 2, reply.Count)
	assert.Equal(t, []int64{4, 5}, reply.IDs)
	assert.Equal(t, MessagesWatermarkKey, reply.Audit.Scope)
	require.NotNil(t, reply.Audit.From)
	assert.Equal(t, "2019-01-01 00:00:00", *reply.Audit.From)
	require.NotNil(t, reply.Audit.To)
	assert.Equal(t, "2024-03-02 10:11:12.5", *reply.Audit.To)
	assert.False(t, reply.Deferred)

	deferred := Result{Deferred: true}.Reply()
	assert.True(t, deferred.Deferred)
	assert.Equal(t, []int64{}, deferred.IDs)
	assert.Nil(t, deferred.Audit.From)
	assert.Nil(t, deferred.Audit.To)
}
