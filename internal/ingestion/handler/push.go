package handler

import (
	"context"

	"go.uber.org/zap"

	"gitlab.com/timkado/api/spoke-identity-sync/internal/apperrors"
	"gitlab.com/timkado/api/spoke-identity-sync/internal/model"
	"gitlab.com/timkado/api/spoke-identity-sync/internal/push"
	"gitlab.com/timkado/api/spoke-identity-sync/pkg/logger"
)

// Pusher writes member batches to a Spoke campaign. Implemented by push.Batcher.
type Pusher interface {
	CampaignName(ctx context.Context, campaignID int64) (string, error)
	BaseCampaignURL(campaignID int64) string
	Push(ctx context.Context, syncID string, campaignID int64, memberIDs []uint, yield func(push.BatchResult) error) error
}

var _ Pusher = (*push.Batcher)(nil)

// PushHandler runs push descriptors.
type PushHandler struct {
	pusher Pusher
}

// NewPushHandler creates a push handler.
func NewPushHandler(pusher Pusher) *PushHandler {
	return &PushHandler{pusher: pusher}
}

// HandleJob decodes {"campaign_id": ...} and pushes the descriptor's members.
// On failure the reply still lists the batches written before it.
func (h *PushHandler) HandleJob(ctx context.Context, job model.JobDescriptor) (*model.JobReply, error) {
	params, err := job.DecodePushParams()
	if err != nil {
		return nil, apperrors.NewFatal(apperrors.ErrBadRequest, "invalid push params: %v", err)
	}
	campaignID, err := push.CampaignID(params)
	if err != nil {
		return nil, apperrors.NewFatal(err, "invalid push params")
	}

	log := logger.FromContext(ctx).With(zap.Int64("campaign_id", campaignID))
	name, err := h.pusher.CampaignName(ctx, campaignID)
	if err != nil {
		if apperrors.IsNotFoundError(err) {
			return nil, apperrors.NewFatal(err, "push target missing")
		}
		return nil, apperrors.NewRetryable(err, "load push target")
	}
	description, err := push.Description(job.SyncType, job.ExternalSystemParams, name)
	if err != nil {
		return nil, apperrors.NewFatal(err, "describe push")
	}

	log.Info("Processing push job", zap.Int("members", len(job.MemberIDs)))
	reply := &model.JobReply{
		SyncID:      job.SyncID,
		Description: description,
		CampaignURL: h.pusher.BaseCampaignURL(campaignID),
		Push:        []model.PushReply{},
	}
	err = h.pusher.Push(ctx, job.SyncID, campaignID, job.MemberIDs, func(r push.BatchResult) error {
		reply.Push = append(reply.Push, r.Reply())
		return nil
	})
	if err != nil {
		reply.Error = err.Error()
		return reply, apperrors.NewRetryable(err, "push to campaign %d failed", campaignID)
	}
	reply.Success = true
	return reply, nil
}
