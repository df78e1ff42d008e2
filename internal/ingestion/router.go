package ingestion

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"gitlab.com/timkado/api/spoke-identity-sync/internal/apperrors"
	"gitlab.com/timkado/api/spoke-identity-sync/internal/audit"
	"gitlab.com/timkado/api/spoke-identity-sync/internal/model"
	"gitlab.com/timkado/api/spoke-identity-sync/pkg/logger"
)

// JobHandler processes one job descriptor.
type JobHandler func(ctx context.Context, job model.JobDescriptor) (*model.JobReply, error)

// Router routes job descriptors by sync type.
type Router struct {
	handlers map[string]JobHandler
}

// NewRouter creates a new job router
func NewRouter() *Router {
	return &Router{
		handlers: make(map[string]JobHandler),
	}
}

// Register registers a handler for a sync type
func (r *Router) Register(syncType string, handler JobHandler) {
	r.handlers[syncType] = handler
}

// Route hands job to the handler registered for its sync type.
func (r *Router) Route(ctx context.Context, job model.JobDescriptor) (*model.JobReply, error) {
	ctx = audit.WithSyncID(ctx, job.SyncID)
	ctx = logger.WithLogger(ctx, logger.FromContextOr(ctx, nil).With(zap.String("sync_type", job.SyncType)))
	log := logger.FromContext(ctx)

	handler, ok := r.handlers[job.SyncType]
	if !ok {
		log.Error("No handler registered for sync type")
		return nil, apperrors.NewFatal(apperrors.ErrBadRequest, "unsupported sync type %q", job.SyncType)
	}

	log.Info("Job received", zap.Int("member_ids", len(job.MemberIDs)))
	reply, err := handler(ctx, job)
	if err != nil {
		return reply, fmt.Errorf("%s job %s: %w", job.SyncType, job.SyncID, err)
	}
	return reply, nil
}
