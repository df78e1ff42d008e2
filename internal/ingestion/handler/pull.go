package handler

import (
	"context"

	"go.uber.org/zap"

	"gitlab.com/timkado/api/spoke-identity-sync/internal/apperrors"
	"gitlab.com/timkado/api/spoke-identity-sync/internal/model"
	"gitlab.com/timkado/api/spoke-identity-sync/internal/pull"
	"gitlab.com/timkado/api/spoke-identity-sync/pkg/logger"
)

// PullHandler runs pull descriptors through the orchestrator.
type PullHandler struct {
	runner pull.Runner
}

// NewPullHandler creates a pull handler.
func NewPullHandler(runner pull.Runner) *PullHandler {
	return &PullHandler{runner: runner}
}

// HandleJob decodes {"pull_job": ...} and runs it. A deferred run is a
// successful reply with deferred set.
func (h *PullHandler) HandleJob(ctx context.Context, job model.JobDescriptor) (*model.JobReply, error) {
	kind, err := pull.ParseParams(job)
	if err != nil {
		return nil, apperrors.NewFatal(err, "invalid pull params")
	}

	log := logger.FromContext(ctx)
	log.Info("Processing pull job", zap.String("job", kind.String()), zap.Bool("force", job.Force))

	result, err := h.runner.Run(ctx, job.SyncID, kind, job.Force)
	if err != nil {
		return nil, apperrors.NewRetryable(err, "pull %s failed", kind)
	}

	return &model.JobReply{
		SyncID:      job.SyncID,
		Description: pull.Description(kind),
		Success:     true,
		Pull:        result.Reply(),
	}, nil
}
