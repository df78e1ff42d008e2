package handler

import (
	"context"

	"gitlab.com/timkado/api/spoke-identity-sync/internal/model"
)

// JobHandlerInterface handles one validated job descriptor of a sync type.
type JobHandlerInterface interface {
	HandleJob(ctx context.Context, job model.JobDescriptor) (*model.JobReply, error)
}

// PullHandlerInterface handles pull descriptors.
type PullHandlerInterface interface {
	JobHandlerInterface
}

// PushHandlerInterface handles push descriptors.
type PushHandlerInterface interface {
	JobHandlerInterface
}

var _ PullHandlerInterface = (*PullHandler)(nil)
var _ PushHandlerInterface = (*PushHandler)(nil)
