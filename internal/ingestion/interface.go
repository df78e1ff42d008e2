package ingestion

import (
	"context"

	"gitlab.com/timkado/api/spoke-identity-sync/internal/model"
)

// RouterInterface routes a job descriptor to the handler of its sync type.
type RouterInterface interface {
	Register(syncType string, handler JobHandler)
	Route(ctx context.Context, job model.JobDescriptor) (*model.JobReply, error)
}

// ConsumerInterface defines the basic methods for a NATS job consumer
type ConsumerInterface interface {
	Start() error
	Stop()
}

var _ RouterInterface = (*Router)(nil)
var _ ConsumerInterface = (*JobConsumer)(nil)
