package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/spoke-identity-sync/internal/apperrors"
	"gitlab.com/timkado/api/spoke-identity-sync/internal/jetstream"
	"gitlab.com/timkado/api/spoke-identity-sync/internal/model"
	"gitlab.com/timkado/api/spoke-identity-sync/internal/observer"
	"gitlab.com/timkado/api/spoke-identity-sync/internal/validator"
	"gitlab.com/timkado/api/spoke-identity-sync/pkg/logger"
	"gitlab.com/timkado/api/spoke-identity-sync/pkg/utils"
)

// JobConsumer answers job descriptor requests on a NATS subject. Replicas
// share a queue group so each request is handled once.
type JobConsumer struct {
	client  jetstream.ClientInterface
	router  RouterInterface
	subject string
	group   string
	ctx     context.Context
	cancel  context.CancelFunc
	sub     *nats.Subscription
}

// NewJobConsumer creates a consumer for subject in queue group group.
func NewJobConsumer(client jetstream.ClientInterface, router RouterInterface, subject, group string) *JobConsumer {
	ctx, cancel := context.WithCancel(context.Background())
	ctx = logger.WithLogger(ctx, logger.FromContext(ctx).With(zap.String("subject", subject), zap.String("group", group)))
	return &JobConsumer{
		client:  client,
		router:  router,
		subject: subject,
		group:   group,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start subscribes to the job subject.
func (c *JobConsumer) Start() error {
	log := logger.FromContext(c.ctx)
	log.Info("Starting job consumer subscription...")

	sub, err := c.client.QueueSubscribe(c.subject, c.group, c.handleMessage)
	if err != nil {
		log.Error("Failed to subscribe job consumer", zap.Error(err))
		return fmt.Errorf("failed to subscribe job consumer on '%s': %w", c.subject, err)
	}
	c.sub = sub
	log.Info("Job consumer subscribed successfully")
	return nil
}

// Stop drains the subscription so in-flight requests are answered.
func (c *JobConsumer) Stop() {
	log := logger.FromContext(c.ctx)
	log.Info("Stopping job consumer...")
	if c.sub != nil {
		if err := c.sub.Drain(); err != nil {
			log.Error("Error draining job subscription", zap.Error(err))
		}
	}
	if c.cancel != nil {
		c.cancel()
	}
	log.Info("Job consumer stopped")
}

func (c *JobConsumer) handleMessage(msg *nats.Msg) {
	reply := c.Process(c.ctx, msg.Data)
	if msg.Reply == "" {
		return
	}
	if err := msg.Respond(utils.MustMarshalJSON(reply)); err != nil {
		logger.FromContext(c.ctx).Error("Failed to respond to job request",
			zap.String("sync_id", reply.SyncID),
			zap.Error(err),
		)
	}
}

// Process decodes, validates and routes one job descriptor and always
// produces a reply. Panics in a handler become a failed reply.
func (c *JobConsumer) Process(ctx context.Context, data []byte) (reply model.JobReply) {
	startTime := utils.Now()
	log := logger.FromContext(ctx)

	var job model.JobDescriptor
	defer func() {
		if r := recover(); r != nil {
			log.Error("[panic] Recovered from panic in job handler",
				zap.Any("panic", r),
				zap.String("sync_id", job.SyncID),
				zap.Duration("duration", time.Since(startTime)),
				zap.Stack("stack"),
			)
			observer.IncJob(job.SyncType, "nats", "panic")
			reply = model.JobReply{SyncID: job.SyncID, Error: fmt.Sprintf("panic: %v", r)}
		}
	}()

	if err := json.Unmarshal(data, &job); err != nil {
		log.Warn("Failed to unmarshal job descriptor", zap.Error(err))
		observer.IncJob("", "nats", "invalid")
		return model.JobReply{Error: fmt.Sprintf("%v: %v", apperrors.ErrBadRequest, err)}
	}
	if err := validator.Validate(job); err != nil {
		log.Warn("Invalid job descriptor", zap.String("sync_id", job.SyncID), zap.Error(err))
		observer.IncJob(job.SyncType, "nats", "invalid")
		return model.JobReply{SyncID: job.SyncID, Error: err.Error()}
	}

	routed, err := c.router.Route(ctx, job)
	if routed != nil {
		reply = *routed
	}
	reply.SyncID = job.SyncID
	if err != nil {
		log.Error("Job failed",
			zap.String("sync_id", job.SyncID),
			zap.Bool("is_retryable", apperrors.IsRetryable(err)),
			zap.Duration("duration", time.Since(startTime)),
			zap.Error(err),
		)
		observer.IncJob(job.SyncType, "nats", "failed")
		reply.Success = false
		reply.Error = err.Error()
		reply.Retryable = apperrors.IsRetryable(err)
		return reply
	}

	log.Info("Job completed", zap.String("sync_id", job.SyncID), zap.Duration("duration", time.Since(startTime)))
	observer.IncJob(job.SyncType, "nats", "success")
	return reply
}
