package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/spoke-identity-sync/internal/apperrors"
	"gitlab.com/timkado/api/spoke-identity-sync/internal/audit"
	"gitlab.com/timkado/api/spoke-identity-sync/internal/config"
	"gitlab.com/timkado/api/spoke-identity-sync/internal/observer"
	"gitlab.com/timkado/api/spoke-identity-sync/pkg/logger"
	"gitlab.com/timkado/api/spoke-identity-sync/pkg/utils"
)

// HandlerFunc processes one fetched record of a sync run.
type HandlerFunc func(ctx context.Context, syncID string, recordID int64) error

// Task is one per-record handler invocation.
type Task struct {
	Ctx      context.Context // Parent context; cancellation is detached before the handler runs
	Name     string          // Handler name, used for logs and metrics
	SyncID   string
	RecordID int64
	Run      HandlerFunc
}

// Dispatcher schedules independent per-record handler invocations.
type Dispatcher interface {
	// Submit queues a task. An error means the task will not run.
	Submit(task Task) error
	// Wait blocks until every submitted task has finished.
	Wait()
	Stop()
}

// PoolDispatcher runs tasks on a bounded ants pool. Tasks are never retried;
// a failed or panicking task is logged and counted and does not affect siblings.
type PoolDispatcher struct {
	pool       *ants.PoolWithFunc
	cfg        config.HandlerWorkerPoolConfig
	baseLogger *zap.Logger
	inflight   sync.WaitGroup
}

var _ Dispatcher = (*PoolDispatcher)(nil)

// NewPoolDispatcher creates the handler worker pool.
func NewPoolDispatcher(cfg config.HandlerWorkerPoolConfig, baseLogger *zap.Logger) (*PoolDispatcher, error) {
	if baseLogger == nil {
		baseLogger = zap.NewNop()
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 10
	}
	d := &PoolDispatcher{
		cfg:        cfg,
		baseLogger: baseLogger.Named("dispatcher"),
	}

	opts := []ants.Option{
		ants.WithNonblocking(false), // Block the submitter while the pool is saturated, bounded by MaxBlockingTasks
		ants.WithMaxBlockingTasks(cfg.QueueSize),
		ants.WithPanicHandler(func(p interface{}) {
			d.baseLogger.Error("Panic recovered in handler worker", zap.Any("panic_error", p), zap.Stack("stack"))
			observer.ObserveHandler("unknown", "panic", 0)
		}),
	}
	if cfg.ExpiryTime > 0 {
		opts = append(opts, ants.WithExpiryDuration(cfg.ExpiryTime))
	}

	pool, err := ants.NewPoolWithFunc(cfg.PoolSize, func(i interface{}) {
		task, ok := i.(Task)
		if !ok {
			d.baseLogger.Error("Invalid task type received", zap.Any("data", i))
			return
		}
		defer d.inflight.Done()
		run(task, d.baseLogger)
		observer.SetDispatchWorkersRunning(d.pool.Running())
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create handler worker pool: %w", err)
	}
	d.pool = pool
	d.baseLogger.Info("Handler worker pool initialized",
		zap.Int("pool_size", cfg.PoolSize),
		zap.Int("queue_size", cfg.QueueSize),
		zap.Duration("expiry_time", cfg.ExpiryTime),
	)
	return d, nil
}

// Submit hands the task to the pool.
func (d *PoolDispatcher) Submit(task Task) error {
	if task.Run == nil {
		return fmt.Errorf("%w: task %s has no handler", apperrors.ErrBadRequest, task.Name)
	}

	d.inflight.Add(1)
	observer.SetDispatchQueueLength(d.pool.Waiting())

	if err := d.pool.Invoke(task); err != nil {
		d.inflight.Done()
		d.baseLogger.Warn("Failed to submit handler task to pool",
			zap.String("handler", task.Name),
			zap.String("sync_id", task.SyncID),
			zap.Int64("record_id", task.RecordID),
			zap.Error(err),
		)
		observer.ObserveHandler(task.Name, "submit_error", 0)
		if errors.Is(err, ants.ErrPoolOverload) {
			return fmt.Errorf("%w: %v", apperrors.ErrPoolOverload, err)
		}
		return fmt.Errorf("failed to invoke handler task: %w", err)
	}
	observer.SetDispatchWorkersRunning(d.pool.Running())
	return nil
}

// Wait blocks until all submitted tasks have run.
func (d *PoolDispatcher) Wait() {
	d.inflight.Wait()
}

// Stop releases the pool. Queued tasks that have not started are dropped.
func (d *PoolDispatcher) Stop() {
	d.baseLogger.Info("Stopping handler worker pool", zap.Int("running", d.pool.Running()), zap.Int("waiting", d.pool.Waiting()))
	d.pool.Release()
}

// Inline runs each task synchronously inside Submit. Handler failures are
// logged and counted exactly as on the pool, and never returned to the caller.
type Inline struct {
	baseLogger *zap.Logger
}

var _ Dispatcher = (*Inline)(nil)

// NewInline creates a synchronous dispatcher.
func NewInline(baseLogger *zap.Logger) *Inline {
	if baseLogger == nil {
		baseLogger = zap.NewNop()
	}
	return &Inline{baseLogger: baseLogger.Named("dispatcher")}
}

// Submit runs the task before returning.
func (d *Inline) Submit(task Task) error {
	if task.Run == nil {
		return fmt.Errorf("%w: task %s has no handler", apperrors.ErrBadRequest, task.Name)
	}
	run(task, d.baseLogger)
	return nil
}

func (d *Inline) Wait() {}

func (d *Inline) Stop() {}

// run executes one task in isolation: detached from the submitter's
// cancellation, tagged with the sync id, panics turned into errors.
func run(task Task, base *zap.Logger) {
	parent := task.Ctx
	if parent == nil {
		parent = context.Background()
	}
	ctx := audit.WithSyncID(context.WithoutCancel(parent), task.SyncID)
	ctx = logger.WithLogger(ctx, logger.FromContextOr(ctx, base).With(
		zap.String("handler", task.Name),
		zap.Int64("record_id", task.RecordID),
	))
	log := logger.FromContext(ctx)

	start := time.Now()
	err := utils.WrapWithContextRecovery(func(ctx context.Context) error {
		return task.Run(ctx, task.SyncID, task.RecordID)
	})(ctx)
	duration := time.Since(start)

	if err != nil {
		log.Error("Handler failed", zap.Duration("duration", duration), zap.Error(err))
		observer.ObserveHandler(task.Name, "failed", duration)
		return
	}
	log.Debug("Handler completed", zap.Duration("duration", duration))
	observer.ObserveHandler(task.Name, "success", duration)
}
