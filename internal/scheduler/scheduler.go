package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/spoke-identity-sync/internal/config"
	"gitlab.com/timkado/api/spoke-identity-sync/internal/pull"
	"gitlab.com/timkado/api/spoke-identity-sync/pkg/logger"
)

// Job is one pull kind and how often it runs.
type Job struct {
	Kind     pull.JobKind
	Interval time.Duration
}

// JobsFromConfig returns the enabled pull jobs. A zero interval disables a job.
func JobsFromConfig(cfg config.ScheduleConfig) []Job {
	if !cfg.Enabled {
		return nil
	}
	all := []Job{
		{Kind: pull.FetchNewMessages, Interval: cfg.FetchNewMessages},
		{Kind: pull.FetchNewOptOuts, Interval: cfg.FetchNewOptOuts},
		{Kind: pull.FetchActiveCampaigns, Interval: cfg.FetchActiveCampaigns},
	}
	jobs := make([]Job, 0, len(all))
	for _, j := range all {
		if j.Interval > 0 {
			jobs = append(jobs, j)
		}
	}
	return jobs
}

// Scheduler triggers each pull job on its own ticker. Overlap of a slow run
// with the next tick is handled by the orchestrator's guard.
type Scheduler struct {
	runner pull.Runner
	jobs   []Job

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a scheduler for jobs.
func New(runner pull.Runner, jobs []Job) *Scheduler {
	return &Scheduler{runner: runner, jobs: jobs}
}

// Start launches one goroutine per job. It returns immediately.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)

	for _, job := range s.jobs {
		s.wg.Add(1)
		go s.loop(ctx, job)
	}
	logger.FromContext(ctx).Info("Scheduler started", zap.Int("jobs", len(s.jobs)))
}

// Stop cancels every loop and waits for in-progress runs to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	defer s.wg.Done()
	log := logger.FromContext(ctx).With(zap.String("job", job.Kind.String()), zap.Duration("interval", job.Interval))

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.trigger(ctx, log, job.Kind)
		case <-ctx.Done():
			log.Debug("Scheduler loop stopped")
			return
		}
	}
}

func (s *Scheduler) trigger(ctx context.Context, log *zap.Logger, kind pull.JobKind) {
	syncID := uuid.NewString()
	result, err := s.runner.Run(ctx, syncID, kind, false)
	if err != nil {
		log.Error("Scheduled pull failed", zap.String("sync_id", syncID), zap.Error(err))
		return
	}
	if result.Deferred {
		log.Info("Scheduled pull deferred, previous run still in progress", zap.String("sync_id", syncID))
	}
}
