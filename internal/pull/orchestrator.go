package pull

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"gitlab.com/timkado/api/spoke-identity-sync/internal/audit"
	"gitlab.com/timkado/api/spoke-identity-sync/internal/config"
	"gitlab.com/timkado/api/spoke-identity-sync/internal/dispatch"
	"gitlab.com/timkado/api/spoke-identity-sync/internal/guard"
	"gitlab.com/timkado/api/spoke-identity-sync/internal/observer"
	"gitlab.com/timkado/api/spoke-identity-sync/internal/spoke"
	"gitlab.com/timkado/api/spoke-identity-sync/internal/storage"
	"gitlab.com/timkado/api/spoke-identity-sync/pkg/logger"
)

// Handlers are the per-record handlers a pull dispatches to.
type Handlers interface {
	HandleNewMessage(ctx context.Context, syncID string, messageID int64) error
	HandleNewOptOut(ctx context.Context, syncID string, optOutID int64) error
	HandleCampaign(ctx context.Context, syncID string, campaignID int64) error
}

// Runner runs pull jobs. Implemented by Orchestrator.
type Runner interface {
	Run(ctx context.Context, syncID string, kind JobKind, force bool) (Result, error)
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Watermarks storage.WatermarkRepo
	Guard      guard.Guard
	Spoke      spoke.Client
	Dispatcher dispatch.Dispatcher
	Handlers   Handlers
}

// Orchestrator runs one pull: guard, fetch, dispatch, then watermark advance.
type Orchestrator struct {
	deps                 Deps
	batchSize            int
	optOutSubscriptionID uint
}

var _ Runner = (*Orchestrator)(nil)

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(deps Deps, cfg config.SpokeConfig) *Orchestrator {
	return &Orchestrator{
		deps:                 deps,
		batchSize:            cfg.PullBatch(),
		optOutSubscriptionID: cfg.OptOutSubscriptionID,
	}
}

// record is the part of a fetched row the orchestrator needs.
type record struct {
	id        int64
	createdAt time.Time
}

type fetchFunc func(ctx context.Context, cursor spoke.Cursor, limit int) ([]record, error)

// cursorJob is a watermark-driven pull.
type cursorJob struct {
	key     string
	def     time.Time
	fetch   fetchFunc
	handler string
	run     dispatch.HandlerFunc
}

// Run executes one pull of kind. A kind that is already running yields a
// deferred result without touching the source, the pool or the watermark.
func (o *Orchestrator) Run(ctx context.Context, syncID string, kind JobKind, force bool) (Result, error) {
	if _, err := ParseJob(string(kind)); err != nil {
		return Result{}, err
	}

	ctx = audit.WithJobKind(audit.WithSyncID(ctx, syncID), kind.String())
	log := logger.FromContext(ctx).With(zap.String("job", kind.String()), zap.Bool("force", force))

	release, ok, err := o.deps.Guard.Begin(ctx, kind.String())
	if err != nil {
		log.Error("Failed to check for a running pull", zap.Error(err))
		observer.IncPullRun(kind.String(), "failed")
		return Result{}, fmt.Errorf("guard %s: %w", kind, err)
	}
	if !ok {
		log.Info("Pull already running, deferring")
		observer.IncPullRun(kind.String(), "deferred")
		return Result{Deferred: true}, nil
	}
	defer release()

	start := time.Now()
	var result Result
	switch kind {
	case FetchNewMessages:
		result, err = o.runCursorJob(ctx, syncID, o.messagesJob(), force)
	case FetchNewOptOuts:
		if o.optOutSubscriptionID == 0 {
			log.Debug("No opt-out subscription configured, skipping")
			observer.IncPullRun(kind.String(), "skipped")
			return Result{}, nil
		}
		result, err = o.runCursorJob(ctx, syncID, o.optOutsJob(), force)
	case FetchActiveCampaigns:
		result, err = o.runCampaigns(ctx, syncID)
	}
	duration := time.Since(start)
	observer.ObservePullRunDuration(kind.String(), duration)

	if err != nil {
		log.Error("Pull failed", zap.Duration("duration", duration), zap.Error(err))
		observer.IncPullRun(kind.String(), "failed")
		return Result{}, err
	}

	log.Info("Pull completed", zap.Int("count", result.Count), zap.Duration("duration", duration))
	observer.IncPullRun(kind.String(), "success")
	return result, nil
}

func (o *Orchestrator) messagesJob() cursorJob {
	return cursorJob{
		key: MessagesWatermarkKey,
		def: defaultMessagesSince,
		fetch: func(ctx context.Context, cursor spoke.Cursor, limit int) ([]record, error) {
			messages, err := o.deps.Spoke.UpdatedMessages(ctx, cursor, limit)
			if err != nil {
				return nil, err
			}
			out := make([]record, len(messages))
			for i, m := range messages {
				out[i] = record{id: m.ID, createdAt: m.CreatedAt}
			}
			return out, nil
		},
		handler: "handle_new_message",
		run:     o.deps.Handlers.HandleNewMessage,
	}
}

func (o *Orchestrator) optOutsJob() cursorJob {
	return cursorJob{
		key: OptOutsWatermarkKey,
		def: defaultOptOutsSince,
		fetch: func(ctx context.Context, cursor spoke.Cursor, limit int) ([]record, error) {
			optOuts, err := o.deps.Spoke.UpdatedOptOuts(ctx, cursor, limit)
			if err != nil {
				return nil, err
			}
			out := make([]record, len(optOuts))
			for i, oo := range optOuts {
				out[i] = record{id: oo.ID, createdAt: oo.CreatedAt}
			}
			return out, nil
		},
		handler: "handle_new_opt_out",
		run:     o.deps.Handlers.HandleNewOptOut,
	}
}

func (o *Orchestrator) runCursorJob(ctx context.Context, syncID string, job cursorJob, force bool) (Result, error) {
	from, err := o.deps.Watermarks.Get(ctx, job.key, job.def)
	if err != nil {
		return Result{}, fmt.Errorf("read watermark %s: %w", job.key, err)
	}

	since := from
	if force {
		since = time.Time{}
	}
	records, err := o.collect(ctx, job.fetch, since, force)
	if err != nil {
		return Result{}, fmt.Errorf("fetch %s: %w", job.key, err)
	}

	ids := make([]int64, len(records))
	for i, r := range records {
		ids[i] = r.id
	}
	if err := o.dispatch(ctx, syncID, job.handler, job.run, ids); err != nil {
		return Result{}, err
	}

	result := Result{Count: len(records), IDs: ids, Audit: Audit{Scope: job.key, From: &from}}
	if len(records) == 0 {
		return result, nil
	}

	to := records[0].createdAt
	for _, r := range records[1:] {
		if r.createdAt.After(to) {
			to = r.createdAt
		}
	}
	// A forced rescan can reach rows older than the stored cursor; never move it back.
	if to.Before(from) {
		to = from
	}
	to = to.UTC()
	if err := o.deps.Watermarks.Set(ctx, job.key, to); err != nil {
		return Result{}, fmt.Errorf("advance watermark %s: %w", job.key, err)
	}
	result.Audit.To = &to
	return result, nil
}

// collect pages through the delta since the cursor. A full page that is not
// forced drops its trailing tie group so the next run picks those rows up
// whole; if the entire page shares one timestamp it keeps paging by keyset
// until the tie group is exhausted. A forced run pages through everything.
func (o *Orchestrator) collect(ctx context.Context, fetch fetchFunc, since time.Time, force bool) ([]record, error) {
	var (
		out    []record
		cursor = spoke.Cursor{Since: since}
	)
	for {
		page, err := fetch(ctx, cursor, o.batchSize)
		if err != nil {
			return nil, err
		}
		if len(page) < o.batchSize {
			return append(out, page...), nil
		}

		last := page[len(page)-1]
		if !force {
			if trimmed := dropTrailingTieGroup(page); len(trimmed) > 0 {
				return append(out, trimmed...), nil
			}
		}
		out = append(out, page...)
		cursor = spoke.Cursor{Since: last.createdAt, AfterID: last.id}
	}
}

func dropTrailingTieGroup(page []record) []record {
	last := page[len(page)-1].createdAt
	end := len(page)
	for end > 0 && page[end-1].createdAt.Equal(last) {
		end--
	}
	return page[:end]
}

// runCampaigns dispatches every active campaign. There is no cursor.
func (o *Orchestrator) runCampaigns(ctx context.Context, syncID string) (Result, error) {
	var (
		ids     []int64
		afterID int64
	)
	for {
		campaigns, err := o.deps.Spoke.ActiveCampaigns(ctx, afterID, o.batchSize)
		if err != nil {
			return Result{}, fmt.Errorf("fetch active campaigns: %w", err)
		}
		for _, c := range campaigns {
			ids = append(ids, c.ID)
		}
		if len(campaigns) < o.batchSize {
			break
		}
		afterID = campaigns[len(campaigns)-1].ID
	}

	if err := o.dispatch(ctx, syncID, "handle_campaign", o.deps.Handlers.HandleCampaign, ids); err != nil {
		return Result{}, err
	}
	if ids == nil {
		ids = []int64{}
	}
	return Result{Count: len(ids), IDs: ids}, nil
}

// dispatch submits one task per id. The first submission failure aborts the run.
func (o *Orchestrator) dispatch(ctx context.Context, syncID, handler string, run dispatch.HandlerFunc, ids []int64) error {
	job := audit.JobKindFromContext(ctx)
	for i, id := range ids {
		err := o.deps.Dispatcher.Submit(dispatch.Task{
			Ctx:      ctx,
			Name:     handler,
			SyncID:   syncID,
			RecordID: id,
			Run:      run,
		})
		if err != nil {
			observer.AddRecordsDispatched(job, i)
			return fmt.Errorf("dispatch %s for record %d: %w", handler, id, err)
		}
	}
	observer.AddRecordsDispatched(job, len(ids))
	logger.FromContext(ctx).Debug("Records dispatched",
		zap.String("handler", handler),
		zap.Int("count", len(ids)),
	)
	return nil
}
