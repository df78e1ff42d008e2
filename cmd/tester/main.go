// Command tester sends sync job requests to a running service over NATS and
// summarizes the replies. It is meant for smoke and overlap testing: firing
// several pulls of one kind at once should yield deferred replies.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/panjf2000/ants/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/spoke-identity-sync/internal/config"
	"gitlab.com/timkado/api/spoke-identity-sync/internal/model"
	"gitlab.com/timkado/api/spoke-identity-sync/internal/pull"
	"gitlab.com/timkado/api/spoke-identity-sync/pkg/logger"
	"gitlab.com/timkado/api/spoke-identity-sync/pkg/utils"
)

type options struct {
	url         string
	subject     string
	job         string
	force       bool
	campaign    int64
	members     int
	maxMemberID int
	requests    int
	concurrency int
	timeout     time.Duration
}

type summary struct {
	success  atomic.Int64
	deferred atomic.Int64
	failed   atomic.Int64
	noReply  atomic.Int64
}

func main() {
	opts := options{}
	cmd := &cobra.Command{
		Use:          "tester",
		Short:        "Send sync job requests over NATS and summarize the replies",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(opts)
		},
	}

	cfg, err := config.LoadConfig("")
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	cmd.Flags().StringVar(&opts.url, "url", cfg.NATS.URL, "NATS server URL")
	cmd.Flags().StringVar(&opts.subject, "subject", cfg.NATS.JobSubject, "Job request subject")
	cmd.Flags().StringVar(&opts.job, "job", string(pull.FetchNewMessages), "Pull job to request; ignored when --campaign is set")
	cmd.Flags().BoolVar(&opts.force, "force", false, "Request forced pulls")
	cmd.Flags().Int64Var(&opts.campaign, "campaign", 0, "Send push jobs to this campaign instead of pulls")
	cmd.Flags().IntVar(&opts.members, "members", 10, "Random member ids per push job")
	cmd.Flags().IntVar(&opts.maxMemberID, "max-member-id", 1000, "Upper bound for random member ids")
	cmd.Flags().IntVar(&opts.requests, "requests", 5, "Number of requests to send")
	cmd.Flags().IntVar(&opts.concurrency, "concurrency", 5, "Requests in flight at once")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 2*time.Minute, "Per request reply timeout")

	if err := logger.Initialize(cfg.LogLevel); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(opts options) error {
	if opts.campaign == 0 {
		if _, err := pull.ParseJob(opts.job); err != nil {
			return err
		}
	}

	nc, err := nats.Connect(opts.url, nats.Name("spoke-identity-sync-tester"))
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer nc.Close()

	var (
		wg    sync.WaitGroup
		stats summary
	)
	pool, err := ants.NewPoolWithFunc(opts.concurrency, func(data interface{}) {
		defer wg.Done()
		send(nc, opts, data.(model.JobDescriptor), &stats)
	})
	if err != nil {
		return fmt.Errorf("failed to create request pool: %w", err)
	}
	defer pool.Release()

	start := time.Now()
	for i := 0; i < opts.requests; i++ {
		wg.Add(1)
		if err := pool.Invoke(descriptor(opts)); err != nil {
			wg.Done()
			stats.failed.Add(1)
			logger.Log.Warn("Failed to submit request", zap.Error(err))
		}
	}
	wg.Wait()

	logger.Log.Info("Requests finished",
		zap.Int("requests", opts.requests),
		zap.Int64("success", stats.success.Load()),
		zap.Int64("deferred", stats.deferred.Load()),
		zap.Int64("failed", stats.failed.Load()),
		zap.Int64("no_reply", stats.noReply.Load()),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}

func descriptor(opts options) model.JobDescriptor {
	job := model.JobDescriptor{SyncID: uuid.NewString(), Force: opts.force}
	if opts.campaign == 0 {
		job.SyncType = model.SyncTypePull
		job.ExternalSystemParams = string(utils.MustMarshalJSON(model.PullParams{PullJob: opts.job}))
		return job
	}

	job.SyncType = model.SyncTypePush
	job.ExternalSystemParams = fmt.Sprintf(`{"campaign_id": %d}`, opts.campaign)
	job.MemberIDs = make([]uint, opts.members)
	for i := range job.MemberIDs {
		job.MemberIDs[i] = uint(gofakeit.Number(1, opts.maxMemberID))
	}
	return job
}

func send(nc *nats.Conn, opts options, job model.JobDescriptor, stats *summary) {
	log := logger.Log.With(zap.String("sync_id", job.SyncID), zap.String("sync_type", job.SyncType))

	msg, err := nc.Request(opts.subject, utils.MustMarshalJSON(job), opts.timeout)
	if err != nil {
		stats.noReply.Add(1)
		log.Warn("No reply", zap.Error(err))
		return
	}

	var reply model.JobReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		stats.failed.Add(1)
		log.Warn("Undecodable reply", zap.Error(err))
		return
	}

	switch {
	case !reply.Success:
		stats.failed.Add(1)
		log.Warn("Job failed", zap.String("error", reply.Error), zap.Bool("retryable", reply.Retryable))
	case reply.Pull != nil && reply.Pull.Deferred:
		stats.deferred.Add(1)
		log.Info("Job deferred")
	default:
		stats.success.Add(1)
		log.Info("Job succeeded", zap.String("description", reply.Description))
	}
}
