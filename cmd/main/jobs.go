package main

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/spoke-identity-sync/internal/model"
	"gitlab.com/timkado/api/spoke-identity-sync/internal/pull"
	"gitlab.com/timkado/api/spoke-identity-sync/internal/validator"
	"gitlab.com/timkado/api/spoke-identity-sync/pkg/logger"
	"gitlab.com/timkado/api/spoke-identity-sync/pkg/utils"
)

var pullCmd = &cobra.Command{
	Use:       "pull <job>",
	Short:     "Run one pull job and print its result",
	Long:      "Run one of fetch_new_messages, fetch_new_opt_outs or fetch_active_campaigns and wait for its handlers.",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{string(pull.FetchNewMessages), string(pull.FetchNewOptOuts), string(pull.FetchActiveCampaigns)},
	RunE:      runPull,
}

var pushCmd = &cobra.Command{
	Use:   "push",
	Short: "Push members into a Spoke campaign and print the batch results",
	RunE:  runPush,
}

var (
	pullForce     bool
	pushCampaign  int64
	pushMemberIDs []uint
	jobSyncID     string
)

func init() {
	rootCmd.AddCommand(pullCmd, pushCmd)
	rootCmd.PersistentFlags().StringVar(&jobSyncID, "sync-id", "", "Sync id recorded on every written row (generated when empty)")

	pullCmd.Flags().BoolVar(&pullForce, "force", false, "Ignore the stored watermark and rescan everything")

	pushCmd.Flags().Int64Var(&pushCampaign, "campaign", 0, "Target Spoke campaign id")
	pushCmd.Flags().UintSliceVar(&pushMemberIDs, "members", nil, "Comma separated member ids, in push order")
	_ = pushCmd.MarkFlagRequired("campaign")
	_ = pushCmd.MarkFlagRequired("members")
}

func runPull(cmd *cobra.Command, args []string) error {
	kind, err := pull.ParseJob(args[0])
	if err != nil {
		return err
	}
	params := utils.MustMarshalJSON(model.PullParams{PullJob: kind.String()})
	return runJob(cmd.Context(), model.JobDescriptor{
		SyncType:             model.SyncTypePull,
		ExternalSystemParams: string(params),
		Force:                pullForce,
	})
}

func runPush(cmd *cobra.Command, args []string) error {
	params := fmt.Sprintf(`{"campaign_id": %d}`, pushCampaign)
	return runJob(cmd.Context(), model.JobDescriptor{
		SyncType:             model.SyncTypePush,
		ExternalSystemParams: params,
		MemberIDs:            pushMemberIDs,
	})
}

// runJob routes job exactly as NATS intake would and prints the reply as JSON.
func runJob(ctx context.Context, job model.JobDescriptor) error {
	cfg, err := setup(configPath)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if ctx == nil {
		ctx = context.Background()
	}
	ctx = logger.WithLogger(ctx, logger.Log.With(zap.String("source", "cli")))

	job.SyncID = jobSyncID
	if job.SyncID == "" {
		job.SyncID = uuid.NewString()
	}
	if err := validator.Validate(job); err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, appOptions{inline: inline})
	if err != nil {
		return err
	}
	// Handlers dispatched to the pool must finish before the process exits.
	defer a.close(ctx)

	reply, routeErr := a.router().Route(ctx, job)
	if reply != nil {
		fmt.Fprintln(os.Stdout, string(utils.MustMarshalJSON(reply)))
	}
	return routeErr
}
