package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"gitlab.com/timkado/api/spoke-identity-sync/internal/alert"
	"gitlab.com/timkado/api/spoke-identity-sync/internal/config"
	"gitlab.com/timkado/api/spoke-identity-sync/internal/dispatch"
	"gitlab.com/timkado/api/spoke-identity-sync/internal/guard"
	"gitlab.com/timkado/api/spoke-identity-sync/internal/ingestion"
	"gitlab.com/timkado/api/spoke-identity-sync/internal/ingestion/handler"
	"gitlab.com/timkado/api/spoke-identity-sync/internal/jetstream"
	"gitlab.com/timkado/api/spoke-identity-sync/internal/model"
	"gitlab.com/timkado/api/spoke-identity-sync/internal/observer"
	"gitlab.com/timkado/api/spoke-identity-sync/internal/pull"
	"gitlab.com/timkado/api/spoke-identity-sync/internal/push"
	"gitlab.com/timkado/api/spoke-identity-sync/internal/spoke"
	"gitlab.com/timkado/api/spoke-identity-sync/internal/storage"
	"gitlab.com/timkado/api/spoke-identity-sync/internal/usecase"
	"gitlab.com/timkado/api/spoke-identity-sync/pkg/logger"
)

// app holds the wired components shared by every subcommand.
type app struct {
	cfg *config.Config

	repo       *storage.PostgresRepo
	spoke      *spoke.GormClient
	nats       *jetstream.Client // nil unless withNATS
	dispatcher dispatch.Dispatcher
	tracker    *guard.Tracker

	orchestrator *pull.Orchestrator
	batcher      *push.Batcher
}

type appOptions struct {
	withNATS bool
	inline   bool
}

// setup loads configuration and initializes logging and metrics.
func setup(configPath string) (*config.Config, error) {
	time.Local = time.UTC

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := logger.InitializeWithOptions(logger.Options{
		Level:      cfg.LogLevel,
		File:       cfg.LogFile.Path,
		MaxSizeMB:  cfg.LogFile.MaxSizeMB,
		MaxBackups: cfg.LogFile.MaxBackups,
		MaxAgeDays: cfg.LogFile.MaxAgeDays,
	}); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	observer.InitMetrics(cfg.Metrics.Enabled)
	return cfg, nil
}

func newApp(ctx context.Context, cfg *config.Config, opts appOptions) (*app, error) {
	a := &app{cfg: cfg, tracker: guard.NewTracker()}

	repo, err := initPostgresRepo(cfg)
	if err != nil {
		return nil, err
	}
	a.repo = repo

	client, err := initSpokeClient(cfg.Database.SpokeDSN)
	if err != nil {
		a.close(ctx)
		return nil, err
	}
	a.spoke = client

	var publisher alert.Publisher
	if opts.withNATS {
		js, err := initJetStreamClient(ctx, cfg)
		if err != nil {
			a.close(ctx)
			return nil, err
		}
		a.nats = js
		if cfg.NATS.AlertStream != "" {
			publisher = js
		}
	}

	if opts.inline {
		a.dispatcher = dispatch.NewInline(logger.Log)
	} else {
		pool, err := dispatch.NewPoolDispatcher(cfg.WorkerPools.Handlers, logger.Log)
		if err != nil {
			a.close(ctx)
			return nil, fmt.Errorf("failed to initialize handler worker pool: %w", err)
		}
		a.dispatcher = pool
	}

	adapter := storage.NewRepoAdapter(repo)
	alerts := alert.NewNotifier(publisher, cfg.NATS.AlertSubject)
	service := usecase.NewSyncService(client, adapter, adapter, alerts, cfg.Spoke)

	a.orchestrator = pull.NewOrchestrator(pull.Deps{
		Watermarks: adapter,
		Guard:      guard.NewCluster(a.tracker, repo),
		Spoke:      client,
		Dispatcher: a.dispatcher,
		Handlers:   service,
	}, cfg.Spoke)
	a.batcher = push.NewBatcher(adapter, client, cfg.Spoke)

	return a, nil
}

// close waits for dispatched handlers, then releases connections.
func (a *app) close(ctx context.Context) {
	if a.dispatcher != nil {
		a.dispatcher.Wait()
		a.dispatcher.Stop()
	}
	if a.nats != nil {
		a.nats.Close()
	}
	if a.spoke != nil {
		if err := a.spoke.Close(ctx); err != nil {
			logger.Log.Error("Failed to close Spoke connection", zap.Error(err))
		}
	}
	if a.repo != nil {
		if err := a.repo.Close(ctx); err != nil {
			logger.Log.Error("Failed to close PostgreSQL connection", zap.Error(err))
		}
	}
}

func initPostgresRepo(cfg *config.Config) (*storage.PostgresRepo, error) {
	if cfg.Database.PostgresDSN == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}

	repo, err := storage.NewPostgresRepo(cfg.Database.PostgresDSN, cfg.Database.PostgresAutoMigrate,
		storage.WithMobilePrefixes(cfg.Spoke.MobilePrefixes))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize postgres repository: %w", err)
	}

	logger.Log.Info("Initialized PostgreSQL repository")
	return repo, nil
}

func initSpokeClient(dsn string) (*spoke.GormClient, error) {
	if dsn == "" {
		return nil, fmt.Errorf("spoke DSN is required")
	}

	client, err := spoke.NewGormClient(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to spoke database: %w", err)
	}

	logger.Log.Info("Initialized Spoke client")
	return client, nil
}

// initJetStreamClient connects to NATS and makes sure the alert stream exists.
func initJetStreamClient(ctx context.Context, cfg *config.Config) (*jetstream.Client, error) {
	client, err := jetstream.NewClient(cfg.NATS.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream client: %w", err)
	}

	if cfg.NATS.AlertStream != "" {
		streamCfg := jetstream.AlertStreamConfig(cfg.NATS.AlertStream, cfg.NATS.AlertSubject)
		if err := client.SetupStream(ctx, streamCfg); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to set up alert stream: %w", err)
		}
	}
	return client, nil
}

// router registers the pull and push handlers shared by NATS intake and the CLI.
func (a *app) router() *ingestion.Router {
	router := ingestion.NewRouter()
	router.Register(model.SyncTypePull, handler.NewPullHandler(a.orchestrator).HandleJob)
	router.Register(model.SyncTypePush, handler.NewPushHandler(a.batcher).HandleJob)
	return router
}
