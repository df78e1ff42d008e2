package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/spoke-identity-sync/internal/healthcheck"
	"gitlab.com/timkado/api/spoke-identity-sync/internal/ingestion"
	"gitlab.com/timkado/api/spoke-identity-sync/internal/scheduler"
	"gitlab.com/timkado/api/spoke-identity-sync/pkg/logger"
	"gitlab.com/timkado/api/spoke-identity-sync/pkg/utils"
)

const shutdownTimeout = 30 * time.Second

var (
	configPath string
	inline     bool
)

var rootCmd = &cobra.Command{
	Use:   "spoke-identity-sync",
	Short: "Synchronize Spoke campaign data with the Identity store",
	Long: `Pulls new messages, opt-outs and active campaigns from the Spoke database
into the Identity store, and pushes Identity members into Spoke campaigns.

Run "serve" for the long-running service (NATS job intake, scheduler and
HTTP endpoints), or "pull" and "push" for one-off runs.`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler, NATS job intake and HTTP endpoints",
	RunE:  runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Directory containing default.yaml")
	rootCmd.PersistentFlags().BoolVar(&inline, "inline", false, "Run per-record handlers synchronously instead of on the worker pool")
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := setup(configPath)
	if err != nil {
		return err
	}
	defer logger.Sync()

	logger.Log.Info("Starting Spoke Identity Sync",
		zap.String("environment", cfg.Environment),
		zap.String("nats_url", cfg.NATS.URL),
		zap.Bool("inline", inline),
	)

	mainCtx, mainCancel := context.WithCancel(context.Background())
	defer mainCancel()
	mainCtx = logger.WithLogger(mainCtx, logger.Log)

	a, err := newApp(mainCtx, cfg, appOptions{withNATS: true, inline: inline})
	if err != nil {
		logger.Log.Error("Failed to initialize service", zap.Error(err))
		return err
	}

	consumer := ingestion.NewJobConsumer(a.nats, a.router(), cfg.NATS.JobSubject, cfg.NATS.QueueGroup)
	if err := consumer.Start(); err != nil {
		a.close(mainCtx)
		return fmt.Errorf("failed to start job consumer: %w", err)
	}

	sched := scheduler.New(a.orchestrator, scheduler.JobsFromConfig(cfg.Schedule))
	sched.Start(mainCtx)

	healthServer := healthcheck.NewServer(strconv.Itoa(cfg.Server.Port), logger.Log)
	healthServer.AddReadinessCheck("postgres", a.repo.Ping)
	healthServer.AddReadinessCheck("spoke", a.spoke.Ping)
	healthServer.AddReadinessCheck("nats", func(context.Context) error {
		if !a.nats.NatsConn().IsConnected() {
			return fmt.Errorf("nats connection is %s", a.nats.NatsConn().Status())
		}
		return nil
	})
	healthServer.RegisterJobRoutes(a.orchestrator, a.tracker.Running)
	if cfg.Metrics.Enabled {
		healthServer.RegisterMetricsHandler(promhttp.Handler())
		logger.Log.Info("Metrics endpoint enabled", zap.String("path", "/metrics"), zap.Int("port", cfg.Server.Port))
	}
	healthServer.Start()

	logger.Log.Info("HTTP endpoints available",
		zap.String("health", fmt.Sprintf("http://localhost:%d/health", cfg.Server.Port)),
		zap.String("readiness", fmt.Sprintf("http://localhost:%d/ready", cfg.Server.Port)),
		zap.String("jobs", fmt.Sprintf("http://localhost:%d/jobs", cfg.Server.Port)),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Log.Info("Received termination signal", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	logger.Log.Info("Starting graceful shutdown", zap.Duration("timeout", shutdownTimeout))

	// Intake first, so no new run starts while the rest drains.
	var wg sync.WaitGroup
	wg.Add(2)
	shutdown(&wg, "job consumer", consumer.Stop)
	shutdown(&wg, "health check server", func() {
		if err := healthServer.Stop(shutdownCtx); err != nil {
			logger.Log.Error("[shutdown] Error stopping health check server", zap.Error(err))
		}
	})
	wg.Wait()

	mainCancel()
	sched.Stop()

	waitCh := make(chan struct{})
	go func() {
		a.close(shutdownCtx)
		close(waitCh)
	}()

	select {
	case <-waitCh:
		logger.Log.Info("[shutdown] All components stopped gracefully")
	case <-shutdownCtx.Done():
		logger.Log.Warn("[shutdown] Graceful shutdown timed out, forcing exit")
	}

	logger.Log.Info("Spoke Identity Sync shutdown complete")
	return nil
}

// shutdown stops one component in the background, surviving a panic.
func shutdown(wg *sync.WaitGroup, name string, stop func()) {
	utils.SafeGo(func() {
		defer wg.Done()
		logger.Log.Info("[shutdown] Stopping " + name)
		start := time.Now()
		stop()
		logger.Log.Info("[shutdown] Stopped "+name, zap.Duration("duration", time.Since(start)))
	}, func(r interface{}, stack []byte) {
		logger.Log.Error("[shutdown] Panic while stopping "+name,
			zap.Any("panic", r),
			zap.ByteString("stack", stack),
		)
		wg.Done()
	})
}
