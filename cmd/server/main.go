package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ignite/fan-automation/internal/api"
	"github.com/ignite/fan-automation/internal/app"
	"github.com/ignite/fan-automation/internal/auth"
	"github.com/ignite/fan-automation/internal/config"
	"github.com/ignite/fan-automation/internal/pkg/logger"
	"github.com/ignite/fan-automation/internal/tracking"
	"github.com/ignite/fan-automation/internal/worker"
)

// checkPortAvailable verifies that the target port is not already in use.
func checkPortAvailable(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("port %d is already in use (addr %s): %v", port, addr, err)
	}
	ln.Close()
	return nil
}

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	app.ConfigureLogging(cfg.Log)

	host := cfg.Server.GetHost()
	if err := checkPortAvailable(host, cfg.Server.Port); err != nil {
		log.Fatalf("Pre-flight check FAILED: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	defer a.Close()

	g, gctx := errgroup.WithContext(ctx)

	// Events go to SQS when a queue is configured so cmd/worker can consume
	// them; otherwise they are handled in-process.
	var dispatcher *worker.Dispatcher
	if cfg.Events.SQS.QueueURL != "" {
		client, err := a.SQSClient(ctx)
		if err != nil {
			log.Fatalf("Failed to create SQS client: %v", err)
		}
		a.Events.SetNotifier(tracking.NewPublisher(client, cfg.Events.SQS.QueueURL))
		logger.Info("server: publishing events to SQS", "queue_url", cfg.Events.SQS.QueueURL)
	} else {
		dispatcher = worker.NewDispatcher(a.Pipeline, worker.DispatcherConfig{
			Workers:   cfg.Events.DispatchWorkers,
			QueueSize: cfg.Events.QueueSize,
		})
		a.Events.SetNotifier(dispatcher)
		g.Go(func() error { return dispatcher.Run(gctx) })
	}

	g.Go(func() error { return a.Runner.Run(gctx) })
	g.Go(func() error { return a.Recovery.Start(gctx) })
	// The re-notify sweep lives with the notifier.
	g.Go(func() error { return a.EventRecovery.Start(gctx) })

	authManager := auth.NewAuthManager(cfg.Auth)
	if !authManager.Enabled() {
		logger.Warn("server: no admin credentials configured, admin endpoints will reject every request")
	}
	s3Client, err := a.S3Client(ctx)
	if err != nil {
		logger.Warn("server: export bucket health check disabled", "error", err.Error())
	}
	var bucket api.BucketHeader
	if s3Client != nil {
		bucket = s3Client
	}
	health := api.NewHealthChecker(a.DB, a.Redis, bucket, cfg.Export.S3Bucket, a.Queue)

	server := api.NewServer(cfg.Server, api.Services{
		Events:       a.Events,
		Decisions:    a.Decisions,
		Suppressions: a.Suppressions,
		Actions:      a.Scheduler,
	}, authManager, health)

	g.Go(func() error {
		addr := fmt.Sprintf("%s:%d", host, cfg.Server.Port)
		logger.Info("server: listening", "addr", addr, "storage", cfg.Storage.Type)
		if err := server.ListenAndServe(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("server: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := server.Shutdown(shutdownCtx)
		// No handler can append any more; let the dispatcher drain.
		if dispatcher != nil {
			dispatcher.Close()
		}
		return err
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server: exited with error", "error", err.Error())
		os.Exit(1)
	}
	logger.Info("server: stopped")
}
