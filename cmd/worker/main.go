package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/ignite/fan-automation/internal/app"
	"github.com/ignite/fan-automation/internal/config"
	"github.com/ignite/fan-automation/internal/pkg/logger"
	"github.com/ignite/fan-automation/internal/tracking"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config file")
	flag.Parse()

	log.Println("Starting fan automation worker...")

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	app.ConfigureLogging(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	defer a.Close()

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Events.SQS.QueueURL != "" {
		client, err := a.SQSClient(ctx)
		if err != nil {
			log.Fatalf("Failed to create SQS client: %v", err)
		}
		consumer := tracking.NewConsumer(client, cfg.Events.SQS.QueueURL, a.Pipeline, tracking.ConsumerConfig{
			Pollers: cfg.Events.DispatchWorkers,
		})
		g.Go(func() error { return consumer.Run(gctx) })
	} else {
		logger.Warn("worker: no SQS queue configured, only scheduled actions are processed")
	}

	g.Go(func() error { return a.Runner.Run(gctx) })
	g.Go(func() error { return a.Recovery.Start(gctx) })

	if cfg.Export.Enabled {
		exporter, err := a.Exporter(ctx)
		if err != nil {
			log.Fatalf("Failed to create exporter: %v", err)
		}
		g.Go(func() error { return exporter.Start(gctx) })
	}

	logger.Info("worker: running", "storage", cfg.Storage.Type, "export", cfg.Export.Enabled)
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker: exited with error", "error", err.Error())
		os.Exit(1)
	}
	logger.Info("worker: stopped")
}
