package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/stadiumpark/parking/config"
	"github.com/stadiumpark/parking/internal/bootstrap"
	"github.com/stadiumpark/parking/internal/email"
	"github.com/stadiumpark/parking/internal/kafka"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := bootstrap.NewLogger(os.Stdout, cfg.Log.Level).With("component", "worker")

	if cfg.Storage == config.StorageMemory {
		logger.Error("the worker needs shared storage; with storage memory the API process runs maintenance itself")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.NewApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return app.RunMaintenance(gctx) })

	if len(cfg.Kafka.Brokers) > 0 && cfg.Kafka.NotificationsTopic != "" {
		consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.GroupID, cfg.Kafka.NotificationsTopic, logger)
		defer consumer.Close()
		sender := email.NewSender(cfg.HTTP.BaseURL, logger)
		g.Go(func() error {
			return consumer.Consume(gctx, sender.Send)
		})
	} else {
		logger.Warn("kafka not configured; notifications are not delivered")
	}

	if err := g.Wait(); err != nil {
		logger.Error("worker stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("worker stopped")
}
