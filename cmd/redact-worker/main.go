package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/joseph-ayodele/redactor/internal/app"
	"github.com/joseph-ayodele/redactor/internal/async/rabbitmq"
	"github.com/joseph-ayodele/redactor/internal/common"
)

func main() {
	_ = godotenv.Load()
	cfg := common.LoadConfig()
	logger := common.NewLogger(cfg.Log)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	infra, err := app.OpenInfra(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open infrastructure", "error", err)
		os.Exit(1)
	}
	defer infra.Close()

	rmq := rabbitmq.Config{URL: cfg.Queue.RabbitURL, Queue: cfg.Queue.RabbitQueue}
	publisher, err := rabbitmq.NewPublisher(rmq, logger)
	if err != nil {
		logger.Error("failed to connect publisher", "error", err)
		os.Exit(1)
	}
	defer publisher.Shutdown(context.Background())

	consumer, err := rabbitmq.NewConsumer(rabbitmq.ConsumerConfig{
		Config:      rmq,
		Workers:     cfg.Queue.Workers,
		JobTimeout:  cfg.Queue.JobTimeout,
		MaxAttempts: cfg.Queue.MaxAttempts,
		Backoff:     cfg.Queue.Backoff,
	}, app.NewOrchestrator(infra).Handle, publisher, logger)
	if err != nil {
		logger.Error("failed to connect consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	logger.Info("redact worker started", "queue", rmq.Queue, "workers", cfg.Queue.Workers)
	if err := consumer.Start(ctx); err != nil {
		logger.Error("consumer failed", "error", err)
		os.Exit(1)
	}
	logger.Info("redact worker stopped")
}
