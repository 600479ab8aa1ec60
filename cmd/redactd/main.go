package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/joseph-ayodele/redactor/internal/app"
	"github.com/joseph-ayodele/redactor/internal/async"
	"github.com/joseph-ayodele/redactor/internal/common"
	"github.com/joseph-ayodele/redactor/internal/ingest"
	"github.com/joseph-ayodele/redactor/internal/server"
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

	// The memory backend runs batches in this process; rabbitmq leaves them to redact-worker.
	var handler async.Handler
	if cfg.Queue.Backend != "rabbitmq" {
		handler = app.NewOrchestrator(infra).Handle
	}
	queue, err := app.NewQueue(cfg.Queue, handler, logger)
	if err != nil {
		logger.Error("failed to create job queue", "backend", cfg.Queue.Backend, "error", err)
		os.Exit(1)
	}
	svc := app.NewService(infra, queue)

	if cfg.Queue.Backend != "rabbitmq" {
		if _, err := svc.Recover(ctx); err != nil {
			logger.Warn("failed to re-enqueue unfinished batches", "error", err)
		}
	}

	api := server.New(svc, app.NewExport(infra), server.Options{
		MaxUploadBytes:     cfg.Pipeline.MaxUploadBytes,
		MaxFiles:           cfg.Pipeline.MaxFilesPerBatch,
		Redis:              infra.Redis,
		RateLimitPerMinute: cfg.Server.RateLimitPerMinute,
		Health:             infra.Health,
	}, logger)
	httpServer := api.HTTPServer(cfg.Server.HTTPAddr)
	go func() {
		logger.Info("HTTP server listening", "addr", cfg.Server.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", "error", err)
			stop()
		}
	}()

	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		logger.Error("failed to listen on address", "addr", cfg.Server.GRPCAddr, "error", err)
		os.Exit(1)
	}
	grpcServer := server.NewGRPCHealthServer(ctx, infra.Health, 15*time.Second, logger)
	go func() {
		logger.Info("gRPC health server listening", "addr", cfg.Server.GRPCAddr)
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("gRPC server failed", "error", err)
		}
	}()

	if cfg.Server.WatchDir != "" {
		w := ingest.NewWatcher(svc, cfg.Server.WatchDir, 0, logger)
		go func() {
			if err := w.Run(ctx); err != nil {
				logger.Error("hot folder watcher failed", "dir", cfg.Server.WatchDir, "error", err)
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown incomplete", "error", err)
	}
	grpcServer.GracefulStop()
	queue.Shutdown(shutdownCtx)
	logger.Info("stopped")
}
