package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"

	"github.com/joseph-ayodele/redactor/internal/app"
	"github.com/joseph-ayodele/redactor/internal/async"
	"github.com/joseph-ayodele/redactor/internal/common"
	"github.com/joseph-ayodele/redactor/internal/ingest"
	"github.com/joseph-ayodele/redactor/internal/services/redaction"
)

// heldQueue records submitted jobs so the batch can be processed inline.
type heldQueue struct{ jobs []async.Job }

func (q *heldQueue) Enqueue(_ context.Context, job async.Job) error {
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *heldQueue) Shutdown(context.Context) {}

func main() {
	var (
		dir        = flag.String("dir", "", "directory of images to redact (required)")
		out        = flag.String("out", "redacted_files.zip", "path of the output archive")
		report     = flag.String("report", "", "optional path of an XLSX batch report")
		dataDir    = flag.String("data", "", "blob directory (default: a temporary directory)")
		dbPath     = flag.String("db", "", "sqlite database file (default: in-memory)")
		skipHidden = flag.Bool("skip-hidden", true, "skip hidden files and directories")
		timeout    = flag.Duration("timeout", 30*time.Minute, "overall timeout")
	)
	flag.Parse()

	_ = godotenv.Load()
	cfg := common.LoadConfig()
	logger := common.NewLogger(cfg.Log)
	slog.SetDefault(logger)

	if *dir == "" {
		fmt.Fprintln(os.Stderr, "usage: redact-batch -dir <images> [-out redacted_files.zip] [-report report.xlsx]")
		os.Exit(2)
	}

	cfg.Database.Driver = "sqlite"
	cfg.Database.DSN = ""
	if *dbPath != "" {
		cfg.Database.DSN = "file:" + *dbPath + "?_pragma=foreign_keys(1)"
	}
	cfg.Database.AutoMigrate = true
	cfg.Storage.Backend = "fs"
	cfg.Storage.Dir = *dataDir
	if cfg.Storage.Dir == "" {
		tmp, err := os.MkdirTemp("", "redact-batch-*")
		if err != nil {
			logger.Error("create temp dir", "error", err)
			os.Exit(1)
		}
		defer os.RemoveAll(tmp)
		cfg.Storage.Dir = tmp
	}
	cfg.Cache.RedisAddr = ""
	cfg.Queue.Backend = "memory"
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(2)
	}

	uploads, stats, err := ingest.CollectDirectory(*dir, *skipHidden)
	if err != nil {
		logger.Error("scan directory", "dir", *dir, "error", err)
		os.Exit(1)
	}
	logger.Info("directory scanned", "dir", *dir, "scanned", stats.Scanned, "matched", stats.Matched, "skipped", stats.Skipped)
	if len(uploads) == 0 {
		logger.Error("no images found", "dir", *dir)
		os.Exit(1)
	}
	if len(uploads) > cfg.Pipeline.MaxFilesPerBatch {
		cfg.Pipeline.MaxFilesPerBatch = len(uploads)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	if err := run(ctx, cfg, logger, uploads, *out, *report); err != nil {
		logger.Error("batch failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *common.Config, logger *slog.Logger, uploads []redaction.Upload, out, report string) error {
	infra, err := app.OpenInfra(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer infra.Close()

	queue := &heldQueue{}
	svc := app.NewService(infra, queue)
	orch := app.NewOrchestrator(infra)

	batchID, err := svc.Submit(ctx, uploads)
	if err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	for _, job := range queue.jobs {
		sum, err := orch.ProcessBatch(ctx, job.BatchID)
		if err != nil {
			return fmt.Errorf("process batch %s: %w", job.BatchID, err)
		}
		for _, f := range sum.Files {
			if f.Err != nil {
				logger.Warn("file not redacted", "filename", f.Filename, "status", f.Status, "error", f.Err)
			}
		}
		logger.Info("batch processed", "batch_id", sum.BatchID, "status", sum.Status.API(), "files", len(sum.Files))
	}

	if report != "" {
		data, err := app.NewExport(infra).BatchReportXLSX(ctx, batchID)
		if err != nil {
			return fmt.Errorf("report: %w", err)
		}
		if err := os.WriteFile(report, data, 0o644); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
		logger.Info("report written", "path", report, "bytes", len(data))
	}

	stream, _, err := svc.Result(ctx, batchID)
	if errors.Is(err, common.ErrNotReady) {
		logger.Warn("no redacted files to archive", "batch_id", batchID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("result: %w", err)
	}
	if dir := filepath.Dir(out); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.Create(out)
	if err != nil {
		return err
	}
	n, err := io.Copy(f, stream)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("write archive: %w", err)
	}
	logger.Info("archive written", "path", out, "bytes", n)
	return nil
}
