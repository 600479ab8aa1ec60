// Package app builds the shared runtime components of the binaries from configuration.
package app

import (
	"context"
	"fmt"
	"image/color"
	"log/slog"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/joseph-ayodele/redactor/internal/archive"
	"github.com/joseph-ayodele/redactor/internal/async"
	"github.com/joseph-ayodele/redactor/internal/async/rabbitmq"
	"github.com/joseph-ayodele/redactor/internal/cache"
	"github.com/joseph-ayodele/redactor/internal/classifier"
	"github.com/joseph-ayodele/redactor/internal/classifier/gliner"
	"github.com/joseph-ayodele/redactor/internal/classifier/openai"
	"github.com/joseph-ayodele/redactor/internal/common"
	"github.com/joseph-ayodele/redactor/internal/export"
	"github.com/joseph-ayodele/redactor/internal/ocr"
	"github.com/joseph-ayodele/redactor/internal/pipeline"
	"github.com/joseph-ayodele/redactor/internal/redact"
	"github.com/joseph-ayodele/redactor/internal/repository"
	"github.com/joseph-ayodele/redactor/internal/services/redaction"
	"github.com/joseph-ayodele/redactor/internal/storage"
)

// Infra holds the stores every binary needs.
type Infra struct {
	Config  *common.Config
	Logger  *slog.Logger
	DB      *entsql.Driver
	Batches repository.BatchRepository
	Files   repository.FileRepository
	Store   storage.Store
	Cache   cache.StatusCache
	// Redis is nil unless REDIS_ADDR is set.
	Redis *redis.Client

	pool *pgxpool.Pool
}

// OpenInfra connects the record store, blob store and status cache.
func OpenInfra(ctx context.Context, cfg *common.Config, logger *slog.Logger) (*Infra, error) {
	in := &Infra{Config: cfg, Logger: logger}

	var err error
	switch cfg.Database.Driver {
	case "sqlite":
		in.DB, err = repository.OpenSQLite(ctx, cfg.Database.DSN, logger)
	default:
		in.DB, in.pool, err = repository.Open(ctx, repository.Config{
			DSN:              cfg.Database.DSN,
			MaxConns:         cfg.Database.MaxConns,
			MinConns:         cfg.Database.MinConns,
			MaxConnLifetime:  cfg.Database.MaxConnLifetime,
			MaxConnIdleTime:  cfg.Database.MaxConnIdleTime,
			DialTimeout:      cfg.Database.DialTimeout,
			StatementTimeout: cfg.Database.StatementTimeout,
		}, logger)
	}
	if err != nil {
		return nil, fmt.Errorf("open record store: %w", err)
	}
	if err := repository.HealthCheck(ctx, in.DB, 5*time.Second, logger); err != nil {
		in.Close()
		return nil, fmt.Errorf("record store health: %w", err)
	}
	if cfg.Database.AutoMigrate {
		if err := repository.Migrate(ctx, in.DB, logger); err != nil {
			in.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	in.Batches = repository.NewBatchRepository(in.DB, logger)
	in.Files = repository.NewFileRepository(in.DB, logger)

	if in.Store, err = OpenBlobStore(ctx, cfg.Storage, logger); err != nil {
		in.Close()
		return nil, err
	}

	in.Cache = cache.Nop{}
	if cfg.Cache.RedisAddr != "" {
		in.Redis, err = cache.NewRedisClient(ctx, cache.RedisConfig{
			Addr:     cfg.Cache.RedisAddr,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
		})
		if err != nil {
			in.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		in.Cache = cache.NewRedisStatusCache(in.Redis, cfg.Cache.StatusTTL, logger)
		logger.Info("redis status cache enabled", "addr", cfg.Cache.RedisAddr)
	}
	return in, nil
}

// OpenBlobStore returns the configured blob store backend.
func OpenBlobStore(ctx context.Context, cfg common.StorageConfig, logger *slog.Logger) (storage.Store, error) {
	switch cfg.Backend {
	case "minio":
		s, err := storage.NewMinioStore(storage.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("open minio store: %w", err)
		}
		if err := s.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return s, nil
	default:
		s, err := storage.NewLocalStore(cfg.Dir, logger)
		if err != nil {
			return nil, fmt.Errorf("open local store: %w", err)
		}
		return s, nil
	}
}

// Health pings the record store and, when configured, redis.
func (in *Infra) Health(ctx context.Context) error {
	if err := repository.HealthCheck(ctx, in.DB, 0, in.Logger); err != nil {
		return err
	}
	if in.Redis != nil {
		if err := in.Redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

func (in *Infra) Close() {
	if in.Redis != nil {
		if err := in.Redis.Close(); err != nil {
			in.Logger.Warn("failed to close redis client", "error", err)
		}
	}
	if in.DB != nil || in.pool != nil {
		repository.Close(in.DB, in.pool, in.Logger)
	}
}

// NewClassifier returns the configured entity classifier backend.
func NewClassifier(cfg common.ClassifierConfig, logger *slog.Logger) classifier.Classifier {
	switch cfg.Backend {
	case "openai":
		return openai.NewClient(openai.Config{
			APIKey:          cfg.OpenAIAPIKey,
			BaseURL:         cfg.OpenAIBaseURL,
			Model:           cfg.OpenAIModel,
			Timeout:         cfg.OpenAITimeout,
			LenientOptional: true,
		}, logger)
	default:
		return gliner.NewClient(gliner.Config{BaseURL: cfg.URL, Timeout: cfg.Timeout}, logger)
	}
}

// NewLocalizer builds the OCR engine and text localizer.
func NewLocalizer(cfg common.OCRConfig, logger *slog.Logger) *ocr.Localizer {
	engine := ocr.NewEngine(ocr.Config{
		Tesseract:   cfg.Tesseract,
		Lang:        cfg.Lang,
		TessdataDir: cfg.TessdataDir,
		PSM:         cfg.PSM,
		TempDir:     cfg.TempDir,
	}, ocr.ExecRunner{Logger: logger}, logger)
	return ocr.NewLocalizer(engine, logger)
}

// NewOrchestrator wires the pipeline stages onto the infra stores.
func NewOrchestrator(in *Infra) *pipeline.Orchestrator {
	cfg, logger := in.Config, in.Logger
	return pipeline.NewOrchestrator(pipeline.Deps{
		Batches:  in.Batches,
		Files:    in.Files,
		Store:    in.Store,
		Cache:    in.Cache,
		Localize: pipeline.NewLocalizeStage(in.Store, NewLocalizer(cfg.OCR, logger), logger),
		Classify: pipeline.NewClassifyStage(NewClassifier(cfg.Classifier, logger), cfg.Classifier.Labels, cfg.Classifier.Threshold, logger),
		Redact: pipeline.NewRedactStage(in.Store, redact.New(redact.Options{
			JPEGQuality: cfg.Pipeline.JPEGQuality,
			Fill:        color.Black,
		}, logger), logger),
	}, logger)
}

// NewQueue returns the job queue for submissions. The memory backend runs
// handler in-process; the rabbitmq backend only publishes and leaves
// consumption to redact-worker.
func NewQueue(cfg common.QueueConfig, handler async.Handler, logger *slog.Logger) (async.Queue, error) {
	switch cfg.Backend {
	case "rabbitmq":
		p, err := rabbitmq.NewPublisher(rabbitmq.Config{URL: cfg.RabbitURL, Queue: cfg.RabbitQueue}, logger)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return async.NewProcessorQueue(handler, logger,
			async.WithWorkers(cfg.Workers),
			async.WithQueueSize(cfg.QueueSize),
			async.WithProcessTimeout(cfg.JobTimeout),
			async.WithRetry(cfg.MaxAttempts, cfg.Backoff),
		), nil
	}
}

// NewService builds the redaction service on top of infra and queue.
func NewService(in *Infra, queue async.Queue) *redaction.Service {
	cfg := in.Config.Pipeline
	return redaction.NewService(redaction.Deps{
		Batches:  in.Batches,
		Files:    in.Files,
		Store:    in.Store,
		Cache:    in.Cache,
		Queue:    queue,
		Packager: archive.NewPackager(in.Store, cfg.ArchiveChunkSize, in.Logger),
	}, redaction.Config{
		MaxUploadBytes: cfg.MaxUploadBytes,
		MaxFiles:       cfg.MaxFilesPerBatch,
	}, in.Logger)
}

// NewExport builds the XLSX report service.
func NewExport(in *Infra) *export.Service {
	return export.NewService(in.Batches, in.Files, in.Logger)
}
