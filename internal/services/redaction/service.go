package redaction

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/redactor/constants"
	"github.com/joseph-ayodele/redactor/internal/archive"
	"github.com/joseph-ayodele/redactor/internal/async"
	"github.com/joseph-ayodele/redactor/internal/cache"
	"github.com/joseph-ayodele/redactor/internal/common"
	"github.com/joseph-ayodele/redactor/internal/entity"
	"github.com/joseph-ayodele/redactor/internal/repository"
	"github.com/joseph-ayodele/redactor/internal/storage"
)

// DefaultMaxFiles caps the number of files in one submission.
const DefaultMaxFiles = 20

// Upload is one submitted file. Open may be called more than once.
type Upload struct {
	Filename string
	Size     int64
	Open     func() (io.ReadCloser, error)
}

// BytesUpload wraps in-memory content as an Upload.
func BytesUpload(filename string, data []byte) Upload {
	return Upload{
		Filename: filename,
		Size:     int64(len(data)),
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}

type Config struct {
	MaxUploadBytes int64
	MaxFiles       int
}

type Deps struct {
	Batches  repository.BatchRepository
	Files    repository.FileRepository
	Store    storage.Store
	Cache    cache.StatusCache
	Queue    async.Queue
	Packager *archive.Packager
}

// Service handles batch submission, status, result and deletion.
type Service struct {
	batches  repository.BatchRepository
	files    repository.FileRepository
	store    storage.Store
	cache    cache.StatusCache
	queue    async.Queue
	packager *archive.Packager
	cfg      Config
	logger   *slog.Logger
}

func NewService(deps Deps, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = constants.MaxUploadBytes
	}
	if cfg.MaxFiles <= 0 {
		cfg.MaxFiles = DefaultMaxFiles
	}
	if deps.Cache == nil {
		deps.Cache = cache.Nop{}
	}
	return &Service{
		batches:  deps.Batches,
		files:    deps.Files,
		store:    deps.Store,
		cache:    deps.Cache,
		queue:    deps.Queue,
		packager: deps.Packager,
		cfg:      cfg,
		logger:   logger,
	}
}

// Submit validates uploads, stores the originals, records the batch and
// enqueues one job for it. Nothing is left behind when any step fails.
func (s *Service) Submit(ctx context.Context, uploads []Upload) (uuid.UUID, error) {
	log := common.LoggerFrom(ctx, s.logger)
	if err := s.validate(uploads); err != nil {
		log.Warn("submission rejected", "files", len(uploads), "error", err)
		return uuid.Nil, err
	}

	batch := &entity.Batch{ID: uuid.New(), Status: constants.BatchStatusQueued, CreatedAt: time.Now().UTC()}
	log = log.With("batch_id", batch.ID)
	files := make([]*entity.File, 0, len(uploads))
	for _, u := range uploads {
		f := &entity.File{ID: uuid.New(), BatchID: batch.ID, Filename: u.Filename}
		if err := s.putOriginal(ctx, f, u); err != nil {
			log.Error("failed to store original", "filename", u.Filename, "error", err)
			s.discardBlobs(ctx, log, batch.ID)
			return uuid.Nil, err
		}
		files = append(files, f)
	}

	if err := s.batches.CreateWithFiles(ctx, batch, files); err != nil {
		s.discardBlobs(ctx, log, batch.ID)
		return uuid.Nil, err
	}

	job := async.Job{
		BatchID:     batch.ID,
		SubmittedAt: batch.CreatedAt,
		TraceID:     common.RequestIDFromContext(ctx),
		Attempt:     1,
	}
	if err := s.queue.Enqueue(ctx, job); err != nil {
		log.Error("enqueue failed, rolling back submission", "error", err)
		if derr := s.batches.Delete(ctx, batch.ID); derr != nil {
			log.Error("failed to remove batch after enqueue failure", "error", derr)
		}
		s.discardBlobs(ctx, log, batch.ID)
		return uuid.Nil, common.StorageError("enqueue batch", err)
	}

	if err := s.cache.SetStatus(ctx, batch.ID, constants.BatchStatusQueued); err != nil {
		log.Warn("status cache write failed", "error", err)
	}
	log.Info("batch submitted", "files", len(files))
	return batch.ID, nil
}

func (s *Service) validate(uploads []Upload) error {
	if len(uploads) == 0 {
		return common.InvalidArgumentError("no files submitted")
	}
	if len(uploads) > s.cfg.MaxFiles {
		return common.InvalidArgumentErrorf("at most %d files per batch, got %d", s.cfg.MaxFiles, len(uploads))
	}
	seen := make(map[string]string, len(uploads))
	for _, u := range uploads {
		head, err := readHead(u)
		if err != nil {
			return err
		}
		if err := common.ValidateUpload(u.Filename, u.Size, s.cfg.MaxUploadBytes, head); err != nil {
			return err
		}
		// Outputs are archived by name, so two uploads must never map to one output.
		out := outputName(u.Filename)
		if prev, dup := seen[out]; dup {
			if prev == u.Filename {
				return common.InvalidArgumentErrorf("duplicate filename %q", u.Filename)
			}
			return common.InvalidArgumentErrorf("files %q and %q would produce the same redacted file", prev, u.Filename)
		}
		seen[out] = u.Filename
	}
	return nil
}

func readHead(u Upload) ([]byte, error) {
	if u.Open == nil {
		return nil, common.InvalidArgumentErrorf("file %q has no content", u.Filename)
	}
	rc, err := u.Open()
	if err != nil {
		return nil, fmt.Errorf("open upload %q: %w", u.Filename, err)
	}
	defer rc.Close()
	head := make([]byte, 512)
	n, err := io.ReadFull(rc, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read upload %q: %w", u.Filename, err)
	}
	return head[:n], nil
}

// outputName predicts the redacted filename; webp inputs come back as png.
func outputName(filename string) string {
	if constants.NormalizeExt(filepath.Ext(filename)) == "webp" {
		return constants.RedactedName(filename, ".png")
	}
	return constants.RedactedName(filename, "")
}

func (s *Service) putOriginal(ctx context.Context, f *entity.File, u Upload) error {
	rc, err := u.Open()
	if err != nil {
		return fmt.Errorf("open upload %q: %w", u.Filename, err)
	}
	defer rc.Close()
	ct := constants.ContentTypeForExt(filepath.Ext(u.Filename))
	return s.store.Put(ctx, f.OriginalKey(), rc, u.Size, ct)
}

func (s *Service) discardBlobs(ctx context.Context, log *slog.Logger, batchID uuid.UUID) {
	id := batchID.String()
	for _, prefix := range []string{storage.OriginalsPrefix(id), storage.RedactedPrefix(id)} {
		if err := s.store.DeletePrefix(ctx, prefix); err != nil {
			log.Warn("failed to remove blobs", "prefix", prefix, "error", err)
		}
	}
}

// Status returns the client-facing status of a batch. The cache is consulted
// first; the record store is the fallback and refills it.
func (s *Service) Status(ctx context.Context, batchID uuid.UUID) (string, error) {
	log := common.LoggerFrom(ctx, s.logger).With("batch_id", batchID)
	if st, ok, err := s.cache.GetStatus(ctx, batchID); err != nil {
		log.Warn("status cache read failed", "error", err)
	} else if ok {
		return st.API(), nil
	}

	batch, err := s.batches.GetByID(ctx, batchID)
	if err != nil {
		return "", err
	}
	if err := s.cache.SetStatus(ctx, batchID, batch.Status); err != nil {
		log.Warn("status cache write failed", "error", err)
	}
	return batch.Status.API(), nil
}

// Result packages the redacted outputs of every complete file in a batch.
// Batches that are still running, failed entirely, or have no complete file
// are rejected with ErrNotReady.
func (s *Service) Result(ctx context.Context, batchID uuid.UUID) (*archive.Stream, string, error) {
	log := common.LoggerFrom(ctx, s.logger).With("batch_id", batchID)
	batch, err := s.batches.GetByID(ctx, batchID)
	if err != nil {
		return nil, "", err
	}
	switch batch.Status {
	case constants.BatchStatusQueued, constants.BatchStatusProcessing:
		return nil, "", common.NotReadyError("batch is still processing")
	case constants.BatchStatusFailed:
		return nil, "", common.NotReadyError("batch failed; no redacted files are available")
	}

	files, err := s.files.ListByBatch(ctx, batchID)
	if err != nil {
		return nil, "", err
	}
	var keys []string
	for _, f := range files {
		if f.Status == constants.FileStatusComplete && f.RedactedKey() != "" {
			keys = append(keys, f.RedactedKey())
		}
	}
	if len(keys) == 0 {
		return nil, "", common.NotReadyError("batch has no redacted files")
	}

	stream, err := s.packager.Package(ctx, keys)
	if err != nil {
		log.Error("failed to package batch result", "error", err)
		return nil, "", err
	}
	log.Info("batch result packaged", "files", len(keys), "bytes", stream.Size())
	return stream, constants.ArchiveName, nil
}

// Delete removes every blob of a batch, then its records, then its cached status.
func (s *Service) Delete(ctx context.Context, batchID uuid.UUID) error {
	log := common.LoggerFrom(ctx, s.logger).With("batch_id", batchID)
	if _, err := s.batches.GetByID(ctx, batchID); err != nil {
		return err
	}
	id := batchID.String()
	for _, prefix := range []string{storage.OriginalsPrefix(id), storage.RedactedPrefix(id)} {
		if err := s.store.DeletePrefix(ctx, prefix); err != nil {
			log.Error("failed to delete blobs", "prefix", prefix, "error", err)
			return err
		}
	}
	if err := s.batches.Delete(ctx, batchID); err != nil {
		return err
	}
	if err := s.cache.Delete(ctx, batchID); err != nil {
		log.Warn("status cache delete failed", "error", err)
	}
	log.Info("batch dropped")
	return nil
}

// Recover re-enqueues every batch that never reached a terminal state, for
// example after a restart of an in-process queue.
func (s *Service) Recover(ctx context.Context) (int, error) {
	ids, err := s.batches.ListUnfinished(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, id := range ids {
		if err := s.queue.Enqueue(ctx, async.Job{BatchID: id, SubmittedAt: time.Now().UTC(), Attempt: 1}); err != nil {
			s.logger.Error("failed to re-enqueue batch", "batch_id", id, "error", err)
			return n, err
		}
		n++
	}
	if n > 0 {
		s.logger.Info("re-enqueued unfinished batches", "count", n)
	}
	return n, nil
}
