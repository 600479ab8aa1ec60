package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/redactor/constants"
	"github.com/joseph-ayodele/redactor/internal/async"
	"github.com/joseph-ayodele/redactor/internal/cache"
	"github.com/joseph-ayodele/redactor/internal/common"
	"github.com/joseph-ayodele/redactor/internal/entity"
	"github.com/joseph-ayodele/redactor/internal/repository"
	"github.com/joseph-ayodele/redactor/internal/storage"
)

// FileResult is the outcome of one file in a batch run.
type FileResult struct {
	FileID      uuid.UUID
	Filename    string
	Status      constants.FileStatus
	Err         error
	Entities    int
	Flagged     int
	RedactedKey string
	// Skipped is set when the file was already terminal before this run.
	Skipped bool
}

// Summary collects the file results of a run and the batch status derived from them.
type Summary struct {
	BatchID uuid.UUID
	Status  constants.BatchStatus
	Files   []FileResult
}

func (s Summary) statuses() []constants.FileStatus {
	out := make([]constants.FileStatus, 0, len(s.Files))
	for _, f := range s.Files {
		out = append(out, f.Status)
	}
	return out
}

// Aggregate derives a batch status from terminal file statuses: complete when
// every file is complete, failed when every file failed (or there are none),
// partially failed otherwise.
func Aggregate(statuses []constants.FileStatus) constants.BatchStatus {
	if len(statuses) == 0 {
		return constants.BatchStatusFailed
	}
	complete, failed := 0, 0
	for _, s := range statuses {
		switch s {
		case constants.FileStatusComplete:
			complete++
		case constants.FileStatusFailed:
			failed++
		}
	}
	switch {
	case complete == len(statuses):
		return constants.BatchStatusComplete
	case failed == len(statuses):
		return constants.BatchStatusFailed
	default:
		return constants.BatchStatusPartiallyFailed
	}
}

// Orchestrator drives the files of a batch through localize, classify and
// redact, one file at a time in submission order.
type Orchestrator struct {
	batches  repository.BatchRepository
	files    repository.FileRepository
	store    storage.Store
	cache    cache.StatusCache
	localize *LocalizeStage
	classify *ClassifyStage
	redact   *RedactStage
	logger   *slog.Logger
}

type Deps struct {
	Batches  repository.BatchRepository
	Files    repository.FileRepository
	Store    storage.Store
	Cache    cache.StatusCache
	Localize *LocalizeStage
	Classify *ClassifyStage
	Redact   *RedactStage
}

func NewOrchestrator(deps Deps, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Cache == nil {
		deps.Cache = cache.Nop{}
	}
	return &Orchestrator{
		batches:  deps.Batches,
		files:    deps.Files,
		store:    deps.Store,
		cache:    deps.Cache,
		localize: deps.Localize,
		classify: deps.Classify,
		redact:   deps.Redact,
		logger:   logger,
	}
}

// Handle runs a queued job. It is safe to call repeatedly for the same batch.
func (o *Orchestrator) Handle(ctx context.Context, job async.Job) error {
	ctx = common.WithBatchID(ctx, job.BatchID.String())
	if job.TraceID != "" && common.RequestIDFromContext(ctx) == "" {
		ctx = common.WithRequestID(ctx, job.TraceID)
	}
	_, err := o.ProcessBatch(ctx, job.BatchID)
	return err
}

// ProcessBatch runs every non-terminal file of the batch and writes the
// aggregate status. Files that are already terminal are skipped, so a batch
// whose files are all terminal only has its aggregate recomputed.
//
// A record or blob store failure outside a single file's stages forces the
// batch to failed and is returned for the job runner to retry. Files not yet
// reached keep their current status.
func (o *Orchestrator) ProcessBatch(ctx context.Context, batchID uuid.UUID) (Summary, error) {
	log := common.LoggerFrom(ctx, o.logger).With("batch_id", batchID)
	start := time.Now()

	sum, err := o.run(ctx, log, batchID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			log.Warn("batch vanished during run", "error", err)
			_ = o.cache.Delete(ctx, batchID)
			return sum, err
		}
		log.Error("batch run failed", "error", err)
		o.forceFailed(ctx, log, batchID)
		sum.Status = constants.BatchStatusFailed
		return sum, err
	}
	log.Info("batch processed",
		"status", sum.Status,
		"files", len(sum.Files),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return sum, nil
}

func (o *Orchestrator) run(ctx context.Context, log *slog.Logger, batchID uuid.UUID) (Summary, error) {
	sum := Summary{BatchID: batchID}
	batch, err := o.batches.GetByID(ctx, batchID)
	if err != nil {
		return sum, err
	}
	files, err := o.files.ListByBatch(ctx, batchID)
	if err != nil {
		return sum, err
	}

	pending := 0
	for _, f := range files {
		if !f.Status.IsTerminal() {
			pending++
		}
	}
	if pending == 0 {
		for _, f := range files {
			sum.Files = append(sum.Files, skipped(f))
		}
		log.Info("all files terminal, recomputing aggregate", "files", len(files), "status", batch.Status)
		return o.finish(ctx, sum)
	}

	moved, err := o.batches.MarkProcessing(ctx, batchID)
	if err != nil {
		return sum, err
	}
	if moved {
		o.writeCache(ctx, log, batchID, constants.BatchStatusProcessing)
	}

	for _, f := range files {
		if f.Status.IsTerminal() {
			sum.Files = append(sum.Files, skipped(f))
			continue
		}
		res, err := o.processFile(ctx, log, f)
		if err != nil {
			return sum, err
		}
		sum.Files = append(sum.Files, res)
	}
	return o.finish(ctx, sum)
}

func (o *Orchestrator) finish(ctx context.Context, sum Summary) (Summary, error) {
	sum.Status = Aggregate(sum.statuses())
	if err := o.batches.SetStatus(ctx, sum.BatchID, sum.Status); err != nil {
		return sum, err
	}
	o.writeCache(ctx, o.logger, sum.BatchID, sum.Status)
	return sum, nil
}

// processFile runs the three stages for one file. Stage failures end up in
// the returned FileResult; only record or blob store failures that make the
// whole run unsafe are returned as errors.
func (o *Orchestrator) processFile(ctx context.Context, log *slog.Logger, f *entity.File) (FileResult, error) {
	log = log.With("file_id", f.ID, "filename", f.Filename)
	res := FileResult{FileID: f.ID, Filename: f.Filename}

	ok, err := o.files.MarkProcessing(ctx, f.ID)
	if err != nil {
		return res, err
	}
	if !ok {
		// Another run finished this file in the meantime.
		cur, err := o.files.GetByID(ctx, f.ID)
		if err != nil {
			return res, err
		}
		return skipped(cur), nil
	}

	outcome, res := o.runStages(ctx, log, f, res)
	if res.Err != nil && batchScoped(ctx, res.Err) {
		return res, res.Err
	}

	written, err := o.files.Finish(ctx, f.ID, outcome)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) && res.RedactedKey != "" {
			if derr := o.store.Delete(ctx, res.RedactedKey); derr != nil {
				log.Warn("failed to remove redacted blob of deleted file", "key", res.RedactedKey, "error", derr)
			}
		}
		return res, err
	}
	if !written {
		cur, err := o.files.GetByID(ctx, f.ID)
		if err != nil {
			return res, err
		}
		return skipped(cur), nil
	}

	switch outcome.Status {
	case constants.FileStatusComplete:
		log.Info("file processed", "records", recordCount(outcome.Payload), "entities", res.Entities, "flagged", res.Flagged)
	case constants.FileStatusUnusable:
		log.Warn("file unusable", "error", res.Err)
	default:
		log.Error("file failed", "error", res.Err)
	}
	return res, nil
}

func (o *Orchestrator) runStages(ctx context.Context, log *slog.Logger, f *entity.File, res FileResult) (entity.FileOutcome, FileResult) {
	fail := func(err error) (entity.FileOutcome, FileResult) {
		res.Status = constants.FileStatusFailed
		res.Err = err
		return entity.FileOutcome{Status: res.Status, ErrorMessage: err.Error()}, res
	}

	original, payload, err := o.localize.Run(ctx, f)
	if err != nil {
		return fail(fmt.Errorf("localize: %w", err))
	}

	status := constants.FileStatusComplete
	labelled, entities, cerr := o.classify.Run(ctx, payload)
	if cerr != nil {
		log.Warn("classification failed, continuing without entities", "error", cerr)
		status = constants.FileStatusUnusable
		res.Err = cerr
	}
	res.Entities = entities
	res.Flagged = len(labelled.Flagged())

	name, err := o.redact.Run(ctx, f, original, labelled)
	if err != nil {
		out, r := fail(fmt.Errorf("redact: %w", err))
		out.Payload = labelled
		return out, r
	}
	res.Status = status
	res.RedactedKey = entity.RedactedKey(f.BatchID, f.ID, name)

	out := entity.FileOutcome{Status: status, Payload: labelled, RedactedFilename: name}
	if cerr != nil {
		out.ErrorMessage = cerr.Error()
	}
	return out, res
}

func (o *Orchestrator) forceFailed(ctx context.Context, log *slog.Logger, batchID uuid.UUID) {
	// The run may have failed because ctx expired; the status write gets its own deadline.
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := o.batches.SetStatus(wctx, batchID, constants.BatchStatusFailed); err != nil {
		log.Error("failed to mark batch failed", "error", err)
		return
	}
	o.writeCache(wctx, log, batchID, constants.BatchStatusFailed)
}

func (o *Orchestrator) writeCache(ctx context.Context, log *slog.Logger, batchID uuid.UUID, status constants.BatchStatus) {
	if err := o.cache.SetStatus(ctx, batchID, status); err != nil {
		log.Warn("status cache write failed", "batch_id", batchID, "status", status, "error", err)
	}
}

// batchScoped reports whether a stage error means the run itself cannot go
// on: a store is unavailable or the job context is done.
func batchScoped(ctx context.Context, err error) bool {
	return errors.Is(err, common.ErrStorage) || ctx.Err() != nil
}

func skipped(f *entity.File) FileResult {
	res := FileResult{
		FileID:      f.ID,
		Filename:    f.Filename,
		Status:      f.Status,
		RedactedKey: f.RedactedKey(),
		Skipped:     true,
	}
	if f.Payload != nil {
		res.Flagged = len(f.Payload.Flagged())
	}
	if f.ErrorMessage != nil {
		res.Err = errors.New(*f.ErrorMessage)
	}
	return res
}

func recordCount(p *entity.ExtractionPayload) int {
	if p == nil {
		return 0
	}
	return len(p.Records)
}
