package repository

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/redactor/constants"
	"github.com/joseph-ayodele/redactor/internal/common"
	"github.com/joseph-ayodele/redactor/internal/entity"
)

type BatchRepository interface {
	CreateWithFiles(ctx context.Context, batch *entity.Batch, files []*entity.File) error
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Batch, error)
	// MarkProcessing moves a queued batch to processing. It reports false when
	// the batch was in any other state.
	MarkProcessing(ctx context.Context, id uuid.UUID) (bool, error)
	// SetStatus writes a terminal status.
	SetStatus(ctx context.Context, id uuid.UUID, status constants.BatchStatus) error
	// ListUnfinished returns ids of batches still queued or processing, oldest first.
	ListUnfinished(ctx context.Context) ([]uuid.UUID, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type batchRepo struct {
	drv    *entsql.Driver
	logger *slog.Logger
}

func NewBatchRepository(drv *entsql.Driver, logger *slog.Logger) BatchRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &batchRepo{
		drv:    drv,
		logger: logger,
	}
}

func (r *batchRepo) builder() *entsql.DialectBuilder {
	return entsql.Dialect(r.drv.Dialect())
}

func (r *batchRepo) CreateWithFiles(ctx context.Context, batch *entity.Batch, files []*entity.File) error {
	if batch.ID == uuid.Nil {
		batch.ID = uuid.New()
	}
	if batch.Status == "" {
		batch.Status = constants.BatchStatusQueued
	}
	if batch.CreatedAt.IsZero() {
		batch.CreatedAt = time.Now().UTC()
	}

	err := withTx(ctx, r.drv, func(tx dialect.Tx) error {
		query, args := r.builder().Insert(batchesTable).
			Columns("id", "status", "created_at").
			Values(batch.ID, string(batch.Status), batch.CreatedAt).
			Query()
		if err := tx.Exec(ctx, query, args, nil); err != nil {
			return storeError("insert batch", err)
		}
		if len(files) == 0 {
			return nil
		}
		ins := r.builder().Insert(filesTable).
			Columns("id", "batch_id", "filename", "position", "status", "payload", "redacted_filename", "error_message", "created_at")
		for i, f := range files {
			if f.ID == uuid.Nil {
				f.ID = uuid.New()
			}
			f.BatchID = batch.ID
			f.Position = i
			if f.Status == "" {
				f.Status = constants.FileStatusQueued
			}
			if f.CreatedAt.IsZero() {
				f.CreatedAt = batch.CreatedAt
			}
			payload, err := encodePayload(f.Payload)
			if err != nil {
				return err
			}
			ins.Values(f.ID, f.BatchID, f.Filename, f.Position, string(f.Status), payload, nullString(f.RedactedFilename), nullString(f.ErrorMessage), f.CreatedAt)
		}
		query, args = ins.Query()
		if err := tx.Exec(ctx, query, args, nil); err != nil {
			return storeError("insert files", err)
		}
		return nil
	})
	if err != nil {
		r.logger.Error("failed to create batch", "batch_id", batch.ID, "files", len(files), "error", err)
		return err
	}
	r.logger.Debug("batch created", "batch_id", batch.ID, "files", len(files))
	return nil
}

func (r *batchRepo) GetByID(ctx context.Context, id uuid.UUID) (*entity.Batch, error) {
	query, args := r.builder().Select("id", "status", "created_at").
		From(entsql.Table(batchesTable)).
		Where(entsql.EQ("id", id)).
		Query()
	rows := &entsql.Rows{}
	if err := r.drv.Query(ctx, query, args, rows); err != nil {
		return nil, storeError("get batch", err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, storeError("get batch", err)
		}
		return nil, common.NotFoundErrorf("batch %s not found", id)
	}
	var (
		b      entity.Batch
		status string
	)
	if err := rows.Scan(&b.ID, &status, &b.CreatedAt); err != nil {
		return nil, storeError("scan batch", err)
	}
	b.Status = constants.BatchStatus(status)
	return &b, nil
}

func (r *batchRepo) MarkProcessing(ctx context.Context, id uuid.UUID) (bool, error) {
	query, args := r.builder().Update(batchesTable).
		Set("status", string(constants.BatchStatusProcessing)).
		Where(entsql.And(
			entsql.EQ("id", id),
			entsql.EQ("status", string(constants.BatchStatusQueued)),
		)).
		Query()
	n, err := execAffected(ctx, r.drv, query, args)
	if err != nil {
		return false, storeError("mark batch processing", err)
	}
	if n > 0 {
		return true, nil
	}
	if _, err := r.GetByID(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (r *batchRepo) SetStatus(ctx context.Context, id uuid.UUID, status constants.BatchStatus) error {
	if !status.IsTerminal() {
		return common.InvalidArgumentErrorf("batch status %q is not terminal", status)
	}
	query, args := r.builder().Update(batchesTable).
		Set("status", string(status)).
		Where(entsql.EQ("id", id)).
		Query()
	n, err := execAffected(ctx, r.drv, query, args)
	if err != nil {
		r.logger.Error("failed to set batch status", "batch_id", id, "status", status, "error", err)
		return storeError("set batch status", err)
	}
	if n == 0 {
		return common.NotFoundErrorf("batch %s not found", id)
	}
	return nil
}

func (r *batchRepo) ListUnfinished(ctx context.Context) ([]uuid.UUID, error) {
	query, args := r.builder().Select("id").
		From(entsql.Table(batchesTable)).
		Where(entsql.In("status", string(constants.BatchStatusQueued), string(constants.BatchStatusProcessing))).
		OrderBy("created_at").
		Query()
	rows := &entsql.Rows{}
	if err := r.drv.Query(ctx, query, args, rows); err != nil {
		return nil, storeError("list unfinished batches", err)
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, storeError("scan batch id", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("list unfinished batches", err)
	}
	return ids, nil
}

func (r *batchRepo) Delete(ctx context.Context, id uuid.UUID) error {
	err := withTx(ctx, r.drv, func(tx dialect.Tx) error {
		query, args := r.builder().Delete(filesTable).Where(entsql.EQ("batch_id", id)).Query()
		if err := tx.Exec(ctx, query, args, nil); err != nil {
			return storeError("delete files", err)
		}
		query, args = r.builder().Delete(batchesTable).Where(entsql.EQ("id", id)).Query()
		n, err := execAffected(ctx, tx, query, args)
		if err != nil {
			return storeError("delete batch", err)
		}
		if n == 0 {
			return common.NotFoundErrorf("batch %s not found", id)
		}
		return nil
	})
	if err != nil {
		r.logger.Error("failed to delete batch", "batch_id", id, "error", err)
		return err
	}
	r.logger.Info("batch deleted", "batch_id", id)
	return nil
}

func encodePayload(p *entity.ExtractionPayload) (any, error) {
	if p == nil {
		return nil, nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, common.WrapError(err, "encode extraction payload")
	}
	return string(b), nil
}

func nullString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
