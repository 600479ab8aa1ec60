package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/redactor/constants"
	"github.com/joseph-ayodele/redactor/internal/common"
	"github.com/joseph-ayodele/redactor/internal/entity"
)

type FileRepository interface {
	// ListByBatch returns the files of a batch in submission order.
	ListByBatch(ctx context.Context, batchID uuid.UUID) ([]*entity.File, error)
	GetByID(ctx context.Context, id uuid.UUID) (*entity.File, error)
	// MarkProcessing moves a non-terminal file to processing. It reports false
	// when the file is already terminal.
	MarkProcessing(ctx context.Context, id uuid.UUID) (bool, error)
	// Finish writes the terminal outcome of a file in one transaction. A file
	// that is already terminal is left as is and false is returned.
	Finish(ctx context.Context, id uuid.UUID, outcome entity.FileOutcome) (bool, error)
}

var fileColumns = []string{"id", "batch_id", "filename", "position", "status", "payload", "redacted_filename", "error_message", "created_at"}

type fileRepo struct {
	drv    *entsql.Driver
	logger *slog.Logger
}

func NewFileRepository(drv *entsql.Driver, logger *slog.Logger) FileRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &fileRepo{
		drv:    drv,
		logger: logger,
	}
}

func (r *fileRepo) builder() *entsql.DialectBuilder {
	return entsql.Dialect(r.drv.Dialect())
}

func (r *fileRepo) ListByBatch(ctx context.Context, batchID uuid.UUID) ([]*entity.File, error) {
	query, args := r.builder().Select(fileColumns...).
		From(entsql.Table(filesTable)).
		Where(entsql.EQ("batch_id", batchID)).
		OrderBy("position").
		Query()
	files, err := r.query(ctx, r.drv, query, args)
	if err != nil {
		r.logger.Error("failed to list files", "batch_id", batchID, "error", err)
		return nil, err
	}
	return files, nil
}

func (r *fileRepo) GetByID(ctx context.Context, id uuid.UUID) (*entity.File, error) {
	return r.getByID(ctx, r.drv, id)
}

func (r *fileRepo) getByID(ctx context.Context, q dialect.ExecQuerier, id uuid.UUID) (*entity.File, error) {
	query, args := r.builder().Select(fileColumns...).
		From(entsql.Table(filesTable)).
		Where(entsql.EQ("id", id)).
		Query()
	files, err := r.query(ctx, q, query, args)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, common.NotFoundErrorf("file %s not found", id)
	}
	return files[0], nil
}

func (r *fileRepo) MarkProcessing(ctx context.Context, id uuid.UUID) (bool, error) {
	query, args := r.builder().Update(filesTable).
		Set("status", string(constants.FileStatusProcessing)).
		Where(entsql.And(
			entsql.EQ("id", id),
			entsql.In("status", string(constants.FileStatusQueued), string(constants.FileStatusProcessing)),
		)).
		Query()
	n, err := execAffected(ctx, r.drv, query, args)
	if err != nil {
		return false, storeError("mark file processing", err)
	}
	if n > 0 {
		return true, nil
	}
	if _, err := r.GetByID(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (r *fileRepo) Finish(ctx context.Context, id uuid.UUID, outcome entity.FileOutcome) (bool, error) {
	if !outcome.Status.IsTerminal() {
		return false, common.InvalidArgumentErrorf("file status %q is not terminal", outcome.Status)
	}
	payload, err := encodePayload(outcome.Payload)
	if err != nil {
		return false, err
	}
	var redacted, message any
	if outcome.RedactedFilename != "" {
		redacted = outcome.RedactedFilename
	}
	if outcome.ErrorMessage != "" {
		message = outcome.ErrorMessage
	}

	written := false
	err = withTx(ctx, r.drv, func(tx dialect.Tx) error {
		query, args := r.builder().Update(filesTable).
			Set("status", string(outcome.Status)).
			Set("payload", payload).
			Set("redacted_filename", redacted).
			Set("error_message", message).
			Where(entsql.And(
				entsql.EQ("id", id),
				entsql.In("status", string(constants.FileStatusQueued), string(constants.FileStatusProcessing)),
			)).
			Query()
		n, err := execAffected(ctx, tx, query, args)
		if err != nil {
			return storeError("finish file", err)
		}
		if n > 0 {
			written = true
			return nil
		}
		// Distinguish a vanished row from one that already reached a terminal state.
		_, err = r.getByID(ctx, tx, id)
		return err
	})
	if err != nil {
		r.logger.Error("failed to finish file", "file_id", id, "status", outcome.Status, "error", err)
		return false, err
	}
	return written, nil
}

func (r *fileRepo) query(ctx context.Context, q dialect.ExecQuerier, query string, args []any) ([]*entity.File, error) {
	rows := &entsql.Rows{}
	if err := q.Query(ctx, query, args, rows); err != nil {
		return nil, storeError("query files", err)
	}
	defer rows.Close()

	var files []*entity.File
	for rows.Next() {
		var (
			f        entity.File
			status   string
			payload  sql.NullString
			redacted sql.NullString
			message  sql.NullString
		)
		if err := rows.Scan(&f.ID, &f.BatchID, &f.Filename, &f.Position, &status, &payload, &redacted, &message, &f.CreatedAt); err != nil {
			return nil, storeError("scan file", err)
		}
		f.Status = constants.FileStatus(status)
		if payload.Valid && payload.String != "" && payload.String != "null" {
			var p entity.ExtractionPayload
			if err := json.Unmarshal([]byte(payload.String), &p); err != nil {
				return nil, common.WrapError(err, "decode extraction payload")
			}
			f.Payload = &p
		}
		if redacted.Valid {
			s := redacted.String
			f.RedactedFilename = &s
		}
		if message.Valid {
			s := message.String
			f.ErrorMessage = &s
		}
		files = append(files, &f)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("query files", err)
	}
	return files, nil
}
