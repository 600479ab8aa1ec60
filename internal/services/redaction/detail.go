package redaction

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type FileDetail struct {
	ID               uuid.UUID      `json:"id"`
	Filename         string         `json:"filename"`
	Status           string         `json:"status"`
	Error            string         `json:"error,omitempty"`
	Records          int            `json:"records"`
	Flagged          int            `json:"flagged"`
	Labels           map[string]int `json:"labels,omitempty"`
	RedactedFilename string         `json:"redacted_filename,omitempty"`
}

type BatchDetail struct {
	ID        uuid.UUID    `json:"batch_id"`
	Status    string       `json:"status"`
	CreatedAt time.Time    `json:"created_at"`
	Files     []FileDetail `json:"files"`
}

// Detail returns a batch with per-file status and entity counts.
func (s *Service) Detail(ctx context.Context, batchID uuid.UUID) (*BatchDetail, error) {
	batch, err := s.batches.GetByID(ctx, batchID)
	if err != nil {
		return nil, err
	}
	files, err := s.files.ListByBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	out := &BatchDetail{
		ID:        batch.ID,
		Status:    batch.Status.API(),
		CreatedAt: batch.CreatedAt,
		Files:     make([]FileDetail, 0, len(files)),
	}
	for _, f := range files {
		d := FileDetail{
			ID:       f.ID,
			Filename: f.Filename,
			Status:   string(f.Status),
		}
		if f.ErrorMessage != nil {
			d.Error = *f.ErrorMessage
		}
		if f.RedactedFilename != nil {
			d.RedactedFilename = *f.RedactedFilename
		}
		if f.Payload != nil {
			d.Records = len(f.Payload.Records)
			d.Flagged = len(f.Payload.Flagged())
			d.Labels = f.Payload.LabelCounts()
		}
		out.Files = append(out.Files, d)
	}
	return out, nil
}
