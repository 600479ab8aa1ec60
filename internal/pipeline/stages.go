package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/joseph-ayodele/redactor/constants"
	"github.com/joseph-ayodele/redactor/internal/classifier"
	"github.com/joseph-ayodele/redactor/internal/common"
	"github.com/joseph-ayodele/redactor/internal/entity"
	"github.com/joseph-ayodele/redactor/internal/redact"
	"github.com/joseph-ayodele/redactor/internal/storage"
)

// Localizer finds text regions in image bytes.
type Localizer interface {
	Localize(ctx context.Context, data []byte) ([]entity.TextRecord, error)
}

// Redactor paints labelled records over an image.
type Redactor interface {
	Redact(original []byte, records []entity.TextRecord) (redact.Output, error)
}

type LocalizeStage struct {
	Store     storage.Store
	Localizer Localizer
	Logger    *slog.Logger
}

func NewLocalizeStage(store storage.Store, localizer Localizer, logger *slog.Logger) *LocalizeStage {
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalizeStage{Store: store, Localizer: localizer, Logger: logger}
}

// Run loads the original upload and localizes its text. The original bytes
// are returned so the redact stage does not download them twice.
func (s *LocalizeStage) Run(ctx context.Context, file *entity.File) ([]byte, *entity.ExtractionPayload, error) {
	start := time.Now()
	data, err := storage.ReadAll(ctx, s.Store, file.OriginalKey())
	if err != nil {
		return nil, nil, err
	}
	records, err := s.Localizer.Localize(ctx, data)
	if err != nil {
		return data, nil, err
	}
	s.Logger.Debug("pipeline.localize.ok",
		"file_id", file.ID,
		"records", len(records),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return data, &entity.ExtractionPayload{Records: records}, nil
}

type ClassifyStage struct {
	Classifier classifier.Classifier
	Labels     []string
	Threshold  float32
	Logger     *slog.Logger
}

func NewClassifyStage(c classifier.Classifier, labels []string, threshold float32, logger *slog.Logger) *ClassifyStage {
	if logger == nil {
		logger = slog.Default()
	}
	if len(labels) == 0 {
		labels = constants.DefaultLabels()
	}
	if threshold <= 0 {
		threshold = constants.DefaultClassThreshold
	}
	return &ClassifyStage{Classifier: c, Labels: labels, Threshold: threshold, Logger: logger}
}

// Run classifies the joined payload text once and returns a new payload with
// matching records labelled. On failure the input payload is returned
// unlabelled together with a ClassificationError.
func (s *ClassifyStage) Run(ctx context.Context, payload *entity.ExtractionPayload) (*entity.ExtractionPayload, int, error) {
	text := payload.Text()
	if text == "" {
		return payload, 0, nil
	}
	entities, err := s.Classifier.Classify(ctx, classifier.Request{
		Text:      text,
		Labels:    s.Labels,
		Threshold: s.Threshold,
	})
	if err != nil {
		if !errors.Is(err, common.ErrClassification) {
			err = common.ClassificationError("classify text", err)
		}
		return payload, 0, err
	}
	labelled := classifier.ApplyLabels(payload, classifier.TokenLabels(entities))
	return labelled, len(entities), nil
}

type RedactStage struct {
	Store    storage.Store
	Redactor Redactor
	Logger   *slog.Logger
}

func NewRedactStage(store storage.Store, redactor Redactor, logger *slog.Logger) *RedactStage {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedactStage{Store: store, Redactor: redactor, Logger: logger}
}

// Run redacts original and uploads the result. It returns the redacted
// filename; the blob key is entity.RedactedKey for that name.
func (s *RedactStage) Run(ctx context.Context, file *entity.File, original []byte, payload *entity.ExtractionPayload) (string, error) {
	var records []entity.TextRecord
	if payload != nil {
		records = payload.Records
	}
	out, err := s.Redactor.Redact(original, records)
	if err != nil {
		return "", err
	}
	name := constants.RedactedName(file.Filename, out.Ext)
	key := entity.RedactedKey(file.BatchID, file.ID, name)
	ct := constants.ContentTypeForExt(filepath.Ext(name))
	if err := s.Store.Put(ctx, key, bytes.NewReader(out.Data), int64(len(out.Data)), ct); err != nil {
		return "", fmt.Errorf("upload redacted file: %w", err)
	}
	s.Logger.Debug("pipeline.redact.ok", "file_id", file.ID, "key", key, "bytes", len(out.Data))
	return name, nil
}
