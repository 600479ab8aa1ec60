package ocr

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"math"
	"strings"
	"time"

	_ "golang.org/x/image/webp"

	"github.com/joseph-ayodele/redactor/internal/common"
	"github.com/joseph-ayodele/redactor/internal/entity"
)

// MaxPixels bounds the decoded size of an upload before it is upscaled.
const MaxPixels = 40_000_000

// Localizer turns image bytes into text records with boxes in the
// preprocessed coordinate space.
type Localizer struct {
	engine Engine
	logger *slog.Logger
}

func NewLocalizer(engine Engine, logger *slog.Logger) *Localizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Localizer{engine: engine, logger: logger}
}

// Localize decodes data, preprocesses it and recognizes words. Records with
// empty or whitespace-only text are dropped; every confidence is kept.
func (l *Localizer) Localize(ctx context.Context, data []byte) ([]entity.TextRecord, error) {
	start := time.Now()
	img, format, err := Decode(data)
	if err != nil {
		return nil, err
	}
	pre := Preprocess(img)
	words, err := l.engine.Recognize(ctx, pre)
	if err != nil {
		return nil, fmt.Errorf("recognize: %w", err)
	}

	records := make([]entity.TextRecord, 0, len(words))
	for _, w := range words {
		if strings.TrimSpace(w.Text) == "" {
			continue
		}
		records = append(records, entity.TextRecord{
			Text:       w.Text,
			BBox:       entity.NewBBox(w.Box.Min.X, w.Box.Min.Y, w.Box.Dx(), w.Box.Dy()),
			Confidence: math.Round(w.Confidence*1000) / 1000,
		})
	}
	l.logger.Debug("ocr.localize.ok",
		"format", format,
		"words", len(words),
		"records", len(records),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return records, nil
}

// Decode decodes an upload, rejecting undecodable or oversized images with an
// ImageDecodeError.
func Decode(data []byte) (image.Image, string, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", common.ImageDecodeError("decode image header", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width*cfg.Height > MaxPixels {
		return nil, "", common.ImageDecodeError(fmt.Sprintf("unsupported image size %dx%d", cfg.Width, cfg.Height), nil)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", common.ImageDecodeError("decode image", err)
	}
	return img, format, nil
}
