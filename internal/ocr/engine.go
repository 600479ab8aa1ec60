package ocr

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"os"
	"strconv"
	"time"
)

// Engine recognizes words in a preprocessed image.
type Engine interface {
	Recognize(ctx context.Context, img *image.Gray) ([]Word, error)
}

type Config struct {
	Tesseract   string // binary name or absolute path; if empty -> "tesseract"
	Lang        string // default "eng"
	TessdataDir string
	PSM         int // page segmentation mode; 0 leaves the engine default
	TempDir     string
}

// TesseractEngine runs the tesseract CLI in TSV mode.
type TesseractEngine struct {
	cfg    Config
	runner Runner
	logger *slog.Logger
}

func NewTesseractEngine(cfg Config, runner Runner, logger *slog.Logger) *TesseractEngine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Tesseract == "" {
		cfg.Tesseract = "tesseract"
	}
	if cfg.Lang == "" {
		cfg.Lang = "eng"
	}
	if runner == nil {
		runner = ExecRunner{Logger: logger}
	}
	return &TesseractEngine{cfg: cfg, runner: runner, logger: logger}
}

func (e *TesseractEngine) Recognize(ctx context.Context, img *image.Gray) ([]Word, error) {
	start := time.Now()
	tmp, err := os.CreateTemp(e.cfg.TempDir, "redact-ocr-*.png")
	if err != nil {
		return nil, fmt.Errorf("create temp image: %w", err)
	}
	defer os.Remove(tmp.Name())
	if err := png.Encode(tmp, img); err != nil {
		_ = tmp.Close()
		return nil, fmt.Errorf("encode temp image: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("close temp image: %w", err)
	}

	// tesseract <file> stdout -l <lang> [--psm N] [--tessdata-dir D] tsv
	args := []string{tmp.Name(), "stdout", "-l", e.cfg.Lang}
	if e.cfg.PSM > 0 {
		args = append(args, "--psm", strconv.Itoa(e.cfg.PSM))
	}
	if e.cfg.TessdataDir != "" {
		args = append(args, "--tessdata-dir", e.cfg.TessdataDir)
	}
	args = append(args, "tsv")

	out, errb, err := e.runner.Run(ctx, e.cfg.Tesseract, args...)
	if err != nil {
		return nil, fmt.Errorf("tesseract TSV: %w: %s", err, tail(string(errb), 512))
	}
	words, err := ParseTSV(out)
	if err != nil {
		return nil, err
	}
	e.logger.Debug("ocr.tesseract.ok", "words", len(words), "elapsed_ms", time.Since(start).Milliseconds())
	return words, nil
}
