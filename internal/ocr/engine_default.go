//go:build !gosseract

package ocr

import "log/slog"

// NewEngine returns the tesseract CLI engine.
func NewEngine(cfg Config, runner Runner, logger *slog.Logger) Engine {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("ocr engine selected", "engine", "tesseract-cli", "lang", cfg.Lang)
	return NewTesseractEngine(cfg, runner, logger)
}
