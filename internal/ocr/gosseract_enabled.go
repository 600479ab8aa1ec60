//go:build gosseract

package ocr

import "log/slog"

// NewEngine returns the in-process engine; this binary was built with the gosseract tag.
func NewEngine(cfg Config, _ Runner, logger *slog.Logger) Engine {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("ocr engine selected", "engine", "gosseract", "lang", cfg.Lang)
	return NewGosseractEngine(cfg)
}
