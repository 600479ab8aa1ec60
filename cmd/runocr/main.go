package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/joseph-ayodele/redactor/internal/app"
	"github.com/joseph-ayodele/redactor/internal/classifier"
	"github.com/joseph-ayodele/redactor/internal/common"
	"github.com/joseph-ayodele/redactor/internal/entity"
)

func main() {
	classify := flag.Bool("classify", false, "also run the entity classifier and label the records")
	timeout := flag.Duration("timeout", 2*time.Minute, "overall timeout")
	flag.Parse()

	_ = godotenv.Load()
	cfg := common.LoadConfig()
	logger := common.NewLogger(cfg.Log)
	slog.SetDefault(logger)

	if flag.NArg() != 1 {
		logger.Error("usage", "cmd", "runocr [-classify] <image-path>")
		os.Exit(2)
	}
	path := flag.Arg(0)

	data, err := os.ReadFile(path)
	if err != nil {
		logger.Error("read image", "path", path, "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	start := time.Now()
	records, err := app.NewLocalizer(cfg.OCR, logger).Localize(ctx, data)
	if err != nil {
		logger.Error("text localization failed", "path", path, "error", err)
		os.Exit(1)
	}
	payload := &entity.ExtractionPayload{Records: records}

	if *classify {
		entities, err := app.NewClassifier(cfg.Classifier, logger).Classify(ctx, classifier.Request{
			Text:      payload.Text(),
			Labels:    cfg.Classifier.Labels,
			Threshold: cfg.Classifier.Threshold,
		})
		if err != nil {
			logger.Error("classification failed", "path", path, "error", err)
			os.Exit(1)
		}
		payload = classifier.ApplyLabels(payload, classifier.TokenLabels(entities))
	}

	logger.Info("text localization OK",
		"path", path,
		"records", len(payload.Records),
		"flagged", len(payload.Flagged()),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(payload); err != nil {
		logger.Error("encode output", "error", err)
		os.Exit(1)
	}
}
