package main

import (
	"context"
	"encoding/json"
	"flag"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/joseph-ayodele/redactor/constants"
	"github.com/joseph-ayodele/redactor/internal/app"
	"github.com/joseph-ayodele/redactor/internal/classifier"
	"github.com/joseph-ayodele/redactor/internal/common"
)

// Reads text from the arguments, or stdin when none are given, and prints the
// entities the configured classifier finds in it.
func main() {
	timeout := flag.Duration("timeout", time.Minute, "request timeout")
	flag.Parse()

	_ = godotenv.Load()
	cfg := common.LoadConfig()
	logger := common.NewLogger(cfg.Log)
	slog.SetDefault(logger)

	text := strings.Join(flag.Args(), " ")
	if text == "" {
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			logger.Error("read stdin", "error", err)
			os.Exit(1)
		}
		text = strings.TrimSpace(string(b))
	}
	if text == "" {
		logger.Error("usage", "cmd", "classify <text...> (or pipe text on stdin)")
		os.Exit(2)
	}

	labels := cfg.Classifier.Labels
	if len(labels) == 0 {
		labels = constants.DefaultLabels()
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	entities, err := app.NewClassifier(cfg.Classifier, logger).Classify(ctx, classifier.Request{
		Text:      text,
		Labels:    labels,
		Threshold: cfg.Classifier.Threshold,
	})
	if err != nil {
		logger.Error("classification failed", "backend", cfg.Classifier.Backend, "error", err)
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(map[string]any{
		"entities": entities,
		"tokens":   classifier.TokenLabels(entities),
	})
}
