package gliner

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/joseph-ayodele/redactor/constants"
	"github.com/joseph-ayodele/redactor/internal/classifier"
	"github.com/joseph-ayodele/redactor/internal/common"
	"github.com/joseph-ayodele/redactor/internal/entity"
)

// Config for the span-NER model server client.
type Config struct {
	BaseURL string        // e.g. http://localhost:8090
	Timeout time.Duration // http client timeout
}

// Client talks to a GLiNER-style server exposing POST /predict.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 45 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

type predictRequest struct {
	Text      string   `json:"text"`
	Labels    []string `json:"labels"`
	Threshold float32  `json:"threshold"`
}

// Classify implements classifier.Classifier.
func (c *Client) Classify(ctx context.Context, req classifier.Request) ([]entity.Entity, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, nil
	}
	labels := req.Labels
	if len(labels) == 0 {
		labels = constants.DefaultLabels()
	}
	threshold := req.Threshold
	if threshold <= 0 {
		threshold = constants.DefaultClassThreshold
	}
	start := time.Now()

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/predict"
	raw, status, err := classifier.PostJSON(ctx, c.http, classifier.JSONRequest{
		Backend: "gliner",
		URL:     endpoint,
		Body: predictRequest{
			Text:      req.Text,
			Labels:    labels,
			Threshold: threshold,
		},
	}, c.logger)
	if err != nil {
		c.logger.Error("classifier.gliner.http_error", "status", status, "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return nil, common.ClassificationError("gliner predict", err)
	}

	// The server may answer with labels outside the request; those are filtered, not rejected.
	spans, err := classifier.DecodeEntities(raw, nil)
	if err != nil {
		c.logger.Error("classifier.gliner.schema_validation_failed", "error", err, "raw_bytes", len(raw))
		return nil, common.ClassificationError("gliner response", err)
	}

	kept := spans[:0]
	for _, s := range spans {
		if s.Score > 0 && s.Score < float64(threshold) {
			continue
		}
		kept = append(kept, s)
	}
	out := classifier.SanitizeEntities(kept, labels)

	c.logger.Info("classifier.gliner.ok",
		"text_len", len(req.Text),
		"spans", len(spans),
		"entities", len(out),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return out, nil
}
