package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/redactor/constants"
	"github.com/joseph-ayodele/redactor/internal/classifier"
	"github.com/joseph-ayodele/redactor/internal/common"
	"github.com/joseph-ayodele/redactor/internal/entity"
)

// Classify implements classifier.Classifier using JSON-mode chat/completions.
func (c *Client) Classify(ctx context.Context, req classifier.Request) ([]entity.Entity, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, nil
	}
	labels := req.Labels
	if len(labels) == 0 {
		labels = constants.DefaultLabels()
	}
	rid := uuid.New().String()
	start := time.Now()

	c.logger.Info("classifier.openai.start",
		"req_id", rid,
		"text_len", len(req.Text),
		"labels", len(labels),
	)

	schema := classifier.BuildEntitiesJSONSchema(labels)
	body := map[string]any{
		"model":           c.cfg.Model,
		"temperature":     c.cfg.Temperature,
		"response_format": map[string]any{"type": "json_object"},
		"messages": []map[string]any{
			{"role": "system", "content": buildSystemPrompt(labels)},
			{"role": "user", "content": buildUserPrompt(req.Text, c.cfg.MaxTextChars)},
			{"role": "system", "content": "JSON Schema:\n" + mustJSON(schema)},
		},
	}

	raw, status, err := classifier.PostJSON(ctx, c.http, classifier.JSONRequest{
		Backend: "openai",
		URL:     c.endpoint,
		Body:    body,
		Headers: map[string]string{"Authorization": "Bearer " + c.cfg.APIKey},
	}, c.logger)
	if err != nil {
		c.logger.Error("classifier.openai.http_error",
			"req_id", rid, "status", status, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return nil, common.ClassificationError("openai chat completion", err)
	}

	var cc struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &cc); err != nil {
		c.logger.Error("classifier.openai.decode_error", "req_id", rid, "error", err, "raw_bytes", len(raw))
		return nil, common.ClassificationError("decode openai response", err)
	}
	if len(cc.Choices) == 0 {
		c.logger.Error("classifier.openai.no_choices", "req_id", rid)
		return nil, common.ClassificationError("no choices in openai response", nil)
	}
	content := []byte(strings.TrimSpace(cc.Choices[0].Message.Content))

	// Validate strictly first.
	if err := classifier.ValidateJSONAgainstSchema(schema, content); err != nil {
		if !c.cfg.LenientOptional {
			c.logger.Error("classifier.openai.schema_validation_failed", "req_id", rid, "error", err)
			return nil, common.ClassificationError("schema validation failed", err)
		}
		cleaned, dropped, sErr := classifier.DropUnknownLabels(content, labels)
		if sErr != nil {
			c.logger.Error("classifier.openai.sanitize_failed", "req_id", rid, "error", sErr)
			return nil, common.ClassificationError("sanitize failed", sErr)
		}
		if vErr := classifier.ValidateJSONAgainstSchema(schema, cleaned); vErr != nil {
			c.logger.Error("classifier.openai.schema_validation_failed", "req_id", rid, "error", vErr)
			return nil, common.ClassificationError("schema validation failed", vErr)
		}
		c.logger.Warn("classifier.openai.lenient_sanitize_applied", "req_id", rid, "dropped", dropped)
		content = cleaned
	}

	spans, err := classifier.DecodeEntities(content, labels)
	if err != nil {
		return nil, common.ClassificationError("decode entities", err)
	}
	out := classifier.SanitizeEntities(spans, labels)

	c.logger.Info("classifier.openai.ok",
		"req_id", rid,
		"entities", len(out),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return out, nil
}

func buildSystemPrompt(labels []string) string {
	parts := []string{
		"You are a personal data detector for scanned documents. Return ONLY JSON that matches the JSON Schema provided.",
		"Return an object with an 'entities' array. Each entity has 'text' copied verbatim from the input and a 'label'.",
		"Allowed labels (enum): " + strings.Join(labels, ", ") + ".",
		"The input is OCR output: words are separated by single spaces and may contain recognition errors.",
		"Never paraphrase or normalize the text of a span. If nothing matches, return an empty 'entities' array.",
	}
	return strings.Join(parts, " ")
}

func buildUserPrompt(text string, maxChars int) string {
	if len(text) > maxChars {
		text = text[:maxChars]
	}
	return fmt.Sprintf("Document text:\n%s\n\nReturn ONLY JSON that matches the provided schema.", text)
}

func mustJSON(v any) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}
