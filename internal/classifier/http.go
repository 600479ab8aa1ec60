package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/redactor/internal/common"
)

// maxResponseBytes bounds how much of a backend answer is read.
const maxResponseBytes = 8 << 20

// JSONRequest is one POST to a classifier backend.
type JSONRequest struct {
	Backend string // gliner | openai, used in log events
	URL     string
	Body    any
	Headers map[string]string
}

// PostJSON sends req and returns the response body and status code. A non-2xx
// answer returns the body along with an error. The request id of ctx is
// forwarded as X-Request-ID so backend logs can be joined with ours.
func PostJSON(ctx context.Context, client *http.Client, req JSONRequest, logger *slog.Logger) ([]byte, int, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if client == nil {
		client = http.DefaultClient
	}
	reqID := common.RequestIDFromContext(ctx)
	if reqID == "" {
		reqID = uuid.NewString()
	}
	log := logger.With("backend", req.Backend, "req_id", reqID)

	payload, err := json.Marshal(req.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("encode %s request: %w", req.Backend, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, 0, fmt.Errorf("build %s request: %w", req.Backend, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-Request-ID", reqID)
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	started := time.Now()
	resp, err := client.Do(httpReq)
	if err != nil {
		log.Warn("classifier.http.unreachable", "url", req.URL, "error", err, "elapsed_ms", time.Since(started).Milliseconds())
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read %s response: %w", req.Backend, err)
	}
	log.Debug("classifier.http.done",
		"status", resp.StatusCode,
		"sent_bytes", len(payload),
		"recv_bytes", len(body),
		"elapsed_ms", time.Since(started).Milliseconds(),
	)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return body, resp.StatusCode, fmt.Errorf("%s answered %s", req.Backend, resp.Status)
	}
	return body, resp.StatusCode, nil
}
