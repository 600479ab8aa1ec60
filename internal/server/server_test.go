package server

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/joseph-ayodele/redactor/constants"
	"github.com/joseph-ayodele/redactor/internal/archive"
	"github.com/joseph-ayodele/redactor/internal/async"
	"github.com/joseph-ayodele/redactor/internal/cache"
	"github.com/joseph-ayodele/redactor/internal/entity"
	"github.com/joseph-ayodele/redactor/internal/export"
	"github.com/joseph-ayodele/redactor/internal/repository"
	"github.com/joseph-ayodele/redactor/internal/services/redaction"
	"github.com/joseph-ayodele/redactor/internal/storage"
)

func init() { gin.SetMode(gin.TestMode) }

type nopQueue struct{}

func (nopQueue) Enqueue(context.Context, async.Job) error { return nil }
func (nopQueue) Shutdown(context.Context)                 {}

type testAPI struct {
	router  http.Handler
	batches repository.BatchRepository
	files   repository.FileRepository
	store   *storage.MemoryStore
}

func newTestAPI(t *testing.T, health HealthFunc) *testAPI {
	t.Helper()
	ctx := context.Background()
	drv, err := repository.OpenSQLite(ctx, "", nil)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = drv.Close() })
	if err := repository.Migrate(ctx, drv, nil); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	api := &testAPI{
		batches: repository.NewBatchRepository(drv, nil),
		files:   repository.NewFileRepository(drv, nil),
		store:   storage.NewMemoryStore(),
	}
	svc := redaction.NewService(redaction.Deps{
		Batches:  api.batches,
		Files:    api.files,
		Store:    api.store,
		Cache:    cache.NewMemory(),
		Queue:    nopQueue{},
		Packager: archive.NewPackager(api.store, 0, nil),
	}, redaction.Config{}, nil)
	srv := New(svc, export.NewService(api.batches, api.files, nil), Options{
		MaxUploadBytes: constants.MaxUploadBytes,
		MaxFiles:       redaction.DefaultMaxFiles,
		Health:         health,
	}, nil)
	api.router = srv.Router()
	return api
}

func (a *testAPI) do(t *testing.T, method, path string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func multipartBody(t *testing.T, files map[string][]byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, data := range files {
		fw, err := mw.CreateFormFile("files", name)
		if err != nil {
			t.Fatalf("CreateFormFile: %v", err)
		}
		_, _ = fw.Write(data)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, 4, 4))); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return out
}

func (a *testAPI) submit(t *testing.T) uuid.UUID {
	t.Helper()
	body, ct := multipartBody(t, map[string][]byte{"scan.png": pngBytes(t)})
	w := a.do(t, http.MethodPost, "/predict", body, ct)
	if w.Code != http.StatusAccepted {
		t.Fatalf("POST /predict = %d %s", w.Code, w.Body.String())
	}
	out := decode(t, w)
	if out["status"] != "queued" {
		t.Fatalf("submit response = %v", out)
	}
	id, err := uuid.Parse(out["batch_id"].(string))
	if err != nil {
		t.Fatalf("batch_id: %v", err)
	}
	return id
}

func TestSubmitAndCheck(t *testing.T) {
	api := newTestAPI(t, nil)
	id := api.submit(t)

	w := api.do(t, http.MethodGet, "/predict/check/"+id.String(), nil, "")
	if w.Code != http.StatusOK || decode(t, w)["status"] != "queued" {
		t.Fatalf("check = %d %s", w.Code, w.Body.String())
	}
	if w.Header().Get(HeaderRequestID) == "" {
		t.Fatalf("missing request id header")
	}
}

func TestErrorResponses(t *testing.T) {
	api := newTestAPI(t, nil)
	id := api.submit(t)
	noFiles, noFilesCT := multipartBody(t, nil)
	textFile, textCT := multipartBody(t, map[string][]byte{"a.png": []byte("plain text")})

	tests := []struct {
		name   string
		method string
		path   string
		body   *bytes.Buffer
		ct     string
		want   int
	}{
		{"no files", http.MethodPost, "/predict", noFiles, noFilesCT, http.StatusBadRequest},
		{"not multipart", http.MethodPost, "/predict", bytes.NewBufferString("{}"), "application/json", http.StatusBadRequest},
		{"bad content", http.MethodPost, "/predict", textFile, textCT, http.StatusBadRequest},
		{"bad id", http.MethodGet, "/predict/check/nope", nil, "", http.StatusBadRequest},
		{"unknown batch", http.MethodGet, "/predict/check/" + uuid.NewString(), nil, "", http.StatusNotFound},
		{"result not ready", http.MethodGet, "/predict/" + id.String(), nil, "", http.StatusConflict},
		{"drop unknown", http.MethodDelete, "/predict/drop/" + uuid.NewString(), nil, "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := api.do(t, tt.method, tt.path, tt.body, tt.ct)
			if w.Code != tt.want {
				t.Fatalf("%s %s = %d %s, want %d", tt.method, tt.path, w.Code, w.Body.String(), tt.want)
			}
			if _, ok := decode(t, w)["error"]; !ok {
				t.Fatalf("missing error field: %s", w.Body.String())
			}
		})
	}
}

func TestResultDetailReportAndDrop(t *testing.T) {
	api := newTestAPI(t, nil)
	ctx := context.Background()
	id := api.submit(t)

	files, err := api.files.ListByBatch(ctx, id)
	if err != nil || len(files) != 1 {
		t.Fatalf("ListByBatch: %v %d", err, len(files))
	}
	f := files[0]
	name := constants.RedactedName(f.Filename, "")
	if err := api.store.Put(ctx, entity.RedactedKey(id, f.ID, name), bytes.NewReader(pngBytes(t)), -1, "image/png"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := api.files.Finish(ctx, f.ID, entity.FileOutcome{Status: constants.FileStatusComplete, RedactedFilename: name}); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if err := api.batches.SetStatus(ctx, id, constants.BatchStatusComplete); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}

	w := api.do(t, http.MethodGet, "/predict/"+id.String(), nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("result = %d %s", w.Code, w.Body.String())
	}
	if got := w.Header().Get("Content-Disposition"); got != "attachment; filename=redacted_files.zip" {
		t.Fatalf("Content-Disposition = %q", got)
	}
	zr, err := zip.NewReader(bytes.NewReader(w.Body.Bytes()), int64(w.Body.Len()))
	if err != nil {
		t.Fatalf("zip: %v", err)
	}
	if len(zr.File) != 1 || zr.File[0].Name != "scan_redacted.png" {
		t.Fatalf("entries = %v", zr.File)
	}

	w = api.do(t, http.MethodGet, "/predict/"+id.String()+"/files", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("files = %d %s", w.Code, w.Body.String())
	}
	var detail redaction.BatchDetail
	if err := json.Unmarshal(w.Body.Bytes(), &detail); err != nil {
		t.Fatalf("decode detail: %v", err)
	}
	if detail.Status != "completed" || len(detail.Files) != 1 || detail.Files[0].RedactedFilename != name {
		t.Fatalf("detail = %+v", detail)
	}

	w = api.do(t, http.MethodGet, "/predict/"+id.String()+"/report", nil, "")
	if w.Code != http.StatusOK || !strings.Contains(w.Header().Get("Content-Type"), "spreadsheetml") {
		t.Fatalf("report = %d %q", w.Code, w.Header().Get("Content-Type"))
	}

	w = api.do(t, http.MethodDelete, "/predict/drop/"+id.String(), nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("drop = %d %s", w.Code, w.Body.String())
	}
	if keys := api.store.Keys(); len(keys) != 0 {
		t.Fatalf("blobs left after drop: %v", keys)
	}
	w = api.do(t, http.MethodGet, "/predict/check/"+id.String(), nil, "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("check after drop = %d", w.Code)
	}
}

func TestHealthz(t *testing.T) {
	w := newTestAPI(t, nil).do(t, http.MethodGet, "/healthz", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("healthz = %d", w.Code)
	}
	failing := func(context.Context) error { return errors.New("db down") }
	w = newTestAPI(t, failing).do(t, http.MethodGet, "/healthz", nil, "")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("healthz with failing check = %d", w.Code)
	}
}

func TestGRPCHealth(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv := NewGRPCHealthServer(ctx, func(context.Context) error { return nil }, time.Hour, nil)
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() { _ = srv.Serve(lis) }()
	defer srv.Stop()

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer conn.Close()
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("status = %v", resp.GetStatus())
	}
}
