package redaction

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/redactor/constants"
	"github.com/joseph-ayodele/redactor/internal/archive"
	"github.com/joseph-ayodele/redactor/internal/async"
	"github.com/joseph-ayodele/redactor/internal/cache"
	"github.com/joseph-ayodele/redactor/internal/common"
	"github.com/joseph-ayodele/redactor/internal/entity"
	"github.com/joseph-ayodele/redactor/internal/repository"
	"github.com/joseph-ayodele/redactor/internal/storage"
)

type recordingQueue struct {
	mu   sync.Mutex
	jobs []async.Job
	err  error
}

func (q *recordingQueue) Enqueue(_ context.Context, job async.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *recordingQueue) Shutdown(context.Context) {}

type fixture struct {
	svc     *Service
	batches repository.BatchRepository
	files   repository.FileRepository
	store   *storage.MemoryStore
	cache   *cache.Memory
	queue   *recordingQueue
}

func newFixture(t *testing.T) *fixture {
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
	f := &fixture{
		batches: repository.NewBatchRepository(drv, nil),
		files:   repository.NewFileRepository(drv, nil),
		store:   storage.NewMemoryStore(),
		cache:   cache.NewMemory(),
		queue:   &recordingQueue{},
	}
	f.svc = NewService(Deps{
		Batches:  f.batches,
		Files:    f.files,
		Store:    f.store,
		Cache:    f.cache,
		Queue:    f.queue,
		Packager: archive.NewPackager(f.store, 64, nil),
	}, Config{MaxUploadBytes: 1 << 20, MaxFiles: 3}, nil)
	return f
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, 4, 4))); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

func TestSubmit(t *testing.T) {
	f := newFixture(t)
	ctx := common.WithRequestID(context.Background(), "req-1")
	img := pngBytes(t)

	id, err := f.svc.Submit(ctx, []Upload{BytesUpload("a.png", img), BytesUpload("b.png", img)})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	files, err := f.files.ListByBatch(ctx, id)
	if err != nil {
		t.Fatalf("ListByBatch: %v", err)
	}
	if len(files) != 2 || files[0].Filename != "a.png" || files[1].Filename != "b.png" {
		t.Fatalf("files = %+v", files)
	}
	for _, file := range files {
		data, err := storage.ReadAll(ctx, f.store, file.OriginalKey())
		if err != nil {
			t.Fatalf("original %s: %v", file.Filename, err)
		}
		if !bytes.Equal(data, img) {
			t.Fatalf("original %s differs", file.Filename)
		}
	}
	if len(f.queue.jobs) != 1 || f.queue.jobs[0].BatchID != id || f.queue.jobs[0].TraceID != "req-1" {
		t.Fatalf("jobs = %+v", f.queue.jobs)
	}
	status, err := f.svc.Status(ctx, id)
	if err != nil || status != "queued" {
		t.Fatalf("Status = %q, %v", status, err)
	}
}

func TestSubmitRejects(t *testing.T) {
	img := pngBytes(t)
	tests := []struct {
		name    string
		uploads []Upload
		want    error
	}{
		{"empty", nil, common.ErrInvalidInput},
		{"too many", []Upload{BytesUpload("a.png", img), BytesUpload("b.png", img), BytesUpload("c.png", img), BytesUpload("d.png", img)}, common.ErrInvalidInput},
		{"duplicate", []Upload{BytesUpload("a.png", img), BytesUpload("a.png", img)}, common.ErrInvalidInput},
		{"output collision", []Upload{BytesUpload("a.png", img), BytesUpload("a.webp", append([]byte("RIFF\x00\x00\x00\x00WEBPVP8 "), img...))}, common.ErrInvalidInput},
		{"extension", []Upload{BytesUpload("a.gif", img)}, common.ErrInvalidInput},
		{"content", []Upload{BytesUpload("a.png", []byte("just some text, not an image"))}, common.ErrInvalidInput},
		{"too large", []Upload{BytesUpload("a.png", append(img, make([]byte, 1<<20)...))}, common.ErrTooLarge},
		{"path", []Upload{BytesUpload("../a.png", img)}, common.ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.svc.Submit(context.Background(), tt.uploads)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if len(f.store.Keys()) != 0 || len(f.queue.jobs) != 0 {
				t.Fatalf("rejected submission left state: keys=%v jobs=%d", f.store.Keys(), len(f.queue.jobs))
			}
		})
	}
}

func TestSubmitEnqueueFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	f.queue.err = errors.New("broker down")
	_, err := f.svc.Submit(context.Background(), []Upload{BytesUpload("a.png", pngBytes(t))})
	if !errors.Is(err, common.ErrStorage) {
		t.Fatalf("err = %v", err)
	}
	if keys := f.store.Keys(); len(keys) != 0 {
		t.Fatalf("blobs left behind: %v", keys)
	}
	ids, err := f.batches.ListUnfinished(context.Background())
	if err != nil || len(ids) != 0 {
		t.Fatalf("batches left behind: %v %v", ids, err)
	}
}

// finishFile stores a redacted blob and marks the file terminal, as the orchestrator would.
func (f *fixture) finishFile(t *testing.T, file *entity.File, status constants.FileStatus) {
	t.Helper()
	ctx := context.Background()
	name := constants.RedactedName(file.Filename, "")
	key := entity.RedactedKey(file.BatchID, file.ID, name)
	if err := f.store.Put(ctx, key, strings.NewReader("redacted "+file.Filename), -1, "image/png"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := f.files.Finish(ctx, file.ID, entity.FileOutcome{Status: status, RedactedFilename: name}); err != nil {
		t.Fatalf("Finish: %v", err)
	}
}

func TestResult(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	img := pngBytes(t)
	id, err := f.svc.Submit(ctx, []Upload{BytesUpload("a.png", img), BytesUpload("b.png", img)})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if _, _, err := f.svc.Result(ctx, id); !errors.Is(err, common.ErrNotReady) {
		t.Fatalf("queued batch: err = %v", err)
	}

	files, _ := f.files.ListByBatch(ctx, id)
	f.finishFile(t, files[0], constants.FileStatusComplete)
	f.finishFile(t, files[1], constants.FileStatusUnusable)
	if err := f.batches.SetStatus(ctx, id, constants.BatchStatusPartiallyFailed); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}

	stream, name, err := f.svc.Result(ctx, id)
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	if name != "redacted_files.zip" {
		t.Fatalf("name = %q", name)
	}
	var buf bytes.Buffer
	for chunk := range stream.Chunks() {
		if len(chunk) > 64 {
			t.Fatalf("chunk of %d bytes exceeds chunk size", len(chunk))
		}
		buf.Write(chunk)
	}
	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("zip: %v", err)
	}
	if len(zr.File) != 1 || zr.File[0].Name != "a_redacted.png" {
		t.Fatalf("entries = %v", zr.File)
	}
}

func TestResultFailedBatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, err := f.svc.Submit(ctx, []Upload{BytesUpload("a.png", pngBytes(t))})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	files, _ := f.files.ListByBatch(ctx, id)
	if _, err := f.files.Finish(ctx, files[0].ID, entity.FileOutcome{Status: constants.FileStatusFailed, ErrorMessage: "bad image"}); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if err := f.batches.SetStatus(ctx, id, constants.BatchStatusFailed); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	if _, _, err := f.svc.Result(ctx, id); !errors.Is(err, common.ErrNotReady) {
		t.Fatalf("err = %v", err)
	}

	detail, err := f.svc.Detail(ctx, id)
	if err != nil {
		t.Fatalf("Detail: %v", err)
	}
	if detail.Status != "failed" || len(detail.Files) != 1 || detail.Files[0].Error != "bad image" {
		t.Fatalf("detail = %+v", detail)
	}
}

func TestDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, err := f.svc.Submit(ctx, []Upload{BytesUpload("a.png", pngBytes(t))})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	files, _ := f.files.ListByBatch(ctx, id)
	f.finishFile(t, files[0], constants.FileStatusComplete)

	if err := f.svc.Delete(ctx, id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if keys := f.store.Keys(); len(keys) != 0 {
		t.Fatalf("blobs left: %v", keys)
	}
	if _, err := f.svc.Status(ctx, id); !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("Status after delete: %v", err)
	}
	if err := f.svc.Delete(ctx, id); !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("second Delete: %v", err)
	}
}

func TestStatusUsesCache(t *testing.T) {
	f := newFixture(t)
	id := uuid.New()
	if err := f.cache.SetStatus(context.Background(), id, constants.BatchStatusComplete); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	status, err := f.svc.Status(context.Background(), id)
	if err != nil || status != "completed" {
		t.Fatalf("Status = %q, %v", status, err)
	}
}

func TestRecover(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.Submit(ctx, []Upload{BytesUpload("a.png", pngBytes(t))}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	f.queue.jobs = nil
	n, err := f.svc.Recover(ctx)
	if err != nil || n != 1 || len(f.queue.jobs) != 1 {
		t.Fatalf("Recover = %d, %v, jobs %d", n, err, len(f.queue.jobs))
	}
}
