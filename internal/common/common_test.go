package common

import (
	"errors"
	"net/http"
	"testing"
	"time"
)

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"not found", NotFoundError("batch missing"), http.StatusNotFound},
		{"invalid", InvalidArgumentError("bad"), http.StatusBadRequest},
		{"not ready", NotReadyError("still processing"), http.StatusConflict},
		{"storage", StorageError("put", errors.New("dial tcp")), http.StatusServiceUnavailable},
		{"too large", NewAppError(CodeInvalidInput, "big", ErrTooLarge), http.StatusRequestEntityTooLarge},
		{"wrapped not found", WrapError(NotFoundError("x"), "load batch"), http.StatusNotFound},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := HTTPStatus(tc.err); got != tc.want {
			t.Fatalf("%s: HTTPStatus = %d, want %d", tc.name, got, tc.want)
		}
	}
}

func TestTaxonomyWrapsSentinels(t *testing.T) {
	cause := errors.New("unexpected EOF")
	err := ImageDecodeError("decode upload", cause)
	if !errors.Is(err, ErrImageDecode) {
		t.Fatalf("ImageDecodeError does not match ErrImageDecode")
	}
	if !errors.Is(err, cause) {
		t.Fatalf("ImageDecodeError lost its cause")
	}
	if !errors.Is(ClassificationError("call", nil), ErrClassification) {
		t.Fatalf("ClassificationError does not match ErrClassification")
	}
}

func TestPublicMessageHidesInternals(t *testing.T) {
	if got := PublicMessage(StorageError("put", errors.New("secret host"))); got != "storage temporarily unavailable" {
		t.Fatalf("PublicMessage = %q", got)
	}
	if got := PublicMessage(NotFoundError("batch not found")); got != "batch not found" {
		t.Fatalf("PublicMessage = %q", got)
	}
}

func TestValidateUpload(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n0000000000")
	webp := []byte("RIFF\x00\x00\x00\x00WEBPVP8 ")
	cases := []struct {
		name     string
		filename string
		size     int64
		head     []byte
		wantErr  error
	}{
		{"ok png", "scan.png", 20, png, nil},
		{"ok webp", "scan.webp", 20, webp, nil},
		{"missing name", "", 20, png, ErrInvalidInput},
		{"path", "../scan.png", 20, png, ErrInvalidInput},
		{"bad ext", "scan.pdf", 20, png, ErrInvalidInput},
		{"empty", "scan.png", 0, png, ErrInvalidInput},
		{"too large", "scan.png", 11 << 20, png, ErrTooLarge},
		{"not an image", "scan.png", 20, []byte("hello world"), ErrInvalidInput},
	}
	for _, tc := range cases {
		err := ValidateUpload(tc.filename, tc.size, 10<<20, tc.head)
		if tc.wantErr == nil {
			if err != nil {
				t.Fatalf("%s: unexpected error %v", tc.name, err)
			}
			continue
		}
		if !errors.Is(err, tc.wantErr) {
			t.Fatalf("%s: got %v, want %v", tc.name, err, tc.wantErr)
		}
	}
}

func TestParseUUID(t *testing.T) {
	if _, err := ParseUUID("batch_id", "not-a-uuid"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("ParseUUID accepted garbage: %v", err)
	}
	id, err := ParseUUID("batch_id", "2b7d3c9e-8a41-4a3e-9a53-0f2f6f1c9a10")
	if err != nil || id.String() != "2b7d3c9e-8a41-4a3e-9a53-0f2f6f1c9a10" {
		t.Fatalf("ParseUUID = %v, %v", id, err)
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("CLASSIFIER_LABELS", "person, email ,,date")
	t.Setenv("CLASSIFIER_THRESHOLD", "0.4")
	t.Setenv("JOB_TIMEOUT", "90s")
	t.Setenv("MINIO_USE_SSL", "true")
	t.Setenv("WORKER_COUNT", "nope")

	cfg := LoadConfig()
	if got := cfg.Classifier.Labels; len(got) != 3 || got[0] != "person" || got[1] != "email" || got[2] != "date" {
		t.Fatalf("labels = %q", got)
	}
	if cfg.Classifier.Threshold != 0.4 {
		t.Fatalf("threshold = %v", cfg.Classifier.Threshold)
	}
	if cfg.Queue.JobTimeout != 90*time.Second {
		t.Fatalf("job timeout = %v", cfg.Queue.JobTimeout)
	}
	if !cfg.Storage.MinioUseSSL {
		t.Fatalf("minio ssl not parsed")
	}
	if cfg.Queue.Workers != 1 {
		t.Fatalf("workers = %d, want default 1", cfg.Queue.Workers)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := LoadConfig()
	cfg.Database.Driver = "postgres"
	cfg.Database.DSN = ""
	err := cfg.Validate()
	var appErr *AppError
	if !errors.As(err, &appErr) || appErr.Code != CodeConfig {
		t.Fatalf("Validate = %v, want CONFIG_ERROR", err)
	}

	cfg = LoadConfig()
	cfg.Database.Driver = "sqlite"
	cfg.Classifier.Threshold = 1.5
	if err := cfg.Validate(); err == nil {
		t.Fatalf("threshold 1.5 accepted")
	}
}
