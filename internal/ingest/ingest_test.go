package ingest

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/redactor/internal/services/redaction"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestCollectDirectory(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.png"), "a")
	writeFile(t, filepath.Join(root, "notes.txt"), "n")
	writeFile(t, filepath.Join(root, "sub", "b.JPG"), "bb")
	writeFile(t, filepath.Join(root, ".hidden", "c.png"), "c")
	writeFile(t, filepath.Join(root, ".d.webp"), "d")

	uploads, stats, err := CollectDirectory(root, true)
	if err != nil {
		t.Fatalf("CollectDirectory: %v", err)
	}
	var names []string
	for _, u := range uploads {
		names = append(names, u.Filename)
	}
	sort.Strings(names)
	if len(names) != 2 || names[0] != "a.png" || names[1] != "b.JPG" {
		t.Fatalf("uploads = %v", names)
	}
	if stats.Matched != 2 {
		t.Fatalf("stats = %+v", stats)
	}

	rc, err := uploads[0].Open()
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if int64(len(data)) != uploads[0].Size {
		t.Fatalf("size %d, read %d", uploads[0].Size, len(data))
	}

	all, _, err := CollectDirectory(root, false)
	if err != nil {
		t.Fatalf("CollectDirectory: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("with hidden: %d uploads", len(all))
	}
}

func TestCollectDirectoryMissingRoot(t *testing.T) {
	if _, _, err := CollectDirectory(filepath.Join(t.TempDir(), "nope"), true); err == nil {
		t.Fatalf("expected error for missing root")
	}
	if _, _, err := CollectDirectory(" ", true); err == nil {
		t.Fatalf("expected error for empty root")
	}
}

type recordingSubmitter struct {
	mu    sync.Mutex
	names []string
}

func (s *recordingSubmitter) Submit(_ context.Context, uploads []redaction.Upload) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range uploads {
		s.names = append(s.names, u.Filename)
	}
	return uuid.New(), nil
}

func (s *recordingSubmitter) submitted() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.names...)
}

func TestWatcherSubmitsNewImages(t *testing.T) {
	root := t.TempDir()
	sub := &recordingSubmitter{}
	w := NewWatcher(sub, root, 50*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	time.Sleep(100 * time.Millisecond)

	writeFile(t, filepath.Join(root, "scan.png"), "image bytes")
	writeFile(t, filepath.Join(root, "ignored.txt"), "text")

	deadline := time.Now().Add(5 * time.Second)
	for len(sub.submitted()) == 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}

	got := sub.submitted()
	if len(got) != 1 || got[0] != "scan.png" {
		t.Fatalf("submitted = %v", got)
	}
}
