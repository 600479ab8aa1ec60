package archive

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/joseph-ayodele/redactor/internal/common"
	"github.com/joseph-ayodele/redactor/internal/storage"
)

func seeded(t *testing.T, blobs map[string]string) *storage.MemoryStore {
	t.Helper()
	s := storage.NewMemoryStore()
	for k, v := range blobs {
		if err := s.Put(context.Background(), k, bytes.NewReader([]byte(v)), int64(len(v)), ""); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	return s
}

func TestPackageChunksAndEntries(t *testing.T) {
	big := string(bytes.Repeat([]byte("abcdefgh"), 4096))
	store := seeded(t, map[string]string{
		"redacted/b/f1/a_redacted.png": "first",
		"redacted/b/f2/b_redacted.jpg": big,
	})
	p := NewPackager(store, 100, nil)
	stream, err := p.Package(context.Background(), []string{"redacted/b/f1/a_redacted.png", "redacted/b/f2/b_redacted.jpg"})
	if err != nil {
		t.Fatalf("Package: %v", err)
	}

	var all []byte
	n := 0
	for chunk := range stream.Chunks() {
		n++
		if len(chunk) > 100 {
			t.Fatalf("chunk %d has %d bytes", n, len(chunk))
		}
		all = append(all, chunk...)
	}
	if int64(len(all)) != stream.Size() {
		t.Fatalf("read %d bytes, size %d", len(all), stream.Size())
	}
	if _, ok := stream.Next(); ok {
		t.Fatalf("stream not exhausted")
	}

	zr, err := zip.NewReader(bytes.NewReader(all), int64(len(all)))
	if err != nil {
		t.Fatalf("zip.NewReader: %v", err)
	}
	want := map[string]string{"a_redacted.png": "first", "b_redacted.jpg": big}
	if len(zr.File) != len(want) {
		t.Fatalf("entries = %d", len(zr.File))
	}
	for i, f := range zr.File {
		if i == 0 && f.Name != "a_redacted.png" {
			t.Fatalf("first entry = %s", f.Name)
		}
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("open %s: %v", f.Name, err)
		}
		body, _ := io.ReadAll(rc)
		rc.Close()
		if string(body) != want[f.Name] {
			t.Fatalf("%s content mismatch", f.Name)
		}
	}
}

func TestPackageAllOrNothing(t *testing.T) {
	store := seeded(t, map[string]string{"redacted/b/f1/a.png": "x"})
	stream, err := NewPackager(store, 0, nil).Package(context.Background(), []string{"redacted/b/f1/a.png", "redacted/b/f2/missing.png"})
	if !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if stream != nil {
		t.Fatalf("partial stream returned")
	}
}

func TestPackageRejectsDuplicateNames(t *testing.T) {
	store := seeded(t, map[string]string{"redacted/b/f1/a.png": "x", "redacted/b/f2/a.png": "y"})
	_, err := NewPackager(store, 0, nil).Package(context.Background(), []string{"redacted/b/f1/a.png", "redacted/b/f2/a.png"})
	if !errors.Is(err, common.ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}

func TestStreamReader(t *testing.T) {
	s := newStream([]byte("0123456789"), 4)
	first, _ := s.Next()
	rest, err := io.ReadAll(s)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(first) != "0123" || string(rest) != "456789" {
		t.Fatalf("first = %q rest = %q", first, rest)
	}
}
