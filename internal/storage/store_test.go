package storage

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/joseph-ayodele/redactor/internal/common"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()
	local, err := NewLocalStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	return map[string]Store{
		"memory": NewMemoryStore(),
		"local":  local,
	}
}

func put(t *testing.T, s Store, key, body string) {
	t.Helper()
	if err := s.Put(context.Background(), key, bytes.NewReader([]byte(body)), int64(len(body)), "image/png"); err != nil {
		t.Fatalf("Put %s: %v", key, err)
	}
}

func TestStoreRoundTrip(t *testing.T) {
	for name, s := range stores(t) {
		ctx := context.Background()
		put(t, s, "originals/b1/f1/scan.png", "pixels")
		put(t, s, "originals/b1/f1/scan.png", "pixels-v2")

		got, err := ReadAll(ctx, s, "originals/b1/f1/scan.png")
		if err != nil {
			t.Fatalf("%s: ReadAll: %v", name, err)
		}
		if string(got) != "pixels-v2" {
			t.Fatalf("%s: got %q, want overwrite", name, got)
		}

		if err := s.Delete(ctx, "originals/b1/f1/scan.png"); err != nil {
			t.Fatalf("%s: Delete: %v", name, err)
		}
		if err := s.Delete(ctx, "originals/b1/f1/scan.png"); err != nil {
			t.Fatalf("%s: second Delete: %v", name, err)
		}
		if _, err := s.Get(ctx, "originals/b1/f1/scan.png"); !errors.Is(err, common.ErrNotFound) {
			t.Fatalf("%s: Get after delete err = %v", name, err)
		}
	}
}

func TestStoreDeletePrefix(t *testing.T) {
	for name, s := range stores(t) {
		ctx := context.Background()
		put(t, s, "originals/b1/f1/a.png", "a")
		put(t, s, "originals/b1/f2/b.png", "b")
		put(t, s, "originals/b2/f3/c.png", "c")

		if err := s.DeletePrefix(ctx, OriginalsPrefix("b1")); err != nil {
			t.Fatalf("%s: DeletePrefix: %v", name, err)
		}
		for _, k := range []string{"originals/b1/f1/a.png", "originals/b1/f2/b.png"} {
			if _, err := s.Get(ctx, k); !errors.Is(err, common.ErrNotFound) {
				t.Fatalf("%s: %s survived prefix delete: %v", name, k, err)
			}
		}
		if _, err := ReadAll(ctx, s, "originals/b2/f3/c.png"); err != nil {
			t.Fatalf("%s: unrelated blob removed: %v", name, err)
		}
	}
}

func TestStoreRejectsTraversal(t *testing.T) {
	for name, s := range stores(t) {
		for _, key := range []string{"", "/etc/passwd", "../outside.png", "a/../../outside.png"} {
			err := s.Put(context.Background(), key, bytes.NewReader(nil), 0, "")
			if !errors.Is(err, common.ErrInvalidInput) {
				t.Fatalf("%s: Put(%q) err = %v, want ErrInvalidInput", name, key, err)
			}
		}
	}
}
