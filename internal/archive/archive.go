package archive

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"path"
	"time"

	"github.com/joseph-ayodele/redactor/internal/common"
	"github.com/joseph-ayodele/redactor/internal/storage"
)

// DefaultChunkSize is the chunk size used when none is configured.
const DefaultChunkSize = 32 << 10

// Packager bundles blobs into a zip archive.
type Packager struct {
	store     storage.Store
	chunkSize int
	logger    *slog.Logger
}

func NewPackager(store storage.Store, chunkSize int, logger *slog.Logger) *Packager {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Packager{store: store, chunkSize: chunkSize, logger: logger}
}

// Package downloads every key and writes it into a zip entry named by the key's
// basename, in the given order. Any failure discards the partial archive and
// returns a nil stream. Two keys with the same basename are rejected.
func (p *Packager) Package(ctx context.Context, keys []string) (*Stream, error) {
	start := time.Now()
	names := make(map[string]string, len(keys))
	for _, k := range keys {
		name := path.Base(k)
		if prev, dup := names[name]; dup {
			return nil, common.InvalidArgumentErrorf("archive entry %q for %s collides with %s", name, k, prev)
		}
		names[name] = k
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, k := range keys {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := p.addEntry(ctx, zw, k); err != nil {
			p.logger.Error("archive.package.failed", "key", k, "error", err)
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("finalize archive: %w", err)
	}

	p.logger.Info("archive.package.ok",
		"entries", len(keys),
		"bytes", buf.Len(),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return newStream(buf.Bytes(), p.chunkSize), nil
}

func (p *Packager) addEntry(ctx context.Context, zw *zip.Writer, key string) error {
	rc, err := p.store.Get(ctx, key)
	if err != nil {
		return err
	}
	defer rc.Close()
	w, err := zw.CreateHeader(&zip.FileHeader{
		Name:     path.Base(key),
		Method:   zip.Deflate,
		Modified: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("create entry %s: %w", key, err)
	}
	if _, err := io.Copy(w, rc); err != nil {
		return common.StorageError("read blob "+key, err)
	}
	return nil
}

// Stream is a finished archive handed out in fixed-size chunks. It is single
// pass: Next, Chunks and Read share one cursor.
type Stream struct {
	data      []byte
	chunkSize int
	off       int
}

func newStream(data []byte, chunkSize int) *Stream {
	return &Stream{data: data, chunkSize: chunkSize}
}

// Size is the total archive length in bytes.
func (s *Stream) Size() int64 { return int64(len(s.data)) }

// ChunkSize is the length of every chunk except possibly the last.
func (s *Stream) ChunkSize() int { return s.chunkSize }

// Next returns the next chunk, or false once the archive is exhausted.
func (s *Stream) Next() ([]byte, bool) {
	if s.off >= len(s.data) {
		return nil, false
	}
	end := min(s.off+s.chunkSize, len(s.data))
	chunk := s.data[s.off:end]
	s.off = end
	return chunk, true
}

// Chunks yields the remaining chunks in order.
func (s *Stream) Chunks() iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		for {
			chunk, ok := s.Next()
			if !ok || !yield(chunk) {
				return
			}
		}
	}
}

// Read implements io.Reader over the remaining bytes.
func (s *Stream) Read(b []byte) (int, error) {
	if s.off >= len(s.data) {
		return 0, io.EOF
	}
	n := copy(b, s.data[s.off:])
	s.off += n
	return n, nil
}
