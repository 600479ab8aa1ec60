package storage

import (
	"context"
	"io"
	"path"
	"strings"

	"github.com/joseph-ayodele/redactor/internal/common"
)

// Store is the blob store shared by the API and the workers. Keys are
// slash separated paths such as originals/<batch>/<file>/<name>.
type Store interface {
	// Put writes size bytes from r under key, replacing any previous blob.
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	// Get opens the blob under key. A missing key yields common.ErrNotFound.
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// DeletePrefix removes every blob whose key starts with prefix.
	DeletePrefix(ctx context.Context, prefix string) error
}

// ReadAll fetches a whole blob into memory.
func ReadAll(ctx context.Context, s Store, key string) ([]byte, error) {
	rc, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	b, err := io.ReadAll(rc)
	if err != nil {
		return nil, common.StorageError("read blob "+key, err)
	}
	return b, nil
}

// OriginalsPrefix and RedactedPrefix scope every blob belonging to a batch.
func OriginalsPrefix(batchID string) string { return "originals/" + batchID + "/" }

func RedactedPrefix(batchID string) string { return "redacted/" + batchID + "/" }

func cleanKey(key string) (string, error) {
	if key == "" || strings.HasPrefix(key, "/") {
		return "", common.InvalidArgumentErrorf("invalid blob key %q", key)
	}
	c := path.Clean(key)
	if c == "." || c == ".." || strings.HasPrefix(c, "../") {
		return "", common.InvalidArgumentErrorf("invalid blob key %q", key)
	}
	if strings.HasSuffix(key, "/") {
		c += "/"
	}
	return c, nil
}
