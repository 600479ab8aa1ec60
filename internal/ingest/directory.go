package ingest

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joseph-ayodele/redactor/constants"
	"github.com/joseph-ayodele/redactor/internal/services/redaction"
)

type DirStats struct {
	Scanned uint32
	Matched uint32
	Skipped uint32
}

// CollectDirectory walks root and returns an upload for every file with an
// allowed image extension, in lexical path order. Hidden files and
// directories are skipped when skipHidden is set.
func CollectDirectory(root string, skipHidden bool) ([]redaction.Upload, DirStats, error) {
	var stats DirStats
	if strings.TrimSpace(root) == "" {
		return nil, stats, errors.New("root path is required")
	}

	var uploads []redaction.Upload
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if path != root && skipHidden && IsHidden(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			stats.Skipped++
			return nil
		}
		if d.IsDir() {
			return nil
		}
		stats.Scanned++
		if !constants.AllowedExt(filepath.Ext(path)) {
			stats.Skipped++
			return nil
		}
		u, err := FileUpload(path)
		if err != nil {
			return err
		}
		stats.Matched++
		uploads = append(uploads, u)
		return nil
	})
	if err != nil {
		return uploads, stats, fmt.Errorf("walk: %w", err)
	}
	return uploads, stats, nil
}

// FileUpload describes a file on disk as an upload named by its base name.
func FileUpload(path string) (redaction.Upload, error) {
	info, err := os.Stat(path)
	if err != nil {
		return redaction.Upload{}, err
	}
	if !info.Mode().IsRegular() {
		return redaction.Upload{}, fmt.Errorf("%s is not a regular file", path)
	}
	return redaction.Upload{
		Filename: filepath.Base(path),
		Size:     info.Size(),
		Open: func() (io.ReadCloser, error) {
			return os.Open(path)
		},
	}, nil
}

// IsHidden checks if a file or directory is hidden (starts with '.').
func IsHidden(path string) bool {
	base := filepath.Base(path)
	return strings.HasPrefix(base, ".")
}
