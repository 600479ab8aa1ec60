package ingest

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/redactor/constants"
	"github.com/joseph-ayodele/redactor/internal/services/redaction"
)

// DefaultSettle is how long a file must stay quiet before it is submitted.
const DefaultSettle = 2 * time.Second

type WatchConfig struct {
	Roots       []string      // directories to watch (recursive)
	InitialScan bool          // if true, walk roots and emit existing files
	Debounce    time.Duration // coalesce rapid create/write bursts
}

// StartWatcher emits the paths of allowed image files created or written
// under the roots. The event channel closes when ctx is done.
func StartWatcher(ctx context.Context, cfg WatchConfig, logger *slog.Logger) (<-chan string, <-chan error, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if len(cfg.Roots) == 0 {
		logger.Error("watcher start failed: no roots provided")
		return nil, nil, errors.New("no roots provided")
	}
	evCh := make(chan string, 256)
	errCh := make(chan error, 1)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Error("failed to create fsnotify watcher", "error", err)
		return nil, nil, err
	}

	// Add roots recursively
	addDir := func(root string) error {
		return filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if d.IsDir() {
				if path != root && IsHidden(path) {
					return filepath.SkipDir
				}
				return w.Add(path)
			}
			if cfg.InitialScan && allowed(path) {
				select {
				case evCh <- path:
				default:
				}
			}
			return nil
		})
	}
	for _, r := range cfg.Roots {
		if err := addDir(r); err != nil {
			logger.Error("failed to add root directory", "root", r, "error", err)
			_ = w.Close()
			return nil, nil, err
		}
	}

	go func() {
		var (
			mu      sync.Mutex
			timers  = map[string]*time.Timer{}
			sending sync.WaitGroup
		)
		defer func() {
			mu.Lock()
			for _, t := range timers {
				if t.Stop() {
					sending.Done()
				}
			}
			mu.Unlock()
			sending.Wait()
			close(evCh)
			close(errCh)
			if err := w.Close(); err != nil {
				logger.Warn("failed to close watcher", "error", err)
			}
		}()

		emit := func(path string) {
			mu.Lock()
			if t, ok := timers[path]; ok && t.Stop() {
				sending.Done()
			}
			if cfg.Debounce <= 0 {
				delete(timers, path)
				mu.Unlock()
				select {
				case evCh <- path:
				case <-ctx.Done():
				}
				return
			}
			sending.Add(1)
			var t *time.Timer
			t = time.AfterFunc(cfg.Debounce, func() {
				defer sending.Done()
				mu.Lock()
				if timers[path] == t {
					delete(timers, path)
				}
				mu.Unlock()
				select {
				case evCh <- path:
				case <-ctx.Done():
				}
			})
			timers[path] = t
			mu.Unlock()
		}

		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-w.Events:
				if !ok {
					return
				}
				if e.Has(fsnotify.Create) {
					if info, err := os.Stat(e.Name); err == nil && info.IsDir() && !IsHidden(e.Name) {
						if err := w.Add(e.Name); err != nil {
							logger.Warn("failed to add new directory to watcher", "path", e.Name, "error", err)
						}
						continue
					}
				}
				if allowed(e.Name) && !IsHidden(e.Name) && (e.Has(fsnotify.Create) || e.Has(fsnotify.Write) || e.Has(fsnotify.Rename)) {
					emit(e.Name)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Error("watcher error", "error", err)
				select {
				case errCh <- err:
				default:
				}
			}
		}
	}()

	return evCh, errCh, nil
}

func allowed(path string) bool {
	return constants.AllowedExt(filepath.Ext(path))
}

// Submitter accepts a set of uploads as one batch.
type Submitter interface {
	Submit(ctx context.Context, uploads []redaction.Upload) (uuid.UUID, error)
}

// Watcher submits every image dropped into a hot folder as its own batch.
type Watcher struct {
	submitter Submitter
	cfg       WatchConfig
	logger    *slog.Logger

	mu   sync.Mutex
	seen map[string]time.Time // path -> mod time already submitted
}

func NewWatcher(submitter Submitter, root string, settle time.Duration, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	if settle <= 0 {
		settle = DefaultSettle
	}
	return &Watcher{
		submitter: submitter,
		cfg:       WatchConfig{Roots: []string{root}, Debounce: settle},
		logger:    logger,
		seen:      make(map[string]time.Time),
	}
}

// Run watches until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	events, errs, err := StartWatcher(ctx, w.cfg, w.logger)
	if err != nil {
		return err
	}
	w.logger.Info("hot folder watcher started", "roots", w.cfg.Roots, "settle", w.cfg.Debounce)
	for {
		select {
		case path, ok := <-events:
			if !ok {
				w.logger.Info("hot folder watcher stopped")
				return nil
			}
			w.submit(ctx, path)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			w.logger.Warn("watch.error", "error", err)
		}
	}
}

func (w *Watcher) submit(ctx context.Context, path string) {
	u, err := FileUpload(path)
	if err != nil {
		w.logger.Warn("watch.skip", "path", path, "error", err)
		return
	}
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	w.mu.Lock()
	if mt, ok := w.seen[path]; ok && mt.Equal(info.ModTime()) {
		w.mu.Unlock()
		return
	}
	w.seen[path] = info.ModTime()
	w.mu.Unlock()

	id, err := w.submitter.Submit(ctx, []redaction.Upload{u})
	if err != nil {
		w.logger.Error("watch.submit.failed", "path", path, "error", err)
		w.mu.Lock()
		delete(w.seen, path)
		w.mu.Unlock()
		return
	}
	w.logger.Info("watch.submit.ok", "path", path, "batch_id", id)
}
