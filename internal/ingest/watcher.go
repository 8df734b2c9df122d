package ingest

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/webdevavi/aureus/constants"
)

// DefaultDebounce coalesces the write bursts editors and copy tools produce.
const DefaultDebounce = 500 * time.Millisecond

type WatchConfig struct {
	Roots       []string // watched recursively
	InitialScan bool     // emit files already present under Roots
	SkipHidden  bool
	Debounce    time.Duration
}

// Watch emits paths of source documents (pdf, txt) created or rewritten under
// cfg.Roots. Both channels close once ctx is done.
func Watch(ctx context.Context, cfg WatchConfig, logger *slog.Logger) (<-chan string, <-chan error, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if len(cfg.Roots) == 0 {
		return nil, nil, errors.New("no roots provided")
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, err
	}

	var initial []string
	for _, root := range cfg.Roots {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if cfg.SkipHidden && path != root && IsHidden(path) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if d.IsDir() {
				return w.Add(path)
			}
			if cfg.InitialScan && Accepts(path) {
				initial = append(initial, path)
			}
			return nil
		})
		if err != nil {
			_ = w.Close()
			return nil, nil, err
		}
	}
	logger.Info("ingest.watch.start", "roots", cfg.Roots, "initial", len(initial))

	evCh := make(chan string, 256)
	errCh := make(chan error, 1)
	d := &debouncer{
		delay:   cfg.Debounce,
		out:     evCh,
		pending: map[string]struct{}{},
	}

	go func() {
		defer close(errCh)
		defer close(evCh)
		defer func() {
			d.stop()
			if err := w.Close(); err != nil {
				logger.Warn("ingest.watch.close_failed", "error", err)
			}
		}()

		for _, p := range initial {
			select {
			case evCh <- p:
			case <-ctx.Done():
				return
			}
		}

		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-w.Events:
				if !ok {
					return
				}
				if cfg.SkipHidden && IsHidden(e.Name) {
					continue
				}
				if e.Has(fsnotify.Create) {
					if fi, err := os.Stat(e.Name); err == nil && fi.IsDir() {
						if err := w.Add(e.Name); err != nil {
							logger.Warn("ingest.watch.add_dir_failed", "path", e.Name, "error", err)
						}
						continue
					}
				}
				if Accepts(e.Name) && (e.Has(fsnotify.Create) || e.Has(fsnotify.Write) || e.Has(fsnotify.Rename)) {
					d.add(ctx, e.Name)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Error("ingest.watch.error", "error", err)
				select {
				case errCh <- err:
				default:
				}
			}
		}
	}()

	return evCh, errCh, nil
}

// debouncer flushes the pending set once no event arrived for delay.
type debouncer struct {
	delay time.Duration
	out   chan<- string

	mu      sync.Mutex
	timer   *time.Timer
	pending map[string]struct{}
	stopped bool
	wg      sync.WaitGroup
}

func (d *debouncer) add(ctx context.Context, path string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending[path] = struct{}{}
	if d.timer != nil && d.timer.Stop() {
		d.wg.Done()
	}
	d.wg.Add(1)
	d.timer = time.AfterFunc(d.delay, func() {
		defer d.wg.Done()
		d.flush(ctx)
	})
}

func (d *debouncer) flush(ctx context.Context) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	batch := make([]string, 0, len(d.pending))
	for p := range d.pending {
		batch = append(batch, p)
	}
	clear(d.pending)
	d.mu.Unlock()

	for _, p := range batch {
		select {
		case d.out <- p:
		case <-ctx.Done():
			return
		}
	}
}

// stop waits for an in-flight flush so the output channel can be closed.
func (d *debouncer) stop() {
	d.mu.Lock()
	d.stopped = true
	if d.timer != nil && d.timer.Stop() {
		d.wg.Done()
	}
	d.mu.Unlock()
	d.wg.Wait()
}

// Accepts reports whether path has a source document extension.
func Accepts(path string) bool {
	t, err := constants.ParseFileType(filepath.Ext(path))
	return err == nil && (t == constants.FileTypePDF || t == constants.FileTypeTXT)
}

func IsHidden(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}
