package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"imgbatch/internal/batch"
	"imgbatch/internal/fileutil"
	"imgbatch/internal/format"
	"imgbatch/internal/logger"
	"imgbatch/internal/transformer"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// FileProcessor transforms one file under the directory scan path rules.
type FileProcessor interface {
	ProcessFile(opts batch.Options, path string) transformer.Outcome
}

// Watcher transforms files as they appear or change below the input
// directory.
type Watcher struct {
	opts      batch.Options
	processor FileProcessor
	logger    *logrus.Logger
	debounce  time.Duration
	watcher   *fsnotify.Watcher

	mu      sync.Mutex
	pending map[string]*time.Timer
	running sync.WaitGroup
}

// NewWatcher creates a watcher. Events for the same file closer together
// than debounce are collapsed into one transform.
func NewWatcher(opts batch.Options, processor FileProcessor, log *logrus.Logger, debounce time.Duration) (*Watcher, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if !fileutil.DirExists(opts.InputDir) {
		return nil, fmt.Errorf("input directory does not exist: %s", opts.InputDir)
	}
	if log == nil {
		log = logrus.New()
	}

	// fsnotify reports absolute names when watching absolute paths.
	if abs, err := filepath.Abs(opts.InputDir); err == nil {
		opts.InputDir = abs
	}
	if abs, err := filepath.Abs(opts.OutputDir); err == nil {
		opts.OutputDir = abs
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &Watcher{
		opts:      opts,
		processor: processor,
		logger:    log,
		debounce:  debounce,
		watcher:   fsWatcher,
		pending:   make(map[string]*time.Timer),
	}, nil
}

// Run watches until ctx is done. Transforms still in flight are awaited
// before it returns.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	if err := w.addTree(w.opts.InputDir); err != nil {
		return err
	}

	log := logger.WithOperation(w.logger, "watch")
	log.WithField("input", w.opts.InputDir).Info("Watching for image changes")

	for {
		select {
		case <-ctx.Done():
			w.stopPending()
			w.running.Wait()
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				w.stopPending()
				w.running.Wait()
				return nil
			}

			if event.Has(fsnotify.Create) && w.opts.Recursive && fileutil.DirExists(event.Name) {
				if !w.isOutputPath(event.Name) {
					if err := w.addTree(event.Name); err != nil {
						log.WithError(err).Warn("Failed to watch new directory")
					}
				}
				continue
			}

			if !ShouldHandle(event, w.opts) {
				continue
			}
			w.schedule(event.Name)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				continue
			}
			log.WithError(err).Warn("Watcher error")
		}
	}
}

// schedule (re)starts the debounce timer of path.
func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if timer, exists := w.pending[path]; exists {
		if timer.Stop() {
			w.running.Done()
		}
	}

	w.running.Add(1)
	var timer *time.Timer
	timer = time.AfterFunc(w.debounce, func() {
		defer w.running.Done()

		w.mu.Lock()
		if w.pending[path] == timer {
			delete(w.pending, path)
		}
		w.mu.Unlock()

		w.handle(path)
	})
	w.pending[path] = timer
}

func (w *Watcher) stopPending() {
	w.mu.Lock()
	defer w.mu.Unlock()

	for path, timer := range w.pending {
		if timer.Stop() {
			w.running.Done()
		}
		delete(w.pending, path)
	}
}

func (w *Watcher) handle(path string) {
	if !fileutil.FileExists(path) {
		return
	}
	out := w.processor.ProcessFile(w.opts, path)
	logger.WithRecord(w.logger, "watch", out.LogRecord()).Debug("Processed changed file")
}

func (w *Watcher) addTree(root string) error {
	if !w.opts.Recursive {
		return w.watcher.Add(root)
	}

	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.opts.InputDir && w.isOutputPath(path) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			return fmt.Errorf("failed to watch folder %s: %w", path, err)
		}
		w.logger.Debugf("Watching folder: %s", path)
		return nil
	})
}

func (w *Watcher) isOutputPath(path string) bool {
	return isInside(path, w.opts.OutputDir)
}

// ShouldHandle reports whether an fsnotify event should trigger a
// transform: a created or written file with a supported extension that is
// neither hidden nor below the output directory.
func ShouldHandle(event fsnotify.Event, opts batch.Options) bool {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return false
	}

	base := filepath.Base(event.Name)
	if strings.HasPrefix(base, ".") || fileutil.IsTempPath(base) {
		return false
	}
	if format.Classify(filepath.Ext(base)) == format.KindUnsupported {
		return false
	}
	if isInside(event.Name, opts.OutputDir) {
		return false
	}
	if !opts.Recursive && filepath.Clean(filepath.Dir(event.Name)) != filepath.Clean(opts.InputDir) {
		return false
	}
	return true
}

func isInside(path, dir string) bool {
	if dir == "" {
		return false
	}
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
