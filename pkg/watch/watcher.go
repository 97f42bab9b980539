// Package watch re-runs a callback when watched interchange documents
// change on disk.
package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/logflow/ccm/pkg/errors"
)

// DefaultDebounce is the quiet period after the last write before a
// change is handled.
const DefaultDebounce = 500 * time.Millisecond

// ChangeFunc handles a changed file.
type ChangeFunc func(ctx context.Context, path string) error

// Watcher monitors files for changes and triggers updates.
type Watcher struct {
	watcher  *fsnotify.Watcher
	files    map[string]*fileState
	mu       sync.RWMutex
	debounce time.Duration
	logger   logrus.FieldLogger
	onChange ChangeFunc
}

type fileState struct {
	path         string
	lastModified time.Time
	size         int64
	processing   bool
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets the debounce interval.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

// WithLogger sets the logger for handler failures.
func WithLogger(l logrus.FieldLogger) Option {
	return func(w *Watcher) { w.logger = l }
}

// New creates a watcher that calls onChange for every settled change.
func New(onChange ChangeFunc, opts ...Option) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeReadFailed, "create watcher")
	}

	w := &Watcher{
		watcher:  fsWatcher,
		files:    make(map[string]*fileState),
		debounce: DefaultDebounce,
		logger:   logrus.StandardLogger(),
		onChange: onChange,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Watch starts watching a file for changes.
func (w *Watcher) Watch(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return errors.Wrap(err, errors.CodeReadFailed, "resolve path").WithContext("path", path)
	}

	stat, err := os.Stat(absPath)
	if err != nil {
		return errors.Wrap(err, errors.CodeReadFailed, "stat file").WithContext("path", absPath)
	}

	w.mu.Lock()
	w.files[absPath] = &fileState{
		path:         absPath,
		lastModified: stat.ModTime(),
		size:         stat.Size(),
	}
	w.mu.Unlock()

	// Editors replace files by rename, so watch the directory.
	if err := w.watcher.Add(filepath.Dir(absPath)); err != nil {
		return errors.Wrap(err, errors.CodeReadFailed, "watch directory").WithContext("path", absPath)
	}
	return nil
}

// Run starts the watch loop. Blocks until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	timers := make(map[string]*time.Timer)
	var timerMu sync.Mutex
	defer func() {
		timerMu.Lock()
		for _, t := range timers {
			t.Stop()
		}
		timerMu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			w.watcher.Close()
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			absPath, err := filepath.Abs(event.Name)
			if err != nil {
				continue
			}
			w.mu.RLock()
			state, watched := w.files[absPath]
			w.mu.RUnlock()
			if !watched {
				continue
			}

			timerMu.Lock()
			if t, ok := timers[absPath]; ok {
				t.Stop()
			}
			timers[absPath] = time.AfterFunc(w.debounce, func() {
				w.handleChange(ctx, state)
			})
			timerMu.Unlock()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.WithError(err).Warn("watch error")
		}
	}
}

func (w *Watcher) handleChange(ctx context.Context, state *fileState) {
	if ctx.Err() != nil {
		return
	}

	w.mu.Lock()
	if state.processing {
		w.mu.Unlock()
		return
	}
	state.processing = true
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		state.processing = false
		w.mu.Unlock()
	}()

	stat, err := os.Stat(state.path)
	if err != nil {
		w.logger.WithField("path", state.path).WithError(err).Warn("stat changed file")
		return
	}

	w.mu.Lock()
	unchanged := stat.ModTime().Equal(state.lastModified) && stat.Size() == state.size
	state.lastModified = stat.ModTime()
	state.size = stat.Size()
	w.mu.Unlock()
	if unchanged {
		return
	}

	if err := w.onChange(ctx, state.path); err != nil {
		w.logger.WithFields(logrus.Fields{
			"path": state.path,
			"code": errors.GetCode(err),
		}).WithError(err).Error("reload failed")
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
