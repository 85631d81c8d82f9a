package segments

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher refreshes indexes when segment files are created, removed or renamed by someone else
// (another process rotating a channel, a user deleting old logs).
type Watcher struct {
	fsw      *fsnotify.Watcher
	logger   *zap.Logger
	debounce time.Duration

	mu      sync.Mutex
	indexes map[string]*Index // by channel directory
	pending map[string]*time.Timer
}

func NewWatcher(debounce time.Duration, logger *zap.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("new fs watcher: %w", err)
	}
	return &Watcher{
		fsw:      fsw,
		logger:   logger,
		debounce: debounce,
		indexes:  make(map[string]*Index),
		pending:  make(map[string]*time.Timer),
	}, nil
}

// Add starts watching the directory of the index, creating it if needed.
func (w *Watcher) Add(ix *Index) error {
	dir := filepath.Clean(ix.Dir())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	if err := w.fsw.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	w.mu.Lock()
	w.indexes[dir] = ix
	w.mu.Unlock()
	return nil
}

// Run dispatches file system events until ctx is done or the watcher is closed.
func (w *Watcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(event.Name, FileSuffix) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			w.schedule(filepath.Dir(event.Name))
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("segments watcher error", zap.Error(err))
		}
	}
}

// schedule debounces refreshes: bursts of events on one directory end up in a single refresh.
func (w *Watcher) schedule(dir string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	ix, ok := w.indexes[dir]
	if !ok {
		return
	}
	if t, exists := w.pending[dir]; exists {
		t.Stop()
	}
	var timer *time.Timer
	timer = time.AfterFunc(w.debounce, func() {
		if err := ix.Refresh(); err != nil {
			w.logger.Error("refresh segments", zap.String("dir", dir), zap.Error(err))
		}
		w.mu.Lock()
		if w.pending[dir] == timer {
			delete(w.pending, dir)
		}
		w.mu.Unlock()
	})
	w.pending[dir] = timer
}

func (w *Watcher) Close() error {
	w.mu.Lock()
	for _, t := range w.pending {
		t.Stop()
	}
	w.mu.Unlock()
	return w.fsw.Close()
}
