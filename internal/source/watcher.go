package source

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultSettle is how long a file must go without writes before the
// watcher reports it.
const DefaultSettle = 500 * time.Millisecond

// Watcher reports files that appear in a directory once they stop changing.
type Watcher struct {
	dir    string
	settle time.Duration
	logger *slog.Logger
}

// NewWatcher creates a Watcher for dir. A non-positive settle uses
// DefaultSettle.
func NewWatcher(dir string, settle time.Duration, logger *slog.Logger) *Watcher {
	if settle <= 0 {
		settle = DefaultSettle
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{dir: dir, settle: settle, logger: logger}
}

// Run watches until ctx is done, calling fn with the path of each settled
// file. fn is called from one goroutine at a time. Hidden files and
// directories are ignored.
func (w *Watcher) Run(ctx context.Context, fn func(path string)) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}
	w.logger.Info("Watching outbox", "dir", w.dir)
	return w.loop(ctx, fw.Events, fw.Errors, fn)
}

// loop debounces events per path and reports settled files until ctx is
// done or either channel closes. Settle callbacks still running when it
// returns are released and waited for.
func (w *Watcher) loop(ctx context.Context, events <-chan fsnotify.Event, errs <-chan error, fn func(path string)) error {
	var (
		mu        sync.Mutex
		pending   = make(map[string]*time.Timer)
		ready     = make(chan string, 16)
		done      = make(chan struct{})
		callbacks sync.WaitGroup
	)
	defer func() {
		close(done)
		mu.Lock()
		for _, t := range pending {
			if t.Stop() {
				callbacks.Done()
			}
		}
		mu.Unlock()
		callbacks.Wait()
	}()

	touch := func(path string) {
		mu.Lock()
		defer mu.Unlock()
		if t, ok := pending[path]; ok && t.Stop() {
			t.Reset(w.settle)
			return
		}
		var t *time.Timer
		callbacks.Add(1)
		t = time.AfterFunc(w.settle, func() {
			defer callbacks.Done()
			mu.Lock()
			if pending[path] == t {
				delete(pending, path)
			}
			mu.Unlock()
			select {
			case ready <- path:
			case <-ctx.Done():
			case <-done:
			}
		})
		pending[path] = t
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case path := <-ready:
			info, err := os.Stat(path)
			if err != nil || info.IsDir() {
				continue
			}
			fn(path)
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if strings.HasPrefix(filepath.Base(ev.Name), ".") {
				continue
			}
			if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) {
				touch(ev.Name)
			}
		case err, ok := <-errs:
			if !ok {
				return nil
			}
			w.logger.Warn("Outbox watcher error", "dir", w.dir, "error", err)
		}
	}
}
