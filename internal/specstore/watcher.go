package specstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ErrWatcherFailed indicates the filesystem watcher failed to initialize.
var ErrWatcherFailed = errors.New("failed to initialize filesystem watcher")

// DefaultDebounce is the quiet period after the last write before a change
// is reported.
const DefaultDebounce = 250 * time.Millisecond

// ChangeHandler receives the module whose specification changed.
type ChangeHandler func(module string)

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithWatcherLogger sets the watcher's logger.
func WithWatcherLogger(logger *zap.Logger) WatcherOption {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithDebounce sets the quiet period. Non-positive values keep the default.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// Watcher reports specification changes under a store root. Bursts of
// writes to the same module collapse into one call after the debounce
// period.
type Watcher struct {
	store    *Store
	handler  ChangeHandler
	debounce time.Duration
	logger   *zap.Logger
	watcher  *fsnotify.Watcher
	stop     chan struct{}
	done     chan struct{}

	mu      sync.Mutex
	started bool
	pending map[string]*time.Timer
}

// NewWatcher creates a watcher for store. Start begins delivery.
func NewWatcher(store *Store, handler ChangeHandler, opts ...WatcherOption) (*Watcher, error) {
	if store == nil || handler == nil {
		return nil, fmt.Errorf("watcher: store and handler are required")
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}
	w := &Watcher{
		store:    store,
		handler:  handler,
		debounce: DefaultDebounce,
		logger:   zap.NewNop(),
		watcher:  fw,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		pending:  map[string]*time.Timer{},
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.Named("specstore")
	return w, nil
}

// Start watches the root and every existing module directory, creating the
// root if needed, and processes events until ctx ends or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	if err := os.MkdirAll(w.store.Root, 0o750); err != nil {
		return fmt.Errorf("create spec root: %w", err)
	}
	if err := w.watcher.Add(w.store.Root); err != nil {
		return fmt.Errorf("watch %s: %w", w.store.Root, err)
	}
	modules, err := w.store.Modules()
	if err != nil {
		return err
	}
	for _, m := range modules {
		w.addModule(m)
	}

	w.mu.Lock()
	w.started = true
	w.mu.Unlock()
	go w.processEvents(ctx)
	return nil
}

// Stop stops the watcher and cancels pending notifications. It is safe to
// call more than once.
func (w *Watcher) Stop() {
	select {
	case <-w.stop:
		return
	default:
		close(w.stop)
		_ = w.watcher.Close()
	}

	w.mu.Lock()
	started := w.started
	w.mu.Unlock()
	if started {
		<-w.done
	}

	w.mu.Lock()
	for m, t := range w.pending {
		t.Stop()
		delete(w.pending, m)
	}
	w.mu.Unlock()
}

func (w *Watcher) addModule(module string) {
	dir := filepath.Join(w.store.Root, module)
	if err := w.watcher.Add(dir); err != nil {
		w.logger.Warn("watch module dir", zap.String("module", module), zap.Error(err))
	}
}

func (w *Watcher) processEvents(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", zap.Error(err))
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	rel, err := filepath.Rel(w.store.Root, event.Name)
	if err != nil {
		return
	}
	dir, file := filepath.Split(rel)
	dir = filepath.Clean(dir)

	// A new module directory directly under the root.
	if dir == "." {
		if event.Has(fsnotify.Create) && ValidateModule(file) == nil {
			if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
				w.addModule(file)
				// The spec may have been written before the watch landed.
				if _, err := os.Stat(filepath.Join(event.Name, SpecFile)); err == nil {
					w.schedule(file)
				}
			}
		}
		return
	}

	if file != SpecFile || ValidateModule(dir) != nil {
		return
	}
	if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) || event.Has(fsnotify.Remove) {
		w.schedule(dir)
	}
}

func (w *Watcher) schedule(module string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[module]; ok {
		t.Reset(w.debounce)
		return
	}
	w.pending[module] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, module)
		w.mu.Unlock()

		select {
		case <-w.stop:
			return
		default:
		}
		w.logger.Debug("specification changed", zap.String("module", module))
		w.handler(module)
	})
}
