// 配置文件变更监听器实现。
//
// 基于 fsnotify 监听所在目录，按文件名过滤并防抖后触发回调。
package config

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// FileWatcher watches individual files for changes.
type FileWatcher struct {
	mu sync.RWMutex

	paths         map[string]bool
	debounceDelay time.Duration

	watcher   *fsnotify.Watcher
	running   bool
	stopChan  chan struct{}
	callbacks []func(FileEvent)

	logger *zap.Logger
}

// FileEvent represents a file change event
type FileEvent struct {
	Path      string    `json:"path"`
	Op        FileOp    `json:"op"`
	Timestamp time.Time `json:"timestamp"`
}

// FileOp represents file operation types
type FileOp int

const (
	FileOpCreate FileOp = iota
	FileOpWrite
	FileOpRemove
	FileOpRename
	FileOpChmod
)

func (op FileOp) String() string {
	switch op {
	case FileOpCreate:
		return "CREATE"
	case FileOpWrite:
		return "WRITE"
	case FileOpRemove:
		return "REMOVE"
	case FileOpRename:
		return "RENAME"
	case FileOpChmod:
		return "CHMOD"
	default:
		return "UNKNOWN"
	}
}

func fileOp(op fsnotify.Op) FileOp {
	switch {
	case op.Has(fsnotify.Create):
		return FileOpCreate
	case op.Has(fsnotify.Write):
		return FileOpWrite
	case op.Has(fsnotify.Remove):
		return FileOpRemove
	case op.Has(fsnotify.Rename):
		return FileOpRename
	default:
		return FileOpChmod
	}
}

// WatcherOption configures the FileWatcher
type WatcherOption func(*FileWatcher)

// WithDebounceDelay sets the debounce delay for file events
func WithDebounceDelay(d time.Duration) WatcherOption {
	return func(w *FileWatcher) {
		w.debounceDelay = d
	}
}

// WithWatcherLogger sets the logger for the watcher
func WithWatcherLogger(logger *zap.Logger) WatcherOption {
	return func(w *FileWatcher) {
		w.logger = logger
	}
}

// NewFileWatcher creates a watcher for paths. Parent directories are
// watched so editors that replace files by rename are still seen.
func NewFileWatcher(paths []string, opts ...WatcherOption) (*FileWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	w := &FileWatcher{
		paths:         make(map[string]bool),
		debounceDelay: 100 * time.Millisecond,
		watcher:       fsw,
		stopChan:      make(chan struct{}),
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	for _, p := range paths {
		if err := w.AddPath(p); err != nil {
			_ = fsw.Close()
			return nil, err
		}
	}
	return w, nil
}

// OnChange registers a callback for file change events
func (w *FileWatcher) OnChange(callback func(FileEvent)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// Start begins dispatching events until ctx is done or Stop is called.
func (w *FileWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("watcher already running")
	}
	w.running = true
	w.mu.Unlock()

	go w.dispatchLoop(ctx)
	w.logger.Info("file watcher started",
		zap.Strings("paths", w.Paths()),
		zap.Duration("debounce_delay", w.debounceDelay))
	return nil
}

// Stop stops the watcher and releases the fsnotify handle.
func (w *FileWatcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	select {
	case <-w.stopChan:
		return nil
	default:
	}
	close(w.stopChan)
	w.running = false
	w.logger.Info("file watcher stopped")
	return w.watcher.Close()
}

func (w *FileWatcher) dispatchLoop(ctx context.Context) {
	var (
		mu      sync.Mutex
		pending = make(map[string]FileEvent)
		timer   *time.Timer
	)
	fire := func() {
		mu.Lock()
		events := pending
		pending = make(map[string]FileEvent)
		mu.Unlock()

		w.mu.RLock()
		callbacks := slices.Clone(w.callbacks)
		w.mu.RUnlock()
		for _, evt := range events {
			w.logger.Debug("dispatching file event",
				zap.String("path", evt.Path),
				zap.String("op", evt.Op.String()))
			for _, cb := range callbacks {
				cb(evt)
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.mu.RLock()
			watched := w.paths[event.Name]
			w.mu.RUnlock()
			if !watched {
				continue
			}
			mu.Lock()
			// 同一路径只保留最后一次事件
			pending[event.Name] = FileEvent{Path: event.Name, Op: fileOp(event.Op), Timestamp: time.Now()}
			mu.Unlock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounceDelay, fire)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("file watcher error", zap.Error(err))
		}
	}
}

// AddPath adds a new path to watch
func (w *FileWatcher) AddPath(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.paths[absPath] {
		return nil
	}
	if err := w.watcher.Add(filepath.Dir(absPath)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", absPath, err)
	}
	w.paths[absPath] = true
	w.logger.Info("added path to watcher", zap.String("path", absPath))
	return nil
}

// RemovePath removes a path from watching
func (w *FileWatcher) RemovePath(path string) error {
	absPath, _ := filepath.Abs(path)

	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.paths[absPath] {
		return fmt.Errorf("path not found: %s", path)
	}
	delete(w.paths, absPath)

	dir := filepath.Dir(absPath)
	for p := range w.paths {
		if filepath.Dir(p) == dir {
			return nil
		}
	}
	if err := w.watcher.Remove(dir); err != nil && !errors.Is(err, fsnotify.ErrNonExistentWatch) {
		return err
	}
	return nil
}

// Paths returns the list of watched paths
func (w *FileWatcher) Paths() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]string, 0, len(w.paths))
	for p := range w.paths {
		out = append(out, p)
	}
	return out
}

// IsRunning returns whether the watcher is running
func (w *FileWatcher) IsRunning() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}
