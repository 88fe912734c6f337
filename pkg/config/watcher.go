package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounceInterval is the quiet period before a reload fires.
const DefaultDebounceInterval = 200 * time.Millisecond

// ErrWatcherRunning is returned when Watch is called twice.
var ErrWatcherRunning = errors.New("config watcher already running")

// FileWatcher reloads the configuration file when it changes on disk.
//
// The parent directory is watched rather than the file itself, since most
// editors save by writing a temporary file and renaming it over the original.
// Bursts of events are collapsed by a Debouncer.
type FileWatcher struct {
	path     string
	watcher  *fsnotify.Watcher
	logger   *slog.Logger
	debounce *Debouncer

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewFileWatcher creates a watcher for the configuration file at path.
// A zero interval uses DefaultDebounceInterval.
func NewFileWatcher(path string, interval time.Duration, logger *slog.Logger) (*FileWatcher, error) {
	if path == "" {
		return nil, errors.New("config watcher requires a file path")
	}
	if interval <= 0 {
		interval = DefaultDebounceInterval
	}
	if logger == nil {
		logger = slog.Default()
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %q: %w", path, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &FileWatcher{
		path:     abs,
		watcher:  watcher,
		logger:   logger.With("component", "config.watcher"),
		debounce: NewDebouncer(interval),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Watch blocks until ctx is cancelled or Stop is called. After each burst of
// changes the file is reloaded with ReloadConfig and onReload receives the
// new configuration. A file that fails to load or validate is logged and the
// previous configuration stays active.
func (fw *FileWatcher) Watch(ctx context.Context, onReload func(*Config)) error {
	fw.mu.Lock()
	if fw.running {
		fw.mu.Unlock()
		return ErrWatcherRunning
	}
	fw.running = true
	fw.mu.Unlock()

	defer close(fw.doneCh)

	dir := filepath.Dir(fw.path)
	if err := fw.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %q: %w", dir, err)
	}

	fw.logger.Info("config watcher started", "path", fw.path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-fw.stopCh:
			return nil

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return errors.New("watcher events channel closed")
			}
			if !fw.relevant(event) {
				continue
			}
			fw.logger.Debug("config file event", "op", event.Op.String())

			fw.debounce.Trigger(func() {
				cfg, err := ReloadConfig(fw.path)
				if err != nil {
					fw.logger.Error("config reload failed", "error", err)
					return
				}
				fw.logger.Info("config reloaded", "path", fw.path)
				if onReload != nil {
					onReload(cfg)
				}
			})

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return errors.New("watcher errors channel closed")
			}
			fw.logger.Error("config watcher error", "error", err)
		}
	}
}

// Stop stops the watcher and releases the fsnotify handle. It is safe to
// call more than once.
func (fw *FileWatcher) Stop() error {
	fw.mu.Lock()
	select {
	case <-fw.stopCh:
		fw.mu.Unlock()
		return nil
	default:
	}
	close(fw.stopCh)
	running := fw.running
	fw.mu.Unlock()

	if running {
		<-fw.doneCh
	}
	fw.debounce.Stop()

	if err := fw.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	return nil
}

func (fw *FileWatcher) relevant(event fsnotify.Event) bool {
	if event.Op == fsnotify.Chmod {
		return false
	}
	return filepath.Clean(event.Name) == fw.path
}

// Debouncer collects rapid events and runs only the last callback after a
// quiet period.
type Debouncer struct {
	interval time.Duration
	timer    *time.Timer
	mu       sync.Mutex
	callback func()
	stopped  bool
}

// NewDebouncer creates a new debouncer.
func NewDebouncer(interval time.Duration) *Debouncer {
	return &Debouncer{interval: interval}
}

// Trigger schedules callback after the interval, replacing any pending one.
func (d *Debouncer) Trigger(callback func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	d.callback = callback
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.interval, func() {
		d.mu.Lock()
		cb := d.callback
		d.callback = nil
		stopped := d.stopped
		d.mu.Unlock()

		if cb != nil && !stopped {
			cb()
		}
	})
}

// Stop cancels any pending callback. Later triggers are ignored.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.callback = nil
}
