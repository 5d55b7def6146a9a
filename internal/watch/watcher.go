// Package watch reloads running channels when schedule files change on disk.
package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/telecast-dev/telecast/internal/logger"
)

const (
	debounceWindow      = 500 * time.Millisecond
	defaultPollInterval = 2 * time.Second
	settleDelay         = 100 * time.Millisecond
)

// Reloader is notified when schedule files change. Schedules import each
// other, so the notification carries no path; the reloader recompiles
// everything it runs.
type Reloader interface {
	ReloadAll(ctx context.Context)
}

// Watcher watches a schedule directory for edits and triggers reloads
type Watcher interface {
	Start() error
	Stop() error
}

// scheduleWatcher implements Watcher using fsnotify with polling fallback
type scheduleWatcher struct {
	scheduleDir  string
	reloader     Reloader
	pollInterval time.Duration

	fsnotifyWatcher *fsnotify.Watcher
	stopChan        chan struct{}
	watchDone       chan struct{}

	mu      sync.Mutex
	pending map[string]time.Time // path -> first seen time
	stopped bool
}

// NewWatcher creates a schedule directory watcher.
func NewWatcher(scheduleDir string, reloader Reloader, pollInterval time.Duration) (Watcher, error) {
	if scheduleDir == "" {
		return nil, fmt.Errorf("schedule directory cannot be empty")
	}
	if reloader == nil {
		return nil, fmt.Errorf("reloader cannot be nil")
	}
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	if err := os.MkdirAll(scheduleDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create schedule directory: %w", err)
	}

	return &scheduleWatcher{
		scheduleDir:  scheduleDir,
		reloader:     reloader,
		pollInterval: pollInterval,
		stopChan:     make(chan struct{}),
		watchDone:    make(chan struct{}),
		pending:      make(map[string]time.Time),
	}, nil
}

// Start begins watching the schedule directory
func (sw *scheduleWatcher) Start() error {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	if sw.stopped {
		return fmt.Errorf("watcher has been stopped")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Log.Warn().
			Err(err).
			Str("schedule_dir", sw.scheduleDir).
			Msg("Failed to create fsnotify watcher, falling back to polling")
		sw.fsnotifyWatcher = nil
	} else {
		sw.fsnotifyWatcher = watcher
		if err := watcher.Add(sw.scheduleDir); err != nil {
			logger.Log.Warn().
				Err(err).
				Str("schedule_dir", sw.scheduleDir).
				Msg("Failed to add directory to fsnotify watcher, falling back to polling")
			_ = watcher.Close()
			sw.fsnotifyWatcher = nil
		}
	}

	go sw.runWatching()

	logger.Log.Info().
		Str("schedule_dir", sw.scheduleDir).
		Bool("using_fsnotify", sw.fsnotifyWatcher != nil).
		Msg("Schedule watcher started")

	return nil
}

// Stop gracefully stops the watcher
func (sw *scheduleWatcher) Stop() error {
	sw.mu.Lock()
	if sw.stopped {
		sw.mu.Unlock()
		return nil
	}
	sw.stopped = true
	sw.mu.Unlock()

	close(sw.stopChan)

	if sw.fsnotifyWatcher != nil {
		if err := sw.fsnotifyWatcher.Close(); err != nil {
			logger.Log.Warn().
				Err(err).
				Msg("Error closing fsnotify watcher")
		}
	}

	<-sw.watchDone

	logger.Log.Debug().
		Str("schedule_dir", sw.scheduleDir).
		Msg("Schedule watcher stopped")

	return nil
}

// runWatching runs the file watching loop (fsnotify or polling)
func (sw *scheduleWatcher) runWatching() {
	defer close(sw.watchDone)

	if sw.fsnotifyWatcher != nil {
		sw.startWatching()
	} else {
		sw.startPolling()
	}
}

// startWatching uses fsnotify to watch for file events
func (sw *scheduleWatcher) startWatching() {
	ticker := time.NewTicker(debounceWindow)
	defer ticker.Stop()

	for {
		select {
		case <-sw.stopChan:
			return
		case event, ok := <-sw.fsnotifyWatcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
				sw.handleFileEvent(event.Name)
			}
		case err, ok := <-sw.fsnotifyWatcher.Errors:
			if !ok {
				return
			}
			logger.Log.Warn().
				Err(err).
				Msg("fsnotify error, continuing")
		case <-ticker.C:
			sw.processPending()
		}
	}
}

// startPolling scans the directory for modified schedule files
func (sw *scheduleWatcher) startPolling() {
	ticker := time.NewTicker(sw.pollInterval)
	defer ticker.Stop()

	seen := make(map[string]time.Time) // path -> last observed mod time

	for {
		select {
		case <-sw.stopChan:
			return
		case <-ticker.C:
			entries, err := os.ReadDir(sw.scheduleDir)
			if err != nil {
				logger.Log.Warn().
					Err(err).
					Str("schedule_dir", sw.scheduleDir).
					Msg("Failed to read schedule directory during polling")
				continue
			}

			for _, entry := range entries {
				if entry.IsDir() || !isScheduleFile(entry.Name()) {
					continue
				}
				info, err := entry.Info()
				if err != nil {
					continue
				}
				path := filepath.Join(sw.scheduleDir, entry.Name())
				if last, ok := seen[path]; !ok || info.ModTime().After(last) {
					seen[path] = info.ModTime()
					if ok {
						sw.handleFileEvent(path)
					}
				}
			}
			sw.processPending()
		}
	}
}

// handleFileEvent records a schedule file change for debounced processing
func (sw *scheduleWatcher) handleFileEvent(path string) {
	if !isScheduleFile(filepath.Base(path)) {
		return
	}

	sw.mu.Lock()
	if _, exists := sw.pending[path]; !exists {
		sw.pending[path] = time.Now()
	}
	sw.mu.Unlock()
}

// processPending fires one reload for all changes that have settled.
// Editors often write a file several times in quick succession; the settle
// delay keeps half-written documents from being compiled.
func (sw *scheduleWatcher) processPending() {
	sw.mu.Lock()
	settled := false
	for path, firstSeen := range sw.pending {
		if time.Since(firstSeen) < settleDelay {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			// Deleted before we got to it; a rename during atomic save
			// looks like this too. The surviving file raises its own event.
			delete(sw.pending, path)
			continue
		}
		logger.Log.Info().
			Str("path", path).
			Msg("Schedule file changed")
		delete(sw.pending, path)
		settled = true
	}
	sw.mu.Unlock()

	if settled {
		sw.reloader.ReloadAll(context.Background())
	}
}

func isScheduleFile(name string) bool {
	return strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml")
}
