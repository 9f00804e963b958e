// Package dirwatch watches a log directory for new segment pairs and
// invokes a callback, the mechanism spec §4.3's "schedule an async
// retention evaluation" after rollover can be wired to instead of (or
// alongside) a fixed-interval poll.
package dirwatch

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"chunklog/internal/logging"
)

// Watcher watches one directory and invokes OnSegmentCreated whenever a
// new ".segment" file appears in it.
type Watcher struct {
	logger *slog.Logger

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	stop    chan struct{}
}

// Config configures a Watcher.
type Config struct {
	Dir              string
	OnSegmentCreated func()
	Logger           *slog.Logger
}

// Watch starts watching cfg.Dir, invoking cfg.OnSegmentCreated from its
// own goroutine whenever a new segment file is created. Call Close to
// stop.
func Watch(cfg Config) (*Watcher, error) {
	logger := logging.Default(cfg.Logger).With("component", "dirwatch", "dir", cfg.Dir)

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(cfg.Dir); err != nil {
		fw.Close()
		return nil, err
	}

	w := &Watcher{
		logger:  logger,
		watcher: fw,
		stop:    make(chan struct{}),
	}

	go func() {
		defer fw.Close()
		for {
			select {
			case <-w.stop:
				return
			case err, ok := <-fw.Errors:
				if !ok {
					return
				}
				logger.Warn("watcher error", "error", err)
			case ev, ok := <-fw.Events:
				if !ok {
					return
				}
				if ev.Op&fsnotify.Create == 0 {
					continue
				}
				if !strings.HasSuffix(ev.Name, ".segment") {
					continue
				}
				logger.Debug("new segment observed", "file", ev.Name)
				if cfg.OnSegmentCreated != nil {
					cfg.OnSegmentCreated()
				}
			}
		}
	}()

	return w, nil
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stop == nil {
		return nil
	}
	close(w.stop)
	w.stop = nil
	return nil
}
