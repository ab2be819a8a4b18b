package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// SourceKind names a watched data source.
type SourceKind string

const (
	// SourceCatalog is the rule catalog file.
	SourceCatalog SourceKind = "catalog"
	// SourceExceptions is the exception registry file.
	SourceExceptions SourceKind = "exceptions"
)

// Update carries the raw bytes of a source file after an on-disk change.
// Parsing and validation stay with the subscriber so a bad write never
// disturbs the currently published snapshot.
type Update struct {
	Kind SourceKind
	Data []byte
}

// SourceWatcher watches the catalog and exception files and publishes raw
// file contents to subscribers whenever one changes.
type SourceWatcher struct {
	logger  zerolog.Logger
	paths   map[string]SourceKind
	watcher *fsnotify.Watcher
	cancel  context.CancelFunc

	mu          sync.Mutex
	subscribers []chan Update
}

// NewSourceWatcher starts watching the given files. Empty paths are skipped;
// at least one path must be set.
func NewSourceWatcher(logger zerolog.Logger, catalogPath, exceptionsPath string) (*SourceWatcher, error) {
	paths := map[string]SourceKind{}
	if catalogPath != "" {
		abs, err := filepath.Abs(catalogPath)
		if err != nil {
			return nil, fmt.Errorf("resolve catalog path: %w", err)
		}
		paths[abs] = SourceCatalog
	}
	if exceptionsPath != "" {
		abs, err := filepath.Abs(exceptionsPath)
		if err != nil {
			return nil, fmt.Errorf("resolve exceptions path: %w", err)
		}
		paths[abs] = SourceExceptions
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no source files to watch")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	// Watch the parent directories so atomic rename-into-place saves are seen.
	dirs := map[string]struct{}{}
	for path := range paths {
		dirs[filepath.Dir(path)] = struct{}{}
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			_ = watcher.Close()
			return nil, fmt.Errorf("watch directory %s: %w", dir, err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &SourceWatcher{
		logger:  logger,
		paths:   paths,
		watcher: watcher,
		cancel:  cancel,
	}
	go w.watchLoop(ctx)

	return w, nil
}

// Subscribe returns a channel receiving source updates. The channel is
// buffered; a slow consumer misses intermediate updates rather than blocking
// the watch loop.
func (w *SourceWatcher) Subscribe() <-chan Update {
	w.mu.Lock()
	defer w.mu.Unlock()
	ch := make(chan Update, 2)
	w.subscribers = append(w.subscribers, ch)
	return ch
}

// Close stops the watcher and releases its resources.
func (w *SourceWatcher) Close() error {
	w.cancel()
	return w.watcher.Close()
}

func (w *SourceWatcher) watchLoop(ctx context.Context) {
	timers := map[string]*time.Timer{}
	debounce := 100 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			path := filepath.Clean(event.Name)
			kind, watched := w.paths[path]
			if !watched {
				continue
			}

			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Chmod) {
				if timer := timers[path]; timer != nil {
					timer.Stop()
				}
				timers[path] = time.AfterFunc(debounce, func() {
					w.publish(kind, path)
				})
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Msg("source watcher error")
		}
	}
}

func (w *SourceWatcher) publish(kind SourceKind, path string) {
	// #nosec G304 -- File path is configured at startup
	data, err := os.ReadFile(path)
	if err != nil {
		w.logger.Warn().Err(err).Str("source", string(kind)).Msg("failed to read changed source file")
		return
	}

	w.mu.Lock()
	subscribers := make([]chan Update, len(w.subscribers))
	copy(subscribers, w.subscribers)
	w.mu.Unlock()

	w.logger.Info().Str("source", string(kind)).Str("path", path).Msg("source file changed")

	for _, ch := range subscribers {
		select {
		case ch <- Update{Kind: kind, Data: data}:
		default:
			// Skip if channel is full (slow consumer)
		}
	}
}
