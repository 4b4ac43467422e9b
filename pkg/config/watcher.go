package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/cuemby/modlog/pkg/log"
	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce coalesces bursts of writes from editors
const DefaultDebounce = 250 * time.Millisecond

// Watcher reloads the current style when its file changes on disk
type Watcher struct {
	provider *Provider
	watcher  *fsnotify.Watcher
	debounce time.Duration

	mu    sync.Mutex
	timer *time.Timer
}

// NewWatcher watches the provider's styles directory. The directory is
// watched rather than the file so that rename-on-save editors are seen.
func NewWatcher(p *Provider, debounce time.Duration) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create style watcher: %w", err)
	}
	if err := fw.Add(p.Dir()); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", p.Dir(), err)
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{provider: p, watcher: fw, debounce: debounce}, nil
}

// Run processes file events until ctx is done
func (w *Watcher) Run(ctx context.Context) error {
	logger := log.WithComponent("style-watcher")
	logger.Info().Str("dir", w.provider.Dir()).Msg("Style watcher started")
	defer w.stopTimer()

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn().Err(err).Msg("Style watcher error")

		case <-ctx.Done():
			logger.Info().Msg("Style watcher stopped")
			return nil
		}
	}
}

// Close releases the underlying watcher
func (w *Watcher) Close() error {
	w.stopTimer()
	return w.watcher.Close()
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return
	}
	cur := w.provider.Current()
	if cur == nil || filepath.Clean(event.Name) != filepath.Clean(w.provider.Path(cur.Name)) {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) reload() {
	logger := log.WithComponent("style-watcher")
	s, err := w.provider.Reload()
	if err != nil {
		logger.Warn().Err(err).Msg("Style reload failed, keeping previous style")
		return
	}
	logger.Info().Str("style", s.Name).Msg("Style reloaded from disk")
}

func (w *Watcher) stopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}
