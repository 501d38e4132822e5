package config

import (
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// TuningHandler is called with the freshly loaded pipeline defaults whenever
// the config file changes on disk.
type TuningHandler func(PipelineConfig)

// Watcher hot-reloads retrieval tuning knobs from the config file. Only the
// pipeline section is propagated; structural settings (ports, DSNs, model
// registry) require a restart.
type Watcher struct {
	path     string
	logger   *zap.Logger
	watcher  *fsnotify.Watcher
	stopCh   chan struct{}
	stopOnce sync.Once

	mu       sync.RWMutex
	current  PipelineConfig
	handlers []TuningHandler
}

// NewWatcher creates a watcher for the given config file path.
func NewWatcher(path string, initial PipelineConfig, logger *zap.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watch the directory: editors replace files on save, which drops
	// per-file watches.
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, err
	}
	w := &Watcher{
		path:    path,
		logger:  logger,
		watcher: fw,
		stopCh:  make(chan struct{}),
		current: initial,
	}
	go w.loop()
	return w, nil
}

// OnChange registers a handler invoked after each successful reload.
func (w *Watcher) OnChange(h TuningHandler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers = append(w.handlers, h)
}

// Current returns the latest pipeline defaults.
func (w *Watcher) Current() PipelineConfig {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Stop terminates the watch loop.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		w.watcher.Close()
	})
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.stopCh:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Config watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := LoadFile(w.path)
	if err != nil {
		w.logger.Warn("Ignoring invalid config reload", zap.String("path", w.path), zap.Error(err))
		return
	}

	w.mu.Lock()
	w.current = cfg.Pipeline
	handlers := make([]TuningHandler, len(w.handlers))
	copy(handlers, w.handlers)
	w.mu.Unlock()

	w.logger.Info("Reloaded pipeline tuning",
		zap.Int("vector_top_k", cfg.Pipeline.VectorTopK),
		zap.Int("lexical_top_k", cfg.Pipeline.LexicalTopK),
		zap.Float64("vector_weight", cfg.Pipeline.VectorWeight),
	)
	for _, h := range handlers {
		h(cfg.Pipeline)
	}
}
