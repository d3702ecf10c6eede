package agent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"goa.design/clue/log"
)

// Watcher reloads agents when an agent file or mcp.json changes.
type Watcher struct {
	loader       *Loader
	watcher      *fsnotify.Watcher
	onReload     func(*Agents)
	debounceTime time.Duration
	mu           sync.Mutex
	dirty        bool
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
}

// NewWatcher creates a watcher for the loader's locations. The context is
// used for logging and to stop the watcher.
func NewWatcher(ctx context.Context, loader *Loader, onReload func(*Agents)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)

	return &Watcher{
		loader:       loader,
		watcher:      fw,
		onReload:     onReload,
		debounceTime: 300 * time.Millisecond,
		ctx:          ctx,
		cancel:       cancel,
	}, nil
}

// Start begins watching. Directories that do not exist yet are skipped.
func (w *Watcher) Start() error {
	dirs := map[string]struct{}{}
	for _, dir := range []string{w.loader.GlobalDir, w.loader.WorkspaceDir} {
		if dir != "" {
			dirs[dir] = struct{}{}
		}
	}
	for _, path := range []string{w.loader.GlobalMcp, w.loader.WorkspaceMcp} {
		if path != "" {
			dirs[filepath.Dir(path)] = struct{}{}
		}
	}

	watched := 0
	for dir := range dirs {
		if _, err := os.Stat(dir); err != nil {
			continue
		}
		if err := w.watcher.Add(dir); err != nil {
			log.Warn(w.ctx, log.KV{K: "msg", V: "failed to watch"}, log.KV{K: "dir", V: dir}, log.KV{K: "err", V: err.Error()})
			continue
		}
		watched++
	}
	log.Debug(w.ctx, log.KV{K: "msg", V: "agent watcher started"}, log.KV{K: "dirs", V: watched})

	w.wg.Add(2)
	go w.eventLoop()
	go w.debounceLoop()

	return nil
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	w.cancel()
	w.wg.Wait()
	return w.watcher.Close()
}

func (w *Watcher) eventLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
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
			log.Warn(w.ctx, log.KV{K: "msg", V: "watcher error"}, log.KV{K: "err", V: err.Error()})
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if filepath.Ext(event.Name) != ".json" {
		return
	}
	if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
		w.mu.Lock()
		w.dirty = true
		w.mu.Unlock()
	}
}

// debounceLoop collapses bursts of writes into one reload.
func (w *Watcher) debounceLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.debounceTime)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return

		case <-ticker.C:
			w.reloadIfDirty()
		}
	}
}

func (w *Watcher) reloadIfDirty() {
	w.mu.Lock()
	dirty := w.dirty
	w.dirty = false
	w.mu.Unlock()
	if !dirty {
		return
	}

	agents, err := w.loader.Load(w.ctx)
	if err != nil {
		log.Error(w.ctx, err, log.KV{K: "msg", V: "agent reload failed"})
		return
	}
	log.Info(w.ctx, log.KV{K: "msg", V: "agents reloaded"}, log.KV{K: "count", V: len(agents.Names())})
	if w.onReload != nil {
		w.onReload(agents)
	}
}
