package agent

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"

	"github.com/foolscrate/foolscrate/internal/replica"
)

// Watcher aggregates change notifications across tracked replicas. fsnotify
// watches are not recursive, so every subdirectory of a replica is registered
// individually and directories created later are added as they appear.
type Watcher struct {
	fsw    *fsnotify.Watcher
	events chan string
	done   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
	roots  map[string]bool
	closed bool
}

// NewWatcher creates a watcher and starts its event loop. Replica roots are
// registered afterwards with Watch.
func NewWatcher() (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}

	w := &Watcher{
		fsw:    fsw,
		events: make(chan string, 100),
		done:   make(chan struct{}),
		roots:  make(map[string]bool),
	}
	w.wg.Add(1)
	go w.run()
	return w, nil
}

// Watch registers a replica root. Registering a known root again is a no-op.
func (w *Watcher) Watch(root string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.roots[root] {
		return nil
	}

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if d.Name() == ".git" {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	w.roots[root] = true
	return nil
}

// Events emits the root of a replica whose contents changed. The channel is
// closed when the watcher is closed.
func (w *Watcher) Events() <-chan string {
	return w.events
}

// Close stops the watcher and waits for the event loop to exit.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	close(w.done)
	err := w.fsw.Close()
	w.wg.Wait()
	close(w.events)
	return err
}

func (w *Watcher) run() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ignored(ev.Name) {
				continue
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) &&
				!ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if ev.Has(fsnotify.Create) {
				w.watchNewDir(ev.Name)
			}
			root, ok := w.rootFor(ev.Name)
			if !ok {
				continue
			}
			select {
			case w.events <- root:
			case <-w.done:
				return
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("file watcher error")
		}
	}
}

// ignored filters out git internals and the agent's own artifacts; without
// this every sync would retrigger itself through its lock file.
func ignored(path string) bool {
	base := filepath.Base(path)
	if base == replica.ConflictMarkerName || base == replica.LockFileName || base == ".git" {
		return true
	}
	sep := string(os.PathSeparator)
	return strings.Contains(path, sep+".git"+sep)
}

func (w *Watcher) watchNewDir(path string) {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return
	}
	if err := w.fsw.Add(path); err != nil {
		log.Debug().Err(err).Str("dir", path).Msg("could not watch new directory")
	}
}

// rootFor maps an event path to the replica root that contains it, preferring
// the longest match when roots nest.
func (w *Watcher) rootFor(path string) (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	sep := string(os.PathSeparator)
	best := ""
	for root := range w.roots {
		if path == root || strings.HasPrefix(path, root+sep) {
			if len(root) > len(best) {
				best = root
			}
		}
	}
	return best, best != ""
}
