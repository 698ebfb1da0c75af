package host

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gobwas/glob"
)

// DefaultDebounce collapses the burst of events one editor save produces.
const DefaultDebounce = 150 * time.Millisecond

var (
	ErrNoFilesConfigured = errors.New("no files configured for watching")
	ErrInvalidPattern    = errors.New("invalid pattern")
)

// DefaultIgnore matches editor swap and backup files.
var DefaultIgnore = []string{"*.swp", "*.swx", "*~", ".#*", "4913", ".*.tmp"}

// SaveEvent reports that a watched working copy was written.
type SaveEvent struct {
	Path string
	Time time.Time
}

// WatchConfig configures a Watcher.
type WatchConfig struct {
	// Files are the working copies to watch.
	Files []string
	// Ignore are glob patterns matched against base names.
	Ignore   []string
	Debounce time.Duration
}

// Watcher reports saves of working copies. It watches parent directories so
// editors that save through rename are seen too.
type Watcher struct {
	cfg     WatchConfig
	watcher *fsnotify.Watcher
	files   map[string]struct{}
	ignore  []glob.Glob

	mu      sync.Mutex
	pending map[string]*time.Timer
	events  chan SaveEvent
	stopped bool
}

// NewWatcher validates cfg and creates the underlying fsnotify watcher.
func NewWatcher(cfg WatchConfig) (*Watcher, error) {
	if len(cfg.Files) == 0 {
		return nil, ErrNoFilesConfigured
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.Ignore == nil {
		cfg.Ignore = DefaultIgnore
	}

	ignore, err := compilePatterns(cfg.Ignore)
	if err != nil {
		return nil, err
	}

	files := make(map[string]struct{}, len(cfg.Files))
	for _, f := range cfg.Files {
		abs, err := filepath.Abs(f)
		if err != nil {
			return nil, err
		}
		files[abs] = struct{}{}
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		cfg:     cfg,
		watcher: fw,
		files:   files,
		ignore:  ignore,
		pending: make(map[string]*time.Timer),
	}, nil
}

func compilePatterns(patterns []string) ([]glob.Glob, error) {
	out := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, errors.Join(ErrInvalidPattern, err)
		}
		out = append(out, g)
	}
	return out, nil
}

// Start watches until ctx is done. The returned channel is closed then.
func (w *Watcher) Start(ctx context.Context) (<-chan SaveEvent, error) {
	w.events = make(chan SaveEvent, len(w.files)*2)

	dirs := make(map[string]struct{})
	for f := range w.files {
		dirs[filepath.Dir(f)] = struct{}{}
	}
	for dir := range dirs {
		if err := w.watcher.Add(dir); err != nil {
			w.watcher.Close()
			return nil, err
		}
	}

	go w.loop(ctx)
	return w.events, nil
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.cleanup()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
		return
	}
	if w.ignored(filepath.Base(ev.Name)) {
		return
	}

	abs, err := filepath.Abs(ev.Name)
	if err != nil {
		return
	}
	if _, ok := w.files[abs]; !ok {
		return
	}
	w.schedule(abs)
}

func (w *Watcher) ignored(name string) bool {
	for _, g := range w.ignore {
		if g.Match(name) {
			return true
		}
	}
	return false
}

func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return
	}
	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	w.pending[path] = time.AfterFunc(w.cfg.Debounce, func() {
		w.emit(path)
	})
}

func (w *Watcher) emit(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return
	}
	delete(w.pending, path)

	if _, err := os.Stat(path); err != nil {
		return
	}

	select {
	case w.events <- SaveEvent{Path: path, Time: time.Now()}:
	default:
		// a save for this file is already queued
	}
}

func (w *Watcher) cleanup() {
	w.mu.Lock()
	w.stopped = true
	for _, t := range w.pending {
		t.Stop()
	}
	w.pending = nil
	close(w.events)
	w.mu.Unlock()

	w.watcher.Close()
}

// SelectPaths returns the paths matching a glob pattern. A pattern without
// wildcards matches by cleaned path equality.
func SelectPaths(pattern string, paths []string) ([]string, error) {
	g, err := glob.Compile(filepath.ToSlash(pattern), '/')
	if err != nil {
		return nil, errors.Join(ErrInvalidPattern, err)
	}

	var out []string
	for _, p := range paths {
		if g.Match(filepath.ToSlash(p)) || filepath.Clean(p) == filepath.Clean(pattern) {
			out = append(out, p)
		}
	}
	return out, nil
}
