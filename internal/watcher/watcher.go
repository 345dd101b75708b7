// Package watcher ingests files dropped into a reference-set inbox directory.
//
// The inbox holds one directory per reference set, named by its id. Files placed
// directly inside a set directory are ingested once their writes settle, then moved
// to a .processed (or .failed) subdirectory of the set directory.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const (
	defaultDebounce = 400 * time.Millisecond

	// ProcessedDir receives files that were ingested.
	ProcessedDir = ".processed"
	// FailedDir receives files whose ingestion failed.
	FailedDir = ".failed"
)

// IngestFunc ingests the file at path into the reference set refSetID.
type IngestFunc func(ctx context.Context, refSetID, path string) error

// Watcher watches an inbox directory and ingests new files.
type Watcher struct {
	inbox      string
	extensions []string
	ingest     IngestFunc
	debounce   time.Duration
	watcher    *fsnotify.Watcher
	ctx        context.Context
	mu         sync.Mutex
	pending    map[string]*time.Timer
	active     map[string]struct{}
	inflight   sync.WaitGroup
	done       chan struct{}
	started    bool
	stopOnce   sync.Once
	logger     *zap.Logger
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) WatcherOption {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithDebounce sets how long a file must stay unchanged before it is ingested.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// NewWatcher creates a watcher for inbox. extensions filters which files are ingested (empty = all).
func NewWatcher(inbox string, extensions []string, ingest IngestFunc, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		inbox:      filepath.Clean(inbox),
		extensions: extensions,
		ingest:     ingest,
		debounce:   defaultDebounce,
		ctx:        context.Background(),
		pending:    make(map[string]*time.Timer),
		active:     make(map[string]struct{}),
		done:       make(chan struct{}),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start creates the inbox if needed and watches it and every set directory in it.
// It runs until ctx is cancelled or Stop is called; ingestion uses ctx.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return nil
	}
	if err := os.MkdirAll(w.inbox, 0755); err != nil {
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(w.inbox); err != nil {
		_ = watcher.Close()
		return err
	}
	entries, err := os.ReadDir(w.inbox)
	if err != nil {
		_ = watcher.Close()
		return err
	}
	for _, e := range entries {
		if !e.IsDir() || hidden(e.Name()) {
			continue
		}
		if err := watcher.Add(filepath.Join(w.inbox, e.Name())); err != nil {
			_ = watcher.Close()
			return err
		}
	}
	w.watcher = watcher
	w.ctx = ctx
	w.started = true
	w.logger.Info("inbox watcher started", zap.String("inbox", w.inbox), zap.Strings("extensions", w.extensions))
	go w.run(ctx, watcher)
	return nil
}

func (w *Watcher) run(ctx context.Context, watcher *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			if err != nil {
				w.logger.Debug("watcher error", zap.Error(err))
			}
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return
	}
	path := filepath.Clean(ev.Name)
	w.logger.Debug("watcher event", zap.String("op", ev.Op.String()), zap.String("path", path))
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	if info.IsDir() {
		if filepath.Dir(path) == w.inbox && !hidden(info.Name()) {
			w.addSetDirectory(path)
		}
		return
	}
	if _, ok := w.setFor(path); ok {
		w.schedule(path)
	}
}

// addSetDirectory watches a new set directory and queues the files already in it.
func (w *Watcher) addSetDirectory(dir string) {
	w.mu.Lock()
	watcher := w.watcher
	w.mu.Unlock()
	if watcher == nil {
		return
	}
	if err := watcher.Add(dir); err != nil {
		w.logger.Warn("watcher failed to add set directory", zap.String("path", dir), zap.Error(err))
		return
	}
	w.logger.Debug("watcher added set directory", zap.String("path", dir))
	for _, path := range w.candidates(dir) {
		w.schedule(path)
	}
}

// setFor returns the reference set id for a file that should be ingested.
func (w *Watcher) setFor(path string) (string, bool) {
	rel, err := filepath.Rel(w.inbox, path)
	if err != nil {
		return "", false
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) != 2 || parts[0] == ".." || hidden(parts[0]) || hidden(parts[1]) {
		return "", false
	}
	if !matchExtension(path, w.extensions) {
		return "", false
	}
	return parts[0], true
}

func hidden(name string) bool {
	return strings.HasPrefix(name, ".")
}

func matchExtension(path string, extensions []string) bool {
	if len(extensions) == 0 {
		return true
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	for _, e := range extensions {
		if strings.TrimPrefix(strings.ToLower(e), ".") == ext {
			return true
		}
	}
	return false
}

func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		return
	}
	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		if !w.running() {
			return
		}
		defer w.inflight.Done()
		w.process(path)
	})
}

// process ingests one file and moves it out of the set directory. A file already
// being processed by another goroutine is skipped.
func (w *Watcher) process(path string) {
	setID, ok := w.setFor(path)
	if !ok {
		return
	}
	ctx, ok := w.claim(path)
	if !ok {
		w.logger.Debug("watcher skipping file already in progress", zap.String("path", path))
		return
	}
	defer w.release(path)
	if info, err := os.Stat(path); err != nil || !info.Mode().IsRegular() {
		return
	}

	target := ProcessedDir
	if err := w.ingest(ctx, setID, path); err != nil {
		target = FailedDir
		w.logger.Error("inbox ingestion failed", zap.String("reference_set_id", setID), zap.String("path", path), zap.Error(err))
	} else {
		w.logger.Info("inbox file ingested", zap.String("reference_set_id", setID), zap.String("path", path))
	}
	dir := filepath.Join(filepath.Dir(path), target)
	if err := os.MkdirAll(dir, 0755); err != nil {
		w.logger.Warn("watcher failed to create directory", zap.String("path", dir), zap.Error(err))
		return
	}
	if err := os.Rename(path, filepath.Join(dir, filepath.Base(path))); err != nil {
		w.logger.Warn("watcher failed to move file", zap.String("path", path), zap.Error(err))
	}
}

// claim marks path as in progress and returns the ingestion context.
func (w *Watcher) claim(path string) (context.Context, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, busy := w.active[path]; busy {
		return nil, false
	}
	w.active[path] = struct{}{}
	return w.ctx, true
}

func (w *Watcher) release(path string) {
	w.mu.Lock()
	delete(w.active, path)
	w.mu.Unlock()
}

// running reports whether the watcher is started and, if so, registers one unit of
// in-flight work that the caller must finish with inflight.Done.
func (w *Watcher) running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		return false
	}
	w.inflight.Add(1)
	return true
}

// candidates lists the files in a set directory that would be ingested.
func (w *Watcher) candidates(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if _, ok := w.setFor(path); ok {
			out = append(out, path)
		}
	}
	return out
}

// SyncExisting ingests, one by one, the files already waiting in the inbox.
// Call it after Start to pick up files dropped while the server was down. It does
// nothing before Start, stops between files once Stop is called, and Stop waits for it.
func (w *Watcher) SyncExisting() {
	if !w.running() {
		return
	}
	defer w.inflight.Done()
	entries, err := os.ReadDir(w.inbox)
	if err != nil {
		w.logger.Warn("watcher failed to read inbox", zap.String("inbox", w.inbox), zap.Error(err))
		return
	}
	for _, e := range entries {
		if !e.IsDir() || hidden(e.Name()) {
			continue
		}
		for _, path := range w.candidates(filepath.Join(w.inbox, e.Name())) {
			if w.stopped() {
				return
			}
			w.logger.Debug("watcher sync ingesting file", zap.String("path", path))
			w.process(path)
		}
	}
}

func (w *Watcher) stopped() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return !w.started
}

// Stop stops watching and waits for ingestions already running.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return
	}
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
	_ = w.watcher.Close()
	w.watcher = nil
	w.started = false
	w.mu.Unlock()
	w.stopOnce.Do(func() { close(w.done) })
	w.inflight.Wait()
}
