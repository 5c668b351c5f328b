// Package watcher batches filesystem changes under the resources tree so the
// incremental deploy can re-run after each burst of edits.
package watcher

import (
	"context"
	"io/fs"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/httprunner/apkdeploy/pkg/deltafy"
)

const defaultDebounce = 300 * time.Millisecond

// Batch is a set of changed paths collected within one debounce window.
type Batch struct {
	Paths     []string
	Timestamp time.Time
}

// Watcher watches a directory tree recursively.
type Watcher struct {
	watcher  *fsnotify.Watcher
	root     string
	include  deltafy.IncludeFunc
	debounce time.Duration
	events   chan Batch

	once sync.Once
}

// New creates a watcher over root. Directories rejected by include are not
// watched; a nil include watches everything.
func New(root string, include deltafy.IncludeFunc, debounce time.Duration) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "create fsnotify watcher")
	}
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	return &Watcher{
		watcher:  fw,
		root:     root,
		include:  include,
		debounce: debounce,
		events:   make(chan Batch, 16),
	}, nil
}

// Start adds every directory under root and processes events until ctx is
// done, at which point the Events channel is closed.
func (w *Watcher) Start(ctx context.Context) error {
	count, err := w.addTree(w.root)
	if err != nil {
		w.watcher.Close()
		return err
	}
	log.Info().Str("path", w.root).Int("dirs", count).Msg("started watching resources")
	go w.process(ctx)
	return nil
}

// Events delivers debounced batches.
func (w *Watcher) Events() <-chan Batch {
	return w.events
}

func (w *Watcher) addTree(dir string) (int, error) {
	count := 0
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && w.include != nil {
			rel, relErr := filepath.Rel(w.root, path)
			if relErr == nil && !w.include(filepath.ToSlash(rel), false) {
				return filepath.SkipDir
			}
		}
		if err := w.watcher.Add(path); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("failed to watch directory")
			return nil
		}
		count++
		return nil
	})
	if err != nil {
		return count, errors.Wrapf(err, "walk %s", dir)
	}
	return count, nil
}

func (w *Watcher) process(ctx context.Context) {
	defer w.close()

	pending := make(map[string]struct{})
	flushTimer := time.NewTimer(w.debounce)
	flushTimer.Stop()

	flush := func() {
		if len(pending) == 0 {
			return
		}
		paths := make([]string, 0, len(pending))
		for p := range pending {
			paths = append(paths, p)
		}
		sort.Strings(paths)
		pending = make(map[string]struct{})
		select {
		case w.events <- Batch{Paths: paths, Timestamp: time.Now()}:
		case <-ctx.Done():
		}
	}

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write) {
				continue
			}
			if !w.relevant(event.Name) {
				continue
			}
			if event.Has(fsnotify.Create) {
				// new directories must be watched too
				if _, err := w.addTree(event.Name); err != nil {
					log.Debug().Err(err).Str("path", event.Name).Msg("watch new path")
				}
			}
			pending[event.Name] = struct{}{}
			flushTimer.Reset(w.debounce)

		case <-flushTimer.C:
			flush()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("watcher error")
		}
	}
}

func (w *Watcher) relevant(path string) bool {
	if w.include == nil {
		return true
	}
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return true
	}
	return w.include(filepath.ToSlash(rel), true)
}

func (w *Watcher) close() {
	w.once.Do(func() {
		w.watcher.Close()
		close(w.events)
	})
}
