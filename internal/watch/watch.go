// Package watch notifies about document changes under a workspace root.
// Directories are watched recursively; bursts of events are debounced into
// one batch of changed paths.
package watch

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"vellum/internal/log"
)

// Config holds watcher options.
type Config struct {
	// Root is the absolute directory to watch, including subdirectories.
	Root string
	// Debounce is the quiet period before a batch is delivered. Zero means
	// 300ms.
	Debounce time.Duration
	// Match decides which files are interesting. Nil means every file.
	Match func(path string) bool

	Logger *log.Logger
}

// Watcher delivers debounced batches of changed file paths.
type Watcher struct {
	cfg  Config
	fsw  *fsnotify.Watcher
	out  chan []string
	done chan struct{}
	lg   *log.Logger
}

// New creates a watcher for cfg.Root. Call Start to begin watching.
func New(cfg Config) (*Watcher, error) {
	if cfg.Debounce <= 0 {
		cfg.Debounce = 300 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Nop()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	return &Watcher{
		cfg:  cfg,
		fsw:  fsw,
		out:  make(chan []string, 1),
		done: make(chan struct{}),
		lg:   cfg.Logger.Named("watch"),
	}, nil
}

// Start watches the root tree and returns the batch channel. Each batch is
// a sorted, de-duplicated list of changed paths.
func (w *Watcher) Start() (<-chan []string, error) {
	if _, err := os.Stat(w.cfg.Root); err != nil {
		return nil, err
	}
	if err := w.addTree(w.cfg.Root, nil); err != nil {
		return nil, err
	}
	go w.loop()
	return w.out, nil
}

// Stop terminates the watcher and releases resources. Call once.
func (w *Watcher) Stop() error {
	close(w.done)
	return w.fsw.Close()
}

// addTree watches dir and every non-hidden directory below it. record, when
// non-nil, receives the files found along the way; used when a directory
// appears after the watch started, so files racing the watch are not lost.
func (w *Watcher) addTree(dir string, record func(string)) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// The tree can mutate under the walk.
			return nil
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != dir {
				return fs.SkipDir
			}
			if err := w.fsw.Add(path); err != nil {
				w.lg.Warn("watch add", "dir", path, "err", err)
			}
			return nil
		}
		if record != nil {
			record(path)
		}
		return nil
	})
}

func (w *Watcher) match(path string) bool {
	return w.cfg.Match == nil || w.cfg.Match(path)
}

func (w *Watcher) loop() {
	var timer *time.Timer
	pending := make(map[string]struct{})

	arm := func() {
		if timer == nil {
			timer = time.NewTimer(w.cfg.Debounce)
			return
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(w.cfg.Debounce)
	}
	mark := func(path string) {
		if !w.match(path) {
			return
		}
		pending[path] = struct{}{}
		arm()
	}

	for {
		var fire <-chan time.Time
		if timer != nil {
			fire = timer.C
		}

		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&fsnotify.Create != 0 {
				if st, err := os.Stat(ev.Name); err == nil && st.IsDir() {
					if err := w.addTree(ev.Name, mark); err != nil {
						w.lg.Warn("watch subtree", "dir", ev.Name, "err", err)
					}
					continue
				}
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				mark(ev.Name)
			}

		case <-fire:
			timer = nil
			if len(pending) == 0 {
				continue
			}
			batch := make([]string, 0, len(pending))
			for p := range pending {
				batch = append(batch, p)
			}
			sort.Strings(batch)
			pending = make(map[string]struct{})
			select {
			case w.out <- batch:
			case <-w.done:
				return
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.lg.Warn("watch", "err", err)

		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return
		}
	}
}
