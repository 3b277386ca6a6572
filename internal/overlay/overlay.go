// Package overlay keeps the editor-authoritative, in-memory view of open
// documents. Every mutation produces an immutable change-set that is
// broadcast to all registered sinks (compile sessions) before the mutating
// call returns, so a query issued right after an edit always observes it.
package overlay

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"vellum/internal/log"
)

var (
	// ErrFileMissing reports an operation against a path with no overlay
	// entry.
	ErrFileMissing = errors.New("overlay: file not open")
	// ErrInvalidPath reports a non-absolute document path.
	ErrInvalidPath = errors.New("overlay: path must be absolute")
)

// FileUpdate is one insert-or-update record of a change-set.
type FileUpdate struct {
	Path    string
	Stamp   time.Time
	Content string
}

// FileRemove is one remove record of a change-set.
type FileRemove struct {
	Path  string
	Stamp time.Time
}

// ChangeSet is an ordered batch of overlay mutations. It is a pure transport
// value: produced once, then shared read-only by every session.
type ChangeSet struct {
	Updates []FileUpdate
	Removes []FileRemove
}

// IsEmpty reports whether the change-set carries no records.
func (cs ChangeSet) IsEmpty() bool {
	return len(cs.Updates) == 0 && len(cs.Removes) == 0
}

// UpdateOf builds a single-update change-set.
func UpdateOf(path string, stamp time.Time, content string) ChangeSet {
	return ChangeSet{Updates: []FileUpdate{{Path: path, Stamp: stamp, Content: content}}}
}

// Sink receives change-sets in the order the overlay applied them. Delivery
// happens inside the overlay's mutation path; implementations must accept
// the change-set quickly (enqueue, not process).
type Sink interface {
	AddMemoryChanges(ctx context.Context, cs ChangeSet)
}

type entry struct {
	stamp   time.Time
	content string
}

// Overlay is the in-memory map of open documents.
type Overlay struct {
	mu      sync.Mutex
	entries map[string]*entry
	sinks   map[int]Sink
	nextID  int
	clock   clock
	log     *log.Logger
}

// New creates an empty overlay.
func New(lg *log.Logger) *Overlay {
	if lg == nil {
		lg = log.Nop()
	}
	return &Overlay{
		entries: make(map[string]*entry),
		sinks:   make(map[int]Sink),
		log:     lg.Named("overlay"),
	}
}

// Register adds a change-set sink and returns its unregister function. The
// sink only sees mutations applied after registration; use
// RegisterBootstrapped when the sink also needs the current entries.
func (o *Overlay) Register(s Sink) (unregister func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.registerLocked(s)
}

// RegisterBootstrapped delivers the overlay's current entries to s as one
// change-set and registers it, atomically with respect to concurrent
// mutations. The sink observes every mutation exactly once: anything applied
// before registration arrives through the bootstrap set.
func (o *Overlay) RegisterBootstrapped(ctx context.Context, s Sink) (unregister func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if cs := o.changeSetAllLocked(); !cs.IsEmpty() {
		s.AddMemoryChanges(ctx, cs)
	}
	return o.registerLocked(s)
}

func (o *Overlay) registerLocked(s Sink) (unregister func()) {
	id := o.nextID
	o.nextID++
	o.sinks[id] = s
	return func() {
		o.mu.Lock()
		delete(o.sinks, id)
		o.mu.Unlock()
	}
}

// Open inserts (or replaces) the overlay entry for path and broadcasts an
// update change-set.
func (o *Overlay) Open(ctx context.Context, path, text string) error {
	if !filepath.IsAbs(path) {
		return fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	stamp := o.clock.next()
	o.entries[path] = &entry{stamp: stamp, content: text}
	o.log.Debug("open", "path", path, "bytes", len(text))
	o.broadcastLocked(ctx, UpdateOf(path, stamp, text))
	return nil
}

// Edit applies ordered content changes to an open document and broadcasts
// one update change-set carrying the final content. Ranged changes are
// interpreted in the given position encoding against the content as it
// stands when that change is applied.
func (o *Overlay) Edit(ctx context.Context, path string, changes []ContentChange, enc Encoding) error {
	if !filepath.IsAbs(path) {
		return fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.entries[path]
	if !ok {
		return fmt.Errorf("%w: %q", ErrFileMissing, path)
	}

	e.content = applyChanges(e.content, changes, enc)
	e.stamp = o.clock.next()
	o.log.Debug("edit", "path", path, "changes", len(changes), "bytes", len(e.content))
	o.broadcastLocked(ctx, UpdateOf(path, e.stamp, e.content))
	return nil
}

// Close removes the overlay entry for path and broadcasts a remove
// change-set. On-disk content becomes authoritative for the path again.
func (o *Overlay) Close(ctx context.Context, path string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.entries[path]; !ok {
		return fmt.Errorf("%w: %q", ErrFileMissing, path)
	}
	delete(o.entries, path)
	stamp := o.clock.next()
	o.log.Debug("close", "path", path)
	o.broadcastLocked(ctx, ChangeSet{Removes: []FileRemove{{Path: path, Stamp: stamp}}})
	return nil
}

// Content returns the overlay content for path.
func (o *Overlay) Content(path string) (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.entries[path]
	if !ok {
		return "", false
	}
	return e.content, true
}

// Has reports whether path has an overlay entry.
func (o *Overlay) Has(path string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.entries[path]
	return ok
}

// ChangeSetAll returns a change-set carrying every current entry, ordered by
// path. Used to bootstrap a freshly created session.
func (o *Overlay) ChangeSetAll() ChangeSet {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.changeSetAllLocked()
}

func (o *Overlay) changeSetAllLocked() ChangeSet {
	if len(o.entries) == 0 {
		return ChangeSet{}
	}
	paths := make([]string, 0, len(o.entries))
	for p := range o.entries {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	cs := ChangeSet{Updates: make([]FileUpdate, 0, len(paths))}
	for _, p := range paths {
		e := o.entries[p]
		cs.Updates = append(cs.Updates, FileUpdate{Path: p, Stamp: e.stamp, Content: e.content})
	}
	return cs
}

// broadcastLocked delivers cs to every sink. The overlay mutex is held, so
// delivery order across sinks matches mutation order exactly.
func (o *Overlay) broadcastLocked(ctx context.Context, cs ChangeSet) {
	for _, s := range o.sinks {
		s.AddMemoryChanges(ctx, cs)
	}
}

// clock issues strictly increasing timestamps, so two edits in the same
// wall-clock nanosecond still order correctly.
type clock struct {
	last time.Time
}

func (c *clock) next() time.Time {
	now := time.Now()
	if !now.After(c.last) {
		now = c.last.Add(time.Nanosecond)
	}
	c.last = now
	return now
}
