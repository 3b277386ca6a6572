package session

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"vellum/internal/overlay"
)

// ErrInvalidEntry reports an entry path that is rejected before any state
// changes.
var ErrInvalidEntry = errors.New("session: entry path must be absolute")

// DetachedEntry returns the sentinel entry a disabled session compiles: an
// empty virtual document under the workspace root, so the engine always has
// a target.
func DetachedEntry(root string) string {
	return filepath.Join(root, "detached.vlm")
}

// entryState is the session's current entry under compare-and-swap
// discipline. The generation counter lets a failed change roll back without
// clobbering a concurrent change that already won.
type entryState struct {
	mu   sync.Mutex
	path string // "" = unset
	gen  uint64
}

func (e *entryState) current() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.path
}

// swap stores next and returns the previous value with the new generation.
// A no-op swap (same path) does not bump the generation.
func (e *entryState) swap(next string) (prev string, gen uint64, changed bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.path == next {
		return e.path, e.gen, false
	}
	prev = e.path
	e.gen++
	e.path = next
	return prev, e.gen, true
}

// rollback restores prev only if no later swap happened since gen.
func (e *entryState) rollback(prev string, gen uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gen != gen {
		return false
	}
	e.gen++
	e.path = prev
	return true
}

// ChangeEntry switches the session's entry to path and reports whether it
// actually changed. The swap is optimistic: the controller-level value moves
// first, then the engine is updated under a steal; if the steal fails the
// value rolls back unless a concurrent change already replaced it
// (last writer wins).
//
// A path outside the workspace root is a soft failure: the swap commits and
// a recompile is forced, but the engine's own entry stays untouched. The
// asymmetry comes from treating the root check as a compile-side concern
// while the controller only validates shape.
func (s *Session) ChangeEntry(ctx context.Context, path string) (bool, error) {
	if !filepath.IsAbs(path) {
		return false, fmt.Errorf("%w: %q", ErrInvalidEntry, path)
	}
	path = filepath.Clean(path)

	prev, gen, changed := s.entry.swap(path)
	if !changed {
		return false, nil
	}

	_, err := Steal(ctx, s, func(svc *Service) struct{} {
		if !insideRoot(s.root, path) {
			s.lg.Warn("entry outside workspace root", "path", path, "root", s.root)
		} else if err := svc.Engine.SetEntry(path); err != nil {
			s.lg.Warn("set entry", "path", path, "err", err)
		}
		// An empty change-set forces dependency re-evaluation against the
		// new entry.
		svc.Engine.ApplyChangeSet(overlay.ChangeSet{})
		svc.Invalidate()
		return struct{}{}
	})
	if err != nil {
		if s.entry.rollback(prev, gen) {
			s.lg.Warn("entry change rolled back", "path", path, "err", err)
		}
		return false, err
	}
	return true, nil
}

// Disable redirects the session to the detached sentinel instead of clearing
// the entry. The sentinel is inserted into the engine's memory shadow with
// empty content in the same stolen closure, so the switch and the shadow
// update cannot be reordered.
func (s *Session) Disable(ctx context.Context) error {
	detached := DetachedEntry(s.root)
	prev, gen, changed := s.entry.swap(detached)
	if !changed {
		return nil
	}

	_, err := Steal(ctx, s, func(svc *Service) struct{} {
		svc.Engine.ApplyChangeSet(overlay.UpdateOf(detached, time.Now(), ""))
		if err := svc.Engine.SetEntry(detached); err != nil {
			s.lg.Warn("set detached entry", "err", err)
		}
		svc.Invalidate()
		return struct{}{}
	})
	if err != nil {
		s.entry.rollback(prev, gen)
		return err
	}
	return nil
}

// insideRoot reports whether path is root or below it.
func insideRoot(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
