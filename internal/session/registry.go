package session

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"vellum/internal/editor"
	"vellum/internal/engine"
	"vellum/internal/log"
	"vellum/internal/overlay"
	"vellum/internal/trace"
)

// MainGroup labels the pinned dedicated session.
const MainGroup = "main"

var errNotStarted = errors.New("session: registry not started")

// RegistryConfig assembles the session registry.
type RegistryConfig struct {
	// Root is the absolute workspace root shared by every session.
	Root string
	// DefaultEntry, when set, is compiled by the primary session at startup
	// and is the first fallback when unpinning.
	DefaultEntry string
	Encoding     overlay.Encoding
	Factory      engine.Factory
	// Overlay feeds change-sets to every session the registry creates. Nil
	// means sessions only see disk content.
	Overlay  *overlay.Overlay
	Reporter Reporter
	// OnCompile observes successful compiles per group. Nil is allowed.
	OnCompile func(group string, doc engine.Document)

	Logger *log.Logger
	Tracer trace.Tracer
}

type handle struct {
	sess   *Session
	cancel context.CancelFunc
	unreg  func()
}

// Registry owns the always-present primary session, the pinned main session
// and short-lived per-task sessions, and routes queries to the right one.
type Registry struct {
	cfg RegistryConfig
	lg  *log.Logger

	mu        sync.Mutex
	runCtx    context.Context
	primary   *handle
	main      *handle
	tasks     map[string]*handle
	pinned    bool
	lastFocus string
}

// NewRegistry builds an idle registry; Start creates the primary session.
func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.Logger == nil {
		cfg.Logger = log.Nop()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = trace.Nop
	}
	if cfg.Reporter == nil {
		cfg.Reporter = nopReporter{}
	}
	return &Registry{
		cfg:   cfg,
		lg:    cfg.Logger.Named("registry"),
		tasks: make(map[string]*handle),
	}
}

// Start spawns the primary session. ctx bounds the lifetime of every session
// the registry will create.
func (r *Registry) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.primary != nil {
		r.mu.Unlock()
		return errors.New("session: registry already started")
	}
	r.runCtx = ctx
	r.primary = r.spawnLocked(editor.PrimaryGroup)
	primary := r.primary.sess
	r.mu.Unlock()

	if r.cfg.DefaultEntry != "" {
		if _, err := primary.ChangeEntry(ctx, r.cfg.DefaultEntry); err != nil {
			r.lg.Warn("default entry", "path", r.cfg.DefaultEntry, "err", err)
		}
	}
	return nil
}

func (r *Registry) spawnLocked(group string) *handle {
	var onCompile func(engine.Document)
	if r.cfg.OnCompile != nil {
		onCompile = func(doc engine.Document) { r.cfg.OnCompile(group, doc) }
	}
	sess := New(Config{
		Group:     group,
		Root:      r.cfg.Root,
		Encoding:  r.cfg.Encoding,
		Factory:   r.cfg.Factory,
		Reporter:  r.cfg.Reporter,
		OnCompile: onCompile,
		Logger:    r.cfg.Logger,
		Tracer:    r.cfg.Tracer,
	})
	ctx, cancel := context.WithCancel(r.runCtx)
	go func() { _ = sess.Run(ctx) }()
	unreg := func() {}
	if r.cfg.Overlay != nil {
		unreg = r.cfg.Overlay.RegisterBootstrapped(ctx, sess)
	}
	r.lg.Debug("session started", "group", group)
	return &handle{sess: sess, cancel: cancel, unreg: unreg}
}

// teardown stops a session and withdraws its diagnostics group.
func (r *Registry) teardown(ctx context.Context, h *handle) {
	h.unreg()
	h.cancel()
	<-h.sess.Done()
	h.sess.withdraw(ctx)
	r.lg.Debug("session stopped", "group", h.sess.Group())
}

// Primary returns the primary session, or nil before Start.
func (r *Registry) Primary() *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.primary == nil {
		return nil
	}
	return r.primary.sess
}

// Main returns the dedicated pinned session, or nil before the first pin.
func (r *Registry) Main() *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.main == nil {
		return nil
	}
	return r.main.sess
}

// Pinned reports whether a pin is active.
func (r *Registry) Pinned() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pinned
}

// MainServes reports whether the pinned main session's dependency closure
// contains path. Always false while unpinned.
func (r *Registry) MainServes(ctx context.Context, path string) bool {
	r.mu.Lock()
	main := r.main
	pinned := r.pinned
	r.mu.Unlock()
	if !pinned || main == nil || path == "" {
		return false
	}

	serves, err := Steal(ctx, main.sess, func(svc *Service) bool {
		entry := main.sess.Entry()
		if entry == "" || entry == DetachedEntry(r.cfg.Root) {
			return false
		}
		for _, dep := range svc.Engine.World().DependenciesOf(entry) {
			if dep == path {
				return true
			}
		}
		return false
	})
	return err == nil && serves
}

// Pin fixes the dedicated main session's entry to path, creating the session
// on first use. An empty path unpins: the main session is disabled, not
// destroyed, and the primary session falls back to the workspace default
// entry or the last implicitly focused file.
func (r *Registry) Pin(ctx context.Context, path string) error {
	if path == "" {
		return r.unpin(ctx)
	}
	if !filepath.IsAbs(path) {
		return fmt.Errorf("%w: %q", ErrInvalidEntry, path)
	}

	r.mu.Lock()
	if r.primary == nil {
		r.mu.Unlock()
		return errNotStarted
	}
	if r.main == nil {
		r.main = r.spawnLocked(MainGroup)
	}
	main := r.main.sess
	r.pinned = true
	r.mu.Unlock()

	_, err := main.ChangeEntry(ctx, path)
	return err
}

func (r *Registry) unpin(ctx context.Context) error {
	r.mu.Lock()
	main := r.main
	primary := r.primary
	wasPinned := r.pinned
	r.pinned = false
	fallback := r.cfg.DefaultEntry
	if fallback == "" {
		fallback = r.lastFocus
	}
	r.mu.Unlock()

	if main != nil {
		if err := main.sess.Disable(ctx); err != nil {
			r.lg.Warn("disable main session", "err", err)
		}
	}
	if wasPinned && fallback != "" && primary != nil {
		if _, err := primary.sess.ChangeEntry(ctx, fallback); err != nil {
			return err
		}
	}
	return nil
}

// Focus re-targets the primary session's entry from editor activity and
// reports whether the entry changed. While pinned, focus only records the
// path so a later unpin can fall back to it.
func (r *Registry) Focus(ctx context.Context, path string) (bool, error) {
	if !filepath.IsAbs(path) {
		return false, fmt.Errorf("%w: %q", ErrInvalidEntry, path)
	}

	r.mu.Lock()
	r.lastFocus = path
	pinned := r.pinned
	primary := r.primary
	r.mu.Unlock()

	if primary == nil {
		return false, errNotStarted
	}
	if pinned {
		return false, nil
	}
	return primary.sess.ChangeEntry(ctx, path)
}

// Query routes a feature query. When pinned, a file inside the main
// session's dependency graph is answered by main; everything else goes to
// the primary session, which for document-bound queries first re-targets its
// entry to the queried file (unless pinned).
func (r *Registry) Query(ctx context.Context, q engine.Query) (any, error) {
	r.mu.Lock()
	primary := r.primary
	main := r.main
	pinned := r.pinned
	r.mu.Unlock()
	if primary == nil {
		return nil, errNotStarted
	}

	if main != nil && r.MainServes(ctx, q.Path) {
		return main.sess.Query(ctx, q)
	}

	if q.Kind.NeedsDocument() && !pinned && q.Path != "" {
		if _, err := primary.sess.ChangeEntry(ctx, q.Path); err != nil {
			return nil, err
		}
	}
	return primary.sess.Query(ctx, q)
}

// RunTask runs fn against a dedicated short-lived session compiling entry.
// The session gets a unique task group label; its diagnostics take over from
// the primary group for the duration and are withdrawn when the task ends.
func (r *Registry) RunTask(ctx context.Context, entry string, fn func(ctx context.Context, s *Session) error) error {
	if !filepath.IsAbs(entry) {
		return fmt.Errorf("%w: %q", ErrInvalidEntry, entry)
	}

	label := "task-" + uuid.NewString()
	r.mu.Lock()
	if r.primary == nil {
		r.mu.Unlock()
		return errNotStarted
	}
	runCtx := r.runCtx
	h := r.spawnLocked(label)
	r.tasks[label] = h
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.tasks, label)
		r.mu.Unlock()
		r.teardown(runCtx, h)
	}()

	if _, err := h.sess.ChangeEntry(ctx, entry); err != nil {
		return err
	}
	return fn(ctx, h.sess)
}

// ClearCaches drops memoized parse state in every live session and forces
// recompiles.
func (r *Registry) ClearCaches(ctx context.Context) {
	for _, s := range r.sessions() {
		if _, err := Steal(ctx, s, func(svc *Service) struct{} {
			svc.Engine.ClearCache()
			svc.Invalidate()
			return struct{}{}
		}); err != nil {
			r.lg.Warn("clear cache", "group", s.Group(), "err", err)
		}
	}
}

func (r *Registry) sessions() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.tasks)+2)
	if r.primary != nil {
		out = append(out, r.primary.sess)
	}
	if r.main != nil {
		out = append(out, r.main.sess)
	}
	for _, h := range r.tasks {
		out = append(out, h.sess)
	}
	return out
}

// Close tears down every session: tasks first, then main, then primary. Each
// group withdraws its diagnostics on the way out.
func (r *Registry) Close(ctx context.Context) {
	r.mu.Lock()
	handles := make([]*handle, 0, len(r.tasks)+2)
	for _, h := range r.tasks {
		handles = append(handles, h)
	}
	r.tasks = make(map[string]*handle)
	if r.main != nil {
		handles = append(handles, r.main)
		r.main = nil
	}
	if r.primary != nil {
		handles = append(handles, r.primary)
		r.primary = nil
	}
	r.pinned = false
	r.mu.Unlock()

	for _, h := range handles {
		r.teardown(ctx, h)
	}
}
