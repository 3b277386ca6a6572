// Package export writes compiled documents to artifact files. One actor
// serves one session group: it watches that session's compile results and
// save signals, decides per its mode whether to render, and also answers
// explicit one-shot export requests from the command surface.
package export

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"vellum/internal/engine"
	"vellum/internal/log"
	"vellum/internal/trace"
)

var (
	// ErrStopped reports a request against an actor whose Run has returned.
	ErrStopped = errors.New("export: actor stopped")
	// ErrNoDocument reports an export request before any compile succeeded.
	ErrNoDocument = errors.New("export: no compiled document yet")
)

// Mode decides which session events trigger a background export.
type Mode uint8

const (
	ModeNever Mode = iota
	ModeOnType
	ModeOnSave
	ModeOnDocumentHasTitle
)

func (m Mode) String() string {
	switch m {
	case ModeNever:
		return "never"
	case ModeOnType:
		return "onType"
	case ModeOnSave:
		return "onSave"
	case ModeOnDocumentHasTitle:
		return "onDocumentHasTitle"
	}
	return "unknown"
}

// ParseMode maps a manifest or configuration string onto a Mode. The empty
// string means never.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "never":
		return ModeNever, nil
	case "onType":
		return ModeOnType, nil
	case "onSave":
		return ModeOnSave, nil
	case "onDocumentHasTitle":
		return ModeOnDocumentHasTitle, nil
	}
	return 0, fmt.Errorf("unknown export mode %q", s)
}

// RenderFunc renders doc into an artifact. The session owning the engine
// provides one that runs the render with exclusive compiler access.
type RenderFunc func(ctx context.Context, doc engine.Document, f engine.Format, page int) ([]byte, error)

// Config assembles an export actor.
type Config struct {
	// Group names the session this actor serves. Logging only.
	Group string
	// Root is the absolute workspace root $dir is computed against.
	Root string
	// Dir is the absolute output root. Empty means Root.
	Dir string
	// Pattern is the output path template. See OutputPath.
	Pattern string
	// Mode decides which events trigger a background export.
	Mode Mode
	// Formats are rendered on every triggered export. One-shot requests
	// name their own format instead.
	Formats []engine.Format
	// Page selects the page for paged formats, 1-based; 0 means first.
	Page int

	// Render must be non-nil.
	Render RenderFunc

	Logger *log.Logger
	Tracer trace.Tracer
}

type request struct {
	// doc, when non-nil, replaces the actor's latest document before
	// rendering.
	doc    engine.Document
	format engine.Format
	page   int
	reply  chan result
}

type result struct {
	path string
	err  error
}

// Actor renders artifacts for one session group. All exported methods are
// safe for concurrent use; rendering and file writes happen on the Run
// goroutine.
type Actor struct {
	cfg Config
	lg  *log.Logger
	tr  trace.Tracer

	docs     chan engine.Document
	saves    chan struct{}
	requests chan request
	done     chan struct{}

	// latest is owned by the Run goroutine.
	latest engine.Document
}

// New builds an export actor. Call Run to start it.
func New(cfg Config) *Actor {
	if cfg.Logger == nil {
		cfg.Logger = log.Nop()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = trace.Nop
	}
	return &Actor{
		cfg:      cfg,
		lg:       cfg.Logger.Named("export"),
		tr:       cfg.Tracer,
		docs:     make(chan engine.Document, 1),
		saves:    make(chan struct{}, 1),
		requests: make(chan request),
		done:     make(chan struct{}),
	}
}

// Notify feeds a freshly compiled document. Delivery is latest-wins: an
// unconsumed older document is dropped rather than blocking the compiler.
func (a *Actor) Notify(doc engine.Document) {
	for {
		select {
		case <-a.done:
			return
		case a.docs <- doc:
			return
		default:
		}
		select {
		case <-a.docs:
		default:
		}
	}
}

// Saved signals that the session's document was saved. Coalesced: multiple
// saves before the actor gets scheduled trigger one export.
func (a *Actor) Saved() {
	select {
	case a.saves <- struct{}{}:
	default:
	}
}

// Oneshot renders the latest compiled document into format right now,
// regardless of mode, and returns the written artifact path. page 0 keeps
// the configured page selector.
func (a *Actor) Oneshot(ctx context.Context, format engine.Format, page int) (string, error) {
	return a.ExportNow(ctx, nil, format, page)
}

// ExportNow is Oneshot with an explicit document: doc becomes the actor's
// latest and is rendered regardless of mode. Callers that just compiled use
// this instead of racing a Notify against the request.
func (a *Actor) ExportNow(ctx context.Context, doc engine.Document, format engine.Format, page int) (string, error) {
	req := request{doc: doc, format: format, page: page, reply: make(chan result, 1)}
	select {
	case a.requests <- req:
	case <-a.done:
		return "", ErrStopped
	case <-ctx.Done():
		return "", ctx.Err()
	}
	select {
	case res := <-req.reply:
		return res.path, res.err
	case <-ctx.Done():
		return "", ctx.Err()
	case <-a.done:
		// The reply may have been sent just before the loop exited.
		select {
		case res := <-req.reply:
			return res.path, res.err
		default:
		}
		return "", ErrStopped
	}
}

// Done is closed when Run returns.
func (a *Actor) Done() <-chan struct{} { return a.done }

// Run consumes events until ctx is canceled.
func (a *Actor) Run(ctx context.Context) error {
	defer close(a.done)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case doc := <-a.docs:
			a.handleDoc(ctx, doc)
		case <-a.saves:
			a.handleSave(ctx)
		case req := <-a.requests:
			req.reply <- a.oneshot(ctx, req)
		}
	}
}

func (a *Actor) handleDoc(ctx context.Context, doc engine.Document) {
	a.latest = doc
	switch a.cfg.Mode {
	case ModeOnType:
		a.exportAll(ctx, doc)
	case ModeOnDocumentHasTitle:
		if doc.Title() != "" {
			a.exportAll(ctx, doc)
		}
	}
}

func (a *Actor) handleSave(ctx context.Context) {
	if a.cfg.Mode != ModeOnSave || a.latest == nil {
		return
	}
	a.exportAll(ctx, a.latest)
}

func (a *Actor) oneshot(ctx context.Context, req request) result {
	if req.doc != nil {
		a.latest = req.doc
	}
	if a.latest == nil {
		return result{err: ErrNoDocument}
	}
	page := req.page
	if page == 0 {
		page = a.cfg.Page
	}
	path, err := a.write(ctx, a.latest, req.format, page)
	return result{path: path, err: err}
}

// exportAll renders every configured format. Failures are logged, never
// escalated: background export must not take the session down.
func (a *Actor) exportAll(ctx context.Context, doc engine.Document) {
	if len(a.cfg.Formats) == 0 {
		return
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, f := range a.cfg.Formats {
		g.Go(func() error {
			_, err := a.write(gctx, doc, f, a.cfg.Page)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		a.lg.Warn("export failed", "group", a.cfg.Group, "err", err)
	}
}

func (a *Actor) write(ctx context.Context, doc engine.Document, f engine.Format, page int) (string, error) {
	out, err := OutputPath(a.cfg.Pattern, a.cfg.Dir, a.cfg.Root, doc.Entry(), f)
	if err != nil {
		return "", err
	}
	data, err := a.cfg.Render(ctx, doc, f, page)
	if err != nil {
		return "", fmt.Errorf("render %s: %w", f, err)
	}
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(out, data, 0o644); err != nil {
		return "", err
	}
	trace.Point(a.tr, trace.ScopeSession, "export.write", out)
	a.lg.Info("artifact written", "group", a.cfg.Group, "format", f.String(), "path", out)
	return out, nil
}
