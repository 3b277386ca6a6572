// Package session multiplexes independent compilation sessions over a shared
// document overlay. Each session owns one engine instance on a single run
// goroutine; the rest of the server reaches that state only through Steal,
// which serializes access without exposing locks. A registry holds the
// always-present primary session, the pinned main session, and short-lived
// per-task sessions, and routes feature queries to the right one.
package session

import (
	"context"
	"strconv"

	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"

	"vellum/internal/editor"
	"vellum/internal/engine"
	"vellum/internal/log"
	"vellum/internal/overlay"
	"vellum/internal/trace"
)

// Status is the cached outcome of a session's most recent compile.
type Status uint8

const (
	// StatusIdle means no compile has run yet.
	StatusIdle Status = iota
	StatusSuccess
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Service is the compiler state owned by a session's run goroutine. Stolen
// closures receive it with exclusive access.
type Service struct {
	Engine engine.Engine

	status Status
	doc    engine.Document // last successful compile, nil before the first

	dirty bool
}

// Document returns the last successfully compiled document, which may be
// stale relative to the current overlay state, or nil.
func (s *Service) Document() engine.Document { return s.doc }

// Status returns the outcome of the most recent compile.
func (s *Service) Status() Status { return s.status }

// Invalidate schedules a recompile after the current stolen closure returns.
func (s *Service) Invalidate() { s.dirty = true }

// Reporter receives one diagnostics event per compile and a final nil-diags
// event when a session's group goes away.
type Reporter interface {
	Send(ctx context.Context, ev editor.Event) error
}

type nopReporter struct{}

func (nopReporter) Send(context.Context, editor.Event) error { return nil }

// Config assembles one session.
type Config struct {
	// Group labels the session's diagnostics. The registry uses "primary",
	// "main" and task labels.
	Group string
	// Root is the absolute workspace root.
	Root string
	// Encoding selects the column unit for engine-reported ranges.
	Encoding overlay.Encoding
	// Factory builds the session's engine instance.
	Factory engine.Factory
	// Reporter receives diagnostics events. Nil discards them.
	Reporter Reporter
	// OnCompile observes successful compiles from the run goroutine. It must
	// return quickly. Nil is allowed.
	OnCompile func(doc engine.Document)

	Logger *log.Logger
	Tracer trace.Tracer
}

// Session wraps one engine instance behind a single-owner run loop.
type Session struct {
	group string
	root  string
	lg    *log.Logger
	tr    trace.Tracer
	rep   Reporter

	onCompile func(engine.Document)
	analyzer  engine.SourceAnalyzer

	calls   chan func(*Service)
	changes chan overlay.ChangeSet
	done    chan struct{}

	entry entryState
	svc   *Service
}

// New builds a session. The engine is created immediately; nothing compiles
// until Run starts and an entry is set.
func New(cfg Config) *Session {
	lg := cfg.Logger
	if lg == nil {
		lg = log.Nop()
	}
	tr := cfg.Tracer
	if tr == nil {
		tr = trace.Nop
	}
	rep := cfg.Reporter
	if rep == nil {
		rep = nopReporter{}
	}
	eng := cfg.Factory(cfg.Root, cfg.Encoding)
	return &Session{
		group:     cfg.Group,
		root:      cfg.Root,
		lg:        lg.Named(cfg.Group),
		tr:        tr,
		rep:       rep,
		onCompile: cfg.OnCompile,
		analyzer:  eng.Analyzer(),
		calls:     make(chan func(*Service)),
		changes:   make(chan overlay.ChangeSet, 64),
		done:      make(chan struct{}),
		svc:       &Service{Engine: eng},
	}
}

// Group returns the session's diagnostics group label.
func (s *Session) Group() string { return s.group }

// Root returns the session's workspace root.
func (s *Session) Root() string { return s.root }

// Entry returns the session's current entry path, or "" when unset.
func (s *Session) Entry() string { return s.entry.current() }

// Analyzer returns the engine's source analyzer. It is safe to use without
// stealing.
func (s *Session) Analyzer() engine.SourceAnalyzer { return s.analyzer }

// Done is closed when the run loop has terminated.
func (s *Session) Done() <-chan struct{} { return s.done }

// AddMemoryChanges queues an overlay change-set for the run loop.
// Fire-and-forget: delivery order is preserved, completion is not awaited.
func (s *Session) AddMemoryChanges(ctx context.Context, cs overlay.ChangeSet) {
	select {
	case s.changes <- cs:
	case <-s.done:
	case <-ctx.Done():
	}
}

// Run owns the engine until ctx is cancelled. Stolen closures and change-set
// batches are processed strictly one at a time; every batch of changes and
// every invalidating closure is followed by a recompile.
func (s *Session) Run(ctx context.Context) error {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f := <-s.calls:
			f(s.svc)
			if s.svc.dirty {
				s.svc.dirty = false
				s.compile(ctx)
			}
		case cs := <-s.changes:
			s.svc.Engine.ApplyChangeSet(cs)
			s.drainChanges()
			s.svc.dirty = false
			s.compile(ctx)
		}
	}
}

// drainChanges coalesces queued edits so a burst of keystrokes triggers one
// compile, not one per change-set.
func (s *Session) drainChanges() {
	for {
		select {
		case cs := <-s.changes:
			s.svc.Engine.ApplyChangeSet(cs)
		default:
			return
		}
	}
}

func (s *Session) compile(ctx context.Context) {
	entry := s.entry.current()
	if entry == "" {
		return
	}

	sp := trace.Begin(s.tr, trace.ScopeCompile, "compile").WithExtra("group", s.group)
	doc, diags, err := s.svc.Engine.Compile(ctx)
	if err != nil {
		s.svc.status = StatusError
		s.lg.Warn("compile", "entry", entry, "err", err)
		sp.End("error")
		return
	}
	s.svc.status = StatusSuccess
	s.svc.doc = doc
	sp.End(compileDetail(len(diags)))

	if s.onCompile != nil {
		s.onCompile(doc)
	}
	s.report(ctx, diags)
}

// report converts engine diagnostics to protocol form and hands them to the
// reporter. A disabled session reports nil so the aggregator clears its
// group entirely; an enabled session with no findings reports an empty map,
// which keeps the group active.
func (s *Session) report(ctx context.Context, diags []engine.Diagnostic) {
	var payload map[uri.URI][]protocol.Diagnostic
	if s.entry.current() != DetachedEntry(s.root) {
		payload = make(map[uri.URI][]protocol.Diagnostic, len(diags))
		for _, d := range diags {
			u := uri.File(d.Path)
			payload[u] = append(payload[u], protocolDiagnostic(d))
		}
	}
	if err := s.rep.Send(ctx, editor.Event{Group: s.group, Diags: payload}); err != nil {
		s.lg.Warn("report diagnostics", "err", err)
	}
}

// withdraw reports the session's group as gone. Called by the registry after
// the run loop has stopped.
func (s *Session) withdraw(ctx context.Context) {
	if err := s.rep.Send(ctx, editor.Event{Group: s.group, Diags: nil}); err != nil {
		s.lg.Warn("withdraw diagnostics", "err", err)
	}
}

type queryResult struct {
	val any
	err error
}

// Query answers a feature query under a steal. Queries that need a compiled
// document receive the cached one (possibly nil before the first successful
// compile); the rest run against the world alone, so they work even while
// the entry fails to compile.
func (s *Session) Query(ctx context.Context, q engine.Query) (any, error) {
	sp := trace.Begin(s.tr, trace.ScopeQuery, q.Kind.String()).WithExtra("group", s.group)
	r, err := Steal(ctx, s, func(svc *Service) queryResult {
		var doc engine.Document
		if q.Kind.NeedsDocument() {
			doc = svc.doc
		}
		val, qerr := svc.Engine.World().Query(ctx, doc, q)
		return queryResult{val: val, err: qerr}
	})
	if err != nil {
		sp.End("steal failed")
		return nil, err
	}
	sp.End(q.Path)
	return r.val, r.err
}

func protocolDiagnostic(d engine.Diagnostic) protocol.Diagnostic {
	return protocol.Diagnostic{
		Range: protocol.Range{
			Start: protocol.Position{Line: d.Range.Start.Line, Character: d.Range.Start.Character},
			End:   protocol.Position{Line: d.Range.End.Line, Character: d.Range.End.Character},
		},
		Severity: protocol.DiagnosticSeverity(d.Severity),
		Code:     d.Code,
		Source:   "vellum",
		Message:  d.Message,
	}
}

func compileDetail(diags int) string {
	if diags == 0 {
		return "clean"
	}
	return "diags=" + strconv.Itoa(diags)
}
