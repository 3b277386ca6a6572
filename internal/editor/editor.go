// Package editor delivers diagnostics to the connected editor.
//
// Several producers report diagnostics concurrently: the compiler for the
// focused entry (the primary group) and one background task per pinned or
// exported entry. The editor protocol has no notion of groups, so the actor
// merges per-group reports into a single list per file and republishes a
// file whenever any group's view of it changes.
//
// Primary diagnostics are only shown while the primary group is the sole
// active producer. As soon as a background task reports anything the
// primary list is withdrawn from every affected file, and it is restored
// once the last task finishes. This keeps a stale focused-entry compile
// from shadowing fresher task results for the same files.
package editor

import (
	"context"
	"errors"
	"sort"

	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"

	"vellum/internal/log"
	"vellum/internal/trace"
)

// PrimaryGroup names the diagnostics group fed by focused-entry compiles.
// All other group names belong to background tasks.
const PrimaryGroup = "primary"

// ErrStopped reports a send to an actor whose Run loop has returned.
var ErrStopped = errors.New("editor: actor stopped")

// Event carries one group's full diagnostics report. Diags maps every file
// the group currently has something to say about; files the group reported
// before but not now are cleared automatically. A nil map deactivates the
// group entirely, a non-nil empty map keeps it active with nothing to show.
type Event struct {
	Group string
	Diags map[uri.URI][]protocol.Diagnostic
}

// Publisher pushes one file's merged diagnostics to the editor.
type Publisher interface {
	PublishDiagnostics(ctx context.Context, fileURI uri.URI, diags []protocol.Diagnostic) error
}

type nopPublisher struct{}

func (nopPublisher) PublishDiagnostics(context.Context, uri.URI, []protocol.Diagnostic) error {
	return nil
}

// Actor owns the merged diagnostics state. All mutation happens on the Run
// goroutine; producers hand over events through Send.
type Actor struct {
	events chan Event
	done   chan struct{}

	pub Publisher
	lg  *log.Logger
	tr  trace.Tracer

	// pathDiags holds the last report of each group per file, affects the
	// set of files each active group last reported. A file carries a group
	// entry in pathDiags exactly when the group's affects list names it.
	pathDiags        map[uri.URI]map[string][]protocol.Diagnostic
	affects          map[string][]uri.URI
	publishedPrimary bool
}

// New builds an idle actor. A nil publisher, logger or tracer falls back to
// a no-op implementation.
func New(pub Publisher, lg *log.Logger, tr trace.Tracer) *Actor {
	if pub == nil {
		pub = nopPublisher{}
	}
	if lg == nil {
		lg = log.Nop()
	}
	if tr == nil {
		tr = trace.Nop
	}
	return &Actor{
		events:    make(chan Event, 64),
		done:      make(chan struct{}),
		pub:       pub,
		lg:        lg,
		tr:        tr,
		pathDiags: make(map[uri.URI]map[string][]protocol.Diagnostic),
		affects:   make(map[string][]uri.URI),
	}
}

// Send queues an event for the Run loop. It fails with ErrStopped once Run
// has returned so producers can tell shutdown from backpressure.
func (a *Actor) Send(ctx context.Context, ev Event) error {
	// The events channel is buffered, so a plain select could still accept
	// events after shutdown. Check for the stopped state first.
	select {
	case <-a.done:
		return ErrStopped
	default:
	}
	select {
	case a.events <- ev:
		return nil
	case <-a.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run consumes events until ctx is cancelled.
func (a *Actor) Run(ctx context.Context) error {
	defer close(a.done)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-a.events:
			a.handle(ctx, ev)
		}
	}
}

func (a *Actor) handle(ctx context.Context, ev Event) {
	// Visibility is decided against the state before the event applies: the
	// primary group is visible only when it is the sole active group.
	withPrimary := len(a.affects) <= 1 && a.active(PrimaryGroup) && ev.Group == PrimaryGroup

	a.apply(ctx, ev.Group, ev.Diags, withPrimary)

	if withPrimary {
		return
	}
	again := len(a.affects) == 1 && a.active(PrimaryGroup)
	if a.publishedPrimary != again {
		a.flushPrimary(ctx, again)
		a.publishedPrimary = again
	}
}

func (a *Actor) active(group string) bool {
	_, ok := a.affects[group]
	return ok
}

// apply merges one group's report into the stored state and republishes
// every file the report touches. Files the group stops mentioning get an
// explicit republish without the group's share; the editor would keep the
// stale entries otherwise.
func (a *Actor) apply(ctx context.Context, group string, next map[uri.URI][]protocol.Diagnostic, withPrimary bool) {
	var clear []uri.URI
	for _, fileURI := range a.affects[group] {
		if _, ok := next[fileURI]; !ok {
			clear = append(clear, fileURI)
		}
	}
	sortURIs(clear)
	update := make([]uri.URI, 0, len(next))
	for fileURI := range next {
		update = append(update, fileURI)
	}
	sortURIs(update)

	publish := func(fileURI uri.URI, diags []protocol.Diagnostic, keep bool) {
		byGroup := a.pathDiags[fileURI]

		out := make([]protocol.Diagnostic, 0, len(diags))
		for _, g := range sortedGroups(byGroup) {
			if g == group {
				continue
			}
			if g == PrimaryGroup && !withPrimary {
				continue
			}
			out = append(out, byGroup[g]...)
		}
		out = append(out, diags...)

		if keep {
			if byGroup == nil {
				byGroup = make(map[string][]protocol.Diagnostic)
				a.pathDiags[fileURI] = byGroup
			}
			byGroup[group] = diags
		} else if byGroup != nil {
			delete(byGroup, group)
			if len(byGroup) == 0 {
				delete(a.pathDiags, fileURI)
			}
		}

		if group == PrimaryGroup && !withPrimary {
			// Stored above but not shown; a later flush republishes the
			// affected files once the primary group is visible again.
			return
		}
		a.publishFile(ctx, fileURI, out)
	}

	for _, fileURI := range clear {
		publish(fileURI, nil, false)
	}
	for _, fileURI := range update {
		publish(fileURI, next[fileURI], true)
	}

	if next == nil {
		delete(a.affects, group)
	} else {
		a.affects[group] = update
	}
}

// flushPrimary republishes every file the primary group affects, adding or
// dropping the primary share as visibility toggles.
func (a *Actor) flushPrimary(ctx context.Context, enable bool) {
	for _, fileURI := range a.affects[PrimaryGroup] {
		byGroup := a.pathDiags[fileURI]
		var out []protocol.Diagnostic
		for _, g := range sortedGroups(byGroup) {
			if g == PrimaryGroup && !enable {
				continue
			}
			out = append(out, byGroup[g]...)
		}
		a.publishFile(ctx, fileURI, out)
	}
}

func (a *Actor) publishFile(ctx context.Context, fileURI uri.URI, diags []protocol.Diagnostic) {
	trace.Point(a.tr, trace.ScopeCompile, "diag.publish", string(fileURI))
	if err := a.pub.PublishDiagnostics(ctx, fileURI, diags); err != nil {
		a.lg.Warn("publish diagnostics", "uri", string(fileURI), "err", err)
	}
}

func sortURIs(uris []uri.URI) {
	sort.Slice(uris, func(i, j int) bool { return uris[i] < uris[j] })
}

func sortedGroups(byGroup map[string][]protocol.Diagnostic) []string {
	if len(byGroup) == 0 {
		return nil
	}
	groups := make([]string, 0, len(byGroup))
	for g := range byGroup {
		groups = append(groups, g)
	}
	sort.Strings(groups)
	return groups
}
