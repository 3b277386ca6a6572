package editor

import (
	"context"
	"errors"
	"testing"

	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"

	"vellum/internal/testkit"
)

type publishRec struct {
	uri   uri.URI
	diags []protocol.Diagnostic
}

type recorder struct {
	recs []publishRec
}

func (r *recorder) PublishDiagnostics(_ context.Context, fileURI uri.URI, diags []protocol.Diagnostic) error {
	r.recs = append(r.recs, publishRec{uri: fileURI, diags: diags})
	return nil
}

func newTestActor() (*Actor, *recorder) {
	rec := &recorder{}
	return New(rec, nil, nil), rec
}

func diags(msgs ...string) []protocol.Diagnostic {
	out := make([]protocol.Diagnostic, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, protocol.Diagnostic{Message: m})
	}
	return out
}

func msgs(ds []protocol.Diagnostic) []string {
	out := make([]string, 0, len(ds))
	for _, d := range ds {
		out = append(out, d.Message)
	}
	return out
}

func sameMsgs(got []protocol.Diagnostic, want ...string) bool {
	g := msgs(got)
	if len(g) != len(want) {
		return false
	}
	for i := range g {
		if g[i] != want[i] {
			return false
		}
	}
	return true
}

// deliver drives one event through the actor synchronously and verifies the
// bookkeeping afterwards.
func deliver(t *testing.T, a *Actor, group string, m map[uri.URI][]protocol.Diagnostic) {
	t.Helper()
	a.handle(context.Background(), Event{Group: group, Diags: m})
	if err := testkit.CheckDiagnosticsInvariants(a.pathDiags, a.affects); err != nil {
		t.Fatalf("aggregator state after %q event: %v", group, err)
	}
}

var (
	uriA = uri.File("/ws/a.vlm")
	uriB = uri.File("/ws/b.vlm")
)

func TestPrimaryFirstReportPublishedOnceActive(t *testing.T) {
	a, rec := newTestActor()

	// The very first primary report finds the group inactive, so the apply
	// step defers and the activation flush publishes it. Exactly once.
	deliver(t, a, PrimaryGroup, map[uri.URI][]protocol.Diagnostic{uriA: diags("e1")})
	if len(rec.recs) != 1 {
		t.Fatalf("publish count after first report = %d, want 1", len(rec.recs))
	}
	if rec.recs[0].uri != uriA || !sameMsgs(rec.recs[0].diags, "e1") {
		t.Fatalf("first publish = %v %v, want %v [e1]", rec.recs[0].uri, msgs(rec.recs[0].diags), uriA)
	}

	// Once active and alone, reports publish directly.
	deliver(t, a, PrimaryGroup, map[uri.URI][]protocol.Diagnostic{uriA: diags("e2")})
	if len(rec.recs) != 2 {
		t.Fatalf("publish count after second report = %d, want 2", len(rec.recs))
	}
	if !sameMsgs(rec.recs[1].diags, "e2") {
		t.Fatalf("second publish = %v, want [e2]", msgs(rec.recs[1].diags))
	}
}

func TestTaskOverridesPrimaryUntilTaskDone(t *testing.T) {
	a, rec := newTestActor()

	deliver(t, a, PrimaryGroup, map[uri.URI][]protocol.Diagnostic{uriA: diags("p1")})
	if len(rec.recs) != 1 || !sameMsgs(rec.recs[0].diags, "p1") {
		t.Fatalf("bootstrap publish = %v, want [p1]", msgs(rec.recs[0].diags))
	}

	// A task starting on the same file withdraws the primary share: the
	// task's report is published and the file is republished without p1.
	deliver(t, a, "task-1", map[uri.URI][]protocol.Diagnostic{uriA: diags("t1")})
	if len(rec.recs) != 3 {
		t.Fatalf("publish count after task report = %d, want 3", len(rec.recs))
	}
	for _, r := range rec.recs[1:] {
		if !sameMsgs(r.diags, "t1") {
			t.Fatalf("publish while task active = %v, want [t1]", msgs(r.diags))
		}
	}

	// Fresh primary results are stored but stay invisible while the task
	// is active.
	deliver(t, a, PrimaryGroup, map[uri.URI][]protocol.Diagnostic{uriA: diags("p2")})
	if len(rec.recs) != 3 {
		t.Fatalf("primary report published while task active: %d records", len(rec.recs))
	}

	// When the task finishes, its share is cleared and the stored primary
	// report surfaces, even though its own event was suppressed.
	deliver(t, a, "task-1", nil)
	if len(rec.recs) != 5 {
		t.Fatalf("publish count after task done = %d, want 5", len(rec.recs))
	}
	if !sameMsgs(rec.recs[3].diags) {
		t.Fatalf("task clear publish = %v, want empty", msgs(rec.recs[3].diags))
	}
	if !sameMsgs(rec.recs[4].diags, "p2") {
		t.Fatalf("restored publish = %v, want [p2]", msgs(rec.recs[4].diags))
	}
}

func TestWithdrawnFilesGetEmptyPublish(t *testing.T) {
	a, rec := newTestActor()

	deliver(t, a, PrimaryGroup, map[uri.URI][]protocol.Diagnostic{
		uriA: diags("p1"),
		uriB: diags("p2"),
	})
	if len(rec.recs) != 2 {
		t.Fatalf("bootstrap publish count = %d, want 2", len(rec.recs))
	}

	// b.vlm drops out of the report; the editor needs an explicit empty
	// list or it keeps showing p2.
	deliver(t, a, PrimaryGroup, map[uri.URI][]protocol.Diagnostic{uriA: diags("p3")})
	if len(rec.recs) != 4 {
		t.Fatalf("publish count = %d, want 4", len(rec.recs))
	}
	if rec.recs[2].uri != uriB || !sameMsgs(rec.recs[2].diags) {
		t.Fatalf("withdrawal publish = %v %v, want %v []", rec.recs[2].uri, msgs(rec.recs[2].diags), uriB)
	}
	if rec.recs[3].uri != uriA || !sameMsgs(rec.recs[3].diags, "p3") {
		t.Fatalf("update publish = %v %v, want %v [p3]", rec.recs[3].uri, msgs(rec.recs[3].diags), uriA)
	}
}

func TestEmptyReportKeepsGroupActive(t *testing.T) {
	a, rec := newTestActor()

	deliver(t, a, "task-1", map[uri.URI][]protocol.Diagnostic{uriA: diags("t1")})
	deliver(t, a, PrimaryGroup, map[uri.URI][]protocol.Diagnostic{uriA: diags("p1")})
	if len(rec.recs) != 1 {
		t.Fatalf("publish count = %d, want 1 (primary hidden behind task)", len(rec.recs))
	}

	// An empty (but present) report clears the task's diagnostics without
	// deactivating the group, so the primary share stays hidden.
	deliver(t, a, "task-1", map[uri.URI][]protocol.Diagnostic{})
	if len(rec.recs) != 2 {
		t.Fatalf("publish count after empty report = %d, want 2", len(rec.recs))
	}
	if !sameMsgs(rec.recs[1].diags) {
		t.Fatalf("empty report publish = %v, want empty", msgs(rec.recs[1].diags))
	}

	// Only a nil report deactivates the group and lets the primary share
	// back through.
	deliver(t, a, "task-1", nil)
	if len(rec.recs) != 3 {
		t.Fatalf("publish count after deactivation = %d, want 3", len(rec.recs))
	}
	if rec.recs[2].uri != uriA || !sameMsgs(rec.recs[2].diags, "p1") {
		t.Fatalf("restored publish = %v %v, want %v [p1]", rec.recs[2].uri, msgs(rec.recs[2].diags), uriA)
	}
}

func TestPrimaryRepublishLagsAfterFullWithdrawal(t *testing.T) {
	a, rec := newTestActor()

	deliver(t, a, PrimaryGroup, map[uri.URI][]protocol.Diagnostic{uriA: diags("p1")})
	deliver(t, a, PrimaryGroup, nil)
	if len(rec.recs) != 2 || !sameMsgs(rec.recs[1].diags) {
		t.Fatalf("withdrawal publishes = %d (%v), want 2 with empty last", len(rec.recs), msgs(rec.recs[len(rec.recs)-1].diags))
	}

	// The republish decision only runs on events that find the primary
	// group inactive, so the first report after a full withdrawal is
	// stored without being shown. The next report publishes normally.
	deliver(t, a, PrimaryGroup, map[uri.URI][]protocol.Diagnostic{uriA: diags("p2")})
	if len(rec.recs) != 2 {
		t.Fatalf("first report after withdrawal published eagerly: %d records", len(rec.recs))
	}
	deliver(t, a, PrimaryGroup, map[uri.URI][]protocol.Diagnostic{uriA: diags("p3")})
	if len(rec.recs) != 3 || !sameMsgs(rec.recs[2].diags, "p3") {
		t.Fatalf("follow-up publish = %v, want [p3]", msgs(rec.recs[len(rec.recs)-1].diags))
	}
}

func TestTaskReportsMergePerFile(t *testing.T) {
	a, rec := newTestActor()

	deliver(t, a, "task-alpha", map[uri.URI][]protocol.Diagnostic{uriA: diags("a1")})
	deliver(t, a, "task-beta", map[uri.URI][]protocol.Diagnostic{uriA: diags("b1")})
	if len(rec.recs) != 2 {
		t.Fatalf("publish count = %d, want 2", len(rec.recs))
	}
	if !sameMsgs(rec.recs[1].diags, "a1", "b1") {
		t.Fatalf("merged publish = %v, want [a1 b1]", msgs(rec.recs[1].diags))
	}

	deliver(t, a, "task-alpha", nil)
	if len(rec.recs) != 3 {
		t.Fatalf("publish count = %d, want 3", len(rec.recs))
	}
	if !sameMsgs(rec.recs[2].diags, "b1") {
		t.Fatalf("publish after task-alpha done = %v, want [b1]", msgs(rec.recs[2].diags))
	}
}

func TestSendAfterRunStops(t *testing.T) {
	a, _ := newTestActor()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- a.Run(ctx) }()

	if err := a.Send(context.Background(), Event{Group: PrimaryGroup}); err != nil {
		t.Fatalf("Send while running: %v", err)
	}
	cancel()
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run returned %v, want context.Canceled", err)
	}
	if err := a.Send(context.Background(), Event{Group: PrimaryGroup}); !errors.Is(err, ErrStopped) {
		t.Fatalf("Send after stop returned %v, want ErrStopped", err)
	}
}

func TestSendHonorsContext(t *testing.T) {
	a, _ := newTestActor()
	for i := 0; i < cap(a.events); i++ {
		if err := a.Send(context.Background(), Event{Group: PrimaryGroup}); err != nil {
			t.Fatalf("Send %d: %v", i, err)
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := a.Send(ctx, Event{Group: PrimaryGroup}); !errors.Is(err, context.Canceled) {
		t.Fatalf("Send with full queue returned %v, want context.Canceled", err)
	}
}
