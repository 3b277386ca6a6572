package trace

import (
	"strings"
	"testing"
	"time"
)

func emitN(t *RingTracer, n int) {
	for i := 0; i < n; i++ {
		t.Emit(&Event{Time: time.Now(), Kind: KindPoint, Scope: ScopeServer, Name: "ev"})
	}
}

func TestRingSnapshotBeforeWrap(t *testing.T) {
	r := NewRingTracer(8, LevelDebug)
	emitN(r, 3)

	got := r.Snapshot()
	if len(got) != 3 {
		t.Fatalf("snapshot length = %d, want 3", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].Seq <= got[i-1].Seq {
			t.Fatalf("snapshot out of order at %d: %d then %d", i, got[i-1].Seq, got[i].Seq)
		}
	}
}

func TestRingSnapshotAfterWrap(t *testing.T) {
	r := NewRingTracer(4, LevelDebug)
	emitN(r, 10)

	got := r.Snapshot()
	if len(got) != 4 {
		t.Fatalf("snapshot length = %d, want capacity 4", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].Seq <= got[i-1].Seq {
			t.Fatalf("wrapped snapshot out of order: %d then %d", got[i-1].Seq, got[i].Seq)
		}
	}
}

func TestLevelGating(t *testing.T) {
	r := NewRingTracer(8, LevelPhase)
	r.Emit(&Event{Kind: KindPoint, Scope: ScopeQuery, Name: "filtered"})
	r.Emit(&Event{Kind: KindPoint, Scope: ScopeSession, Name: "kept"})

	got := r.Snapshot()
	if len(got) != 1 || got[0].Name != "kept" {
		t.Fatalf("level gating failed: %+v", got)
	}
}

func TestSpanEmitsBeginEnd(t *testing.T) {
	r := NewRingTracer(8, LevelDebug)
	sp := Begin(r, ScopeCompile, "compile")
	sp.WithExtra("files", "2").End("ok")

	got := r.Snapshot()
	if len(got) != 2 {
		t.Fatalf("span emitted %d events, want 2", len(got))
	}
	if got[0].Kind != KindSpanBegin || got[1].Kind != KindSpanEnd {
		t.Fatalf("unexpected kinds: %v, %v", got[0].Kind, got[1].Kind)
	}
	if got[0].SpanID == 0 || got[0].SpanID != got[1].SpanID {
		t.Fatalf("span ids do not match: %d vs %d", got[0].SpanID, got[1].SpanID)
	}
	if got[1].Extra["files"] != "2" {
		t.Fatalf("extra lost: %v", got[1].Extra)
	}
}

func TestNDJSONFormat(t *testing.T) {
	ev := &Event{Seq: 7, Kind: KindPoint, Scope: ScopeCompile, Name: "publish", Detail: "3 files"}
	out := string(FormatEvent(ev, FormatNDJSON))
	if !strings.Contains(out, `"name":"publish"`) || !strings.HasSuffix(out, "\n") {
		t.Fatalf("bad ndjson line: %q", out)
	}
}
