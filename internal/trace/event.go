package trace

import (
	"fmt"
	"time"
)

// Kind represents the type of trace event.
type Kind uint8

const (
	// KindSpanBegin marks the start of a logical operation.
	KindSpanBegin Kind = iota + 1
	// KindSpanEnd marks the end of a logical operation.
	KindSpanEnd
	// KindPoint represents an instant event.
	KindPoint
)

func (k Kind) String() string {
	switch k {
	case KindSpanBegin:
		return "begin"
	case KindSpanEnd:
		return "end"
	case KindPoint:
		return "point"
	default:
		return "unknown"
	}
}

// Scope indicates the granularity level of the event.
// Lower numeric values represent higher-level/coarser events.
type Scope uint8

const (
	// ScopeServer covers server lifecycle and transport boundaries.
	ScopeServer Scope = iota + 1
	// ScopeSession covers per-session operations (entry swaps, steals).
	ScopeSession
	// ScopeCompile covers compile runs and diagnostics publication.
	ScopeCompile
	// ScopeQuery covers individual IDE feature requests (most detailed).
	ScopeQuery
)

func (s Scope) String() string {
	switch s {
	case ScopeServer:
		return "server"
	case ScopeSession:
		return "session"
	case ScopeCompile:
		return "compile"
	case ScopeQuery:
		return "query"
	default:
		return "unknown"
	}
}

// Event represents a single trace event.
type Event struct {
	Time   time.Time         // wall-clock timestamp
	Seq    uint64            // global sequence number (monotonic)
	Kind   Kind              // event kind
	Scope  Scope             // granularity level
	SpanID uint64            // unique span identifier (0 for points)
	Name   string            // e.g., "compile", "query:hover", "session:main"
	Detail string            // optional detail message
	Extra  map[string]string // extensible key-value pairs
}

// Level controls tracing verbosity.
type Level uint8

const (
	// LevelOff disables tracing.
	LevelOff Level = iota
	// LevelPhase covers server and session boundaries.
	LevelPhase
	// LevelDetail adds compile-scope events.
	LevelDetail
	// LevelDebug emits everything including per-query events.
	LevelDebug
)

func (l Level) String() string {
	switch l {
	case LevelOff:
		return "off"
	case LevelPhase:
		return "phase"
	case LevelDetail:
		return "detail"
	case LevelDebug:
		return "debug"
	default:
		return "unknown"
	}
}

// ParseLevel converts a string to a Level.
func ParseLevel(s string) (Level, error) {
	switch s {
	case "off", "OFF", "":
		return LevelOff, nil
	case "phase", "PHASE":
		return LevelPhase, nil
	case "detail", "DETAIL":
		return LevelDetail, nil
	case "debug", "DEBUG":
		return LevelDebug, nil
	default:
		return LevelOff, fmt.Errorf("invalid trace level: %q (expected: off|phase|detail|debug)", s)
	}
}

// ShouldEmit returns true if the given scope should emit at this level.
func (l Level) ShouldEmit(scope Scope) bool {
	switch l {
	case LevelPhase:
		return scope <= ScopeSession
	case LevelDetail:
		return scope <= ScopeCompile
	case LevelDebug:
		return true
	}
	return false
}
