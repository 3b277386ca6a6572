package check

import (
	"time"

	"vellum/internal/diagfmt"
)

// Status captures progress state for one entry document.
type Status string

const (
	// StatusQueued indicates the entry is waiting for a worker.
	StatusQueued Status = "queued"
	// StatusCompiling indicates the entry is being compiled.
	StatusCompiling Status = "compiling"
	// StatusDone indicates the entry compiled; Counts carries what was
	// found.
	StatusDone Status = "done"
	// StatusFailed indicates the engine could not produce a result.
	StatusFailed Status = "failed"
)

// Event reports progress for one entry document.
type Event struct {
	Entry   string
	Status  Status
	Err     error
	Counts  diagfmt.Counts
	Elapsed time.Duration
}

// ProgressSink consumes progress events. Implementations must be safe for
// concurrent use; workers emit from their own goroutines.
type ProgressSink interface {
	OnEvent(Event)
}

// ChannelSink forwards events into a channel.
type ChannelSink struct {
	Ch chan<- Event
}

func (s ChannelSink) OnEvent(evt Event) {
	if s.Ch == nil {
		return
	}
	s.Ch <- evt
}

// SinkFunc adapts a function to a ProgressSink.
type SinkFunc func(Event)

func (f SinkFunc) OnEvent(evt Event) { f(evt) }
