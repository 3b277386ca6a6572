package trace

import "time"

// Span provides RAII-style span tracking: Begin emits a SpanBegin event and
// End emits the matching SpanEnd with the measured duration in Extra.
type Span struct {
	tracer  Tracer
	id      uint64
	scope   Scope
	name    string
	started time.Time
	extra   map[string]string
}

// Begin starts a new span and emits a SpanBegin event.
func Begin(t Tracer, scope Scope, name string) *Span {
	if t == nil || !t.Enabled() || !t.Level().ShouldEmit(scope) {
		return &Span{tracer: Nop}
	}

	id := NextSpanID()
	now := time.Now()
	t.Emit(&Event{
		Time:   now,
		Seq:    NextSeq(),
		Kind:   KindSpanBegin,
		Scope:  scope,
		SpanID: id,
		Name:   name,
	})
	return &Span{tracer: t, id: id, scope: scope, name: name, started: now}
}

// End emits the SpanEnd event and returns the duration.
func (s *Span) End(detail string) time.Duration {
	if s == nil || s.tracer == nil || !s.tracer.Enabled() {
		return 0
	}

	dur := time.Since(s.started)
	if s.extra == nil {
		s.extra = make(map[string]string)
	}
	s.extra["dur"] = dur.String()

	s.tracer.Emit(&Event{
		Time:   time.Now(),
		Seq:    NextSeq(),
		Kind:   KindSpanEnd,
		Scope:  s.scope,
		SpanID: s.id,
		Name:   s.name,
		Detail: detail,
		Extra:  s.extra,
	})
	return dur
}

// WithExtra adds a key-value pair to the end event. Returns the span for
// chaining.
func (s *Span) WithExtra(key, value string) *Span {
	if s == nil || s.tracer == nil || !s.tracer.Enabled() {
		return s
	}
	if s.extra == nil {
		s.extra = make(map[string]string)
	}
	s.extra[key] = value
	return s
}

// ID returns the span ID.
func (s *Span) ID() uint64 {
	if s == nil {
		return 0
	}
	return s.id
}

// Point emits an instant event.
func Point(t Tracer, scope Scope, name, detail string) {
	if t == nil || !t.Enabled() || !t.Level().ShouldEmit(scope) {
		return
	}
	t.Emit(&Event{
		Time:   time.Now(),
		Seq:    NextSeq(),
		Kind:   KindPoint,
		Scope:  scope,
		Name:   name,
		Detail: detail,
	})
}
