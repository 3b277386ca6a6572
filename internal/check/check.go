// Package check compiles a batch of entry documents and reports what the
// engine found. It is the workspace-wide complement of the live session
// layer: fresh engines, disk content only, bounded parallelism.
package check

import (
	"context"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"vellum/internal/diagfmt"
	"vellum/internal/engine"
	"vellum/internal/log"
	"vellum/internal/overlay"
	"vellum/internal/trace"
)

// Config configures a check run.
type Config struct {
	// Root is the absolute workspace root.
	Root     string
	Encoding overlay.Encoding
	Factory  engine.Factory
	// Jobs bounds concurrent compilations. Zero means GOMAXPROCS.
	Jobs int
	// Progress receives per-entry events. Nil is allowed.
	Progress ProgressSink

	Logger *log.Logger
	Tracer trace.Tracer
}

// Result is the outcome of checking one entry.
type Result struct {
	Entry string
	Diags []engine.Diagnostic
	// Deps is the entry's dependency closure, entry first. Used to decide
	// which entries a file change affects.
	Deps []string
	// Err is an engine-fatal failure; Diags is empty when set.
	Err     error
	Elapsed time.Duration
}

// Run checks every entry and returns results in input order. The returned
// error reports cancellation only; per-entry failures live in the results.
func (cfg Config) Run(ctx context.Context, entries []string) ([]Result, error) {
	lg := cfg.Logger
	if lg == nil {
		lg = log.Nop()
	}
	tr := cfg.Tracer
	if tr == nil {
		tr = trace.Nop
	}
	jobs := cfg.Jobs
	if jobs <= 0 {
		jobs = runtime.GOMAXPROCS(0)
	}

	emit := func(evt Event) {
		if cfg.Progress != nil {
			cfg.Progress.OnEvent(evt)
		}
	}
	for _, entry := range entries {
		emit(Event{Entry: entry, Status: StatusQueued})
	}

	results := make([]Result, len(entries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(min(jobs, max(len(entries), 1)))

	for i, entry := range entries {
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}

			emit(Event{Entry: entry, Status: StatusCompiling})
			span := trace.Begin(tr, trace.ScopeCompile, "check.entry")
			start := time.Now()

			res := checkOne(gctx, cfg, entry)
			res.Elapsed = time.Since(start)
			span.End(entry)
			results[i] = res

			if res.Err != nil {
				lg.Warn("check failed", "entry", entry, "err", res.Err)
				emit(Event{Entry: entry, Status: StatusFailed, Err: res.Err, Elapsed: res.Elapsed})
				return nil
			}
			emit(Event{
				Entry:   entry,
				Status:  StatusDone,
				Counts:  diagfmt.Count(res.Diags),
				Elapsed: res.Elapsed,
			})
			return nil
		})
	}
	return results, g.Wait()
}

func checkOne(ctx context.Context, cfg Config, entry string) Result {
	res := Result{Entry: entry}
	eng := cfg.Factory(cfg.Root, cfg.Encoding)
	if err := eng.SetEntry(entry); err != nil {
		res.Err = err
		return res
	}
	_, diags, err := eng.Compile(ctx)
	if err != nil {
		res.Err = err
		return res
	}
	diagfmt.Sort(diags)
	res.Diags = diags
	res.Deps = eng.World().DependenciesOf(entry)
	return res
}

// Affected returns the entries whose dependency closures intersect the
// changed paths. Entries whose last check failed are always re-checked;
// their dependency closure is unknown.
func Affected(results []Result, changed []string) []string {
	changedSet := make(map[string]struct{}, len(changed))
	for _, p := range changed {
		changedSet[p] = struct{}{}
	}

	var out []string
	for _, r := range results {
		if r.Err != nil {
			out = append(out, r.Entry)
			continue
		}
		for _, dep := range r.Deps {
			if _, ok := changedSet[dep]; ok {
				out = append(out, r.Entry)
				break
			}
		}
	}
	return out
}
