package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"vellum/internal/check"
	"vellum/internal/diagfmt"
	"vellum/internal/engine/vellumc"
	"vellum/internal/overlay"
	"vellum/internal/project"
	"vellum/internal/trace"
	"vellum/internal/watch"
)

var checkCmd = &cobra.Command{
	Use:   "check [entries...]",
	Short: "Compile documents and report diagnostics",
	Long: `Check compiles entry documents and prints what the engine found.
Entries come from the arguments, the workspace manifest, or every .vlm file
at the workspace root.`,
	SilenceUsage: true,
	RunE:         runCheck,
}

func init() {
	checkCmd.Flags().Int("jobs", 0, "max parallel compilations (0=auto)")
	checkCmd.Flags().String("format", "text", "output format (text|json)")
	checkCmd.Flags().String("ui", "auto", "progress UI (auto|on|off)")
	checkCmd.Flags().Bool("watch", false, "stay running and re-check affected documents on change")
	checkCmd.Flags().Bool("fullpath", false, "emit absolute file paths in output")
}

func runCheck(cmd *cobra.Command, args []string) error {
	cleanup, err := setupTracing(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	jobs, err := cmd.Flags().GetInt("jobs")
	if err != nil {
		return fmt.Errorf("failed to get jobs flag: %w", err)
	}
	format, err := cmd.Flags().GetString("format")
	if err != nil {
		return fmt.Errorf("failed to get format flag: %w", err)
	}
	if format != "text" && format != "json" {
		return fmt.Errorf("unknown format: %s", format)
	}
	uiFlag, err := cmd.Flags().GetString("ui")
	if err != nil {
		return fmt.Errorf("failed to get ui flag: %w", err)
	}
	mode, err := readUIMode(uiFlag)
	if err != nil {
		return err
	}
	watchFlag, err := cmd.Flags().GetBool("watch")
	if err != nil {
		return fmt.Errorf("failed to get watch flag: %w", err)
	}
	fullPath, err := cmd.Flags().GetBool("fullpath")
	if err != nil {
		return fmt.Errorf("failed to get fullpath flag: %w", err)
	}

	root, err := project.ResolveRoot("")
	if err != nil {
		return fmt.Errorf("resolve workspace root: %w", err)
	}
	lg := stderrLogger(cmd)
	manifest, err := project.LoadAt(root)
	if err != nil {
		lg.Warn("load manifest", "root", root, "err", err)
		manifest = project.Default()
	}
	entries, err := check.DiscoverEntries(root, manifest, args)
	if err != nil {
		return err
	}

	cfg := check.Config{
		Root:     root,
		Encoding: overlay.EncodingUTF8,
		Factory:  vellumc.New,
		Jobs:     jobs,
		Logger:   lg,
		Tracer:   trace.FromContext(cmd.Context()),
	}

	pathMode := diagfmt.PathModeAuto
	if fullPath {
		pathMode = diagfmt.PathModeAbsolute
	}
	report := func(results []check.Result) error {
		if format == "json" {
			return diagfmt.JSON(os.Stdout, check.AllDiagnostics(results), diagfmt.JSONOpts{
				PathMode: pathMode,
				Root:     root,
			})
		}
		check.Report(os.Stdout, results, diagfmt.PrettyOpts{
			Color:    useColor(cmd),
			PathMode: pathMode,
			Root:     root,
		})
		return nil
	}

	// The TUI owns stdout while it runs, so it is off for machine-readable
	// output and for the long-running watch loop.
	var results []check.Result
	if shouldUseTUI(mode) && format == "text" && !watchFlag {
		title := fmt.Sprintf("checking %d %s", len(entries), plural(len(entries), "document", "documents"))
		results, err = runCheckWithUI(cmd.Context(), title, entries, cfg)
	} else {
		results, err = cfg.Run(cmd.Context(), entries)
	}
	if err != nil {
		return err
	}
	if err := report(results); err != nil {
		return err
	}

	if watchFlag {
		return runCheckWatch(cmd, cfg, root, manifest, args, results, report)
	}

	if check.HasErrors(results) {
		cmd.SilenceErrors = true
		return fmt.Errorf("") // diagnostics already printed
	}
	return nil
}

// runCheckWatch re-checks entries whose dependency closure intersects each
// batch of changed files. A manifest edit recomputes the entry set and
// re-checks everything.
func runCheckWatch(cmd *cobra.Command, cfg check.Config, root string, manifest project.Manifest, args []string, results []check.Result, report func([]check.Result) error) error {
	lg := cfg.Logger
	w, err := watch.New(watch.Config{
		Root: root,
		Match: func(p string) bool {
			return strings.HasSuffix(p, ".vlm") || filepath.Base(p) == project.ManifestName
		},
		Logger: lg,
	})
	if err != nil {
		return err
	}
	batches, err := w.Start()
	if err != nil {
		_ = w.Stop()
		return err
	}
	defer func() { _ = w.Stop() }()

	fmt.Fprintf(os.Stderr, "watching %s\n", root)

	prev := make(map[string]check.Result, len(results))
	for _, r := range results {
		prev[r.Entry] = r
	}

	ctx := cmd.Context()
	for {
		var batch []string
		select {
		case <-ctx.Done():
			return nil
		case b, ok := <-batches:
			if !ok {
				return nil
			}
			batch = b
		}

		manifestChanged := false
		for _, p := range batch {
			if filepath.Base(p) == project.ManifestName {
				manifestChanged = true
				break
			}
		}
		if manifestChanged {
			m, err := project.LoadAt(root)
			if err != nil {
				lg.Warn("reload manifest", "root", root, "err", err)
			} else {
				manifest = m
			}
		}

		entries, err := check.DiscoverEntries(root, manifest, args)
		if err != nil {
			lg.Warn("discover entries", "err", err)
			continue
		}

		stale := make(map[string]struct{}, len(entries))
		if manifestChanged {
			for _, e := range entries {
				stale[e] = struct{}{}
			}
		} else {
			for _, e := range check.Affected(results, batch) {
				stale[e] = struct{}{}
			}
			for _, e := range entries {
				if _, known := prev[e]; !known {
					stale[e] = struct{}{}
				}
			}
		}
		targets := make([]string, 0, len(stale))
		for _, e := range entries {
			if _, ok := stale[e]; ok {
				targets = append(targets, e)
			}
		}
		if len(targets) == 0 {
			continue
		}

		fresh, err := cfg.Run(ctx, targets)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			lg.Warn("check", "err", err)
			continue
		}
		for _, r := range fresh {
			prev[r.Entry] = r
		}
		results = results[:0]
		for _, e := range entries {
			if r, ok := prev[e]; ok {
				results = append(results, r)
			}
		}

		fmt.Fprintln(os.Stdout)
		if err := report(results); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "watching %s\n", root)
	}
}
