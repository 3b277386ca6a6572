package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"vellum/internal/diagfmt"
	"vellum/internal/engine"
	"vellum/internal/engine/vellumc"
	"vellum/internal/export"
	"vellum/internal/overlay"
	"vellum/internal/project"
	"vellum/internal/trace"
)

var compileCmd = &cobra.Command{
	Use:   "compile [flags] <entry.vlm>",
	Short: "Compile one document and export it",
	Long: `Compile builds a single entry document and writes the export
artifact, honoring the workspace manifest's export configuration. The
artifact path is printed on success.`,
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE:         runCompile,
}

func init() {
	compileCmd.Flags().String("format", "", "export format (pdf|svg|png); defaults to the manifest's first format")
	compileCmd.Flags().Int("page", 0, "page to export for paged formats (0 = first)")
	compileCmd.Flags().String("output", "", "output pattern override ($root, $dir, $name)")
}

func runCompile(cmd *cobra.Command, args []string) error {
	cleanup, err := setupTracing(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	formatFlag, err := cmd.Flags().GetString("format")
	if err != nil {
		return fmt.Errorf("failed to get format flag: %w", err)
	}
	page, err := cmd.Flags().GetInt("page")
	if err != nil {
		return fmt.Errorf("failed to get page flag: %w", err)
	}
	if page < 0 {
		return fmt.Errorf("page %d out of range", page)
	}
	output, err := cmd.Flags().GetString("output")
	if err != nil {
		return fmt.Errorf("failed to get output flag: %w", err)
	}

	entry, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}
	if _, err := os.Stat(entry); err != nil {
		return fmt.Errorf("entry %s: %w", args[0], err)
	}
	root, err := project.ResolveRoot(filepath.Dir(entry))
	if err != nil {
		return err
	}

	lg := stderrLogger(cmd)
	manifest, err := project.LoadAt(root)
	if err != nil {
		lg.Warn("load manifest", "root", root, "err", err)
		manifest = project.Default()
	}

	formatName := formatFlag
	if formatName == "" {
		formatName = "pdf"
		if len(manifest.Export.Formats) > 0 {
			formatName = manifest.Export.Formats[0]
		}
	}
	format, err := engine.ParseFormat(formatName)
	if err != nil {
		return err
	}
	pattern := manifest.Export.Pattern
	if output != "" {
		pattern = output
	}

	eng := vellumc.New(root, overlay.EncodingUTF8)
	if err := eng.SetEntry(entry); err != nil {
		return err
	}
	doc, diags, err := eng.Compile(cmd.Context())
	if err != nil {
		return fmt.Errorf("compile %s: %w", entry, err)
	}

	if len(diags) > 0 {
		diagfmt.Sort(diags)
		diagfmt.Pretty(os.Stdout, diags, diagfmt.PrettyOpts{
			Color:    useColor(cmd),
			PathMode: diagfmt.PathModeAuto,
			Root:     root,
		})
	}
	if diagfmt.Count(diags).Errors > 0 {
		cmd.SilenceErrors = true
		return fmt.Errorf("") // diagnostics already printed
	}
	if doc == nil {
		return fmt.Errorf("compile %s: no document", entry)
	}

	artifact, err := exportOnce(cmd.Context(), eng, doc, export.Config{
		Group:   "cli",
		Root:    root,
		Dir:     manifest.OutputDir(root),
		Pattern: pattern,
		Logger:  lg,
		Tracer:  trace.FromContext(cmd.Context()),
	}, format, page)
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout, artifact)
	return nil
}

// exportOnce drives a one-shot export through an actor so the CLI writes
// artifacts exactly the way the server does.
func exportOnce(ctx context.Context, eng engine.Engine, doc engine.Document, cfg export.Config, format engine.Format, page int) (string, error) {
	cfg.Mode = export.ModeNever
	cfg.Render = func(ctx context.Context, doc engine.Document, f engine.Format, page int) ([]byte, error) {
		return eng.Export(ctx, doc, f, page)
	}

	actorCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	a := export.New(cfg)
	go func() { _ = a.Run(actorCtx) }()

	return a.ExportNow(ctx, doc, format, page)
}
