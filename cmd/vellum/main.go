package main

import (
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"vellum/internal/log"
	"vellum/internal/version"
)

var rootCmd = &cobra.Command{
	Use:   "vellum",
	Short: "Vellum document toolchain and language server",
	Long:  `Vellum checks, exports and serves .vlm documents: batch diagnostics, one-shot compiles and an LSP server over stdio`,
}

func main() {
	rootCmd.Version = version.Version

	rootCmd.AddCommand(lspCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(compileCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)

	rootCmd.PersistentFlags().String("color", "auto", "colorize output (auto|on|off)")
	rootCmd.PersistentFlags().Bool("quiet", false, "suppress non-essential output")
	rootCmd.PersistentFlags().String("trace", "", "trace output path (- for stderr)")
	rootCmd.PersistentFlags().String("trace-level", "off", "trace level (off|phase|detail|debug)")
	rootCmd.PersistentFlags().String("trace-mode", "stream", "trace storage mode (stream|ring|both)")
	rootCmd.PersistentFlags().Int("trace-ring-size", 4096, "trace ring capacity")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// isTerminal reports whether f is attached to a terminal.
func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// useColor resolves the --color flag against the actual output device.
func useColor(cmd *cobra.Command) bool {
	flag, err := cmd.Root().PersistentFlags().GetString("color")
	if err != nil {
		return false
	}
	return flag == "on" || (flag == "auto" && isTerminal(os.Stdout))
}

// stderrLogger builds the command's logger. --quiet raises the threshold to
// errors only.
func stderrLogger(cmd *cobra.Command) *log.Logger {
	quiet, _ := cmd.Root().PersistentFlags().GetBool("quiet")
	if quiet {
		return log.Stderr(log.LevelError)
	}
	return log.Stderr(log.LevelWarn)
}
