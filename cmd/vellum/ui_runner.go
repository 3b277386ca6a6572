package main

import (
	"context"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"vellum/internal/check"
	"vellum/internal/ui"
)

type checkOutcome struct {
	results []check.Result
	err     error
}

// runCheckWithUI runs the check under the bubbletea progress view. The check
// itself runs on its own goroutine; closing the event channel ends the UI.
func runCheckWithUI(ctx context.Context, title string, entries []string, cfg check.Config) ([]check.Result, error) {
	events := make(chan check.Event, 256)
	outcomeCh := make(chan checkOutcome, 1)

	go func() {
		cfgCopy := cfg
		cfgCopy.Progress = check.ChannelSink{Ch: events}
		res, err := cfgCopy.Run(ctx, entries)
		outcomeCh <- checkOutcome{results: res, err: err}
		close(events)
	}()

	model := ui.NewProgressModel(title, entries, events)
	program := tea.NewProgram(model, tea.WithOutput(os.Stdout))
	_, uiErr := program.Run()
	outcome := <-outcomeCh
	if uiErr != nil {
		return outcome.results, uiErr
	}
	return outcome.results, outcome.err
}
