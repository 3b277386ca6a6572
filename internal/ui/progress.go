package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"vellum/internal/check"
	"vellum/internal/diagfmt"
)

type progressModel struct {
	title   string
	events  <-chan check.Event
	spinner spinner.Model
	prog    progress.Model
	items   []entryItem
	index   map[string]int
	width   int
	done    bool
}

type entryItem struct {
	path   string
	status check.Status
	counts diagfmt.Counts
	err    error
}

type eventMsg check.Event
type doneMsg struct{}

// NewProgressModel returns a Bubble Tea model that renders check progress
// for the given entries. It quits when the event channel closes.
func NewProgressModel(title string, entries []string, events <-chan check.Event) tea.Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))

	prog := progress.New(progress.WithDefaultGradient())
	prog.Width = 76 // Default width

	items := make([]entryItem, 0, len(entries))
	index := make(map[string]int, len(entries))
	for i, entry := range entries {
		items = append(items, entryItem{path: entry, status: check.StatusQueued})
		index[entry] = i
	}
	return &progressModel{
		title:   title,
		events:  events,
		spinner: sp,
		prog:    prog,
		items:   items,
		index:   index,
		width:   80,
	}
}

func (m *progressModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.listenForEvent())
}

func (m *progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case eventMsg:
		cmd := m.applyEvent(check.Event(msg))
		return m, tea.Batch(cmd, m.listenForEvent())
	case doneMsg:
		m.done = true
		return m, tea.Quit
	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case tea.WindowSizeMsg:
		if msg.Width > 0 {
			m.width = msg.Width
			m.prog.Width = msg.Width - 4
		}
		return m, nil
	case progress.FrameMsg:
		pm, cmd := m.prog.Update(msg)
		m.prog = pm.(progress.Model)
		return m, cmd
	}
	return m, nil
}

func (m *progressModel) View() string {
	if len(m.items) == 0 {
		return ""
	}
	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("7"))
	header := m.title
	if m.done {
		header = fmt.Sprintf("done: %s", header)
	} else {
		header = fmt.Sprintf("%s %s", m.spinner.View(), header)
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(header))
	b.WriteString("\n\n")

	statusWidth := 12
	nameWidth := m.width - statusWidth - 4
	if nameWidth < 20 {
		nameWidth = 20
	}

	for _, item := range m.items {
		status := styleItem(item).Render(fmt.Sprintf("%12s", item.status))
		b.WriteString(fmt.Sprintf("  %s %s%s", status, truncate(item.path, nameWidth), itemSuffix(item)))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	if m.done {
		b.WriteString(m.prog.ViewAs(1.0))
	} else {
		b.WriteString(m.prog.View())
	}
	b.WriteString("\n")

	return b.String()
}

func (m *progressModel) listenForEvent() tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-m.events
		if !ok {
			return doneMsg{}
		}
		return eventMsg(ev)
	}
}

func (m *progressModel) applyEvent(ev check.Event) tea.Cmd {
	idx, ok := m.index[ev.Entry]
	if !ok {
		return nil
	}
	m.items[idx].status = ev.Status
	m.items[idx].counts = ev.Counts
	m.items[idx].err = ev.Err

	finished := 0
	for _, item := range m.items {
		if item.status == check.StatusDone || item.status == check.StatusFailed {
			finished++
		}
	}
	return m.prog.SetPercent(float64(finished) / float64(len(m.items)))
}

var dimStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))

func itemSuffix(item entryItem) string {
	switch item.status {
	case check.StatusFailed:
		if item.err != nil {
			return dimStyle.Render(fmt.Sprintf("  %v", item.err))
		}
	case check.StatusDone:
		if item.counts.Errors > 0 || item.counts.Warnings > 0 {
			return dimStyle.Render(fmt.Sprintf("  %d errors, %d warnings", item.counts.Errors, item.counts.Warnings))
		}
	}
	return ""
}

func styleItem(item entryItem) lipgloss.Style {
	switch item.status {
	case check.StatusDone:
		if item.counts.Errors > 0 {
			return lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
		}
		if item.counts.Warnings > 0 {
			return lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
		}
		return lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	case check.StatusFailed:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	case check.StatusCompiling:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	default:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("7"))
	}
}

func truncate(value string, width int) string {
	if width <= 0 {
		return value
	}
	if runewidth.StringWidth(value) <= width {
		return value
	}
	if width <= 3 {
		return runewidth.Truncate(value, width, "")
	}
	return runewidth.Truncate(value, width-3, "...")
}
