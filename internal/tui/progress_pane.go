package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/jobpipe/internal/events"
)

// ProgressPaneModel shows the schedule's aggregate counts and a bar.
type ProgressPaneModel struct {
	progress events.ScheduleProgressEvent
	width    int
	height   int
	focused  bool
}

// NewProgressPaneModel creates a new progress pane.
func NewProgressPaneModel() ProgressPaneModel {
	return ProgressPaneModel{}
}

// Update handles messages for the progress pane.
func (m ProgressPaneModel) Update(msg tea.Msg) (ProgressPaneModel, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case events.ScheduleProgressEvent:
		m.progress = msg
	}

	return m, nil
}

// Done reports whether the last progress update saw every node terminal.
func (m ProgressPaneModel) Done() bool {
	return m.progress.Done
}

// View renders the progress pane.
func (m ProgressPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	p := m.progress
	var b strings.Builder

	title := StyleTitle.Render("Schedule " + p.Schedule)
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", lipgloss.Width(title)))
	b.WriteString("\n\n")

	fmt.Fprintf(&b, "Total:    %d\n", p.Total)
	fmt.Fprintf(&b, "Finished: %s\n", StyleStatusComplete.Render(fmt.Sprint(p.Finished)))
	fmt.Fprintf(&b, "Skipped:  %s\n", StyleStatusSkipped.Render(fmt.Sprint(p.Skipped)))
	fmt.Fprintf(&b, "Running:  %s\n", StyleStatusRunning.Render(fmt.Sprint(p.Running)))
	fmt.Fprintf(&b, "Failed:   %s\n", StyleStatusFailed.Render(fmt.Sprint(p.Failed)))
	fmt.Fprintf(&b, "Pending:  %s\n\n", StyleStatusPending.Render(fmt.Sprint(p.Pending)))

	if p.Total > 0 {
		barWidth := min(m.width-16, 50)
		doneWidth := ((p.Finished + p.Skipped) * barWidth) / p.Total
		failedWidth := (p.Failed * barWidth) / p.Total
		runningWidth := (p.Running * barWidth) / p.Total
		pendingWidth := barWidth - doneWidth - failedWidth - runningWidth

		bar := StyleStatusComplete.Render(strings.Repeat("=", max(0, doneWidth)))
		bar += StyleStatusFailed.Render(strings.Repeat("!", max(0, failedWidth)))
		bar += StyleStatusRunning.Render(strings.Repeat("-", max(0, runningWidth)))
		bar += StyleStatusPending.Render(strings.Repeat(".", max(0, pendingWidth)))

		fmt.Fprintf(&b, "[%s]  %d/%d\n", bar, p.Finished+p.Skipped+p.Failed, p.Total)
	}
	if p.Done {
		b.WriteString("\n")
		if p.Failed > 0 {
			b.WriteString(StyleStatusFailed.Render("done with failures"))
		} else {
			b.WriteString(StyleStatusComplete.Render("done"))
		}
	}

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}
	return style.Width(m.width - 2).Height(m.height - 2).Render(b.String())
}

// SetSize updates the pane dimensions.
func (m *ProgressPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
}

// SetFocused updates the focus state.
func (m *ProgressPaneModel) SetFocused(focused bool) {
	m.focused = focused
}
