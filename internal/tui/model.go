// Package tui renders a running schedule in the terminal from the events
// it publishes.
package tui

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/jobpipe/internal/events"
)

// PaneID identifies which pane is focused.
type PaneID int

const (
	PaneNodes PaneID = iota
	PaneProgress
	paneCount
)

// Model is the root Bubble Tea model for the TUI.
type Model struct {
	nodePane     NodePaneModel
	progressPane ProgressPaneModel
	focusedPane  PaneID
	eventSub     <-chan events.Event
	width        int
	height       int
	quitting     bool
	exitOnDone   bool
}

// New creates a TUI model subscribed to every event on bus. With exitOnDone
// the program quits once the schedule reports it is done.
func New(bus *events.EventBus, exitOnDone bool) Model {
	m := Model{
		nodePane:     NewNodePaneModel(),
		progressPane: NewProgressPaneModel(),
		focusedPane:  PaneNodes,
		eventSub:     bus.SubscribeAll(1024),
		exitOnDone:   exitOnDone,
	}
	m.updateFocusStates()
	return m
}

// Init initializes the model and returns the initial command.
func (m Model) Init() tea.Cmd {
	return waitForEvent(m.eventSub)
}

// busClosedMsg is delivered once the event bus is closed.
type busClosedMsg struct{}

// waitForEvent returns a command that waits for the next event from the bus.
func waitForEvent(sub <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-sub
		if !ok {
			return busClosedMsg{}
		}
		return event
	}
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case KeyQuit, KeyCtrlC:
			m.quitting = true
			return m, tea.Quit

		case KeyTab:
			m.focusedPane = (m.focusedPane + 1) % paneCount
			m.updateFocusStates()

		case KeyShiftTab:
			m.focusedPane = (m.focusedPane + paneCount - 1) % paneCount
			m.updateFocusStates()

		case KeyPane1:
			m.focusedPane = PaneNodes
			m.updateFocusStates()

		case KeyPane2:
			m.focusedPane = PaneProgress
			m.updateFocusStates()

		default:
			if m.focusedPane == PaneNodes {
				var cmd tea.Cmd
				m.nodePane, cmd = m.nodePane.Update(msg)
				cmds = append(cmds, cmd)
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.computeLayout()

	case tickMsg:
		var cmd tea.Cmd
		m.nodePane, cmd = m.nodePane.Update(msg)
		cmds = append(cmds, cmd)

	case events.NodeStatusEvent:
		var cmd tea.Cmd
		m.nodePane, cmd = m.nodePane.Update(msg)
		cmds = append(cmds, cmd, waitForEvent(m.eventSub))

	case events.ScheduleProgressEvent:
		m.progressPane, _ = m.progressPane.Update(msg)
		if msg.Done && m.exitOnDone {
			return m, tea.Quit
		}
		cmds = append(cmds, waitForEvent(m.eventSub))

	case busClosedMsg:
		// Nothing more will arrive; keep the last state on screen.
	}

	return m, tea.Batch(cmds...)
}

// View renders the TUI.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	main := lipgloss.JoinHorizontal(lipgloss.Top, m.nodePane.View(), m.progressPane.View())
	return lipgloss.JoinVertical(lipgloss.Left, main, HelpView())
}

// computeLayout splits the screen 65/35 between nodes and progress.
func (m *Model) computeLayout() {
	leftWidth := (m.width * 65) / 100
	availableHeight := m.height - 1

	m.nodePane.SetSize(leftWidth, availableHeight)
	m.progressPane.SetSize(m.width-leftWidth, availableHeight)
	m.updateFocusStates()
}

func (m *Model) updateFocusStates() {
	m.nodePane.SetFocused(m.focusedPane == PaneNodes)
	m.progressPane.SetFocused(m.focusedPane == PaneProgress)
}
