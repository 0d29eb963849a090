package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/jobpipe/internal/events"
)

// listWidth is the width of the node list column.
const listWidth = 44

// NodeState is what the pane knows about one node.
type NodeState struct {
	Node     string
	TaskID   string
	Code     string
	Failed   bool
	Terminal bool
	Retries  int
	History  []string
	Updated  time.Time
}

// NodePaneModel lists nodes in the order they were first seen and shows the
// transition history of the selected one in a scrollable viewport.
type NodePaneModel struct {
	nodes       map[string]*NodeState
	order       []string
	selectedIdx int
	viewport    viewport.Model
	width       int
	height      int
	focused     bool
	updateTag   int
}

// NewNodePaneModel creates an empty node pane.
func NewNodePaneModel() NodePaneModel {
	return NodePaneModel{
		nodes:    make(map[string]*NodeState),
		viewport: viewport.New(0, 0),
	}
}

// tickMsg debounces viewport refreshes during bursts of transitions.
type tickMsg struct {
	tag int
}

// Update handles messages for the node pane.
func (m NodePaneModel) Update(msg tea.Msg) (NodePaneModel, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.SetSize(msg.Width, msg.Height)

	case tea.KeyMsg:
		if !m.focused {
			break
		}
		switch msg.String() {
		case KeyJ, KeyDown:
			if m.selectedIdx < len(m.order)-1 {
				m.selectedIdx++
				m.updateViewportContent()
			}
		case KeyK, KeyUp:
			if m.selectedIdx > 0 {
				m.selectedIdx--
				m.updateViewportContent()
			}
		case KeyFailed:
			m.selectNextFailed()
		default:
			m.viewport, cmd = m.viewport.Update(msg)
		}

	case events.NodeStatusEvent:
		st, ok := m.nodes[msg.Node]
		if !ok {
			st = &NodeState{Node: msg.Node, TaskID: msg.TaskID}
			m.nodes[msg.Node] = st
			m.order = append(m.order, msg.Node)
			if len(m.order) == 1 {
				m.updateViewportContent()
			}
		}
		st.Code = msg.Code
		st.Failed = msg.Failed
		st.Terminal = msg.Terminal
		st.Retries = msg.Retries
		st.Updated = msg.Timestamp

		line := fmt.Sprintf("%s  %s", msg.Timestamp.Format("15:04:05.000"), msg.Code)
		if msg.Err != nil {
			line += ": " + msg.Err.Error()
		}
		st.History = append(st.History, line)

		if m.selectedNode() == msg.Node {
			m.updateTag++
			tag := m.updateTag
			return m, tea.Tick(50*time.Millisecond, func(time.Time) tea.Msg {
				return tickMsg{tag: tag}
			})
		}

	case tickMsg:
		if msg.tag == m.updateTag {
			m.updateViewportContent()
		}
	}

	return m, cmd
}

// View renders the node pane.
func (m NodePaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	content := lipgloss.JoinHorizontal(
		lipgloss.Top,
		m.renderList(),
		lipgloss.NewStyle().
			Width(max(m.width-listWidth-4, 10)).
			Height(m.height-2).
			Render(m.viewport.View()),
	)

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}
	return style.Width(m.width - 2).Height(m.height - 2).Render(content)
}

func (m NodePaneModel) renderList() string {
	var b strings.Builder

	title := StyleTitle.Render("Nodes")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", lipgloss.Width(title)))
	b.WriteString("\n\n")

	visible := max(m.height-6, 1)
	start := 0
	if m.selectedIdx >= visible {
		start = m.selectedIdx - visible + 1
	}

	if len(m.order) == 0 {
		b.WriteString(StyleStatusPending.Render("Waiting..."))
	}
	for i := start; i < len(m.order) && i < start+visible; i++ {
		st := m.nodes[m.order[i]]
		name := st.Node
		if len(name) > listWidth-4 {
			name = name[:listWidth-7] + "..."
		}
		line := fmt.Sprintf("%s %s", StatusIcon(st), name)
		if i == m.selectedIdx {
			line = StyleSelected.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	return lipgloss.NewStyle().Width(listWidth).Height(m.height - 2).Render(b.String())
}

// StatusIcon returns a styled indicator for a node's current code.
func StatusIcon(st *NodeState) string {
	switch {
	case st.Failed:
		return StyleStatusFailed.Render("✗")
	case st.Code == "SKIPPED":
		return StyleStatusSkipped.Render("↷")
	case st.Terminal:
		return StyleStatusComplete.Render("✓")
	case st.Code == "RUNNING" || st.Code == "RETRY":
		return StyleStatusRunning.Render("●")
	default:
		return StyleStatusPending.Render("○")
	}
}

// Selected returns the state of the selected node, if any.
func (m NodePaneModel) Selected() (*NodeState, bool) {
	st, ok := m.nodes[m.selectedNode()]
	return st, ok
}

// Len returns the number of nodes seen so far.
func (m NodePaneModel) Len() int {
	return len(m.order)
}

func (m NodePaneModel) selectedNode() string {
	if m.selectedIdx >= 0 && m.selectedIdx < len(m.order) {
		return m.order[m.selectedIdx]
	}
	return ""
}

// selectNextFailed moves the selection to the next failed node, wrapping.
func (m *NodePaneModel) selectNextFailed() {
	n := len(m.order)
	for i := 1; i <= n; i++ {
		idx := (m.selectedIdx + i) % n
		if m.nodes[m.order[idx]].Failed {
			m.selectedIdx = idx
			m.updateViewportContent()
			return
		}
	}
}

func (m *NodePaneModel) updateViewportContent() {
	st, ok := m.Selected()
	if !ok {
		m.viewport.SetContent("Waiting for nodes...")
		return
	}
	header := fmt.Sprintf("%s\ntask: %s  retries: %d\n\n", st.Node, st.TaskID, st.Retries)
	m.viewport.SetContent(header + strings.Join(st.History, "\n"))
	m.viewport.GotoBottom()
}

// SetSize updates the pane dimensions.
func (m *NodePaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	m.viewport.Width = max(w-listWidth-4, 10)
	m.viewport.Height = max(h-4, 5)
}

// SetFocused updates the focus state.
func (m *NodePaneModel) SetFocused(focused bool) {
	m.focused = focused
}
