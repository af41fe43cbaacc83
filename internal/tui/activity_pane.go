package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/aristath/taskloop/internal/board"
	"github.com/aristath/taskloop/internal/events"
)

// maxActivityLines bounds the per-agent activity log kept in memory.
const maxActivityLines = 500

// AgentState is what the activity pane knows about one agent.
type AgentState struct {
	AgentID int64
	Name    string
	Role    board.Role
	Active  bool
	Status  string // "idle", "running", "failed"
	TaskID  int64  // Task being worked on while running
	Output  []string
}

// ActivityPaneModel lists agents and shows the selected agent's activity.
type ActivityPaneModel struct {
	agents      map[int64]*AgentState
	agentOrder  []int64 // Insertion order for display
	selectedIdx int
	viewport    viewport.Model
	width       int
	height      int
	focused     bool
	updateTag   int // For debouncing
}

// NewActivityPaneModel creates a new activity pane.
func NewActivityPaneModel() ActivityPaneModel {
	return ActivityPaneModel{
		agents:   make(map[int64]*AgentState),
		viewport: viewport.New(0, 0),
	}
}

// tickMsg is used for debouncing viewport updates.
type tickMsg struct {
	tag int
}

// SetAgents merges the stored agent list; activity already collected is kept.
func (m *ActivityPaneModel) SetAgents(agents []*board.Agent) {
	for _, a := range agents {
		st := m.agent(a.ID)
		st.Name = a.Name
		st.Role = a.Role
		st.Active = a.Active
	}
	if len(m.agentOrder) > 0 && m.viewport.TotalLineCount() == 0 {
		m.updateViewportContent()
	}
}

func (m *ActivityPaneModel) agent(id int64) *AgentState {
	st, ok := m.agents[id]
	if !ok {
		st = &AgentState{AgentID: id, Name: fmt.Sprintf("agent-%d", id), Status: "idle"}
		m.agents[id] = st
		m.agentOrder = append(m.agentOrder, id)
	}
	return st
}

// log appends a line to the agent's activity. It reports whether the
// selected agent changed.
func (m *ActivityPaneModel) log(agentID int64, at time.Time, format string, args ...any) bool {
	st := m.agent(agentID)
	line := fmt.Sprintf("[%s] ", at.Format("15:04:05")) + fmt.Sprintf(format, args...)
	st.Output = append(st.Output, line)
	if len(st.Output) > maxActivityLines {
		st.Output = st.Output[len(st.Output)-maxActivityLines:]
	}
	return m.getSelectedAgentID() == agentID
}

// Update handles messages for the activity pane.
func (m ActivityPaneModel) Update(msg tea.Msg) (ActivityPaneModel, tea.Cmd) {
	var cmd tea.Cmd
	changed := false

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resizeViewport()

	case tea.KeyMsg:
		if !m.focused {
			break
		}
		switch msg.String() {
		case KeyJ, KeyDown:
			if m.selectedIdx < len(m.agentOrder)-1 {
				m.selectedIdx++
				m.updateViewportContent()
			}
		case KeyK, KeyUp:
			if m.selectedIdx > 0 {
				m.selectedIdx--
				m.updateViewportContent()
			}
		default:
			// Delegate other keys to viewport for scrolling
			m.viewport, cmd = m.viewport.Update(msg)
		}

	case events.TaskClaimedEvent:
		st := m.agent(msg.AgentID)
		st.Status = "running"
		st.TaskID = msg.ID
		changed = m.log(msg.AgentID, msg.Timestamp, "claimed #%d %q for %s", msg.ID, msg.Title, msg.Loop)

	case events.IterationEvent:
		line := fmt.Sprintf("#%d %s %d/%d %s", msg.ID, msg.Loop, msg.Number, msg.Max, msg.Outcome)
		if tail := lastLine(msg.Snippet); tail != "" {
			line += ": " + tail
		}
		changed = m.log(msg.AgentID, msg.Timestamp, "%s", line)

	case events.TaskTransitionEvent:
		st := m.agent(msg.AgentID)
		st.Status = "idle"
		st.TaskID = 0
		line := fmt.Sprintf("#%d %s -> %s", msg.ID, msg.Transition, msg.Status)
		if msg.Escalated {
			line += " (escalated)"
		}
		changed = m.log(msg.AgentID, msg.Timestamp, "%s", line)

	case events.TaskFailedEvent:
		st := m.agent(msg.AgentID)
		st.Status = "failed"
		st.TaskID = 0
		changed = m.log(msg.AgentID, msg.Timestamp, "#%d failed: %v", msg.ID, msg.Err)

	case events.TaskMergedEvent:
		for id, st := range m.agents {
			if st.TaskID != msg.ID {
				continue
			}
			if msg.Merged {
				changed = m.log(id, msg.Timestamp, "#%d merged", msg.ID) || changed
			} else {
				changed = m.log(id, msg.Timestamp, "#%d merge conflict in %s", msg.ID, strings.Join(msg.ConflictFiles, ", ")) || changed
			}
		}

	case tickMsg:
		// Only update if this tick matches the current tag (debouncing)
		if msg.tag == m.updateTag {
			m.updateViewportContent()
		}
	}

	if changed {
		m.updateTag++
		tag := m.updateTag
		return m, tea.Tick(50*time.Millisecond, func(time.Time) tea.Msg {
			return tickMsg{tag: tag}
		})
	}
	return m, cmd
}

// lastLine returns the last non-empty line of a transcript tail, without
// terminal control sequences.
func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(ansi.Strip(s)), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

// View renders the activity pane.
func (m ActivityPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	listWidth := 25
	viewportWidth := m.width - listWidth - 4 // account for borders and padding

	content := lipgloss.JoinHorizontal(
		lipgloss.Top,
		m.renderAgentList(listWidth),
		lipgloss.NewStyle().
			Width(viewportWidth).
			Height(m.height-2).
			Render(m.viewport.View()),
	)

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}
	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(content)
}

// renderAgentList renders the agent list column.
func (m ActivityPaneModel) renderAgentList(width int) string {
	var b strings.Builder

	title := StyleTitle.Render("Agents")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", min(width, lipgloss.Width(title))))
	b.WriteString("\n\n")

	if len(m.agentOrder) == 0 {
		b.WriteString(StyleStatusPending.Render("No agents"))
	}
	for i, id := range m.agentOrder {
		st := m.agents[id]
		line := fmt.Sprintf("%s %s", StatusIcon(st), ansi.Truncate(st.Name, width-3, "…"))
		if i == m.selectedIdx {
			line = StyleSelected.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	return lipgloss.NewStyle().
		Width(width).
		Height(m.height - 2).
		Render(b.String())
}

// StatusIcon returns a styled status indicator for an agent.
func StatusIcon(st *AgentState) string {
	switch {
	case st.Status == "running":
		return StyleStatusRunning.Render("●")
	case st.Status == "failed":
		return StyleStatusFailed.Render("✗")
	case !st.Active:
		return StyleStatusPending.Render("◌")
	default:
		return StyleStatusComplete.Render("○")
	}
}

func (m ActivityPaneModel) getSelectedAgentID() int64 {
	if m.selectedIdx >= 0 && m.selectedIdx < len(m.agentOrder) {
		return m.agentOrder[m.selectedIdx]
	}
	return 0
}

// updateViewportContent shows the selected agent's activity.
func (m *ActivityPaneModel) updateViewportContent() {
	st, ok := m.agents[m.getSelectedAgentID()]
	if !ok || len(st.Output) == 0 {
		m.viewport.SetContent("Waiting for activity...")
		return
	}
	m.viewport.SetContent(strings.Join(st.Output, "\n"))
	// Auto-scroll to bottom
	m.viewport.GotoBottom()
}

func (m *ActivityPaneModel) resizeViewport() {
	m.viewport.Width = max(m.width-25-4, 10)
	m.viewport.Height = max(m.height-4, 5)
}

// SetSize updates the pane dimensions.
func (m *ActivityPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	m.resizeViewport()
}

// SetFocused updates the focus state.
func (m *ActivityPaneModel) SetFocused(focused bool) {
	m.focused = focused
}

// Agent returns the pane's state for an agent, if known.
func (m ActivityPaneModel) Agent(id int64) (*AgentState, bool) {
	st, ok := m.agents[id]
	return st, ok
}
