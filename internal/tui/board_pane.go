package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/aristath/taskloop/internal/board"
)

// BoardPaneModel renders tasks in one column per derived status.
type BoardPaneModel struct {
	columns  map[board.Status][]*board.Task
	projects []*board.Project
	selected int // Focused column index into board.Columns
	offset   int // First visible card in the focused column
	width    int
	height   int
	focused  bool
}

// NewBoardPaneModel creates an empty board pane.
func NewBoardPaneModel() BoardPaneModel {
	return BoardPaneModel{columns: make(map[board.Status][]*board.Task)}
}

// GroupByStatus buckets tasks by their derived status, keeping input order.
func GroupByStatus(tasks []*board.Task) map[board.Status][]*board.Task {
	out := make(map[board.Status][]*board.Task, len(board.Columns))
	for _, t := range tasks {
		st := t.Status()
		out[st] = append(out[st], t)
	}
	return out
}

// SetSnapshot replaces the displayed tasks and projects.
func (m *BoardPaneModel) SetSnapshot(tasks []*board.Task, projects []*board.Project) {
	m.columns = GroupByStatus(tasks)
	m.projects = projects
	if n := len(m.columns[m.selectedStatus()]); m.offset >= n {
		m.offset = max(n-1, 0)
	}
}

func (m BoardPaneModel) selectedStatus() board.Status {
	return board.Columns[m.selected]
}

// Update handles messages for the board pane.
func (m BoardPaneModel) Update(msg tea.Msg) (BoardPaneModel, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tea.KeyMsg:
		if !m.focused {
			break
		}
		switch msg.String() {
		case KeyH, KeyLeft:
			if m.selected > 0 {
				m.selected--
				m.offset = 0
			}
		case KeyL, KeyRight:
			if m.selected < len(board.Columns)-1 {
				m.selected++
				m.offset = 0
			}
		case KeyJ, KeyDown:
			if m.offset < len(m.columns[m.selectedStatus()])-1 {
				m.offset++
			}
		case KeyK, KeyUp:
			if m.offset > 0 {
				m.offset--
			}
		}
	}
	return m, nil
}

// View renders the board pane.
func (m BoardPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	summary := m.renderProjects()
	colHeight := m.height - 2 - lipgloss.Height(summary)
	colWidth := max((m.width-2)/len(board.Columns), 8)

	cols := make([]string, 0, len(board.Columns))
	for i, st := range board.Columns {
		offset := 0
		if i == m.selected {
			offset = m.offset
		}
		cols = append(cols, m.renderColumn(st, i == m.selected, offset, colWidth, colHeight))
	}
	content := lipgloss.JoinVertical(lipgloss.Left,
		lipgloss.JoinHorizontal(lipgloss.Top, cols...),
		summary,
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

func (m BoardPaneModel) renderColumn(st board.Status, selected bool, offset, width, height int) string {
	tasks := m.columns[st]

	header := fmt.Sprintf("%s (%d)", strings.ToUpper(strings.ReplaceAll(string(st), "_", " ")), len(tasks))
	if selected && m.focused {
		header = StyleSelected.Render(header)
	} else {
		header = StatusStyle(st).Render(header)
	}

	var b strings.Builder
	b.WriteString(header)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("─", max(width-1, 1)))
	b.WriteString("\n")

	room := max(height-3, 1)
	visible := tasks[min(offset, len(tasks)):]
	for i, t := range visible {
		if i == room-1 && len(visible) > room {
			b.WriteString(StyleStatusPending.Render(fmt.Sprintf("+%d more", len(visible)-i)))
			break
		}
		b.WriteString(ansi.Truncate(cardLine(t), width-1, "…"))
		b.WriteString("\n")
	}

	return lipgloss.NewStyle().Width(width).Height(height).Render(b.String())
}

// cardLine is the one-line summary of a task on the board.
func cardLine(t *board.Task) string {
	line := fmt.Sprintf("#%d %s", t.ID, t.Title)
	if t.ReviewCount > 0 {
		line += fmt.Sprintf(" ↻%d", t.ReviewCount)
	}
	if t.Status() == board.StatusBacklog && t.DependencyID != nil {
		line += fmt.Sprintf(" ⧗#%d", *t.DependencyID)
	}
	return line
}

// renderProjects draws one progress bar per project.
func (m BoardPaneModel) renderProjects() string {
	if len(m.projects) == 0 {
		return StyleStatusPending.Render("No projects")
	}
	barWidth := min(max(m.width-40, 10), 40)

	var lines []string
	for _, p := range m.projects {
		done := 0
		if p.TotalTasks > 0 {
			done = (p.CompletedTasks * barWidth) / p.TotalTasks
		}
		bar := StyleStatusComplete.Render(strings.Repeat("=", done)) +
			StyleStatusPending.Render(strings.Repeat(".", barWidth-done))
		status := StyleStatusRunning.Render(string(p.Status))
		if p.Status == board.ProjectCompleted {
			status = StyleStatusComplete.Render(string(p.Status))
		}
		name := ansi.Truncate(p.Name, 20, "…")
		lines = append(lines, fmt.Sprintf("%-20s [%s] %d/%d %s", name, bar, p.CompletedTasks, p.TotalTasks, status))
	}
	return strings.Join(lines, "\n")
}

// SetSize updates the pane dimensions.
func (m *BoardPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
}

// SetFocused updates the focus state.
func (m *BoardPaneModel) SetFocused(focused bool) {
	m.focused = focused
}
