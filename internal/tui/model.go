package tui

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/taskloop/internal/board"
	"github.com/aristath/taskloop/internal/config"
	"github.com/aristath/taskloop/internal/events"
	"github.com/aristath/taskloop/internal/persistence"
)

// PaneID identifies which pane is focused.
type PaneID int

const (
	PaneBoard PaneID = iota
	PaneActivity
	paneCount
)

// Source is the read side of the task store the board displays.
type Source interface {
	ListTasks(ctx context.Context, filter persistence.TaskFilter) ([]*board.Task, error)
	ListProjects(ctx context.Context) ([]*board.Project, error)
	ListAgents(ctx context.Context) ([]*board.Agent, error)
}

// Options configures the board model.
type Options struct {
	Source            Source
	Events            *events.EventBus // Optional; without it the board only polls
	Config            *config.Config
	GlobalConfigPath  string
	ProjectConfigPath string
	ProjectID         int64         // 0 shows every active project
	RefreshInterval   time.Duration // Default 2s
}

// snapshotMsg carries a fresh read of the store.
type snapshotMsg struct {
	tasks    []*board.Task
	projects []*board.Project
	agents   []*board.Agent
	err      error
}

// refreshTickMsg triggers a periodic store read.
type refreshTickMsg struct{}

// Model is the root Bubble Tea model for the read-only board.
type Model struct {
	boardPane    BoardPaneModel
	activityPane ActivityPaneModel
	settingsPane SettingsPaneModel
	focusedPane  PaneID
	eventSub     <-chan events.Event
	opts         Options
	err          error
	width        int
	height       int
	quitting     bool
	showSettings bool
}

// New creates a new TUI model.
// It subscribes to all events from the event bus using SubscribeAll.
func New(opts Options) Model {
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = 2 * time.Second
	}
	if opts.Config == nil {
		opts.Config = config.DefaultConfig()
	}
	m := Model{
		boardPane:    NewBoardPaneModel(),
		activityPane: NewActivityPaneModel(),
		settingsPane: NewSettingsPaneModel(opts.Config, opts.GlobalConfigPath, opts.ProjectConfigPath),
		focusedPane:  PaneBoard,
		opts:         opts,
	}
	if opts.Events != nil {
		m.eventSub = opts.Events.SubscribeAll(256)
	}
	m.updateFocusStates()
	return m
}

// Init initializes the model and returns the initial command.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{m.refresh(), m.scheduleRefresh()}
	if m.eventSub != nil {
		cmds = append(cmds, waitForEvent(m.eventSub))
	}
	return tea.Batch(cmds...)
}

// waitForEvent returns a command that waits for the next event from the event bus.
func waitForEvent(sub <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-sub
		if !ok {
			return nil // bus closed
		}
		return event
	}
}

// refresh reads the store off the UI goroutine.
func (m Model) refresh() tea.Cmd {
	src := m.opts.Source
	filter := persistence.TaskFilter{ProjectID: m.opts.ProjectID, HideCompletedProjects: m.opts.ProjectID == 0}
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		var msg snapshotMsg
		if msg.tasks, msg.err = src.ListTasks(ctx, filter); msg.err != nil {
			return msg
		}
		if msg.projects, msg.err = src.ListProjects(ctx); msg.err != nil {
			return msg
		}
		msg.agents, msg.err = src.ListAgents(ctx)
		return msg
	}
}

func (m Model) scheduleRefresh() tea.Cmd {
	return tea.Tick(m.opts.RefreshInterval, func(time.Time) tea.Msg {
		return refreshTickMsg{}
	})
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		// If settings panel is open, route all keys to it (modal behavior)
		if m.showSettings {
			if msg.String() == "esc" {
				m.showSettings = false
				m.settingsPane.SetVisible(false)
				return m, nil
			}
			var cmd tea.Cmd
			m.settingsPane, cmd = m.settingsPane.Update(msg)
			// Settings pane closes itself after a save
			if !m.settingsPane.IsVisible() {
				m.showSettings = false
			}
			return m, cmd
		}

		switch msg.String() {
		case KeyQuit, KeyCtrlC:
			m.quitting = true
			return m, tea.Quit

		case KeySettings:
			m.showSettings = true
			m.settingsPane.SetVisible(true)
			cmds = append(cmds, m.settingsPane.Init())

		case KeyRefresh:
			cmds = append(cmds, m.refresh())

		case KeyTab, KeyShiftTab:
			m.focusedPane = (m.focusedPane + 1) % paneCount
			m.updateFocusStates()

		case KeyPane1:
			m.focusedPane = PaneBoard
			m.updateFocusStates()

		case KeyPane2:
			m.focusedPane = PaneActivity
			m.updateFocusStates()

		default:
			// Delegate to focused pane
			var cmd tea.Cmd
			switch m.focusedPane {
			case PaneBoard:
				m.boardPane, cmd = m.boardPane.Update(msg)
			case PaneActivity:
				m.activityPane, cmd = m.activityPane.Update(msg)
			}
			cmds = append(cmds, cmd)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.computeLayout()
		m.settingsPane.SetSize(msg.Width, msg.Height)

	case snapshotMsg:
		m.err = msg.err
		if msg.err == nil {
			m.boardPane.SetSnapshot(msg.tasks, msg.projects)
			m.activityPane.SetAgents(msg.agents)
		}

	case refreshTickMsg:
		cmds = append(cmds, m.refresh(), m.scheduleRefresh())

	case tickMsg:
		var cmd tea.Cmd
		m.activityPane, cmd = m.activityPane.Update(msg)
		cmds = append(cmds, cmd)

	case events.TaskTransitionEvent, events.TaskFailedEvent, events.ProjectStatusEvent:
		// State changed; re-read the board
		var cmd tea.Cmd
		m.activityPane, cmd = m.activityPane.Update(msg)
		cmds = append(cmds, cmd, m.refresh(), waitForEvent(m.eventSub))

	case events.Event:
		var cmd tea.Cmd
		m.activityPane, cmd = m.activityPane.Update(msg)
		cmds = append(cmds, cmd, waitForEvent(m.eventSub))

	default:
		if m.showSettings {
			// Huh drives its own commands (cursor blink, focus)
			var cmd tea.Cmd
			m.settingsPane, cmd = m.settingsPane.Update(msg)
			cmds = append(cmds, cmd)
		}
	}

	return m, tea.Batch(cmds...)
}

// View renders the TUI.
func (m Model) View() string {
	if m.quitting {
		return "Goodbye!\n"
	}

	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	if m.showSettings {
		return m.settingsPane.View()
	}

	footer := HelpView()
	if m.err != nil {
		footer = StyleStatusFailed.Render("refresh failed: "+m.err.Error()) + "  " + footer
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		m.boardPane.View(),
		m.activityPane.View(),
		footer,
	)
}

// computeLayout splits the height between the board (top) and the activity
// pane (bottom).
func (m *Model) computeLayout() {
	availableHeight := m.height - 1 // reserve 1 line for help bar
	boardHeight := (availableHeight * 60) / 100

	m.boardPane.SetSize(m.width, boardHeight)
	m.activityPane.SetSize(m.width, availableHeight-boardHeight)

	m.updateFocusStates()
}

// updateFocusStates updates the focus state of all panes.
func (m *Model) updateFocusStates() {
	m.boardPane.SetFocused(m.focusedPane == PaneBoard)
	m.activityPane.SetFocused(m.focusedPane == PaneActivity)
}
