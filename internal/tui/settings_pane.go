package tui

import (
	"fmt"
	"sort"
	"strconv"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/taskloop/internal/config"
)

// SettingsPaneModel manages the settings form overlay.
type SettingsPaneModel struct {
	form        *huh.Form
	config      *config.Config
	globalPath  string
	projectPath string
	width       int
	height      int
	visible     bool
	saved       bool
	err         error

	// Form field bindings, shared by every copy of the model
	fields *settingsFields
}

// settingsFields holds the values Huh writes into.
type settingsFields struct {
	saveTarget        string
	builderProvider   string
	builderModel      string
	reviewerProvider  string
	reviewerModel     string
	generatorProvider string
	opencodeCommand   string
	claudeCommand     string
	codexCommand      string
	maxBuild          string
	maxReview         string
	maxAttempts       string
}

// NewSettingsPaneModel creates a new settings pane.
func NewSettingsPaneModel(cfg *config.Config, globalPath, projectPath string) SettingsPaneModel {
	m := SettingsPaneModel{
		config:      cfg,
		globalPath:  globalPath,
		projectPath: projectPath,
		visible:     false,
		saved:       false,

		// Initialize form field values from config
		fields: &settingsFields{
			saveTarget:        "project",
			builderProvider:   cfg.Roles["builder"].Provider,
			builderModel:      cfg.Roles["builder"].Model,
			reviewerProvider:  cfg.Roles["reviewer"].Provider,
			reviewerModel:     cfg.Roles["reviewer"].Model,
			generatorProvider: cfg.Roles["generator"].Provider,
			opencodeCommand:   cfg.Providers["opencode"].Command,
			claudeCommand:     cfg.Providers["claude"].Command,
			codexCommand:      cfg.Providers["codex"].Command,
			maxBuild:          strconv.Itoa(cfg.Loop.MaxBuildIterations),
			maxReview:         strconv.Itoa(cfg.Loop.MaxReviewIterations),
			maxAttempts:       strconv.Itoa(cfg.Loop.MaxReviewAttempts),
		},
	}

	m.buildForm()
	return m
}

// buildForm constructs the Huh form with all settings fields.
func (m *SettingsPaneModel) buildForm() {
	providers := m.providerOptions()

	m.form = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Key("saveTarget").
				Title("Save To").
				Options(
					huh.NewOption("Global (~/.taskloop/config.json)", "global"),
					huh.NewOption("Project (.taskloop/config.json)", "project"),
				).
				Value(&m.fields.saveTarget),
		).Title("Save Target"),

		huh.NewGroup(
			huh.NewSelect[string]().
				Key("builderProvider").
				Title("Builder Provider").
				Options(providers...).
				Value(&m.fields.builderProvider),

			huh.NewInput().
				Key("builderModel").
				Title("Builder Model").
				Value(&m.fields.builderModel).
				Placeholder("provider default"),

			huh.NewSelect[string]().
				Key("reviewerProvider").
				Title("Reviewer Provider").
				Options(providers...).
				Value(&m.fields.reviewerProvider),

			huh.NewInput().
				Key("reviewerModel").
				Title("Reviewer Model").
				Value(&m.fields.reviewerModel).
				Placeholder("provider default"),

			huh.NewSelect[string]().
				Key("generatorProvider").
				Title("Generator Provider").
				Options(providers...).
				Value(&m.fields.generatorProvider),
		).Title("Roles"),

		huh.NewGroup(
			huh.NewInput().
				Key("opencodeCommand").
				Title("OpenCode Command").
				Value(&m.fields.opencodeCommand).
				Placeholder("opencode"),

			huh.NewInput().
				Key("claudeCommand").
				Title("Claude Command").
				Value(&m.fields.claudeCommand).
				Placeholder("claude"),

			huh.NewInput().
				Key("codexCommand").
				Title("Codex Command").
				Value(&m.fields.codexCommand).
				Placeholder("codex"),
		).Title("Provider Settings"),

		huh.NewGroup(
			huh.NewInput().
				Key("maxBuild").
				Title("Max Build Iterations").
				Value(&m.fields.maxBuild).
				Validate(positiveInt),

			huh.NewInput().
				Key("maxReview").
				Title("Max Review Iterations").
				Value(&m.fields.maxReview).
				Validate(positiveInt),

			huh.NewInput().
				Key("maxAttempts").
				Title("Review Rejections Before Triage").
				Value(&m.fields.maxAttempts).
				Validate(positiveInt),
		).Title("Loop Budgets"),
	)
}

func (m *SettingsPaneModel) providerOptions() []huh.Option[string] {
	names := make([]string, 0, len(m.config.Providers))
	for name := range m.config.Providers {
		names = append(names, name)
	}
	sort.Strings(names)
	opts := make([]huh.Option[string], 0, len(names))
	for _, name := range names {
		opts = append(opts, huh.NewOption(name, name))
	}
	return opts
}

func positiveInt(s string) error {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return fmt.Errorf("must be a positive number")
	}
	return nil
}

// Init initializes the settings pane.
func (m SettingsPaneModel) Init() tea.Cmd {
	return m.form.Init()
}

// Update handles messages for the settings pane.
func (m SettingsPaneModel) Update(msg tea.Msg) (SettingsPaneModel, tea.Cmd) {
	if !m.visible {
		return m, nil
	}

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "esc":
			// Cancel without saving
			m.visible = false
			m.saved = false
			return m, nil
		}
	}

	// Delegate to form
	form, cmd := m.form.Update(msg)
	if f, ok := form.(*huh.Form); ok {
		m.form = f
	}

	// Check if form is completed
	if m.form.State == huh.StateCompleted {
		// Copy form values back to config
		m.applyFormToConfig()

		// Determine save path
		targetPath := m.globalPath
		if m.fields.saveTarget == "project" {
			targetPath = m.projectPath
		}

		// Save config
		if err := m.config.Validate(); err != nil {
			m.err = err
			m.saved = false
		} else if err := config.Save(m.config, targetPath); err != nil {
			m.err = err
			m.saved = false
		} else {
			m.saved = true
			m.err = nil
		}

		// Hide form after successful save
		if m.saved {
			m.visible = false
		}
	}

	return m, cmd
}

// applyFormToConfig copies form field values back to the config struct.
func (m *SettingsPaneModel) applyFormToConfig() {
	setRole := func(name, provider, model string) {
		role := m.config.Roles[name]
		role.Provider = provider
		role.Model = model
		m.config.Roles[name] = role
	}
	if m.config.Roles == nil {
		m.config.Roles = make(map[string]config.RoleConfig)
	}
	setRole("builder", m.fields.builderProvider, m.fields.builderModel)
	setRole("reviewer", m.fields.reviewerProvider, m.fields.reviewerModel)
	setRole("generator", m.fields.generatorProvider, m.config.Roles["generator"].Model)

	for name, command := range map[string]string{
		"opencode": m.fields.opencodeCommand,
		"claude":   m.fields.claudeCommand,
		"codex":    m.fields.codexCommand,
	} {
		if p, ok := m.config.Providers[name]; ok {
			p.Command = command
			m.config.Providers[name] = p
		}
	}

	// Validated by the form
	m.config.Loop.MaxBuildIterations, _ = strconv.Atoi(m.fields.maxBuild)
	m.config.Loop.MaxReviewIterations, _ = strconv.Atoi(m.fields.maxReview)
	m.config.Loop.MaxReviewAttempts, _ = strconv.Atoi(m.fields.maxAttempts)
}

// View renders the settings pane.
func (m SettingsPaneModel) View() string {
	if !m.visible {
		return ""
	}

	var content string

	// Show saved message if just saved
	if m.saved && m.form.State == huh.StateCompleted {
		content = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10")).
			Bold(true).
			Render("✓ Settings saved successfully!")
	} else if m.err != nil {
		// Show error if save failed
		content = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true).
			Render(fmt.Sprintf("✗ Error saving: %v", m.err))
	} else {
		// Render form
		content = m.form.View()
	}

	// Wrap in styled border
	style := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("62")).
		Padding(1, 2).
		Width(m.width - 4).
		Height(m.height - 4)

	title := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("62")).
		Render("⚙ Settings")

	body := style.Render(content)

	return lipgloss.JoinVertical(lipgloss.Left, title, body)
}

// SetSize updates the dimensions of the settings pane.
func (m *SettingsPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	if m.form != nil {
		m.form.WithWidth(w - 8).WithHeight(h - 8)
	}
}

// SetVisible shows or hides the settings pane.
func (m *SettingsPaneModel) SetVisible(v bool) {
	m.visible = v
	m.saved = false
	m.err = nil

	// Reset form state when showing
	if v && m.form != nil {
		// Rebuild form to reset state
		m.buildForm()
	}
}

// IsVisible returns whether the settings pane is currently visible.
func (m SettingsPaneModel) IsVisible() bool {
	return m.visible
}
