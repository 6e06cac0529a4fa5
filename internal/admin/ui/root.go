package ui

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/notepid/levelbot/internal/admin/app"
	"github.com/notepid/levelbot/internal/tenant"
)

type screen int

const (
	screenHome screen = iota
	screenSettings
	screenTenants
	screenStats
)

type rootModel struct {
	app *app.App

	width  int
	height int

	active screen

	homeList list.Model
	err      error

	settings *settingsModel
	tenants  *tenantsModel
	stats    *statsModel
}

type menuItem struct {
	title string
	desc  string
	to    screen
}

func (m menuItem) Title() string       { return m.title }
func (m menuItem) Description() string { return m.desc }
func (m menuItem) FilterValue() string { return m.title }

var (
	titleStyle = lipgloss.NewStyle().Bold(true)
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))

	numbers = message.NewPrinter(language.English)
)

// formatXP renders xp with thousands separators.
func formatXP(xp int64) string {
	return numbers.Sprintf("%d", xp)
}

func NewRootModel(a *app.App) tea.Model {
	items := []list.Item{
		menuItem{title: "Global Settings", desc: "Settings shared by every tenant", to: screenSettings},
		menuItem{title: "Tenants", desc: "Leaderboards, members and moderation", to: screenTenants},
		menuItem{title: "Statistics", desc: "Process-wide counters", to: screenStats},
		menuItem{title: "Quit", desc: "Exit", to: -1},
	}

	l := list.New(items, list.NewDefaultDelegate(), 0, 0)
	l.Title = fmt.Sprintf("Levelbot Admin (%s)", a.Config.Database.Path)
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(false)
	l.SetShowHelp(true)

	return &rootModel{
		app:      a,
		active:   screenHome,
		homeList: l,
	}
}

func (m *rootModel) Init() tea.Cmd {
	return nil
}

func (m *rootModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.homeList.SetSize(msg.Width, msg.Height-2)
		if m.settings != nil {
			m.settings.SetSize(msg.Width, msg.Height)
		}
		if m.tenants != nil {
			m.tenants.SetSize(msg.Width, msg.Height)
		}
		if m.stats != nil {
			m.stats.SetSize(msg.Width, msg.Height)
		}
		return m, nil
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			return m, tea.Quit
		}
	}

	switch m.active {
	case screenHome:
		return m.updateHome(msg)
	case screenSettings:
		m.activate(screenSettings)
		cmd := m.settings.Update(msg)
		if m.settings.Done {
			m.active = screenHome
			m.settings = nil
		}
		return m, cmd
	case screenTenants:
		m.activate(screenTenants)
		cmd := m.tenants.Update(msg)
		if m.tenants.Done {
			m.active = screenHome
			m.tenants = nil
		}
		return m, cmd
	case screenStats:
		m.activate(screenStats)
		cmd := m.stats.Update(msg)
		if m.stats.Done {
			m.active = screenHome
			m.stats = nil
		}
		return m, cmd
	default:
		return m, nil
	}
}

func (m *rootModel) updateHome(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	m.homeList, cmd = m.homeList.Update(msg)

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "enter":
			if it, ok := m.homeList.SelectedItem().(menuItem); ok {
				if it.to == -1 {
					return m, tea.Quit
				}
				m.activate(it.to)
				return m, nil
			}
		}
	}

	return m, cmd
}

func (m *rootModel) activate(s screen) {
	m.active = s

	switch s {
	case screenSettings:
		if m.settings == nil {
			m.settings = newSettingsModel(m.app, tenant.Global)
			m.settings.SetSize(m.width, m.height)
		}
	case screenTenants:
		if m.tenants == nil {
			m.tenants = newTenantsModel(m.app)
			m.tenants.SetSize(m.width, m.height)
		}
	case screenStats:
		if m.stats == nil {
			m.stats = newStatsModel(m.app)
			m.stats.SetSize(m.width, m.height)
		}
	}
}

func (m *rootModel) View() string {
	if m.err != nil {
		return errStyle.Render("Error: ") + m.err.Error()
	}

	switch m.active {
	case screenHome:
		return m.homeList.View()
	case screenSettings:
		if m.settings == nil {
			return "Loading settings..."
		}
		return m.settings.View()
	case screenTenants:
		if m.tenants == nil {
			return "Loading tenants..."
		}
		return m.tenants.View()
	case screenStats:
		if m.stats == nil {
			return "Loading statistics..."
		}
		return m.stats.View()
	default:
		return titleStyle.Render("Unknown screen") + "\n" + fmt.Sprint(m.active)
	}
}
