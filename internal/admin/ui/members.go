package ui

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/huh"

	"github.com/notepid/levelbot/internal/admin/app"
	"github.com/notepid/levelbot/internal/user"
)

const membersPageSize = 20

type tenantsModel struct {
	app *app.App

	width  int
	height int

	Done bool

	state tenantsState

	list list.Model
	form *huh.Form
	err  error

	tenantID string
	page     *user.LeaderboardPage
	pageNum  int

	selected *user.Member
	rank     int

	settings *settingsModel

	xpAmount   string
	reason     string
	formSave   bool
	formAction string
}

type tenantsState int

const (
	tenantsStateList tenantsState = iota
	tenantsStateMembers
	tenantsStateDetail
	tenantsStateForm
	tenantsStateSettings
)

type rowItem struct {
	id    string
	title string
	desc  string
	kind  string
}

func (i rowItem) Title() string       { return i.title }
func (i rowItem) Description() string { return i.desc }
func (i rowItem) FilterValue() string { return i.title }

func newTenantsModel(a *app.App) *tenantsModel {
	m := &tenantsModel{app: a, state: tenantsStateList}
	m.reloadTenants()
	return m
}

func (m *tenantsModel) SetSize(w, h int) {
	m.width, m.height = w, h
	m.list.SetSize(w, h-2)
	if m.settings != nil {
		m.settings.SetSize(w, h)
	}
}

func (m *tenantsModel) Update(msg tea.Msg) tea.Cmd {
	if m.err != nil {
		switch msg := msg.(type) {
		case tea.KeyMsg:
			if msg.String() == "esc" || msg.String() == "q" || msg.String() == "enter" {
				m.err = nil
				m.form = nil
				m.back()
			}
		}
		return nil
	}

	if m.state == tenantsStateSettings {
		cmd := m.settings.Update(msg)
		if m.settings.Done {
			m.settings = nil
			m.state = tenantsStateMembers
			m.reloadMembers()
		}
		return cmd
	}

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q":
			if m.state == tenantsStateList && m.list.FilterState() != list.Filtering {
				m.Done = true
				return nil
			}
		case "esc":
			m.back()
			return nil
		}
	}

	switch m.state {
	case tenantsStateList:
		return m.updateTenants(msg)
	case tenantsStateMembers:
		return m.updateMembers(msg)
	case tenantsStateDetail:
		return m.updateDetail(msg)
	case tenantsStateForm:
		return m.updateForm(msg)
	default:
		return nil
	}
}

func (m *tenantsModel) updateTenants(msg tea.Msg) tea.Cmd {
	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)

	if msg, ok := msg.(tea.KeyMsg); ok && msg.String() == "enter" {
		it, ok := m.list.SelectedItem().(rowItem)
		if !ok {
			return cmd
		}
		m.tenantID = it.id
		m.pageNum = 1
		m.state = tenantsStateMembers
		m.reloadMembers()
		return nil
	}
	return cmd
}

func (m *tenantsModel) updateMembers(msg tea.Msg) tea.Cmd {
	if msg, ok := msg.(tea.KeyMsg); ok {
		switch msg.String() {
		case "n", "right":
			if m.page != nil && m.pageNum < m.page.TotalPages {
				m.pageNum++
				m.reloadMembers()
			}
			return nil
		case "p", "left":
			if m.pageNum > 1 {
				m.pageNum--
				m.reloadMembers()
			}
			return nil
		case "s":
			m.settings = newSettingsModel(m.app, m.tenantID)
			m.settings.SetSize(m.width, m.height)
			m.state = tenantsStateSettings
			return nil
		case "enter":
			it, ok := m.list.SelectedItem().(rowItem)
			if !ok {
				return nil
			}
			m.selectMember(it.id)
			return nil
		}
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return cmd
}

func (m *tenantsModel) updateDetail(msg tea.Msg) tea.Cmd {
	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)

	if msg, ok := msg.(tea.KeyMsg); !ok || msg.String() != "enter" {
		return cmd
	}
	it, ok := m.list.SelectedItem().(rowItem)
	if !ok || m.selected == nil {
		return cmd
	}

	ctx := context.Background()
	uid := m.selected.UserID
	var err error
	switch it.kind {
	case "add_xp":
		m.startAddXP()
		return nil
	case "global_blacklist":
		if m.selected.Global != nil && m.selected.Global.Blacklisted {
			err = m.app.Store.Users.ClearGlobalBlacklist(ctx, uid)
		} else {
			m.startGlobalBlacklist()
			return nil
		}
	case "tenant_blacklist":
		err = m.app.Store.Users.SetTenantBlacklist(ctx, uid, m.tenantID, !m.selected.IsBlacklisted)
	case "warn":
		_, err = m.app.Store.Users.AddWarning(ctx, uid, m.tenantID)
	case "reset_warnings":
		err = m.app.Store.Users.ResetWarnings(ctx, uid, m.tenantID)
	case "reset_sacrifice":
		err = m.app.Store.ResetSacrificePending(ctx, uid, m.tenantID)
	case "back":
		m.back()
		return nil
	}
	if err != nil {
		m.err = err
		return nil
	}
	m.selectMember(uid)
	return nil
}

func (m *tenantsModel) updateForm(msg tea.Msg) tea.Cmd {
	if m.form == nil {
		m.err = fmt.Errorf("internal error: form not initialized")
		return nil
	}
	updated, cmd := m.form.Update(msg)
	f, ok := updated.(*huh.Form)
	if !ok {
		m.err = fmt.Errorf("internal error: unexpected form model type")
		return nil
	}
	m.form = f
	if m.form.State != huh.StateCompleted {
		return cmd
	}

	ctx := context.Background()
	if m.formSave && m.selected != nil {
		switch m.formAction {
		case "add_xp":
			amount, _ := strconv.ParseInt(strings.TrimSpace(m.xpAmount), 10, 64)
			if _, err := m.app.Store.AddXP(ctx, m.selected.UserID, m.tenantID, amount); err != nil {
				m.err = err
				return nil
			}
		case "global_blacklist":
			if err := m.app.Store.Users.SetGlobalBlacklist(ctx, m.selected.UserID, strings.TrimSpace(m.reason), "admin console"); err != nil {
				m.err = err
				return nil
			}
		}
	}
	m.form = nil
	m.selectMember(m.selected.UserID)
	return nil
}

func (m *tenantsModel) View() string {
	if m.err != nil {
		return fmt.Sprintf("Tenants error: %v\n\nPress Enter/Esc to go back.", m.err)
	}

	switch m.state {
	case tenantsStateList:
		return m.list.View() + "\n(q to quit, enter to open leaderboard)"
	case tenantsStateMembers:
		footer := "\n(n/p to page, s for tenant settings, esc to go back)"
		if m.page != nil {
			footer = dimStyle.Render(fmt.Sprintf("\npage %d/%d, %d members", m.pageNum, max(m.page.TotalPages, 1), m.page.TotalUsers)) + footer
		}
		return m.list.View() + footer
	case tenantsStateDetail:
		if m.selected == nil {
			return "No member selected\n\n(esc to go back)"
		}
		return m.memberHeader() + m.list.View() + "\n(esc to go back)"
	case tenantsStateSettings:
		return m.settings.View()
	default:
		return m.form.View() + "\n\n(esc to go back)"
	}
}

func (m *tenantsModel) memberHeader() string {
	u := m.selected
	engine := m.app.Store.Engine

	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("%s in %s", u.DisplayName(), m.tenantID)))
	b.WriteString("\n")
	fmt.Fprintf(&b, "Rank #%d, level %d/%d, %s xp (%s to next)\n",
		m.rank, u.Level, engine.MaxLevel(), formatXP(u.XP), formatXP(engine.XPToNextLevel(u.XP)))
	fmt.Fprintf(&b, "Sacrifices: %d", u.Sacrifices)
	if u.SacrificePending {
		b.WriteString(" (confirmation pending)")
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "Warnings: %d, blacklisted here: %v", u.WarningCount, u.IsBlacklisted)
	if u.Global != nil && u.Global.Blacklisted {
		fmt.Fprintf(&b, ", globally blacklisted: %s", u.Global.BlacklistReason)
	}
	b.WriteString("\n")
	if u.BannerURL != nil {
		fmt.Fprintf(&b, "Banner: %s\n", *u.BannerURL)
	}
	if u.AvatarURL != nil {
		fmt.Fprintf(&b, "Avatar: %s\n", *u.AvatarURL)
	}
	b.WriteString("\n")
	return b.String()
}

func (m *tenantsModel) reloadTenants() {
	tenants, err := m.app.Store.Tenants.List(context.Background())
	if err != nil {
		m.err = err
		return
	}

	items := make([]list.Item, 0, len(tenants))
	for _, t := range tenants {
		desc := "provisioned " + t.ProvisionedAt.Local().Format("2006-01-02 15:04")
		items = append(items, rowItem{id: t.ID, title: t.ID, desc: desc, kind: "tenant"})
	}

	m.list = list.New(items, list.NewDefaultDelegate(), m.width, m.height-2)
	m.list.SetShowStatusBar(false)
	m.list.SetFilteringEnabled(true)
	m.list.SetShowHelp(true)
	m.list.Title = "Tenants"
}

func (m *tenantsModel) reloadMembers() {
	page, err := m.app.Store.Leaderboard(context.Background(), m.tenantID, m.pageNum, membersPageSize)
	if err != nil {
		m.err = err
		return
	}
	m.page = page

	items := make([]list.Item, 0, len(page.Entries))
	for _, e := range page.Entries {
		desc := fmt.Sprintf("level %d • %s xp • %d sacrifices", e.Level, formatXP(e.XP), e.Sacrifices)
		title := fmt.Sprintf("#%d %s", e.Position, e.DisplayName)
		items = append(items, rowItem{id: e.UserID, title: title, desc: desc, kind: "member"})
	}

	m.list = list.New(items, list.NewDefaultDelegate(), m.width, m.height-3)
	m.list.SetShowStatusBar(false)
	m.list.SetFilteringEnabled(false)
	m.list.SetShowHelp(true)
	m.list.Title = "Leaderboard: " + m.tenantID
}

func (m *tenantsModel) selectMember(userID string) {
	ctx := context.Background()
	u, err := m.app.Store.GetUser(ctx, userID, m.tenantID)
	if err != nil {
		m.err = err
		return
	}
	rank, err := m.app.Store.Rank(ctx, userID, m.tenantID)
	if err != nil {
		m.err = err
		return
	}
	m.selected = u
	m.rank = rank
	m.state = tenantsStateDetail
	m.list = newActionList(m.width, m.height, u)
}

func newActionList(w, h int, u *user.Member) list.Model {
	tenantBlacklist := "Blacklist in tenant"
	if u.IsBlacklisted {
		tenantBlacklist = "Lift tenant blacklist"
	}
	globalBlacklist := "Blacklist everywhere"
	if u.Global != nil && u.Global.Blacklisted {
		globalBlacklist = "Lift global blacklist"
	}

	items := []list.Item{
		rowItem{title: "Add XP", desc: "Award XP and recompute the level", kind: "add_xp"},
		rowItem{title: tenantBlacklist, desc: "Toggle the tenant-scoped flag", kind: "tenant_blacklist"},
		rowItem{title: globalBlacklist, desc: "Applies to every tenant", kind: "global_blacklist"},
		rowItem{title: "Warn", desc: "Increment the warning count", kind: "warn"},
		rowItem{title: "Reset warnings", desc: "Set the warning count to zero", kind: "reset_warnings"},
		rowItem{title: "Cancel sacrifice", desc: "Clear a pending sacrifice confirmation", kind: "reset_sacrifice"},
		rowItem{title: "Back", desc: "Return to the leaderboard", kind: "back"},
	}
	l := list.New(items, list.NewDefaultDelegate(), w, h-10)
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(false)
	l.SetShowHelp(true)
	return l
}

func (m *tenantsModel) startAddXP() {
	m.state = tenantsStateForm
	m.formAction = "add_xp"
	m.xpAmount = ""
	m.formSave = true
	m.form = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().Title("XP to add").Value(&m.xpAmount).Validate(validIntGreaterThan("xp", 0)),
		),
		huh.NewGroup(
			huh.NewConfirm().Title("Award XP?").Value(&m.formSave),
		),
	)
}

func (m *tenantsModel) startGlobalBlacklist() {
	m.state = tenantsStateForm
	m.formAction = "global_blacklist"
	m.reason = ""
	m.formSave = true
	m.form = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().Title("Reason").Value(&m.reason).Validate(nonEmpty("reason")),
		),
		huh.NewGroup(
			huh.NewConfirm().Title("Blacklist in every tenant?").Value(&m.formSave),
		),
	)
}

func (m *tenantsModel) back() {
	switch m.state {
	case tenantsStateList:
		m.Done = true
	case tenantsStateMembers:
		m.state = tenantsStateList
		m.tenantID = ""
		m.page = nil
		m.reloadTenants()
	case tenantsStateDetail:
		m.state = tenantsStateMembers
		m.selected = nil
		m.reloadMembers()
	default:
		m.form = nil
		if m.selected != nil {
			m.selectMember(m.selected.UserID)
			return
		}
		m.state = tenantsStateMembers
		m.reloadMembers()
	}
}
