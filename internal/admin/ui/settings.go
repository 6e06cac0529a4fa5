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
	"github.com/notepid/levelbot/internal/settings"
	"github.com/notepid/levelbot/internal/tenant"
)

// settingsModel lists and edits the settings of one tenant, or of the global
// scope.
type settingsModel struct {
	app      *app.App
	tenantID string

	width  int
	height int

	Done bool

	list list.Model
	form *huh.Form
	err  error

	editing bool
	isNew   bool

	key    string
	value  string
	kind   string
	remove bool
	save   bool
}

type settingItem struct {
	key  string
	val  settings.Value
	kind string
}

func (i settingItem) Title() string {
	if i.kind == "add" {
		return "+ Add setting"
	}
	return i.key
}

func (i settingItem) Description() string {
	if i.kind == "add" {
		return "Create a new key"
	}
	return fmt.Sprintf("%s = %s", i.val.Kind(), truncate(i.val.Raw(), 60))
}

func (i settingItem) FilterValue() string { return i.key }

func newSettingsModel(a *app.App, tenantID string) *settingsModel {
	m := &settingsModel{app: a, tenantID: tenantID}
	m.reloadList()
	return m
}

func (m *settingsModel) SetSize(w, h int) {
	m.width, m.height = w, h
	m.list.SetSize(w, h-2)
}

func (m *settingsModel) Update(msg tea.Msg) tea.Cmd {
	if m.err != nil {
		switch msg := msg.(type) {
		case tea.KeyMsg:
			if msg.String() == "esc" || msg.String() == "q" || msg.String() == "enter" {
				m.err = nil
				m.editing = false
				m.form = nil
				m.reloadList()
			}
		}
		return nil
	}

	if msg, ok := msg.(tea.KeyMsg); ok && msg.String() == "esc" {
		if m.editing {
			m.editing = false
			m.form = nil
			return nil
		}
		m.Done = true
		return nil
	}

	if m.editing {
		return m.updateForm(msg)
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	if msg, ok := msg.(tea.KeyMsg); ok {
		switch msg.String() {
		case "q":
			if m.list.FilterState() != list.Filtering {
				m.Done = true
				return nil
			}
		case "enter":
			if it, ok := m.list.SelectedItem().(settingItem); ok {
				m.startEdit(it)
				return nil
			}
		}
	}
	return cmd
}

func (m *settingsModel) startEdit(it settingItem) {
	m.editing = true
	m.isNew = it.kind == "add"
	m.key = it.key
	m.value = it.val.Raw()
	m.kind = string(it.val.Kind())
	if m.isNew {
		m.kind = string(settings.KindString)
	}
	m.remove = false
	m.save = true

	kinds := []huh.Option[string]{
		huh.NewOption("String", string(settings.KindString)),
		huh.NewOption("Number", string(settings.KindNumber)),
		huh.NewOption("Boolean", string(settings.KindBool)),
		huh.NewOption("JSON", string(settings.KindJSON)),
	}

	fields := []huh.Field{}
	if m.isNew {
		fields = append(fields, huh.NewInput().Title("Key").Value(&m.key).Validate(nonEmpty("key")))
	} else {
		fields = append(fields, huh.NewNote().Title("Key").Description(m.key))
	}
	fields = append(fields,
		huh.NewSelect[string]().Title("Type").Options(kinds...).Value(&m.kind),
		huh.NewText().Title("Value").Value(&m.value).Validate(func(s string) error {
			_, err := settings.Parse(settings.Kind(m.kind), s)
			return err
		}),
	)
	confirm := []huh.Field{huh.NewConfirm().Title("Save changes?").Value(&m.save)}
	if !m.isNew {
		confirm = append([]huh.Field{huh.NewConfirm().Title("Delete this setting instead?").Value(&m.remove)}, confirm...)
	}

	m.form = huh.NewForm(huh.NewGroup(fields...), huh.NewGroup(confirm...))
}

func (m *settingsModel) updateForm(msg tea.Msg) tea.Cmd {
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
	key := strings.TrimSpace(m.key)
	switch {
	case m.remove:
		if _, err := m.app.Store.DeleteSetting(ctx, m.tenantID, key); err != nil {
			m.err = err
			return nil
		}
	case m.save:
		v, err := settings.Parse(settings.Kind(m.kind), m.value)
		if err != nil {
			m.err = err
			return nil
		}
		if _, err := m.app.Store.SetSetting(ctx, m.tenantID, key, v); err != nil {
			m.err = err
			return nil
		}
	}
	m.editing = false
	m.form = nil
	m.reloadList()
	return nil
}

func (m *settingsModel) View() string {
	if m.err != nil {
		return fmt.Sprintf("Settings error: %v\n\nPress Enter/Esc to go back.", m.err)
	}
	if m.editing {
		return m.form.View() + "\n\n(esc to go back)"
	}
	return m.list.View() + "\n(q to go back, enter to edit)"
}

func (m *settingsModel) reloadList() {
	rows, err := m.app.Store.Settings.List(context.Background(), m.tenantID)
	if err != nil {
		m.err = err
		return
	}

	items := make([]list.Item, 0, len(rows)+1)
	items = append(items, settingItem{kind: "add"})
	for _, s := range rows {
		items = append(items, settingItem{key: s.Key, val: s.Value, kind: "setting"})
	}

	m.list = list.New(items, list.NewDefaultDelegate(), m.width, m.height-2)
	m.list.SetShowStatusBar(false)
	m.list.SetFilteringEnabled(true)
	m.list.SetShowHelp(true)
	if m.tenantID == tenant.Global {
		m.list.Title = "Global Settings"
	} else {
		m.list.Title = "Settings: " + m.tenantID
	}
}

func nonEmpty(field string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s cannot be empty", field)
		}
		return nil
	}
}

func validIntGreaterThan(field string, min int) func(string) error {
	return func(s string) error {
		v, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return fmt.Errorf("%s must be a number", field)
		}
		if v <= min {
			return fmt.Errorf("%s must be > %d", field, min)
		}
		return nil
	}
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-1]) + "…"
}
