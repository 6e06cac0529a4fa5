package ui

import (
	"context"
	"fmt"
	"math"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/bubbles/list"

	"github.com/notepid/levelbot/internal/admin/app"
	"github.com/notepid/levelbot/internal/settings"
)

type statsModel struct {
	app *app.App

	width  int
	height int

	Done bool

	list list.Model
	err  error
}

func newStatsModel(a *app.App) *statsModel {
	m := &statsModel{app: a}
	m.reload()
	return m
}

func (m *statsModel) SetSize(w, h int) {
	m.width, m.height = w, h
	m.list.SetSize(w, h-2)
}

func (m *statsModel) Update(msg tea.Msg) tea.Cmd {
	if msg, ok := msg.(tea.KeyMsg); ok {
		switch msg.String() {
		case "esc", "q":
			m.Done = true
			return nil
		case "r":
			m.err = nil
			m.reload()
			return nil
		}
	}
	if m.err != nil {
		return nil
	}
	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return cmd
}

func (m *statsModel) View() string {
	if m.err != nil {
		return fmt.Sprintf("Statistics error: %v\n\nPress r to retry, Esc to go back.", m.err)
	}
	return m.list.View() + "\n(r to refresh, esc to go back)"
}

func (m *statsModel) reload() {
	stats, err := m.app.Store.Stats.All(context.Background())
	if err != nil {
		m.err = err
		return
	}

	items := make([]list.Item, 0, len(stats))
	for _, s := range stats {
		desc := fmt.Sprintf("%s • updated %s", formatStat(s.Value), s.UpdatedAt.Local().Format("2006-01-02 15:04:05"))
		items = append(items, rowItem{id: s.Key, title: s.Key, desc: desc, kind: "stat"})
	}

	m.list = list.New(items, list.NewDefaultDelegate(), m.width, m.height-2)
	m.list.SetShowStatusBar(false)
	m.list.SetFilteringEnabled(false)
	m.list.SetShowHelp(true)
	m.list.Title = "Statistics"
}

// formatStat prints whole-number counters with separators and anything else
// as stored.
func formatStat(v settings.Value) string {
	if f, ok := v.Number(); ok && f == math.Trunc(f) && math.Abs(f) < math.MaxInt64 {
		return formatXP(int64(f))
	}
	return truncate(v.Raw(), 60)
}
