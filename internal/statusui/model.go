// Package statusui is an optional interactive table over the status
// projection (component C11): a live-updating view of every operation and
// its merge-queue/session state, refreshed on a timer rather than on
// demand like "fm list".
package statusui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/foreman-run/foreman/internal/status"
)

// refreshInterval is how often the model re-polls the status projection.
const refreshInterval = 2 * time.Second

// Fetcher returns the current set of operation views. Supplied by the
// caller, which owns the stores, the tracker, and the session lister.
type Fetcher func() ([]status.View, error)

// Model is the bubbletea model for the status table.
type Model struct {
	fetch Fetcher
	views []status.View
	err   error

	cursor   int
	keys     KeyMap
	help     help.Model
	showHelp bool
	width    int
	height   int
}

// New returns a Model that polls fetch every refreshInterval.
func New(fetch Fetcher) Model {
	return Model{
		fetch: fetch,
		keys:  DefaultKeyMap(),
		help:  help.New(),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.poll(), tick())
}

type refreshMsg struct {
	views []status.View
	err   error
}

type tickMsg time.Time

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) poll() tea.Cmd {
	fetch := m.fetch
	return func() tea.Msg {
		views, err := fetch()
		return refreshMsg{views: views, err: err}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		return m, nil

	case tickMsg:
		return m, tea.Batch(m.poll(), tick())

	case refreshMsg:
		m.err = msg.err
		if msg.err == nil {
			m.views = msg.views
			if m.cursor >= len(m.views) {
				m.cursor = max(0, len(m.views)-1)
			}
		}
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Help):
			m.showHelp = !m.showHelp
		case key.Matches(msg, m.keys.Up):
			if m.cursor > 0 {
				m.cursor--
			}
		case key.Matches(msg, m.keys.Down):
			if m.cursor < len(m.views)-1 {
				m.cursor++
			}
		case key.Matches(msg, m.keys.Top):
			m.cursor = 0
		case key.Matches(msg, m.keys.Bottom):
			m.cursor = max(0, len(m.views)-1)
		}
	}
	return m, nil
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

const (
	colOperation = 24
	colPhase     = 18
	colIcon      = 3
	colSession   = 9
)

var (
	headerStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.AdaptiveColor{Light: "#828c99", Dark: "#6c7680"})
	selectedStyle = lipgloss.NewStyle().Background(lipgloss.AdaptiveColor{Light: "#e7e8e9", Dark: "#273747"})
)

func (m Model) View() string {
	if m.err != nil {
		return fmt.Sprintf("error loading status: %v\n", m.err)
	}

	header := headerStyle.Render(padRight("OPERATION", colOperation) + padRight("PHASE", colPhase) +
		padRight("Q", colIcon) + padRight("SESSION", colSession))

	rows := make([]string, 0, len(m.views))
	for i, v := range m.views {
		session := "down"
		if v.SessionActive {
			session = "up"
		}
		style := lipgloss.NewStyle().Foreground(v.Color)
		line := padRight(v.Operation, colOperation) +
			style.Render(padRight(string(v.DisplayPhase), colPhase)) +
			padRight(v.MergeIcon, colIcon) +
			padRight(session, colSession)
		if i == m.cursor {
			line = selectedStyle.Render(line)
		}
		rows = append(rows, line)
	}

	out := header + "\n"
	for _, r := range rows {
		out += r + "\n"
	}
	if m.showHelp {
		out += m.help.View(m.keys)
	} else {
		out += m.help.ShortHelpView(m.keys.ShortHelp())
	}
	return out
}
