package ui

import (
	"log/slog"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/five82/tether/internal/logtail"
)

// logState holds the daemon log view.
type logState struct {
	viewport viewport.Model
	entries  []logtail.Entry
	minLevel slog.Level
	follow   bool
	err      error
}

func newLogState() logState {
	return logState{
		viewport: viewport.New(0, 0),
		minLevel: slog.LevelInfo,
		follow:   true,
	}
}

type logEntriesMsg struct {
	entries []logtail.Entry
	err     error
}

// levelCycle is the order f steps through.
var levelCycle = []slog.Level{slog.LevelDebug, slog.LevelInfo, slog.LevelWarn, slog.LevelError}

func nextLevel(cur slog.Level) slog.Level {
	for i, l := range levelCycle {
		if l == cur {
			return levelCycle[(i+1)%len(levelCycle)]
		}
	}
	return slog.LevelInfo
}

func (m *Model) resizeLogViewport() {
	m.logState.viewport.Width = m.width
	// header, command bar, log title
	m.logState.viewport.Height = max(1, m.height-3)
	m.logState.render(m.theme.Styles())
}

// refreshLogs reads the daemon log in the background.
func (m Model) refreshLogs() tea.Cmd {
	if m.config == nil {
		return nil
	}
	path := m.config.LogPath()
	minLevel := m.logState.minLevel
	return func() tea.Msg {
		entries, err := logtail.ReadEntries(path, LogFetchLimit, minLevel)
		return logEntriesMsg{entries: entries, err: err}
	}
}

func (m *Model) handleLogEntries(msg logEntriesMsg) {
	m.logState.err = msg.err
	if msg.err == nil {
		m.logState.entries = msg.entries
	}
	m.logState.render(m.theme.Styles())
}

func (m Model) handleLogsKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	vp := &m.logState.viewport
	switch {
	case key.Matches(msg, m.keys.ToggleFollow):
		m.logState.follow = !m.logState.follow
		if m.logState.follow {
			vp.GotoBottom()
		}
		return m, nil
	case key.Matches(msg, m.keys.CycleLevel):
		m.logState.minLevel = nextLevel(m.logState.minLevel)
		return m, m.refreshLogs()
	case key.Matches(msg, m.keys.Top):
		m.logState.follow = false
		vp.GotoTop()
	case key.Matches(msg, m.keys.Bottom):
		vp.GotoBottom()
	case key.Matches(msg, m.keys.Down):
		vp.ScrollDown(1)
	case key.Matches(msg, m.keys.Up):
		m.logState.follow = false
		vp.ScrollUp(1)
	case key.Matches(msg, m.keys.HalfPageDown):
		vp.HalfPageDown()
	case key.Matches(msg, m.keys.HalfPageUp):
		m.logState.follow = false
		vp.HalfPageUp()
	}
	return m, nil
}

// render rebuilds the viewport content from the loaded entries.
func (s *logState) render(styles Styles) {
	if s.err != nil {
		s.viewport.SetContent(styles.DangerText.Render("Could not read log: " + s.err.Error()))
		return
	}
	if len(s.entries) == 0 {
		s.viewport.SetContent(styles.MutedText.Render("No log entries at this level yet."))
		return
	}
	lines := make([]string, 0, len(s.entries))
	for _, e := range s.entries {
		lines = append(lines, formatEntry(e, styles))
	}
	s.viewport.SetContent(strings.Join(lines, "\n"))
	if s.follow {
		s.viewport.GotoBottom()
	}
}

func formatEntry(e logtail.Entry, styles Styles) string {
	if !e.Parsed {
		return styles.Text.Render(e.Raw)
	}
	var b strings.Builder
	if !e.Time.IsZero() {
		b.WriteString(styles.FaintText.Render(e.Time.Format("15:04:05")))
		b.WriteString(" ")
	}
	b.WriteString(levelStyle(e.Level, styles).Render(padRight(e.Level.String(), 5)))
	b.WriteString(" ")
	if e.Component != "" {
		b.WriteString(styles.AccentText.Render("[" + e.Component + "]"))
		b.WriteString(" ")
	}
	b.WriteString(styles.Text.Render(e.Msg))
	for _, a := range e.Attrs {
		b.WriteString(" ")
		b.WriteString(styles.MutedText.Render(a.Key + "="))
		b.WriteString(styles.Text.Render(a.Value))
	}
	return b.String()
}

func levelStyle(l slog.Level, styles Styles) lipgloss.Style {
	switch {
	case l >= slog.LevelError:
		return styles.DangerText
	case l >= slog.LevelWarn:
		return styles.WarningText
	case l >= slog.LevelInfo:
		return styles.InfoText
	default:
		return styles.FaintText
	}
}

func (m Model) renderLogs() string {
	styles := m.theme.Styles()
	title := styles.AccentText.Bold(true).Render("Daemon log")
	title += "  " + styles.MutedText.Render("level ≥ "+m.logState.minLevel.String())
	if m.logState.follow {
		title += "  " + styles.SuccessText.Render("following")
	}
	if m.config != nil {
		title += "  " + styles.FaintText.Render(truncate(m.config.LogPath(), 60))
	}
	return title + "\n" + m.logState.viewport.View()
}
