package ui

import (
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/lipgloss"

	"github.com/five82/tether/internal/lifecycle"
)

// renderHeader renders the status bar: connectivity, queue depth, active
// version and the last sync.
func (m Model) renderHeader() string {
	styles := m.theme.Styles()
	bg := newBgStyle(m.theme.Surface)
	snap := m.snapshot
	now := time.Now()

	parts := []string{bg.Render("tether", styles.Logo)}

	switch {
	case snap.LastUpdated.IsZero():
		parts = append(parts, bg.Render("STARTING", styles.MutedText))
	case snap.IsOffline():
		parts = append(parts, bg.Render("● OFFLINE", styles.DangerText))
	case snap.ConsecutiveFailures > 0:
		parts = append(parts, bg.Render("● UNSTABLE", styles.WarningText.Bold(true)))
	default:
		parts = append(parts, bg.Render("● ONLINE", styles.SuccessText))
	}

	depth := snap.QueueDepth()
	depthStyle := styles.MutedText
	if depth > 0 {
		depthStyle = styles.WarningText.Bold(true)
	}
	parts = append(parts, bg.Render(plural(depth, "pending change"), depthStyle))

	parts = append(parts, bg.Render(versionLabel(snap.Lifecycle), styles.InfoText))

	if m.busy != "" {
		parts = append(parts, bg.Render(m.busy+"…", styles.AccentText))
	}

	if m.width >= LayoutCompactWidth {
		parts = append(parts, bg.Render("synced "+humanizeAge(snap.LastSyncAt, now), styles.FaintText))
		if m.proxyAddr != "" {
			parts = append(parts, bg.Render("http://"+m.proxyAddr, styles.MutedText))
		}
	}

	line := styles.Header.Width(m.width).Render(bg.Join(parts, "  "))
	if banner := m.renderUpdateBanner(styles); banner != "" {
		line += "\n" + banner
	}
	return line
}

func (m Model) renderUpdateBanner(styles Styles) string {
	waiting := m.snapshot.Lifecycle.Waiting
	if waiting == nil {
		return ""
	}
	text := "Version " + waiting.Version + " is ready. Press u to update."
	return styles.Banner.Width(m.width).Render(text)
}

func versionLabel(st lifecycle.Status) string {
	switch {
	case st.Active != nil:
		return "version " + st.Active.Version
	case st.Installing != nil:
		return "installing " + st.Installing.Version
	default:
		return "not installed"
	}
}

// renderCommandBar renders the key hints for the current view.
func (m Model) renderCommandBar() string {
	styles := m.theme.Styles()
	bg := newBgStyle(m.theme.Surface)
	keyStyle := lipgloss.NewStyle().Foreground(lipgloss.Color(m.theme.Warning))

	bindings := m.keys.ShortHelp()
	if m.currentView == ViewLogs {
		bindings = []key.Binding{m.keys.ViewPending, m.keys.ToggleFollow, m.keys.CycleLevel, m.keys.Help, m.keys.Quit}
	}
	parts := make([]string, 0, len(bindings))
	for _, b := range bindings {
		h := b.Help()
		parts = append(parts, bg.Render(h.Key, keyStyle)+bg.Spaces(1)+bg.Render(strings.ToLower(h.Desc), styles.MutedText))
	}
	return styles.Footer.Width(m.width).Render(bg.Join(parts, "  "))
}
