package ui

import (
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/five82/tether/internal/worker"
)

type toastKind int

const (
	toastInfo toastKind = iota
	toastSuccess
	toastWarn
	toastError
)

// toast is a short-lived message shown under the main view.
type toast struct {
	kind    toastKind
	text    string
	expires time.Time
}

// toastForNotice maps a hub notice to a toast. It reports false for notices
// that should not be shown.
func toastForNotice(n worker.Notice, hideSyncFailures bool) (toast, bool) {
	t := toast{text: n.Message}
	switch n.Kind {
	case worker.NoticeSyncFailed:
		if hideSyncFailures {
			return toast{}, false
		}
		t.kind = toastError
	case worker.NoticeOffline:
		t.kind = toastWarn
	case worker.NoticeOnline, worker.NoticeSynced, worker.NoticeActivated:
		t.kind = toastSuccess
	case worker.NoticeUpdateAvailable:
		t.kind = toastInfo
	default:
		return toast{}, false
	}
	if t.text == "" {
		t.text = string(n.Kind)
	}
	return t, true
}

// pushToast adds t, dropping the oldest toast past maxToasts.
func (m *Model) pushToast(t toast) {
	if t.expires.IsZero() {
		t.expires = time.Now().Add(ToastTTL)
	}
	m.toasts = append(m.toasts, t)
	if over := len(m.toasts) - maxToasts; over > 0 {
		m.toasts = append([]toast(nil), m.toasts[over:]...)
	}
}

func (m *Model) pruneToasts(now time.Time) {
	kept := m.toasts[:0]
	for _, t := range m.toasts {
		if now.Before(t.expires) {
			kept = append(kept, t)
		}
	}
	m.toasts = kept
}

func (m Model) renderToasts() string {
	if len(m.toasts) == 0 {
		return ""
	}
	lines := make([]string, 0, len(m.toasts))
	for _, t := range m.toasts {
		color := m.theme.Info
		switch t.kind {
		case toastSuccess:
			color = m.theme.Success
		case toastWarn:
			color = m.theme.Warning
		case toastError:
			color = m.theme.Danger
		}
		style := lipgloss.NewStyle().
			Background(lipgloss.Color(m.theme.SurfaceAlt)).
			Foreground(lipgloss.Color(color)).
			Padding(0, 1)
		lines = append(lines, style.Render(truncate(t.text, max(10, m.width-2))))
	}
	return strings.Join(lines, "\n")
}
