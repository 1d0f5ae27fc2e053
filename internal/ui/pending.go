package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/five82/tether/internal/queue"
)

// Pending table column widths.
const (
	colID     = 6
	colAction = 10
	colNote   = 22
	colQueued = 12
)

func (m Model) handlePendingKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	count := len(m.snapshot.Pending)
	if count == 0 {
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.Down):
		if m.selectedRow < count-1 {
			m.selectedRow++
		}
	case key.Matches(msg, m.keys.Up):
		if m.selectedRow > 0 {
			m.selectedRow--
		}
	case key.Matches(msg, m.keys.Top):
		m.selectedRow = 0
	case key.Matches(msg, m.keys.Bottom):
		m.selectedRow = count - 1
	case key.Matches(msg, m.keys.HalfPageDown):
		m.selectedRow = min(count-1, m.selectedRow+m.tableRows()/2)
	case key.Matches(msg, m.keys.HalfPageUp):
		m.selectedRow = max(0, m.selectedRow-m.tableRows()/2)
	case key.Matches(msg, m.keys.Discard):
		return m.confirmDiscard()
	}
	return m, nil
}

func (m Model) confirmDiscard() (tea.Model, tea.Cmd) {
	mut, ok := m.selectedMutation()
	if !ok || m.queue == nil {
		return m, nil
	}
	id := mut.ID
	m.modal = confirmModal{
		title: fmt.Sprintf("Discard pending %s?", mut.Action()),
		body:  describeMutation(mut) + " will never reach the server.",
		onConfirm: func() tea.Cmd {
			return discardPendingCmd(m.ctx, m.queue, id)
		},
	}
	return m, nil
}

func (m Model) selectedMutation() (queue.Mutation, bool) {
	if m.selectedRow < 0 || m.selectedRow >= len(m.snapshot.Pending) {
		return queue.Mutation{}, false
	}
	return m.snapshot.Pending[m.selectedRow], true
}

func (m *Model) clampSelection() {
	n := len(m.snapshot.Pending)
	switch {
	case n == 0:
		m.selectedRow = 0
	case m.selectedRow >= n:
		m.selectedRow = n - 1
	}
}

// tableRows is the number of pending rows that fit on screen.
func (m Model) tableRows() int {
	used := 4 // header, command bar, column titles, rule
	if m.snapshot.Lifecycle.Waiting != nil {
		used++
	}
	used += len(m.toasts)
	return max(1, m.height-used)
}

func (m Model) renderPending() string {
	styles := m.theme.Styles()
	pending := m.snapshot.Pending

	if len(pending) == 0 {
		msg := "No pending changes. Everything is synced."
		if m.snapshot.IsOffline() {
			msg = "No pending changes. Edits made while offline will wait here."
		}
		out := "\n  " + styles.MutedText.Render(msg)
		if err := m.snapshot.LastSyncErr; err != nil {
			out += "\n  " + styles.DangerText.Render("Last sync stopped: "+err.Error())
		}
		return out
	}

	failed := make(map[int64]string, len(m.snapshot.LastSync.Failed))
	for _, f := range m.snapshot.LastSync.Failed {
		if f.Err != nil {
			failed[f.ID] = f.Err.Error()
		} else {
			failed[f.ID] = "failed"
		}
	}

	showQueued := m.width >= LayoutQueuedWidth
	titleWidth := m.width - colID - colAction - colNote - 4
	if showQueued {
		titleWidth -= colQueued + 1
	}
	titleWidth = max(titleWidth, 10)

	var b strings.Builder
	head := padRight("#", colID) + " " + padRight("ACTION", colAction) + " " +
		padRight("NOTE", colNote) + " " + padRight("TITLE", titleWidth)
	if showQueued {
		head += " " + padRight("QUEUED", colQueued)
	}
	b.WriteString(styles.FaintText.Bold(true).Render(head))
	b.WriteString("\n")

	rows := m.tableRows()
	start := 0
	if m.selectedRow >= rows {
		start = m.selectedRow - rows + 1
	}
	end := min(len(pending), start+rows)
	now := time.Now()

	for i := start; i < end; i++ {
		mut := pending[i]
		title := mut.Title()
		if reason, ok := failed[mut.ID]; ok {
			title = "! " + reason
		}
		badge := styles.ActionBadge(mut.Action()).Render(string(mut.Action()))
		cells := padRight(fmt.Sprintf("%d", mut.ID), colID) + " " +
			badge + strings.Repeat(" ", max(0, colAction-len(mut.Action())-2)) + " " +
			padRight(mut.NoteRef(), colNote) + " " +
			padRight(title, titleWidth)
		if showQueued {
			cells += " " + padRight(humanizeAge(mut.CreatedAt, now), colQueued)
		}

		switch {
		case i == m.selectedRow:
			b.WriteString(styles.Selected.Width(m.width).Render(cells))
		case failed[mut.ID] != "":
			b.WriteString(styles.DangerText.UnsetBold().Render(cells))
		default:
			b.WriteString(styles.Text.Render(cells))
		}
		if i < end-1 {
			b.WriteString("\n")
		}
	}
	return b.String()
}

// describeMutation names a pending write for prompts.
func describeMutation(mut queue.Mutation) string {
	switch mut.Action() {
	case queue.ActionCreate:
		return "New note " + quoteTitle(mut.Title())
	case queue.ActionDelete:
		return "Deletion of " + mut.NoteRef()
	default:
		if t := mut.Title(); t != "" {
			return "Edit to " + quoteTitle(t)
		}
		return "Edit to " + mut.NoteRef()
	}
}
