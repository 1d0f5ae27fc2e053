package ui

import (
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Modal is the interface for modal dialogs.
// Update returns the updated modal, a command, and whether the modal should close.
type Modal interface {
	Update(msg tea.KeyMsg, keys keyMap) (Modal, tea.Cmd, bool)
	View(theme Theme, width, height int) string
}

// confirmModal asks a yes/no question before a destructive action.
type confirmModal struct {
	title     string
	body      string
	onConfirm func() tea.Cmd
}

func (c confirmModal) Update(msg tea.KeyMsg, keys keyMap) (Modal, tea.Cmd, bool) {
	switch {
	case key.Matches(msg, keys.Confirm):
		if c.onConfirm == nil {
			return c, nil, true
		}
		return c, c.onConfirm(), true
	case key.Matches(msg, keys.Cancel):
		return c, nil, true
	}
	return c, nil, false
}

func (c confirmModal) View(theme Theme, width, height int) string {
	styles := theme.Styles()
	var b strings.Builder
	b.WriteString(styles.Text.Bold(true).Render(c.title))
	b.WriteString("\n\n")
	b.WriteString(styles.MutedText.Render(c.body))
	b.WriteString("\n\n")
	b.WriteString(styles.WarningText.Render("y") + styles.Text.Render(" confirm   "))
	b.WriteString(styles.WarningText.Render("n/esc") + styles.Text.Render(" cancel"))
	return placeModal(theme, width, height, theme.Danger, b.String())
}

// noteModal prompts for the title of a new note.
type noteModal struct {
	input  textinput.Model
	submit func(title string) tea.Cmd
}

func newNoteModal(submit func(title string) tea.Cmd) noteModal {
	in := textinput.New()
	in.Placeholder = "Note title"
	in.CharLimit = 200
	in.Width = 40
	in.Focus()
	return noteModal{input: in, submit: submit}
}

func (n noteModal) Update(msg tea.KeyMsg, _ keyMap) (Modal, tea.Cmd, bool) {
	switch msg.Type {
	case tea.KeyEsc:
		return n, nil, true
	case tea.KeyEnter:
		title := strings.TrimSpace(n.input.Value())
		if title == "" {
			return n, nil, false
		}
		return n, n.submit(title), true
	}
	var cmd tea.Cmd
	n.input, cmd = n.input.Update(msg)
	return n, cmd, false
}

func (n noteModal) View(theme Theme, width, height int) string {
	styles := theme.Styles()
	var b strings.Builder
	b.WriteString(styles.Text.Bold(true).Render("Quick note"))
	b.WriteString("\n\n")
	b.WriteString(n.input.View())
	b.WriteString("\n\n")
	b.WriteString(styles.FaintText.Render("enter save   esc cancel"))
	return placeModal(theme, width, height, theme.Accent, b.String())
}

// placeModal centers content in a bordered box.
func placeModal(theme Theme, width, height int, border, content string) string {
	box := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(border)).
		Padding(1, 2).
		Width(min(56, max(20, width-4))).
		Render(content)
	return lipgloss.Place(
		width,
		height,
		lipgloss.Center,
		lipgloss.Center,
		box,
		lipgloss.WithWhitespaceChars(" "),
		lipgloss.WithWhitespaceForeground(lipgloss.Color(theme.Background)),
	)
}
