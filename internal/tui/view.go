package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/tOgg1/linksync/internal/models"
	"github.com/tOgg1/linksync/internal/tui/components"
)

// Rows used by header, footer, compose bar and status line.
const chromeRows = 5

func (m model) View() string {
	if m.quitting {
		return ""
	}

	width := m.effectiveWidth()
	parts := []string{m.renderHeader(width)}

	switch m.mode {
	case modeSignIn:
		parts = append(parts, m.renderSignIn(width))
	case modeAccounts:
		parts = append(parts, m.renderAccounts(width))
	case modeHelp:
		parts = append(parts, m.renderHelp(width))
	default:
		parts = append(parts, m.renderTimeline(width))
		parts = append(parts, m.renderCompose(width))
	}

	if m.statusText != "" {
		parts = append(parts, m.renderStatusLine())
	}
	return strings.Join(parts, "\n")
}

func (m model) renderHeader(width int) string {
	identity := m.state.Identity
	if identity == "" {
		identity = "not signed in"
	}
	left := fmt.Sprintf("linksync  %s", identity)
	right := components.RenderActivityLine(m.styles, m.pulse, m.now())
	if m.busy || m.state.IsFetchingInitial {
		right = components.RenderSpinner(m.styles, m.tick, m.busyLabel()) + "  " + right
	}

	gap := width - lipgloss.Width(left) - lipgloss.Width(right) - 2
	if gap < 1 {
		gap = 1
	}
	return m.styles.Header.Width(width).Render(left + strings.Repeat(" ", gap) + right)
}

func (m model) busyLabel() string {
	if !m.busy {
		return "loading"
	}
	switch m.busyKind {
	case actionSubmit:
		return "sending"
	case actionLoadMore:
		return "loading more"
	case actionReload:
		return "reloading"
	case actionSwitch:
		return "switching"
	case actionSignOut:
		return "signing out"
	case actionSignIn:
		return "signing in"
	default:
		return "working"
	}
}

func (m model) renderTimeline(width int) string {
	rows := m.listHeight()
	lines := make([]string, 0, rows)

	messages := m.state.Messages
	if len(messages) == 0 {
		empty := "No messages yet. Press i to send one."
		switch {
		case m.state.IsFetchingInitial:
			empty = "Loading…"
		case m.state.InitialLoadFailed:
			empty = "Could not load messages. Press r to retry."
		}
		lines = append(lines, m.styles.Muted.Render(empty))
	}

	end := m.offset + rows
	if end > len(messages) {
		end = len(messages)
	}
	for i := m.offset; i < end; i++ {
		lines = append(lines, m.renderMessage(messages[i], i == m.selected, width))
	}

	if len(lines) < rows {
		switch {
		case m.state.IsFetchingMore:
			lines = append(lines, components.RenderSpinner(m.styles, m.tick, "loading older messages"))
		case m.state.HasMore && len(messages) > 0:
			lines = append(lines, m.styles.Muted.Render("m: load older messages"))
		}
	}
	for len(lines) < rows {
		lines = append(lines, "")
	}
	return strings.Join(lines, "\n")
}

func (m model) renderMessage(msg models.Message, selected bool, width int) string {
	prefix := "  "
	if selected {
		prefix = "> "
	}
	stamp := ""
	if m.cfg.ShowTimestamps {
		stamp = msg.CreatedAt.Local().Format("Jan 02 15:04") + "  "
	}
	room := width - runewidth.StringWidth(prefix) - runewidth.StringWidth(stamp)
	content := truncateText(msg.Content, room)

	if selected {
		return m.styles.Selected.Render(prefix + stamp + content)
	}
	body := m.styles.Text.Render(content)
	if msg.IsURL() {
		body = m.styles.Link.Render(content)
	}
	return prefix + m.styles.Muted.Render(stamp) + body
}

func (m model) renderCompose(width int) string {
	label := m.styles.Muted.Render("i: compose  y: copy  a: accounts  ?: help")
	if m.mode != modeCompose {
		return label
	}
	text := m.compose
	room := width - 4
	if runewidth.StringWidth(text) > room && room > 0 {
		// Show the tail while typing.
		runes := []rune(text)
		for runewidth.StringWidth(string(runes)) > room {
			runes = runes[1:]
		}
		text = string(runes)
	}
	return m.styles.Accent.Render("> ") + text + m.styles.Accent.Render("█")
}

func (m model) renderAccounts(width int) string {
	lines := []string{m.styles.Accent.Render("Accounts"), ""}
	if len(m.state.SavedAccounts) == 0 {
		lines = append(lines, m.styles.Muted.Render("No saved accounts."))
	}
	for i, entry := range m.state.SavedAccounts {
		marker := "  "
		if strings.EqualFold(entry.Identity, m.state.Identity) {
			marker = "* "
		}
		line := marker + truncateText(entry.Identity, width-4)
		if i == m.accountIdx {
			line = m.styles.Selected.Render(line)
		}
		lines = append(lines, line)
	}
	lines = append(lines, "", m.styles.Muted.Render("enter: switch  n: add account  esc: back"))
	return m.styles.Panel.Render(strings.Join(lines, "\n"))
}

func (m model) renderSignIn(width int) string {
	title := "Sign in"
	if m.form.signup {
		title = "Create account"
	}
	field := func(label, value string, focused bool) string {
		line := fmt.Sprintf("%-9s %s", label, value)
		if focused {
			return m.styles.Accent.Render("> ") + line + m.styles.Accent.Render("█")
		}
		return "  " + line
	}

	lines := []string{
		m.styles.Accent.Render(title),
		"",
		field("Email", m.form.email, m.form.field == 0),
		field("Password", strings.Repeat("•", len([]rune(m.form.password))), m.form.field == 1),
	}
	if m.form.err != "" {
		lines = append(lines, "", m.styles.Error.Render(m.form.err))
	}
	lines = append(lines, "", m.styles.Muted.Render("tab: next field  enter: submit  ctrl+t: sign in/up  esc: back"))
	return m.styles.Panel.Width(minInt(width-2, 60)).Render(strings.Join(lines, "\n"))
}

func (m model) renderHelp(width int) string {
	keys := [][2]string{
		{"j/k", "move selection"},
		{"g/G", "newest / oldest loaded"},
		{"m", "load older messages"},
		{"r", "reload newest messages"},
		{"i, enter", "compose a message"},
		{"y, c", "copy selected message"},
		{"a", "saved accounts"},
		{"s", "sign in to another account"},
		{"o", "sign out"},
		{"q, ctrl+c", "quit"},
	}
	lines := []string{m.styles.Accent.Render("Keys"), ""}
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("%-10s %s", k[0], k[1]))
	}
	return m.styles.Panel.Width(minInt(width-2, 50)).Render(strings.Join(lines, "\n"))
}

func (m model) renderStatusLine() string {
	switch m.statusKind {
	case statusErr:
		return m.styles.Error.Render(m.statusText)
	case statusOK:
		return m.styles.Success.Render(m.statusText)
	default:
		return m.styles.Muted.Render(m.statusText)
	}
}

func (m model) listHeight() int {
	rows := m.effectiveHeight() - chromeRows
	if rows < 1 {
		rows = 1
	}
	return rows
}

func (m model) effectiveWidth() int {
	if m.width < minWindowWidth {
		return minWindowWidth
	}
	return m.width
}

func (m model) effectiveHeight() int {
	if m.height < minWindowHeight {
		return minWindowHeight
	}
	return m.height
}

func truncateText(value string, width int) string {
	value = strings.Join(strings.Fields(value), " ")
	if width <= 0 || runewidth.StringWidth(value) <= width {
		return value
	}
	return runewidth.Truncate(value, width, "…")
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
