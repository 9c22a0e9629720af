// Package tui is the interactive linksync live view.
package tui

import (
	"context"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/tOgg1/linksync/internal/engine"
	"github.com/tOgg1/linksync/internal/models"
	"github.com/tOgg1/linksync/internal/session"
	"github.com/tOgg1/linksync/internal/tui/components"
	"github.com/tOgg1/linksync/internal/tui/styles"
)

const (
	tickInterval     = 150 * time.Millisecond
	defaultStatusTTL = 4 * time.Second

	minWindowWidth  = 40
	minWindowHeight = 10
)

// Engine is the part of the sync engine the live view drives.
type Engine interface {
	Snapshot() engine.State
	Notifications() <-chan engine.Notification
	Submit(ctx context.Context, text string) error
	LoadMore(ctx context.Context) error
	Reload(ctx context.Context) error
	SwitchAccount(ctx context.Context, entry models.CredentialEntry) error
	SignOut(ctx context.Context) error
	SignIn(ctx context.Context, creds models.Credentials) error
	SignUp(ctx context.Context, creds models.Credentials) error
}

// Config controls the live view.
type Config struct {
	Theme          string
	ShowTimestamps bool
}

// Run starts the live view and blocks until the user quits, ctx ends or the
// engine closes.
func Run(ctx context.Context, eng Engine, cfg Config) error {
	program := tea.NewProgram(newModel(ctx, eng, cfg), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := program.Run()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// writeClipboard is swapped out in tests.
var writeClipboard = clipboard.WriteAll

type uiMode int

const (
	modeTimeline uiMode = iota
	modeCompose
	modeAccounts
	modeSignIn
	modeHelp
)

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusErr
)

type actionKind int

const (
	actionSubmit actionKind = iota
	actionLoadMore
	actionReload
	actionSwitch
	actionSignOut
	actionSignIn
	actionCopy
)

type notificationMsg struct {
	n engine.Notification
}

type notificationsClosedMsg struct{}

type tickMsg time.Time

type actionResultMsg struct {
	kind    actionKind
	err     error
	message string
}

type signInForm struct {
	email    string
	password string
	field    int
	signup   bool
	err      string
}

type model struct {
	ctx    context.Context
	engine Engine
	cfg    Config
	styles styles.Styles
	now    func() time.Time

	state engine.State
	mode  uiMode

	width  int
	height int

	selected int
	offset   int

	compose    string
	accountIdx int
	form       signInForm
	helpReturn uiMode

	busy     bool
	busyKind actionKind
	tick     int

	pulse components.ActivityPulse
	topID string

	statusKind    statusKind
	statusText    string
	statusExpires time.Time

	quitting bool
}

func newModel(ctx context.Context, eng Engine, cfg Config) model {
	m := model{
		ctx:    ctx,
		engine: eng,
		cfg:    cfg,
		styles: styles.ForTheme(cfg.Theme),
		now:    time.Now,
	}
	m.refresh()
	if m.state.Status != session.StatusAuthenticated {
		m.mode = modeSignIn
	}
	return m
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.waitNotification(), tickCmd())
}

func (m model) waitNotification() tea.Cmd {
	ch := m.engine.Notifications()
	return func() tea.Msg {
		n, ok := <-ch
		if !ok {
			return notificationsClosedMsg{}
		}
		return notificationMsg{n: n}
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.clampSelection()
		return m, nil
	case tickMsg:
		m.tick++
		if !m.statusExpires.IsZero() && m.now().After(m.statusExpires) {
			m.statusText = ""
			m.statusExpires = time.Time{}
		}
		return m, tickCmd()
	case notificationMsg:
		return m.handleNotification(msg.n)
	case notificationsClosedMsg:
		m.quitting = true
		return m, tea.Quit
	case actionResultMsg:
		return m.handleActionResult(msg)
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			m.quitting = true
			return m, tea.Quit
		}
		switch m.mode {
		case modeCompose:
			return m.updateComposeMode(msg)
		case modeAccounts:
			return m.updateAccountsMode(msg)
		case modeSignIn:
			return m.updateSignInMode(msg)
		case modeHelp:
			return m.updateHelpMode(msg)
		default:
			return m.updateTimelineMode(msg)
		}
	}
	return m, nil
}

func (m model) handleNotification(n engine.Notification) (tea.Model, tea.Cmd) {
	previous := m.state.Identity
	m.refresh()

	switch n.Kind {
	case engine.NotifyLinkReceived:
		m.setStatus(statusOK, engine.LinkReceivedText)
	case engine.NotifyRouteSignIn:
		m.mode = modeSignIn
		m.form = signInForm{}
		m.setStatus(statusInfo, "Signed out. Sign in to continue.")
	case engine.NotifyError:
		if n.Err != nil {
			m.setStatus(statusErr, n.Err.Error())
		}
	case engine.NotifySwitched:
		m.setStatus(statusInfo, "Now using "+n.Identity)
	}

	if m.state.Identity != previous {
		m.selected = 0
		m.offset = 0
		m.pulse.Reset()
		m.topID = topMessageID(m.state.Messages)
	}
	return m, m.waitNotification()
}

// refresh copies the engine snapshot and records new arrivals in the pulse.
func (m *model) refresh() {
	previousTop := m.topID
	identity := m.state.Identity
	m.state = m.engine.Snapshot()
	m.topID = topMessageID(m.state.Messages)
	if previousTop != "" && m.topID != previousTop && m.state.Identity == identity {
		m.pulse.Record(m.now())
		// Keep the same message selected when rows are prepended.
		if m.selected > 0 {
			m.selected += indexOf(m.state.Messages, previousTop)
		}
	}
	m.clampSelection()
}

func (m model) handleActionResult(msg actionResultMsg) (tea.Model, tea.Cmd) {
	m.busy = false
	m.refresh()

	if msg.err != nil {
		if msg.kind == actionSignIn {
			m.form.err = msg.err.Error()
			return m, nil
		}
		// A rejected submit keeps the draft in the compose bar.
		m.setStatus(statusErr, msg.err.Error())
		return m, nil
	}

	switch msg.kind {
	case actionSubmit:
		m.compose = ""
		m.mode = modeTimeline
	case actionSignIn:
		m.form = signInForm{}
		m.mode = modeTimeline
		m.selected = 0
		m.offset = 0
	case actionSwitch:
		m.mode = modeTimeline
		m.selected = 0
		m.offset = 0
	}
	if msg.message != "" {
		m.setStatus(statusOK, msg.message)
	}
	if m.state.Status != session.StatusAuthenticated {
		m.mode = modeSignIn
	}
	return m, nil
}

func (m model) updateTimelineMode(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q":
		m.quitting = true
		return m, tea.Quit
	case "?":
		m.helpReturn = modeTimeline
		m.mode = modeHelp
		return m, nil
	case "j", "down":
		return m.moveSelection(1)
	case "k", "up":
		return m.moveSelection(-1)
	case "pgdown", "ctrl+d":
		return m.moveSelection(m.listHeight())
	case "pgup", "ctrl+u":
		return m.moveSelection(-m.listHeight())
	case "g", "home":
		m.selected = 0
		m.clampSelection()
		return m, nil
	case "G", "end":
		return m.moveSelection(len(m.state.Messages))
	case "m":
		return m.loadMore()
	case "r":
		return m.runAction(actionReload, func(ctx context.Context) (string, error) {
			return "", m.engine.Reload(ctx)
		})
	case "i", "enter":
		m.mode = modeCompose
		return m, nil
	case "y", "c":
		msg, ok := m.selectedMessage()
		if !ok {
			return m, nil
		}
		return m.runAction(actionCopy, func(context.Context) (string, error) {
			if err := writeClipboard(msg.Content); err != nil {
				return "", err
			}
			return "Copied " + truncateText(msg.Content, 40), nil
		})
	case "a":
		m.mode = modeAccounts
		m.accountIdx = 0
		return m, nil
	case "s":
		m.mode = modeSignIn
		m.form = signInForm{}
		return m, nil
	case "o":
		return m.runAction(actionSignOut, func(ctx context.Context) (string, error) {
			return "Signed out", m.engine.SignOut(ctx)
		})
	}
	return m, nil
}

func (m model) moveSelection(delta int) (tea.Model, tea.Cmd) {
	m.selected += delta
	m.clampSelection()
	// Reaching the last loaded row pages in more history.
	if delta > 0 && len(m.state.Messages) > 0 && m.selected == len(m.state.Messages)-1 && m.state.HasMore {
		return m.loadMore()
	}
	return m, nil
}

func (m model) loadMore() (tea.Model, tea.Cmd) {
	canLoad := m.state.HasMore || m.state.InitialLoadFailed
	if !canLoad || m.state.IsFetchingMore || (m.busy && m.busyKind == actionLoadMore) {
		return m, nil
	}
	return m.runAction(actionLoadMore, func(ctx context.Context) (string, error) {
		return "", m.engine.LoadMore(ctx)
	})
}

func (m model) updateComposeMode(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.mode = modeTimeline
		return m, nil
	case "enter":
		text := m.compose
		if strings.TrimSpace(text) == "" || m.busy {
			return m, nil
		}
		return m.runAction(actionSubmit, func(ctx context.Context) (string, error) {
			return "", m.engine.Submit(ctx, text)
		})
	case "backspace", "ctrl+h":
		m.compose = removeLastRune(m.compose)
		return m, nil
	case "ctrl+u":
		m.compose = ""
		return m, nil
	case " ", "space":
		m.compose += " "
		return m, nil
	default:
		if len(msg.Runes) > 0 {
			m.compose += string(msg.Runes)
		}
		return m, nil
	}
}

func (m model) updateAccountsMode(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	accounts := m.state.SavedAccounts
	switch msg.String() {
	case "esc", "q", "a":
		m.mode = modeTimeline
		return m, nil
	case "j", "down":
		if m.accountIdx < len(accounts)-1 {
			m.accountIdx++
		}
		return m, nil
	case "k", "up":
		if m.accountIdx > 0 {
			m.accountIdx--
		}
		return m, nil
	case "n", "s":
		m.mode = modeSignIn
		m.form = signInForm{}
		return m, nil
	case "enter":
		if m.accountIdx >= len(accounts) {
			return m, nil
		}
		entry := accounts[m.accountIdx]
		return m.runAction(actionSwitch, func(ctx context.Context) (string, error) {
			return "", m.engine.SwitchAccount(ctx, entry)
		})
	}
	return m, nil
}

func (m model) updateSignInMode(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		if m.state.Status == session.StatusAuthenticated {
			m.mode = modeTimeline
		}
		return m, nil
	case "tab", "shift+tab", "down", "up":
		m.form.field = 1 - m.form.field
		return m, nil
	case "ctrl+t":
		m.form.signup = !m.form.signup
		return m, nil
	case "enter":
		if m.form.field == 0 {
			m.form.field = 1
			return m, nil
		}
		creds := models.Credentials{Email: strings.TrimSpace(m.form.email), Password: m.form.password}
		if err := creds.Validate(); err != nil {
			m.form.err = err.Error()
			return m, nil
		}
		signup := m.form.signup
		m.form.err = ""
		return m.runAction(actionSignIn, func(ctx context.Context) (string, error) {
			if signup {
				return "Account created", m.engine.SignUp(ctx, creds)
			}
			return "Signed in as " + creds.Email, m.engine.SignIn(ctx, creds)
		})
	case "backspace", "ctrl+h":
		if m.form.field == 0 {
			m.form.email = removeLastRune(m.form.email)
		} else {
			m.form.password = removeLastRune(m.form.password)
		}
		return m, nil
	default:
		if len(msg.Runes) == 0 {
			return m, nil
		}
		if m.form.field == 0 {
			m.form.email += string(msg.Runes)
		} else {
			m.form.password += string(msg.Runes)
		}
		return m, nil
	}
}

func (m model) updateHelpMode(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "esc", "?":
		m.mode = m.helpReturn
	}
	return m, nil
}

// runAction runs fn off the update loop. Only one action runs at a time.
func (m model) runAction(kind actionKind, fn func(context.Context) (string, error)) (tea.Model, tea.Cmd) {
	if m.busy {
		return m, nil
	}
	m.busy = true
	m.busyKind = kind
	ctx := m.ctx
	return m, func() tea.Msg {
		message, err := fn(ctx)
		return actionResultMsg{kind: kind, err: err, message: message}
	}
}

func (m *model) setStatus(kind statusKind, text string) {
	m.statusKind = kind
	m.statusText = strings.TrimSpace(text)
	m.statusExpires = m.now().Add(defaultStatusTTL)
}

func (m *model) clampSelection() {
	count := len(m.state.Messages)
	if m.selected >= count {
		m.selected = count - 1
	}
	if m.selected < 0 {
		m.selected = 0
	}
	rows := m.listHeight()
	if m.selected < m.offset {
		m.offset = m.selected
	}
	if m.selected >= m.offset+rows {
		m.offset = m.selected - rows + 1
	}
	if m.offset < 0 {
		m.offset = 0
	}
}

func (m model) selectedMessage() (models.Message, bool) {
	if m.selected < 0 || m.selected >= len(m.state.Messages) {
		return models.Message{}, false
	}
	return m.state.Messages[m.selected], true
}

func topMessageID(messages []models.Message) string {
	if len(messages) == 0 {
		return ""
	}
	return messages[0].ID
}

func indexOf(messages []models.Message, id string) int {
	for i, msg := range messages {
		if msg.ID == id {
			return i
		}
	}
	return 0
}

func removeLastRune(value string) string {
	runes := []rune(value)
	if len(runes) == 0 {
		return ""
	}
	return string(runes[:len(runes)-1])
}
