package app

import (
	"fmt"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/archohq/notify/internal/keys"
	"github.com/archohq/notify/internal/notify"
	"github.com/archohq/notify/internal/stream"
	"github.com/archohq/notify/internal/theme"
	"github.com/archohq/notify/internal/ui"
	helpview "github.com/archohq/notify/internal/ui/help"
	"github.com/archohq/notify/internal/ui/inbox"
	"github.com/archohq/notify/internal/ui/prefsform"
)

// ViewState represents the current active view in the application.
type ViewState int

const (
	ViewInbox ViewState = iota
	ViewPrefs
	ViewHelp
)

// changeMsg wraps a sync client change event for the Bubble Tea runtime.
type changeMsg struct {
	ev notify.ChangeEvent
}

// Model is the root Bubble Tea model that manages view routing, layout,
// and the sync client owned by this session.
type Model struct {
	currentView ViewState
	layout      ui.Layout
	keys        *keys.KeyMap
	client      *notify.Client

	inboxView inbox.Model
	prefsView prefsform.Model
	helpView  helpview.Model

	ready     bool
	statusMsg string
}

// New creates the root application model around an already-constructed
// sync client. The caller starts and stops the client; this model only
// consumes its state.
func New(client *notify.Client, pageSize int) Model {
	k := keys.DefaultKeyMap()

	return Model{
		currentView: ViewInbox,
		keys:        k,
		client:      client,
		inboxView:   inbox.New(client, k, pageSize, 80, 24),
		prefsView:   prefsform.New(client, 80, 24),
		helpView:    helpview.New(k, 80, 24),
	}
}

// Init loads the inbox and subscribes to sync client changes.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.inboxView.Init(), m.waitForChange())
}

// waitForChange returns a command that blocks on the sync client's change
// feed. After delivering one event the app re-issues the command, the same
// subscription loop the poller-driven views use.
func (m Model) waitForChange() tea.Cmd {
	client := m.client
	return func() tea.Msg {
		ev, ok := <-client.Changes()
		if !ok {
			return nil
		}
		return changeMsg{ev: ev}
	}
}

// Update handles messages and dispatches to the active view.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.layout = ui.NewLayout(msg.Width, msg.Height)
		m.ready = true
		w := m.layout.ContentWidth()
		h := m.layout.ContentHeight()
		m.inboxView.SetSize(w, h)
		m.prefsView.SetSize(w, h)
		m.helpView.SetSize(w, h)
		return m, nil

	case changeMsg:
		// Any state movement re-renders the inbox from the snapshot;
		// connection changes additionally surface in the header.
		m.inboxView.Refresh()
		if msg.ev.Kind == notify.ChangeConn &&
			m.client.ConnState() == stream.StateError {
			m.statusMsg = "realtime channel unavailable"
		}
		return m, m.waitForChange()

	case inbox.ReloadedMsg:
		m.statusMsg = errText(msg.Err)
		var cmd tea.Cmd
		m.inboxView, cmd = m.inboxView.Update(msg)
		return m, cmd

	case inbox.OpDoneMsg:
		m.statusMsg = errText(msg.Err)
		var cmd tea.Cmd
		m.inboxView, cmd = m.inboxView.Update(msg)
		return m, cmd

	case prefsform.LoadedMsg:
		var cmd tea.Cmd
		m.prefsView, cmd = m.prefsView.Update(msg)
		return m, cmd

	case prefsform.SavedMsg:
		m.statusMsg = errText(msg.Err)
		if msg.Err == nil {
			m.statusMsg = "preferences saved"
		}
		m.currentView = ViewInbox
		return m, nil

	case prefsform.CancelMsg:
		m.currentView = ViewInbox
		return m, nil

	case tea.KeyMsg:
		return m.handleKeys(msg)
	}

	return m.updateActiveView(msg)
}

// handleKeys routes key input: a few global chords, then the active view.
func (m Model) handleKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	// The preferences form owns almost all input while open.
	if m.currentView == ViewPrefs {
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		var cmd tea.Cmd
		m.prefsView, cmd = m.prefsView.Update(msg)
		return m, cmd
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.Help):
		if m.currentView == ViewHelp {
			m.currentView = ViewInbox
		} else {
			m.currentView = ViewHelp
		}
		return m, nil

	case key.Matches(msg, m.keys.Back):
		m.currentView = ViewInbox
		return m, nil

	case key.Matches(msg, m.keys.Prefs):
		m.currentView = ViewPrefs
		return m, m.prefsView.Open()
	}

	return m.updateActiveView(msg)
}

// updateActiveView forwards a message to whichever view is showing.
func (m Model) updateActiveView(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	switch m.currentView {
	case ViewInbox:
		m.inboxView, cmd = m.inboxView.Update(msg)
	case ViewPrefs:
		m.prefsView, cmd = m.prefsView.Update(msg)
	case ViewHelp:
		m.helpView, cmd = m.helpView.Update(msg)
	}
	return m, cmd
}

// View renders the full terminal frame.
func (m Model) View() string {
	if !m.ready {
		return "Loading…"
	}

	header := m.layout.RenderHeader("Archo Notifications", m.headerStatus())

	var content string
	switch m.currentView {
	case ViewPrefs:
		content = m.prefsView.View()
	case ViewHelp:
		content = m.helpView.View()
	default:
		content = m.inboxView.View()
	}

	return m.layout.RenderWithFrame(header, content, m.layout.RenderStatusBar(m.statusLine()))
}

// headerStatus builds the right-hand header segment: unread badge plus
// connection state.
func (m Model) headerStatus() string {
	status := m.client.ConnState().String()

	if count := m.client.UnreadCount(); count > 0 {
		return fmt.Sprintf("%d unread · %s", count, status)
	}
	return status
}

// statusLine builds the bottom bar: connection dot, then the last status
// message, active filters, or key hints.
func (m Model) statusLine() string {
	conn := theme.ConnStyle(m.client.ConnState().String()).Render("●")

	switch {
	case m.statusMsg != "":
		return conn + " " + m.statusMsg
	case m.inboxView.FilterLabel() != "":
		return conn + " filter: " + m.inboxView.FilterLabel() + " · ? for help"
	default:
		return conn + " ? for help"
	}
}

// errText converts an operation error into a status bar message.
func errText(err error) string {
	if err == nil {
		return ""
	}
	return theme.ErrorStyle.Render(err.Error())
}
