package inbox

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/archohq/notify/internal/api"
	"github.com/archohq/notify/internal/keys"
	"github.com/archohq/notify/internal/model"
	"github.com/archohq/notify/internal/notify"
	"github.com/archohq/notify/internal/theme"
)

// opTimeout bounds every user-triggered network call from the inbox.
const opTimeout = 10 * time.Second

// ReloadedMsg is sent when a full reload has completed.
type ReloadedMsg struct {
	Err error
}

// OpDoneMsg is sent when a mutation (mark read, mark all, delete) finished.
type OpDoneMsg struct {
	Err error
}

// Model is the notification inbox view.
type Model struct {
	list   list.Model
	client *notify.Client
	keys   *keys.KeyMap

	unreadOnly bool
	typeIndex  int // -1 = all types, otherwise index into model.AllTypes
	pageSize   int

	width  int
	height int
}

// New creates a new inbox model backed by the given sync client. pageSize
// caps how many notifications a reload requests; 0 means server default.
func New(client *notify.Client, k *keys.KeyMap, pageSize, width, height int) Model {
	l := list.New([]list.Item{}, ItemDelegate{}, width, height)
	l.Title = "Notifications"
	l.SetShowStatusBar(true)
	l.SetShowHelp(false)
	l.SetFilteringEnabled(false)
	l.Styles.Title = theme.HeaderStyle

	return Model{
		list:      l,
		client:    client,
		keys:      k,
		typeIndex: -1,
		pageSize:  pageSize,
		width:     width,
		height:    height,
	}
}

// Init triggers the initial reload.
func (m Model) Init() tea.Cmd {
	return m.Reload()
}

// SetSize adjusts the inbox to the new terminal dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.list.SetSize(width, height)
}

// Refresh rebuilds the visible items from the client's current snapshot.
// Called by the root model whenever the sync client reports a change.
func (m *Model) Refresh() {
	snapshot := m.client.Snapshot()
	items := make([]list.Item, len(snapshot))
	for i, n := range snapshot {
		items[i] = Item{Notification: n}
	}
	m.list.SetItems(items)
}

// FilterLabel describes the active filters for the status bar, or "".
func (m Model) FilterLabel() string {
	label := ""
	if m.unreadOnly {
		label = "unread"
	}
	if m.typeIndex >= 0 {
		if label != "" {
			label += " · "
		}
		label += string(model.AllTypes[m.typeIndex])
	}
	return label
}

// Reload performs a full server reload with the active filters.
func (m Model) Reload() tea.Cmd {
	filter := api.ListFilter{UnreadOnly: m.unreadOnly, Limit: m.pageSize}
	if m.typeIndex >= 0 {
		filter.Type = model.AllTypes[m.typeIndex]
	}

	client := m.client
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		return ReloadedMsg{Err: client.Load(ctx, filter)}
	}
}

// Update handles messages for the inbox view.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case ReloadedMsg, OpDoneMsg:
		m.Refresh()
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Select), key.Matches(msg, m.keys.MarkRead):
			if n, ok := m.selected(); ok && !n.IsRead {
				return m, m.markRead(n.ID)
			}
			return m, nil

		case key.Matches(msg, m.keys.MarkAllRead):
			return m, m.markAllRead()

		case key.Matches(msg, m.keys.Delete):
			if n, ok := m.selected(); ok {
				return m, m.delete(n.ID)
			}
			return m, nil

		case key.Matches(msg, m.keys.UnreadOnly):
			m.unreadOnly = !m.unreadOnly
			return m, m.Reload()

		case key.Matches(msg, m.keys.CycleType):
			m.typeIndex++
			if m.typeIndex >= len(model.AllTypes) {
				m.typeIndex = -1
			}
			return m, m.Reload()

		case key.Matches(msg, m.keys.Refresh):
			return m, m.Reload()
		}
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

// View renders the inbox.
func (m Model) View() string {
	return m.list.View()
}

// selected returns the notification under the cursor.
func (m Model) selected() (model.Notification, bool) {
	it, ok := m.list.SelectedItem().(Item)
	if !ok {
		return model.Notification{}, false
	}
	return it.Notification, true
}

func (m Model) markRead(id string) tea.Cmd {
	client := m.client
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		return OpDoneMsg{Err: client.MarkAsRead(ctx, id)}
	}
}

func (m Model) markAllRead() tea.Cmd {
	client := m.client
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		return OpDoneMsg{Err: client.MarkAllAsRead(ctx)}
	}
}

func (m Model) delete(id string) tea.Cmd {
	client := m.client
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		return OpDoneMsg{Err: client.Delete(ctx, id)}
	}
}
