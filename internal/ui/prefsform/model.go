package prefsform

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/archohq/notify/internal/model"
	"github.com/archohq/notify/internal/notify"
	"github.com/archohq/notify/internal/theme"
)

// opTimeout bounds the preference fetch and save calls.
const opTimeout = 10 * time.Second

// LoadedMsg is sent when the current preferences have been fetched.
type LoadedMsg struct {
	Prefs model.Preferences
	Err   error
}

// SavedMsg is sent when an edited preference set has been submitted.
type SavedMsg struct {
	Err error
}

// CancelMsg is sent when the user abandons the form.
type CancelMsg struct{}

// formBindings holds form field values on the heap so that huh's Value()
// pointers remain valid across Bubble Tea model copies.
type formBindings struct {
	email      bool
	push       bool
	inApp      bool
	mutedTypes []string
}

// Model is the Bubble Tea model for the notification preferences form.
type Model struct {
	client  *notify.Client
	form    *huh.Form
	fb      *formBindings
	loading bool
	width   int
	height  int
}

// New creates a new preferences form model.
func New(client *notify.Client, width, height int) Model {
	return Model{
		client: client,
		fb:     &formBindings{},
		width:  width,
		height: height,
	}
}

// SetSize adjusts the form to the new terminal dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
}

// Open fetches the current preferences so the form starts from them.
func (m *Model) Open() tea.Cmd {
	m.loading = true
	m.form = nil

	client := m.client
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		p, err := client.Preferences(ctx)
		return LoadedMsg{Prefs: p, Err: err}
	}
}

// Update handles messages for the preferences form.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	if loaded, ok := msg.(LoadedMsg); ok {
		m.loading = false
		if loaded.Err != nil {
			return m, func() tea.Msg { return CancelMsg{} }
		}

		m.fb.email = loaded.Prefs.EmailEnabled
		m.fb.push = loaded.Prefs.PushEnabled
		m.fb.inApp = loaded.Prefs.InAppEnabled
		m.fb.mutedTypes = nil
		for _, t := range loaded.Prefs.MutedTypes {
			m.fb.mutedTypes = append(m.fb.mutedTypes, string(t))
		}

		m.form = m.buildForm()
		return m, m.form.Init()
	}

	if m.form == nil {
		return m, nil
	}

	mdl, cmd := m.form.Update(msg)
	if f, ok := mdl.(*huh.Form); ok {
		m.form = f
	}

	if m.form.State == huh.StateCompleted {
		return m, m.save()
	}
	if m.form.State == huh.StateAborted {
		return m, func() tea.Msg { return CancelMsg{} }
	}

	return m, cmd
}

// View renders the preferences form.
func (m Model) View() string {
	var content string
	switch {
	case m.loading:
		content = theme.DimmedStyle.Render("Loading preferences…")
	case m.form != nil:
		content = m.form.View()
	default:
		content = ""
	}

	title := lipgloss.NewStyle().Bold(true).
		Foreground(theme.ColorWhite).
		MarginBottom(1).
		Render("Notification Preferences")

	return theme.PanelStyle.
		Width(m.width - 4).
		Render(lipgloss.JoinVertical(lipgloss.Left, title, content))
}

// buildForm constructs the huh form from the current bindings.
func (m Model) buildForm() *huh.Form {
	typeOptions := make([]huh.Option[string], 0, len(model.AllTypes))
	for _, t := range model.AllTypes {
		typeOptions = append(typeOptions, huh.NewOption(string(t), string(t)))
	}

	return huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Email notifications").
				Value(&m.fb.email),
			huh.NewConfirm().
				Title("Push notifications").
				Value(&m.fb.push),
			huh.NewConfirm().
				Title("In-app notifications").
				Value(&m.fb.inApp),
			huh.NewMultiSelect[string]().
				Title("Muted notification types").
				Options(typeOptions...).
				Value(&m.fb.mutedTypes),
		),
	).WithWidth(m.width - 8)
}

// save submits the edited preferences to the server.
func (m Model) save() tea.Cmd {
	prefs := model.Preferences{
		EmailEnabled: m.fb.email,
		PushEnabled:  m.fb.push,
		InAppEnabled: m.fb.inApp,
	}
	for _, t := range m.fb.mutedTypes {
		prefs.MutedTypes = append(prefs.MutedTypes, model.Type(t))
	}

	client := m.client
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		return SavedMsg{Err: client.UpdatePreferences(ctx, prefs)}
	}
}
