package inbox

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/archohq/notify/internal/model"
	"github.com/archohq/notify/internal/theme"
)

// Item wraps a model.Notification so it can be used in a bubbles/list.
type Item struct {
	Notification model.Notification
}

// FilterValue returns the string used for fuzzy filtering.
func (i Item) FilterValue() string { return i.Notification.Title }

// Title returns the notification title for the list.
func (i Item) Title() string { return i.Notification.Title }

// Description returns a short summary line for the list.
func (i Item) Description() string { return i.Notification.Message }

// ItemDelegate implements list.ItemDelegate for rendering inbox rows.
type ItemDelegate struct{}

// Height returns the number of lines each item takes.
func (d ItemDelegate) Height() int { return 1 }

// Spacing returns the number of blank lines between items.
func (d ItemDelegate) Spacing() int { return 0 }

// Update handles per-item messages (unused).
func (d ItemDelegate) Update(_ tea.Msg, _ *list.Model) tea.Cmd {
	return nil
}

// Render draws a single inbox row.
func (d ItemDelegate) Render(w io.Writer, m list.Model, index int, item list.Item) {
	it, ok := item.(Item)
	if !ok {
		return
	}

	n := it.Notification
	isSelected := index == m.Index()

	marker := "●"
	titleStyle := theme.UnreadStyle
	if n.IsRead {
		marker = " "
		titleStyle = theme.ReadStyle
	}

	icon := typeIcon(n.Type)
	priBadge := theme.PriorityStyle(n.Priority).Render(priorityLabel(n.Priority))
	title := titleStyle.Render(n.Title)

	actor := ""
	if n.RelatedUser != nil {
		actor = theme.DimmedStyle.Render(" · " + n.RelatedUser.DisplayName)
	}

	timeStr := theme.DimmedStyle.Render("  " + relativeTime(n.CreatedAt))

	line := fmt.Sprintf("%s %s %s %s%s%s", marker, icon, priBadge, title, actor, timeStr)

	if isSelected {
		line = theme.SelectedItemStyle.Render(line)
	}

	fmt.Fprint(w, line)
}

// typeIcon returns the glyph shown for a notification type.
func typeIcon(t model.Type) string {
	switch t {
	case model.TypeMessage:
		return "✉"
	case model.TypeLike:
		return "♥"
	case model.TypeJobApplication:
		return "⚒"
	case model.TypeProjectUpdate:
		return "▲"
	case model.TypePaymentSuccess:
		return "$"
	case model.TypePaymentFailed:
		return "!"
	case model.TypeSystemAnnouncement:
		return "◆"
	case model.TypeReview:
		return "★"
	default:
		return "•"
	}
}

// priorityLabel returns a short label for the given priority.
func priorityLabel(p model.Priority) string {
	switch p {
	case model.PriorityUrgent:
		return "URG"
	case model.PriorityHigh:
		return "HI "
	case model.PriorityLow:
		return "LO "
	default:
		return "   "
	}
}

// relativeTime returns a human-friendly relative time string.
func relativeTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}

	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		mins := int(d.Minutes())
		if mins == 1 {
			return "1m ago"
		}
		return fmt.Sprintf("%dm ago", mins)
	case d < 24*time.Hour:
		hrs := int(d.Hours())
		if hrs == 1 {
			return "1h ago"
		}
		return fmt.Sprintf("%dh ago", hrs)
	case d < 7*24*time.Hour:
		days := int(d.Hours() / 24)
		if days == 1 {
			return "1d ago"
		}
		return fmt.Sprintf("%dd ago", days)
	default:
		weeks := int(d.Hours() / 24 / 7)
		if weeks == 1 {
			return "1w ago"
		}
		return fmt.Sprintf("%dw ago", weeks)
	}
}
