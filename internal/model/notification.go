package model

import "time"

// Type classifies what kind of marketplace event a notification describes.
// It only affects how the notification is displayed, never how it is synced.
type Type string

const (
	TypeMessage            Type = "message"
	TypeLike               Type = "like"
	TypeJobApplication     Type = "job_application"
	TypeProjectUpdate      Type = "project_update"
	TypePaymentSuccess     Type = "payment_success"
	TypePaymentFailed      Type = "payment_failed"
	TypeSystemAnnouncement Type = "system_announcement"
	TypeReview             Type = "review"
)

// AllTypes lists every known notification type, in display order.
var AllTypes = []Type{
	TypeMessage,
	TypeLike,
	TypeJobApplication,
	TypeProjectUpdate,
	TypePaymentSuccess,
	TypePaymentFailed,
	TypeSystemAnnouncement,
	TypeReview,
}

// Priority indicates display urgency. Like Type, it has no effect on sync.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// RelatedUser is a denormalized, read-only projection of the user whose
// action triggered a notification (e.g., the sender of a message).
type RelatedUser struct {
	// ID is the user's identifier on the marketplace.
	ID string `json:"id"`

	// DisplayName is the name shown next to the notification.
	DisplayName string `json:"display_name"`

	// AvatarURL points to the user's avatar image, if any.
	AvatarURL string `json:"avatar_url,omitempty"`
}

// Notification is a server-issued event record directed at the current user.
// Everything except IsRead is immutable once created.
type Notification struct {
	// ID is the unique, server-assigned identifier.
	ID string `json:"id"`

	// Type tags the notification with its event kind.
	Type Type `json:"type"`

	// Title is the short display headline.
	Title string `json:"title"`

	// Message is the full display text.
	Message string `json:"message"`

	// Priority controls display emphasis.
	Priority Priority `json:"priority"`

	// IsRead reports whether the user has seen this notification.
	// It is the only field that changes after creation.
	IsRead bool `json:"is_read"`

	// ActionURL is an optional navigation target for the notification.
	ActionURL string `json:"action_url,omitempty"`

	// ActionText labels the navigation target (e.g., "View application").
	ActionText string `json:"action_text,omitempty"`

	// CreatedAt is the server timestamp; notifications are ordered by it,
	// newest first.
	CreatedAt time.Time `json:"created_at"`

	// RelatedUser optionally identifies the actor behind the event.
	RelatedUser *RelatedUser `json:"related_user,omitempty"`
}
