package api

import (
	"encoding/json"

	"github.com/archohq/notify/internal/model"
)

// Envelope is the uniform response wrapper every notification endpoint uses.
type Envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// ListResponse is the payload of GET /notifications.
type ListResponse struct {
	Notifications []model.Notification `json:"notifications"`
	UnreadCount   int                  `json:"unread_count"`
}

// unreadCountData is the payload of GET /notifications/unread-count.
type unreadCountData struct {
	UnreadCount int `json:"unread_count"`
}

// ListFilter controls filtering and pagination for notification list queries.
type ListFilter struct {
	// UnreadOnly restricts the result to unread notifications.
	UnreadOnly bool

	// Type restricts the result to a single notification type when non-empty.
	Type model.Type

	// Limit caps the number of returned notifications; 0 means server default.
	Limit int

	// Offset skips that many notifications for pagination.
	Offset int
}
