package model

// Preferences is the per-user record of which notification channels are
// enabled. It is independent of individual notifications: the backend uses it
// to gate future deliveries, the client only fetches and edits it wholesale.
type Preferences struct {
	// EmailEnabled controls email delivery of notifications.
	EmailEnabled bool `json:"email_enabled"`

	// PushEnabled controls push delivery to mobile devices.
	PushEnabled bool `json:"push_enabled"`

	// InAppEnabled controls in-app (and terminal) delivery.
	InAppEnabled bool `json:"in_app_enabled"`

	// MutedTypes lists notification types the user has opted out of
	// entirely, across all channels.
	MutedTypes []Type `json:"muted_types,omitempty"`
}

// DefaultPreferences returns the preferences a new account starts with:
// every channel on, nothing muted.
func DefaultPreferences() Preferences {
	return Preferences{
		EmailEnabled: true,
		PushEnabled:  true,
		InAppEnabled: true,
	}
}

// IsMuted reports whether the given type is in the muted list.
func (p Preferences) IsMuted(t Type) bool {
	for _, m := range p.MutedTypes {
		if m == t {
			return true
		}
	}
	return false
}
