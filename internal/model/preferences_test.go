package model

import "testing"

func TestDefaultPreferences(t *testing.T) {
	p := DefaultPreferences()
	if !p.EmailEnabled || !p.PushEnabled || !p.InAppEnabled {
		t.Errorf("expected all channels enabled by default, got %+v", p)
	}
	if len(p.MutedTypes) != 0 {
		t.Errorf("expected no muted types by default, got %v", p.MutedTypes)
	}
}

func TestIsMuted(t *testing.T) {
	p := Preferences{MutedTypes: []Type{TypeLike, TypeSystemAnnouncement}}

	if !p.IsMuted(TypeLike) {
		t.Error("expected likes muted")
	}
	if p.IsMuted(TypeMessage) {
		t.Error("expected messages not muted")
	}
}
