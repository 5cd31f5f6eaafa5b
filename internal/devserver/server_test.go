package devserver_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/archohq/notify/internal/api"
	"github.com/archohq/notify/internal/model"
	"github.com/archohq/notify/internal/stream"
	"github.com/archohq/notify/tests/testutil"
)

func TestPublishFillsDefaults(t *testing.T) {
	srv, url := testutil.NewTestServer(t)

	n := srv.Publish("alice", model.Notification{
		Type:  model.TypeMessage,
		Title: "Hello",
	})
	if n.ID == "" {
		t.Error("expected Publish to assign an ID")
	}
	if n.Priority != model.PriorityNormal {
		t.Errorf("expected normal priority default, got %q", n.Priority)
	}
	if n.CreatedAt.IsZero() {
		t.Error("expected Publish to stamp the creation time")
	}

	c := api.NewClient(url, "alice", zerolog.Nop())
	res, err := c.List(context.Background(), api.ListFilter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(res.Notifications) != 1 || res.Notifications[0].ID != n.ID {
		t.Errorf("expected published notification in the feed, got %+v", res.Notifications)
	}
}

func TestUsersAreIsolated(t *testing.T) {
	srv, url := testutil.NewTestServer(t)

	srv.Publish("alice", model.Notification{Type: model.TypeMessage, Title: "For alice"})

	c := api.NewClient(url, "bob", zerolog.Nop())
	res, err := c.List(context.Background(), api.ListFilter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(res.Notifications) != 0 {
		t.Errorf("bob must not see alice's notifications, got %+v", res.Notifications)
	}
}

func TestCreateTestEndpoint(t *testing.T) {
	_, url := testutil.NewTestServer(t)

	c := api.NewClient(url, "alice", zerolog.Nop())
	n, err := c.CreateTest(context.Background())
	if err != nil {
		t.Fatalf("CreateTest: %v", err)
	}
	if n.ID == "" || n.Title == "" {
		t.Errorf("expected a filled-in test notification, got %+v", n)
	}

	count, err := c.UnreadCount(context.Background())
	if err != nil {
		t.Fatalf("UnreadCount: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 unread after test notification, got %d", count)
	}
}

func TestStreamDeliversPublishedNotifications(t *testing.T) {
	srv, url := testutil.NewTestServer(t)

	events := make(chan model.Notification, 4)
	states := make(chan stream.State, 8)

	l := stream.New(url, "alice", zerolog.Nop())
	l.OnEvent(func(n model.Notification) { events <- n })
	l.OnStateChange(func(s stream.State) { states <- s })

	if err := l.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer l.Stop()

	// Wait for the subscription to be established before publishing;
	// the stream does not replay missed events.
	deadline := time.Now().Add(3 * time.Second)
	for l.State() != stream.StateConnected {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for stream connection")
		}
		time.Sleep(10 * time.Millisecond)
	}
	// The SSE subscription registers just after the connected preamble.
	time.Sleep(50 * time.Millisecond)

	published := srv.Publish("alice", model.Notification{
		Type:    model.TypeJobApplication,
		Title:   "New application",
		Message: "An architect applied to your posting.",
	})
	srv.Publish("someone-else", model.Notification{
		Type:  model.TypeMessage,
		Title: "Not for alice",
	})

	select {
	case n := <-events:
		if n.ID != published.ID {
			t.Errorf("expected published notification %s, got %s", published.ID, n.ID)
		}
		if n.Type != model.TypeJobApplication {
			t.Errorf("expected job application type, got %q", n.Type)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for stream event")
	}

	select {
	case n := <-events:
		t.Errorf("received another user's notification: %+v", n)
	case <-time.After(100 * time.Millisecond):
	}
}
