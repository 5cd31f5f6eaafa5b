package notify

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/archohq/notify/internal/api"
	"github.com/archohq/notify/internal/devserver"
	"github.com/archohq/notify/internal/model"
	"github.com/archohq/notify/internal/stream"
	"github.com/archohq/notify/tests/testutil"
)

const testUser = "u-test"

// newServerClient wires a sync client (no stream listener) to an embedded
// backend and an in-memory cache.
func newServerClient(t *testing.T) (*devserver.Server, *Client) {
	t.Helper()

	srv, url := testutil.NewTestServer(t)
	apiClient := api.NewClient(url, testUser, zerolog.Nop())
	c := New(apiClient, nil, testutil.NewTestCache(t), time.Hour, zerolog.Nop())
	return srv, c
}

func seeded(id string, ageMinutes int, read bool) model.Notification {
	return model.Notification{
		ID:        id,
		Type:      model.TypeMessage,
		Title:     "Title " + id,
		Message:   "Message " + id,
		Priority:  model.PriorityNormal,
		IsRead:    read,
		CreatedAt: time.Now().UTC().Add(-time.Duration(ageMinutes) * time.Minute),
	}
}

func pushed(id string, read bool) model.Notification {
	n := seeded(id, 0, read)
	n.Type = model.TypeLike
	return n
}

// drainKinds empties the change feed and returns the kinds seen.
func drainKinds(c *Client) []ChangeKind {
	var kinds []ChangeKind
	for {
		select {
		case ev := <-c.Changes():
			kinds = append(kinds, ev.Kind)
		default:
			return kinds
		}
	}
}

func hasKind(kinds []ChangeKind, k ChangeKind) bool {
	for _, kind := range kinds {
		if kind == k {
			return true
		}
	}
	return false
}

func TestLoadReplacesLocalState(t *testing.T) {
	srv, c := newServerClient(t)
	ctx := context.Background()

	srv.Seed(testUser, []model.Notification{
		seeded("n-2", 1, false),
		seeded("n-1", 2, true),
	})

	if err := c.Load(ctx, api.ListFilter{}); err != nil {
		t.Fatalf("Load: %v", err)
	}

	snap := c.Snapshot()
	if len(snap) != 2 || snap[0].ID != "n-2" {
		t.Errorf("expected [n-2, n-1], got %+v", snap)
	}
	if c.UnreadCount() != 1 {
		t.Errorf("expected unread count 1, got %d", c.UnreadCount())
	}
	if !hasKind(drainKinds(c), ChangeLoaded) {
		t.Error("expected a loaded change event")
	}

	// A later load fully replaces, never merges.
	srv.Seed(testUser, []model.Notification{seeded("n-9", 1, false)})
	if err := c.Load(ctx, api.ListFilter{}); err != nil {
		t.Fatalf("Load: %v", err)
	}
	snap = c.Snapshot()
	if len(snap) != 1 || snap[0].ID != "n-9" {
		t.Errorf("expected full replace with [n-9], got %+v", snap)
	}

	// The offline cache mirrors the last load.
	cached, err := c.cache.All(ctx)
	if err != nil {
		t.Fatalf("cache.All: %v", err)
	}
	if len(cached) != 1 || cached[0].ID != "n-9" {
		t.Errorf("expected cache mirror [n-9], got %+v", cached)
	}
}

func TestLoadFailureKeepsState(t *testing.T) {
	srv, c := newServerClient(t)
	ctx := context.Background()

	srv.Seed(testUser, []model.Notification{seeded("n-1", 1, false)})
	if err := c.Load(ctx, api.ListFilter{}); err != nil {
		t.Fatalf("Load: %v", err)
	}

	good := c.api
	c.api = api.NewClient("http://127.0.0.1:1", testUser, zerolog.Nop())

	if err := c.Load(ctx, api.ListFilter{}); err == nil {
		t.Fatal("expected load against dead backend to fail")
	}
	if len(c.Snapshot()) != 1 {
		t.Error("failed load must keep the prior list")
	}
	if c.UnreadCount() != 1 {
		t.Error("failed load must keep the prior unread count")
	}
	if c.LastError() == "" {
		t.Error("expected last error to be recorded")
	}

	// The next successful operation clears the recorded error.
	c.api = good
	if err := c.RefreshUnreadCount(ctx); err != nil {
		t.Fatalf("RefreshUnreadCount: %v", err)
	}
	if c.LastError() != "" {
		t.Errorf("expected last error cleared, got %q", c.LastError())
	}
}

func TestIngestPrependsAndDeduplicates(t *testing.T) {
	_, c := newServerClient(t)

	c.ingest(pushed("p-1", false))
	c.ingest(pushed("p-2", false))

	snap := c.Snapshot()
	if len(snap) != 2 || snap[0].ID != "p-2" || snap[1].ID != "p-1" {
		t.Errorf("expected newest-first [p-2, p-1], got %+v", snap)
	}
	if c.UnreadCount() != 2 {
		t.Errorf("expected unread count 2, got %d", c.UnreadCount())
	}

	// A replayed ID changes nothing.
	c.ingest(pushed("p-1", false))
	if len(c.Snapshot()) != 2 || c.UnreadCount() != 2 {
		t.Error("duplicate push must be dropped")
	}

	// A pushed notification that is already read leaves the count alone.
	c.ingest(pushed("p-3", true))
	if c.UnreadCount() != 2 {
		t.Errorf("read push must not bump the count, got %d", c.UnreadCount())
	}

	kinds := drainKinds(c)
	if !hasKind(kinds, ChangeNew) {
		t.Error("expected new-notification change events")
	}
}

func TestNewNotificationCallbackSlot(t *testing.T) {
	_, c := newServerClient(t)

	var first, second []string
	c.OnNewNotification(func(n model.Notification) { first = append(first, n.ID) })
	c.OnNewNotification(func(n model.Notification) { second = append(second, n.ID) })

	c.ingest(pushed("p-1", false))

	if len(first) != 0 {
		t.Error("replaced callback must not fire")
	}
	if len(second) != 1 || second[0] != "p-1" {
		t.Errorf("expected active callback to fire once, got %v", second)
	}

	c.OffNewNotification()
	c.ingest(pushed("p-2", false))
	if len(second) != 1 {
		t.Error("cleared callback must not fire")
	}
}

func TestMarkAsReadIdempotent(t *testing.T) {
	srv, c := newServerClient(t)
	ctx := context.Background()

	srv.Seed(testUser, []model.Notification{
		seeded("n-1", 1, false),
		seeded("n-2", 2, false),
	})
	if err := c.Load(ctx, api.ListFilter{}); err != nil {
		t.Fatalf("Load: %v", err)
	}

	if err := c.MarkAsRead(ctx, "n-1"); err != nil {
		t.Fatalf("MarkAsRead: %v", err)
	}
	if c.UnreadCount() != 1 {
		t.Errorf("expected count 1 after first mark, got %d", c.UnreadCount())
	}
	for _, n := range c.Snapshot() {
		if n.ID == "n-1" && !n.IsRead {
			t.Error("expected n-1 flipped to read locally")
		}
	}

	// Marking the same notification again must not drift the count.
	if err := c.MarkAsRead(ctx, "n-1"); err != nil {
		t.Fatalf("MarkAsRead again: %v", err)
	}
	if c.UnreadCount() != 1 {
		t.Errorf("double mark drifted the count to %d", c.UnreadCount())
	}

	// The count clamps at zero even if local bookkeeping is behind.
	if err := c.MarkAsRead(ctx, "n-2"); err != nil {
		t.Fatalf("MarkAsRead: %v", err)
	}
	if err := c.MarkAsRead(ctx, "n-2"); err != nil {
		t.Fatalf("MarkAsRead: %v", err)
	}
	if c.UnreadCount() != 0 {
		t.Errorf("expected count clamped at 0, got %d", c.UnreadCount())
	}
}

func TestMarkAllAsRead(t *testing.T) {
	srv, c := newServerClient(t)
	ctx := context.Background()

	srv.Seed(testUser, []model.Notification{
		seeded("n-1", 1, false),
		seeded("n-2", 2, false),
		seeded("n-3", 3, true),
	})
	if err := c.Load(ctx, api.ListFilter{}); err != nil {
		t.Fatalf("Load: %v", err)
	}
	drainKinds(c)

	if err := c.MarkAllAsRead(ctx); err != nil {
		t.Fatalf("MarkAllAsRead: %v", err)
	}

	for _, n := range c.Snapshot() {
		if !n.IsRead {
			t.Errorf("notification %s still unread after mark all", n.ID)
		}
	}
	if c.UnreadCount() != 0 {
		t.Errorf("expected count 0, got %d", c.UnreadCount())
	}

	// One bulk operation, one change event.
	kinds := drainKinds(c)
	if len(kinds) != 1 || kinds[0] != ChangeAllRead {
		t.Errorf("expected a single all-read event, got %v", kinds)
	}

	// The server agrees.
	count, err := c.api.UnreadCount(ctx)
	if err != nil {
		t.Fatalf("server UnreadCount: %v", err)
	}
	if count != 0 {
		t.Errorf("expected server count 0, got %d", count)
	}
}

func TestDeleteOptimistic(t *testing.T) {
	srv, c := newServerClient(t)
	ctx := context.Background()

	srv.Seed(testUser, []model.Notification{
		seeded("n-1", 1, false),
		seeded("n-2", 2, false),
	})
	if err := c.Load(ctx, api.ListFilter{}); err != nil {
		t.Fatalf("Load: %v", err)
	}

	if err := c.Delete(ctx, "n-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	snap := c.Snapshot()
	if len(snap) != 1 || snap[0].ID != "n-2" {
		t.Errorf("expected [n-2] after delete, got %+v", snap)
	}
	if c.UnreadCount() != 1 {
		t.Errorf("expected count 1 after deleting unread, got %d", c.UnreadCount())
	}

	res, err := c.api.List(ctx, api.ListFilter{})
	if err != nil {
		t.Fatalf("server List: %v", err)
	}
	if len(res.Notifications) != 1 {
		t.Errorf("expected server to hold 1 notification, got %d", len(res.Notifications))
	}
}

func TestDeleteRollbackOnFailure(t *testing.T) {
	srv, c := newServerClient(t)
	ctx := context.Background()

	srv.Seed(testUser, []model.Notification{
		seeded("n-1", 1, false),
		seeded("n-2", 2, true),
	})
	if err := c.Load(ctx, api.ListFilter{}); err != nil {
		t.Fatalf("Load: %v", err)
	}
	before := c.Snapshot()
	beforeCount := c.UnreadCount()

	// The server no longer knows n-1, so the delete call fails after the
	// optimistic local removal.
	srv.Seed(testUser, nil)

	if err := c.Delete(ctx, "n-1"); err == nil {
		t.Fatal("expected delete of unknown server notification to fail")
	}

	after := c.Snapshot()
	if len(after) != len(before) {
		t.Fatalf("rollback lost entries: before %d, after %d", len(before), len(after))
	}
	for i := range before {
		if after[i].ID != before[i].ID || after[i].IsRead != before[i].IsRead {
			t.Errorf("rollback diverged at %d: %+v vs %+v", i, after[i], before[i])
		}
	}
	if c.UnreadCount() != beforeCount {
		t.Errorf("rollback count %d, want %d", c.UnreadCount(), beforeCount)
	}
	if c.LastError() == "" {
		t.Error("expected failed delete to record an error")
	}
}

func TestRefreshUnreadCount(t *testing.T) {
	srv, c := newServerClient(t)
	ctx := context.Background()

	srv.Seed(testUser, []model.Notification{
		seeded("n-1", 1, false),
		seeded("n-2", 2, false),
	})

	if err := c.RefreshUnreadCount(ctx); err != nil {
		t.Fatalf("RefreshUnreadCount: %v", err)
	}
	if c.UnreadCount() != 2 {
		t.Errorf("expected reconciled count 2, got %d", c.UnreadCount())
	}
	// The poll only touches the scalar count, never the list.
	if len(c.Snapshot()) != 0 {
		t.Error("count reconciliation must not modify the list")
	}
	if !hasKind(drainKinds(c), ChangeCount) {
		t.Error("expected a count change event")
	}

	// An unchanged count is not announced again.
	if err := c.RefreshUnreadCount(ctx); err != nil {
		t.Fatalf("RefreshUnreadCount: %v", err)
	}
	if hasKind(drainKinds(c), ChangeCount) {
		t.Error("unchanged count must not emit an event")
	}
}

func TestWarmStart(t *testing.T) {
	cache := testutil.NewTestCache(t)
	ctx := context.Background()

	err := cache.ReplaceAll(ctx, []model.Notification{
		seeded("n-1", 1, false),
		seeded("n-2", 2, true),
	})
	if err != nil {
		t.Fatalf("ReplaceAll: %v", err)
	}
	if err := cache.SavePreferences(ctx, model.DefaultPreferences()); err != nil {
		t.Fatalf("SavePreferences: %v", err)
	}

	// The backend is unreachable; the warm start must still populate state.
	apiClient := api.NewClient("http://127.0.0.1:1", testUser, zerolog.Nop())
	c := New(apiClient, nil, cache, time.Hour, zerolog.Nop())

	c.WarmStart(ctx)

	if len(c.Snapshot()) != 2 {
		t.Errorf("expected 2 cached notifications, got %d", len(c.Snapshot()))
	}
	if c.UnreadCount() != 1 {
		t.Errorf("expected cached unread count 1, got %d", c.UnreadCount())
	}
}

func TestResetClearsStateAndDropsLateResponses(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-release
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"success":true,"data":{"notifications":[{"id":"late-1","type":"message","title":"Late","priority":"normal","is_read":false}],"unread_count":1}}`)
	}))
	defer ts.Close()

	apiClient := api.NewClient(ts.URL, testUser, zerolog.Nop())
	c := New(apiClient, nil, testutil.NewTestCache(t), time.Hour, zerolog.Nop())

	c.ingest(pushed("p-1", false))

	loadDone := make(chan error, 1)
	go func() {
		loadDone <- c.Load(context.Background(), api.ListFilter{})
	}()

	// Log out while the load is in flight.
	<-started
	c.Reset()
	close(release)

	if err := <-loadDone; err != nil {
		t.Fatalf("Load: %v", err)
	}

	if len(c.Snapshot()) != 0 {
		t.Errorf("late load response resurrected state: %+v", c.Snapshot())
	}
	if c.UnreadCount() != 0 {
		t.Errorf("expected count 0 after reset, got %d", c.UnreadCount())
	}

	cached, err := c.cache.All(context.Background())
	if err != nil {
		t.Fatalf("cache.All: %v", err)
	}
	if len(cached) != 0 {
		t.Errorf("expected cache cleared on reset, got %d entries", len(cached))
	}
}

func TestDisconnectKeepsData(t *testing.T) {
	_, c := newServerClient(t)

	c.ingest(pushed("p-1", false))
	c.setConnState(stream.StateConnected)
	c.setConnState(stream.StateDisconnected)

	if c.ConnState() != stream.StateDisconnected {
		t.Errorf("expected disconnected, got %v", c.ConnState())
	}
	if len(c.Snapshot()) != 1 || c.UnreadCount() != 1 {
		t.Error("a dropped connection must not clear notification data")
	}
	if !hasKind(drainKinds(c), ChangeConn) {
		t.Error("expected connection change events")
	}
}

func TestPreferences(t *testing.T) {
	_, c := newServerClient(t)
	ctx := context.Background()

	p, err := c.Preferences(ctx)
	if err != nil {
		t.Fatalf("Preferences: %v", err)
	}
	if !p.EmailEnabled || !p.PushEnabled || !p.InAppEnabled {
		t.Errorf("expected default preferences, got %+v", p)
	}

	update := p
	update.PushEnabled = false
	update.MutedTypes = []model.Type{model.TypeLike}
	if err := c.UpdatePreferences(ctx, update); err != nil {
		t.Fatalf("UpdatePreferences: %v", err)
	}

	p, err = c.Preferences(ctx)
	if err != nil {
		t.Fatalf("Preferences after update: %v", err)
	}
	if p.PushEnabled {
		t.Error("expected push channel disabled")
	}
	if !p.IsMuted(model.TypeLike) {
		t.Error("expected likes muted")
	}

	// Preferences are mirrored into the offline cache.
	cached, err := c.cache.Preferences(ctx)
	if err != nil {
		t.Fatalf("cache.Preferences: %v", err)
	}
	if cached.PushEnabled {
		t.Error("expected cached preferences updated")
	}
}
