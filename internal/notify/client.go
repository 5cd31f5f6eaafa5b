// Package notify implements the notification sync client: a locally
// observable, continuously updated view of the current user's notifications
// and unread count, kept consistent with the Archo backend through an
// initial bulk load, a realtime event stream, user-driven mutations, and a
// periodic reconciliation poll.
//
// The client is an explicit, constructed object. Whatever owns the
// authentication lifetime (the app's composition root) creates it on login
// and tears it down on logout; nothing here is module-global.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/archohq/notify/internal/api"
	"github.com/archohq/notify/internal/model"
	"github.com/archohq/notify/internal/store"
	"github.com/archohq/notify/internal/stream"
)

// ChangeKind labels what part of the client's state a ChangeEvent reflects.
type ChangeKind int

const (
	// ChangeLoaded: a full reload replaced the notification list.
	ChangeLoaded ChangeKind = iota
	// ChangeNew: a push event prepended a notification.
	ChangeNew
	// ChangeRead: a single notification was marked read.
	ChangeRead
	// ChangeAllRead: every notification was marked read.
	ChangeAllRead
	// ChangeDeleted: a notification was removed (or restored after a
	// failed optimistic delete).
	ChangeDeleted
	// ChangeCount: the reconciliation poll updated the unread count.
	ChangeCount
	// ChangeConn: the stream connection state moved.
	ChangeConn
	// ChangePrefs: preferences were fetched or updated.
	ChangePrefs
)

// ChangeEvent is delivered on the Changes feed whenever observable state
// moves. Consumers re-read state through the accessors; only pushes carry
// a payload.
type ChangeEvent struct {
	Kind ChangeKind

	// New is the pushed notification for ChangeNew events.
	New *model.Notification
}

// defaultPollInterval is how often the unread count is reconciled with the
// server when no interval is configured.
const defaultPollInterval = 60 * time.Second

// mutationTimeout bounds the internal reconciliation poll's requests.
const mutationTimeout = 10 * time.Second

// Client is the notification sync client. All exported methods are safe for
// concurrent use; state is guarded by a single mutex, the Go rendition of
// the browser's single-threaded event loop.
//
// The local list is an eventually-consistent cache of the server's view: a
// Load response landing after a newer push event overwrites it (last writer
// wins). That race is accepted; the reconciliation poll corrects the unread
// badge within one interval and the next reload restores the list.
type Client struct {
	api          *api.Client
	listener     *stream.Listener
	cache        *store.Cache
	log          zerolog.Logger
	pollInterval time.Duration

	mu            sync.Mutex
	notifications []model.Notification
	unreadCount   int
	connState     stream.State
	prefs         *model.Preferences
	lastErr       string
	onNew         func(model.Notification)

	// gen is bumped by Reset; in-flight responses from before the bump
	// are dropped instead of resurrecting cleared state.
	gen int

	running bool
	stopCh  chan struct{}

	changes chan ChangeEvent
}

// New creates a sync client. listener and cache may be nil: without a
// listener the client works in poll-only mode, without a cache there is no
// offline view. pollInterval <= 0 selects the default.
func New(
	apiClient *api.Client,
	listener *stream.Listener,
	cache *store.Cache,
	pollInterval time.Duration,
	log zerolog.Logger,
) *Client {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	c := &Client{
		api:          apiClient,
		listener:     listener,
		cache:        cache,
		log:          log,
		pollInterval: pollInterval,
		connState:    stream.StateDisconnected,
		changes:      make(chan ChangeEvent, 32),
	}

	if listener != nil {
		listener.OnEvent(c.ingest)
		listener.OnStateChange(c.setConnState)
	}

	return c
}

// Changes returns the feed of state-change events. The feed is buffered and
// lossy: when a consumer falls behind, events are dropped rather than
// blocking sync. Consumers must treat an event as "state moved, re-read it".
func (c *Client) Changes() <-chan ChangeEvent {
	return c.changes
}

// Start opens the event stream and the reconciliation poll. Called by the
// composition root when authentication becomes available.
func (c *Client) Start() {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.stopCh = make(chan struct{})
	stopCh := c.stopCh
	c.mu.Unlock()

	if c.listener != nil {
		if err := c.listener.Start(); err != nil {
			c.log.Warn().Err(err).Msg("event stream unavailable, poll-only mode")
		}
	}

	go c.pollLoop(stopCh)
}

// Stop closes the event stream and the reconciliation poll. In-flight
// requests are not cancelled; their late responses are applied unless Reset
// has cleared the session in between.
func (c *Client) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	close(c.stopCh)
	c.mu.Unlock()

	if c.listener != nil {
		c.listener.Stop()
	}
}

// Reset stops the client and clears all local state, including the offline
// cache. Used on logout and on authorization failure: a signed-out terminal
// must not keep showing another session's notifications.
func (c *Client) Reset() {
	c.Stop()

	c.mu.Lock()
	c.gen++
	c.notifications = nil
	c.unreadCount = 0
	c.prefs = nil
	c.lastErr = ""
	c.connState = stream.StateDisconnected
	c.mu.Unlock()

	if c.cache != nil {
		ctx, cancel := context.WithTimeout(context.Background(), mutationTimeout)
		defer cancel()
		if err := c.cache.ReplaceAll(ctx, nil); err != nil {
			c.log.Warn().Err(err).Msg("clearing offline cache failed")
		}
	}

	c.emit(ChangeEvent{Kind: ChangeLoaded})
}

// WarmStart populates state from the offline cache so the inbox renders
// before the first network round trip. No-op without a cache.
func (c *Client) WarmStart(ctx context.Context) {
	if c.cache == nil {
		return
	}

	cached, err := c.cache.All(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("reading offline cache failed")
		return
	}
	if len(cached) == 0 {
		return
	}

	unread := 0
	for _, n := range cached {
		if !n.IsRead {
			unread++
		}
	}

	var prefs *model.Preferences
	if p, err := c.cache.Preferences(ctx); err == nil {
		prefs = p
	}

	c.mu.Lock()
	c.notifications = cached
	c.unreadCount = unread
	if prefs != nil {
		c.prefs = prefs
	}
	c.mu.Unlock()

	c.emit(ChangeEvent{Kind: ChangeLoaded})
}

// Load replaces the notification list and unread count with the server's
// current view for the given filter. This is always a full replace, never a
// merge, so a client that was offline cannot diverge. On failure the prior
// state is kept and the error is recorded.
func (c *Client) Load(ctx context.Context, filter api.ListFilter) error {
	gen := c.generation()

	res, err := c.api.List(ctx, filter)
	if err != nil {
		c.recordErr(gen, err)
		return err
	}

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return nil
	}
	c.notifications = res.Notifications
	c.unreadCount = res.UnreadCount
	c.lastErr = ""
	c.mu.Unlock()

	c.persistReplace(res.Notifications)
	c.emit(ChangeEvent{Kind: ChangeLoaded})
	return nil
}

// RefreshUnreadCount fetches only the scalar unread count and overwrites
// the local one. This is the reconciliation fallback that keeps the badge
// approximately correct even when the stream silently drops.
func (c *Client) RefreshUnreadCount(ctx context.Context) error {
	gen := c.generation()

	count, err := c.api.UnreadCount(ctx)
	if err != nil {
		c.recordErr(gen, err)
		return err
	}

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return nil
	}
	changed := c.unreadCount != count
	c.unreadCount = count
	c.lastErr = ""
	c.mu.Unlock()

	if changed {
		c.emit(ChangeEvent{Kind: ChangeCount})
	}
	return nil
}

// MarkAsRead marks one notification read on the server, then mirrors the
// change locally: the matching entry (if loaded) is flipped and the unread
// count drops by at most one, clamped at zero. Marking an already-read
// entry is a no-op for the count, so double-invocation cannot drift it.
// There is no optimistic change here, hence no rollback path.
func (c *Client) MarkAsRead(ctx context.Context, id string) error {
	gen := c.generation()

	if err := c.api.MarkRead(ctx, id); err != nil {
		c.recordErr(gen, err)
		return err
	}

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return nil
	}
	idx := c.indexOf(id)
	alreadyRead := idx >= 0 && c.notifications[idx].IsRead
	if !alreadyRead {
		if idx >= 0 {
			c.notifications[idx].IsRead = true
		}
		if c.unreadCount > 0 {
			c.unreadCount--
		}
	}
	c.lastErr = ""
	c.mu.Unlock()

	if c.cache != nil {
		if err := c.cache.MarkRead(ctx, id); err != nil {
			c.log.Warn().Err(err).Msg("caching mark-read failed")
		}
	}

	c.emit(ChangeEvent{Kind: ChangeRead})
	return nil
}

// MarkAllAsRead marks everything read with a single bulk call, then applies
// one atomic local update (every entry read, count zero) so observers see a
// single change instead of N.
func (c *Client) MarkAllAsRead(ctx context.Context) error {
	gen := c.generation()

	if err := c.api.MarkAllRead(ctx); err != nil {
		c.recordErr(gen, err)
		return err
	}

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return nil
	}
	for i := range c.notifications {
		c.notifications[i].IsRead = true
	}
	c.unreadCount = 0
	c.lastErr = ""
	c.mu.Unlock()

	if c.cache != nil {
		if err := c.cache.MarkAllRead(ctx); err != nil {
			c.log.Warn().Err(err).Msg("caching mark-all-read failed")
		}
	}

	c.emit(ChangeEvent{Kind: ChangeAllRead})
	return nil
}

// Delete removes a notification optimistically: the entry disappears from
// the local list (and the count adjusts) before the server confirms,
// because deletion feels broken when it waits for a round trip. On failure
// the pre-mutation snapshot is restored exactly and the error surfaced.
func (c *Client) Delete(ctx context.Context, id string) error {
	c.mu.Lock()
	gen := c.gen
	prev := make([]model.Notification, len(c.notifications))
	copy(prev, c.notifications)
	prevCount := c.unreadCount

	if idx := c.indexOf(id); idx >= 0 {
		if !c.notifications[idx].IsRead && c.unreadCount > 0 {
			c.unreadCount--
		}
		c.notifications = append(
			c.notifications[:idx], c.notifications[idx+1:]...,
		)
	}
	c.mu.Unlock()

	c.emit(ChangeEvent{Kind: ChangeDeleted})

	if err := c.api.Delete(ctx, id); err != nil {
		c.mu.Lock()
		if gen == c.gen {
			c.notifications = prev
			c.unreadCount = prevCount
			c.lastErr = err.Error()
		}
		c.mu.Unlock()
		c.emit(ChangeEvent{Kind: ChangeDeleted})
		return err
	}

	c.mu.Lock()
	if gen == c.gen {
		c.lastErr = ""
	}
	c.mu.Unlock()

	if c.cache != nil {
		if err := c.cache.Delete(ctx, id); err != nil {
			c.log.Warn().Err(err).Msg("caching delete failed")
		}
	}

	return nil
}

// Preferences returns the user's notification preferences, fetching them
// from the server on first use.
func (c *Client) Preferences(ctx context.Context) (model.Preferences, error) {
	c.mu.Lock()
	if c.prefs != nil {
		p := *c.prefs
		c.mu.Unlock()
		return p, nil
	}
	gen := c.gen
	c.mu.Unlock()

	p, err := c.api.Preferences(ctx)
	if err != nil {
		c.recordErr(gen, err)
		return model.Preferences{}, err
	}

	c.mu.Lock()
	if gen == c.gen {
		c.prefs = p
		c.lastErr = ""
	}
	c.mu.Unlock()

	c.persistPrefs(ctx, *p)
	c.emit(ChangeEvent{Kind: ChangePrefs})
	return *p, nil
}

// UpdatePreferences replaces the preferences wholesale on the server and
// mirrors them locally on success.
func (c *Client) UpdatePreferences(ctx context.Context, p model.Preferences) error {
	gen := c.generation()

	if err := c.api.UpdatePreferences(ctx, p); err != nil {
		c.recordErr(gen, err)
		return err
	}

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return nil
	}
	prefs := p
	c.prefs = &prefs
	c.lastErr = ""
	c.mu.Unlock()

	c.persistPrefs(ctx, p)
	c.emit(ChangeEvent{Kind: ChangePrefs})
	return nil
}

// OnNewNotification registers the callback invoked after a push event is
// ingested. The slot holds at most one callback: a second registration
// silently replaces the first.
func (c *Client) OnNewNotification(fn func(model.Notification)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onNew = fn
}

// OffNewNotification clears the callback slot.
func (c *Client) OffNewNotification() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onNew = nil
}

// Snapshot returns a copy of the current notification list, newest first.
func (c *Client) Snapshot() []model.Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.Notification, len(c.notifications))
	copy(out, c.notifications)
	return out
}

// UnreadCount returns the current unread badge value.
func (c *Client) UnreadCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unreadCount
}

// ConnState returns the realtime channel's connection state as last
// reported by the transport.
func (c *Client) ConnState() stream.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connState
}

// LastError returns the human-readable message of the most recent failure,
// or "" after the last operation succeeded.
func (c *Client) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// ingest applies one pushed notification: prepend (events arrive roughly in
// creation order, so no re-sort), bump the count if unread, fire the
// callback slot. Events for IDs already held locally are dropped; the
// design never delivers updates as pushes, so a duplicate ID is a replay.
func (c *Client) ingest(n model.Notification) {
	c.mu.Lock()
	if c.indexOf(n.ID) >= 0 {
		c.mu.Unlock()
		return
	}
	c.notifications = append([]model.Notification{n}, c.notifications...)
	if !n.IsRead {
		c.unreadCount++
	}
	fn := c.onNew
	c.mu.Unlock()

	if c.cache != nil {
		ctx, cancel := context.WithTimeout(context.Background(), mutationTimeout)
		if err := c.cache.Insert(ctx, n); err != nil {
			c.log.Warn().Err(err).Msg("caching pushed notification failed")
		}
		cancel()
	}

	if fn != nil {
		fn(n)
	}

	c.emit(ChangeEvent{Kind: ChangeNew, New: &n})
}

// setConnState mirrors the transport's reported state. A disconnect only
// moves the indicator; notification data stays untouched.
func (c *Client) setConnState(s stream.State) {
	c.mu.Lock()
	c.connState = s
	c.mu.Unlock()
	c.emit(ChangeEvent{Kind: ChangeConn})
}

// pollLoop reconciles the unread count on a fixed interval until stopped.
func (c *Client) pollLoop(stopCh <-chan struct{}) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(
				context.Background(), mutationTimeout,
			)
			if err := c.RefreshUnreadCount(ctx); err != nil {
				c.log.Debug().Err(err).Msg("unread count reconciliation failed")
			}
			cancel()
		}
	}
}

// indexOf returns the position of the notification with the given ID, or
// -1. Caller must hold c.mu.
func (c *Client) indexOf(id string) int {
	for i := range c.notifications {
		if c.notifications[i].ID == id {
			return i
		}
	}
	return -1
}

// generation reads the current session generation.
func (c *Client) generation() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

// recordErr stores a failure message unless the session was reset while the
// request was in flight.
func (c *Client) recordErr(gen int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen == c.gen {
		c.lastErr = err.Error()
	}
}

// persistReplace mirrors a full reload into the offline cache, best effort.
func (c *Client) persistReplace(notifications []model.Notification) {
	if c.cache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), mutationTimeout)
	defer cancel()
	if err := c.cache.ReplaceAll(ctx, notifications); err != nil {
		c.log.Warn().Err(err).Msg("writing offline cache failed")
	}
}

// persistPrefs mirrors preferences into the offline cache, best effort.
func (c *Client) persistPrefs(ctx context.Context, p model.Preferences) {
	if c.cache == nil {
		return
	}
	if err := c.cache.SavePreferences(ctx, p); err != nil {
		c.log.Warn().Err(err).Msg("caching preferences failed")
	}
}

// emit delivers a change event without blocking; a full feed drops the
// event, consumers re-read state anyway.
func (c *Client) emit(ev ChangeEvent) {
	select {
	case c.changes <- ev:
	default:
	}
}
