package devserver

import (
	"sync"

	"github.com/google/uuid"

	"github.com/archohq/notify/internal/model"
)

// hub fans pushed notifications out to each user's open stream connections.
// Subscriber channels are buffered and sends never block: a slow consumer
// loses events, exactly the at-most-once delivery the client is built for.
type hub struct {
	mu sync.RWMutex

	// subscribers maps userID -> subscriberID -> delivery channel.
	subscribers map[string]map[string]chan model.Notification
}

func newHub() *hub {
	return &hub{
		subscribers: make(map[string]map[string]chan model.Notification),
	}
}

// subscribe registers a new stream connection for userID and returns its
// subscriber ID and delivery channel.
func (h *hub) subscribe(userID string) (string, <-chan model.Notification) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := uuid.New().String()
	ch := make(chan model.Notification, 16)

	if h.subscribers[userID] == nil {
		h.subscribers[userID] = make(map[string]chan model.Notification)
	}
	h.subscribers[userID][id] = ch

	return id, ch
}

// unsubscribe removes a stream connection and closes its channel.
func (h *hub) unsubscribe(userID, id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.subscribers[userID]
	if !ok {
		return
	}
	if ch, ok := subs[id]; ok {
		close(ch)
		delete(subs, id)
	}
	if len(subs) == 0 {
		delete(h.subscribers, userID)
	}
}

// broadcast delivers a notification to every open connection of userID.
func (h *hub) broadcast(userID string, n model.Notification) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, ch := range h.subscribers[userID] {
		select {
		case ch <- n:
		default:
		}
	}
}
