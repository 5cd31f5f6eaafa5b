// Package devserver is an in-memory reference implementation of the Archo
// notification backend: the REST endpoints plus the per-user SSE stream.
// It exists for integration tests and for demoing the terminal client
// without a real deployment; bearer tokens are treated as opaque user IDs.
package devserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/archohq/notify/internal/api"
	"github.com/archohq/notify/internal/model"
)

// pingInterval is how often SSE keepalive comments are sent.
const pingInterval = 15 * time.Second

type ctxKey int

const userKey ctxKey = 0

// withUser attaches the authenticated user ID to the request context.
func withUser(ctx context.Context, user string) context.Context {
	return context.WithValue(ctx, userKey, user)
}

// userFrom reads the authenticated user ID set by the auth middleware.
func userFrom(r *http.Request) string {
	user, _ := r.Context().Value(userKey).(string)
	return user
}

// Server holds per-user notification state behind the reference API.
type Server struct {
	mu     sync.Mutex
	byUser map[string][]model.Notification // newest first
	prefs  map[string]model.Preferences

	hub    *hub
	log    zerolog.Logger
	router chi.Router
}

// New creates an empty dev server.
func New(log zerolog.Logger) *Server {
	s := &Server{
		byUser: make(map[string][]model.Notification),
		prefs:  make(map[string]model.Preferences),
		hub:    newHub(),
		log:    log,
	}

	r := chi.NewRouter()
	r.Use(s.auth)

	r.Route("/notifications", func(r chi.Router) {
		r.Get("/", s.handleList)
		r.Get("/unread-count", s.handleUnreadCount)
		r.Post("/mark-all-read", s.handleMarkAllRead)
		r.Post("/{id}/read", s.handleMarkRead)
		r.Delete("/{id}", s.handleDelete)
		r.Get("/preferences", s.handleGetPreferences)
		r.Put("/preferences", s.handlePutPreferences)
		r.Post("/test", s.handleTest)
		r.Get("/stream", s.handleStream)
	})

	s.router = r
	return s
}

// Handler returns the HTTP handler for the reference API.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Seed replaces a user's notifications, newest first. Test/demo setup only;
// nothing is broadcast.
func (s *Server) Seed(userID string, notifications []model.Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byUser[userID] = append([]model.Notification(nil), notifications...)
}

// Publish stores a new notification for userID and broadcasts it to the
// user's open streams. Missing ID, priority, or timestamp are filled in.
func (s *Server) Publish(userID string, n model.Notification) model.Notification {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.Priority == "" {
		n.Priority = model.PriorityNormal
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	s.byUser[userID] = append([]model.Notification{n}, s.byUser[userID]...)
	s.mu.Unlock()

	s.hub.broadcast(userID, n)
	return n
}

// auth resolves the bearer token to a user ID. A missing or empty token is
// an authorization failure, mirroring the production backend's behavior.
func (s *Server) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token := strings.TrimPrefix(header, "Bearer ")
		if header == "" || token == header || token == "" {
			writeErr(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		ctx := r.Context()
		next.ServeHTTP(w, r.WithContext(withUser(ctx, token)))
	})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)
	q := r.URL.Query()

	unreadOnly := q.Get("unread_only") == "true"
	typeFilter := model.Type(q.Get("type"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	s.mu.Lock()
	all := s.byUser[user]
	unread := 0
	filtered := make([]model.Notification, 0, len(all))
	for _, n := range all {
		if !n.IsRead {
			unread++
		}
		if unreadOnly && n.IsRead {
			continue
		}
		if typeFilter != "" && n.Type != typeFilter {
			continue
		}
		filtered = append(filtered, n)
	}
	s.mu.Unlock()

	if offset > len(filtered) {
		offset = len(filtered)
	}
	filtered = filtered[offset:]
	if limit > 0 && limit < len(filtered) {
		filtered = filtered[:limit]
	}

	writeData(w, http.StatusOK, api.ListResponse{
		Notifications: filtered,
		UnreadCount:   unread,
	})
}

func (s *Server) handleUnreadCount(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)

	s.mu.Lock()
	count := 0
	for _, n := range s.byUser[user] {
		if !n.IsRead {
			count++
		}
	}
	s.mu.Unlock()

	writeData(w, http.StatusOK, map[string]int{"unread_count": count})
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)
	id := chi.URLParam(r, "id")

	s.mu.Lock()
	found := false
	list := s.byUser[user]
	for i := range list {
		if list[i].ID == id {
			list[i].IsRead = true
			found = true
			break
		}
	}
	s.mu.Unlock()

	if !found {
		writeErr(w, http.StatusNotFound, "notification not found")
		return
	}
	writeData(w, http.StatusOK, nil)
}

func (s *Server) handleMarkAllRead(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)

	s.mu.Lock()
	list := s.byUser[user]
	for i := range list {
		list[i].IsRead = true
	}
	s.mu.Unlock()

	writeData(w, http.StatusOK, nil)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)
	id := chi.URLParam(r, "id")

	s.mu.Lock()
	found := false
	list := s.byUser[user]
	for i := range list {
		if list[i].ID == id {
			s.byUser[user] = append(list[:i], list[i+1:]...)
			found = true
			break
		}
	}
	s.mu.Unlock()

	if !found {
		writeErr(w, http.StatusNotFound, "notification not found")
		return
	}
	writeData(w, http.StatusOK, nil)
}

func (s *Server) handleGetPreferences(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)

	s.mu.Lock()
	p, ok := s.prefs[user]
	if !ok {
		p = model.DefaultPreferences()
	}
	s.mu.Unlock()

	writeData(w, http.StatusOK, p)
}

func (s *Server) handlePutPreferences(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)

	var p model.Preferences
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeErr(w, http.StatusBadRequest, "malformed preferences body")
		return
	}

	s.mu.Lock()
	s.prefs[user] = p
	s.mu.Unlock()

	writeData(w, http.StatusOK, p)
}

// handleTest creates a randomized notification for the caller and pushes it
// through the stream. Development convenience only.
func (s *Server) handleTest(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)

	n := s.Publish(user, TestNotification())
	writeData(w, http.StatusOK, n)
}

// handleStream serves the per-user SSE channel.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeErr(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	subID, ch := s.hub.subscribe(user)
	defer s.hub.unsubscribe(user, subID)

	s.log.Debug().Str("user", user).Str("sub", subID).Msg("stream opened")

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			s.log.Debug().Str("user", user).Str("sub", subID).Msg("stream closed")
			return
		case <-ping.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case n, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(n)
			if err != nil {
				s.log.Error().Err(err).Msg("marshaling stream event")
				continue
			}
			fmt.Fprintf(w, "event: notification\ndata: %s\n\n", data)
			flusher.Flush()
		}
	}
}

// TestNotification builds a plausible marketplace notification. The ID and
// timestamp are assigned by Publish.
func TestNotification() model.Notification {
	samples := []model.Notification{
		{
			Type:     model.TypeMessage,
			Title:    "New message",
			Message:  "Dana Architects sent you a message about the loft conversion.",
			Priority: model.PriorityNormal,
			RelatedUser: &model.RelatedUser{
				ID:          "u-dana",
				DisplayName: "Dana Architects",
			},
		},
		{
			Type:       model.TypeJobApplication,
			Title:      "New application",
			Message:    "An architect applied to your courtyard renovation posting.",
			Priority:   model.PriorityHigh,
			ActionURL:  "/jobs/courtyard-renovation/applications",
			ActionText: "Review application",
		},
		{
			Type:     model.TypePaymentSuccess,
			Title:    "Payment received",
			Message:  "Milestone 2 payment of $4,200 cleared.",
			Priority: model.PriorityNormal,
		},
		{
			Type:     model.TypeSystemAnnouncement,
			Title:    "Scheduled maintenance",
			Message:  "The marketplace will be read-only on Sunday 02:00-03:00 UTC.",
			Priority: model.PriorityLow,
		},
	}

	n := samples[int(time.Now().UnixNano())%len(samples)]
	return n
}

// writeData writes a success envelope with the given payload.
func writeData(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	env := api.Envelope{Success: true}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			s := `{"success":false,"error":"encoding response"}`
			fmt.Fprint(w, s)
			return
		}
		env.Data = raw
	}
	json.NewEncoder(w).Encode(env)
}

// writeErr writes a failure envelope with the given message.
func writeErr(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(api.Envelope{Success: false, Error: msg})
}
