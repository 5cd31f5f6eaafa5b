package stream

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/archohq/notify/internal/model"
)

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestStateString(t *testing.T) {
	cases := map[State]string{
		StateDisconnected: "disconnected",
		StateConnecting:   "connecting",
		StateConnected:    "connected",
		StateError:        "error",
		State(99):         "unknown",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", state, got, want)
		}
	}
}

func TestStartRequiresToken(t *testing.T) {
	l := New("http://localhost", "", zerolog.Nop())
	if err := l.Start(); err == nil {
		t.Error("expected Start to refuse without a token")
	}
}

func TestReceivesNotificationEvents(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != "text/event-stream" {
			t.Errorf("expected event-stream accept header, got %q", r.Header.Get("Accept"))
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher := w.(http.Flusher)

		// Keepalive comment, an unrelated event kind, then a real one.
		fmt.Fprint(w, ": connected\n\n")
		fmt.Fprint(w, "event: heartbeat\ndata: {}\n\n")
		fmt.Fprint(w, "event: notification\ndata: {\"id\":\"n-1\",\"type\":\"message\",\"title\":\"Hello\",\"message\":\"Hi\",\"priority\":\"normal\",\"is_read\":false}\n\n")
		flusher.Flush()

		<-r.Context().Done()
	}))
	defer ts.Close()

	events := make(chan model.Notification, 4)
	l := New(ts.URL, "alice", zerolog.Nop())
	l.OnEvent(func(n model.Notification) { events <- n })

	if err := l.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer l.Stop()

	select {
	case n := <-events:
		if n.ID != "n-1" || n.Title != "Hello" {
			t.Errorf("unexpected event payload: %+v", n)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for notification event")
	}

	select {
	case n := <-events:
		t.Errorf("unexpected extra event: %+v", n)
	default:
	}

	waitFor(t, "connected state", func() bool {
		return l.State() == StateConnected
	})
}

func TestStopDisconnects(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer ts.Close()

	l := New(ts.URL, "alice", zerolog.Nop())
	if err := l.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitFor(t, "connected state", func() bool {
		return l.State() == StateConnected
	})

	l.Stop()
	if got := l.State(); got != StateDisconnected {
		t.Errorf("expected disconnected after Stop, got %v", got)
	}

	// Stop when not running is a no-op.
	l.Stop()
}

func TestAuthRejectionGivesUp(t *testing.T) {
	var requests atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer ts.Close()

	states := make(chan State, 16)
	l := New(ts.URL, "expired", zerolog.Nop())
	l.OnStateChange(func(s State) { states <- s })

	if err := l.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer l.Stop()

	waitFor(t, "error state", func() bool {
		return l.State() == StateError
	})

	// The loop must not keep hammering a backend that rejected the token.
	time.Sleep(100 * time.Millisecond)
	if got := requests.Load(); got != 1 {
		t.Errorf("expected a single attempt after auth rejection, got %d", got)
	}

	sawConnecting := false
	for len(states) > 0 {
		if <-states == StateConnecting {
			sawConnecting = true
		}
	}
	if !sawConnecting {
		t.Error("expected a connecting transition before the rejection")
	}
}

func TestBackoffDuration(t *testing.T) {
	for attempt := 0; attempt < 10; attempt++ {
		d := backoffDuration(attempt)

		base := time.Duration(1<<uint(attempt)) * time.Second
		if base > maxBackoff {
			base = maxBackoff
		}

		if d < base || d > base+250*time.Millisecond {
			t.Errorf("attempt %d: backoff %v outside [%v, %v]",
				attempt, d, base, base+250*time.Millisecond)
		}
	}
}

func TestConsumeMultiLineData(t *testing.T) {
	events := make(chan model.Notification, 1)
	l := New("http://localhost", "alice", zerolog.Nop())
	l.OnEvent(func(n model.Notification) { events <- n })

	// Split the JSON payload across two data lines; the parser joins them.
	l.dispatch("notification",
		"{\"id\":\"n-2\",\"type\":\"review\",\n\"title\":\"Review\",\"priority\":\"high\"}")

	select {
	case n := <-events:
		if n.ID != "n-2" || n.Type != model.TypeReview {
			t.Errorf("unexpected payload: %+v", n)
		}
	default:
		t.Fatal("expected a dispatched event")
	}

	// Malformed payloads are dropped rather than crashing the stream.
	l.dispatch("notification", "{not json")
	select {
	case n := <-events:
		t.Errorf("expected malformed event dropped, got %+v", n)
	default:
	}
}
