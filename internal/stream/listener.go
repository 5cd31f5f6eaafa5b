package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/archohq/notify/internal/api"
	"github.com/archohq/notify/internal/model"
)

// State describes the realtime channel's connection state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateError
)

// String returns the lowercase name of the state.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// maxBackoff caps the reconnect delay between attempts.
const maxBackoff = 30 * time.Second

// Listener consumes the per-user notification event stream
// (GET /notifications/stream, text/event-stream). It owns reconnection:
// on a dropped connection it retries with exponential backoff until
// stopped, reporting every state transition through the state callback.
// Missed events are never replayed here; the sync client's reconciliation
// poll corrects any drift.
type Listener struct {
	url        string
	token      string
	httpClient *http.Client
	log        zerolog.Logger

	onEvent func(model.Notification)
	onState func(State)

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	state   State
}

// New creates a listener for the notification stream of the backend at
// baseURL, authenticated with the given bearer token.
func New(baseURL, token string, log zerolog.Logger) *Listener {
	return &Listener{
		url:   strings.TrimRight(baseURL, "/") + "/notifications/stream",
		token: token,
		// No client timeout: the connection is long-lived and the
		// context controls cancellation.
		httpClient: &http.Client{},
		log:        log,
		state:      StateDisconnected,
	}
}

// OnEvent registers the callback invoked for every notification event.
// It must be set before Start.
func (l *Listener) OnEvent(fn func(model.Notification)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onEvent = fn
}

// OnStateChange registers the callback invoked on every connection state
// transition. It must be set before Start.
func (l *Listener) OnStateChange(fn func(State)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onState = fn
}

// State returns the current connection state.
func (l *Listener) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Start opens the stream in a background goroutine. An absent token means
// "not connected": Start refuses rather than letting the backend reject
// every attempt.
func (l *Listener) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.token == "" {
		return errors.New("no bearer token: not starting stream")
	}
	if l.running {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	l.running = true
	l.cancel = cancel
	l.done = make(chan struct{})

	go l.run(ctx)
	return nil
}

// Stop closes the stream and waits for the background goroutine to exit.
// Safe to call when not running.
func (l *Listener) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.running = false
	cancel := l.cancel
	done := l.done
	l.mu.Unlock()

	cancel()
	<-done
	l.setState(StateDisconnected)
}

// run is the reconnect loop: connect, consume until the connection drops,
// back off, repeat. An auth rejection ends the loop; retrying with the
// same token would never succeed.
func (l *Listener) run(ctx context.Context) {
	defer close(l.done)

	attempt := 0
	for {
		l.setState(StateConnecting)

		connected, err := l.connect(ctx)
		if ctx.Err() != nil {
			l.setState(StateDisconnected)
			return
		}

		if api.IsAuthError(err) {
			l.log.Warn().Err(err).Msg("stream rejected, giving up")
			l.setState(StateError)
			return
		}

		if err != nil {
			l.log.Debug().Err(err).Msg("stream connection failed")
			l.setState(StateError)
		} else {
			l.setState(StateDisconnected)
		}

		if connected {
			// The connection was established and later dropped;
			// start the backoff schedule over.
			attempt = 0
		}

		wait := backoffDuration(attempt)
		attempt++

		select {
		case <-ctx.Done():
			l.setState(StateDisconnected)
			return
		case <-time.After(wait):
		}
	}
}

// connect opens one stream connection and consumes it until it drops.
// The returned bool reports whether the connection was established at all.
func (l *Listener) connect(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.url, nil)
	if err != nil {
		return false, fmt.Errorf("creating stream request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+l.token)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("opening stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized ||
		resp.StatusCode == http.StatusForbidden {
		return false, &api.AuthError{
			StatusCode: resp.StatusCode,
			Message:    "stream authentication rejected",
		}
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return false, fmt.Errorf(
			"unexpected stream status %d: %s", resp.StatusCode, string(body),
		)
	}

	l.setState(StateConnected)
	l.log.Info().Str("url", l.url).Msg("notification stream connected")

	return true, l.consume(ctx, resp.Body)
}

// consume reads SSE frames until the stream ends. Each frame is an
// optional "event:" line followed by "data:" lines and a blank separator;
// ":"-prefixed lines are keepalive comments.
func (l *Listener) consume(ctx context.Context, body io.Reader) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	eventName := ""
	var data strings.Builder

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Text()

		if strings.HasPrefix(line, ":") {
			continue
		}

		if line == "" {
			if data.Len() > 0 {
				l.dispatch(eventName, data.String())
			}
			eventName = ""
			data.Reset()
			continue
		}

		if strings.HasPrefix(line, "event:") {
			eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			continue
		}

		if strings.HasPrefix(line, "data:") {
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("reading stream: %w", err)
	}
	return nil
}

// dispatch parses one completed frame and hands it to the event callback.
func (l *Listener) dispatch(eventName, data string) {
	// The server only emits "notification" events; ignore anything else
	// so future event kinds don't break old clients.
	if eventName != "" && eventName != "notification" {
		return
	}

	var n model.Notification
	if err := json.Unmarshal([]byte(data), &n); err != nil {
		l.log.Warn().Err(err).Msg("dropping malformed stream event")
		return
	}

	l.mu.Lock()
	fn := l.onEvent
	l.mu.Unlock()

	if fn != nil {
		fn(n)
	}
}

// setState records the new state and notifies the state callback if the
// state actually changed.
func (l *Listener) setState(s State) {
	l.mu.Lock()
	if l.state == s {
		l.mu.Unlock()
		return
	}
	l.state = s
	fn := l.onState
	l.mu.Unlock()

	if fn != nil {
		fn(s)
	}
}

// backoffDuration computes the reconnect delay for the given attempt:
// 1s, 2s, 4s, ... capped at maxBackoff, with a little jitter so multiple
// clients don't reconnect in lockstep.
func backoffDuration(attempt int) time.Duration {
	if attempt > 5 {
		attempt = 5
	}
	backoff := time.Duration(1<<uint(attempt)) * time.Second
	if backoff > maxBackoff {
		backoff = maxBackoff
	}
	return backoff + time.Duration(rand.Intn(250))*time.Millisecond
}
