package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/archohq/notify/internal/model"
)

// Client is a thin HTTP client for the Archo notification REST API.
// It handles Bearer token authentication, the {success, data, error}
// response envelope, and automatic retry with exponential backoff on
// HTTP 429.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	maxRetries int
	log        zerolog.Logger
}

// NewClient creates a new notification API client. The baseURL should be
// the root URL of the backend (e.g., https://api.archo.example.com). The
// token is the user's bearer token issued by the authentication provider.
func NewClient(baseURL, token string, log zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		maxRetries: 3,
		log:        log,
	}
}

// List retrieves a page of notifications plus the current unread count.
func (c *Client) List(ctx context.Context, filter ListFilter) (*ListResponse, error) {
	q := url.Values{}
	if filter.UnreadOnly {
		q.Set("unread_only", "true")
	}
	if filter.Type != "" {
		q.Set("type", string(filter.Type))
	}
	if filter.Limit > 0 {
		q.Set("limit", strconv.Itoa(filter.Limit))
	}
	if filter.Offset > 0 {
		q.Set("offset", strconv.Itoa(filter.Offset))
	}

	path := "/notifications"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var res ListResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// UnreadCount fetches only the scalar unread count. It backs the periodic
// reconciliation poll, so it is deliberately the cheapest call the API has.
func (c *Client) UnreadCount(ctx context.Context) (int, error) {
	var res unreadCountData
	if err := c.do(ctx, http.MethodGet, "/notifications/unread-count", nil, &res); err != nil {
		return 0, err
	}
	return res.UnreadCount, nil
}

// MarkRead marks a single notification as read.
func (c *Client) MarkRead(ctx context.Context, id string) error {
	path := fmt.Sprintf("/notifications/%s/read", url.PathEscape(id))
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

// MarkAllRead marks every notification of the current user as read.
func (c *Client) MarkAllRead(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/notifications/mark-all-read", nil, nil)
}

// Delete permanently removes a notification.
func (c *Client) Delete(ctx context.Context, id string) error {
	path := "/notifications/" + url.PathEscape(id)
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// Preferences fetches the user's notification preferences.
func (c *Client) Preferences(ctx context.Context) (*model.Preferences, error) {
	var p model.Preferences
	if err := c.do(ctx, http.MethodGet, "/notifications/preferences", nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// UpdatePreferences replaces the user's notification preferences wholesale.
func (c *Client) UpdatePreferences(ctx context.Context, p model.Preferences) error {
	return c.do(ctx, http.MethodPut, "/notifications/preferences", p, nil)
}

// CreateTest asks the backend to create a test notification for the current
// user. Development convenience only.
func (c *Client) CreateTest(ctx context.Context) (*model.Notification, error) {
	var n model.Notification
	if err := c.do(ctx, http.MethodPost, "/notifications/test", nil, &n); err != nil {
		return nil, err
	}
	return &n, nil
}

// do is the core HTTP method that builds the request, handles auth, rate
// limiting with exponential backoff, the response envelope, and JSON
// (de)serialization. result, when non-nil, receives the envelope's data.
func (c *Client) do(
	ctx context.Context,
	method string,
	path string,
	body interface{},
	result interface{},
) error {
	reqURL := c.baseURL + path

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		// Rebuild the body reader on retries since it was consumed.
		if attempt > 0 && body != nil {
			data, _ := json.Marshal(body)
			bodyReader = bytes.NewReader(data)
		}

		req, err := http.NewRequestWithContext(ctx, method, reqURL, bodyReader)
		if err != nil {
			return fmt.Errorf("creating request: %w", err)
		}

		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("executing request %s %s: %w", method, path, err)
		}

		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return fmt.Errorf("reading response body: %w", readErr)
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			waitDuration := retryAfterDuration(resp, attempt)
			lastErr = fmt.Errorf("rate limited (429) on %s %s", method, path)

			c.log.Debug().
				Str("method", method).
				Str("path", path).
				Dur("wait", waitDuration).
				Msg("rate limited, backing off")

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(waitDuration):
				continue
			}
		}

		if resp.StatusCode == http.StatusUnauthorized ||
			resp.StatusCode == http.StatusForbidden {
			msg := envelopeError(respBody)
			if msg == "" {
				msg = "bearer token rejected"
			}
			return &AuthError{StatusCode: resp.StatusCode, Message: msg}
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			if msg := envelopeError(respBody); msg != "" {
				return &StatusError{StatusCode: resp.StatusCode, Message: msg}
			}
			return fmt.Errorf(
				"unexpected status %d on %s %s: %s",
				resp.StatusCode, method, path, string(respBody),
			)
		}

		// No content to parse (e.g. 204).
		if resp.StatusCode == http.StatusNoContent {
			return nil
		}

		var env Envelope
		if err := json.Unmarshal(respBody, &env); err != nil {
			return fmt.Errorf(
				"unmarshaling response from %s %s: %w", method, path, err,
			)
		}

		if !env.Success {
			return &StatusError{StatusCode: resp.StatusCode, Message: env.Error}
		}

		if result == nil || len(env.Data) == 0 {
			return nil
		}

		if err := json.Unmarshal(env.Data, result); err != nil {
			return fmt.Errorf(
				"unmarshaling data from %s %s: %w", method, path, err,
			)
		}

		return nil
	}

	return fmt.Errorf("max retries (%d) exceeded: %w", c.maxRetries, lastErr)
}

// envelopeError extracts the error string from an envelope body, if the body
// is a well-formed envelope.
func envelopeError(body []byte) string {
	var env Envelope
	if json.Unmarshal(body, &env) != nil {
		return ""
	}
	return env.Error
}

// retryAfterDuration reads the Retry-After header and computes a wait
// duration. Falls back to exponential backoff if the header is missing.
func retryAfterDuration(resp *http.Response, attempt int) time.Duration {
	if header := resp.Header.Get("Retry-After"); header != "" {
		if seconds, err := strconv.Atoi(header); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}

	// Exponential backoff: 1s, 2s, 4s, ...
	backoff := time.Duration(1<<uint(attempt)) * time.Second
	if backoff > 30*time.Second {
		backoff = 30 * time.Second
	}
	return backoff
}
