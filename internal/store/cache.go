package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/archohq/notify/internal/model"
)

// ErrNotCached is returned when the cache holds no value for a lookup.
var ErrNotCached = errors.New("not cached")

// Cache is the local SQLite mirror of the last server-confirmed notification
// view. It lets the inbox render instantly on startup and degrade to a
// read-only offline view; the server stays the source of truth and every
// write here is best-effort.
type Cache struct {
	db *sqlx.DB
}

// NewCache opens (or creates) a SQLite database at dbPath, enables WAL mode,
// and runs any pending schema migrations. Use ":memory:" for tests.
func NewCache(dbPath string) (*Cache, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// A single connection: writes are serialized anyway, and ":memory:"
	// databases are per-connection.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	c := &Cache{db: db}
	if err := c.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return c, nil
}

// Close closes the underlying database connection.
func (c *Cache) Close() error {
	return c.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (c *Cache) runMigrations() error {
	currentVersion := 0

	// Check if schema_version table exists.
	var tableCount int
	err := c.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = c.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := c.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// notificationRow is the flat sqlite representation of a notification.
type notificationRow struct {
	ID          string    `db:"id"`
	Type        string    `db:"type"`
	Title       string    `db:"title"`
	Message     string    `db:"message"`
	Priority    string    `db:"priority"`
	IsRead      bool      `db:"is_read"`
	ActionURL   string    `db:"action_url"`
	ActionText  string    `db:"action_text"`
	CreatedAt   time.Time `db:"created_at"`
	RelatedUser string    `db:"related_user"`
}

// toModel converts a row back into the domain type.
func (r notificationRow) toModel() (model.Notification, error) {
	n := model.Notification{
		ID:         r.ID,
		Type:       model.Type(r.Type),
		Title:      r.Title,
		Message:    r.Message,
		Priority:   model.Priority(r.Priority),
		IsRead:     r.IsRead,
		ActionURL:  r.ActionURL,
		ActionText: r.ActionText,
		CreatedAt:  r.CreatedAt,
	}
	if r.RelatedUser != "" {
		var ru model.RelatedUser
		if err := json.Unmarshal([]byte(r.RelatedUser), &ru); err != nil {
			return n, fmt.Errorf("unmarshaling related_user for %s: %w", r.ID, err)
		}
		n.RelatedUser = &ru
	}
	return n, nil
}

// ReplaceAll atomically swaps the cached notification list for the given
// one. Used after every successful full reload.
func (c *Cache) ReplaceAll(ctx context.Context, notifications []model.Notification) error {
	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM notifications"); err != nil {
		return fmt.Errorf("clearing notifications: %w", err)
	}

	const query = `
		INSERT INTO notifications (
			id, type, title, message, priority,
			is_read, action_url, action_text, created_at, related_user
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	stmt, err := tx.PreparexContext(ctx, query)
	if err != nil {
		return fmt.Errorf("preparing insert statement: %w", err)
	}
	defer stmt.Close()

	for _, n := range notifications {
		relatedUser := ""
		if n.RelatedUser != nil {
			data, err := json.Marshal(n.RelatedUser)
			if err != nil {
				return fmt.Errorf("marshaling related_user for %s: %w", n.ID, err)
			}
			relatedUser = string(data)
		}

		_, err = stmt.ExecContext(ctx,
			n.ID, string(n.Type), n.Title, n.Message, string(n.Priority),
			n.IsRead, n.ActionURL, n.ActionText, n.CreatedAt.UTC(), relatedUser,
		)
		if err != nil {
			return fmt.Errorf("inserting notification %s: %w", n.ID, err)
		}
	}

	return tx.Commit()
}

// Insert adds a single notification, typically one that arrived over the
// event stream. An existing row with the same ID is left untouched.
func (c *Cache) Insert(ctx context.Context, n model.Notification) error {
	relatedUser := ""
	if n.RelatedUser != nil {
		data, err := json.Marshal(n.RelatedUser)
		if err != nil {
			return fmt.Errorf("marshaling related_user for %s: %w", n.ID, err)
		}
		relatedUser = string(data)
	}

	_, err := c.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO notifications (
			id, type, title, message, priority,
			is_read, action_url, action_text, created_at, related_user
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, string(n.Type), n.Title, n.Message, string(n.Priority),
		n.IsRead, n.ActionURL, n.ActionText, n.CreatedAt.UTC(), relatedUser,
	)
	if err != nil {
		return fmt.Errorf("inserting notification %s: %w", n.ID, err)
	}
	return nil
}

// All returns every cached notification, newest first.
func (c *Cache) All(ctx context.Context) ([]model.Notification, error) {
	var rows []notificationRow
	err := c.db.SelectContext(ctx, &rows,
		"SELECT * FROM notifications ORDER BY created_at DESC, id DESC")
	if err != nil {
		return nil, fmt.Errorf("querying notifications: %w", err)
	}

	notifications := make([]model.Notification, 0, len(rows))
	for _, r := range rows {
		n, err := r.toModel()
		if err != nil {
			return nil, err
		}
		notifications = append(notifications, n)
	}
	return notifications, nil
}

// MarkRead flips is_read for a single cached notification.
func (c *Cache) MarkRead(ctx context.Context, id string) error {
	_, err := c.db.ExecContext(ctx,
		"UPDATE notifications SET is_read = 1 WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("marking notification %s read: %w", id, err)
	}
	return nil
}

// MarkAllRead flips is_read for every cached notification.
func (c *Cache) MarkAllRead(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, "UPDATE notifications SET is_read = 1"); err != nil {
		return fmt.Errorf("marking all notifications read: %w", err)
	}
	return nil
}

// Delete removes a single cached notification.
func (c *Cache) Delete(ctx context.Context, id string) error {
	if _, err := c.db.ExecContext(ctx, "DELETE FROM notifications WHERE id = ?", id); err != nil {
		return fmt.Errorf("deleting notification %s: %w", id, err)
	}
	return nil
}

// UnreadCount returns the number of cached unread notifications.
func (c *Cache) UnreadCount(ctx context.Context) (int, error) {
	var count int
	err := c.db.GetContext(ctx, &count,
		"SELECT COUNT(*) FROM notifications WHERE is_read = 0")
	if err != nil {
		return 0, fmt.Errorf("counting unread notifications: %w", err)
	}
	return count, nil
}

// SavePreferences stores the preferences snapshot, replacing any prior one.
func (c *Cache) SavePreferences(ctx context.Context, p model.Preferences) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshaling preferences: %w", err)
	}

	_, err = c.db.ExecContext(ctx, `
		INSERT INTO preferences (id, body, updated_at) VALUES (1, ?, ?)
		ON CONFLICT (id) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`,
		string(body), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("saving preferences: %w", err)
	}
	return nil
}

// Preferences returns the cached preferences snapshot, or ErrNotCached when
// none has been saved yet.
func (c *Cache) Preferences(ctx context.Context) (*model.Preferences, error) {
	var body string
	err := c.db.GetContext(ctx, &body, "SELECT body FROM preferences WHERE id = 1")
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotCached
	}
	if err != nil {
		return nil, fmt.Errorf("reading preferences: %w", err)
	}

	var p model.Preferences
	if err := json.Unmarshal([]byte(body), &p); err != nil {
		return nil, fmt.Errorf("unmarshaling preferences: %w", err)
	}
	return &p, nil
}
